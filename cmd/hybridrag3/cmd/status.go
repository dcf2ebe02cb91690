package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/hybridrag3/internal/output"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report boot state: offline/online availability, warnings, and errors",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			w := output.New(os.Stdout)

			eng, err := buildEngine(ctx)
			if eng != nil {
				defer eng.Close()
			}
			w.Status("", eng.boot.Summary())
			for _, wmsg := range eng.boot.Warnings {
				w.Warning(wmsg)
			}
			for _, emsg := range eng.boot.Errors {
				w.Error(emsg)
			}
			if err != nil {
				os.Exit(ExitConfig)
			}
			if !eng.boot.Success {
				os.Exit(ExitBackendDown)
			}
			return nil
		},
	}
}
