package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/hybridrag3/internal/guard"
	"github.com/Aman-CERP/hybridrag3/internal/output"
)

// newDiagCmd runs the boot pipeline plus the guard's built-in, no-network
// self-test and reports everything it observed. Beyond the boot sequence
// and the guard self-test, the full diagnostic surface (parser health,
// format-specific checks) is an external collaborator per spec §1.
func newDiagCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "diag",
		Short: "Run boot diagnostics and the hallucination guard's self-test",
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

			st := guard.SelfTest(eng.cfg.Guard)
			if st.Passed {
				w.Success("hallucination guard self-test: " + st.Detail)
			} else {
				w.Error("hallucination guard self-test failed: " + st.Detail)
				os.Exit(ExitGeneric)
			}

			if !eng.boot.Success {
				os.Exit(ExitBackendDown)
			}
			return nil
		},
	}
}
