package cmd

import (
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/hybridrag3/internal/output"
)

func newQueryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query [question]",
		Short: "Answer a natural-language question against the indexed corpus",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			w := output.New(os.Stdout)
			question := strings.Join(args, " ")

			eng, err := buildEngine(ctx)
			if eng != nil {
				defer eng.Close()
			}
			if err != nil {
				w.Error(err.Error())
				os.Exit(ExitConfig)
			}
			if !eng.boot.OfflineAvailable {
				w.Error("local backend unavailable; cannot answer queries")
				os.Exit(ExitBackendDown)
			}

			result := eng.qe.Answer(ctx, question)
			if result.Error != nil {
				w.Error(result.Error.Error())
				os.Exit(ExitGeneric)
			}

			w.Status("", result.AnswerText)
			w.Newline()
			if !result.IsSafe {
				w.Warning("answer withheld or rewritten by the hallucination guard")
			}
			for _, s := range result.Sources {
				w.Statusf("", "source: %s (score %.3f)", s.Path, s.Score)
			}
			return nil
		},
	}
	return cmd
}
