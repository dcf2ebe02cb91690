package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/hybridrag3/internal/index"
	"github.com/Aman-CERP/hybridrag3/internal/output"
)

func newIndexCmd() *cobra.Command {
	var rootDir string
	var strong bool

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Scan the source folder, chunk and embed changed files, and commit to the vector store",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			w := output.New(os.Stdout)

			eng, err := buildEngine(ctx)
			if eng != nil {
				defer eng.Close()
			}
			if err != nil {
				w.Error(err.Error())
				os.Exit(ExitConfig)
			}
			if !eng.boot.OfflineAvailable {
				w.Error("local backend unavailable; index requires offline mode to be usable")
				os.Exit(ExitBackendDown)
			}

			if rootDir == "" {
				rootDir = eng.cfg.Paths.SourceFolder
			}

			ix := index.New(eng.store, eng.embed, eng.cfg)
			result, err := ix.Run(ctx, index.Options{
				RootDir:          rootDir,
				StrongSignatures: strong,
				Progress: func(stage string, current, total int, file string) {
					if total > 0 {
						w.Statusf("", "%s: %d/%d %s", stage, current, total, file)
					}
				},
			})
			if err != nil {
				w.Error(fmt.Sprintf("indexing failed: %v", err))
				os.Exit(ExitGeneric)
			}

			w.Success(fmt.Sprintf(
				"indexed run %s: %d scanned, %d indexed, %d skipped, %d deleted, %d chunks in %s",
				result.RunID, result.FilesScanned, result.FilesIndexed, result.FilesSkipped,
				result.FilesDeleted, result.ChunksIndexed, result.Duration))
			return nil
		},
	}

	cmd.Flags().StringVar(&rootDir, "root", "", "override the configured source folder")
	cmd.Flags().BoolVar(&strong, "strong", false, "use content-hash change detection in addition to size+mtime")
	return cmd
}
