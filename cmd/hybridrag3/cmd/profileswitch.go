package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/hybridrag3/internal/config"
	"github.com/Aman-CERP/hybridrag3/internal/output"
)

// newProfileSwitchCmd rewrites security.mode in place, backing up the
// prior configuration first (mirroring the teacher's config backup module,
// see internal/config/backup.go).
func newProfileSwitchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile-switch [offline|online|admin]",
		Short: "Switch the security mode and persist it to the configuration file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w := output.New(os.Stdout)
			mode := config.SecurityMode(args[0])
			switch mode {
			case config.ModeOffline, config.ModeOnline, config.ModeAdmin:
			default:
				w.Error(fmt.Sprintf("unknown profile %q; expected offline, online, or admin", args[0]))
				os.Exit(ExitConfig)
			}

			cfg, err := config.Load(configPath)
			if err != nil {
				w.Error(fmt.Sprintf("loading configuration: %v", err))
				os.Exit(ExitConfig)
			}

			if _, err := config.Backup(configPath); err != nil {
				w.Warning(fmt.Sprintf("could not back up configuration before switching profile: %v", err))
			}

			cfg.Security.Mode = mode
			if err := cfg.Validate(); err != nil {
				w.Error(fmt.Sprintf("profile %q is invalid for this configuration: %v", mode, err))
				os.Exit(ExitConfig)
			}
			if err := cfg.WriteYAML(configPath); err != nil {
				w.Error(fmt.Sprintf("writing configuration: %v", err))
				os.Exit(ExitGeneric)
			}

			w.Success(fmt.Sprintf("security mode switched to %q", mode))
			return nil
		},
	}
	return cmd
}
