// Package cmd provides the thin administrative CLI for HybridRAG3.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/hybridrag3/internal/logging"
	"github.com/Aman-CERP/hybridrag3/internal/profiling"
	"github.com/Aman-CERP/hybridrag3/pkg/version"
)

// Exit codes, per spec: 0 success, 1 generic failure, 2 configuration
// error, 3 credential error, 4 network-gate denial, 5 backend unavailable.
const (
	ExitOK          = 0
	ExitGeneric     = 1
	ExitConfig      = 2
	ExitCredential  = 3
	ExitGateDenied  = 4
	ExitBackendDown = 5
)

var (
	configPath   string
	credDir      string
	debugMode    bool
	profileCPU   string
	profiler     = profiling.NewProfiler()
	cpuCleanup   func()
	logCleanup   func()
)

// NewRootCmd creates the hybridrag3 root command.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "hybridrag3",
		Short:   "Administrative CLI for the HybridRAG3 indexing and retrieval engine",
		Version: version.Version,
	}
	cmd.SetVersionTemplate("hybridrag3 version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath(), "path to the configuration file")
	cmd.PersistentFlags().StringVar(&credDir, "cred-dir", defaultCredDir(), "fallback directory for the encrypted file credential store")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "enable debug logging to ~/.hybridrag3/logs/")
	cmd.PersistentFlags().StringVar(&profileCPU, "profile-cpu", "", "write a CPU profile to this file for the duration of the command")

	cmd.PersistentPreRunE = startDiagnostics
	cmd.PersistentPostRunE = stopDiagnostics

	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newQueryCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newCredStoreCmd())
	cmd.AddCommand(newCredStatusCmd())
	cmd.AddCommand(newCredClearCmd())
	cmd.AddCommand(newDiagCmd())
	cmd.AddCommand(newEvalCmd())
	cmd.AddCommand(newProfileSwitchCmd())

	return cmd
}

// Execute runs the root command and returns its error, if any.
func Execute() error {
	return NewRootCmd().Execute()
}

func startDiagnostics(_ *cobra.Command, _ []string) error {
	if debugMode {
		logger, cleanup, err := logging.Setup(logging.DebugConfig())
		if err != nil {
			return fmt.Errorf("failed to set up debug logging: %w", err)
		}
		logCleanup = cleanup
		slog.SetDefault(logger)
	}
	if profileCPU != "" {
		var err error
		cpuCleanup, err = profiler.StartCPU(profileCPU)
		if err != nil {
			return fmt.Errorf("failed to start CPU profile: %w", err)
		}
	}
	return nil
}

func stopDiagnostics(_ *cobra.Command, _ []string) error {
	if cpuCleanup != nil {
		cpuCleanup()
		cpuCleanup = nil
	}
	if logCleanup != nil {
		logCleanup()
		logCleanup = nil
	}
	return nil
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "hybridrag3.yaml"
	}
	return home + "/.hybridrag3/config.yaml"
}

func defaultCredDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".hybridrag3-creds"
	}
	return home + "/.hybridrag3/creds"
}
