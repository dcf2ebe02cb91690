package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/hybridrag3/internal/config"
	"github.com/Aman-CERP/hybridrag3/internal/credential"
	"github.com/Aman-CERP/hybridrag3/internal/output"
)

func newCredStoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cred-store",
		Short: "Store the remote API key in the OS-native keystore",
		RunE: func(cmd *cobra.Command, args []string) error {
			w := output.New(os.Stdout)
			cfg, err := config.Load(configPath)
			if err != nil {
				w.Error(fmt.Sprintf("loading configuration: %v", err))
				os.Exit(ExitConfig)
			}

			fmt.Fprint(os.Stdout, "API key: ")
			key, _ := bufio.NewReader(os.Stdin).ReadString('\n')
			key = strings.TrimSpace(key)

			resolver, err := credential.New(&cfg.RemoteAPI, credDir)
			if err != nil {
				w.Error(fmt.Sprintf("opening credential store: %v", err))
				os.Exit(ExitCredential)
			}
			if err := resolver.Store(key); err != nil {
				w.Error(err.Error())
				os.Exit(ExitCredential)
			}
			w.Success("API key stored in the OS keystore")
			return nil
		},
	}
}

func newCredStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cred-status",
		Short: "Show which credential source will be used, masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			w := output.New(os.Stdout)
			cfg, err := config.Load(configPath)
			if err != nil {
				w.Error(fmt.Sprintf("loading configuration: %v", err))
				os.Exit(ExitConfig)
			}

			resolver, err := credential.New(&cfg.RemoteAPI, credDir)
			if err != nil {
				w.Error(fmt.Sprintf("opening credential store: %v", err))
				os.Exit(ExitCredential)
			}
			bundle, prov, err := resolver.Resolve()
			if err != nil {
				w.Warning(err.Error())
				os.Exit(ExitCredential)
			}
			w.Statusf("", "api_key: %s (source: %s)", credential.Mask(bundle.APIKey), prov.APIKey)
			w.Statusf("", "endpoint: %s (source: %s)", bundle.Endpoint, prov.Endpoint)
			w.Statusf("", "deployment: %s (source: %s)", bundle.Deployment, prov.Deployment)
			return nil
		},
	}
}

func newCredClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cred-clear",
		Short: "Remove the stored API key from the OS-native keystore",
		RunE: func(cmd *cobra.Command, args []string) error {
			w := output.New(os.Stdout)
			cfg, err := config.Load(configPath)
			if err != nil {
				w.Error(fmt.Sprintf("loading configuration: %v", err))
				os.Exit(ExitConfig)
			}

			resolver, err := credential.New(&cfg.RemoteAPI, credDir)
			if err != nil {
				w.Error(fmt.Sprintf("opening credential store: %v", err))
				os.Exit(ExitCredential)
			}
			if err := resolver.Clear(); err != nil {
				w.Error(err.Error())
				os.Exit(ExitCredential)
			}
			w.Success("stored API key removed")
			return nil
		},
	}
}
