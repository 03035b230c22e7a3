package commands

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/zalando/go-keyring"
	"gopkg.in/yaml.v3"

	"github.com/Hassffw/Micro-Jarvis/pkg/jarvis/config"
	"github.com/Hassffw/Micro-Jarvis/pkg/jarvis/database"
)

// newConfigCmd creates the `jarvis config` command group.
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration and the API key",
		Long: `Inspect the effective configuration and manage the API key in the
OS keyring.

Examples:
  jarvis config show
  jarvis config path
  jarvis config set-key
  jarvis config delete-key`,
	}

	cmd.AddCommand(
		newConfigShowCmd(),
		newConfigPathCmd(),
		newConfigSetKeyCmd(),
		newConfigDeleteKeyCmd(),
	)
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}

			masked := *cfg
			masked.API.APIKey = maskSecret(cfg.API.APIKey)
			masked.Database.URL = database.Redact(cfg.Database.URL)
			masked.Channels.Telegram.Token = maskSecret(cfg.Channels.Telegram.Token)
			masked.Channels.Discord.Token = maskSecret(cfg.Channels.Discord.Token)

			data, err := yaml.Marshal(&masked)
			if err != nil {
				return fmt.Errorf("marshaling config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print which config file would be loaded",
		RunE: func(cmd *cobra.Command, _ []string) error {
			explicit, _ := cmd.Root().PersistentFlags().GetString("config")
			path := explicit
			if path == "" {
				path = config.FindConfigFile()
			}
			if path == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "no config file found; using defaults and environment variables")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
}

func newConfigSetKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-key",
		Short: "Store the completion API key in the OS keyring",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !config.KeyringAvailable() {
				return fmt.Errorf("OS keyring is not available; export %s instead", config.EnvAPIKey)
			}

			key, err := config.ReadPassword("API key: ")
			if err != nil {
				return err
			}
			key = strings.TrimSpace(key)
			if key == "" {
				return errors.New("empty API key, nothing stored")
			}

			if err := config.StoreAPIKey(key); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "API key stored in the OS keyring (service %q).\n", config.KeyringService)
			return nil
		},
	}
}

func newConfigDeleteKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete-key",
		Short: "Remove the completion API key from the OS keyring",
		RunE: func(cmd *cobra.Command, _ []string) error {
			err := config.DeleteAPIKey()
			if errors.Is(err, keyring.ErrNotFound) {
				fmt.Fprintln(cmd.OutOrStdout(), "no API key stored in the keyring")
				return nil
			}
			if err != nil {
				return fmt.Errorf("deleting from keyring: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "API key removed from the OS keyring.")
			return nil
		},
	}
}

// maskSecret keeps env references and the last four characters.
func maskSecret(s string) string {
	if s == "" || config.IsEnvReference(s) {
		return s
	}
	if len(s) <= 8 {
		return "****"
	}
	return "****" + s[len(s)-4:]
}
