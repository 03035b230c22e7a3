// Package commands implements the Micro-Jarvis CLI commands using cobra.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command with all subcommands registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "jarvis",
		Short: "Micro-Jarvis - single-user personal assistant",
		Long: `Micro-Jarvis is a small personal assistant. It keeps one running
conversation plus a stored profile (name, interests, goals) and answers
chat messages through an OpenAI-compatible completion API.

Examples:
  jarvis serve
  jarvis serve --channel telegram
  jarvis chat
  jarvis profile show 123456789`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newChatCmd(),
		newMigrateCmd(),
		newProfileCmd(),
		newHealthCmd(),
		newSetupCmd(),
		newConfigCmd(),
	)

	// Global flags.
	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the config file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	return rootCmd
}
