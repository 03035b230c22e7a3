package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Hassffw/Micro-Jarvis/pkg/jarvis/database"
)

// newHealthCmd creates the `jarvis health` command.
// Used by container health checks and monitoring.
func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check database connectivity",
		Long:  `Pings the profile database and prints the status as JSON. Exits non-zero when unhealthy.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Database.URL == "" {
				return fmt.Errorf("database.url is not set")
			}
			logger := newLogger(cmd, cfg, os.Stderr)

			db, err := database.Open(cmd.Context(), cfg.Database, logger)
			if err != nil {
				return err
			}
			defer db.Close()

			status := database.Health(cmd.Context(), db)
			report := map[string]any{
				"status":   "ok",
				"version":  cmd.Root().Version,
				"database": status,
			}
			if !status.Healthy {
				report["status"] = "unhealthy"
			}

			if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			if !status.Healthy {
				return fmt.Errorf("database unhealthy: %s", status.Error)
			}
			return nil
		},
	}
}
