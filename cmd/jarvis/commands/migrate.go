package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Hassffw/Micro-Jarvis/pkg/jarvis/database"
)

// newMigrateCmd creates the `jarvis migrate` command.
func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Long: `Create or upgrade the profile schema. serve and chat migrate on start,
so this is only needed to prepare a database ahead of time.

Examples:
  jarvis migrate
  DATABASE_URL=sqlite://./jarvis.db jarvis migrate --status`,
		RunE: runMigrate,
	}

	cmd.Flags().Bool("status", false, "only print the current and latest schema version")
	return cmd
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cmd, cfg, os.Stderr)
	ctx := cmd.Context()

	if cfg.Database.URL == "" {
		return fmt.Errorf("database.url is not set")
	}
	db, err := database.Open(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	out := cmd.OutOrStdout()
	current, err := database.CurrentVersion(ctx, db)
	if err != nil {
		return err
	}

	if status, _ := cmd.Flags().GetBool("status"); status {
		fmt.Fprintf(out, "schema version %d (latest %d)\n", current, database.LatestVersion())
		return nil
	}

	if current >= database.LatestVersion() {
		fmt.Fprintf(out, "schema is up to date (version %d)\n", current)
		return nil
	}

	version, err := database.Migrate(ctx, db)
	if err != nil {
		return err
	}
	slog.Debug("migrations applied", "from", current, "to", version)
	fmt.Fprintf(out, "migrated schema from version %d to %d\n", current, version)
	return nil
}
