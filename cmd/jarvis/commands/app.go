package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Hassffw/Micro-Jarvis/pkg/jarvis/assistant"
	"github.com/Hassffw/Micro-Jarvis/pkg/jarvis/config"
	"github.com/Hassffw/Micro-Jarvis/pkg/jarvis/database"
	"github.com/Hassffw/Micro-Jarvis/pkg/jarvis/llm"
	"github.com/Hassffw/Micro-Jarvis/pkg/jarvis/profile"
)

// resolveConfig loads the config from --config, a discovered file, or the
// environment alone.
func resolveConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, _ := cmd.Root().PersistentFlags().GetString("config")

	cfg, path, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if path != "" {
		slog.Debug("config loaded", "path", path)
	}
	return cfg, nil
}

// newLogger builds the root logger from the logging section. --verbose
// forces debug.
func newLogger(cmd *cobra.Command, cfg *config.Config, w io.Writer) *slog.Logger {
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")

	var level slog.Level
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	if verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Logging.Format == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler)
}

// openDatabase opens the profile database and applies pending migrations.
func openDatabase(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*database.DB, error) {
	if cfg.Database.URL == "" || config.IsEnvReference(cfg.Database.URL) {
		return nil, fmt.Errorf("%w: database.url (or %s)", config.ErrMissingRequired, config.EnvDatabaseURL)
	}

	db, err := database.Open(ctx, cfg.Database, logger)
	if err != nil {
		return nil, err
	}

	if _, err := database.Migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}
	return db, nil
}

// app is the wired runtime shared by serve and chat.
type app struct {
	cfg          *config.Config
	logger       *slog.Logger
	db           *database.DB
	orchestrator *assistant.Orchestrator
	heartbeat    *assistant.Heartbeat
}

// newApp validates cfg and wires the database, the completion client and
// the orchestrator. The caller must close the app.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	config.ResolveAPIKey(cfg, logger)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	policy, err := assistant.ParseSavePolicy(cfg.Conversation.SavePolicy)
	if err != nil {
		return nil, err
	}

	db, err := openDatabase(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	store := profile.NewSQLStore(db, logger)
	client := llm.New(cfg.API, logger)

	orch := assistant.New(store, client, assistant.Options{
		AllowedUserID:     cfg.AllowedUserID,
		MaxContextEntries: cfg.Conversation.MaxContextEntries,
		SavePolicy:        policy,
		Logger:            logger,
	})

	a := &app{
		cfg:          cfg,
		logger:       logger,
		db:           db,
		orchestrator: orch,
	}

	if cfg.Heartbeat.Enabled {
		a.heartbeat = assistant.NewHeartbeat(cfg.Heartbeat.Schedule,
			func(ctx context.Context) database.HealthStatus { return database.Health(ctx, db) },
			orch.Snapshot,
			logger,
		)
	}

	logger.Info("assistant ready",
		"name", cfg.Name,
		"model", client.Model(),
		"dialect", db.Dialect,
		"save_policy", policy.String(),
		"max_context_entries", cfg.Conversation.MaxContextEntries,
	)
	return a, nil
}

func (a *app) startHeartbeat(ctx context.Context) {
	if a.heartbeat == nil {
		return
	}
	if err := a.heartbeat.Start(ctx); err != nil {
		a.logger.Error("heartbeat not started", "error", err)
		a.heartbeat = nil
	}
}

func (a *app) Close() {
	if a.heartbeat != nil {
		a.heartbeat.Stop()
	}
	if err := a.db.Close(); err != nil {
		a.logger.Warn("closing database", "error", err)
	}
}

// stderrIsTerminal is used to pick a readable log format for interactive runs.
func stderrIsTerminal() bool {
	return term.IsTerminal(int(os.Stderr.Fd()))
}
