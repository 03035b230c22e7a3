package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Hassffw/Micro-Jarvis/pkg/jarvis/assistant"
	"github.com/Hassffw/Micro-Jarvis/pkg/jarvis/channels"
	"github.com/Hassffw/Micro-Jarvis/pkg/jarvis/channels/discord"
	"github.com/Hassffw/Micro-Jarvis/pkg/jarvis/channels/telegram"
	"github.com/Hassffw/Micro-Jarvis/pkg/jarvis/config"
)

// shutdownTimeout bounds the graceful shutdown after a signal.
const shutdownTimeout = 10 * time.Second

// newServeCmd creates the `jarvis serve` command that starts the daemon.
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the assistant on the configured chat channels",
		Long: `Start Micro-Jarvis as a daemon, connecting to every configured
channel (Telegram, Discord) and answering messages until SIGINT/SIGTERM.

Examples:
  jarvis serve
  jarvis serve --channel telegram
  jarvis serve --config ./config.yaml`,
		RunE: runServe,
	}

	cmd.Flags().StringSlice("channel", nil, "channels to enable (telegram, discord)")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cmd, cfg, os.Stdout)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	// ── Register channels ──
	filter, _ := cmd.Flags().GetStringSlice("channel")
	mgr := channels.NewManager(logger)

	if shouldEnable("telegram", filter, cfg.HasChannel("telegram")) {
		tg := telegram.New(cfg.Channels.Telegram, logger)
		tg.SetCommands(botCommands())
		if err := mgr.Register(tg); err != nil {
			logger.Error("failed to register Telegram", "error", err)
		}
	}
	if shouldEnable("discord", filter, cfg.HasChannel("discord")) {
		if err := mgr.Register(discord.New(cfg.Channels.Discord, logger)); err != nil {
			logger.Error("failed to register Discord", "error", err)
		}
	}
	if !mgr.HasChannels() {
		return fmt.Errorf("no channel configured: set channels.telegram.token (or %s) or channels.discord.token (or %s)",
			config.EnvTeloxideToken, config.EnvDiscordToken)
	}

	// ── Start ──
	if err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("failed to start channels: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	dispatcher := assistant.NewDispatcher(mgr, a.orchestrator, logger)
	g.Go(func() error {
		dispatcher.Run(gctx)
		return nil
	})
	a.startHeartbeat(ctx)

	logger.Info("Micro-Jarvis running. Press Ctrl+C to stop.",
		"name", cfg.Name,
		"channels", len(mgr.HealthAll()),
	)

	// ── Wait for shutdown ──
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	<-sigChan

	logger.Info("shutdown signal received, stopping...", "in_flight", dispatcher.InFlight())
	cancel()

	done := make(chan struct{})
	go func() {
		mgr.Stop()
		_ = g.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-time.After(shutdownTimeout):
		logger.Warn("shutdown timed out, forcing exit", "timeout", shutdownTimeout)
	}
	return nil
}

// botCommands is the Telegram command menu.
func botCommands() []telegram.BotCommand {
	out := make([]telegram.BotCommand, 0, len(assistant.Commands))
	for _, c := range assistant.Commands {
		out = append(out, telegram.BotCommand{
			Command:     string(c.Command),
			Description: c.Description,
		})
	}
	return out
}

// shouldEnable checks if a channel should be enabled.
func shouldEnable(name string, filter []string, defaultEnabled bool) bool {
	if len(filter) == 0 {
		return defaultEnabled
	}
	return slices.Contains(filter, name)
}
