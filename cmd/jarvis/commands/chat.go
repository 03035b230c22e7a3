package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Hassffw/Micro-Jarvis/pkg/jarvis/assistant"
	"github.com/Hassffw/Micro-Jarvis/pkg/jarvis/channels"
	"github.com/Hassffw/Micro-Jarvis/pkg/jarvis/channels/console"
)

// newChatCmd creates the `jarvis chat` command for local conversations.
func newChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Talk to the assistant from the terminal",
		Long: `Talk to the assistant locally. With a message argument a single turn
is run and the reply printed; without one an interactive prompt starts.
The local user acts as the allow-listed identity, so commands like
/addinterest work. Type /quit or press Ctrl+D to leave.

Examples:
  jarvis chat "Was steht heute an?"
  jarvis chat`,
		Args: cobra.MaximumNArgs(1),
		RunE: runChat,
	}

	cmd.Flags().StringP("name", "n", "", "display name for the local user (default: $USER)")
	return cmd
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	// Keep the terminal readable: only warnings unless asked for more.
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	if !verbose && !strings.EqualFold(cfg.Logging.Level, "debug") {
		cfg.Logging.Level = "warn"
	}
	if stderrIsTerminal() {
		cfg.Logging.Format = "text"
	}
	logger := newLogger(cmd, cfg, os.Stderr)

	name, _ := cmd.Flags().GetString("name")
	if name == "" {
		name = os.Getenv("USER")
	}
	if name == "" {
		name = "User"
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if len(args) == 1 {
		return chatOnce(ctx, cmd, a, name, args[0])
	}

	con := console.New(console.Config{
		Identity:    cfg.AllowedUserID,
		Name:        name,
		Prompt:      "du> ",
		HistoryFile: historyFile(),
	}, logger)

	mgr := channels.NewManager(logger)
	if err := mgr.Register(con); err != nil {
		return err
	}
	if err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("starting console: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s ist bereit. /help zeigt die Befehle, /quit beendet.\n", cfg.Name)

	dispatcher := assistant.NewDispatcher(mgr, a.orchestrator, logger)
	done := make(chan struct{})
	go func() {
		dispatcher.Run(ctx)
		close(done)
	}()
	a.startHeartbeat(ctx)

	select {
	case <-con.Done():
		// Let the turns typed before /quit print their replies.
		waitIdle(ctx, func() int { return dispatcher.Pending() + len(mgr.Messages()) }, quitGrace)
	case <-ctx.Done():
	}

	cancel()
	mgr.Stop()
	<-done
	return nil
}

// quitGrace bounds how long the console waits for open turns after /quit.
const quitGrace = 2 * time.Minute

// waitIdle returns once pending reports zero on two polls in a row, ctx is
// done, or grace has passed.
func waitIdle(ctx context.Context, pending func() int, grace time.Duration) {
	deadline := time.NewTimer(grace)
	defer deadline.Stop()
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()

	idle := 0
	for idle < 2 {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			return
		case <-tick.C:
			if pending() == 0 {
				idle++
			} else {
				idle = 0
			}
		}
	}
}

// chatOnce runs a single turn and prints the reply.
func chatOnce(ctx context.Context, cmd *cobra.Command, a *app, name, text string) error {
	var (
		reply string
		err   error
	)
	if c, arg, ok := assistant.ParseCommand(text); ok {
		reply, err = a.orchestrator.HandleCommand(ctx, a.cfg.AllowedUserID, name, c, arg)
	} else {
		reply, err = a.orchestrator.HandleMessage(ctx, a.cfg.AllowedUserID, name, text)
	}

	if reply != "" {
		fmt.Fprintln(cmd.OutOrStdout(), reply)
	}
	if assistant.IsFatal(err) {
		return err
	}
	if err != nil {
		a.logger.Warn("turn completed with error", "error", err)
	}
	return nil
}

// historyFile is the readline history location, or "" when there is no
// home directory.
func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".jarvis_history")
}
