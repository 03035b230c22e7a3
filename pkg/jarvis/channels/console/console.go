// Package console implements a local terminal channel on top of readline.
// Every line typed is delivered as a message from a fixed local identity,
// and replies are printed back to the terminal.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chzyer/readline"

	"github.com/Hassffw/Micro-Jarvis/pkg/jarvis/channels"
)

// ChatID is the only chat the console knows.
const ChatID = "console"

// Config holds console channel configuration.
type Config struct {
	// Identity is the sender identity attached to every line.
	Identity int64

	// Name is the sender display name.
	Name string

	// Prompt is the input prompt (default: "> ").
	Prompt string

	// HistoryFile persists input history between sessions (optional).
	HistoryFile string
}

// LineReader is the input side of the console. *readline.Instance satisfies it.
type LineReader interface {
	Readline() (string, error)
	Close() error
}

// Console implements channels.Channel.
type Console struct {
	cfg    Config
	logger *slog.Logger

	reader LineReader
	out    io.Writer
	outMu  sync.Mutex

	messages chan *channels.IncomingMessage
	done     chan struct{}
	doneOnce sync.Once

	connected atomic.Bool
	lastMsg   atomic.Value // time.Time
	seq       atomic.Int64
	wg        sync.WaitGroup
}

// New creates a console channel. The readline instance is created on Connect.
func New(cfg Config, logger *slog.Logger) *Console {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Prompt == "" {
		cfg.Prompt = "> "
	}
	return &Console{
		cfg:      cfg,
		logger:   logger.With("component", "console"),
		out:      os.Stdout,
		messages: make(chan *channels.IncomingMessage, 16),
		done:     make(chan struct{}),
	}
}

// NewWithIO creates a console channel over an explicit reader and writer.
func NewWithIO(cfg Config, r LineReader, w io.Writer, logger *slog.Logger) *Console {
	c := New(cfg, logger)
	c.reader = r
	c.out = w
	return c
}

// Name returns "console".
func (c *Console) Name() string { return "console" }

// Connect starts reading lines.
func (c *Console) Connect(ctx context.Context) error {
	if c.connected.Load() {
		return nil
	}

	if c.reader == nil {
		rl, err := readline.NewEx(&readline.Config{
			Prompt:          c.cfg.Prompt,
			HistoryFile:     c.cfg.HistoryFile,
			InterruptPrompt: "^C",
			EOFPrompt:       "exit",
		})
		if err != nil {
			return fmt.Errorf("console: %w", err)
		}
		c.reader = rl
		c.out = rl.Stdout()
	}

	c.connected.Store(true)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.readLoop(ctx)
	}()
	return nil
}

// Disconnect closes the reader and waits for the read loop to exit.
func (c *Console) Disconnect() error {
	if !c.connected.Swap(false) {
		return nil
	}
	err := c.reader.Close()
	c.wg.Wait()
	c.finish()
	return err
}

// Done is closed when the user ends the session (EOF, Ctrl+C, /quit).
func (c *Console) Done() <-chan struct{} { return c.done }

// Send prints a reply.
func (c *Console) Send(_ context.Context, _ string, message *channels.OutgoingMessage) error {
	if !c.connected.Load() {
		return channels.ErrChannelDisconnected
	}
	c.outMu.Lock()
	defer c.outMu.Unlock()
	_, err := fmt.Fprintf(c.out, "\n%s\n\n", strings.TrimRight(message.Content, "\n"))
	return err
}

// Receive returns the incoming messages channel.
func (c *Console) Receive() <-chan *channels.IncomingMessage { return c.messages }

// IsConnected returns true while the console is reading.
func (c *Console) IsConnected() bool { return c.connected.Load() }

// Health returns the channel health status.
func (c *Console) Health() channels.HealthStatus {
	var lastAt time.Time
	if v := c.lastMsg.Load(); v != nil {
		lastAt = v.(time.Time)
	}
	return channels.HealthStatus{Connected: c.connected.Load(), LastMessageAt: lastAt}
}

func (c *Console) readLoop(ctx context.Context) {
	defer c.finish()

	for {
		line, err := c.reader.Readline()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, readline.ErrInterrupt) {
				c.logger.Debug("console: read error", "error", err)
			}
			return
		}

		line = strings.TrimSpace(line)
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return
		}

		msg := &channels.IncomingMessage{
			ID:        strconv.FormatInt(c.seq.Add(1), 10),
			Channel:   "console",
			From:      c.cfg.Identity,
			FromName:  c.cfg.Name,
			ChatID:    ChatID,
			Content:   line,
			Timestamp: time.Now(),
		}
		c.lastMsg.Store(msg.Timestamp)

		select {
		case c.messages <- msg:
		case <-ctx.Done():
			return
		}
	}
}

func (c *Console) finish() {
	c.doneOnce.Do(func() { close(c.done) })
}
