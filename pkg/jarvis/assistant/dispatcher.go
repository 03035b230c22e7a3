package assistant

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Hassffw/Micro-Jarvis/pkg/jarvis/channels"
	"github.com/Hassffw/Micro-Jarvis/pkg/jarvis/llm"
)

// Transport is the channel side of the dispatcher. *channels.Manager
// satisfies it.
type Transport interface {
	Messages() <-chan *channels.IncomingMessage
	SendText(ctx context.Context, channel, to, text string) error
	SendTyping(ctx context.Context, channel, to string) error
}

// Handler runs turns. *Orchestrator satisfies it.
type Handler interface {
	HandleMessage(ctx context.Context, sender int64, displayName, text string) (string, error)
	HandleCommand(ctx context.Context, sender int64, displayName string, cmd Command, arg string) (string, error)
}

// Dispatcher feeds inbound chat events to the Handler and sends the replies
// back. Events of one chat are handled in arrival order by a worker for that
// chat; different chats get their own workers.
type Dispatcher struct {
	transport Transport
	handler   Handler
	logger    *slog.Logger

	wg       sync.WaitGroup
	inFlight sync.Map // turn id -> start time

	mu     sync.Mutex
	queues map[string]*chatQueue
}

// chatQueue holds the pending events of one chat. A worker goroutine exists
// while running is true and exits once pending is empty.
type chatQueue struct {
	pending []*channels.IncomingMessage
	running bool
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(transport Transport, handler Handler, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		transport: transport,
		handler:   handler,
		logger:    logger.With("component", "dispatcher"),
		queues:    make(map[string]*chatQueue),
	}
}

// Run consumes messages until ctx is done or the transport stream closes,
// then waits for the queued turns. Turns share ctx, so cancelling it also
// cancels their pending store and completion calls and drops what is still
// queued.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("dispatcher started")
	defer func() {
		d.wg.Wait()
		d.logger.Info("dispatcher stopped")
	}()

	messages := d.transport.Messages()
	for {
		select {
		case msg, ok := <-messages:
			if !ok {
				return
			}
			if msg == nil {
				continue
			}
			d.enqueue(ctx, msg)

		case <-ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) enqueue(ctx context.Context, msg *channels.IncomingMessage) {
	key := msg.Channel + "/" + msg.ChatID

	d.mu.Lock()
	defer d.mu.Unlock()

	q, ok := d.queues[key]
	if !ok {
		q = &chatQueue{}
		d.queues[key] = q
	}
	q.pending = append(q.pending, msg)
	if q.running {
		return
	}
	q.running = true

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.work(ctx, key, q)
	}()
}

// work handles the events of one chat one after another.
func (d *Dispatcher) work(ctx context.Context, key string, q *chatQueue) {
	for {
		d.mu.Lock()
		if len(q.pending) == 0 || ctx.Err() != nil {
			if n := len(q.pending); n > 0 {
				d.logger.Info("dropping queued messages", "chat", key, "count", n)
			}
			q.pending = nil
			q.running = false
			delete(d.queues, key)
			d.mu.Unlock()
			return
		}
		msg := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		d.mu.Unlock()

		d.handle(ctx, msg)
	}
}

// Pending returns the number of events received but not yet finished,
// counting the one each worker is handling.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, q := range d.queues {
		n += len(q.pending)
		if q.running {
			n++
		}
	}
	return n
}

// InFlight returns the number of turns currently being handled.
func (d *Dispatcher) InFlight() int {
	n := 0
	d.inFlight.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func (d *Dispatcher) handle(ctx context.Context, msg *channels.IncomingMessage) {
	turnID := uuid.NewString()
	ctx = WithTurnID(ctx, turnID)
	logger := loggerFrom(ctx, d.logger).With(
		"channel", msg.Channel,
		"chat_id", msg.ChatID,
		"from", msg.From,
		"msg_id", msg.ID,
	)

	start := time.Now()
	d.inFlight.Store(turnID, start)
	defer d.inFlight.Delete(turnID)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("turn panicked", "panic", r, "stack", string(debug.Stack()))
		}
	}()

	if msg.Content == "" {
		logger.Debug("ignoring message without text")
		return
	}

	var (
		reply string
		err   error
		kind  = "message"
	)

	if cmd, arg, ok := ParseCommand(msg.Content); ok {
		kind = "command"
		reply, err = d.handler.HandleCommand(ctx, msg.From, msg.FromName, cmd, arg)
	} else {
		if terr := d.transport.SendTyping(ctx, msg.Channel, msg.ChatID); terr != nil {
			logger.Debug("typing indicator failed", "error", terr)
		}
		reply, err = d.handler.HandleMessage(ctx, msg.From, msg.FromName, msg.Content)
	}

	d.logOutcome(logger, kind, err)

	if reply == "" {
		return
	}

	if err := d.transport.SendText(ctx, msg.Channel, msg.ChatID, reply); err != nil {
		logger.Error("failed to send reply", "error", err)
		return
	}

	logger.Info("turn processed",
		"kind", kind,
		"duration_ms", time.Since(start).Milliseconds(),
		"reply_len", len(reply),
	)
}

func (d *Dispatcher) logOutcome(logger *slog.Logger, kind string, err error) {
	if err == nil {
		return
	}

	var unauth *UnauthorizedError
	switch {
	case errors.As(err, &unauth):
		logger.Info("command refused", "sender", unauth.Sender)
	case errors.Is(err, context.Canceled):
		logger.Info("turn cancelled", "kind", kind)
	case IsFatal(err):
		attrs := []any{"kind", kind, "error", err}
		if ek, ok := llm.KindOf(err); ok {
			attrs = append(attrs, "error_kind", ek.String(), "retryable", ek.Retryable())
		}
		logger.Error("turn failed", attrs...)
	default:
		logger.Warn("turn completed with error", "kind", kind, "error", err)
	}
}

type turnIDKey struct{}

// WithTurnID attaches a turn id to ctx; loggers derived by the assistant
// carry it as "turn_id".
func WithTurnID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, turnIDKey{}, id)
}

// TurnID returns the turn id attached to ctx, if any.
func TurnID(ctx context.Context) string {
	id, _ := ctx.Value(turnIDKey{}).(string)
	return id
}

func loggerFrom(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if id := TurnID(ctx); id != "" {
		return logger.With("turn_id", id)
	}
	return logger
}
