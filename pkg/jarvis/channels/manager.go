package channels

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Manager runs several channels at once, aggregating their incoming
// messages into one stream and routing replies back by channel name.
type Manager struct {
	channels map[string]Channel
	messages chan *IncomingMessage
	logger   *slog.Logger

	// listenWg tracks the per-channel forwarding goroutines.
	listenWg sync.WaitGroup

	mu       sync.RWMutex
	ctx      context.Context
	cancel   context.CancelFunc
	started  atomic.Bool
	stopOnce sync.Once
}

// NewManager creates a channel manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		channels: make(map[string]Channel),
		messages: make(chan *IncomingMessage, 256),
		logger:   logger.With("component", "channels"),
	}
}

// Register adds a channel. Must be called before Start.
func (m *Manager) Register(ch Channel) error {
	if m.started.Load() {
		return fmt.Errorf("register %q: manager already started", ch.Name())
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	name := ch.Name()
	if _, exists := m.channels[name]; exists {
		return fmt.Errorf("channel %q already registered", name)
	}

	m.channels[name] = ch
	m.logger.Info("channel registered", "channel", name)
	return nil
}

// Start connects every registered channel concurrently and begins
// forwarding their messages. A channel that fails to connect is logged and
// skipped; Start fails only when channels were registered and none connected.
func (m *Manager) Start(ctx context.Context) error {
	if !m.started.CompareAndSwap(false, true) {
		return fmt.Errorf("manager already started")
	}
	m.ctx, m.cancel = context.WithCancel(ctx)

	m.mu.RLock()
	snapshot := make([]Channel, 0, len(m.channels))
	for _, ch := range m.channels {
		snapshot = append(snapshot, ch)
	}
	m.mu.RUnlock()

	if len(snapshot) == 0 {
		m.logger.Warn("no channels registered")
		return nil
	}

	var connected atomic.Int32
	var g errgroup.Group
	for _, ch := range snapshot {
		g.Go(func() error {
			if err := ch.Connect(m.ctx); err != nil {
				m.logger.Error("failed to connect channel", "channel", ch.Name(), "error", err)
				return nil
			}
			connected.Add(1)
			m.logger.Info("channel connected", "channel", ch.Name())

			m.listenWg.Add(1)
			go func() {
				defer m.listenWg.Done()
				m.listenChannel(ch)
			}()
			return nil
		})
	}
	_ = g.Wait()

	if connected.Load() == 0 {
		return fmt.Errorf("%w: no channel connected", ErrConnectionFailed)
	}

	m.logger.Info("channel manager started", "channels_connected", connected.Load())
	return nil
}

// Stop disconnects every channel and closes the Messages stream once all
// forwarding goroutines have returned. Safe to call more than once.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		if m.cancel != nil {
			m.cancel()
		}

		m.mu.RLock()
		for name, ch := range m.channels {
			if err := ch.Disconnect(); err != nil {
				m.logger.Error("failed to disconnect channel", "channel", name, "error", err)
			}
		}
		m.mu.RUnlock()

		m.listenWg.Wait()
		close(m.messages)
		m.logger.Info("channel manager stopped")
	})
}

// Messages returns the aggregated stream of incoming messages. It is closed by Stop.
func (m *Manager) Messages() <-chan *IncomingMessage {
	return m.messages
}

// Send sends a message through the named channel.
func (m *Manager) Send(ctx context.Context, channelName, to string, msg *OutgoingMessage) error {
	ch, err := m.connected(channelName)
	if err != nil {
		return err
	}
	return ch.Send(ctx, to, msg)
}

// SendText sends text through the named channel, split into as many
// messages as the platform's size limit requires.
func (m *Manager) SendText(ctx context.Context, channelName, to, text string) error {
	ch, err := m.connected(channelName)
	if err != nil {
		return err
	}

	limit := 0
	if lc, ok := ch.(LimitedChannel); ok {
		limit = lc.MaxMessageLength()
	}
	for _, part := range SplitMessage(text, limit) {
		if err := ch.Send(ctx, to, &OutgoingMessage{Content: part}); err != nil {
			return err
		}
	}
	return nil
}

// SendTyping shows a typing indicator when the channel supports it.
func (m *Manager) SendTyping(ctx context.Context, channelName, to string) error {
	ch, err := m.connected(channelName)
	if err != nil {
		return err
	}
	if tc, ok := ch.(TypingChannel); ok {
		return tc.SendTyping(ctx, to)
	}
	return nil
}

// Channel returns a registered channel by name.
func (m *Manager) Channel(name string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[name]
	return ch, ok
}

// HealthAll returns the health of every registered channel.
func (m *Manager) HealthAll() map[string]HealthStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	statuses := make(map[string]HealthStatus, len(m.channels))
	for name, ch := range m.channels {
		statuses[name] = ch.Health()
	}
	return statuses
}

// HasChannels returns true if at least one channel is registered.
func (m *Manager) HasChannels() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.channels) > 0
}

func (m *Manager) connected(name string) (Channel, error) {
	m.mu.RLock()
	ch, exists := m.channels[name]
	m.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: %q", ErrUnknownChannel, name)
	}
	if !ch.IsConnected() {
		return nil, fmt.Errorf("%q: %w", name, ErrChannelDisconnected)
	}
	return ch, nil
}

// listenChannel forwards one channel's messages until it closes its
// Receive stream or the manager is stopped.
func (m *Manager) listenChannel(ch Channel) {
	in := ch.Receive()
	for {
		select {
		case msg, ok := <-in:
			if !ok {
				return
			}
			select {
			case m.messages <- msg:
			case <-m.ctx.Done():
				return
			}
		case <-m.ctx.Done():
			return
		}
	}
}
