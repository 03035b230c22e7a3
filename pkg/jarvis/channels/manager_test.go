package channels

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeChannel struct {
	name       string
	connectErr error
	limit      int
	in         chan *IncomingMessage

	connected atomic.Bool
	mu        sync.Mutex
	sent      []string
	typing    int
}

func newFakeChannel(name string) *fakeChannel {
	return &fakeChannel{name: name, in: make(chan *IncomingMessage, 8)}
}

func (f *fakeChannel) Name() string { return f.name }

func (f *fakeChannel) Connect(context.Context) error {
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected.Store(true)
	return nil
}

func (f *fakeChannel) Disconnect() error {
	f.connected.Store(false)
	return nil
}

func (f *fakeChannel) Send(_ context.Context, _ string, msg *OutgoingMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg.Content)
	return nil
}

func (f *fakeChannel) SendTyping(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typing++
	return nil
}

func (f *fakeChannel) MaxMessageLength() int { return f.limit }

func (f *fakeChannel) Receive() <-chan *IncomingMessage { return f.in }
func (f *fakeChannel) IsConnected() bool                { return f.connected.Load() }
func (f *fakeChannel) Health() HealthStatus             { return HealthStatus{Connected: f.connected.Load()} }

func (f *fakeChannel) sentMessages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func TestManager_FanIn(t *testing.T) {
	m := NewManager(nil)
	a, b := newFakeChannel("a"), newFakeChannel("b")
	for _, ch := range []Channel{a, b} {
		if err := m.Register(ch); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop()

	a.in <- &IncomingMessage{Channel: "a", Content: "from a"}
	b.in <- &IncomingMessage{Channel: "b", Content: "from b"}

	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case msg := <-m.Messages():
			got[msg.Content] = true
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for message")
		}
	}
	if !got["from a"] || !got["from b"] {
		t.Errorf("received %v", got)
	}
}

func TestManager_RegisterDuplicate(t *testing.T) {
	m := NewManager(nil)
	if err := m.Register(newFakeChannel("a")); err != nil {
		t.Fatal(err)
	}
	if err := m.Register(newFakeChannel("a")); err == nil {
		t.Error("expected duplicate registration error")
	}
	m.Stop()
}

func TestManager_PartialConnect(t *testing.T) {
	m := NewManager(nil)
	bad := newFakeChannel("bad")
	bad.connectErr = errors.New("boom")
	good := newFakeChannel("good")
	_ = m.Register(bad)
	_ = m.Register(good)

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start should succeed with one channel up: %v", err)
	}
	defer m.Stop()

	if err := m.SendText(context.Background(), "bad", "1", "hi"); !errors.Is(err, ErrChannelDisconnected) {
		t.Errorf("send on failed channel: %v", err)
	}
	if err := m.SendText(context.Background(), "good", "1", "hi"); err != nil {
		t.Errorf("send on good channel: %v", err)
	}
}

func TestManager_NoneConnected(t *testing.T) {
	m := NewManager(nil)
	bad := newFakeChannel("bad")
	bad.connectErr = errors.New("boom")
	_ = m.Register(bad)

	err := m.Start(context.Background())
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("expected ErrConnectionFailed, got %v", err)
	}
	m.Stop()
}

func TestManager_SendTextSplits(t *testing.T) {
	m := NewManager(nil)
	ch := newFakeChannel("tg")
	ch.limit = 10
	_ = m.Register(ch)
	if err := m.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer m.Stop()

	if err := m.SendText(context.Background(), "tg", "1", "hello world, how are you"); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	sent := ch.sentMessages()
	if len(sent) < 2 {
		t.Fatalf("expected split message, got %q", sent)
	}
	for _, s := range sent {
		if utf8.RuneCountInString(s) > 10 {
			t.Errorf("part %q exceeds limit", s)
		}
	}

	if err := m.SendTyping(context.Background(), "tg", "1"); err != nil {
		t.Errorf("SendTyping: %v", err)
	}
	if err := m.SendText(context.Background(), "nope", "1", "x"); !errors.Is(err, ErrUnknownChannel) {
		t.Errorf("unknown channel: %v", err)
	}
}

func TestManager_StopClosesMessages(t *testing.T) {
	m := NewManager(nil)
	ch := newFakeChannel("a")
	_ = m.Register(ch)
	if err := m.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	m.Stop()
	m.Stop()

	if _, ok := <-m.Messages(); ok {
		t.Error("Messages should be closed after Stop")
	}
	if ch.IsConnected() {
		t.Error("channel should be disconnected")
	}
	if err := m.Register(newFakeChannel("late")); err == nil {
		t.Error("Register after Start should fail")
	}
}

func TestSplitMessage(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		limit int
		want  []string
	}{
		{"blank", "  \n ", 10, nil},
		{"fits", "hello", 10, []string{"hello"}},
		{"no limit", strings.Repeat("x", 50), 0, []string{strings.Repeat("x", 50)}},
		{"exact", "0123456789", 10, []string{"0123456789"}},
		{"line break", "aaaaaaaaaa\nbbbbbbbbbb", 15, []string{"aaaaaaaaaa", "bbbbbbbbbb"}},
		{"word break", "aaaaaa bbbbbb cccccc", 14, []string{"aaaaaa bbbbbb", "cccccc"}},
		{"hard cut", strings.Repeat("x", 25), 10, []string{strings.Repeat("x", 10), strings.Repeat("x", 10), strings.Repeat("x", 5)}},
		{"runes", strings.Repeat("ü", 12), 5, []string{"üüüüü", "üüüüü", "üü"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SplitMessage(tt.text, tt.limit)
			if len(got) != len(tt.want) {
				t.Fatalf("SplitMessage = %q, want %q", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("part %d = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}
