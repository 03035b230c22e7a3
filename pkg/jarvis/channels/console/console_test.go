package console

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Hassffw/Micro-Jarvis/pkg/jarvis/channels"
)

// scriptReader returns the scripted lines, then blocks until closed.
type scriptReader struct {
	lines  chan string
	closed chan struct{}
	once   sync.Once
}

func newScriptReader(lines ...string) *scriptReader {
	r := &scriptReader{lines: make(chan string, len(lines)), closed: make(chan struct{})}
	for _, l := range lines {
		r.lines <- l
	}
	return r
}

func (r *scriptReader) Readline() (string, error) {
	select {
	case l := <-r.lines:
		return l, nil
	case <-r.closed:
		return "", io.EOF
	}
}

func (r *scriptReader) Close() error {
	r.once.Do(func() { close(r.closed) })
	return nil
}

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func next(t *testing.T, c *Console) *channels.IncomingMessage {
	t.Helper()
	select {
	case msg := <-c.Receive():
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for line")
		return nil
	}
}

func TestConsole_DeliversLines(t *testing.T) {
	var out syncBuffer
	c := NewWithIO(Config{Identity: 42, Name: "Eva"}, newScriptReader("Hallo", "   ", "/addgoal Laufen"), &out, nil)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Disconnect()

	first := next(t, c)
	if first.From != 42 || first.FromName != "Eva" || first.Content != "Hallo" || first.ChatID != ChatID {
		t.Errorf("first = %+v", first)
	}
	second := next(t, c)
	if second.Content != "/addgoal Laufen" {
		t.Errorf("blank line not skipped: %+v", second)
	}
	if first.ID == second.ID {
		t.Error("message IDs should be unique")
	}

	if err := c.Send(context.Background(), ChatID, &channels.OutgoingMessage{Content: "Ziel hinzugefügt."}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !strings.Contains(out.String(), "Ziel hinzugefügt.") {
		t.Errorf("output = %q", out.String())
	}
}

func TestConsole_QuitEndsSession(t *testing.T) {
	c := NewWithIO(Config{Identity: 1}, newScriptReader("/quit"), io.Discard, nil)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer c.Disconnect()

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Done not closed after /quit")
	}
}

func TestConsole_DisconnectUnblocksReader(t *testing.T) {
	c := NewWithIO(Config{Identity: 1}, newScriptReader(), io.Discard, nil)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := c.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	select {
	case <-c.Done():
	default:
		t.Error("Done should be closed after Disconnect")
	}
	err := c.Send(context.Background(), ChatID, &channels.OutgoingMessage{Content: "x"})
	if !errors.Is(err, channels.ErrChannelDisconnected) {
		t.Errorf("Send after Disconnect: %v", err)
	}
}
