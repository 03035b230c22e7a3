// Package channels defines the transports Micro-Jarvis talks through. Each
// transport (Telegram, Discord, the local console) implements Channel so the
// dispatcher can receive and reply in a unified way.
package channels

import (
	"context"
	"errors"
	"time"
)

// Channel defines the interface that every transport must implement.
type Channel interface {
	// Name returns the channel identifier (e.g. "telegram", "discord").
	Name() string

	// Connect establishes the connection to the messaging platform.
	Connect(ctx context.Context) error

	// Disconnect gracefully closes the connection.
	Disconnect() error

	// Send sends a message to the specified chat.
	Send(ctx context.Context, to string, message *OutgoingMessage) error

	// Receive returns a Go channel that emits incoming text messages.
	Receive() <-chan *IncomingMessage

	// IsConnected returns true if the channel is connected.
	IsConnected() bool

	// Health returns the channel health status.
	Health() HealthStatus
}

// TypingChannel is implemented by transports that can show a
// "typing..." indicator while a reply is being produced.
type TypingChannel interface {
	Channel

	// SendTyping sends a typing indicator to the chat.
	SendTyping(ctx context.Context, to string) error
}

// LimitedChannel is implemented by transports with a per-message size cap.
type LimitedChannel interface {
	Channel

	// MaxMessageLength is the largest message, in characters, the platform accepts.
	MaxMessageLength() int
}

// IncomingMessage is one text message received from a transport.
type IncomingMessage struct {
	// ID is the message identifier in the source channel.
	ID string

	// Channel identifies the source channel (e.g. "telegram").
	Channel string

	// From is the numeric sender identity on the platform.
	From int64

	// FromName is the sender display name (may be empty).
	FromName string

	// ChatID is where replies go.
	ChatID string

	// Content is the text of the message.
	Content string

	// Timestamp is when the message was sent.
	Timestamp time.Time
}

// OutgoingMessage is a text reply sent through a channel.
type OutgoingMessage struct {
	// Content is the text content of the message.
	Content string

	// ReplyTo is the ID of the message being answered (optional).
	ReplyTo string
}

// HealthStatus represents the health state of a channel.
type HealthStatus struct {
	Connected     bool
	LastMessageAt time.Time
	ErrorCount    int
	Details       map[string]any
}

// Errors.
var (
	ErrChannelDisconnected = errors.New("channel is not connected")
	ErrSendFailed          = errors.New("failed to send message")
	ErrConnectionFailed    = errors.New("failed to connect to channel")
	ErrUnknownChannel      = errors.New("channel not registered")
)
