// Package discord implements the Discord channel using discordgo.
//
// Features:
//   - Direct and guild text messages over the gateway
//   - Typing indicators
//   - Channel allowlist
//   - Automatic reconnection via discordgo's gateway
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/Hassffw/Micro-Jarvis/pkg/jarvis/channels"
)

// Config holds Discord channel configuration.
type Config struct {
	// Token is the Discord bot token.
	Token string `yaml:"token"`

	// AllowedChannels restricts which channel IDs the bot responds in.
	// Empty means respond in all channels.
	AllowedChannels []string `yaml:"allowed_channels"`

	// SendTyping sends "typing..." indicators while processing.
	SendTyping bool `yaml:"send_typing"`
}

// Discord implements channels.Channel, channels.TypingChannel and
// channels.LimitedChannel.
type Discord struct {
	cfg     Config
	logger  *slog.Logger
	session *discordgo.Session

	messages chan *channels.IncomingMessage

	connected  atomic.Bool
	lastMsg    atomic.Value // time.Time
	errorCount atomic.Int64
}

// New creates a new Discord channel instance.
func New(cfg Config, logger *slog.Logger) *Discord {
	if logger == nil {
		logger = slog.Default()
	}
	return &Discord{
		cfg:      cfg,
		logger:   logger.With("component", "discord"),
		messages: make(chan *channels.IncomingMessage, 256),
	}
}

// ---------- Channel Interface ----------

// Name returns "discord".
func (d *Discord) Name() string { return "discord" }

// Connect opens the Discord gateway WebSocket connection.
func (d *Discord) Connect(ctx context.Context) error {
	if d.cfg.Token == "" {
		return fmt.Errorf("discord: bot token is required")
	}
	if d.connected.Load() {
		return nil
	}

	session, err := discordgo.New("Bot " + d.cfg.Token)
	if err != nil {
		return fmt.Errorf("discord: creating session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	session.AddHandler(d.onMessageCreate)

	if err := session.Open(); err != nil {
		return fmt.Errorf("discord: opening gateway: %w", err)
	}

	d.session = session
	d.connected.Store(true)

	user := session.State.User
	d.logger.Info("discord: connected", "bot", user.Username, "id", user.ID)
	return nil
}

// Disconnect closes the Discord gateway connection.
func (d *Discord) Disconnect() error {
	if d.session != nil {
		if err := d.session.Close(); err != nil {
			d.logger.Warn("discord: closing session", "error", err)
		}
	}
	if d.connected.Swap(false) {
		d.logger.Info("discord: disconnected")
	}
	return nil
}

// Send sends a text message to the specified channel.
func (d *Discord) Send(ctx context.Context, to string, message *channels.OutgoingMessage) error {
	if d.session == nil || !d.connected.Load() {
		return channels.ErrChannelDisconnected
	}

	msgSend := &discordgo.MessageSend{Content: message.Content}
	if message.ReplyTo != "" {
		msgSend.Reference = &discordgo.MessageReference{MessageID: message.ReplyTo, ChannelID: to}
	}
	if _, err := d.session.ChannelMessageSendComplex(to, msgSend, discordgo.WithContext(ctx)); err != nil {
		d.errorCount.Add(1)
		return fmt.Errorf("%w: %w", channels.ErrSendFailed, err)
	}
	return nil
}

// Receive returns the incoming messages channel.
func (d *Discord) Receive() <-chan *channels.IncomingMessage {
	return d.messages
}

// IsConnected returns true if the bot is connected.
func (d *Discord) IsConnected() bool { return d.connected.Load() }

// Health returns the channel health status.
func (d *Discord) Health() channels.HealthStatus {
	var lastAt time.Time
	if v := d.lastMsg.Load(); v != nil {
		lastAt = v.(time.Time)
	}
	return channels.HealthStatus{
		Connected:     d.connected.Load(),
		LastMessageAt: lastAt,
		ErrorCount:    int(d.errorCount.Load()),
	}
}

// MaxMessageLength is Discord's per-message character limit.
func (d *Discord) MaxMessageLength() int { return channels.DiscordMaxMessageLength }

// SendTyping sends a typing indicator to the channel when enabled.
func (d *Discord) SendTyping(ctx context.Context, to string) error {
	if !d.cfg.SendTyping || d.session == nil {
		return nil
	}
	return d.session.ChannelTyping(to, discordgo.WithContext(ctx))
}

// ---------- Event Handlers ----------

// onMessageCreate handles incoming Discord messages.
func (d *Discord) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	botID := ""
	if s.State != nil && s.State.User != nil {
		botID = s.State.User.ID
	}

	incoming, ok := d.toIncoming(botID, m)
	if !ok {
		return
	}

	d.lastMsg.Store(time.Now())
	d.errorCount.Store(0)

	select {
	case d.messages <- incoming:
	default:
		d.logger.Warn("discord: message buffer full, dropping message", "msg_id", incoming.ID)
	}
}

// toIncoming converts a gateway message into an IncomingMessage. It reports
// false for messages the assistant should not see: its own, other bots',
// textless ones and those outside the channel allowlist.
func (d *Discord) toIncoming(botID string, m *discordgo.MessageCreate) (*channels.IncomingMessage, bool) {
	if m.Message == nil || m.Author == nil {
		return nil, false
	}
	if m.Author.ID == botID || m.Author.Bot {
		return nil, false
	}
	if len(d.cfg.AllowedChannels) > 0 && !slices.Contains(d.cfg.AllowedChannels, m.ChannelID) {
		return nil, false
	}

	content := m.Content
	if botID != "" {
		for _, mention := range []string{"<@" + botID + ">", "<@!" + botID + ">"} {
			content = strings.TrimPrefix(strings.TrimSpace(content), mention)
		}
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, false
	}

	from, err := strconv.ParseInt(m.Author.ID, 10, 64)
	if err != nil {
		d.logger.Warn("discord: non-numeric author id", "author", m.Author.ID)
		return nil, false
	}

	name := m.Author.GlobalName
	if name == "" {
		name = m.Author.Username
	}

	return &channels.IncomingMessage{
		ID:        m.ID,
		Channel:   "discord",
		From:      from,
		FromName:  name,
		ChatID:    m.ChannelID,
		Content:   content,
		Timestamp: m.Timestamp,
	}, true
}
