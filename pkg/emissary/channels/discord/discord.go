// Package discord implements the messaging gateway on Discord using
// discordgo. Direct-message channels are bound to canonical conversation ids
// as messages flow, so the rest of the system never handles Discord channel
// ids.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/emissary-bot/emissary/pkg/emissary/channels"
	"github.com/emissary-bot/emissary/pkg/emissary/identity"
)

// Config holds Discord gateway configuration.
type Config struct {
	// Token is the Discord bot token.
	Token string `yaml:"token"`

	// OwnerUserID is the user the assistant acts for; inbound DMs are mapped
	// to conversations between this user and the Discord author.
	OwnerUserID string `yaml:"owner_user_id"`
}

// Discord implements channels.Gateway.
type Discord struct {
	cfg     Config
	logger  *slog.Logger
	session *discordgo.Session

	binder    *channels.Binder
	inbound   chan *channels.Message
	connected atomic.Bool

	cancel context.CancelFunc
}

// New creates a Discord gateway.
func New(cfg Config, logger *slog.Logger) *Discord {
	return &Discord{
		cfg:     cfg,
		logger:  logger.With("component", "discord"),
		binder:  channels.NewBinder(),
		inbound: make(chan *channels.Message, 256),
	}
}

// Name returns "discord".
func (d *Discord) Name() string { return "discord" }

// Connect opens the Discord gateway WebSocket connection.
func (d *Discord) Connect(ctx context.Context) error {
	if d.cfg.Token == "" {
		return fmt.Errorf("discord: bot token is required")
	}

	session, err := discordgo.New("Bot " + d.cfg.Token)
	if err != nil {
		return fmt.Errorf("discord: create session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	session.AddHandler(d.onMessageCreate)

	if err := session.Open(); err != nil {
		return fmt.Errorf("discord: open gateway: %w", err)
	}

	_, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.session = session
	d.connected.Store(true)
	d.logger.Info("discord connected", "user", session.State.User.Username)
	return nil
}

// Disconnect closes the gateway connection.
func (d *Discord) Disconnect() error {
	if d.cancel != nil {
		d.cancel()
	}
	d.connected.Store(false)
	if d.session != nil {
		return d.session.Close()
	}
	return nil
}

// IsConnected reports connection state.
func (d *Discord) IsConnected() bool { return d.connected.Load() }

// Bind associates a conversation with a Discord channel id, enabling
// outbound-first conversations.
func (d *Discord) Bind(conversationID, channelID string) {
	d.binder.Bind(conversationID, channelID)
}

// SendMessage delivers a message into the Discord channel bound to the
// conversation.
func (d *Discord) SendMessage(ctx context.Context, conversationID, senderID, body string) (string, error) {
	if !d.connected.Load() {
		return "", channels.ErrDisconnected
	}
	chatID, ok := d.binder.Chat(conversationID)
	if !ok {
		return "", fmt.Errorf("discord: conversation %s: %w", conversationID, channels.ErrUnboundConversation)
	}
	msg, err := d.session.ChannelMessageSend(chatID, body)
	if err != nil {
		return "", fmt.Errorf("discord: send to %s: %w", chatID, err)
	}
	return msg.ID, nil
}

// History fetches recent messages of the bound channel, oldest first.
func (d *Discord) History(ctx context.Context, conversationID string, limit int) ([]channels.Message, error) {
	if !d.connected.Load() {
		return nil, channels.ErrDisconnected
	}
	chatID, ok := d.binder.Chat(conversationID)
	if !ok {
		return nil, fmt.Errorf("discord: conversation %s: %w", conversationID, channels.ErrUnboundConversation)
	}
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	raw, err := d.session.ChannelMessages(chatID, limit, "", "", "")
	if err != nil {
		return nil, fmt.Errorf("discord: history of %s: %w", chatID, err)
	}

	// discordgo returns newest first.
	out := make([]channels.Message, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		m := raw[i]
		out = append(out, channels.Message{
			ID:             m.ID,
			ConversationID: conversationID,
			SenderID:       m.Author.ID,
			Body:           m.Content,
			SentAt:         m.Timestamp,
		})
	}
	return out, nil
}

// Receive returns the inbound message stream.
func (d *Discord) Receive() <-chan *channels.Message { return d.inbound }

// onMessageCreate maps an inbound Discord message to a canonical
// conversation and forwards it.
func (d *Discord) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}

	conv, ok := d.binder.Conversation(m.ChannelID)
	if !ok {
		conv = identity.ConversationID(d.cfg.OwnerUserID, m.Author.ID)
		d.binder.Bind(conv, m.ChannelID)
	}

	msg := &channels.Message{
		ID:             m.ID,
		ConversationID: conv,
		SenderID:       m.Author.ID,
		Body:           m.Content,
		SentAt:         m.Timestamp,
	}

	select {
	case d.inbound <- msg:
	default:
		d.logger.Warn("discord: inbound buffer full, dropping message",
			"channel", m.ChannelID, "at", time.Now())
	}
}
