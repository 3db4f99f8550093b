// Package whatsapp implements the messaging gateway on WhatsApp using
// whatsmeow, a native Go WhatsApp Web API library. Session state lives in a
// SQLite store so the login survives restarts; first login requires a QR
// scan. WhatsApp offers no usable history API, so a bounded per-conversation
// ring buffer fed by live events backs History.
package whatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"go.mau.fi/whatsmeow"
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for the session store.

	"github.com/emissary-bot/emissary/pkg/emissary/channels"
	"github.com/emissary-bot/emissary/pkg/emissary/identity"
)

// Config holds WhatsApp gateway configuration.
type Config struct {
	// DatabasePath is the SQLite file for whatsmeow session storage.
	DatabasePath string `yaml:"database_path"`

	// OwnerUserID is the user the assistant acts for; inbound DMs are mapped
	// to conversations between this user and the sender.
	OwnerUserID string `yaml:"owner_user_id"`

	// HistoryLimit caps the per-conversation history ring buffer.
	HistoryLimit int `yaml:"history_limit"`
}

// WhatsApp implements channels.Gateway.
type WhatsApp struct {
	cfg    Config
	logger *slog.Logger
	client *whatsmeow.Client

	binder    *channels.Binder
	history   *channels.HistoryBuffer
	inbound   chan *channels.Message
	connected atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a WhatsApp gateway.
func New(cfg Config, logger *slog.Logger) *WhatsApp {
	return &WhatsApp{
		cfg:     cfg,
		logger:  logger.With("component", "whatsapp"),
		binder:  channels.NewBinder(),
		history: channels.NewHistoryBuffer(cfg.HistoryLimit),
		inbound: make(chan *channels.Message, 256),
	}
}

// Name returns "whatsapp".
func (w *WhatsApp) Name() string { return "whatsapp" }

// Connect establishes the WhatsApp Web connection. With no stored session the
// QR login runs in the background so startup is non-blocking; the QR code is
// printed to the log for scanning.
func (w *WhatsApp) Connect(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)

	dbPath := w.cfg.DatabasePath
	if dbPath == "" {
		dbPath = "./data/whatsapp.db"
	}
	container, err := sqlstore.New(w.ctx, "sqlite3",
		fmt.Sprintf("file:%s?_foreign_keys=1&_journal_mode=WAL", dbPath),
		waLog.Noop)
	if err != nil {
		return fmt.Errorf("creating session store: %w", err)
	}

	device, err := w.getDevice(w.ctx, container)
	if err != nil {
		return fmt.Errorf("getting device: %w", err)
	}
	store.SetOSInfo("Emissary", [3]uint32{1, 0, 0})

	w.client = whatsmeow.NewClient(device, waLog.Noop)
	w.client.AddEventHandler(w.handleEvent)
	w.client.EnableAutoReconnect = true
	w.client.InitialAutoReconnect = true

	if w.client.Store.ID == nil {
		w.logger.Info("whatsapp: no existing session, QR login required")
		go func() {
			if err := w.loginWithQR(w.ctx); err != nil {
				w.logger.Warn("whatsapp: QR login pending", "error", err)
			}
		}()
		return nil
	}

	if err := w.client.Connect(); err != nil {
		return fmt.Errorf("connecting: %w", err)
	}
	w.connected.Store(true)
	w.logger.Info("whatsapp: connected (existing session)")
	return nil
}

// Disconnect gracefully closes the connection.
func (w *WhatsApp) Disconnect() error {
	w.connected.Store(false)
	if w.cancel != nil {
		w.cancel()
	}
	if w.client != nil {
		w.client.Disconnect()
	}
	w.logger.Info("whatsapp: disconnected")
	return nil
}

// IsConnected reports connection state.
func (w *WhatsApp) IsConnected() bool { return w.connected.Load() }

// Bind associates a conversation with a WhatsApp JID, enabling outbound-first
// conversations. Accepts bare phone numbers or full JIDs.
func (w *WhatsApp) Bind(conversationID, jid string) error {
	parsed, err := parseJID(jid)
	if err != nil {
		return err
	}
	w.binder.Bind(conversationID, parsed.String())
	return nil
}

// SendMessage delivers a text message into the chat bound to the
// conversation and returns the WhatsApp message id.
func (w *WhatsApp) SendMessage(ctx context.Context, conversationID, senderID, body string) (string, error) {
	if !w.connected.Load() {
		return "", channels.ErrDisconnected
	}
	chat, ok := w.binder.Chat(conversationID)
	if !ok {
		return "", fmt.Errorf("whatsapp: conversation %s: %w", conversationID, channels.ErrUnboundConversation)
	}
	jid, err := parseJID(chat)
	if err != nil {
		return "", fmt.Errorf("invalid JID %q: %w", chat, err)
	}

	waMsg := &waE2E.Message{Conversation: proto.String(body)}
	resp, err := w.client.SendMessage(ctx, jid, waMsg)
	if err != nil {
		return "", fmt.Errorf("sending message: %w", err)
	}

	w.history.Append(channels.Message{
		ID:             string(resp.ID),
		ConversationID: conversationID,
		SenderID:       senderID,
		Body:           body,
		SentAt:         resp.Timestamp,
	})
	return string(resp.ID), nil
}

// History returns the buffered messages of a conversation, oldest first.
func (w *WhatsApp) History(ctx context.Context, conversationID string, limit int) ([]channels.Message, error) {
	return w.history.Last(conversationID, limit), nil
}

// Receive returns the inbound message stream.
func (w *WhatsApp) Receive() <-chan *channels.Message { return w.inbound }

// ---------- Events ----------

func (w *WhatsApp) handleEvent(evt any) {
	switch e := evt.(type) {
	case *events.Connected:
		w.connected.Store(true)
		w.logger.Info("whatsapp: connection established")
	case *events.Disconnected:
		w.connected.Store(false)
		w.logger.Warn("whatsapp: connection lost")
	case *events.Message:
		w.handleMessageEvt(e)
	}
}

// handleMessageEvt maps an inbound WhatsApp message to a canonical
// conversation and forwards it. Group chats and non-text payloads are
// ignored; outreach conversations are one-to-one text.
func (w *WhatsApp) handleMessageEvt(evt *events.Message) {
	if evt.Info.IsFromMe || evt.Info.IsGroup {
		return
	}
	if evt.Info.Chat.Server == "broadcast" {
		return
	}
	body := extractText(evt.Message)
	if body == "" {
		return
	}

	chat := evt.Info.Chat.String()
	sender := evt.Info.Sender.ToNonAD().String()
	conv, ok := w.binder.Conversation(chat)
	if !ok {
		conv = identity.ConversationID(w.cfg.OwnerUserID, sender)
		w.binder.Bind(conv, chat)
	}

	msg := &channels.Message{
		ID:             string(evt.Info.ID),
		ConversationID: conv,
		SenderID:       sender,
		Body:           body,
		SentAt:         evt.Info.Timestamp,
	}
	w.history.Append(*msg)

	select {
	case w.inbound <- msg:
	default:
		w.logger.Warn("whatsapp: inbound buffer full, dropping message",
			"chat", chat, "at", time.Now())
	}
}

// extractText pulls the plain-text body from a WhatsApp message.
func extractText(waMsg *waE2E.Message) string {
	if waMsg == nil {
		return ""
	}
	if text := waMsg.GetConversation(); text != "" {
		return text
	}
	if ext := waMsg.ExtendedTextMessage; ext != nil {
		return ext.GetText()
	}
	return ""
}

// ---------- Login ----------

// loginWithQR drives the QR login flow, logging each code for scanning.
func (w *WhatsApp) loginWithQR(ctx context.Context) error {
	qrChan, err := w.client.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("getting QR channel: %w", err)
	}
	if err := w.client.Connect(); err != nil {
		return fmt.Errorf("connecting for QR login: %w", err)
	}

	for item := range qrChan {
		switch item.Event {
		case "code":
			w.logger.Info("whatsapp: scan QR code to link device", "code", item.Code)
		case "success":
			w.connected.Store(true)
			w.logger.Info("whatsapp: QR login successful")
			return nil
		case "timeout":
			return fmt.Errorf("QR login timed out")
		}
	}
	return nil
}

func (w *WhatsApp) getDevice(ctx context.Context, container *sqlstore.Container) (*store.Device, error) {
	devices, err := container.GetAllDevices(ctx)
	if err != nil {
		return nil, err
	}
	if len(devices) > 0 {
		return devices[0], nil
	}
	return container.NewDevice(), nil
}

// parseJID converts a phone number or JID string to types.JID.
func parseJID(s string) (types.JID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return types.JID{}, fmt.Errorf("empty JID")
	}
	if strings.Contains(s, "@") {
		return types.ParseJID(s)
	}

	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
	if len(digits) < 10 {
		return types.JID{}, fmt.Errorf("phone number too short: %s", s)
	}
	return types.NewJID(digits, types.DefaultUserServer), nil
}
