// Package channels defines the messaging gateway interface and the types
// shared by its implementations (WhatsApp, Discord, in-memory loopback). The
// orchestrator and agent loop talk to conversations through this interface
// and never see platform chat identifiers.
package channels

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrDisconnected is returned when a gateway operation is attempted while
// the underlying connection is down.
var ErrDisconnected = errors.New("channel is not connected")

// ErrUnboundConversation is returned when a conversation id has no known
// platform chat behind it yet.
var ErrUnboundConversation = errors.New("conversation is not bound to a chat")

// Message is one chat message, inbound or outbound.
type Message struct {
	// ID is the content-addressed message identifier.
	ID string

	// ConversationID is the canonical conversation identifier.
	ConversationID string

	// SenderID identifies who sent the message.
	SenderID string

	// Body is the plain-text content.
	Body string

	// SentAt is when the message was sent.
	SentAt time.Time
}

// Gateway delivers chat messages and retrieves history for conversations.
type Gateway interface {
	// Name returns the gateway identifier (e.g. "whatsapp", "discord").
	Name() string

	// Connect establishes the connection to the messaging platform.
	Connect(ctx context.Context) error

	// Disconnect gracefully closes the connection.
	Disconnect() error

	// IsConnected reports whether the gateway is usable.
	IsConnected() bool

	// SendMessage delivers body into a conversation on behalf of senderID and
	// returns the delivered message id.
	SendMessage(ctx context.Context, conversationID, senderID, body string) (string, error)

	// History returns up to limit most recent messages of a conversation,
	// oldest first.
	History(ctx context.Context, conversationID string, limit int) ([]Message, error)

	// Receive returns a Go channel emitting inbound messages.
	Receive() <-chan *Message
}

// Binder maps canonical conversation ids to platform chat ids (and back).
// Gateways bind automatically when an inbound message arrives and accept
// explicit bindings for outbound-first conversations.
type Binder struct {
	mu     sync.RWMutex
	toChat map[string]string
	toConv map[string]string
}

// NewBinder creates an empty binder.
func NewBinder() *Binder {
	return &Binder{
		toChat: make(map[string]string),
		toConv: make(map[string]string),
	}
}

// Bind associates a conversation id with a platform chat id.
func (b *Binder) Bind(conversationID, chatID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.toChat[conversationID] = chatID
	b.toConv[chatID] = conversationID
}

// Chat returns the platform chat id for a conversation.
func (b *Binder) Chat(conversationID string) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	chat, ok := b.toChat[conversationID]
	return chat, ok
}

// Conversation returns the conversation id for a platform chat.
func (b *Binder) Conversation(chatID string) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	conv, ok := b.toConv[chatID]
	return conv, ok
}

// HistoryBuffer is a bounded per-conversation message ring used by gateways
// whose platforms do not offer a history API worth calling (WhatsApp) and by
// the loopback gateway.
type HistoryBuffer struct {
	mu    sync.RWMutex
	limit int
	byID  map[string][]Message
}

// NewHistoryBuffer creates a buffer keeping up to limit messages per
// conversation.
func NewHistoryBuffer(limit int) *HistoryBuffer {
	if limit <= 0 {
		limit = 200
	}
	return &HistoryBuffer{limit: limit, byID: make(map[string][]Message)}
}

// Append records a message for its conversation.
func (h *HistoryBuffer) Append(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	msgs := append(h.byID[msg.ConversationID], msg)
	if len(msgs) > h.limit {
		msgs = msgs[len(msgs)-h.limit:]
	}
	h.byID[msg.ConversationID] = msgs
}

// Last returns up to limit most recent messages, oldest first.
func (h *HistoryBuffer) Last(conversationID string, limit int) []Message {
	h.mu.RLock()
	defer h.mu.RUnlock()
	msgs := h.byID[conversationID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}
