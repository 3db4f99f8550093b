// memory.go implements a loopback gateway used by the chat REPL and tests.
// Messages "sent" through it are recorded in history and surfaced through a
// callback, so a local session behaves like a real channel without a network.
package channels

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/emissary-bot/emissary/pkg/emissary/identity"
)

// Loopback is an in-memory Gateway.
type Loopback struct {
	history   *HistoryBuffer
	inbound   chan *Message
	connected atomic.Bool

	// onSend observes outbound messages (REPL echo, test assertions).
	mu     sync.RWMutex
	onSend func(Message)

	// failNext holds an error to return from the next SendMessage call.
	failNext error

	now func() time.Time
}

// NewLoopback creates a loopback gateway.
func NewLoopback() *Loopback {
	return &Loopback{
		history: NewHistoryBuffer(500),
		inbound: make(chan *Message, 64),
		now:     time.Now,
	}
}

// Name returns "loopback".
func (l *Loopback) Name() string { return "loopback" }

// Connect marks the gateway connected.
func (l *Loopback) Connect(ctx context.Context) error {
	l.connected.Store(true)
	return nil
}

// Disconnect marks the gateway disconnected.
func (l *Loopback) Disconnect() error {
	l.connected.Store(false)
	return nil
}

// IsConnected reports connection state.
func (l *Loopback) IsConnected() bool { return l.connected.Load() }

// SetOnSend registers an observer for outbound messages.
func (l *Loopback) SetOnSend(fn func(Message)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onSend = fn
}

// FailNextSend makes the next SendMessage return err. Tests only.
func (l *Loopback) FailNextSend(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failNext = err
}

// SendMessage records the message and notifies the observer.
func (l *Loopback) SendMessage(ctx context.Context, conversationID, senderID, body string) (string, error) {
	if !l.connected.Load() {
		return "", ErrDisconnected
	}
	l.mu.Lock()
	if err := l.failNext; err != nil {
		l.failNext = nil
		l.mu.Unlock()
		return "", err
	}
	onSend := l.onSend
	l.mu.Unlock()

	sentAt := l.now()
	msg := Message{
		ID:             identity.MessageID(conversationID, senderID, body, sentAt),
		ConversationID: conversationID,
		SenderID:       senderID,
		Body:           body,
		SentAt:         sentAt,
	}
	l.history.Append(msg)
	if onSend != nil {
		onSend(msg)
	}
	return msg.ID, nil
}

// History returns recorded messages, oldest first.
func (l *Loopback) History(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	return l.history.Last(conversationID, limit), nil
}

// Receive returns the inbound message stream.
func (l *Loopback) Receive() <-chan *Message { return l.inbound }

// Inject simulates an inbound message from a counterpart. The message is
// recorded in history and pushed to Receive.
func (l *Loopback) Inject(conversationID, senderID, body string) *Message {
	sentAt := l.now()
	msg := Message{
		ID:             identity.MessageID(conversationID, senderID, body, sentAt),
		ConversationID: conversationID,
		SenderID:       senderID,
		Body:           body,
		SentAt:         sentAt,
	}
	l.history.Append(msg)
	l.inbound <- &msg
	return &msg
}
