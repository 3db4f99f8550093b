package assistant

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/emissary-bot/emissary/pkg/emissary/channels"
)

// gatewayMux fans a send or history call out across the registered gateways.
// A conversation typically lives on exactly one channel; gateways that do not
// know the conversation answer ErrUnboundConversation and the mux moves on.
type gatewayMux struct {
	mu       sync.RWMutex
	gateways []channels.Gateway
	logger   *slog.Logger
}

func newGatewayMux(logger *slog.Logger) *gatewayMux {
	return &gatewayMux{logger: logger.With("component", "gateway_mux")}
}

func (m *gatewayMux) add(g channels.Gateway) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gateways = append(m.gateways, g)
}

func (m *gatewayMux) all() []channels.Gateway {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]channels.Gateway, len(m.gateways))
	copy(out, m.gateways)
	return out
}

// SendMessage tries each connected gateway in registration order and returns
// the first successful delivery.
func (m *gatewayMux) SendMessage(ctx context.Context, conversationID, senderID, body string) (string, error) {
	lastErr := channels.ErrUnboundConversation
	for _, g := range m.all() {
		if !g.IsConnected() {
			continue
		}
		id, err := g.SendMessage(ctx, conversationID, senderID, body)
		if err == nil {
			return id, nil
		}
		if errors.Is(err, channels.ErrUnboundConversation) {
			continue
		}
		m.logger.Warn("send failed", "channel", g.Name(), "conversation", conversationID, "error", err)
		lastErr = err
	}
	return "", lastErr
}

// History returns the first non-empty history any connected gateway has for
// the conversation.
func (m *gatewayMux) History(ctx context.Context, conversationID string, limit int) ([]channels.Message, error) {
	var lastErr error
	for _, g := range m.all() {
		if !g.IsConnected() {
			continue
		}
		msgs, err := g.History(ctx, conversationID, limit)
		if err != nil {
			if !errors.Is(err, channels.ErrUnboundConversation) {
				lastErr = err
			}
			continue
		}
		if len(msgs) > 0 {
			return msgs, nil
		}
	}
	return nil, lastErr
}
