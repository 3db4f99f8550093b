// Package assistant wires the emissary components into a running service:
// the task store, the outreach orchestrator, the channel gateways, the LLM
// tool-use loop and the reminder sweeper. Commands construct an Assistant,
// register the gateways they need and call Start.
package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/emissary-bot/emissary/pkg/emissary/agent"
	"github.com/emissary-bot/emissary/pkg/emissary/channels"
	"github.com/emissary-bot/emissary/pkg/emissary/channels/discord"
	"github.com/emissary-bot/emissary/pkg/emissary/channels/whatsapp"
	"github.com/emissary-bot/emissary/pkg/emissary/config"
	"github.com/emissary-bot/emissary/pkg/emissary/identity"
	"github.com/emissary-bot/emissary/pkg/emissary/outreach"
)

// Assistant owns the wired component graph and the per-conversation session
// history. One Assistant serves all configured channels.
type Assistant struct {
	cfg    *config.Config
	logger *slog.Logger

	store     outreach.Store
	sqlite    *outreach.SQLiteStore
	orch      *outreach.Orchestrator
	responder *agent.Responder
	sweeper   *outreach.Sweeper
	loop      *agent.Loop
	mux       *gatewayMux

	systemPrompt string

	sessionsMu sync.Mutex
	sessions   map[string][]agent.ConversationEntry

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New opens the task store and builds the component graph. Gateways are not
// connected yet; register them and call Start.
func New(cfg *config.Config, logger *slog.Logger) (*Assistant, error) {
	store, err := outreach.OpenSQLiteStore(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("opening task store: %w", err)
	}

	a := &Assistant{
		cfg:      cfg,
		logger:   logger.With("component", "assistant"),
		store:    store,
		sqlite:   store,
		sessions: make(map[string][]agent.ConversationEntry),
	}
	a.mux = newGatewayMux(logger)
	a.orch = outreach.NewOrchestrator(store, logger)
	a.responder = agent.NewResponder(a.orch, store, logger)
	a.sweeper = outreach.NewSweeper(store, a.mux, logger)

	llm := agent.NewLLMClient(cfg, logger)
	executor := agent.NewToolExecutor(logger)
	tools := agent.NewTools(a.orch, store, a.mux, agent.SafetyPolicy{
		MaxRecipients:     cfg.Outreach.MaxRecipients,
		ConfirmThreshold:  cfg.Outreach.ConfirmThreshold,
		SensitiveKeywords: cfg.Outreach.SensitiveKeywords,
	}, cfg.OwnerUserID, cfg.AssistantUserID, logger)
	tools.RegisterAll(executor)

	a.loop = agent.NewLoop(llm, executor, cfg.Agent.MaxIterations, cfg.Agent.HistoryLimit, logger)
	a.systemPrompt = agent.SystemPrompt(cfg.Name, cfg.OwnerUserID)
	return a, nil
}

// RegisterGateway adds a gateway to the send mux and the inbound pump.
func (a *Assistant) RegisterGateway(g channels.Gateway) {
	a.mux.add(g)
}

// EnableConfiguredChannels registers the gateways the config turns on.
func (a *Assistant) EnableConfiguredChannels() {
	if a.cfg.Channels.WhatsApp.Enabled {
		a.RegisterGateway(whatsapp.New(whatsapp.Config{
			DatabasePath: a.cfg.Channels.WhatsApp.DatabasePath,
			OwnerUserID:  a.cfg.OwnerUserID,
			HistoryLimit: a.cfg.Channels.WhatsApp.HistoryLimit,
		}, a.logger))
	}
	if a.cfg.Channels.Discord.Enabled {
		a.RegisterGateway(discord.New(discord.Config{
			Token:       a.cfg.Channels.Discord.Token,
			OwnerUserID: a.cfg.OwnerUserID,
		}, a.logger))
	}
}

// Orchestrator exposes the task orchestrator for CLI commands.
func (a *Assistant) Orchestrator() *outreach.Orchestrator { return a.orch }

// Store exposes the task store for CLI commands.
func (a *Assistant) Store() outreach.Store { return a.store }

// Start connects every registered gateway and pumps their inbound messages
// into HandleMessage until ctx is canceled.
func (a *Assistant) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)

	gws := a.mux.all()
	if len(gws) == 0 {
		return fmt.Errorf("no channel gateway registered")
	}
	for _, g := range gws {
		if err := g.Connect(ctx); err != nil {
			return fmt.Errorf("connecting %s: %w", g.Name(), err)
		}
		a.logger.Info("channel connected", "channel", g.Name())

		a.wg.Add(1)
		go a.pump(ctx, g)
	}
	return nil
}

// Stop disconnects the gateways, waits for the pumps and closes the store.
func (a *Assistant) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
	for _, g := range a.mux.all() {
		if err := g.Disconnect(); err != nil {
			a.logger.Warn("disconnect failed", "channel", g.Name(), "error", err)
		}
	}
	a.wg.Wait()
	if err := a.sqlite.Close(); err != nil {
		a.logger.Warn("closing task store failed", "error", err)
	}
}

func (a *Assistant) pump(ctx context.Context, g channels.Gateway) {
	defer a.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-g.Receive():
			if !ok {
				return
			}
			if _, err := a.HandleMessage(ctx, msg); err != nil {
				a.logger.Error("message handling failed",
					"channel", g.Name(), "conversation", msg.ConversationID, "error", err)
			}
		}
	}
}

// HandleMessage processes one inbound message end to end. Reply detection
// runs first: when the message settles tracked outreach targets, the rendered
// notices are delivered to the owner and the agent loop is skipped. Otherwise
// messages from the owner go through the tool-use loop and the reply is sent
// back into the originating conversation. The reply text is returned for
// callers that render it themselves; it is empty when no reply was produced.
func (a *Assistant) HandleMessage(ctx context.Context, msg *channels.Message) (string, error) {
	notices, err := a.responder.HandleInbound(ctx, msg)
	if err != nil {
		return "", fmt.Errorf("recording inbound reply: %w", err)
	}
	if len(notices) > 0 {
		a.deliverNotices(ctx, notices)
		return "", nil
	}

	if msg.SenderID != a.cfg.OwnerUserID {
		a.logger.Debug("ignoring message from untracked sender",
			"sender", msg.SenderID, "conversation", msg.ConversationID)
		return "", nil
	}

	reply := a.loop.Run(ctx, a.systemPrompt, a.sessionHistory(msg.ConversationID), msg.Body)
	a.recordExchange(msg.ConversationID, msg.Body, reply, msg)

	if _, err := a.mux.SendMessage(ctx, msg.ConversationID, a.cfg.AssistantUserID, reply); err != nil {
		a.logger.Warn("reply delivery failed", "conversation", msg.ConversationID, "error", err)
	}
	return reply, nil
}

// Sweep runs the stale-target reminder pass with the configured parameters.
func (a *Assistant) Sweep(ctx context.Context) (*outreach.SweepResult, error) {
	return a.sweeper.Run(ctx, outreach.SweepParams{
		ThresholdHours: a.cfg.Reminder.ThresholdHours,
		Limit:          a.cfg.Reminder.Limit,
	})
}

// deliverNotices pushes reply notifications into the owner's own
// conversation, the same one the owner's direct messages arrive on.
func (a *Assistant) deliverNotices(ctx context.Context, notices []agent.OwnerNotice) {
	for _, n := range notices {
		conv := identity.ConversationID(n.OwnerUserID, n.OwnerUserID)
		if _, err := a.mux.SendMessage(ctx, conv, a.cfg.AssistantUserID, n.Text); err != nil {
			a.logger.Warn("notice delivery failed", "owner", n.OwnerUserID, "error", err)
			continue
		}
		a.logger.Info("reply notice delivered", "owner", n.OwnerUserID)
	}
}

func (a *Assistant) sessionHistory(conversationID string) []agent.ConversationEntry {
	a.sessionsMu.Lock()
	defer a.sessionsMu.Unlock()
	entries := a.sessions[conversationID]
	out := make([]agent.ConversationEntry, len(entries))
	copy(out, entries)
	return out
}

func (a *Assistant) recordExchange(conversationID, userMessage, reply string, msg *channels.Message) {
	a.sessionsMu.Lock()
	defer a.sessionsMu.Unlock()
	entries := append(a.sessions[conversationID], agent.ConversationEntry{
		UserMessage:       userMessage,
		AssistantResponse: reply,
		Timestamp:         msg.SentAt,
	})
	if limit := a.cfg.Agent.HistoryLimit; len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	a.sessions[conversationID] = entries
}
