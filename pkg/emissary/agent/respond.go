// respond.go matches inbound channel messages against targets awaiting a
// reply. A hit records the response (primary and mirror) and produces the
// notice text delivered to the task owner.
package agent

import (
	"context"
	"log/slog"

	"github.com/emissary-bot/emissary/pkg/emissary/channels"
	"github.com/emissary-bot/emissary/pkg/emissary/outreach"
)

// Responder turns inbound messages into recorded responses.
type Responder struct {
	orch   *outreach.Orchestrator
	store  outreach.Store
	logger *slog.Logger
}

// NewResponder creates a responder over the given orchestrator and store.
func NewResponder(orch *outreach.Orchestrator, store outreach.Store, logger *slog.Logger) *Responder {
	return &Responder{
		orch:   orch,
		store:  store,
		logger: logger.With("component", "responder"),
	}
}

// OwnerNotice is one rendered update for a task owner after a reply matched.
type OwnerNotice struct {
	OwnerUserID string
	Text        string
}

// HandleInbound checks whether msg is a reply someone was waiting for. It
// matches targets in the message's conversation that are awaiting a response
// from the sender; each match is recorded and yields a notice for that
// task's owner. A message that matches nothing returns an empty slice, which
// signals the caller to treat it as a fresh request instead.
func (r *Responder) HandleInbound(ctx context.Context, msg *channels.Message) ([]OwnerNotice, error) {
	targets, err := r.store.ListTargets(ctx, outreach.TargetFilter{
		ConversationID: msg.ConversationID,
		Status:         outreach.TargetAwaitingResponse,
	})
	if err != nil {
		return nil, err
	}

	var notices []OwnerNotice
	for _, target := range targets {
		// Only the tracked person's own messages count as their reply. The
		// mirror back-target carries the originator as its target user and is
		// updated by propagation, never matched directly; skipping targets
		// whose originator sent the message excludes it.
		if target.TargetUserID != msg.SenderID || target.Meta.Originator == msg.SenderID {
			continue
		}
		notice, err := r.orch.RecordResponse(ctx, target.ID, msg.ID, msg.Body, msg.SentAt)
		if err != nil {
			r.logger.Error("recording response",
				"target_id", target.ID, "conversation_id", msg.ConversationID, "error", err)
			continue
		}
		if notice == nil {
			continue
		}
		notices = append(notices, OwnerNotice{
			OwnerUserID: notice.OwnerUserID,
			Text:        outreach.RenderNotice(notice),
		})
		r.logger.Info("reply matched",
			"target_id", target.ID,
			"sender", msg.SenderID,
			"outstanding", notice.Outstanding,
		)
	}
	return notices, nil
}
