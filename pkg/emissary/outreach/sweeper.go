// sweeper.go implements the reminder sweep: a periodic, idempotent batch job
// that nudges recipients who have gone quiet. It has no per-target lease, so
// two concurrent sweepers can double-send outside the dedup window; the dedup
// stamp (RemindedAt) is the only guard.
package outreach

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// MessageSender is the slice of the messaging gateway the sweeper needs.
type MessageSender interface {
	SendMessage(ctx context.Context, conversationID, senderID, body string) (string, error)
}

// SweepParams tunes one reminder sweep.
type SweepParams struct {
	// ThresholdHours is how stale a target must be before it is nudged, and
	// also the dedup window: a target reminded within the window is skipped.
	ThresholdHours int

	// Limit caps how many targets one sweep touches.
	Limit int
}

// SweepResult summarizes one sweep run.
type SweepResult struct {
	Scanned  int
	Reminded int
	Skipped  int
	Failed   int
}

// Sweeper periodically nudges stale awaiting_response targets.
type Sweeper struct {
	store  Store
	sender MessageSender
	logger *slog.Logger
	now    func() time.Time
}

// NewSweeper creates a reminder sweeper.
func NewSweeper(store Store, sender MessageSender, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		store:  store,
		sender: sender,
		logger: logger.With("component", "sweeper"),
		now:    time.Now,
	}
}

// SetClock overrides the time source. Tests only.
func (s *Sweeper) SetClock(now func() time.Time) { s.now = now }

// Run performs one sweep: stale awaiting_response targets, oldest first,
// capped at params.Limit. Targets reminded within the threshold window are
// skipped. Delivery failures are logged per target and never abort the
// sweep.
func (s *Sweeper) Run(ctx context.Context, params SweepParams) (*SweepResult, error) {
	if params.ThresholdHours <= 0 {
		params.ThresholdHours = 6
	}
	if params.Limit <= 0 {
		params.Limit = 25
	}
	now := s.now()
	threshold := time.Duration(params.ThresholdHours) * time.Hour
	cutoff := now.Add(-threshold)

	targets, err := s.store.ListTargets(ctx, TargetFilter{
		Status:        TargetAwaitingResponse,
		UpdatedBefore: cutoff,
		Limit:         params.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("select stale targets: %w", err)
	}

	result := &SweepResult{Scanned: len(targets)}
	for _, target := range targets {
		if at := target.Meta.RemindedAt; at != nil && now.Sub(*at) < threshold {
			result.Skipped++
			continue
		}

		task, err := s.store.GetTask(ctx, target.TaskID)
		if err != nil {
			s.logger.Warn("sweep: task lookup failed",
				"target_id", target.ID, "task_id", target.TaskID, "error", err)
			result.Failed++
			continue
		}

		body := reminderBody(task, target)
		if _, err := s.sender.SendMessage(ctx, target.ConversationID, task.AssistantUserID, body); err != nil {
			s.logger.Warn("sweep: reminder delivery failed",
				"target_id", target.ID, "conversation", target.ConversationID, "error", err)
			result.Failed++
			continue
		}

		at := now
		target.Meta.RemindedAt = &at
		target.Meta.ReminderCount++
		target.UpdatedAt = now
		if err := s.store.UpdateTarget(ctx, target); err != nil {
			s.logger.Warn("sweep: reminder stamp failed", "target_id", target.ID, "error", err)
			result.Failed++
			continue
		}
		result.Reminded++
	}

	s.logger.Info("reminder sweep complete",
		"scanned", result.Scanned,
		"reminded", result.Reminded,
		"skipped", result.Skipped,
		"failed", result.Failed,
	)
	return result, nil
}

// reminderBody renders the nudge sent into the stale conversation.
func reminderBody(task *Task, target *Target) string {
	name := target.Name()
	if task.Title != "" {
		return fmt.Sprintf("Hi %s, just a gentle reminder about: %s. A quick reply would be appreciated!", name, task.Title)
	}
	return fmt.Sprintf("Hi %s, just a gentle reminder: a reply to my earlier message would be appreciated!", name)
}
