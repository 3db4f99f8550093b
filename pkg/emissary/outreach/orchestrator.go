// orchestrator.go mutates tasks and targets through their lifecycle and keeps
// the mirrored pair consistent. Every operation is read-compute-write against
// the store; there is no optimistic concurrency control because the only
// writers to a task pair are its owner and its single recipient.
package outreach

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/emissary-bot/emissary/pkg/emissary/identity"
)

// StateError is an authorization or lifecycle violation. Callers map it to a
// transport response instead of treating it as an internal failure.
type StateError struct {
	Code    string
	Message string
}

func (e *StateError) Error() string { return e.Code + ": " + e.Message }

// State error codes.
const (
	ErrNotOwner        = "not_owner"
	ErrAlreadyTerminal = "already_terminal"
	ErrStillActive     = "still_active"
)

// Recipient describes one recipient of a new outreach task.
type Recipient struct {
	UserID string

	// DisplayName is shown in notifications and summaries.
	DisplayName string

	// Tracked marks the recipient as expected to reply. Tracked recipients
	// get a mirror task on their side.
	Tracked bool

	// Context is free-form context about why this recipient is contacted.
	Context string
}

// ResponseNotice describes a recorded reply, for rendering a human-readable
// update to the task owner.
type ResponseNotice struct {
	OwnerUserID string
	TargetName  string
	Snippet     string

	// Outstanding is how many tracked targets on the owner's task still have
	// no reply.
	Outstanding int
}

// Orchestrator creates and mutates outreach tasks and their mirrors.
type Orchestrator struct {
	store  Store
	logger *slog.Logger

	// now is injectable for tests.
	now func() time.Time
}

// NewOrchestrator creates an orchestrator over the given store.
func NewOrchestrator(store Store, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		store:  store,
		logger: logger.With("component", "orchestrator"),
		now:    time.Now,
	}
}

// SetClock overrides the time source. Tests only.
func (o *Orchestrator) SetClock(now func() time.Time) { o.now = now }

// CreateTask creates an outreach task with one target per recipient. Tracked
// recipients additionally get a mirror task owned by them, containing a
// single target pointing back at the owner and already awaiting their reply.
func (o *Orchestrator) CreateTask(ctx context.Context, owner, assistant string, recipients []Recipient, prompt string, kind TaskKind, payload map[string]any) (*Task, []*Target, error) {
	if len(recipients) == 0 {
		return nil, nil, fmt.Errorf("create task: no recipients")
	}
	if kind == "" {
		kind = KindOutreach
	}
	now := o.now()

	task := &Task{
		ID:              uuid.New().String(),
		OwnerUserID:     owner,
		AssistantUserID: assistant,
		Kind:            kind,
		Status:          TaskMessaging,
		Title:           DeriveTitle(prompt),
		Prompt:          prompt,
		Payload:         payload,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := o.store.CreateTask(ctx, task); err != nil {
		return nil, nil, fmt.Errorf("create task: %w", err)
	}

	targets := make([]*Target, 0, len(recipients))
	for _, r := range recipients {
		conv := identity.ConversationID(owner, r.UserID)
		target := &Target{
			ID:             uuid.New().String(),
			TaskID:         task.ID,
			OwnerUserID:    owner,
			TargetUserID:   r.UserID,
			ConversationID: conv,
			Status:         TargetPending,
			Meta: TargetMeta{
				DisplayName:    r.DisplayName,
				TrackResponses: r.Tracked,
				Context:        r.Context,
				Originator:     owner,
			},
			CreatedAt: now,
			UpdatedAt: now,
		}

		if r.Tracked {
			mirrorID, err := o.createMirror(ctx, task, r, conv, now)
			if err != nil {
				return nil, nil, err
			}
			target.Meta.MirrorTaskID = mirrorID
		}

		if err := o.store.CreateTarget(ctx, target); err != nil {
			return nil, nil, fmt.Errorf("create target for %s: %w", r.UserID, err)
		}
		targets = append(targets, target)
	}

	o.logger.Info("task created",
		"task_id", task.ID,
		"owner", owner,
		"recipients", len(recipients),
	)
	return task, targets, nil
}

// createMirror builds the recipient-owned counterpart task and its single
// back-reference target. The mirror starts awaiting the recipient's reply.
func (o *Orchestrator) createMirror(ctx context.Context, primary *Task, r Recipient, conv string, now time.Time) (string, error) {
	mirror := &Task{
		ID:              uuid.New().String(),
		OwnerUserID:     r.UserID,
		AssistantUserID: primary.AssistantUserID,
		Kind:            KindIncoming,
		Status:          TaskAwaitingResponses,
		Title:           primary.Title,
		Prompt:          primary.Prompt,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := o.store.CreateTask(ctx, mirror); err != nil {
		return "", fmt.Errorf("create mirror task for %s: %w", r.UserID, err)
	}

	back := &Target{
		ID:             uuid.New().String(),
		TaskID:         mirror.ID,
		OwnerUserID:    r.UserID,
		TargetUserID:   primary.OwnerUserID,
		ConversationID: conv,
		Status:         TargetAwaitingResponse,
		Meta: TargetMeta{
			DisplayName:    primary.OwnerUserID,
			TrackResponses: true,
			MirrorTaskID:   primary.ID,
			Originator:     primary.OwnerUserID,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := o.store.CreateTarget(ctx, back); err != nil {
		return "", fmt.Errorf("create mirror target for %s: %w", r.UserID, err)
	}
	return mirror.ID, nil
}

// MarkMessaged records a successful delivery. Tracked targets move to
// awaiting_response, untracked ones are complete immediately. The transition
// is propagated to the linked mirror target and both task statuses are
// recomputed.
func (o *Orchestrator) MarkMessaged(ctx context.Context, targetID, messageID string) (*Target, error) {
	target, err := o.store.GetTarget(ctx, targetID)
	if err != nil {
		return nil, err
	}
	now := o.now()

	next := TargetCompleted
	if target.Tracked() {
		next = TargetAwaitingResponse
	}
	target.Status = next
	target.LastMessageID = messageID
	target.UpdatedAt = now
	if err := o.store.UpdateTarget(ctx, target); err != nil {
		return nil, err
	}

	if err := o.propagate(ctx, target, func(mirror *Target) {
		mirror.Status = TargetAwaitingResponse
		mirror.LastMessageID = messageID
		mirror.UpdatedAt = now
	}); err != nil {
		o.logger.Warn("mirror propagation failed", "target_id", targetID, "error", err)
	}

	if _, err := o.RefreshTaskStatus(ctx, target.TaskID); err != nil {
		return nil, err
	}
	return target, nil
}

// MarkFailed records a delivery failure: appends to the error log, sets the
// failed status, propagates to the mirror and recomputes both tasks.
func (o *Orchestrator) MarkFailed(ctx context.Context, targetID string, cause error) (*Target, error) {
	target, err := o.store.GetTarget(ctx, targetID)
	if err != nil {
		return nil, err
	}
	now := o.now()
	msg := "delivery failed"
	if cause != nil {
		msg = cause.Error()
	}

	target.Status = TargetFailed
	target.Meta.Errors = append(target.Meta.Errors, ErrorEntry{At: now, Message: msg})
	target.UpdatedAt = now
	if err := o.store.UpdateTarget(ctx, target); err != nil {
		return nil, err
	}

	if err := o.propagate(ctx, target, func(mirror *Target) {
		mirror.Status = TargetFailed
		mirror.Meta.Errors = append(mirror.Meta.Errors, ErrorEntry{At: now, Message: msg})
		mirror.UpdatedAt = now
	}); err != nil {
		o.logger.Warn("mirror propagation failed", "target_id", targetID, "error", err)
	}

	if _, err := o.RefreshTaskStatus(ctx, target.TaskID); err != nil {
		return nil, err
	}
	return target, nil
}

// RecordResponse records a matched inbound reply on a tracked target. The
// reply snippet is appended on both sides, the target (and its mirror) move
// to responded, both task statuses are recomputed, and a notice for the owner
// is returned. Untracked targets are a no-op.
func (o *Orchestrator) RecordResponse(ctx context.Context, targetID, messageID, body string, receivedAt time.Time) (*ResponseNotice, error) {
	target, err := o.store.GetTarget(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if !target.Tracked() {
		return nil, nil
	}
	now := o.now()
	snippet := ClipSnippet(body)
	entry := ResponseEntry{MessageID: messageID, Snippet: snippet, ReceivedAt: receivedAt}

	target.Status = TargetResponded
	target.LastResponseMessageID = messageID
	target.LastResponseAt = &receivedAt
	target.Meta.Responses = append(target.Meta.Responses, entry)
	target.UpdatedAt = now
	if err := o.store.UpdateTarget(ctx, target); err != nil {
		return nil, err
	}

	if err := o.propagate(ctx, target, func(mirror *Target) {
		mirror.Status = TargetResponded
		mirror.LastResponseMessageID = messageID
		at := receivedAt
		mirror.LastResponseAt = &at
		mirror.Meta.Responses = append(mirror.Meta.Responses, entry)
		mirror.UpdatedAt = now
	}); err != nil {
		o.logger.Warn("mirror propagation failed", "target_id", targetID, "error", err)
	}

	if _, err := o.RefreshTaskStatus(ctx, target.TaskID); err != nil {
		return nil, err
	}

	outstanding, err := o.outstandingCount(ctx, target.TaskID)
	if err != nil {
		return nil, err
	}

	o.logger.Info("response recorded",
		"target_id", targetID,
		"task_id", target.TaskID,
		"outstanding", outstanding,
	)
	return &ResponseNotice{
		OwnerUserID: target.OwnerUserID,
		TargetName:  target.Name(),
		Snippet:     snippet,
		Outstanding: outstanding,
	}, nil
}

// RefreshTaskStatus recomputes a task's aggregate status from its tracked
// targets. Deterministic and idempotent; untracked targets never influence
// the result. Canceled tasks are left alone.
func (o *Orchestrator) RefreshTaskStatus(ctx context.Context, taskID string) (TaskStatus, error) {
	task, err := o.store.GetTask(ctx, taskID)
	if err != nil {
		return "", err
	}
	if task.Status == TaskCanceled {
		return TaskCanceled, nil
	}

	targets, err := o.store.ListTargets(ctx, TargetFilter{TaskID: taskID})
	if err != nil {
		return "", err
	}

	var tracked, responded, failed, awaiting int
	for _, t := range targets {
		if !t.Tracked() {
			continue
		}
		tracked++
		switch t.Status {
		case TargetResponded:
			responded++
		case TargetFailed:
			failed++
		case TargetPending, TargetAwaitingResponse:
			awaiting++
		}
	}

	var next TaskStatus
	switch {
	case tracked == 0:
		next = TaskCompleted
	case responded >= tracked || awaiting == 0:
		if failed > 0 && responded < tracked {
			next = TaskPartial
		} else {
			next = TaskCompleted
		}
	default:
		next = TaskAwaitingResponses
	}

	if task.Status == next {
		return next, nil
	}
	now := o.now()
	task.Status = next
	task.UpdatedAt = now
	if next == TaskCompleted || next == TaskPartial {
		task.CompletedAt = &now
	} else {
		task.CompletedAt = nil
	}
	if err := o.store.UpdateTask(ctx, task); err != nil {
		return "", err
	}
	return next, nil
}

// Cancel cancels a task owned by owner. Every target that is neither
// terminal nor responded becomes canceled, with the transition propagated to
// its mirror (mirrors already responded or completed are skipped). The task
// itself becomes canceled.
func (o *Orchestrator) Cancel(ctx context.Context, owner, taskID string) error {
	task, err := o.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task.OwnerUserID != owner {
		return &StateError{Code: ErrNotOwner, Message: "task " + taskID + " is not owned by " + owner}
	}
	if task.Status.IsTerminal() {
		return &StateError{Code: ErrAlreadyTerminal, Message: "task " + taskID + " is already " + string(task.Status)}
	}

	targets, err := o.store.ListTargets(ctx, TargetFilter{TaskID: taskID})
	if err != nil {
		return err
	}
	now := o.now()
	for _, target := range targets {
		if target.Status.IsTerminal() {
			continue
		}
		target.Status = TargetCanceled
		target.UpdatedAt = now
		if err := o.store.UpdateTarget(ctx, target); err != nil {
			return err
		}

		if err := o.propagate(ctx, target, func(mirror *Target) {
			if mirror.Status == TargetResponded || mirror.Status == TargetCompleted {
				return
			}
			mirror.Status = TargetCanceled
			mirror.UpdatedAt = now
		}); err != nil {
			o.logger.Warn("mirror propagation failed", "target_id", target.ID, "error", err)
		}
	}

	task.Status = TaskCanceled
	task.UpdatedAt = now
	task.CompletedAt = nil
	if err := o.store.UpdateTask(ctx, task); err != nil {
		return err
	}
	o.logger.Info("task canceled", "task_id", taskID, "owner", owner)
	return nil
}

// Remove hard-deletes a terminal task and its targets, returning the number
// of targets removed. Non-terminal tasks are rejected with a still_active
// state error. Mirror tasks are never cascaded.
func (o *Orchestrator) Remove(ctx context.Context, owner, taskID string) (int, error) {
	task, err := o.store.GetTask(ctx, taskID)
	if err != nil {
		return 0, err
	}
	if task.OwnerUserID != owner {
		return 0, &StateError{Code: ErrNotOwner, Message: "task " + taskID + " is not owned by " + owner}
	}
	if !task.Status.IsTerminal() {
		return 0, &StateError{Code: ErrStillActive, Message: "task " + taskID + " is still active (" + string(task.Status) + ")"}
	}

	targets, err := o.store.ListTargets(ctx, TargetFilter{TaskID: taskID})
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, target := range targets {
		if err := o.store.DeleteTarget(ctx, target.ID); err != nil {
			return removed, err
		}
		removed++
	}
	if err := o.store.DeleteTask(ctx, taskID); err != nil {
		return removed, err
	}
	o.logger.Info("task removed", "task_id", taskID, "targets", removed)
	return removed, nil
}

// propagate applies mutate to the counterpart target in the mirror task and
// recomputes the mirror task's status. Missing mirrors are not an error for
// the primary write path; the caller logs and moves on (eventual symmetry,
// not strict atomicity).
func (o *Orchestrator) propagate(ctx context.Context, target *Target, mutate func(*Target)) error {
	mirrorTaskID := target.Meta.MirrorTaskID
	if mirrorTaskID == "" {
		return nil
	}

	mirrors, err := o.store.ListTargets(ctx, TargetFilter{
		TaskID:         mirrorTaskID,
		ConversationID: target.ConversationID,
	})
	if err != nil {
		return err
	}
	if len(mirrors) == 0 {
		return notFound("mirror target for task", mirrorTaskID)
	}

	mirror := mirrors[0]
	mutate(mirror)
	if err := o.store.UpdateTarget(ctx, mirror); err != nil {
		return err
	}

	_, err = o.RefreshTaskStatus(ctx, mirrorTaskID)
	return err
}

// outstandingCount counts tracked targets on a task that still await a reply.
func (o *Orchestrator) outstandingCount(ctx context.Context, taskID string) (int, error) {
	targets, err := o.store.ListTargets(ctx, TargetFilter{TaskID: taskID})
	if err != nil {
		return 0, err
	}
	n := 0
	for _, t := range targets {
		if !t.Tracked() {
			continue
		}
		if t.Status == TargetPending || t.Status == TargetAwaitingResponse {
			n++
		}
	}
	return n, nil
}
