// Package outreach implements tracked outreach on a user's behalf: the
// assistant messages one or many recipients, records whether each one
// replied, and keeps a mirrored view of the same exchange on the recipient's
// side.
//
// Data model:
//   - A Task is a unit of outreach work owned by its initiator. Its status is
//     always recomputed from its targets.
//   - A Target is one recipient's state within a task.
//   - Every tracked recipient also gets a mirror task: a task owned by the
//     recipient with a single target pointing back at the original owner, so
//     both sides see the same exchange from their own perspective. The link
//     between the two is a weak reference (MirrorTaskID); deleting one side
//     never cascades to the other.
package outreach

import (
	"strings"
	"time"
	"unicode/utf8"
)

// TaskKind identifies what a task is for.
type TaskKind string

const (
	// KindOutreach is an outreach task created by the owner's assistant.
	KindOutreach TaskKind = "outreach"

	// KindIncoming is the recipient-side mirror of someone else's outreach.
	KindIncoming TaskKind = "incoming"
)

// TaskStatus is the aggregate state of a task, always derived from its
// targets (see RefreshTaskStatus) except for the creation and cancel states.
type TaskStatus string

const (
	// TaskMessaging means delivery to recipients is still in flight.
	TaskMessaging TaskStatus = "messaging"

	// TaskPending means the task exists but no delivery has started.
	TaskPending TaskStatus = "pending"

	// TaskAwaitingResponses means at least one tracked recipient has not
	// resolved yet.
	TaskAwaitingResponses TaskStatus = "awaiting_responses"

	// TaskPartial means all tracked recipients resolved but some failed.
	TaskPartial TaskStatus = "partial"

	// TaskCompleted means every tracked recipient resolved successfully.
	TaskCompleted TaskStatus = "completed"

	// TaskCanceled means the owner canceled the task.
	TaskCanceled TaskStatus = "canceled"
)

// IsTerminal reports whether the task can no longer change on its own.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskCompleted, TaskPartial, TaskCanceled:
		return true
	}
	return false
}

// TargetStatus is the state of a single recipient within a task.
type TargetStatus string

const (
	// TargetPending means no delivery attempt has been made yet.
	TargetPending TargetStatus = "pending"

	// TargetAwaitingResponse means the message was delivered and a reply is
	// expected.
	TargetAwaitingResponse TargetStatus = "awaiting_response"

	// TargetResponded means a matching reply was recorded.
	TargetResponded TargetStatus = "responded"

	// TargetFailed means delivery failed.
	TargetFailed TargetStatus = "failed"

	// TargetCanceled means the owner canceled before resolution.
	TargetCanceled TargetStatus = "canceled"

	// TargetCompleted means the message was delivered and no reply is
	// tracked.
	TargetCompleted TargetStatus = "completed"
)

// IsTerminal reports whether the target can no longer change on its own.
func (s TargetStatus) IsTerminal() bool {
	switch s {
	case TargetResponded, TargetFailed, TargetCanceled, TargetCompleted:
		return true
	}
	return false
}

const (
	// maxTitleLen caps the derived task title.
	maxTitleLen = 160

	// maxSnippetLen caps stored response snippets.
	maxSnippetLen = 360
)

// Task is a unit of tracked outreach work.
type Task struct {
	ID              string     `json:"id"`
	OwnerUserID     string     `json:"owner_user_id"`
	AssistantUserID string     `json:"assistant_user_id"`
	Kind            TaskKind   `json:"kind"`
	Status          TaskStatus `json:"status"`
	Title           string     `json:"title"`
	Prompt          string     `json:"prompt"`

	// Payload and Result are opaque to the orchestrator; callers use them to
	// round-trip request parameters and outcome summaries.
	Payload map[string]any `json:"payload,omitempty"`
	Result  map[string]any `json:"result,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Target is one recipient's state within a task.
type Target struct {
	ID             string       `json:"id"`
	TaskID         string       `json:"task_id"`
	OwnerUserID    string       `json:"owner_user_id"`
	TargetUserID   string       `json:"target_user_id"`
	ConversationID string       `json:"conversation_id"`
	Status         TargetStatus `json:"status"`

	// LastMessageID is the id of the most recent message the assistant
	// delivered for this target.
	LastMessageID string `json:"last_message_id,omitempty"`

	// LastResponseMessageID and LastResponseAt describe the most recent
	// matched reply.
	LastResponseMessageID string     `json:"last_response_message_id,omitempty"`
	LastResponseAt        *time.Time `json:"last_response_at,omitempty"`

	Meta TargetMeta `json:"meta"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TargetMeta is the per-target extension data. It is an explicit structure
// validated at the boundary rather than a loose map, so shape drift shows
// up as a parse error instead of silent data loss.
type TargetMeta struct {
	// DisplayName is the recipient's human-readable name.
	DisplayName string `json:"display_name,omitempty"`

	// TrackResponses marks the recipient as expected to reply before the
	// target counts as resolved.
	TrackResponses bool `json:"track_responses"`

	// Context is free-form context supplied when the outreach was created.
	Context string `json:"context,omitempty"`

	// MirrorTaskID is a weak reference to the counterpart task on the other
	// side of the conversation. Lookup only; no ownership, no cascade.
	MirrorTaskID string `json:"mirror_task_id,omitempty"`

	// Originator is the user the outreach was initiated for.
	Originator string `json:"originator,omitempty"`

	// Errors is the append-only delivery error log.
	Errors []ErrorEntry `json:"errors,omitempty"`

	// Responses is the append-only list of received reply snippets. A target
	// may be in the responded status only when this list is non-empty.
	Responses []ResponseEntry `json:"responses,omitempty"`

	// RemindedAt and ReminderCount track reminder sweeps.
	RemindedAt    *time.Time `json:"reminded_at,omitempty"`
	ReminderCount int        `json:"reminder_count,omitempty"`
}

// ErrorEntry is one recorded delivery failure.
type ErrorEntry struct {
	At      time.Time `json:"at"`
	Message string    `json:"message"`
}

// ResponseEntry is one recorded reply snippet.
type ResponseEntry struct {
	MessageID  string    `json:"message_id"`
	Snippet    string    `json:"snippet"`
	ReceivedAt time.Time `json:"received_at"`
}

// Tracked reports whether this target expects a reply.
func (t *Target) Tracked() bool {
	return t.Meta.TrackResponses
}

// Name returns the best human-readable name for the recipient.
func (t *Target) Name() string {
	if t.Meta.DisplayName != "" {
		return t.Meta.DisplayName
	}
	return t.TargetUserID
}

// DeriveTitle returns the first non-empty line of a prompt, clipped to the
// title limit.
func DeriveTitle(prompt string) string {
	for _, line := range strings.Split(prompt, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		return clipRunes(line, maxTitleLen)
	}
	return ""
}

// ClipSnippet trims and clips a reply body for storage.
func ClipSnippet(body string) string {
	return clipRunes(strings.TrimSpace(body), maxSnippetLen)
}

// clipRunes caps s at max characters without splitting a rune.
func clipRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}
