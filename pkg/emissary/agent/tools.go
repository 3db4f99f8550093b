// tools.go registers the outreach tools exposed to the LLM: creating
// fan-out tasks, checking status, canceling and removing tasks, and reading
// conversation history. All replies to the LLM carry raw ids; the system
// prompt forbids surfacing them to humans.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/emissary-bot/emissary/pkg/emissary/channels"
	"github.com/emissary-bot/emissary/pkg/emissary/identity"
	"github.com/emissary-bot/emissary/pkg/emissary/outreach"
)

// Messenger is the slice of a channel gateway the tools need.
type Messenger interface {
	SendMessage(ctx context.Context, conversationID, senderID, body string) (string, error)
	History(ctx context.Context, conversationID string, limit int) ([]channels.Message, error)
}

// Tools binds the orchestrator and gateway to LLM-callable handlers.
type Tools struct {
	orch      *outreach.Orchestrator
	store     outreach.Store
	gateway   Messenger
	policy    SafetyPolicy
	owner     string
	assistant string
	logger    *slog.Logger
}

// NewTools creates the tool set for one owner's assistant.
func NewTools(orch *outreach.Orchestrator, store outreach.Store, gateway Messenger, policy SafetyPolicy, owner, assistant string, logger *slog.Logger) *Tools {
	if policy.MaxRecipients <= 0 {
		policy.MaxRecipients = 10
	}
	if policy.ConfirmThreshold <= 0 {
		policy.ConfirmThreshold = 3
	}
	return &Tools{
		orch:      orch,
		store:     store,
		gateway:   gateway,
		policy:    policy,
		owner:     owner,
		assistant: assistant,
		logger:    logger.With("component", "tools"),
	}
}

// RegisterAll registers every tool on the executor.
func (t *Tools) RegisterAll(e *ToolExecutor) {
	e.Register(sendOutreachDef, t.SendOutreach)
	e.Register(taskStatusDef, t.TaskStatus)
	e.Register(listTasksDef, t.ListTasks)
	e.Register(cancelTaskDef, t.CancelTask)
	e.Register(removeTaskDef, t.RemoveTask)
	e.Register(conversationHistoryDef, t.ConversationHistory)
	e.Register(proposeSlotsDef, t.ProposeSlots)
	e.Register(collectAvailabilityDef, t.CollectAvailability)
	e.Register(finalizeMeetingDef, t.FinalizeMeeting)
}

// ---------- Definitions ----------

var sendOutreachDef = ToolDefinition{
	Type: "function",
	Function: FunctionDef{
		Name: "send_outreach",
		Description: "Send a message to one or more recipients on behalf of the owner. " +
			"Creates an outreach task and tracks replies for recipients marked track_responses. " +
			"Messaging many recipients or sensitive content requires confirmed=true after the owner agrees.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"message": {"type": "string", "description": "The message to send to each recipient."},
				"recipients": {
					"type": "array",
					"items": {
						"type": "object",
						"properties": {
							"user_id": {"type": "string", "description": "Platform user id of the recipient."},
							"display_name": {"type": "string", "description": "Name to use when referring to this person."},
							"track_responses": {"type": "boolean", "description": "Whether to wait for and track a reply."},
							"context": {"type": "string", "description": "Why this person is being contacted."}
						},
						"required": ["user_id"]
					}
				},
				"confirmed": {"type": "boolean", "description": "Set true only after the owner explicitly confirmed a gated request."}
			},
			"required": ["message", "recipients"]
		}`),
	},
}

var taskStatusDef = ToolDefinition{
	Type: "function",
	Function: FunctionDef{
		Name:        "task_status",
		Description: "Get the current status of an outreach task: who responded, who is still pending, failures.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"task_id": {"type": "string", "description": "The task to report on."}
			},
			"required": ["task_id"]
		}`),
	},
}

var listTasksDef = ToolDefinition{
	Type: "function",
	Function: FunctionDef{
		Name:        "list_tasks",
		Description: "List the owner's outreach tasks, newest first, with a status rollup for each.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"limit": {"type": "integer", "description": "Maximum tasks to return (default 10)."}
			}
		}`),
	},
}

var cancelTaskDef = ToolDefinition{
	Type: "function",
	Function: FunctionDef{
		Name:        "cancel_task",
		Description: "Cancel an active outreach task. Recipients that already replied keep their reply; everyone else stops being tracked.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"task_id": {"type": "string", "description": "The task to cancel."}
			},
			"required": ["task_id"]
		}`),
	},
}

var removeTaskDef = ToolDefinition{
	Type: "function",
	Function: FunctionDef{
		Name:        "remove_task",
		Description: "Permanently delete a finished (completed, partial, or canceled) task and its recipient records.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"task_id": {"type": "string", "description": "The task to remove."}
			},
			"required": ["task_id"]
		}`),
	},
}

var conversationHistoryDef = ToolDefinition{
	Type: "function",
	Function: FunctionDef{
		Name:        "conversation_history",
		Description: "Read recent messages exchanged with one person, oldest first.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"user_id": {"type": "string", "description": "The counterpart's user id."},
				"limit": {"type": "integer", "description": "Maximum messages to return (default 20)."}
			},
			"required": ["user_id"]
		}`),
	},
}

// ---------- Handlers ----------

// outreachRecipient is the wire shape of one recipient in send_outreach args.
type outreachRecipient struct {
	UserID         string `json:"user_id"`
	DisplayName    string `json:"display_name"`
	TrackResponses bool   `json:"track_responses"`
	Context        string `json:"context"`
}

// sendReport is one recipient's delivery outcome in the send_outreach result.
type sendReport struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name,omitempty"`
	Status      string `json:"status"` // "sent" or "failed"
	Error       string `json:"error,omitempty"`
}

// SendOutreach validates the request against the safety gates, creates the
// task with its targets and mirrors, then delivers the message to each
// recipient in order. A failed send marks that target failed and moves on;
// it never aborts the rest of the fan-out.
func (t *Tools) SendOutreach(ctx context.Context, args map[string]any) (any, error) {
	message, _ := args["message"].(string)
	if strings.TrimSpace(message) == "" {
		return nil, fmt.Errorf("message must not be empty")
	}

	recipients, err := parseRecipients(args["recipients"])
	if err != nil {
		return nil, err
	}
	if len(recipients) == 0 {
		return nil, fmt.Errorf("at least one recipient with a user_id is required")
	}
	if len(recipients) > t.policy.MaxRecipients {
		return map[string]any{
			"error":      "too_many_recipients",
			"reason":     fmt.Sprintf("%d recipients exceeds the hard limit of %d", len(recipients), t.policy.MaxRecipients),
			"recipients": len(recipients),
			"limit":      t.policy.MaxRecipients,
		}, nil
	}

	confirmed, _ := args["confirmed"].(bool)
	if check := t.policy.EvaluateConfirmation(message, len(recipients)); check.Required && !confirmed {
		t.logger.Info("outreach held for confirmation",
			"recipients", len(recipients), "reason", check.Reason)
		return map[string]any{
			"error":      "confirmation_required",
			"reason":     check.Reason,
			"recipients": len(recipients),
			"limit":      t.policy.ConfirmThreshold,
		}, nil
	}

	task, targets, err := t.orch.CreateTask(ctx, t.owner, t.assistant, recipients, message, outreach.KindOutreach, nil)
	if err != nil {
		return nil, err
	}

	reports := make([]sendReport, 0, len(targets))
	sent, failed := 0, 0
	for _, target := range targets {
		report := sendReport{
			UserID:      target.TargetUserID,
			DisplayName: target.Meta.DisplayName,
		}
		msgID, sendErr := t.gateway.SendMessage(ctx, target.ConversationID, t.assistant, message)
		if sendErr != nil {
			failed++
			report.Status = "failed"
			report.Error = sendErr.Error()
			if _, markErr := t.orch.MarkFailed(ctx, target.ID, sendErr); markErr != nil {
				t.logger.Error("marking target failed", "target_id", target.ID, "error", markErr)
			}
			t.logger.Warn("outreach delivery failed",
				"task_id", task.ID, "recipient", target.TargetUserID, "error", sendErr)
		} else {
			sent++
			report.Status = "sent"
			if _, markErr := t.orch.MarkMessaged(ctx, target.ID, msgID); markErr != nil {
				t.logger.Error("marking target messaged", "target_id", target.ID, "error", markErr)
			}
		}
		reports = append(reports, report)
	}

	return map[string]any{
		"task_id":    task.ID,
		"title":      task.Title,
		"recipients": reports,
		"sent":       sent,
		"failed":     failed,
	}, nil
}

// TaskStatus renders the rollup for one task.
func (t *Tools) TaskStatus(ctx context.Context, args map[string]any) (any, error) {
	taskID, _ := args["task_id"].(string)
	if taskID == "" {
		return nil, fmt.Errorf("task_id is required")
	}
	sum, err := outreach.Summarize(ctx, t.store, taskID)
	if err != nil {
		return nil, err
	}
	return sum.Render(), nil
}

// ListTasks renders rollups for the owner's tasks, newest first.
func (t *Tools) ListTasks(ctx context.Context, args map[string]any) (any, error) {
	limit := intArg(args, "limit", 10)
	sums, err := outreach.ListSummaries(ctx, t.store, t.owner, limit)
	if err != nil {
		return nil, err
	}
	if len(sums) == 0 {
		return "No tasks.", nil
	}
	lines := make([]string, 0, len(sums))
	for _, s := range sums {
		lines = append(lines, fmt.Sprintf("[%s] %s", s.TaskID, s.Render()))
	}
	return strings.Join(lines, "\n\n"), nil
}

// CancelTask cancels an active task owned by the current owner.
func (t *Tools) CancelTask(ctx context.Context, args map[string]any) (any, error) {
	taskID, _ := args["task_id"].(string)
	if taskID == "" {
		return nil, fmt.Errorf("task_id is required")
	}
	if err := t.orch.Cancel(ctx, t.owner, taskID); err != nil {
		return nil, err
	}
	return map[string]any{"task_id": taskID, "status": "canceled"}, nil
}

// RemoveTask deletes a terminal task and reports how many recipient records
// went with it.
func (t *Tools) RemoveTask(ctx context.Context, args map[string]any) (any, error) {
	taskID, _ := args["task_id"].(string)
	if taskID == "" {
		return nil, fmt.Errorf("task_id is required")
	}
	removed, err := t.orch.Remove(ctx, t.owner, taskID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"task_id": taskID, "removed_targets": removed}, nil
}

// ConversationHistory returns recent messages with one counterpart.
func (t *Tools) ConversationHistory(ctx context.Context, args map[string]any) (any, error) {
	userID, _ := args["user_id"].(string)
	if userID == "" {
		return nil, fmt.Errorf("user_id is required")
	}
	limit := intArg(args, "limit", 20)

	conv := identity.ConversationID(t.owner, userID)
	msgs, err := t.gateway.History(ctx, conv, limit)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return "No messages yet.", nil
	}
	var b strings.Builder
	for _, m := range msgs {
		fmt.Fprintf(&b, "[%s] %s: %s\n", m.SentAt.Format("2006-01-02 15:04"), m.SenderID, m.Body)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// ---------- Argument Helpers ----------

// parseRecipients decodes and dedups the recipients argument. Entries with an
// empty user_id are dropped; a repeated user_id keeps the first entry.
func parseRecipients(raw any) ([]outreach.Recipient, error) {
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("recipients must be an array")
	}

	seen := make(map[string]bool, len(list))
	out := make([]outreach.Recipient, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		var r outreachRecipient
		b, err := json.Marshal(m)
		if err != nil {
			continue
		}
		if err := json.Unmarshal(b, &r); err != nil {
			return nil, fmt.Errorf("invalid recipient: %w", err)
		}
		r.UserID = strings.TrimSpace(r.UserID)
		if r.UserID == "" || seen[r.UserID] {
			continue
		}
		seen[r.UserID] = true
		out = append(out, outreach.Recipient{
			UserID:      r.UserID,
			DisplayName: r.DisplayName,
			Tracked:     r.TrackResponses,
			Context:     r.Context,
		})
	}
	return out, nil
}

// intArg reads an integer argument, tolerating the float64 JSON decodes to.
func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		if v > 0 {
			return int(v)
		}
	case int:
		if v > 0 {
			return v
		}
	}
	return def
}
