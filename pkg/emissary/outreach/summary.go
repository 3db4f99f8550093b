// summary.go renders human-readable status reports for tasks. Used by the
// task_status agent tool and the tasks CLI command. The privacy rule applies
// here: reports use display names, never raw identifiers.
package outreach

import (
	"context"
	"fmt"
	"strings"
)

// TaskSummary is a point-in-time rollup of one task.
type TaskSummary struct {
	TaskID      string
	Title       string
	Status      TaskStatus
	Total       int
	Tracked     int
	Responded   int
	Awaiting    int
	Failed      int
	Canceled    int
	Completed   int
	Outstanding []string        // display names of tracked targets still awaiting
	Responses   []ResponseEntry // most recent reply per responded target
}

// Summarize builds a TaskSummary for a task.
func Summarize(ctx context.Context, store Store, taskID string) (*TaskSummary, error) {
	task, err := store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	targets, err := store.ListTargets(ctx, TargetFilter{TaskID: taskID})
	if err != nil {
		return nil, err
	}

	sum := &TaskSummary{
		TaskID: task.ID,
		Title:  task.Title,
		Status: task.Status,
		Total:  len(targets),
	}
	for _, t := range targets {
		if t.Tracked() {
			sum.Tracked++
		}
		switch t.Status {
		case TargetResponded:
			sum.Responded++
			if n := len(t.Meta.Responses); n > 0 {
				sum.Responses = append(sum.Responses, t.Meta.Responses[n-1])
			}
		case TargetPending, TargetAwaitingResponse:
			sum.Awaiting++
			if t.Tracked() {
				sum.Outstanding = append(sum.Outstanding, t.Name())
			}
		case TargetFailed:
			sum.Failed++
		case TargetCanceled:
			sum.Canceled++
		case TargetCompleted:
			sum.Completed++
		}
	}
	return sum, nil
}

// Render formats the summary for humans.
func (s *TaskSummary) Render() string {
	var b strings.Builder
	title := s.Title
	if title == "" {
		title = s.TaskID
	}
	fmt.Fprintf(&b, "%s - %s\n", title, s.Status)
	fmt.Fprintf(&b, "  recipients: %d (%d tracked)\n", s.Total, s.Tracked)
	fmt.Fprintf(&b, "  responded: %d, awaiting: %d, failed: %d, canceled: %d, done: %d\n",
		s.Responded, s.Awaiting, s.Failed, s.Canceled, s.Completed)
	if len(s.Outstanding) > 0 {
		fmt.Fprintf(&b, "  still waiting on: %s\n", strings.Join(s.Outstanding, ", "))
	}
	for _, r := range s.Responses {
		fmt.Fprintf(&b, "  reply: %q\n", r.Snippet)
	}
	return strings.TrimRight(b.String(), "\n")
}

// RenderNotice formats a ResponseNotice as the human-readable update the
// owner receives when a tracked recipient replies.
func RenderNotice(n *ResponseNotice) string {
	if n == nil {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s replied: %q", n.TargetName, n.Snippet)
	switch n.Outstanding {
	case 0:
		b.WriteString(" - everyone has responded now.")
	case 1:
		b.WriteString(" - still waiting on 1 more reply.")
	default:
		fmt.Fprintf(&b, " - still waiting on %d more replies.", n.Outstanding)
	}
	return b.String()
}

// ListSummaries rolls up all of an owner's tasks, newest first.
func ListSummaries(ctx context.Context, store Store, owner string, limit int) ([]*TaskSummary, error) {
	tasks, err := store.ListTasks(ctx, TaskFilter{OwnerUserID: owner, Limit: limit})
	if err != nil {
		return nil, err
	}
	out := make([]*TaskSummary, 0, len(tasks))
	for _, task := range tasks {
		sum, err := Summarize(ctx, store, task.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	return out, nil
}
