package outreach

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	return NewOrchestrator(store, testLogger()), store
}

// mirrorTarget returns the single back-reference target of a primary
// target's mirror task.
func mirrorTarget(t *testing.T, store Store, primary *Target) *Target {
	t.Helper()
	if primary.Meta.MirrorTaskID == "" {
		t.Fatalf("target %s has no mirror task", primary.ID)
	}
	mirrors, err := store.ListTargets(context.Background(), TargetFilter{TaskID: primary.Meta.MirrorTaskID})
	if err != nil {
		t.Fatalf("list mirror targets: %v", err)
	}
	if len(mirrors) != 1 {
		t.Fatalf("expected 1 mirror target, got %d", len(mirrors))
	}
	return mirrors[0]
}

func TestCreateTask(t *testing.T) {
	orch, store := newTestOrchestrator(t)
	ctx := context.Background()

	task, targets, err := orch.CreateTask(ctx, "owner", "bot",
		[]Recipient{
			{UserID: "u1", DisplayName: "Uma", Tracked: true},
			{UserID: "u2", DisplayName: "Umberto"},
		},
		"Ask about Friday\nMore detail here", KindOutreach, nil)
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	t.Run("title is first non-empty prompt line", func(t *testing.T) {
		if task.Title != "Ask about Friday" {
			t.Errorf("title = %q", task.Title)
		}
	})

	t.Run("targets start pending", func(t *testing.T) {
		if len(targets) != 2 {
			t.Fatalf("expected 2 targets, got %d", len(targets))
		}
		for _, target := range targets {
			if target.Status != TargetPending {
				t.Errorf("target %s status = %s", target.TargetUserID, target.Status)
			}
		}
	})

	t.Run("tracked recipient gets mirror awaiting their reply", func(t *testing.T) {
		mirror := mirrorTarget(t, store, targets[0])
		if mirror.Status != TargetAwaitingResponse {
			t.Errorf("mirror target status = %s", mirror.Status)
		}
		if mirror.TargetUserID != "owner" {
			t.Errorf("mirror points at %q, want owner", mirror.TargetUserID)
		}
		mirrorTask, err := store.GetTask(ctx, targets[0].Meta.MirrorTaskID)
		if err != nil {
			t.Fatalf("get mirror task: %v", err)
		}
		if mirrorTask.OwnerUserID != "u1" {
			t.Errorf("mirror task owner = %q", mirrorTask.OwnerUserID)
		}
		if mirrorTask.Status != TaskAwaitingResponses {
			t.Errorf("mirror task status = %s", mirrorTask.Status)
		}
		if mirror.Meta.MirrorTaskID != task.ID {
			t.Errorf("mirror back-reference = %q, want %q", mirror.Meta.MirrorTaskID, task.ID)
		}
	})

	t.Run("untracked recipient has no mirror", func(t *testing.T) {
		if targets[1].Meta.MirrorTaskID != "" {
			t.Errorf("untracked target has mirror %q", targets[1].Meta.MirrorTaskID)
		}
	})

	t.Run("same conversation id on both sides", func(t *testing.T) {
		mirror := mirrorTarget(t, store, targets[0])
		if mirror.ConversationID != targets[0].ConversationID {
			t.Errorf("conversation ids differ: %q vs %q", mirror.ConversationID, targets[0].ConversationID)
		}
	})
}

func TestScenarioMixedTracking(t *testing.T) {
	orch, store := newTestOrchestrator(t)
	ctx := context.Background()

	task, targets, err := orch.CreateTask(ctx, "owner", "bot",
		[]Recipient{
			{UserID: "u1", DisplayName: "Uma", Tracked: true},
			{UserID: "u2", DisplayName: "Umberto"},
		},
		"Dinner on Saturday?", KindOutreach, nil)
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	// Scenario A: send to both.
	if _, err := orch.MarkMessaged(ctx, targets[0].ID, "m1"); err != nil {
		t.Fatalf("MarkMessaged u1: %v", err)
	}
	if _, err := orch.MarkMessaged(ctx, targets[1].ID, "m2"); err != nil {
		t.Fatalf("MarkMessaged u2: %v", err)
	}

	u1, _ := store.GetTarget(ctx, targets[0].ID)
	u2, _ := store.GetTarget(ctx, targets[1].ID)
	if u2.Status != TargetCompleted {
		t.Errorf("untracked target status = %s, want completed", u2.Status)
	}
	if u1.Status != TargetAwaitingResponse {
		t.Errorf("tracked target status = %s, want awaiting_response", u1.Status)
	}
	got, _ := store.GetTask(ctx, task.ID)
	if got.Status != TaskAwaitingResponses {
		t.Errorf("task status = %s, want awaiting_responses", got.Status)
	}

	// Scenario B: u1 replies.
	notice, err := orch.RecordResponse(ctx, targets[0].ID, "r1", "Sounds great, see you there!", time.Now())
	if err != nil {
		t.Fatalf("RecordResponse: %v", err)
	}
	if notice == nil {
		t.Fatal("expected a notice for a tracked reply")
	}
	if notice.Outstanding != 0 {
		t.Errorf("outstanding = %d, want 0", notice.Outstanding)
	}
	if notice.TargetName != "Uma" {
		t.Errorf("notice name = %q", notice.TargetName)
	}

	u1, _ = store.GetTarget(ctx, targets[0].ID)
	if u1.Status != TargetResponded {
		t.Errorf("target status = %s, want responded", u1.Status)
	}
	if len(u1.Meta.Responses) != 1 {
		t.Fatalf("responses = %d, want 1", len(u1.Meta.Responses))
	}
	got, _ = store.GetTask(ctx, task.ID)
	if got.Status != TaskCompleted {
		t.Errorf("task status = %s, want completed", got.Status)
	}
	if got.CompletedAt == nil {
		t.Error("completed task has no CompletedAt")
	}

	// Mirror followed both transitions.
	mirror := mirrorTarget(t, store, targets[0])
	if mirror.Status != TargetResponded {
		t.Errorf("mirror status = %s, want responded", mirror.Status)
	}
	if len(mirror.Meta.Responses) != 1 {
		t.Errorf("mirror responses = %d, want 1", len(mirror.Meta.Responses))
	}
	mirrorTask, _ := store.GetTask(ctx, targets[0].Meta.MirrorTaskID)
	if mirrorTask.Status != TaskCompleted {
		t.Errorf("mirror task status = %s, want completed", mirrorTask.Status)
	}
}

func TestUntrackedDoesNotResolveTask(t *testing.T) {
	orch, store := newTestOrchestrator(t)
	ctx := context.Background()

	task, targets, err := orch.CreateTask(ctx, "owner", "bot",
		[]Recipient{
			{UserID: "t1", Tracked: true},
			{UserID: "t2", Tracked: true},
			{UserID: "u1"},
		},
		"ping", KindOutreach, nil)
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	for _, target := range targets {
		if _, err := orch.MarkMessaged(ctx, target.ID, "m-"+target.TargetUserID); err != nil {
			t.Fatalf("MarkMessaged: %v", err)
		}
	}

	got, _ := store.GetTask(ctx, task.ID)
	if got.Status != TaskAwaitingResponses {
		t.Errorf("task status = %s, want awaiting_responses while 2 tracked unresolved", got.Status)
	}
}

func TestZeroTrackedCompletesImmediately(t *testing.T) {
	orch, store := newTestOrchestrator(t)
	ctx := context.Background()

	task, _, err := orch.CreateTask(ctx, "owner", "bot",
		[]Recipient{{UserID: "u1"}, {UserID: "u2"}}, "fyi", KindOutreach, nil)
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	status, err := orch.RefreshTaskStatus(ctx, task.ID)
	if err != nil {
		t.Fatalf("RefreshTaskStatus: %v", err)
	}
	if status != TaskCompleted {
		t.Errorf("status = %s, want completed", status)
	}
	got, _ := store.GetTask(ctx, task.ID)
	if got.CompletedAt == nil {
		t.Error("CompletedAt not set")
	}
}

func TestRefreshIsIdempotent(t *testing.T) {
	orch, store := newTestOrchestrator(t)
	ctx := context.Background()

	task, targets, _ := orch.CreateTask(ctx, "owner", "bot",
		[]Recipient{{UserID: "u1", Tracked: true}}, "hello", KindOutreach, nil)
	if _, err := orch.MarkMessaged(ctx, targets[0].ID, "m1"); err != nil {
		t.Fatalf("MarkMessaged: %v", err)
	}

	first, err := orch.RefreshTaskStatus(ctx, task.ID)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	taskAfterFirst, _ := store.GetTask(ctx, task.ID)

	second, err := orch.RefreshTaskStatus(ctx, task.ID)
	if err != nil {
		t.Fatalf("refresh again: %v", err)
	}
	taskAfterSecond, _ := store.GetTask(ctx, task.ID)

	if first != second {
		t.Errorf("refresh not idempotent: %s then %s", first, second)
	}
	if !taskAfterFirst.UpdatedAt.Equal(taskAfterSecond.UpdatedAt) {
		t.Error("refresh rewrote an unchanged task")
	}
}

func TestMarkFailed(t *testing.T) {
	orch, store := newTestOrchestrator(t)
	ctx := context.Background()

	task, targets, _ := orch.CreateTask(ctx, "owner", "bot",
		[]Recipient{
			{UserID: "u1", Tracked: true},
			{UserID: "u2", Tracked: true},
		},
		"ping", KindOutreach, nil)

	if _, err := orch.MarkMessaged(ctx, targets[0].ID, "m1"); err != nil {
		t.Fatalf("MarkMessaged: %v", err)
	}
	if _, err := orch.MarkFailed(ctx, targets[1].ID, errors.New("gateway exploded")); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	failed, _ := store.GetTarget(ctx, targets[1].ID)
	if failed.Status != TargetFailed {
		t.Errorf("status = %s, want failed", failed.Status)
	}
	if len(failed.Meta.Errors) != 1 || failed.Meta.Errors[0].Message != "gateway exploded" {
		t.Errorf("error log = %+v", failed.Meta.Errors)
	}

	mirror := mirrorTarget(t, store, targets[1])
	if mirror.Status != TargetFailed {
		t.Errorf("mirror status = %s, want failed", mirror.Status)
	}

	// One tracked still awaiting → task stays open.
	got, _ := store.GetTask(ctx, task.ID)
	if got.Status != TaskAwaitingResponses {
		t.Errorf("task status = %s, want awaiting_responses", got.Status)
	}

	// Remaining tracked replies → partial (one failed, responded < tracked).
	if _, err := orch.RecordResponse(ctx, targets[0].ID, "r1", "sure", time.Now()); err != nil {
		t.Fatalf("RecordResponse: %v", err)
	}
	got, _ = store.GetTask(ctx, task.ID)
	if got.Status != TaskPartial {
		t.Errorf("task status = %s, want partial", got.Status)
	}
	if got.CompletedAt == nil {
		t.Error("partial task has no CompletedAt")
	}
}

func TestRecordResponseUntrackedIsNoop(t *testing.T) {
	orch, store := newTestOrchestrator(t)
	ctx := context.Background()

	_, targets, _ := orch.CreateTask(ctx, "owner", "bot",
		[]Recipient{{UserID: "u1"}}, "fyi", KindOutreach, nil)
	if _, err := orch.MarkMessaged(ctx, targets[0].ID, "m1"); err != nil {
		t.Fatalf("MarkMessaged: %v", err)
	}

	notice, err := orch.RecordResponse(ctx, targets[0].ID, "r1", "thanks", time.Now())
	if err != nil {
		t.Fatalf("RecordResponse: %v", err)
	}
	if notice != nil {
		t.Errorf("expected nil notice for untracked target, got %+v", notice)
	}
	got, _ := store.GetTarget(ctx, targets[0].ID)
	if got.Status != TargetCompleted {
		t.Errorf("status = %s, want completed (unchanged)", got.Status)
	}
	if len(got.Meta.Responses) != 0 {
		t.Errorf("responses recorded on untracked target: %+v", got.Meta.Responses)
	}
}

func TestCancel(t *testing.T) {
	orch, store := newTestOrchestrator(t)
	ctx := context.Background()

	task, targets, _ := orch.CreateTask(ctx, "owner", "bot",
		[]Recipient{
			{UserID: "u1", Tracked: true},
			{UserID: "u2", Tracked: true},
		},
		"ping", KindOutreach, nil)
	if _, err := orch.MarkMessaged(ctx, targets[0].ID, "m1"); err != nil {
		t.Fatalf("MarkMessaged: %v", err)
	}
	if _, err := orch.RecordResponse(ctx, targets[0].ID, "r1", "yes", time.Now()); err != nil {
		t.Fatalf("RecordResponse: %v", err)
	}
	// u2 never got messaged; still pending.

	t.Run("wrong owner rejected", func(t *testing.T) {
		err := orch.Cancel(ctx, "mallory", task.ID)
		var se *StateError
		if !errors.As(err, &se) || se.Code != ErrNotOwner {
			t.Errorf("err = %v, want not_owner", err)
		}
	})

	t.Run("scenario E", func(t *testing.T) {
		if err := orch.Cancel(ctx, "owner", task.ID); err != nil {
			t.Fatalf("Cancel: %v", err)
		}

		responded, _ := store.GetTarget(ctx, targets[0].ID)
		if responded.Status != TargetResponded {
			t.Errorf("responded target became %s", responded.Status)
		}
		respondedMirror := mirrorTarget(t, store, targets[0])
		if respondedMirror.Status != TargetResponded {
			t.Errorf("responded mirror became %s", respondedMirror.Status)
		}

		pending, _ := store.GetTarget(ctx, targets[1].ID)
		if pending.Status != TargetCanceled {
			t.Errorf("pending target = %s, want canceled", pending.Status)
		}
		pendingMirror := mirrorTarget(t, store, targets[1])
		if pendingMirror.Status != TargetCanceled {
			t.Errorf("pending mirror = %s, want canceled", pendingMirror.Status)
		}

		got, _ := store.GetTask(ctx, task.ID)
		if got.Status != TaskCanceled {
			t.Errorf("task status = %s, want canceled", got.Status)
		}
	})

	t.Run("cancel twice rejected", func(t *testing.T) {
		err := orch.Cancel(ctx, "owner", task.ID)
		var se *StateError
		if !errors.As(err, &se) || se.Code != ErrAlreadyTerminal {
			t.Errorf("err = %v, want already_terminal", err)
		}
	})
}

func TestRemove(t *testing.T) {
	orch, store := newTestOrchestrator(t)
	ctx := context.Background()

	task, targets, _ := orch.CreateTask(ctx, "owner", "bot",
		[]Recipient{{UserID: "u1", Tracked: true}, {UserID: "u2"}},
		"ping", KindOutreach, nil)
	mirrorTaskID := targets[0].Meta.MirrorTaskID

	t.Run("active task rejected", func(t *testing.T) {
		_, err := orch.Remove(ctx, "owner", task.ID)
		var se *StateError
		if !errors.As(err, &se) || se.Code != ErrStillActive {
			t.Errorf("err = %v, want still_active", err)
		}
	})

	if err := orch.Cancel(ctx, "owner", task.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	t.Run("terminal task removed with target count", func(t *testing.T) {
		removed, err := orch.Remove(ctx, "owner", task.ID)
		if err != nil {
			t.Fatalf("Remove: %v", err)
		}
		if removed != 2 {
			t.Errorf("removed = %d, want 2", removed)
		}
		if _, err := store.GetTask(ctx, task.ID); !IsNotFound(err) {
			t.Errorf("task still present: %v", err)
		}
	})

	t.Run("mirror task survives removal", func(t *testing.T) {
		if _, err := store.GetTask(ctx, mirrorTaskID); err != nil {
			t.Errorf("mirror task was cascaded: %v", err)
		}
	})
}

func TestMirrorEquivalenceAcrossTransitions(t *testing.T) {
	orch, store := newTestOrchestrator(t)
	ctx := context.Background()

	cases := []struct {
		name string
		act  func(t *testing.T, orch *Orchestrator, targetID string)
		want TargetStatus
	}{
		{
			name: "messaged",
			act: func(t *testing.T, orch *Orchestrator, id string) {
				if _, err := orch.MarkMessaged(ctx, id, "m"); err != nil {
					t.Fatal(err)
				}
			},
			want: TargetAwaitingResponse,
		},
		{
			name: "failed",
			act: func(t *testing.T, orch *Orchestrator, id string) {
				if _, err := orch.MarkFailed(ctx, id, errors.New("boom")); err != nil {
					t.Fatal(err)
				}
			},
			want: TargetFailed,
		},
		{
			name: "responded",
			act: func(t *testing.T, orch *Orchestrator, id string) {
				if _, err := orch.MarkMessaged(ctx, id, "m"); err != nil {
					t.Fatal(err)
				}
				if _, err := orch.RecordResponse(ctx, id, "r", "ok", time.Now()); err != nil {
					t.Fatal(err)
				}
			},
			want: TargetResponded,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, targets, err := orch.CreateTask(ctx, "owner", "bot",
				[]Recipient{{UserID: "u-" + tc.name, Tracked: true}}, "ping", KindOutreach, nil)
			if err != nil {
				t.Fatalf("CreateTask: %v", err)
			}
			tc.act(t, orch, targets[0].ID)

			primary, _ := store.GetTarget(ctx, targets[0].ID)
			mirror := mirrorTarget(t, store, targets[0])
			if primary.Status != tc.want {
				t.Errorf("primary = %s, want %s", primary.Status, tc.want)
			}
			if mirror.Status != tc.want {
				t.Errorf("mirror diverged: primary %s, mirror %s", primary.Status, mirror.Status)
			}
		})
	}
}
