package outreach

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := OpenSQLiteStore(filepath.Join(t.TempDir(), "tasks.db"))
	if err != nil {
		t.Fatalf("OpenSQLiteStore: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return store
}

func TestSQLiteStoreTaskRoundTrip(t *testing.T) {
	store := openTestSQLite(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 4, 10, 30, 0, 0, time.UTC)

	task := &Task{
		ID:              "t1",
		OwnerUserID:     "owner",
		AssistantUserID: "bot",
		Kind:            KindOutreach,
		Status:          TaskMessaging,
		Title:           "dinner friday",
		Prompt:          "dinner friday\nask everyone",
		Payload:         map[string]any{"recipients": float64(2)},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := store.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if err := store.CreateTask(ctx, task); err == nil {
		t.Error("duplicate CreateTask succeeded")
	}

	got, err := store.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Title != "dinner friday" || got.Kind != KindOutreach {
		t.Errorf("round trip lost fields: %+v", got)
	}
	if !got.CreatedAt.Equal(now) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, now)
	}
	if v, ok := got.Payload["recipients"].(float64); !ok || v != 2 {
		t.Errorf("payload round trip = %#v", got.Payload["recipients"])
	}

	got.Status = TaskCompleted
	done := now.Add(time.Hour)
	got.CompletedAt = &done
	if err := store.UpdateTask(ctx, got); err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}
	again, err := store.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("GetTask after update: %v", err)
	}
	if again.Status != TaskCompleted || again.CompletedAt == nil || !again.CompletedAt.Equal(done) {
		t.Errorf("update round trip: %+v", again)
	}

	if err := store.DeleteTask(ctx, "t1"); err != nil {
		t.Fatalf("DeleteTask: %v", err)
	}
	if _, err := store.GetTask(ctx, "t1"); !IsNotFound(err) {
		t.Errorf("expected not_found, got %v", err)
	}
}

func TestSQLiteStoreTargetMetaRoundTrip(t *testing.T) {
	store := openTestSQLite(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 4, 10, 30, 0, 0, time.UTC)
	reminded := now.Add(30 * time.Minute)

	target := &Target{
		ID:             "g1",
		TaskID:         "t1",
		OwnerUserID:    "owner",
		TargetUserID:   "u_dana",
		ConversationID: "conv_abc",
		Status:         TargetAwaitingResponse,
		LastMessageID:  "m1",
		Meta: TargetMeta{
			DisplayName:    "Dana",
			TrackResponses: true,
			Context:        "dinner plans",
			Originator:     "owner",
			Errors:         []ErrorEntry{{At: now, Message: "first try failed"}},
			Responses:      []ResponseEntry{{MessageID: "m2", Snippet: "sure", ReceivedAt: now}},
			RemindedAt:     &reminded,
			ReminderCount:  1,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := store.CreateTarget(ctx, target); err != nil {
		t.Fatalf("CreateTarget: %v", err)
	}

	got, err := store.GetTarget(ctx, "g1")
	if err != nil {
		t.Fatalf("GetTarget: %v", err)
	}
	if got.Meta.DisplayName != "Dana" || !got.Meta.TrackResponses {
		t.Errorf("meta round trip: %+v", got.Meta)
	}
	if len(got.Meta.Errors) != 1 || got.Meta.Errors[0].Message != "first try failed" {
		t.Errorf("error log round trip: %+v", got.Meta.Errors)
	}
	if len(got.Meta.Responses) != 1 || got.Meta.Responses[0].Snippet != "sure" {
		t.Errorf("responses round trip: %+v", got.Meta.Responses)
	}
	if got.Meta.RemindedAt == nil || !got.Meta.RemindedAt.Equal(reminded) {
		t.Errorf("RemindedAt round trip: %v", got.Meta.RemindedAt)
	}
}

func TestSQLiteStoreTargetFilters(t *testing.T) {
	store := openTestSQLite(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)

	mk := func(id string, status TargetStatus, age time.Duration) {
		t.Helper()
		err := store.CreateTarget(ctx, &Target{
			ID:             id,
			TaskID:         "t1",
			OwnerUserID:    "owner",
			TargetUserID:   "u-" + id,
			ConversationID: "conv-" + id,
			Status:         status,
			CreatedAt:      base.Add(-age),
			UpdatedAt:      base.Add(-age),
		})
		if err != nil {
			t.Fatalf("CreateTarget %s: %v", id, err)
		}
	}
	mk("a", TargetAwaitingResponse, 10*time.Hour)
	mk("b", TargetAwaitingResponse, 2*time.Hour)
	mk("c", TargetResponded, 5*time.Hour)

	t.Run("status and staleness, oldest first", func(t *testing.T) {
		got, err := store.ListTargets(ctx, TargetFilter{
			Status:        TargetAwaitingResponse,
			UpdatedBefore: base.Add(-4 * time.Hour),
		})
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 1 || got[0].ID != "a" {
			t.Errorf("got %+v, want only target a", got)
		}
	})

	t.Run("ordering and limit", func(t *testing.T) {
		got, err := store.ListTargets(ctx, TargetFilter{TaskID: "t1", Limit: 2})
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 2 || got[0].ID != "a" || got[1].ID != "c" {
			t.Errorf("oldest-first order broken: %+v", got)
		}
	})

	t.Run("conversation filter", func(t *testing.T) {
		got, err := store.ListTargets(ctx, TargetFilter{ConversationID: "conv-b"})
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 1 || got[0].ID != "b" {
			t.Errorf("got %+v, want target b", got)
		}
	})
}

func TestSQLiteStoreTaskListNewestFirst(t *testing.T) {
	store := openTestSQLite(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"t1", "t2", "t3"} {
		err := store.CreateTask(ctx, &Task{
			ID:          id,
			OwnerUserID: "owner",
			Kind:        KindOutreach,
			Status:      TaskAwaitingResponses,
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
			UpdatedAt:   base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("CreateTask %s: %v", id, err)
		}
	}

	got, err := store.ListTasks(ctx, TaskFilter{OwnerUserID: "owner"})
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(got) != 3 || got[0].ID != "t3" || got[2].ID != "t1" {
		t.Errorf("newest-first order broken: %+v", got)
	}

	limited, err := store.ListTasks(ctx, TaskFilter{OwnerUserID: "owner", Limit: 1})
	if err != nil {
		t.Fatalf("ListTasks limited: %v", err)
	}
	if len(limited) != 1 || limited[0].ID != "t3" {
		t.Errorf("limit broken: %+v", limited)
	}
}
