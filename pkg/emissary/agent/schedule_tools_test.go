package agent

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errTest = errors.New("send failed")

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("parsing %q: %v", s, err)
	}
	return ts
}

func TestProposeSlots(t *testing.T) {
	window := func(start, end string) TimeSlot {
		return TimeSlot{Start: mustTime(t, start), End: mustTime(t, end)}
	}

	t.Run("slices window into default slots", func(t *testing.T) {
		slots := ProposeSlots([]TimeSlot{
			window("2026-09-01T09:00:00Z", "2026-09-01T11:00:00Z"),
		}, 0, 0)
		if len(slots) != 4 {
			t.Fatalf("expected 4 half-hour slots, got %d", len(slots))
		}
		if !slots[0].Start.Equal(mustTime(t, "2026-09-01T09:00:00Z")) ||
			!slots[0].End.Equal(mustTime(t, "2026-09-01T09:30:00Z")) {
			t.Fatalf("first slot wrong: %+v", slots[0])
		}
		if !slots[3].End.Equal(mustTime(t, "2026-09-01T11:00:00Z")) {
			t.Fatalf("last slot wrong: %+v", slots[3])
		}
	})

	t.Run("caps suggestions", func(t *testing.T) {
		slots := ProposeSlots([]TimeSlot{
			window("2026-09-01T08:00:00Z", "2026-09-01T18:00:00Z"),
		}, 30, 0)
		if len(slots) != 6 {
			t.Fatalf("expected default cap of 6, got %d", len(slots))
		}
	})

	t.Run("clamps duration and cap", func(t *testing.T) {
		// 5-minute request clamps to 15; cap of 50 clamps to 12.
		slots := ProposeSlots([]TimeSlot{
			window("2026-09-01T08:00:00Z", "2026-09-01T18:00:00Z"),
		}, 5, 50)
		if len(slots) != 12 {
			t.Fatalf("expected clamped cap of 12, got %d", len(slots))
		}
		if got := slots[0].End.Sub(slots[0].Start); got != 15*time.Minute {
			t.Fatalf("expected clamped 15m duration, got %s", got)
		}
	})

	t.Run("window shorter than slot yields nothing", func(t *testing.T) {
		slots := ProposeSlots([]TimeSlot{
			window("2026-09-01T09:00:00Z", "2026-09-01T09:20:00Z"),
		}, 30, 6)
		if len(slots) != 0 {
			t.Fatalf("expected no slots, got %d", len(slots))
		}
	})
}

func TestRankSlots(t *testing.T) {
	slot := func(start, end string) TimeSlot {
		return TimeSlot{Start: mustTime(t, start), End: mustTime(t, end)}
	}
	s1 := slot("2026-09-01T09:00:00Z", "2026-09-01T09:30:00Z")
	s2 := slot("2026-09-01T10:00:00Z", "2026-09-01T10:30:00Z")
	s3 := slot("2026-09-01T11:00:00Z", "2026-09-01T11:30:00Z")

	participants := []participantAvailability{
		{Name: "Dana", Available: []TimeSlot{slot("2026-09-01T09:00:00Z", "2026-09-01T12:00:00Z")}},
		{Name: "Lee", Available: []TimeSlot{slot("2026-09-01T10:00:00Z", "2026-09-01T10:30:00Z")}},
		{Name: "Sam", Available: []TimeSlot{slot("2026-09-01T10:15:00Z", "2026-09-01T12:00:00Z")}},
	}

	ranked := RankSlots([]TimeSlot{s1, s2, s3}, participants)
	if len(ranked) != 3 {
		t.Fatalf("expected 3 ranked slots, got %d", len(ranked))
	}

	// s2: Dana+Lee (Sam's window starts mid-slot). s3: Dana+Sam. Tie broken
	// by earlier start. s1: Dana only.
	if ranked[0].Available != 2 || !ranked[0].Start.Equal(s2.Start) {
		t.Fatalf("rank[0] = %+v", ranked[0])
	}
	if ranked[1].Available != 2 || !ranked[1].Start.Equal(s3.Start) {
		t.Fatalf("rank[1] = %+v", ranked[1])
	}
	if ranked[2].Available != 1 || !ranked[2].Start.Equal(s1.Start) {
		t.Fatalf("rank[2] = %+v", ranked[2])
	}
}

func TestEscapeEventText(t *testing.T) {
	got := EscapeEventText("dinner; wine, cheese\nback\\slash")
	want := `dinner\; wine\, cheese\nback\\slash`
	if got != want {
		t.Fatalf("EscapeEventText = %q, want %q", got, want)
	}
}

func TestFinalizeMeeting(t *testing.T) {
	tools, gw, _ := newTestTools(t)
	ctx := context.Background()

	t.Run("builds event payload", func(t *testing.T) {
		out, err := tools.FinalizeMeeting(ctx, map[string]any{
			"title": "Q3 sync; all hands",
			"start": "2026-09-01T10:00:00Z",
			"end":   "2026-09-01T10:30:00Z",
		})
		if err != nil {
			t.Fatalf("FinalizeMeeting: %v", err)
		}
		event := out.(map[string]any)["event"].(map[string]any)
		if event["event_id"] == "" {
			t.Fatal("missing event id")
		}
		if event["title"] != `Q3 sync\; all hands` {
			t.Fatalf("title not escaped: %q", event["title"])
		}
		if event["start"] != "2026-09-01T10:00:00Z" {
			t.Fatalf("start = %q", event["start"])
		}
	})

	t.Run("same agreed slot yields the same event id", func(t *testing.T) {
		args := map[string]any{
			"title": "Q3 sync",
			"start": "2026-09-01T10:00:00Z",
			"end":   "2026-09-01T10:30:00Z",
		}
		first, err := tools.FinalizeMeeting(ctx, args)
		if err != nil {
			t.Fatalf("FinalizeMeeting: %v", err)
		}
		second, err := tools.FinalizeMeeting(ctx, args)
		if err != nil {
			t.Fatalf("FinalizeMeeting: %v", err)
		}
		firstID := first.(map[string]any)["event"].(map[string]any)["event_id"]
		secondID := second.(map[string]any)["event"].(map[string]any)["event_id"]
		if firstID != secondID {
			t.Fatalf("event ids differ for the same slot: %q vs %q", firstID, secondID)
		}
	})

	t.Run("rejects inverted range", func(t *testing.T) {
		if _, err := tools.FinalizeMeeting(ctx, map[string]any{
			"title": "x",
			"start": "2026-09-01T11:00:00Z",
			"end":   "2026-09-01T10:00:00Z",
		}); err == nil {
			t.Fatal("inverted range must be rejected")
		}
	})

	t.Run("notify fans out with per-recipient status", func(t *testing.T) {
		gw.FailNextSend(errTest)
		out, err := tools.FinalizeMeeting(ctx, map[string]any{
			"title":  "standup",
			"start":  "2026-09-02T10:00:00Z",
			"end":    "2026-09-02T10:15:00Z",
			"notify": true,
			"attendees": []any{
				map[string]any{"user_id": "u_1", "display_name": "First"},
				map[string]any{"user_id": "u_2", "display_name": "Second"},
			},
		})
		if err != nil {
			t.Fatalf("FinalizeMeeting: %v", err)
		}
		reports := out.(map[string]any)["notified"].([]sendReport)
		if len(reports) != 2 {
			t.Fatalf("expected 2 reports, got %d", len(reports))
		}
		if reports[0].Status != "failed" || reports[1].Status != "sent" {
			t.Fatalf("per-recipient statuses wrong: %+v", reports)
		}
	})
}
