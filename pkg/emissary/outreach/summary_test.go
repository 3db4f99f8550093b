package outreach

import (
	"context"
	"strings"
	"testing"
	"time"
	"unicode"
)

func TestSummarize(t *testing.T) {
	orch, store := newTestOrchestrator(t)
	ctx := context.Background()

	task, targets, err := orch.CreateTask(ctx, "owner", "bot",
		[]Recipient{
			{UserID: "u1", DisplayName: "Uma", Tracked: true},
			{UserID: "u2", DisplayName: "Ubaldo", Tracked: true},
			{UserID: "u3", DisplayName: "Ugo"},
		},
		"Team dinner Thursday?", KindOutreach, nil)
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	for _, target := range targets {
		if _, err := orch.MarkMessaged(ctx, target.ID, "m-"+target.TargetUserID); err != nil {
			t.Fatalf("MarkMessaged: %v", err)
		}
	}
	if _, err := orch.RecordResponse(ctx, targets[0].ID, "r1", "Count me in", time.Now()); err != nil {
		t.Fatalf("RecordResponse: %v", err)
	}

	sum, err := Summarize(ctx, store, task.ID)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if sum.Tracked != 2 || sum.Responded != 1 || sum.Awaiting != 1 || sum.Completed != 1 {
		t.Errorf("counts = %+v", sum)
	}
	if len(sum.Outstanding) != 1 || sum.Outstanding[0] != "Ubaldo" {
		t.Errorf("outstanding = %v", sum.Outstanding)
	}

	text := sum.Render()
	if !strings.Contains(text, "Team dinner Thursday?") {
		t.Errorf("render missing title: %q", text)
	}
	if !strings.Contains(text, "Ubaldo") {
		t.Errorf("render missing outstanding name: %q", text)
	}
	if !strings.Contains(text, "Count me in") {
		t.Errorf("render missing reply snippet: %q", text)
	}
}

func TestRenderNotice(t *testing.T) {
	cases := []struct {
		outstanding int
		want        string
	}{
		{0, "everyone has responded"},
		{1, "1 more reply"},
		{3, "3 more replies"},
	}
	for _, tc := range cases {
		got := RenderNotice(&ResponseNotice{TargetName: "Uma", Snippet: "yes", Outstanding: tc.outstanding})
		if !strings.Contains(got, tc.want) {
			t.Errorf("outstanding=%d: %q missing %q", tc.outstanding, got, tc.want)
		}
		if !strings.Contains(got, "Uma") {
			t.Errorf("notice missing name: %q", got)
		}
		for _, r := range got {
			if r > unicode.MaxASCII {
				t.Errorf("notice contains non-ASCII punctuation %q: %q", r, got)
			}
		}
	}
}
