package identity

import (
	"strings"
	"testing"
	"time"
)

func TestConversationIDSymmetric(t *testing.T) {
	ab := ConversationID("u_alice", "u_bob")
	ba := ConversationID("u_bob", "u_alice")
	if ab != ba {
		t.Errorf("ConversationID not symmetric: %q vs %q", ab, ba)
	}
	if !strings.HasPrefix(ab, "conv_") {
		t.Errorf("missing prefix: %q", ab)
	}
	if other := ConversationID("u_alice", "u_carol"); other == ab {
		t.Error("different pairs produced the same conversation id")
	}
}

func TestMessageIDDeterministic(t *testing.T) {
	at := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	conv := ConversationID("u_alice", "u_bob")

	first := MessageID(conv, "u_alice", "hello", at)
	second := MessageID(conv, "u_alice", "hello", at)
	if first != second {
		t.Errorf("same inputs produced different ids: %q vs %q", first, second)
	}
	if !strings.HasPrefix(first, "msg_") {
		t.Errorf("missing prefix: %q", first)
	}

	if MessageID(conv, "u_alice", "hello!", at) == first {
		t.Error("different body produced the same id")
	}
	if MessageID(conv, "u_bob", "hello", at) == first {
		t.Error("different sender produced the same id")
	}
	if MessageID(conv, "u_alice", "hello", at.Add(time.Second)) == first {
		t.Error("different time produced the same id")
	}
}

func TestEventIDDeterministic(t *testing.T) {
	start := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(30 * time.Minute)

	first := EventID("Q3 sync", start, end)
	second := EventID("Q3 sync", start, end)
	if first != second {
		t.Errorf("same slot produced different ids: %q vs %q", first, second)
	}
	if !strings.HasPrefix(first, "evt_") {
		t.Errorf("missing prefix: %q", first)
	}

	if EventID("Q4 sync", start, end) == first {
		t.Error("different title produced the same id")
	}
	if EventID("Q3 sync", start.Add(time.Hour), end.Add(time.Hour)) == first {
		t.Error("different slot produced the same id")
	}

	loc := time.FixedZone("UTC-3", -3*60*60)
	if EventID("Q3 sync", start.In(loc), end.In(loc)) != first {
		t.Error("equal instants in different zones produced different ids")
	}
}

func TestMessageIDTimezoneInsensitive(t *testing.T) {
	loc := time.FixedZone("UTC-3", -3*60*60)
	utc := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	local := utc.In(loc)

	if MessageID("conv_x", "u_alice", "hi", utc) != MessageID("conv_x", "u_alice", "hi", local) {
		t.Error("equal instants in different zones produced different ids")
	}
}
