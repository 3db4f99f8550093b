// Package identity provides deterministic conversation and message
// identifiers. Both sides of a conversation derive the same conversation ID
// regardless of who computes it, and message IDs are content-addressed so
// re-deriving the ID for the same message always yields the same value.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// ConversationID derives the canonical conversation identifier for a pair of
// users. The pair is sorted before hashing, so ConversationID(a, b) ==
// ConversationID(b, a).
func ConversationID(userA, userB string) string {
	a, b := userA, userB
	if strings.Compare(a, b) > 0 {
		a, b = b, a
	}
	sum := sha256.Sum256([]byte("conv\x00" + a + "\x00" + b))
	return "conv_" + hex.EncodeToString(sum[:16])
}

// EventID derives a content-addressed calendar event identifier from the
// event title and time span, so finalizing the same agreed slot twice yields
// the same id.
func EventID(title string, start, end time.Time) string {
	sum := sha256.Sum256([]byte(
		"event\x00" + title +
			"\x00" + start.UTC().Format(time.RFC3339Nano) +
			"\x00" + end.UTC().Format(time.RFC3339Nano),
	))
	return "evt_" + hex.EncodeToString(sum[:16])
}

// MessageID derives a content-addressed message identifier from the
// conversation, sender, body and send time.
func MessageID(conversationID, senderID, body string, sentAt time.Time) string {
	sum := sha256.Sum256([]byte(
		"msg\x00" + conversationID + "\x00" + senderID + "\x00" + body +
			"\x00" + sentAt.UTC().Format(time.RFC3339Nano),
	))
	return "msg_" + hex.EncodeToString(sum[:16])
}
