// safety.go evaluates whether an outreach request needs explicit owner
// confirmation before any task is created.
package agent

import (
	"fmt"
	"strings"
)

// SafetyPolicy holds the confirmation gates for outreach fan-out.
type SafetyPolicy struct {
	// MaxRecipients is the hard cap per request. Requests above it are
	// rejected outright, confirmed or not.
	MaxRecipients int

	// ConfirmThreshold is the recipient count above which confirmed=true is
	// required.
	ConfirmThreshold int

	// SensitiveKeywords force confirmation when matched in the outgoing
	// message, regardless of recipient count. Matched case-insensitively.
	SensitiveKeywords []string
}

// ConfirmationCheck is the outcome of evaluating a request against the policy.
type ConfirmationCheck struct {
	// Required is true when the request must not proceed without confirmed=true.
	Required bool

	// Reason is a human-readable explanation for the LLM to relay.
	Reason string
}

// MatchSensitive returns the first sensitive keyword found in the message, or
// empty string. Matching is case-insensitive substring search; keywords are
// short phrases, not patterns.
func (p SafetyPolicy) MatchSensitive(message string) string {
	lower := strings.ToLower(message)
	for _, kw := range p.SensitiveKeywords {
		if kw == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(kw)) {
			return kw
		}
	}
	return ""
}

// EvaluateConfirmation decides whether the request needs confirmation.
// recipientCount is the number of valid recipients after dedup.
func (p SafetyPolicy) EvaluateConfirmation(message string, recipientCount int) ConfirmationCheck {
	if kw := p.MatchSensitive(message); kw != "" {
		return ConfirmationCheck{
			Required: true,
			Reason:   fmt.Sprintf("message contains sensitive content (%q)", kw),
		}
	}
	if p.ConfirmThreshold > 0 && recipientCount > p.ConfirmThreshold {
		return ConfirmationCheck{
			Required: true,
			Reason: fmt.Sprintf("messaging %d recipients exceeds the confirmation threshold of %d",
				recipientCount, p.ConfirmThreshold),
		}
	}
	return ConfirmationCheck{}
}
