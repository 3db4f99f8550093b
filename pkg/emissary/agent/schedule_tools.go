// schedule_tools.go implements the deterministic scheduling helpers: slicing
// time windows into proposable slots, ranking slots by participant
// availability, and building the final calendar-event payload with optional
// attendee notification.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/emissary-bot/emissary/pkg/emissary/identity"
)

const (
	defaultSlotMinutes = 30
	minSlotMinutes     = 15
	maxSlotMinutes     = 240

	defaultMaxSuggestions = 6
	minMaxSuggestions     = 1
	maxMaxSuggestions     = 12
)

var proposeSlotsDef = ToolDefinition{
	Type: "function",
	Function: FunctionDef{
		Name: "propose_slots",
		Description: "Slice candidate time windows into fixed-duration meeting slots to suggest. " +
			"Deterministic: same windows always yield the same slots.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"windows": {
					"type": "array",
					"items": {
						"type": "object",
						"properties": {
							"start": {"type": "string", "description": "Window start, RFC3339."},
							"end": {"type": "string", "description": "Window end, RFC3339."}
						},
						"required": ["start", "end"]
					}
				},
				"duration_minutes": {"type": "integer", "description": "Slot length in minutes (default 30, clamped 15-240)."},
				"max_suggestions": {"type": "integer", "description": "Maximum slots to return (default 6, clamped 1-12)."}
			},
			"required": ["windows"]
		}`),
	},
}

var collectAvailabilityDef = ToolDefinition{
	Type: "function",
	Function: FunctionDef{
		Name: "collect_availability",
		Description: "Rank candidate slots by how many participants are available, best first. " +
			"A participant covers a slot when one of their windows fully contains it.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"slots": {
					"type": "array",
					"items": {
						"type": "object",
						"properties": {
							"start": {"type": "string"},
							"end": {"type": "string"}
						},
						"required": ["start", "end"]
					}
				},
				"participants": {
					"type": "array",
					"items": {
						"type": "object",
						"properties": {
							"name": {"type": "string"},
							"available": {
								"type": "array",
								"items": {
									"type": "object",
									"properties": {
										"start": {"type": "string"},
										"end": {"type": "string"}
									},
									"required": ["start", "end"]
								}
							}
						},
						"required": ["name"]
					}
				}
			},
			"required": ["slots", "participants"]
		}`),
	},
}

var finalizeMeetingDef = ToolDefinition{
	Type: "function",
	Function: FunctionDef{
		Name: "finalize_meeting",
		Description: "Build the final calendar event for an agreed slot. " +
			"Optionally notifies each attendee through their conversation.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"title": {"type": "string"},
				"start": {"type": "string", "description": "Event start, RFC3339."},
				"end": {"type": "string", "description": "Event end, RFC3339."},
				"location": {"type": "string"},
				"description": {"type": "string"},
				"attendees": {
					"type": "array",
					"items": {
						"type": "object",
						"properties": {
							"user_id": {"type": "string"},
							"display_name": {"type": "string"}
						},
						"required": ["user_id"]
					}
				},
				"notify": {"type": "boolean", "description": "Send the event summary to each attendee."}
			},
			"required": ["title", "start", "end"]
		}`),
	},
}

// TimeSlot is one proposable meeting slot.
type TimeSlot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// RankedSlot is a slot with its participant-availability count.
type RankedSlot struct {
	TimeSlot
	Available    int      `json:"available"`
	Participants []string `json:"participants"`
}

// ---------- Pure helpers (exported for direct use and tests) ----------

// ProposeSlots slices each window into consecutive slots of slotDuration,
// collecting at most maxSuggestions across all windows in input order.
// Durations outside [15m, 240m] are clamped; caps outside [1, 12] likewise.
func ProposeSlots(windows []TimeSlot, durationMinutes, maxSuggestions int) []TimeSlot {
	if durationMinutes <= 0 {
		durationMinutes = defaultSlotMinutes
	}
	if durationMinutes < minSlotMinutes {
		durationMinutes = minSlotMinutes
	}
	if durationMinutes > maxSlotMinutes {
		durationMinutes = maxSlotMinutes
	}
	if maxSuggestions <= 0 {
		maxSuggestions = defaultMaxSuggestions
	}
	if maxSuggestions < minMaxSuggestions {
		maxSuggestions = minMaxSuggestions
	}
	if maxSuggestions > maxMaxSuggestions {
		maxSuggestions = maxMaxSuggestions
	}

	duration := time.Duration(durationMinutes) * time.Minute
	var slots []TimeSlot
	for _, w := range windows {
		for start := w.Start; !start.Add(duration).After(w.End); start = start.Add(duration) {
			slots = append(slots, TimeSlot{Start: start, End: start.Add(duration)})
			if len(slots) >= maxSuggestions {
				return slots
			}
		}
	}
	return slots
}

// participantAvailability is one participant's free windows.
type participantAvailability struct {
	Name      string
	Available []TimeSlot
}

// RankSlots orders slots by how many participants cover them, descending.
// Ties keep the earlier slot first, so the output is deterministic.
func RankSlots(slots []TimeSlot, participants []participantAvailability) []RankedSlot {
	ranked := make([]RankedSlot, 0, len(slots))
	for _, slot := range slots {
		r := RankedSlot{TimeSlot: slot}
		for _, p := range participants {
			if covers(p.Available, slot) {
				r.Available++
				r.Participants = append(r.Participants, p.Name)
			}
		}
		ranked = append(ranked, r)
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Available != ranked[j].Available {
			return ranked[i].Available > ranked[j].Available
		}
		return ranked[i].Start.Before(ranked[j].Start)
	})
	return ranked
}

// covers reports whether any window fully contains the slot.
func covers(windows []TimeSlot, slot TimeSlot) bool {
	for _, w := range windows {
		if !slot.Start.Before(w.Start) && !slot.End.After(w.End) {
			return true
		}
	}
	return false
}

// EscapeEventText escapes text for calendar-event payloads: backslash,
// semicolon, comma, and newlines, in that order.
func EscapeEventText(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, ";", `\;`)
	s = strings.ReplaceAll(s, ",", `\,`)
	s = strings.ReplaceAll(s, "\r\n", `\n`)
	s = strings.ReplaceAll(s, "\n", `\n`)
	return s
}

// ---------- Handlers ----------

// ProposeSlots handles the propose_slots tool call.
func (t *Tools) ProposeSlots(ctx context.Context, args map[string]any) (any, error) {
	windows, err := parseSlots(args["windows"])
	if err != nil {
		return nil, err
	}
	if len(windows) == 0 {
		return nil, fmt.Errorf("at least one time window is required")
	}
	slots := ProposeSlots(windows,
		intArg(args, "duration_minutes", 0),
		intArg(args, "max_suggestions", 0))
	if len(slots) == 0 {
		return "No slots fit in the given windows.", nil
	}
	return map[string]any{"slots": formatSlots(slots)}, nil
}

// CollectAvailability handles the collect_availability tool call.
func (t *Tools) CollectAvailability(ctx context.Context, args map[string]any) (any, error) {
	slots, err := parseSlots(args["slots"])
	if err != nil {
		return nil, err
	}
	if len(slots) == 0 {
		return nil, fmt.Errorf("at least one candidate slot is required")
	}

	rawParticipants, ok := args["participants"].([]any)
	if !ok {
		return nil, fmt.Errorf("participants must be an array")
	}
	participants := make([]participantAvailability, 0, len(rawParticipants))
	for _, item := range rawParticipants {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		name, _ := m["name"].(string)
		avail, err := parseSlots(m["available"])
		if err != nil {
			return nil, fmt.Errorf("participant %q: %w", name, err)
		}
		participants = append(participants, participantAvailability{Name: name, Available: avail})
	}

	ranked := RankSlots(slots, participants)
	out := make([]map[string]any, 0, len(ranked))
	for _, r := range ranked {
		out = append(out, map[string]any{
			"start":        r.Start.Format(time.RFC3339),
			"end":          r.End.Format(time.RFC3339),
			"available":    r.Available,
			"participants": r.Participants,
		})
	}
	return map[string]any{"ranked": out}, nil
}

// FinalizeMeeting handles the finalize_meeting tool call.
func (t *Tools) FinalizeMeeting(ctx context.Context, args map[string]any) (any, error) {
	title, _ := args["title"].(string)
	if strings.TrimSpace(title) == "" {
		return nil, fmt.Errorf("title is required")
	}
	start, err := parseEventTime(args, "start")
	if err != nil {
		return nil, err
	}
	end, err := parseEventTime(args, "end")
	if err != nil {
		return nil, err
	}
	if !end.After(start) {
		return nil, fmt.Errorf("end must be after start")
	}

	location, _ := args["location"].(string)
	description, _ := args["description"].(string)

	event := map[string]any{
		"event_id":    identity.EventID(title, start, end),
		"title":       EscapeEventText(title),
		"start":       start.Format(time.RFC3339),
		"end":         end.Format(time.RFC3339),
		"location":    EscapeEventText(location),
		"description": EscapeEventText(description),
	}

	notify, _ := args["notify"].(bool)
	if !notify {
		return map[string]any{"event": event}, nil
	}

	attendees, err := parseRecipients(args["attendees"])
	if err != nil {
		return nil, err
	}
	body := fmt.Sprintf("Meeting confirmed: %s\nWhen: %s to %s",
		title, start.Format("Mon Jan 2 15:04"), end.Format("15:04 MST"))
	if location != "" {
		body += "\nWhere: " + location
	}

	reports := make([]sendReport, 0, len(attendees))
	for _, a := range attendees {
		report := sendReport{UserID: a.UserID, DisplayName: a.DisplayName}
		conv := identity.ConversationID(t.owner, a.UserID)
		if _, sendErr := t.gateway.SendMessage(ctx, conv, t.assistant, body); sendErr != nil {
			report.Status = "failed"
			report.Error = sendErr.Error()
			t.logger.Warn("meeting notification failed", "recipient", a.UserID, "error", sendErr)
		} else {
			report.Status = "sent"
		}
		reports = append(reports, report)
	}
	return map[string]any{"event": event, "notified": reports}, nil
}

// ---------- Parsing ----------

func parseSlots(raw any) ([]TimeSlot, error) {
	if raw == nil {
		return nil, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("expected an array of {start, end} windows")
	}
	out := make([]TimeSlot, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		start, err := parseEventTime(m, "start")
		if err != nil {
			return nil, err
		}
		end, err := parseEventTime(m, "end")
		if err != nil {
			return nil, err
		}
		if !end.After(start) {
			return nil, fmt.Errorf("window end %s is not after start %s",
				end.Format(time.RFC3339), start.Format(time.RFC3339))
		}
		out = append(out, TimeSlot{Start: start, End: end})
	}
	return out, nil
}

func parseEventTime(m map[string]any, key string) (time.Time, error) {
	s, _ := m[key].(string)
	if s == "" {
		return time.Time{}, fmt.Errorf("%s is required", key)
	}
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return ts, nil
}

func formatSlots(slots []TimeSlot) []map[string]string {
	out := make([]map[string]string, 0, len(slots))
	for _, s := range slots {
		out = append(out, map[string]string{
			"start": s.Start.Format(time.RFC3339),
			"end":   s.End.Format(time.RFC3339),
		})
	}
	return out
}
