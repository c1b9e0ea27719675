package agent

import (
	"encoding/json"
	"strings"

	"github.com/northstarfp/compass/pkg/tools"
)

// MeetingSummary is a display-only projection of the first event found by a
// calendar search during the turn. It is never fed back into the model.
type MeetingSummary struct {
	Title     string   `json:"title"`
	Date      string   `json:"date"`
	Time      string   `json:"time"`
	Attendees []string `json:"attendees,omitempty"`
}

// projectMeetingSummary derives a summary when a calendar search was among
// the turn's invocations and its outcome parses as an event list. Returns
// nil otherwise.
func projectMeetingSummary(invocations []ToolInvocation, outcomes []ToolOutcome) *MeetingSummary {
	for i, inv := range invocations {
		if inv.Name != "search_calendar_events" {
			continue
		}
		if i >= len(outcomes) || outcomes[i].IsError {
			continue
		}

		var events []tools.CalendarEvent
		if err := json.Unmarshal([]byte(outcomes[i].Content), &events); err != nil || len(events) == 0 {
			continue
		}

		ev := events[0]
		summary := &MeetingSummary{
			Title: ev.Summary,
			Date:  ev.Start.Format("Monday, January 2, 2006"),
			Time:  ev.Start.Format("3:04 PM"),
		}
		for _, a := range ev.Attendees {
			// First token only: "John Smith <john@x>" -> "John",
			// "john@example.com" -> "john@example.com".
			if fields := strings.Fields(a); len(fields) > 0 {
				summary.Attendees = append(summary.Attendees, fields[0])
			}
		}
		return summary
	}
	return nil
}
