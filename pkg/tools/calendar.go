package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const defaultSlotMinutes = 60

// parseEventTime accepts RFC3339 or a bare date.
func parseEventTime(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q, use RFC3339 or YYYY-MM-DD", s)
}

// GetAvailableSlotsTool finds open intervals on the advisor's calendar.
type GetAvailableSlotsTool struct {
	cal CalendarClient
}

func NewGetAvailableSlotsTool(cal CalendarClient) *GetAvailableSlotsTool {
	return &GetAvailableSlotsTool{cal: cal}
}

func (t *GetAvailableSlotsTool) Name() string {
	return "get_available_slots"
}

func (t *GetAvailableSlotsTool) Description() string {
	return "Find open time slots on the advisor's calendar between two dates."
}

func (t *GetAvailableSlotsTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"startDate": map[string]interface{}{
				"type":        "string",
				"description": "Start of the window (RFC3339 or YYYY-MM-DD)",
			},
			"endDate": map[string]interface{}{
				"type":        "string",
				"description": "End of the window (RFC3339 or YYYY-MM-DD)",
			},
			"durationMinutes": map[string]interface{}{
				"type":        "integer",
				"description": fmt.Sprintf("Required slot length in minutes (default: %d)", defaultSlotMinutes),
			},
		},
		"required": []string{"startDate", "endDate"},
	}
}

func (t *GetAvailableSlotsTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	start, err := parseEventTime(strArg(args, "startDate"))
	if err != nil {
		return ErrorResult(fmt.Sprintf("invalid startDate: %v", err))
	}
	end, err := parseEventTime(strArg(args, "endDate"))
	if err != nil {
		return ErrorResult(fmt.Sprintf("invalid endDate: %v", err))
	}
	if !end.After(start) {
		return ErrorResult("endDate must be after startDate")
	}
	duration := time.Duration(intArg(args, "durationMinutes", defaultSlotMinutes)) * time.Minute

	slots, err := t.cal.FindFreeSlots(ctx, start, end, duration)
	if err != nil {
		return ErrorResult(fmt.Sprintf("slot lookup failed: %v", err))
	}
	if len(slots) == 0 {
		return SilentResult("No open slots in that window.")
	}

	data, err := json.Marshal(slots)
	if err != nil {
		return ErrorResult(fmt.Sprintf("failed to encode slots: %v", err))
	}
	return SilentResult(string(data))
}

// CreateCalendarEventTool schedules an event on the advisor's calendar.
type CreateCalendarEventTool struct {
	cal CalendarClient
}

func NewCreateCalendarEventTool(cal CalendarClient) *CreateCalendarEventTool {
	return &CreateCalendarEventTool{cal: cal}
}

func (t *CreateCalendarEventTool) Name() string {
	return "create_calendar_event"
}

func (t *CreateCalendarEventTool) Description() string {
	return "Create a calendar event with a summary, start and end time, and optional description and attendees."
}

func (t *CreateCalendarEventTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"summary": map[string]interface{}{
				"type":        "string",
				"description": "Event title",
			},
			"start": map[string]interface{}{
				"type":        "string",
				"description": "Start time (RFC3339)",
			},
			"end": map[string]interface{}{
				"type":        "string",
				"description": "End time (RFC3339)",
			},
			"description": map[string]interface{}{
				"type":        "string",
				"description": "Event description",
			},
			"attendees": map[string]interface{}{
				"type":        "array",
				"items":       map[string]interface{}{"type": "string"},
				"description": "Attendee email addresses",
			},
		},
		"required": []string{"summary", "start", "end"},
	}
}

func (t *CreateCalendarEventTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	summary := strings.TrimSpace(strArg(args, "summary"))
	if summary == "" {
		return ErrorResult("summary is required")
	}
	start, err := parseEventTime(strArg(args, "start"))
	if err != nil {
		return ErrorResult(fmt.Sprintf("invalid start: %v", err))
	}
	end, err := parseEventTime(strArg(args, "end"))
	if err != nil {
		return ErrorResult(fmt.Sprintf("invalid end: %v", err))
	}
	if !end.After(start) {
		return ErrorResult("end must be after start")
	}

	event := CalendarEvent{
		Summary:     summary,
		Start:       start,
		End:         end,
		Description: strArg(args, "description"),
	}
	if raw, ok := args["attendees"].([]interface{}); ok {
		for _, a := range raw {
			if addr, ok := a.(string); ok && addr != "" {
				event.Attendees = append(event.Attendees, addr)
			}
		}
	}

	created, err := t.cal.CreateEvent(ctx, event)
	if err != nil {
		return ErrorResult(fmt.Sprintf("failed to create event: %v", err))
	}

	return &ToolResult{
		ForLLM:  fmt.Sprintf("Event %s created: %s at %s.", created.ID, created.Summary, created.Start.Format(time.RFC3339)),
		ForUser: fmt.Sprintf("📅 Scheduled \"%s\" for %s", created.Summary, created.Start.Format("Mon Jan 2 at 3:04 PM")),
	}
}

// SearchCalendarEventsTool looks up events on the advisor's calendar.
type SearchCalendarEventsTool struct {
	cal CalendarClient
}

func NewSearchCalendarEventsTool(cal CalendarClient) *SearchCalendarEventsTool {
	return &SearchCalendarEventsTool{cal: cal}
}

func (t *SearchCalendarEventsTool) Name() string {
	return "search_calendar_events"
}

func (t *SearchCalendarEventsTool) Description() string {
	return "Search calendar events by keyword, optionally bounded by a time range."
}

func (t *SearchCalendarEventsTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Keywords to match against event titles and descriptions",
			},
			"timeMin": map[string]interface{}{
				"type":        "string",
				"description": "Earliest event time (RFC3339)",
			},
			"timeMax": map[string]interface{}{
				"type":        "string",
				"description": "Latest event time (RFC3339)",
			},
		},
		"required": []string{"query"},
	}
}

func (t *SearchCalendarEventsTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	query := strings.TrimSpace(strArg(args, "query"))
	if query == "" {
		return ErrorResult("query is required")
	}

	var timeMin, timeMax time.Time
	if s := strArg(args, "timeMin"); s != "" {
		var err error
		if timeMin, err = parseEventTime(s); err != nil {
			return ErrorResult(fmt.Sprintf("invalid timeMin: %v", err))
		}
	}
	if s := strArg(args, "timeMax"); s != "" {
		var err error
		if timeMax, err = parseEventTime(s); err != nil {
			return ErrorResult(fmt.Sprintf("invalid timeMax: %v", err))
		}
	}

	events, err := t.cal.Search(ctx, query, timeMin, timeMax)
	if err != nil {
		return ErrorResult(fmt.Sprintf("calendar search failed: %v", err))
	}
	if len(events) == 0 {
		return SilentResult("No events matched the query.")
	}

	data, err := json.Marshal(events)
	if err != nil {
		return ErrorResult(fmt.Sprintf("failed to encode events: %v", err))
	}
	return SilentResult(string(data))
}
