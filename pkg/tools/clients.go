package tools

import (
	"context"
	"time"
)

// Collaborator contracts. The concrete API wrappers (Gmail, Google
// Calendar, HubSpot) live outside this core; tools only depend on these
// narrow interfaces.

// EmailMessage is an email as returned by the mail collaborator.
type EmailMessage struct {
	ID      string    `json:"id"`
	From    string    `json:"from"`
	To      string    `json:"to"`
	Subject string    `json:"subject"`
	Body    string    `json:"body"`
	Date    time.Time `json:"date"`
}

// EmailClient is the mail collaborator.
type EmailClient interface {
	Search(ctx context.Context, query string, limit int) ([]EmailMessage, error)
	Send(ctx context.Context, to, subject, body string) error
}

// EmailDialer builds a mail client bound to an access token. Email access
// is the only collaborator that needs a per-call credential.
type EmailDialer func(token string) EmailClient

// TimeSlot is an open interval on the calendar.
type TimeSlot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// CalendarEvent is an event as returned by the calendar collaborator.
type CalendarEvent struct {
	ID          string    `json:"id"`
	Summary     string    `json:"summary"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Description string    `json:"description,omitempty"`
	Attendees   []string  `json:"attendees,omitempty"`
}

// CalendarClient is the calendar collaborator.
type CalendarClient interface {
	FindFreeSlots(ctx context.Context, start, end time.Time, duration time.Duration) ([]TimeSlot, error)
	CreateEvent(ctx context.Context, event CalendarEvent) (*CalendarEvent, error)
	Search(ctx context.Context, query string, timeMin, timeMax time.Time) ([]CalendarEvent, error)
}

// CRMContact is a contact as returned by the CRM collaborator.
type CRMContact struct {
	ID         string            `json:"id"`
	Properties map[string]string `json:"properties"`
}

// CRMClient is the CRM collaborator.
type CRMClient interface {
	Search(ctx context.Context, query string) ([]CRMContact, error)
	Create(ctx context.Context, fields map[string]string) (*CRMContact, error)
	Update(ctx context.Context, id string, fields map[string]string) (*CRMContact, error)
	AddNote(ctx context.Context, id, note string) error
}
