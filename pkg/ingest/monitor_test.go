package ingest

import (
	"context"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/northstarfp/compass/pkg/auth"
	"github.com/northstarfp/compass/pkg/memory"
	"github.com/northstarfp/compass/pkg/providers"
	"github.com/northstarfp/compass/pkg/store"
	"github.com/northstarfp/compass/pkg/tools"
)

type fixedMailbox struct {
	messages []tools.EmailMessage
}

func (m *fixedMailbox) Search(ctx context.Context, query string, limit int) ([]tools.EmailMessage, error) {
	return m.messages, nil
}

func (m *fixedMailbox) Send(ctx context.Context, to, subject, body string) error {
	return nil
}

type recordingSink struct {
	events []string
}

func (s *recordingSink) OnEvent(ctx context.Context, userID, eventType string, payload map[string]interface{}) error {
	s.events = append(s.events, eventType)
	return nil
}

func TestSweep_ImportsOnceAndNotifies(t *testing.T) {
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer s.Close()

	index, err := memory.NewVectorIndex()
	if err != nil {
		t.Fatalf("new index: %v", err)
	}
	importer := memory.NewImporter(s, providers.NewUnavailableEmbedder("no key"), index)

	mailbox := &fixedMailbox{messages: []tools.EmailMessage{
		{ID: "m1", From: "john@example.com", Subject: "Hello", Body: "Hi", Date: time.Now()},
		{ID: "m2", From: "sara@example.com", Subject: "Numbers", Body: "Attached", Date: time.Now()},
	}}
	sink := &recordingSink{}
	creds := auth.NewCredentialSource(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "tok"}))

	m := NewMonitor("u1", "*/15 * * * *", func(string) tools.EmailClient { return mailbox }, creds, importer, sink)

	m.Sweep(context.Background())
	if len(sink.events) != 2 {
		t.Fatalf("expected 2 events on first sweep, got %d", len(sink.events))
	}
	if sink.events[0] != "email.received" {
		t.Errorf("unexpected event type %q", sink.events[0])
	}

	// Re-sweeping the same mailbox imports nothing new.
	m.Sweep(context.Background())
	if len(sink.events) != 2 {
		t.Errorf("expected no new events on second sweep, got %d total", len(sink.events))
	}

	msgs, err := s.SearchMessages(context.Background(), "u1", []string{"hello"}, 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(msgs) != 1 {
		t.Errorf("expected the imported message to be searchable, got %d", len(msgs))
	}
}

func TestStart_RejectsBadSchedule(t *testing.T) {
	creds := auth.NewCredentialSource(nil)
	m := NewMonitor("u1", "not a cron expr", nil, creds, nil, nil)
	if err := m.Start(); err == nil {
		t.Fatal("expected error for invalid schedule")
	}
}
