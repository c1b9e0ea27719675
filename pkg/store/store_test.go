package store

import (
	"context"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestImportMessage_Idempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	m := &MessageRecord{
		UserID:     "u1",
		ExternalID: "msg-1",
		Subject:    "Quarterly review",
		Sender:     "john@example.com",
		Body:       "Let's discuss your portfolio.",
		SentAt:     time.Now(),
	}

	inserted, err := s.ImportMessage(ctx, m)
	if err != nil {
		t.Fatalf("first import: %v", err)
	}
	if !inserted {
		t.Error("expected first import to insert")
	}

	inserted, err = s.ImportMessage(ctx, m)
	if err != nil {
		t.Fatalf("second import: %v", err)
	}
	if inserted {
		t.Error("expected second import to be a no-op")
	}

	hits, err := s.SearchMessages(ctx, "u1", []string{"quarterly"}, 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 1 {
		t.Errorf("expected exactly 1 row after duplicate import, got %d", len(hits))
	}
}

func TestSearchMessages_TokenMatchAndRecency(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	msgs := []*MessageRecord{
		{UserID: "u1", ExternalID: "old", Subject: "Retirement planning", Sender: "a@x.com", SentAt: base},
		{UserID: "u1", ExternalID: "mid", Subject: "Lunch", Sender: "b@x.com", Body: "retirement savings question", SentAt: base.Add(time.Hour)},
		{UserID: "u1", ExternalID: "new", Subject: "RE: Retirement", Sender: "c@x.com", SentAt: base.Add(2 * time.Hour)},
		{UserID: "u1", ExternalID: "none", Subject: "Taxes", Sender: "d@x.com", SentAt: base.Add(3 * time.Hour)},
		{UserID: "u2", ExternalID: "other-user", Subject: "Retirement", Sender: "e@x.com", SentAt: base},
	}
	for _, m := range msgs {
		if _, err := s.ImportMessage(ctx, m); err != nil {
			t.Fatalf("import %s: %v", m.ExternalID, err)
		}
	}

	hits, err := s.SearchMessages(ctx, "u1", []string{"retirement"}, 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 3 {
		t.Fatalf("expected 3 hits, got %d", len(hits))
	}
	wantOrder := []string{"new", "mid", "old"}
	for i, want := range wantOrder {
		if hits[i].ExternalID != want {
			t.Errorf("hit %d: expected %s, got %s", i, want, hits[i].ExternalID)
		}
	}
}

func TestSearchContacts_Fields(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	contacts := []*ContactRecord{
		{UserID: "u1", ExternalID: "c1", Name: "John Smith", Email: "js@acme.com", CreatedAt: time.Now()},
		{UserID: "u1", ExternalID: "c2", Name: "Jane Doe", Company: "Smithfield Capital", CreatedAt: time.Now()},
		{UserID: "u1", ExternalID: "c3", Name: "Bob Brown", Phone: "555-SMITH", CreatedAt: time.Now()},
	}
	for _, c := range contacts {
		if _, err := s.ImportContact(ctx, c); err != nil {
			t.Fatalf("import %s: %v", c.ExternalID, err)
		}
	}

	hits, err := s.SearchContacts(ctx, "u1", []string{"smith"}, 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	// Phone is not a lexical search field, so c3 must not match.
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	for _, h := range hits {
		if h.ExternalID == "c3" {
			t.Error("phone field should not participate in lexical matching")
		}
	}
}

func TestEmbeddingRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	m := &MessageRecord{UserID: "u1", ExternalID: "m1", Subject: "hello", SentAt: time.Now()}
	if _, err := s.ImportMessage(ctx, m); err != nil {
		t.Fatalf("import: %v", err)
	}

	missing, err := s.MessagesMissingEmbedding(ctx, 10)
	if err != nil {
		t.Fatalf("missing: %v", err)
	}
	if len(missing) != 1 {
		t.Fatalf("expected 1 message missing embedding, got %d", len(missing))
	}

	vec := []float32{0.25, -1.5, 3.0}
	if err := s.SetMessageEmbedding(ctx, "u1", "m1", vec); err != nil {
		t.Fatalf("set embedding: %v", err)
	}

	withVec, err := s.MessagesWithEmbedding(ctx)
	if err != nil {
		t.Fatalf("with embedding: %v", err)
	}
	if len(withVec) != 1 {
		t.Fatalf("expected 1 message with embedding, got %d", len(withVec))
	}
	got := withVec[0].Embedding
	if len(got) != len(vec) {
		t.Fatalf("expected %d dims, got %d", len(vec), len(got))
	}
	for i := range vec {
		if got[i] != vec[i] {
			t.Errorf("dim %d: expected %f, got %f", i, vec[i], got[i])
		}
	}

	missing, err = s.MessagesMissingEmbedding(ctx, 10)
	if err != nil {
		t.Fatalf("missing after set: %v", err)
	}
	if len(missing) != 0 {
		t.Errorf("expected no messages missing embedding, got %d", len(missing))
	}
}

func TestInstructions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, ok, err := s.Instructions(ctx, "u1")
	if err != nil {
		t.Fatalf("instructions: %v", err)
	}
	if ok {
		t.Error("expected no instructions for fresh user")
	}

	if err := s.SetInstructions(ctx, "u1", "Always CC my assistant."); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.SetInstructions(ctx, "u1", "Never email after 6pm."); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	body, ok, err := s.Instructions(ctx, "u1")
	if err != nil {
		t.Fatalf("instructions: %v", err)
	}
	if !ok || body != "Never email after 6pm." {
		t.Errorf("expected last write to win, got %q (ok=%v)", body, ok)
	}

	users, err := s.UsersWithInstructions(ctx)
	if err != nil {
		t.Fatalf("users: %v", err)
	}
	if len(users) != 1 || users[0] != "u1" {
		t.Errorf("expected [u1], got %v", users)
	}
}

func TestRecentTurns_WindowAndOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		err := s.AppendTurn(ctx, &Turn{
			ConversationID: "conv1",
			UserID:         "u1",
			Role:           role,
			Content:        string(rune('a' + i)),
		})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	turns, err := s.RecentTurns(ctx, "conv1", 3)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(turns) != 3 {
		t.Fatalf("expected 3 turns, got %d", len(turns))
	}
	want := []string{"c", "d", "e"}
	for i, w := range want {
		if turns[i].Content != w {
			t.Errorf("turn %d: expected %q, got %q", i, w, turns[i].Content)
		}
	}
}

func TestTaskLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	task := &Task{ID: "t1", UserID: "u1", Title: "Send follow-up"}
	if err := s.CreateTask(ctx, task); err != nil {
		t.Fatalf("create: %v", err)
	}
	if task.Priority != "MEDIUM" {
		t.Errorf("expected default priority MEDIUM, got %s", task.Priority)
	}

	if err := s.CreateTask(ctx, &Task{ID: "t2", UserID: "u1", Title: "x", Priority: "SOON"}); err == nil {
		t.Error("expected error for invalid priority")
	}

	if err := s.UpdateTask(ctx, "t1", "COMPLETED", "done", ""); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := s.Task(ctx, "t1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Status != "COMPLETED" {
		t.Errorf("expected status COMPLETED, got %s", got.Status)
	}
	if got.CompletedAt == nil {
		t.Error("expected completion timestamp to be stamped")
	}
	if got.Result != "done" {
		t.Errorf("expected result 'done', got %q", got.Result)
	}

	if err := s.UpdateTask(ctx, "missing", "FAILED", "", "boom"); err == nil {
		t.Error("expected error updating missing task")
	}
}
