package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/northstarfp/compass/pkg/agent"
	"github.com/northstarfp/compass/pkg/memory"
	"github.com/northstarfp/compass/pkg/providers"
	"github.com/northstarfp/compass/pkg/store"
	"github.com/northstarfp/compass/pkg/tools"
)

func newTestServer(t *testing.T) (*server, *store.Store) {
	t.Helper()
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	index, err := memory.NewVectorIndex()
	if err != nil {
		t.Fatalf("new index: %v", err)
	}
	embedder := providers.NewUnavailableEmbedder("no key")
	retriever := memory.NewRetriever(s, embedder, index)
	importer := memory.NewImporter(s, embedder, index)

	orchestrator := agent.NewOrchestrator(agent.OrchestratorOptions{
		Provider:  providers.NewUnavailableProvider("no key"),
		Model:     "test",
		Store:     s,
		Retriever: retriever,
		Tools:     tools.NewToolRegistry(),
	})
	reactor := agent.NewReactor(providers.NewUnavailableProvider("no key"), "test", s, tools.NewToolRegistry())

	return newServer(s, importer, orchestrator, reactor, ""), s
}

func TestHandleChat_PersistsAfterClientDisconnect(t *testing.T) {
	srv, s := newTestServer(t)

	body, err := json.Marshal(map[string]string{
		"userId":         "u1",
		"conversationId": "c1",
		"content":        "anything urgent today?",
	})
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/chat", bytes.NewReader(body))

	// The client hangs up: the request context is already canceled by the
	// time the finalized turn is written back.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req = req.WithContext(ctx)

	rec := httptest.NewRecorder()
	srv.handleChat(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	turns, err := s.RecentTurns(context.Background(), "c1", 10)
	if err != nil {
		t.Fatalf("recent turns: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("expected both turns persisted despite the disconnect, got %d", len(turns))
	}
	if turns[0].Role != "user" || turns[1].Role != "assistant" {
		t.Errorf("unexpected turn roles %q, %q", turns[0].Role, turns[1].Role)
	}
}
