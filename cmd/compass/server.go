package main

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/northstarfp/compass/pkg/agent"
	"github.com/northstarfp/compass/pkg/logger"
	"github.com/northstarfp/compass/pkg/memory"
	"github.com/northstarfp/compass/pkg/store"
)

// server is the HTTP surface. It is caller glue around the orchestrator:
// it persists turns after a finalized response and turns fatal errors into
// generic 500s.
type server struct {
	store         *store.Store
	importer      *memory.Importer
	orchestrator  *agent.Orchestrator
	reactor       *agent.Reactor
	webhookSecret string
}

func newServer(s *store.Store, importer *memory.Importer, o *agent.Orchestrator, r *agent.Reactor, webhookSecret string) *server {
	return &server{
		store:         s,
		importer:      importer,
		orchestrator:  o,
		reactor:       r,
		webhookSecret: webhookSecret,
	}
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(2 * time.Minute))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Post("/api/chat", s.handleChat)
	r.Post("/api/import/messages", s.handleImportMessages)
	r.Post("/api/import/contacts", s.handleImportContacts)
	r.Put("/api/instructions", s.handleSetInstructions)
	r.Post("/webhooks/{source}", s.handleWebhook)

	return r
}

type chatRequest struct {
	UserID         string `json:"userId"`
	ConversationID string `json:"conversationId"`
	Content        string `json:"content"`
	AccessToken    string `json:"accessToken,omitempty"`
}

func (s *server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" || req.ConversationID == "" || req.Content == "" {
		http.Error(w, "userId, conversationId, and content are required", http.StatusBadRequest)
		return
	}

	resp, err := s.orchestrator.ProcessMessage(r.Context(), agent.ChatRequest{
		UserID:         req.UserID,
		ConversationID: req.ConversationID,
		Content:        req.Content,
		RequestToken:   req.AccessToken,
	})
	if err != nil {
		logger.ErrorCF("server", "Chat turn failed", map[string]interface{}{
			"user_id":         req.UserID,
			"conversation_id": req.ConversationID,
			"error":           err.Error(),
		})
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	// Persist the finalized turns. A persistence failure is logged but
	// does not fail the response the advisor already earned.
	s.persistTurns(req, resp)

	writeJSON(w, http.StatusOK, resp)
}

func (s *server) persistTurns(req chatRequest, resp *agent.Response) {
	// Detached from the request context: the turn is already finalized and
	// tool side effects committed, so a client disconnect must not erase
	// it from history.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.store.AppendTurn(ctx, &store.Turn{
		ConversationID: req.ConversationID,
		UserID:         req.UserID,
		Role:           "user",
		Content:        req.Content,
	}); err != nil {
		logger.WarnCF("server", "Failed to persist user turn", map[string]interface{}{
			"conversation_id": req.ConversationID,
			"error":           err.Error(),
		})
		return
	}

	var toolLog string
	if len(resp.ToolCalls) > 0 {
		if data, err := json.Marshal(map[string]interface{}{
			"toolCalls":    resp.ToolCalls,
			"toolOutcomes": resp.ToolOutcomes,
		}); err == nil {
			toolLog = string(data)
		}
	}
	if err := s.store.AppendTurn(ctx, &store.Turn{
		ConversationID: req.ConversationID,
		UserID:         req.UserID,
		Role:           "assistant",
		Content:        resp.Content,
		ToolLog:        toolLog,
	}); err != nil {
		logger.WarnCF("server", "Failed to persist assistant turn", map[string]interface{}{
			"conversation_id": req.ConversationID,
			"error":           err.Error(),
		})
	}
}

type importMessagesRequest struct {
	UserID   string `json:"userId"`
	Messages []struct {
		ExternalID string    `json:"externalId"`
		Subject    string    `json:"subject"`
		Sender     string    `json:"sender"`
		Recipient  string    `json:"recipient"`
		Body       string    `json:"body"`
		SentAt     time.Time `json:"sentAt"`
	} `json:"messages"`
}

func (s *server) handleImportMessages(w http.ResponseWriter, r *http.Request) {
	var req importMessagesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		http.Error(w, "userId is required", http.StatusBadRequest)
		return
	}

	imported := 0
	for _, m := range req.Messages {
		inserted, err := s.importer.ImportMessage(r.Context(), &store.MessageRecord{
			UserID:     req.UserID,
			ExternalID: m.ExternalID,
			Subject:    m.Subject,
			Sender:     m.Sender,
			Recipient:  m.Recipient,
			Body:       m.Body,
			SentAt:     m.SentAt,
		})
		if err != nil {
			http.Error(w, "import failed", http.StatusInternalServerError)
			return
		}
		if inserted {
			imported++
		}
	}
	writeJSON(w, http.StatusOK, map[string]int{"imported": imported, "received": len(req.Messages)})
}

type importContactsRequest struct {
	UserID   string `json:"userId"`
	Contacts []struct {
		ExternalID string `json:"externalId"`
		Name       string `json:"name"`
		Email      string `json:"email"`
		Phone      string `json:"phone"`
		Company    string `json:"company"`
		Notes      string `json:"notes"`
	} `json:"contacts"`
}

func (s *server) handleImportContacts(w http.ResponseWriter, r *http.Request) {
	var req importContactsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		http.Error(w, "userId is required", http.StatusBadRequest)
		return
	}

	imported := 0
	for _, c := range req.Contacts {
		inserted, err := s.importer.ImportContact(r.Context(), &store.ContactRecord{
			UserID:     req.UserID,
			ExternalID: c.ExternalID,
			Name:       c.Name,
			Email:      c.Email,
			Phone:      c.Phone,
			Company:    c.Company,
			Notes:      c.Notes,
		})
		if err != nil {
			http.Error(w, "import failed", http.StatusInternalServerError)
			return
		}
		if inserted {
			imported++
		}
	}
	writeJSON(w, http.StatusOK, map[string]int{"imported": imported, "received": len(req.Contacts)})
}

type instructionsRequest struct {
	UserID       string `json:"userId"`
	Instructions string `json:"instructions"`
}

func (s *server) handleSetInstructions(w http.ResponseWriter, r *http.Request) {
	var req instructionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		http.Error(w, "userId is required", http.StatusBadRequest)
		return
	}
	if err := s.store.SetInstructions(r.Context(), req.UserID, req.Instructions); err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type webhookRequest struct {
	UserID    string                 `json:"userId,omitempty"`
	EventType string                 `json:"eventType"`
	Payload   map[string]interface{} `json:"payload"`
}

func (s *server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if s.webhookSecret != "" {
		got := r.Header.Get("X-Webhook-Secret")
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.webhookSecret)) != 1 {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
	}

	var req webhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	source := chi.URLParam(r, "source")
	eventType := req.EventType
	if eventType == "" {
		eventType = source + ".event"
	}

	// Fire-and-forget automation: acknowledge and react in the background.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if req.UserID != "" {
			if err := s.reactor.OnEvent(ctx, req.UserID, eventType, req.Payload); err != nil {
				logger.WarnCF("server", "Webhook reaction failed", map[string]interface{}{
					"user_id":    req.UserID,
					"event_type": eventType,
					"error":      err.Error(),
				})
			}
			return
		}
		s.reactor.Broadcast(ctx, eventType, req.Payload)
	}()

	w.WriteHeader(http.StatusAccepted)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WarnCF("server", "Failed to encode response", map[string]interface{}{
			"error": err.Error(),
		})
	}
}
