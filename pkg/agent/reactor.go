package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/northstarfp/compass/pkg/logger"
	"github.com/northstarfp/compass/pkg/providers"
	"github.com/northstarfp/compass/pkg/store"
	"github.com/northstarfp/compass/pkg/tools"
)

// noActionSentinel is the fixed token the model replies with when an event
// warrants no automatic action.
const noActionSentinel = "NO_ACTION"

const reactorPromptFormat = `You monitor inbound events for a financial advisor and decide whether their
standing instructions call for an automatic action.

## Standing Instructions
%s

## Event
Type: %s
Payload:
%s

If the instructions do not clearly call for an action, reply with exactly
%s and nothing else. Otherwise reply with a single JSON object of the form
{"toolCalls": [{"name": "...", "arguments": {...}}]} using only these tools:
%s`

// reactorAction is the structured action shape the model may answer with.
type reactorAction struct {
	ToolCalls []struct {
		Name      string                 `json:"name"`
		Arguments map[string]interface{} `json:"arguments"`
	} `json:"toolCalls"`
}

// Reactor feeds inbound events through the model + dispatcher pipeline.
// It is fire-and-forget automation: nothing is reported back to a
// user-facing channel.
type Reactor struct {
	provider providers.LLMProvider
	model    string
	store    *store.Store
	tools    *tools.ToolRegistry
}

func NewReactor(provider providers.LLMProvider, model string, s *store.Store, registry *tools.ToolRegistry) *Reactor {
	return &Reactor{provider: provider, model: model, store: s, tools: registry}
}

// OnEvent decides and applies the automatic reaction for one user. No-op
// when the model is unavailable or the user has no standing instructions.
func (r *Reactor) OnEvent(ctx context.Context, userID, eventType string, payload map[string]interface{}) error {
	if !providers.Available(r.provider) {
		return nil
	}

	instructions, ok, err := r.store.Instructions(ctx, userID)
	if err != nil {
		return fmt.Errorf("load instructions: %w", err)
	}
	if !ok || strings.TrimSpace(instructions) == "" {
		return nil
	}

	payloadJSON, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		payloadJSON = []byte("{}")
	}
	prompt := fmt.Sprintf(reactorPromptFormat,
		instructions, eventType, payloadJSON, noActionSentinel,
		strings.Join(r.tools.List(), ", "))

	response, err := r.provider.Chat(ctx, []providers.Message{
		{Role: "user", Content: prompt},
	}, nil, r.model, nil)
	if err != nil {
		if providers.IsUnavailable(err) {
			return nil
		}
		return fmt.Errorf("reactor model invocation failed: %w", err)
	}

	// The sentinel only counts when the reply carries no JSON object; an
	// action payload is free to mention the sentinel's text.
	reply := strings.TrimSpace(response.Content)
	if reply == "" || (!strings.Contains(reply, "{") && strings.Contains(reply, noActionSentinel)) {
		logger.DebugCF("reactor", "No action for event", map[string]interface{}{
			"user_id":    userID,
			"event_type": eventType,
		})
		return nil
	}

	var action reactorAction
	if err := json.Unmarshal([]byte(extractJSON(reply)), &action); err != nil {
		logger.WarnCF("reactor", "Unparseable action reply, skipping", map[string]interface{}{
			"user_id":    userID,
			"event_type": eventType,
			"error":      err.Error(),
		})
		return nil
	}

	// Individual failures are logged and swallowed, never surfaced.
	for _, tc := range action.ToolCalls {
		result := r.tools.Execute(ctx, tc.Name, tc.Arguments)
		if result.IsError {
			logger.WarnCF("reactor", "Automatic tool call failed", map[string]interface{}{
				"user_id":    userID,
				"event_type": eventType,
				"tool":       tc.Name,
				"error":      result.ForLLM,
			})
			continue
		}
		logger.InfoCF("reactor", "Automatic tool call applied", map[string]interface{}{
			"user_id":    userID,
			"event_type": eventType,
			"tool":       tc.Name,
		})
	}
	return nil
}

// Broadcast applies OnEvent independently for every user holding standing
// instructions. Per-user failures do not stop the sweep.
func (r *Reactor) Broadcast(ctx context.Context, eventType string, payload map[string]interface{}) {
	if !providers.Available(r.provider) {
		return
	}

	users, err := r.store.UsersWithInstructions(ctx)
	if err != nil {
		logger.ErrorCF("reactor", "Failed to list users with instructions", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	for _, userID := range users {
		if err := r.OnEvent(ctx, userID, eventType, payload); err != nil {
			logger.WarnCF("reactor", "Event handling failed for user", map[string]interface{}{
				"user_id":    userID,
				"event_type": eventType,
				"error":      err.Error(),
			})
		}
	}
}

// extractJSON trims markdown fences and surrounding prose around a JSON
// object, a common model reply artifact.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}
