package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/northstarfp/compass/pkg/auth"
	"github.com/northstarfp/compass/pkg/logger"
	"github.com/northstarfp/compass/pkg/memory"
	"github.com/northstarfp/compass/pkg/metrics"
	"github.com/northstarfp/compass/pkg/providers"
	"github.com/northstarfp/compass/pkg/store"
	"github.com/northstarfp/compass/pkg/tools"
)

// ChatRequest is one advisor utterance handed to the orchestrator.
type ChatRequest struct {
	UserID         string
	ConversationID string
	Content        string
	// RequestToken is an optional short-lived credential forwarded to
	// credentialed tools for this turn only.
	RequestToken string
}

// ToolInvocation is one model-requested external action.
type ToolInvocation struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// ToolOutcome is the result record correlated to one invocation. Every
// invocation yields exactly one outcome, failures included.
type ToolOutcome struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Content string `json:"content"`
	IsError bool   `json:"isError,omitempty"`
}

// Response is the structured result of one chat turn.
type Response struct {
	Content        string           `json:"content"`
	ToolCalls      []ToolInvocation `json:"toolCalls,omitempty"`
	ToolOutcomes   []ToolOutcome    `json:"toolOutcomes,omitempty"`
	MeetingSummary *MeetingSummary  `json:"meetingSummary,omitempty"`
}

// Orchestrator drives one chat turn from utterance to structured response:
// gather context, invoke the model, run at most one tool round, finalize.
type Orchestrator struct {
	provider  providers.LLMProvider
	model     string
	store     *store.Store
	retriever *memory.Retriever
	tools     *tools.ToolRegistry
	prompts   *PromptBuilder
	tracker   *metrics.Tracker
	limit     int
}

type OrchestratorOptions struct {
	Provider       providers.LLMProvider
	Model          string
	Store          *store.Store
	Retriever      *memory.Retriever
	Tools          *tools.ToolRegistry
	HistoryWindow  int
	RetrievalLimit int
	Tracker        *metrics.Tracker
}

func NewOrchestrator(opts OrchestratorOptions) *Orchestrator {
	limit := opts.RetrievalLimit
	if limit <= 0 {
		limit = 5
	}
	return &Orchestrator{
		provider:  opts.Provider,
		model:     opts.Model,
		store:     opts.Store,
		retriever: opts.Retriever,
		tools:     opts.Tools,
		prompts:   NewPromptBuilder(opts.HistoryWindow),
		tracker:   opts.Tracker,
		limit:     limit,
	}
}

// ProcessMessage handles one chat turn. It always produces a Response with
// non-empty text unless the failure is fatal, in which case the error is
// returned for the caller to surface. Persisting the new turns afterwards is
// the caller's job.
func (o *Orchestrator) ProcessMessage(ctx context.Context, req ChatRequest) (*Response, error) {
	logger.InfoCF("agent", "Processing message", map[string]interface{}{
		"user_id":         req.UserID,
		"conversation_id": req.ConversationID,
		"content_chars":   len(req.Content),
	})

	// 1. Gather grounding inputs. Retrieval never fails; instruction reads
	// degrade to empty on error.
	contextBlock := o.retriever.Context(ctx, req.UserID, req.Content, o.limit)
	instructions, _, err := o.store.Instructions(ctx, req.UserID)
	if err != nil {
		logger.WarnCF("agent", "Failed to load standing instructions", map[string]interface{}{
			"user_id": req.UserID,
			"error":   err.Error(),
		})
		instructions = ""
	}

	// 2. Model never initialized: deterministic fallback, no model call.
	if !providers.Available(o.provider) {
		logger.InfoCF("agent", "Model unavailable, using fallback reply", map[string]interface{}{
			"user_id": req.UserID,
		})
		return &Response{Content: fallbackReply(req.Content, contextBlock, instructions)}, nil
	}

	// 3. Assemble the transcript: grounding system turn, bounded history
	// window, then the new user turn.
	messages := []providers.Message{{
		Role:    "system",
		Content: o.prompts.BuildSystemPrompt(instructions, contextBlock),
	}}
	history, err := o.store.RecentTurns(ctx, req.ConversationID, o.prompts.HistoryWindow())
	if err != nil {
		logger.WarnCF("agent", "Failed to load conversation history", map[string]interface{}{
			"conversation_id": req.ConversationID,
			"error":           err.Error(),
		})
	}
	messages = append(messages, historyMessages(history)...)
	messages = append(messages, providers.Message{Role: "user", Content: req.Content})

	// 4. First model call, with the declared tool schema.
	defs := o.tools.ToProviderDefs()
	response, err := o.provider.Chat(ctx, messages, defs, o.model, nil)
	if err != nil {
		if providers.IsUnavailable(err) {
			logger.WarnCF("agent", "Model call classified unavailable, using fallback reply", map[string]interface{}{
				"error": err.Error(),
			})
			return &Response{Content: fallbackReply(req.Content, contextBlock, instructions)}, nil
		}
		return nil, fmt.Errorf("model invocation failed: %w", err)
	}
	o.recordUsage(req, response, "chat", nil)

	// 5. No tool calls: finalize with the reply text.
	if len(response.ToolCalls) == 0 {
		return &Response{Content: response.Content}, nil
	}

	// 6. One tool round: execute sequentially in model order, one outcome
	// per invocation, failures do not abort siblings. The per-request
	// credential rides on the context, scoped to this turn only.
	toolCtx := auth.WithRequestToken(ctx, req.RequestToken)

	invocations := make([]ToolInvocation, 0, len(response.ToolCalls))
	outcomes := make([]ToolOutcome, 0, len(response.ToolCalls))
	assistantMsg := providers.Message{Role: "assistant", Content: response.Content}

	for _, tc := range response.ToolCalls {
		id := tc.ID
		if id == "" {
			id = uuid.NewString()
		}
		inv := ToolInvocation{ID: id, Name: tc.Name, Arguments: tc.Arguments}
		invocations = append(invocations, inv)

		argsJSON, _ := json.Marshal(tc.Arguments)
		assistantMsg.ToolCalls = append(assistantMsg.ToolCalls, providers.ToolCall{
			ID:   id,
			Type: "function",
			Function: &providers.FunctionCall{
				Name:      tc.Name,
				Arguments: string(argsJSON),
			},
		})
	}
	messages = append(messages, assistantMsg)

	toolNames := make([]string, 0, len(invocations))
	for _, inv := range invocations {
		toolNames = append(toolNames, inv.Name)
		logger.InfoCF("agent", fmt.Sprintf("Tool call: %s", inv.Name), map[string]interface{}{
			"tool":    inv.Name,
			"call_id": inv.ID,
		})

		result := o.tools.Execute(toolCtx, inv.Name, inv.Arguments)
		content := result.ForLLM
		if content == "" && result.Err != nil {
			content = result.Err.Error()
		}
		outcomes = append(outcomes, ToolOutcome{
			ID:      inv.ID,
			Name:    inv.Name,
			Content: content,
			IsError: result.IsError,
		})
		messages = append(messages, providers.Message{
			Role:       "tool",
			Content:    content,
			ToolCallID: inv.ID,
		})
	}

	// 7. Exactly one follow-up model call with the full transcript. No
	// second tool round; any tool calls in this reply are ignored.
	final, err := o.provider.Chat(ctx, messages, defs, o.model, nil)
	if err != nil {
		if providers.IsUnavailable(err) {
			logger.WarnCF("agent", "Follow-up model call unavailable", map[string]interface{}{
				"error": err.Error(),
			})
			return &Response{
				Content:        fallbackReply(req.Content, contextBlock, instructions),
				ToolCalls:      invocations,
				ToolOutcomes:   outcomes,
				MeetingSummary: projectMeetingSummary(invocations, outcomes),
			}, nil
		}
		return nil, fmt.Errorf("follow-up model invocation failed: %w", err)
	}
	o.recordUsage(req, final, "tool_followup", toolNames)

	return &Response{
		Content:        final.Content,
		ToolCalls:      invocations,
		ToolOutcomes:   outcomes,
		MeetingSummary: projectMeetingSummary(invocations, outcomes),
	}, nil
}

func (o *Orchestrator) recordUsage(req ChatRequest, resp *providers.LLMResponse, phase string, toolNames []string) {
	if o.tracker == nil || resp == nil || resp.Usage == nil {
		return
	}
	o.tracker.Record(metrics.TokenEvent{
		ConversationID: req.ConversationID,
		UserID:         req.UserID,
		Model:          o.model,
		InputTokens:    resp.Usage.PromptTokens,
		OutputTokens:   resp.Usage.CompletionTokens,
		ToolsUsed:      toolNames,
		Phase:          phase,
	})
}
