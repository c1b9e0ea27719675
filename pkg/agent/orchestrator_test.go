package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/northstarfp/compass/pkg/auth"
	"github.com/northstarfp/compass/pkg/memory"
	"github.com/northstarfp/compass/pkg/providers"
	"github.com/northstarfp/compass/pkg/store"
	"github.com/northstarfp/compass/pkg/tools"
)

// scriptedProvider replays canned responses in order and records every
// transcript it was called with.
type scriptedProvider struct {
	responses []*providers.LLMResponse
	errs      []error
	calls     [][]providers.Message
}

func (p *scriptedProvider) Chat(ctx context.Context, messages []providers.Message, defs []providers.ToolDefinition, model string, options map[string]interface{}) (*providers.LLMResponse, error) {
	p.calls = append(p.calls, messages)
	i := len(p.calls) - 1
	if i < len(p.errs) && p.errs[i] != nil {
		return nil, p.errs[i]
	}
	if i < len(p.responses) {
		return p.responses[i], nil
	}
	return &providers.LLMResponse{Content: "ok"}, nil
}

func (p *scriptedProvider) GetDefaultModel() string { return "scripted" }

// recordingTool remembers its executions and optionally fails.
type recordingTool struct {
	name     string
	fail     bool
	executed int
}

func (t *recordingTool) Name() string                       { return t.name }
func (t *recordingTool) Description() string                { return "test tool" }
func (t *recordingTool) Parameters() map[string]interface{} { return map[string]interface{}{} }

func (t *recordingTool) Execute(ctx context.Context, args map[string]interface{}) *tools.ToolResult {
	t.executed++
	if t.fail {
		return tools.ErrorResult(t.name + " exploded")
	}
	return tools.SilentResult(t.name + " done")
}

// calendarSearchTool emits a fixed event list under the canonical name.
type calendarSearchTool struct{}

func (calendarSearchTool) Name() string                       { return "search_calendar_events" }
func (calendarSearchTool) Description() string                { return "test calendar search" }
func (calendarSearchTool) Parameters() map[string]interface{} { return map[string]interface{}{} }

func (calendarSearchTool) Execute(ctx context.Context, args map[string]interface{}) *tools.ToolResult {
	return tools.SilentResult(`[{"id":"ev1","summary":"Portfolio review","start":"2026-03-02T14:30:00Z","end":"2026-03-02T15:30:00Z","attendees":["John Smith","sara@example.com"]}]`)
}

func newTestOrchestrator(t *testing.T, provider providers.LLMProvider, registry *tools.ToolRegistry) (*Orchestrator, *store.Store) {
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
	retriever := memory.NewRetriever(s, providers.NewUnavailableEmbedder("no key"), index)

	if registry == nil {
		registry = tools.NewToolRegistry()
	}
	return NewOrchestrator(OrchestratorOptions{
		Provider:  provider,
		Model:     "scripted",
		Store:     s,
		Retriever: retriever,
		Tools:     registry,
	}), s
}

func toolCallResponse(calls ...providers.ToolCall) *providers.LLMResponse {
	return &providers.LLMResponse{Content: "working on it", ToolCalls: calls}
}

func TestProcessMessage_DirectAnswer(t *testing.T) {
	provider := &scriptedProvider{responses: []*providers.LLMResponse{{Content: "All set."}}}
	o, _ := newTestOrchestrator(t, provider, nil)

	resp, err := o.ProcessMessage(context.Background(), ChatRequest{
		UserID:         "u1",
		ConversationID: "c1",
		Content:        "Anything urgent today?",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "All set." {
		t.Errorf("unexpected content %q", resp.Content)
	}
	if len(resp.ToolCalls) != 0 || len(resp.ToolOutcomes) != 0 {
		t.Error("expected no tool activity for a direct answer")
	}
	if len(provider.calls) != 1 {
		t.Errorf("expected a single model call, got %d", len(provider.calls))
	}
}

func TestProcessMessage_NOutcomesInOrder(t *testing.T) {
	okTool := &recordingTool{name: "search_contacts"}
	badTool := &recordingTool{name: "create_calendar_event", fail: true}
	registry := tools.NewToolRegistry()
	registry.Register(okTool)
	registry.Register(badTool)

	provider := &scriptedProvider{responses: []*providers.LLMResponse{
		toolCallResponse(
			providers.ToolCall{ID: "t1", Name: "search_contacts", Arguments: map[string]interface{}{"query": "john"}},
			providers.ToolCall{ID: "t2", Name: "create_calendar_event", Arguments: map[string]interface{}{}},
			providers.ToolCall{ID: "t3", Name: "no_such_tool", Arguments: map[string]interface{}{}},
		),
		{Content: "Done what I could."},
	}}
	o, _ := newTestOrchestrator(t, provider, registry)

	resp, err := o.ProcessMessage(context.Background(), ChatRequest{
		UserID: "u1", ConversationID: "c1", Content: "Schedule it",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(resp.ToolOutcomes) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(resp.ToolOutcomes))
	}
	if resp.ToolOutcomes[0].ID != "t1" || resp.ToolOutcomes[1].ID != "t2" || resp.ToolOutcomes[2].ID != "t3" {
		t.Error("expected outcomes in invocation order")
	}
	if resp.ToolOutcomes[0].IsError {
		t.Error("first outcome should succeed")
	}
	if !resp.ToolOutcomes[1].IsError || !strings.Contains(resp.ToolOutcomes[1].Content, "exploded") {
		t.Error("second outcome should carry the failure string")
	}
	if !resp.ToolOutcomes[2].IsError {
		t.Error("unknown tool should yield an error outcome")
	}
	if okTool.executed != 1 || badTool.executed != 1 {
		t.Error("each registered tool should run exactly once")
	}

	// Second call must include the tool result turns.
	if len(provider.calls) != 2 {
		t.Fatalf("expected 2 model calls, got %d", len(provider.calls))
	}
	toolTurns := 0
	for _, m := range provider.calls[1] {
		if m.Role == "tool" {
			toolTurns++
		}
	}
	if toolTurns != 3 {
		t.Errorf("expected 3 tool-result turns in follow-up transcript, got %d", toolTurns)
	}
	if resp.Content != "Done what I could." {
		t.Errorf("unexpected final content %q", resp.Content)
	}
}

func TestProcessMessage_SingleToolRound(t *testing.T) {
	tool := &recordingTool{name: "search_contacts"}
	registry := tools.NewToolRegistry()
	registry.Register(tool)

	// The follow-up reply requests more tools; they must be ignored.
	provider := &scriptedProvider{responses: []*providers.LLMResponse{
		toolCallResponse(providers.ToolCall{ID: "t1", Name: "search_contacts", Arguments: map[string]interface{}{}}),
		toolCallResponse(providers.ToolCall{ID: "t2", Name: "search_contacts", Arguments: map[string]interface{}{}}),
	}}
	o, _ := newTestOrchestrator(t, provider, registry)

	resp, err := o.ProcessMessage(context.Background(), ChatRequest{
		UserID: "u1", ConversationID: "c1", Content: "chain tools",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(provider.calls) != 2 {
		t.Errorf("expected exactly 2 model calls, got %d", len(provider.calls))
	}
	if tool.executed != 1 {
		t.Errorf("expected one tool round only, tool ran %d times", tool.executed)
	}
	if len(resp.ToolOutcomes) != 1 {
		t.Errorf("expected 1 outcome, got %d", len(resp.ToolOutcomes))
	}
}

func TestProcessMessage_FallbackWhenNeverInitialized(t *testing.T) {
	tool := &recordingTool{name: "search_contacts"}
	registry := tools.NewToolRegistry()
	registry.Register(tool)

	o, s := newTestOrchestrator(t, providers.NewUnavailableProvider("no api key"), registry)
	ctx := context.Background()

	if err := s.SetInstructions(ctx, "u1", "Always cc my assistant."); err != nil {
		t.Fatalf("set instructions: %v", err)
	}
	if _, err := s.ImportMessage(ctx, &store.MessageRecord{
		UserID:     "u1",
		ExternalID: "m1",
		Subject:    "Retirement projections",
		Sender:     "john@example.com",
		Body:       "Latest retirement numbers attached.",
		SentAt:     time.Now(),
	}); err != nil {
		t.Fatalf("import message: %v", err)
	}

	resp, err := o.ProcessMessage(ctx, ChatRequest{
		UserID: "u1", ConversationID: "c1", Content: "retirement update?",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content == "" {
		t.Fatal("fallback reply must be non-empty")
	}
	if len(resp.ToolCalls) != 0 {
		t.Error("fallback path must issue no tool invocations")
	}
	if tool.executed != 0 {
		t.Error("fallback path must not execute tools")
	}
	if !strings.Contains(resp.Content, "retirement update?") {
		t.Error("fallback reply should echo the question")
	}
	if !strings.Contains(resp.Content, "Always cc my assistant.") {
		t.Error("fallback reply should include standing instructions")
	}
	if !strings.Contains(resp.Content, "Retirement projections") {
		t.Error("fallback reply should include retrieved context")
	}
	if !strings.Contains(resp.Content, "degraded") {
		t.Error("fallback reply should carry the degraded notice")
	}
}

func TestProcessMessage_UnavailableErrorTriggersFallback(t *testing.T) {
	provider := &scriptedProvider{errs: []error{providers.ErrUnavailable}}
	o, _ := newTestOrchestrator(t, provider, nil)

	resp, err := o.ProcessMessage(context.Background(), ChatRequest{
		UserID: "u1", ConversationID: "c1", Content: "hello",
	})
	if err != nil {
		t.Fatalf("unavailable errors must not surface: %v", err)
	}
	if resp.Content == "" {
		t.Error("expected a fallback reply")
	}
}

func TestProcessMessage_FatalErrorPropagates(t *testing.T) {
	provider := &scriptedProvider{errs: []error{errors.New("malformed request")}}
	o, _ := newTestOrchestrator(t, provider, nil)

	if _, err := o.ProcessMessage(context.Background(), ChatRequest{
		UserID: "u1", ConversationID: "c1", Content: "hello",
	}); err == nil {
		t.Fatal("expected fatal error to propagate")
	}
}

func TestProcessMessage_MeetingSummaryProjection(t *testing.T) {
	registry := tools.NewToolRegistry()
	registry.Register(calendarSearchTool{})

	provider := &scriptedProvider{responses: []*providers.LLMResponse{
		toolCallResponse(providers.ToolCall{ID: "t1", Name: "search_calendar_events", Arguments: map[string]interface{}{"query": "review"}}),
		{Content: "You have a portfolio review Monday."},
	}}
	o, _ := newTestOrchestrator(t, provider, registry)

	resp, err := o.ProcessMessage(context.Background(), ChatRequest{
		UserID: "u1", ConversationID: "c1", Content: "next meeting?",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.MeetingSummary == nil {
		t.Fatal("expected meeting summary projection")
	}
	if resp.MeetingSummary.Title != "Portfolio review" {
		t.Errorf("unexpected title %q", resp.MeetingSummary.Title)
	}
	if resp.MeetingSummary.Date != "Monday, March 2, 2026" {
		t.Errorf("unexpected date %q", resp.MeetingSummary.Date)
	}
	if resp.MeetingSummary.Time != "2:30 PM" {
		t.Errorf("unexpected time %q", resp.MeetingSummary.Time)
	}
	if len(resp.MeetingSummary.Attendees) != 2 || resp.MeetingSummary.Attendees[0] != "John" {
		t.Errorf("unexpected attendees %v", resp.MeetingSummary.Attendees)
	}
}

func TestProcessMessage_NoSummaryWithoutCalendarSearch(t *testing.T) {
	tool := &recordingTool{name: "search_contacts"}
	registry := tools.NewToolRegistry()
	registry.Register(tool)

	provider := &scriptedProvider{responses: []*providers.LLMResponse{
		toolCallResponse(providers.ToolCall{ID: "t1", Name: "search_contacts", Arguments: map[string]interface{}{}}),
		{Content: "Found them."},
	}}
	o, _ := newTestOrchestrator(t, provider, registry)

	resp, err := o.ProcessMessage(context.Background(), ChatRequest{
		UserID: "u1", ConversationID: "c1", Content: "find john",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.MeetingSummary != nil {
		t.Error("no summary expected without a calendar search")
	}
}

func TestProcessMessage_SystemPromptCarriesGrounding(t *testing.T) {
	provider := &scriptedProvider{responses: []*providers.LLMResponse{{Content: "noted"}}}
	o, s := newTestOrchestrator(t, provider, nil)
	ctx := context.Background()

	if err := s.SetInstructions(ctx, "u1", "Flag anything about taxes."); err != nil {
		t.Fatalf("set instructions: %v", err)
	}
	if err := s.AppendTurn(ctx, &store.Turn{
		ConversationID: "c1", UserID: "u1", Role: "user", Content: "earlier question",
	}); err != nil {
		t.Fatalf("append turn: %v", err)
	}

	if _, err := o.ProcessMessage(ctx, ChatRequest{
		UserID: "u1", ConversationID: "c1", Content: "new question",
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	messages := provider.calls[0]
	if messages[0].Role != "system" {
		t.Fatal("first message should be the grounding system turn")
	}
	if !strings.Contains(messages[0].Content, "Flag anything about taxes.") {
		t.Error("system prompt should carry standing instructions")
	}
	if messages[len(messages)-1].Role != "user" || messages[len(messages)-1].Content != "new question" {
		t.Error("last message should be the new user turn")
	}
	foundHistory := false
	for _, m := range messages[1 : len(messages)-1] {
		if m.Content == "earlier question" {
			foundHistory = true
		}
	}
	if !foundHistory {
		t.Error("history window should be replayed before the new turn")
	}
}

func TestPromptBuilder_NoneMarker(t *testing.T) {
	pb := NewPromptBuilder(10)
	prompt := pb.BuildSystemPrompt("", "")
	if !strings.Contains(prompt, "## Standing Instructions\nNone") {
		t.Error("expected explicit None marker for absent instructions")
	}
	if strings.Contains(prompt, "## Retrieved Context") {
		t.Error("empty context block should be omitted")
	}
}

// credentialEchoTool resolves the shared credential source and reports the
// token it saw. An optional gate holds the resolution until released.
type credentialEchoTool struct {
	name   string
	creds  *auth.CredentialSource
	gate   chan struct{}
	tokens chan string
}

func (t *credentialEchoTool) Name() string                       { return t.name }
func (t *credentialEchoTool) Description() string                { return "test tool" }
func (t *credentialEchoTool) Parameters() map[string]interface{} { return map[string]interface{}{} }

func (t *credentialEchoTool) Execute(ctx context.Context, args map[string]interface{}) *tools.ToolResult {
	if t.gate != nil {
		<-t.gate
	}
	token, err := t.creds.Token(ctx)
	if err != nil {
		token = "error: " + err.Error()
	}
	t.tokens <- token
	return tools.SilentResult("resolved")
}

func TestProcessMessage_ConcurrentTurnsKeepOwnCredentials(t *testing.T) {
	creds := auth.NewCredentialSource(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "stored-token"}))

	gate := make(chan struct{})
	slowTokens := make(chan string, 1)
	fastTokens := make(chan string, 1)

	registry := tools.NewToolRegistry()
	registry.Register(&credentialEchoTool{name: "slow_echo", creds: creds, gate: gate, tokens: slowTokens})
	registry.Register(&credentialEchoTool{name: "fast_echo", creds: creds, tokens: fastTokens})

	providerA := &scriptedProvider{responses: []*providers.LLMResponse{
		toolCallResponse(providers.ToolCall{ID: "a1", Name: "slow_echo"}),
		{Content: "done a"},
	}}
	providerB := &scriptedProvider{responses: []*providers.LLMResponse{
		toolCallResponse(providers.ToolCall{ID: "b1", Name: "fast_echo"}),
		{Content: "done b"},
	}}
	oA, _ := newTestOrchestrator(t, providerA, registry)
	oB, _ := newTestOrchestrator(t, providerB, registry)

	done := make(chan error, 1)
	go func() {
		_, err := oA.ProcessMessage(context.Background(), ChatRequest{
			UserID: "u1", ConversationID: "a", Content: "send the update", RequestToken: "token-a",
		})
		done <- err
	}()

	// Turn B, carrying no token of its own, finishes a full tool round
	// while turn A is still paused inside its tool.
	if _, err := oB.ProcessMessage(context.Background(), ChatRequest{
		UserID: "u2", ConversationID: "b", Content: "check the calendar",
	}); err != nil {
		t.Fatalf("turn b failed: %v", err)
	}
	if got := <-fastTokens; got != "stored-token" {
		t.Errorf("turn without a request token should resolve the stored credential, got %q", got)
	}

	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("turn a failed: %v", err)
	}
	if got := <-slowTokens; got != "token-a" {
		t.Errorf("turn a should keep its own request token across a concurrent turn, got %q", got)
	}
}

func TestProcessMessage_RetrievalLimitBoundsGrounding(t *testing.T) {
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	index, err := memory.NewVectorIndex()
	if err != nil {
		t.Fatalf("new index: %v", err)
	}
	o := NewOrchestrator(OrchestratorOptions{
		Provider:       providers.NewUnavailableProvider("no api key"),
		Model:          "scripted",
		Store:          s,
		Retriever:      memory.NewRetriever(s, providers.NewUnavailableEmbedder("no key"), index),
		Tools:          tools.NewToolRegistry(),
		RetrievalLimit: 1,
	})

	ctx := context.Background()
	for i, subject := range []string{"Retirement rollover", "Retirement projections", "Retirement checklist"} {
		if _, err := s.ImportMessage(ctx, &store.MessageRecord{
			UserID:     "u1",
			ExternalID: "m" + string(rune('1'+i)),
			Subject:    subject,
			Sender:     "john@example.com",
			SentAt:     time.Now(),
		}); err != nil {
			t.Fatalf("import %s: %v", subject, err)
		}
	}

	resp, err := o.ProcessMessage(ctx, ChatRequest{
		UserID: "u1", ConversationID: "c1", Content: "retirement update?",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := strings.Count(resp.Content, "[email]"); got != 1 {
		t.Errorf("expected grounding capped at 1 email, got %d:\n%s", got, resp.Content)
	}
}
