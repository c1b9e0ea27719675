package agent

import (
	"context"
	"strings"
	"testing"

	"github.com/northstarfp/compass/pkg/providers"
	"github.com/northstarfp/compass/pkg/store"
	"github.com/northstarfp/compass/pkg/tools"
)

func newTestReactor(t *testing.T, provider providers.LLMProvider, registry *tools.ToolRegistry) (*Reactor, *store.Store) {
	t.Helper()
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if registry == nil {
		registry = tools.NewToolRegistry()
	}
	return NewReactor(provider, "scripted", s, registry), s
}

func TestOnEvent_NoInstructionsNoCalls(t *testing.T) {
	provider := &scriptedProvider{}
	tool := &recordingTool{name: "create_task"}
	registry := tools.NewToolRegistry()
	registry.Register(tool)
	r, _ := newTestReactor(t, provider, registry)

	err := r.OnEvent(context.Background(), "u1", "email.received", map[string]interface{}{
		"from": "john@example.com",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(provider.calls) != 0 {
		t.Error("no model call expected without standing instructions")
	}
	if tool.executed != 0 {
		t.Error("no collaborator call expected without standing instructions")
	}
}

func TestOnEvent_ProviderUnavailableNoCalls(t *testing.T) {
	tool := &recordingTool{name: "create_task"}
	registry := tools.NewToolRegistry()
	registry.Register(tool)
	r, s := newTestReactor(t, providers.NewUnavailableProvider("no key"), registry)

	if err := s.SetInstructions(context.Background(), "u1", "Create a task for every new email."); err != nil {
		t.Fatalf("set instructions: %v", err)
	}

	if err := r.OnEvent(context.Background(), "u1", "email.received", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tool.executed != 0 {
		t.Error("no collaborator call expected when provider unavailable")
	}
}

func TestOnEvent_NoActionSentinel(t *testing.T) {
	provider := &scriptedProvider{responses: []*providers.LLMResponse{{Content: "NO_ACTION"}}}
	tool := &recordingTool{name: "create_task"}
	registry := tools.NewToolRegistry()
	registry.Register(tool)
	r, s := newTestReactor(t, provider, registry)

	if err := s.SetInstructions(context.Background(), "u1", "Only urgent things."); err != nil {
		t.Fatalf("set instructions: %v", err)
	}

	if err := r.OnEvent(context.Background(), "u1", "email.received", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(provider.calls) != 1 {
		t.Errorf("expected one model call, got %d", len(provider.calls))
	}
	if tool.executed != 0 {
		t.Error("sentinel reply must trigger no tool calls")
	}
}

func TestOnEvent_StructuredActionExecutesTools(t *testing.T) {
	provider := &scriptedProvider{responses: []*providers.LLMResponse{{
		Content: "```json\n{\"toolCalls\":[{\"name\":\"create_task\",\"arguments\":{\"title\":\"Reply to John\"}},{\"name\":\"no_such_tool\",\"arguments\":{}}]}\n```",
	}}}
	tool := &recordingTool{name: "create_task"}
	registry := tools.NewToolRegistry()
	registry.Register(tool)
	r, s := newTestReactor(t, provider, registry)

	if err := s.SetInstructions(context.Background(), "u1", "Create a task for every client email."); err != nil {
		t.Fatalf("set instructions: %v", err)
	}

	// The unknown second call fails internally but must not surface.
	if err := r.OnEvent(context.Background(), "u1", "email.received", map[string]interface{}{
		"from": "john@example.com",
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tool.executed != 1 {
		t.Errorf("expected the valid tool call to run once, ran %d times", tool.executed)
	}
}

func TestOnEvent_PromptCarriesInstructionsAndEvent(t *testing.T) {
	provider := &scriptedProvider{responses: []*providers.LLMResponse{{Content: "NO_ACTION"}}}
	r, s := newTestReactor(t, provider, nil)

	if err := s.SetInstructions(context.Background(), "u1", "Watch for wire transfer requests."); err != nil {
		t.Fatalf("set instructions: %v", err)
	}

	if err := r.OnEvent(context.Background(), "u1", "email.received", map[string]interface{}{
		"subject": "Wire request",
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	prompt := provider.calls[0][0].Content
	if !strings.Contains(prompt, "Watch for wire transfer requests.") {
		t.Error("prompt should carry standing instructions")
	}
	if !strings.Contains(prompt, "email.received") || !strings.Contains(prompt, "Wire request") {
		t.Error("prompt should describe the event")
	}
	if !strings.Contains(prompt, "NO_ACTION") {
		t.Error("prompt should name the sentinel")
	}
}

func TestBroadcast_IteratesInstructionHolders(t *testing.T) {
	provider := &scriptedProvider{responses: []*providers.LLMResponse{
		{Content: "NO_ACTION"},
		{Content: "NO_ACTION"},
	}}
	r, s := newTestReactor(t, provider, nil)
	ctx := context.Background()

	if err := s.SetInstructions(ctx, "u1", "Policy one."); err != nil {
		t.Fatalf("set instructions: %v", err)
	}
	if err := s.SetInstructions(ctx, "u2", "Policy two."); err != nil {
		t.Fatalf("set instructions: %v", err)
	}

	r.Broadcast(ctx, "email.received", nil)
	if len(provider.calls) != 2 {
		t.Errorf("expected one model call per instruction holder, got %d", len(provider.calls))
	}
}

func TestOnEvent_ActionMentioningSentinelStillRuns(t *testing.T) {
	provider := &scriptedProvider{responses: []*providers.LLMResponse{{
		Content: `{"toolCalls":[{"name":"create_task","arguments":{"title":"File NO_ACTION report for compliance"}}]}`,
	}}}
	tool := &recordingTool{name: "create_task"}
	registry := tools.NewToolRegistry()
	registry.Register(tool)
	r, s := newTestReactor(t, provider, registry)

	if err := s.SetInstructions(context.Background(), "u1", "Create a task for every compliance email."); err != nil {
		t.Fatalf("set instructions: %v", err)
	}

	if err := r.OnEvent(context.Background(), "u1", "email.received", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tool.executed != 1 {
		t.Errorf("expected the action to run despite the sentinel text in its payload, ran %d times", tool.executed)
	}
}
