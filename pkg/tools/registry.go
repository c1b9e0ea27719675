package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/northstarfp/compass/pkg/logger"
	"github.com/northstarfp/compass/pkg/providers"
)

// ToolResult is the uniform outcome of one tool invocation. ForLLM is what
// goes back into the transcript; ForUser is optional user-facing text the
// caller may surface directly.
type ToolResult struct {
	ForLLM  string
	ForUser string
	Silent  bool
	IsError bool
	Err     error
}

// ErrorResult builds a failed outcome carrying the error message string.
func ErrorResult(msg string) *ToolResult {
	return &ToolResult{ForLLM: msg, IsError: true, Err: errors.New(msg)}
}

// SilentResult builds a successful outcome shown only to the model.
func SilentResult(content string) *ToolResult {
	return &ToolResult{ForLLM: content, Silent: true}
}

// Tool is one model-invokable capability.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) *ToolResult
}

// ToolRegistry maps tool names to handlers. The supported set is closed:
// registration happens at construction time, and unknown names at execution
// time yield an error outcome rather than a crash.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]Tool)}
}

func (r *ToolRegistry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
}

func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns registered tool names, sorted.
func (r *ToolRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ToProviderDefs renders the registered schemas for the model, in stable
// name order.
func (r *ToolRegistry) ToProviderDefs() []providers.ToolDefinition {
	defs := make([]providers.ToolDefinition, 0, len(r.tools))
	for _, name := range r.List() {
		t, _ := r.Get(name)
		defs = append(defs, providers.ToolDefinition{
			Type: "function",
			Function: providers.FunctionSpec{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return defs
}

// Execute runs one invocation and always produces exactly one outcome:
// unknown tools and handler panics become error results, never a dropped
// call or a crash.
func (r *ToolRegistry) Execute(ctx context.Context, name string, args map[string]interface{}) (result *ToolResult) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.ErrorCF("tools", "Tool handler panicked", map[string]interface{}{
				"tool":  name,
				"panic": fmt.Sprintf("%v", rec),
			})
			result = ErrorResult(fmt.Sprintf("tool %s failed: %v", name, rec))
		}
	}()

	tool, ok := r.Get(name)
	if !ok {
		return ErrorResult(fmt.Sprintf("unknown tool: %s", name))
	}

	res := tool.Execute(ctx, args)
	if res == nil {
		return ErrorResult(fmt.Sprintf("tool %s returned no result", name))
	}
	return res
}

// -- Argument helpers --
// Model-supplied argument bags arrive as decoded JSON, so numbers are
// float64 and everything needs a type assert.

func strArg(args map[string]interface{}, key string) string {
	v, _ := args[key].(string)
	return v
}

func intArg(args map[string]interface{}, key string, def int) int {
	if v, ok := args[key].(float64); ok && int(v) > 0 {
		return int(v)
	}
	return def
}

func mapArg(args map[string]interface{}, key string) map[string]interface{} {
	v, _ := args[key].(map[string]interface{})
	return v
}
