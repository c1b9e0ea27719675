package providers

import "context"

// Message is a provider-neutral conversation turn.
type Message struct {
	Role       string     `json:"role"` // system, user, assistant, tool
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is a model-issued request to run one tool.
type ToolCall struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type,omitempty"`
	Name      string                 `json:"name,omitempty"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
	Function  *FunctionCall          `json:"function,omitempty"`
}

// FunctionCall carries the serialized form of a tool call.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolDefinition declares a tool schema to the model.
type ToolDefinition struct {
	Type     string       `json:"type"`
	Function FunctionSpec `json:"function"`
}

// FunctionSpec is the JSON-schema description of one tool.
type FunctionSpec struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// UsageInfo reports token consumption for one call.
type UsageInfo struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// LLMResponse is the provider-neutral result of one completion call.
type LLMResponse struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string // stop, tool_calls, length
	Usage        *UsageInfo
}

// LLMProvider is the completion/tool-calling capability contract.
type LLMProvider interface {
	Chat(ctx context.Context, messages []Message, tools []ToolDefinition, model string, options map[string]interface{}) (*LLMResponse, error)
	GetDefaultModel() string
}

// Embedder is the embedding capability contract.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
