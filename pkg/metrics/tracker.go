package metrics

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// TokenEvent records usage for a single LLM call.
type TokenEvent struct {
	Timestamp      string   `json:"ts"`
	ConversationID string   `json:"conversation"`
	UserID         string   `json:"user"`
	Model          string   `json:"model"`
	InputTokens    int      `json:"in"`
	OutputTokens   int      `json:"out"`
	CostUSD        float64  `json:"cost"`
	ToolsUsed      []string `json:"tools,omitempty"`
	Phase          string   `json:"phase,omitempty"` // "chat", "tool_followup", "webhook"
}

// Tracker appends token usage events to a JSONL file.
type Tracker struct {
	filePath string
	mu       sync.Mutex
}

// NewTracker creates a tracker that writes to dataDir/metrics/tokens.jsonl.
func NewTracker(dataDir string) *Tracker {
	dir := filepath.Join(dataDir, "metrics")
	os.MkdirAll(dir, 0755)
	return &Tracker{
		filePath: filepath.Join(dir, "tokens.jsonl"),
	}
}

// Record appends a token event to the JSONL file.
func (t *Tracker) Record(event TokenEvent) {
	if t == nil {
		return
	}
	if event.Timestamp == "" {
		event.Timestamp = time.Now().Format(time.RFC3339)
	}
	event.CostUSD = calculateCost(event.Model, event.InputTokens, event.OutputTokens)

	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	f, err := os.OpenFile(t.filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return
	}
	defer f.Close()

	f.Write(data)
	f.Write([]byte("\n"))
}

// Model pricing per million tokens (input, output).
type modelPricing struct {
	inputPerM  float64
	outputPerM float64
}

var pricing = map[string]modelPricing{
	"claude-sonnet-4-5-20250929": {3.0, 15.0},
	"claude-sonnet-4-20250514":   {3.0, 15.0},
	"claude-haiku-3-5-20241022":  {0.8, 4.0},
	"claude-opus-4-20250514":     {15.0, 75.0},
}

func calculateCost(model string, input, output int) float64 {
	p, ok := pricing[model]
	if !ok {
		// Default to Sonnet pricing
		p = modelPricing{3.0, 15.0}
	}

	return float64(input)*p.inputPerM/1e6 + float64(output)*p.outputPerM/1e6
}
