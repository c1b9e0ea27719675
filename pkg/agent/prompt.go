package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/northstarfp/compass/pkg/providers"
	"github.com/northstarfp/compass/pkg/store"
)

// noInstructionsMarker is inserted when the user has no standing
// instructions, so the model never guesses about missing policy.
const noInstructionsMarker = "None"

const roleText = `# Compass

You are Compass, an AI assistant for a financial advisor. You help manage
their email, calendar, CRM contacts, and follow-up tasks, grounding every
answer in the advisor's own data.

## Important Rules

1. **ALWAYS use tools** - When you need to perform an action (search email,
   schedule meetings, update contacts, record tasks), you MUST call the
   appropriate tool. Do NOT just say you'll do it or pretend to do it.

2. **Be helpful and accurate** - When using tools, briefly explain what
   you're doing. Never invent client data that is not in the retrieved
   context or a tool result.

3. **Standing instructions** - The advisor's standing instructions below are
   policy. Follow them on every turn unless the advisor overrides them
   explicitly.`

// PromptBuilder assembles the grounding prompt for one chat turn.
type PromptBuilder struct {
	historyWindow int
}

func NewPromptBuilder(historyWindow int) *PromptBuilder {
	if historyWindow <= 0 {
		historyWindow = 20
	}
	return &PromptBuilder{historyWindow: historyWindow}
}

func (pb *PromptBuilder) HistoryWindow() int {
	return pb.historyWindow
}

// BuildSystemPrompt renders the single grounding instruction: fixed role
// text, the advisor's standing instructions (or an explicit "None" marker),
// and the retrieved context block.
func (pb *PromptBuilder) BuildSystemPrompt(instructions, contextBlock string) string {
	parts := []string{roleText}

	parts = append(parts, "## Current Time\n"+time.Now().Format("2006-01-02 15:04 (Monday)"))

	if strings.TrimSpace(instructions) == "" {
		instructions = noInstructionsMarker
	}
	parts = append(parts, "## Standing Instructions\n"+instructions)

	if strings.TrimSpace(contextBlock) != "" {
		parts = append(parts, "## Retrieved Context\n"+contextBlock)
	}

	return strings.Join(parts, "\n\n")
}

// historyMessages converts the bounded recent turn window into provider
// messages, preserving chronological order verbatim.
func historyMessages(turns []store.Turn) []providers.Message {
	msgs := make([]providers.Message, 0, len(turns))
	for _, t := range turns {
		if t.Role != "user" && t.Role != "assistant" {
			continue
		}
		msgs = append(msgs, providers.Message{Role: t.Role, Content: t.Content})
	}
	return msgs
}

// fallbackReply synthesizes the deterministic reply used when the language
// model is unavailable. It echoes the question, includes retrieved context
// and standing instructions verbatim, and closes with a fixed capability
// footer plus a degraded-AI notice.
func fallbackReply(question, contextBlock, instructions string) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("You asked: %q\n\n", question))

	if strings.TrimSpace(contextBlock) != "" {
		sb.WriteString("Here is what I found in your records:\n\n")
		sb.WriteString(contextBlock)
		sb.WriteString("\n\n")
	} else {
		sb.WriteString("I found nothing in your records matching that question.\n\n")
	}

	if strings.TrimSpace(instructions) != "" {
		sb.WriteString("Your standing instructions:\n")
		sb.WriteString(instructions)
		sb.WriteString("\n\n")
	}

	sb.WriteString("I can normally search your email, manage your calendar, ")
	sb.WriteString("update CRM contacts, and track follow-up tasks.\n\n")
	sb.WriteString("Note: AI-powered reasoning is currently degraded, so this ")
	sb.WriteString("is a direct lookup rather than a full answer. Please try ")
	sb.WriteString("again shortly for tool-assisted help.")

	return sb.String()
}
