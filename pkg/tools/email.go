package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/northstarfp/compass/pkg/auth"
)

const defaultEmailResults = 10

// SearchEmailsTool searches the advisor's mailbox through the mail
// collaborator. A fresh client is dialed per call so each invocation uses
// the current credential.
type SearchEmailsTool struct {
	dial  EmailDialer
	creds *auth.CredentialSource
}

func NewSearchEmailsTool(dial EmailDialer, creds *auth.CredentialSource) *SearchEmailsTool {
	return &SearchEmailsTool{dial: dial, creds: creds}
}

func (t *SearchEmailsTool) Name() string {
	return "search_emails"
}

func (t *SearchEmailsTool) Description() string {
	return "Search the advisor's email inbox by keyword. Returns matching messages with sender, subject, date, and body."
}

func (t *SearchEmailsTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Search keywords",
			},
			"maxResults": map[string]interface{}{
				"type":        "integer",
				"description": fmt.Sprintf("Maximum messages to return (default: %d)", defaultEmailResults),
			},
		},
		"required": []string{"query"},
	}
}

func (t *SearchEmailsTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	query := strings.TrimSpace(strArg(args, "query"))
	if query == "" {
		return ErrorResult("query is required")
	}
	limit := intArg(args, "maxResults", defaultEmailResults)

	token, err := t.creds.Token(ctx)
	if err != nil {
		return ErrorResult(fmt.Sprintf("email access unavailable: %v", err))
	}

	messages, err := t.dial(token).Search(ctx, query, limit)
	if err != nil {
		return ErrorResult(fmt.Sprintf("email search failed: %v", err))
	}
	if len(messages) == 0 {
		return SilentResult("No emails matched the query.")
	}

	data, err := json.Marshal(messages)
	if err != nil {
		return ErrorResult(fmt.Sprintf("failed to encode results: %v", err))
	}
	return SilentResult(string(data))
}

// SendEmailTool sends mail on the advisor's behalf.
type SendEmailTool struct {
	dial  EmailDialer
	creds *auth.CredentialSource
}

func NewSendEmailTool(dial EmailDialer, creds *auth.CredentialSource) *SendEmailTool {
	return &SendEmailTool{dial: dial, creds: creds}
}

func (t *SendEmailTool) Name() string {
	return "send_email"
}

func (t *SendEmailTool) Description() string {
	return "Send an email from the advisor's account. Requires recipient, subject, and body."
}

func (t *SendEmailTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"to": map[string]interface{}{
				"type":        "string",
				"description": "Recipient email address",
			},
			"subject": map[string]interface{}{
				"type":        "string",
				"description": "Email subject line",
			},
			"body": map[string]interface{}{
				"type":        "string",
				"description": "Email body text",
			},
		},
		"required": []string{"to", "subject", "body"},
	}
}

func (t *SendEmailTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	to := strings.TrimSpace(strArg(args, "to"))
	subject := strArg(args, "subject")
	body := strArg(args, "body")
	if to == "" || subject == "" || body == "" {
		return ErrorResult("to, subject, and body are required")
	}

	token, err := t.creds.Token(ctx)
	if err != nil {
		return ErrorResult(fmt.Sprintf("email access unavailable: %v", err))
	}

	if err := t.dial(token).Send(ctx, to, subject, body); err != nil {
		return ErrorResult(fmt.Sprintf("failed to send email: %v", err))
	}

	return &ToolResult{
		ForLLM:  fmt.Sprintf("Email sent to %s.", to),
		ForUser: fmt.Sprintf("✉️ Sent \"%s\" to %s", subject, to),
	}
}
