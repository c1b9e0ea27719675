package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
)

// ErrUnavailable marks a degraded-capability failure: the provider is
// unreachable, unauthorized, or region-restricted. Callers fall back to a
// deterministic path instead of surfacing it as a hard failure.
var ErrUnavailable = errors.New("capability unavailable")

// UnavailableProvider is the explicit "no language model" sentinel. It is
// threaded through constructors in place of a live client so availability is
// a property of the handle, not a mutable global flag.
type UnavailableProvider struct {
	Reason string
}

func NewUnavailableProvider(reason string) *UnavailableProvider {
	if reason == "" {
		reason = "no completion provider configured"
	}
	return &UnavailableProvider{Reason: reason}
}

func (p *UnavailableProvider) Chat(ctx context.Context, messages []Message, tools []ToolDefinition, model string, options map[string]interface{}) (*LLMResponse, error) {
	return nil, fmt.Errorf("%w: %s", ErrUnavailable, p.Reason)
}

func (p *UnavailableProvider) GetDefaultModel() string {
	return ""
}

// Available reports whether the handle is a live provider.
func Available(p LLMProvider) bool {
	if p == nil {
		return false
	}
	_, sentinel := p.(*UnavailableProvider)
	return !sentinel
}

// UnavailableEmbedder is the embedding counterpart of UnavailableProvider.
type UnavailableEmbedder struct {
	Reason string
}

func NewUnavailableEmbedder(reason string) *UnavailableEmbedder {
	if reason == "" {
		reason = "no embedding provider configured"
	}
	return &UnavailableEmbedder{Reason: reason}
}

func (e *UnavailableEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, fmt.Errorf("%w: %s", ErrUnavailable, e.Reason)
}

// EmbedderAvailable reports whether the handle is a live embedder.
func EmbedderAvailable(e Embedder) bool {
	if e == nil {
		return false
	}
	_, sentinel := e.(*UnavailableEmbedder)
	return !sentinel
}

// IsUnavailable classifies an error as degraded-capability rather than
// fatal. Unauthorized, forbidden (region-restricted) and overloaded API
// responses count; anything else is a fatal error for the current turn.
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnavailable) {
		return true
	}
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		switch apierr.StatusCode {
		case 401, 403, 503, 529:
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not available in your region") ||
		strings.Contains(msg, "overloaded")
}
