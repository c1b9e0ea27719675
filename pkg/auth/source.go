package auth

import (
	"context"
	"errors"

	"golang.org/x/oauth2"
)

// ErrNoCredential means neither a per-request nor a stored token could be
// established.
var ErrNoCredential = errors.New("no credential available")

type requestTokenKey struct{}

// WithRequestToken attaches a short-lived caller-supplied token to the
// context so every tool invocation on this call path resolves it without
// shared state. An empty token leaves the context unchanged.
func WithRequestToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, requestTokenKey{}, token)
}

func requestToken(ctx context.Context) string {
	token, _ := ctx.Value(requestTokenKey{}).(string)
	return token
}

// CredentialSource resolves the access token for credentialed tools.
// Policy: prefer the per-request token carried on the context; without one,
// fall back to the stored token. Concurrent turns each carry their own
// context, so one turn's token can never leak into another's.
type CredentialSource struct {
	stored oauth2.TokenSource
}

func NewCredentialSource(stored oauth2.TokenSource) *CredentialSource {
	return &CredentialSource{stored: stored}
}

// Token resolves an access token under the preference policy.
func (c *CredentialSource) Token(ctx context.Context) (string, error) {
	if token := requestToken(ctx); token != "" {
		return token, nil
	}

	if c.stored != nil {
		tok, err := c.stored.Token()
		if err != nil {
			return "", err
		}
		return tok.AccessToken, nil
	}

	return "", ErrNoCredential
}
