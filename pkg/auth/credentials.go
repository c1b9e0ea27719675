package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/oauth2"
)

// Credential is a stored OAuth credential for one external service.
// Acquisition (consent flows, device codes) happens outside this core;
// refresh through the recorded token endpoint is handled here.
type Credential struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`
	TokenURL     string    `json:"token_url,omitempty"`
	ClientID     string    `json:"client_id,omitempty"`
	ClientSecret string    `json:"client_secret,omitempty"`
}

// NeedsRefresh reports whether the access token is expired or about to be.
func (c *Credential) NeedsRefresh() bool {
	return !c.Expiry.IsZero() && time.Until(c.Expiry) < 2*time.Minute
}

// Store persists credentials as JSON files, one per service name.
type Store struct {
	dir string
}

func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) path(service string) string {
	return filepath.Join(s.dir, service+".json")
}

// Get loads the credential for a service. Returns nil without error when
// none is stored.
func (s *Store) Get(service string) (*Credential, error) {
	data, err := os.ReadFile(s.path(service))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading credential for %s: %w", service, err)
	}
	var cred Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		return nil, fmt.Errorf("parsing credential for %s: %w", service, err)
	}
	return &cred, nil
}

// Set writes the credential for a service with owner-only permissions.
func (s *Store) Set(service string, cred *Credential) error {
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return fmt.Errorf("creating credentials dir: %w", err)
	}
	data, err := json.MarshalIndent(cred, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.path(service), data, 0600); err != nil {
		return fmt.Errorf("writing credential for %s: %w", service, err)
	}
	return nil
}

// TokenSource returns an oauth2.TokenSource over the stored credential.
// When a refresh token and token endpoint are recorded, refreshed tokens
// are persisted back to disk.
func (s *Store) TokenSource(ctx context.Context, service string) (oauth2.TokenSource, error) {
	cred, err := s.Get(service)
	if err != nil {
		return nil, err
	}
	if cred == nil {
		return nil, fmt.Errorf("no stored credential for %s", service)
	}

	tok := &oauth2.Token{
		AccessToken:  cred.AccessToken,
		RefreshToken: cred.RefreshToken,
		Expiry:       cred.Expiry,
	}

	if cred.RefreshToken == "" || cred.TokenURL == "" {
		return oauth2.StaticTokenSource(tok), nil
	}

	cfg := &oauth2.Config{
		ClientID:     cred.ClientID,
		ClientSecret: cred.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: cred.TokenURL},
	}
	return &persistingSource{
		store:   s,
		service: service,
		cred:    cred,
		src:     cfg.TokenSource(ctx, tok),
	}, nil
}

// persistingSource writes refreshed access tokens back to the store so a
// restart doesn't lose them.
type persistingSource struct {
	store   *Store
	service string
	cred    *Credential
	src     oauth2.TokenSource
}

func (p *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := p.src.Token()
	if err != nil {
		return nil, err
	}
	if tok.AccessToken != p.cred.AccessToken {
		p.cred.AccessToken = tok.AccessToken
		p.cred.Expiry = tok.Expiry
		if tok.RefreshToken != "" {
			p.cred.RefreshToken = tok.RefreshToken
		}
		if err := p.store.Set(p.service, p.cred); err != nil {
			return nil, fmt.Errorf("persisting refreshed token: %w", err)
		}
	}
	return tok, nil
}
