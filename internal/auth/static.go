package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// ErrEmptyToken is returned when a static provider has no token to send.
var ErrEmptyToken = errors.New("auth: static token is empty")

// StaticTokenProvider sends a pre-configured bearer token, typically one
// obtained outside the harness.
type StaticTokenProvider struct {
	token string
}

// NewStaticTokenProvider creates a static provider. A leading "Bearer " is
// stripped so either form may be configured.
func NewStaticTokenProvider(token string) *StaticTokenProvider {
	token = strings.TrimSpace(token)
	if len(token) > 7 && strings.EqualFold(token[:7], "bearer ") {
		token = strings.TrimSpace(token[7:])
	}
	return &StaticTokenProvider{token: token}
}

// Token returns the static token without any network calls.
func (p *StaticTokenProvider) Token(context.Context) (string, error) {
	if p.token == "" {
		return "", ErrEmptyToken
	}
	return p.token, nil
}

// InjectHeader sets "Authorization: Bearer <token>" on req.
func (p *StaticTokenProvider) InjectHeader(ctx context.Context, req *http.Request) error {
	token, err := p.Token(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

// Close is a no-op for static token providers.
func (p *StaticTokenProvider) Close() error {
	return nil
}
