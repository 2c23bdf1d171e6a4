// Package auth injects credentials into requests sent to the target API.
package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/torosent/crudfire/internal/config"
)

// Provider defines the interface for authentication providers that can
// obtain tokens and inject them into HTTP requests.
type Provider interface {
	// Token returns the current token.
	Token(ctx context.Context) (string, error)

	// InjectHeader sets the Authorization header of req.
	InjectHeader(ctx context.Context, req *http.Request) error

	// Close releases any resources held by the provider.
	Close() error
}

// FromConfig returns the provider described by cfg, or nil when no
// credentials are configured.
func FromConfig(cfg config.AuthConfig) Provider {
	token := strings.TrimSpace(cfg.StaticToken)
	if token == "" {
		return nil
	}
	return NewStaticTokenProvider(token)
}
