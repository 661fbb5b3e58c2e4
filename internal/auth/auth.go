// Package auth verifies the identities that may call the pairing API.
//
// Apps present an access token from the identity provider; the verified
// subject is the only user identifier the server trusts. Devices present a
// shared service key instead, checked against bcrypt hashes.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const (
	ModeJWKS   = "jwks"
	ModeSecret = "secret"
)

var ErrUnauthorized = errors.New("unauthorized")

// Identity is the verified caller.
type Identity struct {
	Subject string
}

type Verifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

type Config struct {
	Mode      string `mapstructure:"mode"`
	Issuer    string `mapstructure:"issuer"`
	Audience  string `mapstructure:"audience"`
	JWKSURL   string `mapstructure:"jwks_url"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

// NewVerifier builds the verifier selected by cfg.Mode.
func NewVerifier(ctx context.Context, cfg Config) (Verifier, error) {
	switch strings.ToLower(cfg.Mode) {
	case ModeJWKS:
		return NewJWKSVerifier(ctx, cfg)
	case ModeSecret, "":
		return NewSecretVerifier(cfg)
	default:
		return nil, fmt.Errorf("unknown auth mode %q", cfg.Mode)
	}
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}
