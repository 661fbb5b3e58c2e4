package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SecretVerifier accepts HS256 tokens signed with a shared secret. It is
// meant for development and for identity providers that issue symmetric
// tokens.
type SecretVerifier struct {
	secret []byte
	opts   []jwt.ParserOption
}

func NewSecretVerifier(cfg Config) (*SecretVerifier, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("auth.jwt_secret is required in secret mode")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	return &SecretVerifier{secret: []byte(cfg.JWTSecret), opts: opts}, nil
}

func (v *SecretVerifier) Verify(_ context.Context, tokenString string) (Identity, error) {
	claims := &jwt.RegisteredClaims{}
	if _, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, v.opts...); err != nil {
		return Identity{}, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}

	if strings.TrimSpace(claims.Subject) == "" {
		return Identity{}, fmt.Errorf("%w: token has no subject", ErrUnauthorized)
	}
	return Identity{Subject: claims.Subject}, nil
}

// SignToken issues an HS256 token for subject. Used by tests and the
// development tooling; production tokens come from the identity provider.
func SignToken(cfg Config, subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    cfg.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	if cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{cfg.Audience}
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(cfg.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
