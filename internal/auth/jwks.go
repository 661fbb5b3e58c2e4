package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// MinForcedRefreshInterval bounds refreshes triggered by tokens signed with
// an unknown key.
const MinForcedRefreshInterval = time.Minute

// JWKSVerifier validates provider-issued tokens against a cached key set.
type JWKSVerifier struct {
	jwksURL  string
	issuer   string
	audience string
	cache    *jwk.Cache

	mu          sync.Mutex
	lastRefresh time.Time
	now         func() time.Time
}

func NewJWKSVerifier(ctx context.Context, cfg Config) (*JWKSVerifier, error) {
	if cfg.JWKSURL == "" {
		return nil, errors.New("auth.jwks_url is required in jwks mode")
	}

	cache := jwk.NewCache(ctx)
	client := &http.Client{Timeout: 10 * time.Second}
	if err := cache.Register(cfg.JWKSURL, jwk.WithMinRefreshInterval(15*time.Minute), jwk.WithHTTPClient(client)); err != nil {
		return nil, fmt.Errorf("failed to register JWKS cache: %w", err)
	}

	return &JWKSVerifier{
		jwksURL:  cfg.JWKSURL,
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		cache:    cache,
		now:      time.Now,
	}, nil
}

func (v *JWKSVerifier) Verify(ctx context.Context, token string) (Identity, error) {
	keySet, err := v.cache.Get(ctx, v.jwksURL)
	if err != nil {
		return Identity{}, fmt.Errorf("failed to get JWK set: %w", err)
	}

	parsed, err := v.parse(token, keySet)
	if err != nil && v.unknownKey(token, keySet) && v.allowRefresh() {
		slog.Debug("Refreshing JWK set for unknown key id")
		if refreshed, refreshErr := v.cache.Refresh(ctx, v.jwksURL); refreshErr == nil {
			parsed, err = v.parse(token, refreshed)
		} else {
			slog.Warn("Failed to refresh JWK set", "error", refreshErr)
		}
	}
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}

	if strings.TrimSpace(parsed.Subject()) == "" {
		return Identity{}, fmt.Errorf("%w: token has no subject", ErrUnauthorized)
	}
	return Identity{Subject: parsed.Subject()}, nil
}

// unknownKey reports whether the token is a well-formed JWS whose key id is
// missing from the cached set.
func (v *JWKSVerifier) unknownKey(token string, keySet jwk.Set) bool {
	msg, err := jws.Parse([]byte(token))
	if err != nil || len(msg.Signatures()) == 0 {
		return false
	}
	kid := msg.Signatures()[0].ProtectedHeaders().KeyID()
	if kid == "" {
		return false
	}
	_, ok := keySet.LookupKeyID(kid)
	return !ok
}

func (v *JWKSVerifier) allowRefresh() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	now := v.now()
	if !v.lastRefresh.IsZero() && now.Sub(v.lastRefresh) < MinForcedRefreshInterval {
		return false
	}
	v.lastRefresh = now
	return true
}

func (v *JWKSVerifier) parse(token string, keySet jwk.Set) (jwt.Token, error) {
	opts := []jwt.ParseOption{
		jwt.WithKeySet(keySet),
		jwt.WithValidate(true),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}
	return jwt.Parse([]byte(token), opts...)
}
