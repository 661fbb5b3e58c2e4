package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		token  string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"bearer abc", "abc", true},
		{"Bearer ", "", false},
		{"Basic abc", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		token, ok := BearerToken(tt.header)
		assert.Equal(t, tt.ok, ok, tt.header)
		assert.Equal(t, tt.token, token, tt.header)
	}
}

func TestSecretVerifier(t *testing.T) {
	cfg := Config{Mode: ModeSecret, JWTSecret: "test-secret", Issuer: "https://id.example", Audience: "pairing"}
	v, err := NewSecretVerifier(cfg)
	require.NoError(t, err)
	ctx := context.Background()

	token, err := SignToken(cfg, "user-1", time.Hour)
	require.NoError(t, err)

	identity, err := v.Verify(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", identity.Subject)

	t.Run("expired", func(t *testing.T) {
		token, err := SignToken(cfg, "user-1", -time.Minute)
		require.NoError(t, err)
		_, err = v.Verify(ctx, token)
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("wrong secret", func(t *testing.T) {
		other := cfg
		other.JWTSecret = "other-secret"
		token, err := SignToken(other, "user-1", time.Hour)
		require.NoError(t, err)
		_, err = v.Verify(ctx, token)
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("wrong audience", func(t *testing.T) {
		other := cfg
		other.Audience = "someone-else"
		token, err := SignToken(other, "user-1", time.Hour)
		require.NoError(t, err)
		_, err = v.Verify(ctx, token)
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("missing subject", func(t *testing.T) {
		token, err := SignToken(cfg, "", time.Hour)
		require.NoError(t, err)
		_, err = v.Verify(ctx, token)
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("rejects none algorithm", func(t *testing.T) {
		unsigned := gojwt.NewWithClaims(gojwt.SigningMethodNone, gojwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: gojwt.NewNumericDate(time.Now().Add(time.Hour)),
		})
		token, err := unsigned.SignedString(gojwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = v.Verify(ctx, token)
		assert.ErrorIs(t, err, ErrUnauthorized)
	})
}

func TestNewSecretVerifierRequiresSecret(t *testing.T) {
	_, err := NewSecretVerifier(Config{})
	assert.Error(t, err)
}

func TestNewVerifierUnknownMode(t *testing.T) {
	_, err := NewVerifier(context.Background(), Config{Mode: "ldap"})
	assert.Error(t, err)
}

func TestJWKSVerifier(t *testing.T) {
	testKey, err := jwk.FromRaw([]byte("test-secret-key-that-is-at-least-32-bytes-long"))
	require.NoError(t, err)
	require.NoError(t, testKey.Set(jwk.KeyIDKey, "test-key-id"))
	require.NoError(t, testKey.Set(jwk.AlgorithmKey, jwa.HS256))

	keySet := jwk.NewSet()
	require.NoError(t, keySet.AddKey(testKey))

	jwksServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := json.Marshal(keySet)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}))
	defer jwksServer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	v, err := NewJWKSVerifier(ctx, Config{
		Mode:     ModeJWKS,
		JWKSURL:  jwksServer.URL,
		Issuer:   "https://id.example",
		Audience: "pairing",
	})
	require.NoError(t, err)

	sign := func(t *testing.T, build func(b *jwt.Builder) *jwt.Builder) string {
		t.Helper()
		b := jwt.NewBuilder().
			Issuer("https://id.example").
			Audience([]string{"pairing"}).
			IssuedAt(time.Now()).
			Expiration(time.Now().Add(time.Hour))
		token, err := build(b).Build()
		require.NoError(t, err)
		signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256, testKey))
		require.NoError(t, err)
		return string(signed)
	}

	t.Run("valid", func(t *testing.T) {
		token := sign(t, func(b *jwt.Builder) *jwt.Builder { return b.Subject("user-1") })
		identity, err := v.Verify(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, "user-1", identity.Subject)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		token := sign(t, func(b *jwt.Builder) *jwt.Builder {
			return b.Subject("user-1").Issuer("https://evil.example")
		})
		_, err := v.Verify(ctx, token)
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("expired", func(t *testing.T) {
		token := sign(t, func(b *jwt.Builder) *jwt.Builder {
			return b.Subject("user-1").Expiration(time.Now().Add(-time.Hour))
		})
		_, err := v.Verify(ctx, token)
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("no subject", func(t *testing.T) {
		token := sign(t, func(b *jwt.Builder) *jwt.Builder { return b })
		_, err := v.Verify(ctx, token)
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := v.Verify(ctx, "invalid.jwt.token")
		assert.ErrorIs(t, err, ErrUnauthorized)
	})
}

func TestJWKSVerifierRefreshesOnlyForUnknownKeys(t *testing.T) {
	newKey := func(t *testing.T, kid, secret string) jwk.Key {
		t.Helper()
		key, err := jwk.FromRaw([]byte(secret))
		require.NoError(t, err)
		require.NoError(t, key.Set(jwk.KeyIDKey, kid))
		require.NoError(t, key.Set(jwk.AlgorithmKey, jwa.HS256))
		return key
	}
	current := newKey(t, "current", "current-secret-key-that-is-at-least-32-bytes")
	rotated := newKey(t, "rotated", "rotated-secret-key-that-is-at-least-32-bytes")
	unknown := newKey(t, "unknown", "unknown-secret-key-that-is-at-least-32-bytes")

	var mu sync.Mutex
	served := jwk.NewSet()
	require.NoError(t, served.AddKey(current))

	var hits atomic.Int32
	jwksServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		mu.Lock()
		body, _ := json.Marshal(served)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}))
	defer jwksServer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	v, err := NewJWKSVerifier(ctx, Config{Mode: ModeJWKS, JWKSURL: jwksServer.URL})
	require.NoError(t, err)
	now := time.Now()
	v.now = func() time.Time { return now }

	sign := func(t *testing.T, key jwk.Key, exp time.Time) string {
		t.Helper()
		token, err := jwt.NewBuilder().Subject("user-1").Expiration(exp).Build()
		require.NoError(t, err)
		signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256, key))
		require.NoError(t, err)
		return string(signed)
	}

	_, err = v.Verify(ctx, sign(t, current, time.Now().Add(time.Hour)))
	require.NoError(t, err)
	baseline := hits.Load()
	require.Positive(t, baseline)

	for range 50 {
		_, err := v.Verify(ctx, "not.a.jwt")
		require.ErrorIs(t, err, ErrUnauthorized)
	}
	expired := sign(t, current, time.Now().Add(-time.Hour))
	for range 10 {
		_, err := v.Verify(ctx, expired)
		require.ErrorIs(t, err, ErrUnauthorized)
	}
	assert.Equal(t, baseline, hits.Load())

	mu.Lock()
	require.NoError(t, served.AddKey(rotated))
	mu.Unlock()

	identity, err := v.Verify(ctx, sign(t, rotated, time.Now().Add(time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, "user-1", identity.Subject)
	assert.Equal(t, baseline+1, hits.Load())

	stranger := sign(t, unknown, time.Now().Add(time.Hour))
	for range 10 {
		_, err := v.Verify(ctx, stranger)
		require.ErrorIs(t, err, ErrUnauthorized)
	}
	assert.Equal(t, baseline+1, hits.Load())

	now = now.Add(MinForcedRefreshInterval + time.Second)
	_, err = v.Verify(ctx, stranger)
	require.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, baseline+2, hits.Load())
}

func TestServiceKeys(t *testing.T) {
	hash, err := HashServiceKey("device-secret")
	require.NoError(t, err)
	assert.Equal(t, "$2a$", hash[:4])

	keys := NewServiceKeys([]string{"", hash})
	assert.True(t, keys.Configured())
	assert.True(t, keys.Check("device-secret"))
	assert.False(t, keys.Check("wrong"))
	assert.False(t, keys.Check(""))

	empty := NewServiceKeys(nil)
	assert.False(t, empty.Configured())
	assert.False(t, empty.Check("device-secret"))
}
