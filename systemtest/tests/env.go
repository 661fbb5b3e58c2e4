package tests

import (
	"net/http/httptest"
	"testing"
	"time"

	internalhttp "github.com/evvos/pairing/internal/api/http"
	"github.com/evvos/pairing/internal/auth"
	"github.com/evvos/pairing/internal/credcrypt"
	"github.com/evvos/pairing/internal/db"
	"github.com/evvos/pairing/internal/pairing"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

const serviceKey = "system-test-device-key"

// Env is a backend wired to a real Postgres store and served over HTTP.
type Env struct {
	Store         *db.Store
	Service       *pairing.Service
	Server        *httptest.Server
	AuthConfig    auth.Config
	ServiceKey    string
	CredentialKey string
}

func NewEnv(t *testing.T, store *db.Store) *Env {
	t.Helper()

	key, err := credcrypt.GenerateKey()
	require.NoError(t, err)

	authCfg := auth.Config{Mode: auth.ModeSecret, JWTSecret: "system-test-secret", Audience: "pairing"}
	verifier, err := auth.NewSecretVerifier(authCfg)
	require.NoError(t, err)

	hash, err := auth.HashServiceKey(serviceKey)
	require.NoError(t, err)

	service := pairing.NewService(store, pairing.Options{CredentialKey: key})

	engine := gin.New()
	internalhttp.SetupRoute(engine, &internalhttp.Services{
		Pairing:     service,
		Verifier:    verifier,
		ServiceKeys: auth.NewServiceKeys([]string{hash}),
	})
	server := httptest.NewServer(engine)
	t.Cleanup(server.Close)

	return &Env{
		Store:         store,
		Service:       service,
		Server:        server,
		AuthConfig:    authCfg,
		ServiceKey:    serviceKey,
		CredentialKey: key,
	}
}

func (e *Env) IdentityToken(t *testing.T, subject string) string {
	t.Helper()
	token, err := auth.SignToken(e.AuthConfig, subject, time.Hour)
	require.NoError(t, err)
	return token
}
