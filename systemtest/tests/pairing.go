package tests

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/evvos/pairing/internal/api/http/dto"
	"github.com/evvos/pairing/internal/credcrypt"
	"github.com/evvos/pairing/internal/db/sqlc"
	"github.com/evvos/pairing/internal/device"
	"github.com/evvos/pairing/internal/orchestrator"
	"github.com/evvos/pairing/internal/pairing"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// relayDevice stands in for the device agent: it forwards the credentials to
// the backend the way the agent does once its network join succeeds.
type relayDevice struct {
	notifier device.Notifier
}

func (d *relayDevice) Provision(ctx context.Context, req orchestrator.ProvisionRequest) error {
	return d.notifier.Finish(ctx, device.Request{
		Token:      req.Token,
		SSID:       req.SSID,
		Password:   req.Password,
		DeviceName: req.DeviceName,
	})
}

func TestHealthCheck(t *testing.T, env *Env) {
	resp, err := http.Get(env.Server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body dto.HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
}

func TestPairingFlow(t *testing.T, env *Env) {
	ctx := context.Background()
	const user = "user-flow"

	backend := orchestrator.NewHTTPBackend(env.Server.URL, env.IdentityToken(t, user), 5*time.Second)
	relay := &relayDevice{notifier: device.NewFinishClient(device.BackendConfig{
		FinishURL:  env.Server.URL + "/api/v1/provisioning/finish",
		ServiceKey: env.ServiceKey,
	})}

	flow := orchestrator.NewFlow(backend, relay, orchestrator.Config{
		PollInterval: 20 * time.Millisecond,
		PollTimeout:  5 * time.Second,
	})
	defer flow.Close()

	require.NoError(t, flow.Dispatch(ctx, orchestrator.EvStart{}))
	require.Equal(t, orchestrator.StateIntro, flow.State())
	require.NoError(t, flow.Dispatch(ctx, orchestrator.EvCreateToken{Label: "garage"}))
	require.NoError(t, flow.Dispatch(ctx, orchestrator.EvContinue{}))
	require.NoError(t, flow.Dispatch(ctx, orchestrator.EvConnected{}))
	require.NoError(t, flow.Dispatch(ctx, orchestrator.EvSubmitCredentials{SSID: "HomeNet", Password: "Secr3t!2"}))
	require.NoError(t, flow.Dispatch(ctx, orchestrator.EvActivated{}))

	snap, err := flow.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, orchestrator.StateComplete, snap.State)

	rows, err := env.Store.ListCredentialsByUser(ctx, user)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "garage", rows[0].DeviceName.String)

	sealer, err := credcrypt.NewSealer(env.CredentialKey)
	require.NoError(t, err)
	cred, err := sealer.OpenCredential(rows[0].EncryptedCredentials)
	require.NoError(t, err)
	assert.Equal(t, credcrypt.WiFiCredential{SSID: "HomeNet", Password: "Secr3t!2"}, cred)

	t.Run("second run finds the credential", func(t *testing.T) {
		again := orchestrator.NewFlow(backend, relay, orchestrator.Config{})
		defer again.Close()
		require.NoError(t, again.Dispatch(ctx, orchestrator.EvStart{}))
		assert.Equal(t, orchestrator.StateComplete, again.State())
	})

	t.Run("replayed token is rejected", func(t *testing.T) {
		issued, err := env.Service.CreateToken(ctx, user, "")
		require.NoError(t, err)
		finish := pairing.FinishRequest{Token: issued.Token, SSID: "HomeNet", Password: "Secr3t!2"}
		require.NoError(t, env.Service.Finish(ctx, finish))

		err = relay.Provision(ctx, orchestrator.ProvisionRequest{Token: issued.Token, SSID: "HomeNet", Password: "Secr3t!2"})
		var notifyErr *device.NotifyError
		require.ErrorAs(t, err, &notifyErr)
		assert.Equal(t, http.StatusBadRequest, notifyErr.StatusCode)
		assert.Contains(t, notifyErr.Detail, "token already used")
	})
}

func TestConcurrentFinish(t *testing.T, env *Env) {
	ctx := context.Background()
	const user = "user-race"

	issued, err := env.Service.CreateToken(ctx, user, "")
	require.NoError(t, err)

	const workers = 10
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ok      int
		claimed int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := env.Service.Finish(ctx, pairing.FinishRequest{Token: issued.Token, SSID: "HomeNet", Password: "Secr3t!2"})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, pairing.ErrTokenAlreadyUsed):
				claimed++
			default:
				t.Errorf("unexpected finish error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, workers-1, claimed)

	count, err := env.Store.CountCredentialsByUser(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestFinishRollback(t *testing.T, env *Env) {
	ctx := context.Background()
	const user = "user-rollback"

	issued, err := env.Service.CreateToken(ctx, user, "")
	require.NoError(t, err)
	hash := pairing.HashToken(issued.Token)

	session, err := env.Store.GetActiveSessionByHash(ctx, hash)
	require.NoError(t, err)

	boom := errors.New("credential insert failed")
	err = env.Store.ExecTx(ctx, func(q sqlc.Querier) error {
		_, err := q.ConsumeSession(ctx, sqlc.ConsumeSessionParams{ID: session.ID})
		require.NoError(t, err)
		return boom
	})
	require.ErrorIs(t, err, boom)

	// The consume was rolled back with the failed insert.
	_, err = env.Store.GetActiveSessionByHash(ctx, hash)
	require.NoError(t, err)
	count, err := env.Store.CountCredentialsByUser(ctx, user)
	require.NoError(t, err)
	assert.Zero(t, count)

	require.NoError(t, env.Service.Finish(ctx, pairing.FinishRequest{Token: issued.Token, SSID: "HomeNet", Password: "Secr3t!2"}))
	_, err = env.Store.GetActiveSessionByHash(ctx, hash)
	assert.ErrorIs(t, err, pgx.ErrNoRows)
}

func TestExpiredToken(t *testing.T, env *Env) {
	ctx := context.Background()
	shortLived := pairing.NewService(env.Store, pairing.Options{
		TokenTTL:      time.Millisecond,
		CredentialKey: env.CredentialKey,
	})

	issued, err := shortLived.CreateToken(ctx, "user-expired", "")
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)

	err = shortLived.Finish(ctx, pairing.FinishRequest{Token: issued.Token, SSID: "HomeNet", Password: "Secr3t!2"})
	assert.ErrorIs(t, err, pairing.ErrTokenExpired)

	assert.ErrorIs(t, shortLived.Finish(ctx, pairing.FinishRequest{Token: "pt_unknown", SSID: "HomeNet", Password: "Secr3t!2"}), pairing.ErrSessionNotFound)
}
