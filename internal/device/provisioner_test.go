package device

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNetwork struct {
	mu          sync.Mutex
	written     []string
	apStops     int
	apStarts    int
	reconfigs   int
	addrChecks  int
	connectAt   int // address appears on this check; 0 never
	writeErr    error
	addressErrs bool
}

func (f *fakeNetwork) WriteClientConfig(ssid, passphrase string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.written = append(f.written, ssid)
	return nil
}

func (f *fakeNetwork) StopAccessPoint(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.apStops++
	return nil
}

func (f *fakeNetwork) StartAccessPoint(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.apStarts++
	return nil
}

func (f *fakeNetwork) Reconfigure(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconfigs++
	return nil
}

func (f *fakeNetwork) HasAddress() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addrChecks++
	if f.addressErrs {
		return false, errors.New("no such interface")
	}
	return f.connectAt > 0 && f.addrChecks >= f.connectAt, nil
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls []Request
	err   error
	block chan struct{}
}

func (f *fakeNotifier) Finish(ctx context.Context, req Request) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	return f.err
}

type fakeAnnouncer struct {
	mu      sync.Mutex
	running bool
	starts  int
}

func (f *fakeAnnouncer) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = true
	f.starts++
	return nil
}

func (f *fakeAnnouncer) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = false
}

func testConfig(t *testing.T) Config {
	dir := t.TempDir()
	return Config{
		MarkerPath:     filepath.Join(dir, "provisioned"),
		APRestoredPath: filepath.Join(dir, "ap_restored"),
		JoinAttempts:   3,
		JoinInterval:   time.Millisecond,
	}
}

func validRequest() Request {
	return Request{Token: "pt_abcdefghijklmnop", SSID: "HomeNet", Password: "Secr3t!2", DeviceName: "Pi-1"}
}

func TestRunProvisions(t *testing.T) {
	cfg := testConfig(t)
	network := &fakeNetwork{connectAt: 2}
	notifier := &fakeNotifier{}
	announcer := &fakeAnnouncer{}
	p := NewProvisioner(cfg, network, notifier, announcer)
	require.NoError(t, p.Start(context.Background()))
	assert.True(t, announcer.running)

	res := p.Run(context.Background(), validRequest())

	require.NoError(t, res.Err)
	assert.Equal(t, StateProvisioned, res.State)
	assert.Equal(t, []State{
		StateReceived,
		StateConfigWritten,
		StateApStopped,
		StateClientAttempt,
		StateConnected,
		StateBackendNotified,
		StateProvisioned,
	}, res.Trace)

	assert.Equal(t, []string{"HomeNet"}, network.written)
	assert.Equal(t, 2, network.addrChecks)
	assert.Zero(t, network.apStarts)
	require.Len(t, notifier.calls, 1)
	assert.Equal(t, validRequest(), notifier.calls[0])
	assert.False(t, announcer.running)
	assert.Equal(t, RoleClient, p.Role())

	data, err := os.ReadFile(cfg.MarkerPath)
	require.NoError(t, err)
	assert.Equal(t, "1", string(data))

	done, err := p.Provisioned()
	require.NoError(t, err)
	assert.True(t, done)
}

func TestRunAppliesDefaultLabel(t *testing.T) {
	notifier := &fakeNotifier{}
	p := NewProvisioner(testConfig(t), &fakeNetwork{connectAt: 1}, notifier, nil)

	req := validRequest()
	req.DeviceName = ""
	res := p.Run(context.Background(), req)

	require.NoError(t, res.Err)
	require.Len(t, notifier.calls, 1)
	assert.Equal(t, DefaultAPNetwork, notifier.calls[0].DeviceName)
}

func TestRunJoinFailureRestoresAccessPoint(t *testing.T) {
	cfg := testConfig(t)
	network := &fakeNetwork{}
	notifier := &fakeNotifier{}
	announcer := &fakeAnnouncer{}
	p := NewProvisioner(cfg, network, notifier, announcer)

	res := p.Run(context.Background(), validRequest())

	require.ErrorIs(t, res.Err, ErrNetworkJoin)
	assert.NotErrorIs(t, res.Err, ErrBackendNotify)
	assert.Equal(t, StateApRestored, res.State)
	assert.Equal(t, []State{
		StateReceived,
		StateConfigWritten,
		StateApStopped,
		StateClientAttempt,
		StateFailed,
		StateApRestored,
	}, res.Trace)

	assert.Equal(t, cfg.JoinAttempts, network.addrChecks)
	assert.Equal(t, 1, network.apStarts)
	assert.Empty(t, notifier.calls)
	assert.True(t, announcer.running)
	assert.Equal(t, RoleAccessPoint, p.Role())
	assert.FileExists(t, cfg.APRestoredPath)
	assert.NoFileExists(t, cfg.MarkerPath)
}

func TestRunAddressCheckErrorsCountAsNotConnected(t *testing.T) {
	network := &fakeNetwork{addressErrs: true}
	p := NewProvisioner(testConfig(t), network, &fakeNotifier{}, nil)

	res := p.Run(context.Background(), validRequest())
	assert.ErrorIs(t, res.Err, ErrNetworkJoin)
	assert.Equal(t, 3, network.addrChecks)
}

func TestRunBackendFailureRestoresAccessPoint(t *testing.T) {
	cfg := testConfig(t)
	network := &fakeNetwork{connectAt: 1}
	notifier := &fakeNotifier{err: &NotifyError{StatusCode: 400, Detail: `{"ok":false,"error":"pairing token already used"}`}}
	p := NewProvisioner(cfg, network, notifier, nil)

	res := p.Run(context.Background(), validRequest())

	require.ErrorIs(t, res.Err, ErrBackendNotify)
	assert.NotErrorIs(t, res.Err, ErrNetworkJoin)
	var notifyErr *NotifyError
	require.ErrorAs(t, res.Err, &notifyErr)
	assert.Contains(t, notifyErr.Detail, "already used")

	assert.Equal(t, StateApRestored, res.State)
	assert.Contains(t, res.Trace, StateConnected)
	assert.NotContains(t, res.Trace, StateBackendNotified)
	assert.Equal(t, 1, network.apStarts)
	assert.FileExists(t, cfg.APRestoredPath)
	assert.NoFileExists(t, cfg.MarkerPath)

	done, err := p.Provisioned()
	require.NoError(t, err)
	assert.False(t, done)
}

func TestRunRejectsWhenAlreadyProvisioned(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(cfg.MarkerPath, []byte("1"), 0o644))
	network := &fakeNetwork{connectAt: 1}
	p := NewProvisioner(cfg, network, &fakeNotifier{}, nil)

	res := p.Run(context.Background(), validRequest())

	assert.ErrorIs(t, res.Err, ErrAlreadyProvisioned)
	assert.Equal(t, []State{StateReceived}, res.Trace)
	assert.Empty(t, network.written)
	assert.Zero(t, network.apStops)
	assert.Zero(t, network.apStarts)
}

func TestRunRejectsSecondRunAfterSuccess(t *testing.T) {
	p := NewProvisioner(testConfig(t), &fakeNetwork{connectAt: 1}, &fakeNotifier{}, nil)

	require.NoError(t, p.Run(context.Background(), validRequest()).Err)
	assert.ErrorIs(t, p.Run(context.Background(), validRequest()).Err, ErrAlreadyProvisioned)
}

func TestRunValidation(t *testing.T) {
	tests := []struct {
		name string
		req  Request
	}{
		{name: "missing token", req: Request{SSID: "HomeNet", Password: "Secr3t!2"}},
		{name: "missing ssid", req: Request{Token: "pt_x", Password: "Secr3t!2"}},
		{name: "missing password", req: Request{Token: "pt_x", SSID: "HomeNet"}},
		{name: "short password", req: Request{Token: "pt_x", SSID: "HomeNet", Password: "short"}},
		{name: "long ssid", req: Request{Token: "pt_x", SSID: strings.Repeat("s", 33), Password: "Secr3t!2"}},
		{name: "newline in password", req: Request{Token: "pt_x", SSID: "HomeNet", Password: "Secr3t!2\nnetwork={"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			network := &fakeNetwork{connectAt: 1}
			p := NewProvisioner(testConfig(t), network, &fakeNotifier{}, nil)

			res := p.Run(context.Background(), tt.req)
			assert.ErrorIs(t, res.Err, ErrInvalidRequest)
			assert.Empty(t, network.written)
			assert.Zero(t, network.apStarts)
		})
	}
}

func TestRunKeepsCredentialsOutOfLogs(t *testing.T) {
	var buf bytes.Buffer
	previous := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(previous) })

	req := validRequest()
	req.SSID = "MyPrivateHotspot"
	req.Password = "hunter2-hunter2"

	p := NewProvisioner(testConfig(t), &fakeNetwork{connectAt: 1}, &fakeNotifier{}, nil)
	require.NoError(t, p.Run(context.Background(), req).Err)

	failing := NewProvisioner(testConfig(t), &fakeNetwork{}, &fakeNotifier{}, nil)
	require.ErrorIs(t, failing.Run(context.Background(), req).Err, ErrNetworkJoin)

	out := buf.String()
	assert.Contains(t, out, "Provisioning request received")
	assert.NotContains(t, out, "MyPrivateHotspot")
	assert.NotContains(t, out, "hunter2")
	assert.NotContains(t, out, req.Token)
}

func TestRunSingleFlight(t *testing.T) {
	notifier := &fakeNotifier{block: make(chan struct{})}
	network := &fakeNetwork{connectAt: 1}
	p := NewProvisioner(testConfig(t), network, notifier, nil)

	first := make(chan Result, 1)
	go func() {
		first <- p.Run(context.Background(), validRequest())
	}()

	require.Eventually(t, func() bool {
		network.mu.Lock()
		defer network.mu.Unlock()
		return network.addrChecks > 0
	}, time.Second, time.Millisecond)

	res := p.Run(context.Background(), validRequest())
	assert.ErrorIs(t, res.Err, ErrInProgress)

	close(notifier.block)
	assert.NoError(t, (<-first).Err)
}

func TestStartSkipsAdvertisingWhenProvisioned(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(cfg.MarkerPath, []byte("1"), 0o644))
	announcer := &fakeAnnouncer{}
	p := NewProvisioner(cfg, &fakeNetwork{}, &fakeNotifier{}, announcer)

	require.NoError(t, p.Start(context.Background()))
	assert.False(t, announcer.running)
	assert.Equal(t, RoleClient, p.Role())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "client_attempt", StateClientAttempt.String())
	assert.Equal(t, "unknown", State(99).String())
	assert.True(t, StateApRestored.Terminal())
	assert.False(t, StateConnected.Terminal())
}
