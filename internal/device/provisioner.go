// Package device runs the provisioning state machine on the edge device.
//
// A run takes the WiFi credentials delivered over the device's own access
// point, switches the radio to client role, waits for an address, and
// reports the pairing token to the backend. Any failure puts the access
// point back so the operator can retry.
package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/evvos/pairing/internal/pairing"
	"github.com/evvos/pairing/internal/poll"
)

var (
	ErrInvalidRequest     = errors.New("invalid provisioning request")
	ErrAlreadyProvisioned = errors.New("device already provisioned")
	ErrInProgress         = errors.New("provisioning in progress")
	ErrNetworkJoin        = errors.New("could not join target network")
	ErrBackendNotify      = errors.New("joined network but backend finish failed")
)

type Request struct {
	Token      string
	SSID       string
	Password   string
	DeviceName string
}

// Result is the outcome of one run. Err is nil only when State is
// StateProvisioned.
type Result struct {
	State State
	Trace []State
	Err   error
}

type Provisioner struct {
	cfg       Config
	network   Network
	notifier  Notifier
	announcer Announcer
	marker    *Marker

	run sync.Mutex

	mu          sync.Mutex
	role        Role
	provisioned bool

	sleep func(ctx context.Context, d time.Duration) error
}

func NewProvisioner(cfg Config, network Network, notifier Notifier, announcer Announcer) *Provisioner {
	cfg = cfg.WithDefaults()
	if announcer == nil {
		announcer = noopAnnouncer{}
	}
	return &Provisioner{
		cfg:       cfg,
		network:   network,
		notifier:  notifier,
		announcer: announcer,
		marker:    NewMarker(cfg.MarkerPath),
		role:      RoleAccessPoint,
		sleep:     sleepContext,
	}
}

// Provisioned reports whether the permanent marker exists.
func (p *Provisioner) Provisioned() (bool, error) {
	p.mu.Lock()
	done := p.provisioned
	p.mu.Unlock()
	if done {
		return true, nil
	}
	return p.marker.Exists()
}

func (p *Provisioner) Role() Role {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.role
}

// Start brings up the access point role for an unprovisioned device.
func (p *Provisioner) Start(ctx context.Context) error {
	done, err := p.Provisioned()
	if err != nil {
		return err
	}
	if done {
		slog.Info("Device already provisioned, access point stays down")
		p.setRole(RoleClient)
		return nil
	}
	if err := p.announcer.Start(); err != nil {
		slog.Warn("Failed to start mDNS advertisement", "error", err)
	}
	return nil
}

func (p *Provisioner) Stop() {
	p.announcer.Stop()
}

// Run executes one provisioning attempt. It blocks for at most the join
// budget plus the backend timeout. Only one run proceeds at a time.
func (p *Provisioner) Run(ctx context.Context, req Request) Result {
	r := &runner{p: p, req: req}
	r.enter(StateReceived)

	req.Token = strings.TrimSpace(req.Token)
	if req.Token == "" || req.SSID == "" || req.Password == "" {
		return r.reject(fmt.Errorf("%w: missing fields (token, ssid, password)", ErrInvalidRequest))
	}
	if err := ValidateWiFi(req.SSID, req.Password); err != nil {
		return r.reject(err)
	}
	if strings.TrimSpace(req.DeviceName) == "" {
		req.DeviceName = p.cfg.DefaultLabel
	}
	r.req = req

	if !p.run.TryLock() {
		return r.reject(ErrInProgress)
	}
	defer p.run.Unlock()

	done, err := p.Provisioned()
	if err != nil {
		return r.reject(err)
	}
	if done {
		return r.reject(ErrAlreadyProvisioned)
	}

	slog.Info("Provisioning request received",
		"device_name", req.DeviceName,
		"token", pairing.TokenPrefix(req.Token))

	if err := p.network.WriteClientConfig(req.SSID, req.Password); err != nil {
		return r.fail(fmt.Errorf("failed to write client config: %w", err))
	}
	r.enter(StateConfigWritten)

	p.announcer.Stop()
	if err := p.network.StopAccessPoint(ctx); err != nil {
		slog.Warn("Failed to stop access point services", "error", err)
	}
	p.setRole(RoleClient)
	if err := p.network.Reconfigure(ctx); err != nil {
		slog.Warn("Failed to reconfigure wpa_supplicant", "error", err)
	}
	r.enter(StateApStopped)

	if err := p.sleep(ctx, p.cfg.SettleDelay); err != nil {
		return r.fail(err)
	}

	r.enter(StateClientAttempt)
	attempt := 0
	err = poll.Fixed(ctx, p.cfg.JoinAttempts, p.cfg.JoinInterval, func(context.Context) (bool, error) {
		attempt++
		ok, err := p.network.HasAddress()
		if err != nil {
			slog.Debug("Address check failed", "attempt", attempt, "error", err)
			return false, nil
		}
		return ok, nil
	})
	if err != nil {
		if errors.Is(err, poll.ErrExhausted) {
			err = fmt.Errorf("%w after %d attempts", ErrNetworkJoin, p.cfg.JoinAttempts)
		}
		return r.fail(err)
	}
	slog.Info("Connected to target network", "attempt", attempt)
	r.enter(StateConnected)

	if err := p.notifier.Finish(ctx, req); err != nil {
		return r.fail(err)
	}
	r.enter(StateBackendNotified)

	p.mu.Lock()
	p.provisioned = true
	p.mu.Unlock()
	if err := p.marker.Write(); err != nil {
		slog.Error("Failed to persist provisioned marker", "error", err)
	}
	if err := p.network.StopAccessPoint(ctx); err != nil {
		slog.Warn("Failed to stop access point services", "error", err)
	}
	p.announcer.Stop()
	r.enter(StateProvisioned)

	slog.Info("Provisioning complete", "device_name", req.DeviceName)
	return r.result(nil)
}

// restoreAccessPoint brings the access point back. It runs on a fresh
// context so a canceled request still leaves the device reachable.
func (p *Provisioner) restoreAccessPoint() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	slog.Info("Restoring access point", "units", p.cfg.APUnits)
	if err := p.network.StartAccessPoint(ctx); err != nil {
		slog.Error("Failed to restart access point services", "error", err)
	}
	p.setRole(RoleAccessPoint)
	if err := p.announcer.Start(); err != nil {
		slog.Warn("Failed to resume mDNS advertisement", "error", err)
	}
	if err := writeFileAtomically(p.cfg.APRestoredPath, nil, 0o644); err != nil {
		slog.Warn("Failed to write AP restored marker", "path", p.cfg.APRestoredPath, "error", err)
	}
}

func (p *Provisioner) setRole(role Role) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.role != role {
		slog.Info("Network role changed", "from", p.role, "to", role)
		p.role = role
	}
}

type runner struct {
	p     *Provisioner
	req   Request
	trace []State
}

func (r *runner) enter(s State) {
	r.trace = append(r.trace, s)
	slog.Debug("Provisioning state", "state", s.String())
}

// reject ends a run that never touched the network.
func (r *runner) reject(err error) Result {
	slog.Warn("Provisioning request rejected", "error", err)
	return r.result(err)
}

func (r *runner) fail(err error) Result {
	r.enter(StateFailed)
	slog.Error("Provisioning failed", "error", err, "token", pairing.TokenPrefix(r.req.Token))
	r.p.restoreAccessPoint()
	r.enter(StateApRestored)
	return r.result(err)
}

func (r *runner) result(err error) Result {
	return Result{State: r.trace[len(r.trace)-1], Trace: r.trace, Err: err}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
