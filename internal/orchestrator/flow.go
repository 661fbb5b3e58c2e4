// Package orchestrator drives the operator side of pairing: issuing a token,
// handing WiFi credentials to the device and waiting for the backend to see
// the token consumed.
package orchestrator

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

const (
	DefaultPollInterval = 2 * time.Second
	DefaultPollTimeout  = 120 * time.Second
)

var (
	ErrInvalidTransition  = errors.New("event not allowed in current state")
	ErrMissingCredentials = errors.New("ssid and password are required")
	ErrNoToken            = errors.New("no pairing token held")
	ErrPollTimeout        = errors.New("device did not complete pairing in time")
	ErrClosed             = errors.New("flow closed")
)

// Token is a pairing token as issued by the backend.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

type Backend interface {
	HasCredential(ctx context.Context) (bool, error)
	CreateToken(ctx context.Context, label string) (Token, error)
	SessionConsumed(ctx context.Context, tokenHash string) (bool, error)
}

type ProvisionRequest struct {
	Token      string
	SSID       string
	Password   string
	DeviceName string
}

type Device interface {
	Provision(ctx context.Context, req ProvisionRequest) error
}

type Config struct {
	PollInterval time.Duration
	PollTimeout  time.Duration
}

// Snapshot is a consistent view of the flow for rendering.
type Snapshot struct {
	State State
	// ReturnTo and Err are set only in StateError.
	ReturnTo       State
	Err            error
	HasToken       bool
	TokenPrefix    string
	TokenExpiresAt time.Time
}

type Flow struct {
	backend Backend
	device  Device
	cfg     Config

	// dispatchMu serializes Dispatch; mu guards the fields below it.
	dispatchMu sync.Mutex

	mu       sync.Mutex
	state    State
	returnTo State
	err      error
	token    *Token
	closed   bool

	rootCtx    context.Context
	rootCancel context.CancelFunc
	pollCancel context.CancelFunc
	pollDone   chan struct{}
}

func NewFlow(backend Backend, device Device, cfg Config) *Flow {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultPollTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Flow{
		backend:    backend,
		device:     device,
		cfg:        cfg,
		state:      StateCheckExisting,
		rootCtx:    ctx,
		rootCancel: cancel,
	}
}

func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *Flow) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := Snapshot{State: f.state, HasToken: f.token != nil}
	if f.state == StateError {
		s.ReturnTo = f.returnTo
		s.Err = f.err
	}
	if f.token != nil {
		s.TokenPrefix = pairing.TokenPrefix(f.token.Value)
		s.TokenExpiresAt = f.token.ExpiresAt
	}
	return s
}

// Dispatch applies ev to the current state. A failed collaborator call moves
// the flow into StateError and the error is also returned. Events that do not
// apply to the current state return ErrInvalidTransition and change nothing.
func (f *Flow) Dispatch(ctx context.Context, ev Event) error {
	f.dispatchMu.Lock()
	defer f.dispatchMu.Unlock()

	f.mu.Lock()
	closed := f.closed
	current, base := f.state, f.state
	if current == StateError {
		base = f.returnTo
	}
	f.mu.Unlock()
	if closed {
		return ErrClosed
	}

	slog.Debug("Dispatching event", "event", ev.eventName(), "state", current)

	switch ev := ev.(type) {
	case EvCancel:
		f.stopPolling()
		f.mu.Lock()
		f.token = nil
		f.err = nil
		f.state = StateIntro
		f.mu.Unlock()
		return nil

	case EvRetry:
		if current != StateError {
			return f.invalid(ev, current)
		}
		f.setState(f.returnTo)
		return nil

	case EvStart:
		if base != StateCheckExisting {
			return f.invalid(ev, current)
		}
		exists, err := f.backend.HasCredential(ctx)
		if err != nil {
			return f.fail(StateCheckExisting, fmt.Errorf("check existing credential: %w", err))
		}
		if exists {
			f.setState(StateComplete)
		} else {
			f.setState(StateIntro)
		}
		return nil

	case EvCreateToken:
		switch base {
		case StateIntro, StateTokenCreated, StateConnectInstruction, StateCredentialEntry:
		default:
			return f.invalid(ev, current)
		}
		f.mu.Lock()
		f.token = nil
		f.mu.Unlock()
		token, err := f.backend.CreateToken(ctx, strings.TrimSpace(ev.Label))
		if err != nil {
			return f.fail(StateIntro, fmt.Errorf("create token: %w", err))
		}
		f.mu.Lock()
		f.token = &token
		f.state = StateTokenCreated
		f.err = nil
		f.mu.Unlock()
		slog.Info("Pairing token created", "token_prefix", pairing.TokenPrefix(token.Value), "expires_at", token.ExpiresAt)
		return nil

	case EvContinue:
		if base != StateTokenCreated {
			return f.invalid(ev, current)
		}
		f.setState(StateConnectInstruction)
		return nil

	case EvConnected:
		if base != StateConnectInstruction {
			return f.invalid(ev, current)
		}
		f.setState(StateCredentialEntry)
		return nil

	case EvSubmitCredentials:
		if base != StateCredentialEntry {
			return f.invalid(ev, current)
		}
		return f.submit(ctx, ev)

	case EvActivated:
		if base != StateActivateInstruction {
			return f.invalid(ev, current)
		}
		return f.startPolling()
	}

	return fmt.Errorf("%w: unknown event %T", ErrInvalidTransition, ev)
}

func (f *Flow) submit(ctx context.Context, ev EvSubmitCredentials) error {
	ssid := strings.TrimSpace(ev.SSID)
	if ssid == "" || ev.Password == "" {
		return f.fail(StateCredentialEntry, ErrMissingCredentials)
	}

	f.mu.Lock()
	token := f.token
	f.mu.Unlock()
	if token == nil {
		return f.fail(StateIntro, ErrNoToken)
	}

	f.setState(StateSent)
	err := f.device.Provision(ctx, ProvisionRequest{
		Token:      token.Value,
		SSID:       ssid,
		Password:   ev.Password,
		DeviceName: strings.TrimSpace(ev.Label),
	})
	if err != nil {
		return f.fail(StateCredentialEntry, fmt.Errorf("send credentials to device: %w", err))
	}
	f.setState(StateActivateInstruction)
	return nil
}

func (f *Flow) startPolling() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrClosed
	}
	if f.token == nil {
		f.mu.Unlock()
		return f.fail(StateIntro, ErrNoToken)
	}
	hash := pairing.HashToken(f.token.Value)
	ctx, cancel := context.WithCancel(f.rootCtx)
	done := make(chan struct{})
	f.pollCancel = cancel
	f.pollDone = done
	f.state = StatePolling
	f.err = nil
	f.mu.Unlock()

	attempts := poll.AttemptsFor(f.cfg.PollTimeout, f.cfg.PollInterval)
	go func() {
		defer close(done)
		defer cancel()

		err := poll.Fixed(ctx, attempts, f.cfg.PollInterval, func(ctx context.Context) (bool, error) {
			consumed, err := f.backend.SessionConsumed(ctx, hash)
			if err != nil {
				// The operator may still be switching networks.
				slog.Debug("Session status check failed", "error", err)
				return false, nil
			}
			return consumed, nil
		})

		f.mu.Lock()
		defer f.mu.Unlock()
		if ctx.Err() != nil && err != nil {
			return
		}
		switch {
		case err == nil:
			f.state = StateComplete
			slog.Info("Pairing complete")
		case errors.Is(err, poll.ErrExhausted):
			f.state = StateError
			f.returnTo = StateCredentialEntry
			f.err = ErrPollTimeout
			slog.Warn("Pairing did not complete in time", "timeout", f.cfg.PollTimeout)
		default:
			f.state = StateError
			f.returnTo = StateCredentialEntry
			f.err = err
		}
	}()
	return nil
}

// Wait blocks until any running poll has finished and returns the resulting
// snapshot.
func (f *Flow) Wait(ctx context.Context) (Snapshot, error) {
	f.mu.Lock()
	done := f.pollDone
	f.mu.Unlock()
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return f.Snapshot(), ctx.Err()
		}
	}
	return f.Snapshot(), nil
}

// Close cancels polling, waits for the poll goroutine and drops the token.
func (f *Flow) Close() {
	f.rootCancel()
	// Marking closed first stops a concurrent Dispatch from starting a poll
	// that stopPolling would miss.
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	f.stopPolling()
	f.mu.Lock()
	f.token = nil
	f.mu.Unlock()
}

func (f *Flow) stopPolling() {
	f.mu.Lock()
	cancel, done := f.pollCancel, f.pollDone
	f.pollCancel, f.pollDone = nil, nil
	f.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (f *Flow) setState(s State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = s
	f.err = nil
}

func (f *Flow) fail(returnTo State, err error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = StateError
	f.returnTo = returnTo
	f.err = err
	slog.Warn("Pairing step failed", "return_to", returnTo, "error", err)
	return err
}

func (f *Flow) invalid(ev Event, s State) error {
	return fmt.Errorf("%w: %s in %s", ErrInvalidTransition, ev.eventName(), s)
}
