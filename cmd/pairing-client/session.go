package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/evvos/pairing/internal/orchestrator"
)

var errQuit = errors.New("quit")

const deviceCheckTimeout = 5 * time.Second

type deviceStatus interface {
	Provisioned(ctx context.Context) (bool, error)
}

// session renders the flow state and turns operator input into events.
type session struct {
	flow   *orchestrator.Flow
	device deviceStatus
	opts   *options
	rl     *readline.Instance
	out    io.Writer
}

func newSession(flow *orchestrator.Flow, device deviceStatus, opts *options) (*session, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &session{flow: flow, device: device, opts: opts, rl: rl, out: rl.Stdout()}, nil
}

func (s *session) Close() {
	s.rl.Close()
}

func (s *session) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		snap := s.flow.Snapshot()
		err := s.step(ctx, snap)
		if errors.Is(err, errQuit) {
			fmt.Fprintln(s.out, "Pairing cancelled.")
			return nil
		}
		if errors.Is(err, orchestrator.ErrInvalidTransition) {
			return err
		}
		if snap.State == orchestrator.StateComplete {
			return nil
		}
	}
}

// step handles one state. Collaborator failures are not returned: the flow
// records them and the next step renders the error state.
func (s *session) step(ctx context.Context, snap orchestrator.Snapshot) error {
	switch snap.State {
	case orchestrator.StateCheckExisting:
		fmt.Fprintln(s.out, "Checking your account for a paired device...")
		_ = s.flow.Dispatch(ctx, orchestrator.EvStart{})
		return nil

	case orchestrator.StateIntro:
		fmt.Fprintln(s.out, "No device is paired yet.")
		fmt.Fprintln(s.out, "Power on the device and wait for its setup network to appear.")
		if err := s.waitEnter("Press Enter to create a pairing token (q to quit)"); err != nil {
			return err
		}
		_ = s.flow.Dispatch(ctx, orchestrator.EvCreateToken{Label: s.opts.label})
		return nil

	case orchestrator.StateTokenCreated:
		fmt.Fprintf(s.out, "Pairing token %s created, valid until %s.\n",
			snap.TokenPrefix, snap.TokenExpiresAt.Local().Format("2006-01-02 15:04"))
		return s.flow.Dispatch(ctx, orchestrator.EvContinue{})

	case orchestrator.StateConnectInstruction:
		fmt.Fprintf(s.out, "Connect this computer to the WiFi network %q.\n", s.opts.apNetwork)
		if err := s.waitEnter("Press Enter once connected (q to quit)"); err != nil {
			return err
		}
		warnIfProvisioned(ctx, s.device, s.out)
		return s.flow.Dispatch(ctx, orchestrator.EvConnected{})

	case orchestrator.StateCredentialEntry:
		return s.enterCredentials(ctx)

	case orchestrator.StateActivateInstruction:
		fmt.Fprintln(s.out, "The device accepted the credentials and is joining your network.")
		fmt.Fprintln(s.out, "Reconnect this computer to a network with internet access.")
		if err := s.waitEnter("Press Enter once you are back online (q to quit)"); err != nil {
			return err
		}
		return s.flow.Dispatch(ctx, orchestrator.EvActivated{})

	case orchestrator.StatePolling:
		fmt.Fprintln(s.out, "Waiting for the device to finish pairing...")
		if _, err := s.flow.Wait(ctx); err != nil {
			return errQuit
		}
		return nil

	case orchestrator.StateComplete:
		fmt.Fprintln(s.out, "Your device is paired.")
		return nil

	case orchestrator.StateError:
		return s.recover(ctx, snap)
	}
	return fmt.Errorf("%w: unexpected state %s", orchestrator.ErrInvalidTransition, snap.State)
}

func (s *session) enterCredentials(ctx context.Context) error {
	s.rl.SetPrompt("Home WiFi name (SSID): ")
	ssid, err := s.rl.Readline()
	if err != nil {
		return errQuit
	}
	password, err := s.rl.ReadPassword("Home WiFi password: ")
	if err != nil {
		return errQuit
	}

	fmt.Fprintf(s.out, "Sending credentials to %s...\n", s.opts.device)
	_ = s.flow.Dispatch(ctx, orchestrator.EvSubmitCredentials{
		SSID:     ssid,
		Password: string(password),
		Label:    s.opts.label,
	})
	return nil
}

func (s *session) recover(ctx context.Context, snap orchestrator.Snapshot) error {
	fmt.Fprintf(s.out, "Error: %v\n", snap.Err)
	if errors.Is(snap.Err, orchestrator.ErrPollTimeout) {
		fmt.Fprintln(s.out, "The device may still be joining. Reconnect to its setup network to try again.")
	}

	prompt := "Press Enter to retry, n for a new token, q to quit"
	if !snap.HasToken {
		prompt = "Press Enter to retry, q to quit"
	}
	s.rl.SetPrompt(prompt + ": ")
	line, err := s.rl.Readline()
	if err != nil {
		return errQuit
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "q", "quit":
		return errQuit
	case "n":
		if snap.HasToken {
			_ = s.flow.Dispatch(ctx, orchestrator.EvCreateToken{Label: s.opts.label})
			return nil
		}
	}
	return s.flow.Dispatch(ctx, orchestrator.EvRetry{})
}

func (s *session) waitEnter(prompt string) error {
	s.rl.SetPrompt(prompt + ": ")
	line, err := s.rl.Readline()
	if err != nil {
		return errQuit
	}
	if strings.EqualFold(strings.TrimSpace(line), "q") {
		return errQuit
	}
	return nil
}

// warnIfProvisioned tells the operator when the device already holds
// credentials and will refuse new ones. An unreachable device is not an
// error here; the provisioning request reports it.
func warnIfProvisioned(ctx context.Context, device deviceStatus, out io.Writer) bool {
	ctx, cancel := context.WithTimeout(ctx, deviceCheckTimeout)
	defer cancel()

	provisioned, err := device.Provisioned(ctx)
	if err != nil {
		slog.Debug("Device status check failed", "error", err)
		return false
	}
	if provisioned {
		fmt.Fprintln(out, "Warning: this device reports it is already provisioned and will reject new credentials.")
		fmt.Fprintln(out, "Reset the device before pairing it again.")
	}
	return provisioned
}
