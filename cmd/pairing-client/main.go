package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/evvos/pairing/internal/orchestrator"
	"github.com/spf13/cobra"
)

var AppVersion string

const defaultDeviceURL = "http://192.168.4.1"

type options struct {
	server       string
	device       string
	token        string
	label        string
	apNetwork    string
	pollInterval time.Duration
	pollTimeout  time.Duration
	verbose      bool
}

func main() {
	command := NewPairingCommand()
	if err := command.Execute(); err != nil {
		os.Exit(1)
	}
}

func NewPairingCommand() *cobra.Command {
	o := &options{}
	cmd := &cobra.Command{
		Use:          "pairing-client",
		Short:        "Pair a device with your account over its setup WiFi network",
		Version:      AppVersion,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.validate(); err != nil {
				return err
			}
			return o.run(cmd.Context())
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&o.server, "server", os.Getenv("PAIRING_SERVER_URL"), "Backend base URL (e.g., https://pairing.example.com)")
	flags.StringVar(&o.device, "device", defaultDeviceURL, "Device provisioning endpoint")
	flags.StringVar(&o.token, "token", os.Getenv("PAIRING_IDENTITY_TOKEN"), "Identity bearer token")
	flags.StringVar(&o.label, "label", "", "Optional device label")
	flags.StringVar(&o.apNetwork, "ap-network", "EVVOS_0001", "Setup WiFi network the device broadcasts")
	flags.DurationVar(&o.pollInterval, "poll-interval", orchestrator.DefaultPollInterval, "Interval between completion checks")
	flags.DurationVar(&o.pollTimeout, "poll-timeout", orchestrator.DefaultPollTimeout, "How long to wait for the device to finish")
	flags.BoolVarP(&o.verbose, "verbose", "v", false, "Log requests and state changes")
	return cmd
}

func (o *options) validate() error {
	if o.server == "" {
		return fmt.Errorf("--server is required")
	}
	if o.token == "" {
		return fmt.Errorf("--token is required")
	}
	if o.pollInterval <= 0 || o.pollTimeout <= 0 {
		return fmt.Errorf("--poll-interval and --poll-timeout must be positive")
	}
	return nil
}

func (o *options) run(ctx context.Context) error {
	level := slog.LevelWarn
	if o.verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	device := orchestrator.NewHTTPDevice(o.device, 0)
	flow := orchestrator.NewFlow(
		orchestrator.NewHTTPBackend(o.server, o.token, 0),
		device,
		orchestrator.Config{PollInterval: o.pollInterval, PollTimeout: o.pollTimeout},
	)
	defer flow.Close()

	session, err := newSession(flow, device, o)
	if err != nil {
		return err
	}
	defer session.Close()

	return session.Run(ctx)
}
