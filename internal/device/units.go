package device

import (
	"context"
	"fmt"

	"github.com/coreos/go-systemd/v22/dbus"
)

// Units starts and stops the services that make up the access point.
// Both operations are idempotent.
type Units interface {
	Start(ctx context.Context, names ...string) error
	Stop(ctx context.Context, names ...string) error
}

type SystemdUnits struct{}

func NewSystemdUnits() *SystemdUnits {
	return &SystemdUnits{}
}

func (u *SystemdUnits) Start(ctx context.Context, names ...string) error {
	return u.each(ctx, names, (*dbus.Conn).StartUnitContext)
}

func (u *SystemdUnits) Stop(ctx context.Context, names ...string) error {
	return u.each(ctx, names, (*dbus.Conn).StopUnitContext)
}

type unitJob func(conn *dbus.Conn, ctx context.Context, name string, mode string, ch chan<- string) (int, error)

func (u *SystemdUnits) each(ctx context.Context, names []string, job unitJob) error {
	conn, err := dbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to systemd: %w", err)
	}
	defer conn.Close()

	for _, name := range names {
		ch := make(chan string, 1)
		if _, err := job(conn, ctx, name, "replace", ch); err != nil {
			return fmt.Errorf("failed to queue job for %s: %w", name, err)
		}
		select {
		case result := <-ch:
			if result != "done" {
				return fmt.Errorf("job for %s finished with %q", name, result)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
