package poll

import (
	"context"
	"errors"
	"time"
)

var (
	ErrInvalidAttempts = errors.New("attempts must be greater than 0")
	ErrExhausted       = errors.New("condition not met within the allowed attempts")
)

// Fixed calls opFn up to attempts times, waiting interval between calls,
// until it returns true or an error, or ctx is canceled. There is no wait
// after the final attempt.
func Fixed(ctx context.Context, attempts int, interval time.Duration, opFn func(context.Context) (bool, error)) error {
	if attempts <= 0 {
		return ErrInvalidAttempts
	}

	for i := 1; ; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		done, err := opFn(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if i == attempts {
			return ErrExhausted
		}

		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// AttemptsFor returns how many attempts spaced by interval fit in timeout,
// rounding up and never less than one.
func AttemptsFor(timeout, interval time.Duration) int {
	if interval <= 0 || timeout <= 0 {
		return 1
	}
	n := int((timeout + interval - 1) / interval)
	if n < 1 {
		n = 1
	}
	return n
}
