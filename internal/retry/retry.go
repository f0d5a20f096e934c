// Package retry runs an operation until it succeeds, gives up, or runs
// out of time. Delays grow exponentially from Initial up to Max.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Policy bounds a retry loop. Attempts counts calls, not retries.
type Policy struct {
	Attempts int
	Initial  time.Duration
	Max      time.Duration
	Timeout  time.Duration // 0 means only ctx bounds the loop
}

// Default is a short policy for local collaborators.
var Default = Policy{
	Attempts: 5,
	Initial:  50 * time.Millisecond,
	Max:      time.Second,
	Timeout:  10 * time.Second,
}

// ErrExhausted wraps the last error when every attempt failed.
var ErrExhausted = errors.New("retry: attempts exhausted")

// permanent marks an error that must not be retried.
type permanent struct{ err error }

func (p permanent) Error() string { return p.err.Error() }
func (p permanent) Unwrap() error { return p.err }

// Permanent stops the loop and returns err unchanged.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanent{err: err}
}

// sleep is replaced in tests.
var sleep = func(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Do calls fn until it returns nil or a Permanent error, the attempts run
// out, or the timeout or ctx expires. fn receives the attempt number
// starting at 1.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	if p.Attempts < 1 {
		p.Attempts = 1
	}
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	delay := p.Initial
	var last error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		var perm permanent
		if errors.As(err, &perm) {
			return perm.err
		}
		last = err

		if attempt == p.Attempts {
			break
		}
		if err := sleep(ctx, delay); err != nil {
			return fmt.Errorf("retry: gave up after %d attempts: %w (last error: %v)", attempt, err, last)
		}
		delay *= 2
		if p.Max > 0 && delay > p.Max {
			delay = p.Max
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, p.Attempts, last)
}
