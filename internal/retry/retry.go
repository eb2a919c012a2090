// Package retry provides the fixed-attempt polling helper used wherever the
// crawler waits on live page state.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrExhausted is returned when every attempt finished without success.
var ErrExhausted = errors.New("retry attempts exhausted")

// Bounded runs an operation a fixed number of times with a fixed delay
// between attempts. Callers own the fallback once ErrExhausted comes back.
type Bounded struct {
	Attempts int
	Delay    time.Duration
	// Sleep waits between attempts; defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Do calls fn with a zero-based attempt index until it reports done. The
// delay is only applied between attempts, never after the last one.
func (b Bounded) Do(ctx context.Context, fn func(ctx context.Context, attempt int) bool) error {
	attempts := b.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	sleep := b.Sleep
	if sleep == nil {
		sleep = Sleep
	}
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("retry canceled: %w", err)
		}
		if fn(ctx, attempt) {
			return nil
		}
		// A wait cut short by cancellation is not a failed attempt.
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("retry canceled: %w", err)
		}
		if attempt == attempts-1 {
			break
		}
		if err := sleep(ctx, b.Delay); err != nil {
			return err
		}
	}
	return fmt.Errorf("%d attempts: %w", attempts, ErrExhausted)
}

// Sleep blocks for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("sleep canceled: %w", err)
		}
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("sleep canceled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
