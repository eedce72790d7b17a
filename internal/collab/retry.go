// Package collab holds helpers around the external collaborators: retry
// policy for read-only calls, a read-retrying Messenger decorator, a
// logging dry-run Messenger and the deterministic template Planner.
package collab

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/petrijr/cadence/pkg/api"
)

// RetryPolicy controls retries of read-only collaborator calls. Writes are
// never retried.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts. Values <= 0 are treated
	// as 1 (no retries).
	MaxAttempts int

	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration

	// BackoffMultiplier grows the delay each attempt. Defaults to 2.0.
	BackoffMultiplier float64

	// MaxBackoff caps the delay. Zero means no cap.
	MaxBackoff time.Duration
}

// DefaultRetryPolicy returns three attempts starting at 200ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       3,
		InitialBackoff:    200 * time.Millisecond,
		BackoffMultiplier: 2.0,
		MaxBackoff:        2 * time.Second,
	}
}

// Delay returns the wait before the given retry (attempt >= 1).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if p.InitialBackoff <= 0 || attempt < 1 {
		return 0
	}
	mult := p.BackoffMultiplier
	if mult <= 0 {
		mult = 2.0
	}
	d := float64(p.InitialBackoff) * math.Pow(mult, float64(attempt-1))
	if p.MaxBackoff > 0 && d > float64(p.MaxBackoff) {
		return p.MaxBackoff
	}
	return time.Duration(d)
}

// RetryExhaustedError is returned when every attempt failed.
type RetryExhaustedError struct {
	Attempts int
	LastErr  error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("retry exhausted after %d attempts: %v", e.Attempts, e.LastErr)
}

func (e *RetryExhaustedError) Unwrap() error {
	return e.LastErr
}

// Execute runs fn until it succeeds, returns a non-retryable error, or the
// attempts run out.
func (p RetryPolicy) Execute(ctx context.Context, fn func(context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !shouldRetry(err) {
			return err
		}
		if attempt == attempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.Delay(attempt)):
		}
	}

	if attempts == 1 {
		return lastErr
	}
	return &RetryExhaustedError{Attempts: attempts, LastErr: lastErr}
}

func shouldRetry(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var ce *api.CollaboratorError
	if errors.As(err, &ce) {
		return ce.Retryable
	}
	return true
}
