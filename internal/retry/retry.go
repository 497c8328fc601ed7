// Package retry provides the generic retry-with-backoff wrapper that every
// externally-executed pipeline step passes through, plus the error-recovery
// layer that decorates persistent failures with remediation suggestions.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Backoff selects the wait schedule between attempts.
type Backoff string

const (
	BackoffNone        Backoff = "none"
	BackoffLinear      Backoff = "linear"
	BackoffExponential Backoff = "exponential"
)

// Valid reports whether the backoff mode is known.
func (b Backoff) Valid() bool {
	switch b {
	case BackoffNone, BackoffLinear, BackoffExponential:
		return true
	}
	return false
}

// Options configures retry behavior.
type Options struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// Delay is the base wait between attempts.
	Delay time.Duration

	// Backoff scales the wait: none waits nothing, linear waits
	// Delay*attempt, exponential Delay*2^(attempt-1).
	Backoff Backoff
}

// DefaultOptions returns the default retry configuration.
func DefaultOptions() Options {
	return Options{
		MaxAttempts: 3,
		Delay:       time.Second,
		Backoff:     BackoffExponential,
	}
}

// Validate checks option invariants.
func (o Options) Validate() error {
	if o.MaxAttempts < 1 {
		return errors.New("max attempts must be at least 1")
	}
	if o.Delay < 0 {
		return errors.New("delay cannot be negative")
	}
	if !o.Backoff.Valid() {
		return fmt.Errorf("unknown backoff mode: %q", o.Backoff)
	}
	return nil
}

// ErrExhausted marks an error returned after all attempts failed.
var ErrExhausted = errors.New("retry attempts exhausted")

// ExhaustedError wraps the last attempt's error once retries run out.
type ExhaustedError struct {
	Attempts int
	Err      error

	// Label names the operation for user-facing messages; optional.
	Label string
}

func (e *ExhaustedError) Error() string {
	if e.Label != "" {
		return fmt.Sprintf("%s failed after retries: %v", e.Label, e.Err)
	}
	return fmt.Sprintf("operation failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Is matches ErrExhausted in errors.Is chains.
func (e *ExhaustedError) Is(target error) bool { return target == ErrExhausted }

// waitFor computes the wait before retry attempt attemptIndex (1-based
// index of the attempt that just failed).
func waitFor(o Options, attemptIndex int) time.Duration {
	switch o.Backoff {
	case BackoffLinear:
		return o.Delay * time.Duration(attemptIndex)
	case BackoffExponential:
		return o.Delay * time.Duration(1<<(attemptIndex-1))
	default:
		return 0
	}
}

// Do invokes op up to MaxAttempts times, sleeping per the backoff schedule
// between attempts. The sleep is the only suspension point and is
// cancellable through ctx.
func Do(ctx context.Context, op func() error, opts Options) error {
	if err := opts.Validate(); err != nil {
		return err
	}

	var lastErr error
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		if err := op(); err == nil {
			return nil
		} else {
			lastErr = err
		}

		if attempt == opts.MaxAttempts {
			break
		}

		wait := waitFor(opts, attempt)
		if wait > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("retry canceled: %w", ctx.Err())
			case <-time.After(wait):
			}
		} else if err := ctx.Err(); err != nil {
			return fmt.Errorf("retry canceled: %w", err)
		}
	}

	return &ExhaustedError{Attempts: opts.MaxAttempts, Err: lastErr}
}

// DoValue is Do for operations that produce a value.
func DoValue[T any](ctx context.Context, op func() (T, error), opts Options) (T, error) {
	var result T
	err := Do(ctx, func() error {
		v, err := op()
		if err != nil {
			return err
		}
		result = v
		return nil
	}, opts)
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

// ExecuteWithRetry runs op through Do and labels persistent failures so the
// caller can surface which step gave up.
func ExecuteWithRetry[T any](ctx context.Context, op func() (T, error), label string, opts Options, logger *zap.Logger) (T, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	result, err := DoValue(ctx, op, opts)
	if err != nil {
		var exhausted *ExhaustedError
		if errors.As(err, &exhausted) {
			logger.Warn("operation exhausted retries",
				zap.String("label", label),
				zap.Int("attempts", exhausted.Attempts),
				zap.Error(exhausted.Err),
			)
			var zero T
			return zero, &ExhaustedError{
				Attempts: exhausted.Attempts,
				Err:      exhausted.Err,
				Label:    label,
			}
		}
		var zero T
		return zero, err
	}
	return result, nil
}
