// ABOUTME: Retry runner with exponential backoff and retryable-error classification
// ABOUTME: Honors Retry-After overrides and wraps exhaustion in a stable error code

package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/weftwork/weft/pkg/types"
)

// Defaults applied when a retry policy leaves fields unset
const (
	DefaultInitialBackoff = 500 * time.Millisecond
	DefaultMultiplier     = 2.0
	DefaultJitter         = 0.1
)

// HTTPStatusError carries a non-2xx response for retry classification
type HTTPStatusError struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("http status %d", e.Status)
}

// Code implements types.Coded
func (e *HTTPStatusError) Code() string {
	if e.Status == 408 {
		return types.CodeTaskTimeout
	}
	return types.CodeTaskFailed
}

// Operation is one retryable attempt
type Operation func(ctx context.Context) (interface{}, error)

// Runner executes operations under a retry policy
type Runner struct {
	clock  types.Clock
	logger types.Logger
}

// New creates a retry runner
func New(clock types.Clock, logger types.Logger) *Runner {
	if clock == nil {
		clock = types.SystemClock{}
	}
	return &Runner{clock: clock, logger: logger}
}

// Do runs the operation up to policy.MaxAttempts times, sleeping an
// exponentially growing, jittered interval between attempts. It returns the
// value, the number of retries performed, and the terminal error if any.
func (r *Runner) Do(ctx context.Context, name string, policy types.RetryPolicy, op Operation) (interface{}, int, error) {
	maxAttempts := policy.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	schedule := newSchedule(policy)
	var lastErr error
	attempts := 0

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attempts = attempt
		value, err := op(ctx)
		if err == nil {
			return value, attempt - 1, nil
		}
		lastErr = err

		retryable, override := Classify(err, policy.RetryableErrors)
		if !retryable || attempt == maxAttempts {
			break
		}

		wait := schedule.NextBackOff()
		if override > 0 {
			// A server-provided Retry-After beats the computed backoff.
			wait = override
		}
		if r.logger != nil {
			r.logger.Debug().
				Str("operation", name).
				Int("attempt", attempt).
				Dur("backoff", wait).
				Err(err).
				Msg("Retrying after failure")
		}
		if sleepErr := r.clock.Sleep(ctx, wait); sleepErr != nil {
			return nil, attempt - 1, sleepErr
		}
	}

	retryable, _ := Classify(lastErr, policy.RetryableErrors)
	if retryable && maxAttempts > 1 {
		return nil, attempts - 1, &types.RetryExhaustedError{Attempts: attempts, Last: lastErr}
	}
	return nil, attempts - 1, lastErr
}

// Classify reports whether an error warrants a retry, and any server-provided
// wait override. Retryable: network errors, 5xx, 408, 429, and
// domain-declared retryable codes. Other 4xx are terminal.
func Classify(err error, declared []string) (bool, time.Duration) {
	if err == nil {
		return false, 0
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false, 0
	}

	var open *types.CircuitOpenError
	if errors.As(err, &open) {
		return false, 0
	}

	var httpErr *HTTPStatusError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.Status >= 500:
			return true, 0
		case httpErr.Status == 408:
			return true, 0
		case httpErr.Status == 429:
			return true, httpErr.RetryAfter
		default:
			return isDeclared(err, declared), 0
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true, 0
	}

	return isDeclared(err, declared), 0
}

func isDeclared(err error, declared []string) bool {
	if len(declared) == 0 {
		return false
	}
	code := types.CodeOf(err)
	for _, kind := range declared {
		if kind == code {
			return true
		}
	}
	return false
}

// newSchedule maps a retry policy onto an exponential backoff schedule with
// uniform ±jitter
func newSchedule(policy types.RetryPolicy) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = policy.InitialBackoff
	if b.InitialInterval <= 0 {
		b.InitialInterval = DefaultInitialBackoff
	}
	b.Multiplier = policy.Multiplier
	if b.Multiplier <= 0 {
		b.Multiplier = DefaultMultiplier
	}
	b.RandomizationFactor = policy.Jitter
	if policy.Jitter < 0 {
		b.RandomizationFactor = DefaultJitter
	}
	b.MaxInterval = 5 * time.Minute
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}
