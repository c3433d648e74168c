package retry

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/tapestry/pkg/utils/logging"
)

// ErrRetriesExhausted tags the last error once every attempt has failed
var ErrRetriesExhausted = goerr.New("retries exhausted")

// Policy is a bounded retry with exponential backoff
type Policy struct {
	Name        string
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
	// Jitter spreads each delay by ±Jitter (0.0 to 1.0)
	Jitter float64
	// Retryable decides whether an error deserves another attempt. nil retries everything.
	Retryable func(error) bool

	// sleep is replaced in tests
	sleep func(ctx context.Context, d time.Duration) error
}

// Do runs op until it succeeds, fails with a non-retryable error, or runs out of attempts
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	_, err := Value(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Value is Do for operations that return a result
func Value[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		v, err := op(ctx)
		if err == nil {
			if attempt > 1 {
				logging.From(ctx).Debug("operation succeeded after retry", "policy", p.Name, "attempt", attempt)
			}
			return v, nil
		}
		lastErr = err

		if p.Retryable != nil && !p.Retryable(err) {
			return zero, err
		}
		if attempt == attempts {
			break
		}

		delay := p.Delay(attempt)
		logging.From(ctx).Warn("operation failed, will retry",
			"policy", p.Name,
			"attempt", attempt,
			"max_attempts", attempts,
			"delay", delay,
			"error", err.Error(),
		)
		if err := sleep(ctx, delay); err != nil {
			return zero, goerr.Wrap(errors.Join(lastErr, err), "retry interrupted",
				goerr.V("policy", p.Name), goerr.V("attempt", attempt))
		}
	}

	return zero, goerr.Wrap(&ExhaustedError{Policy: p.Name, Attempts: attempts, Err: lastErr}, "retries exhausted",
		goerr.V("policy", p.Name),
		goerr.V("attempts", attempts),
	)
}

// ExhaustedError carries the last error of a retry loop. errors.Is matches both
// ErrRetriesExhausted and the last error.
type ExhaustedError struct {
	Policy   string
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return e.Err.Error()
}

func (e *ExhaustedError) Unwrap() []error {
	return []error{ErrRetriesExhausted, e.Err}
}

// Delay returns the wait after the given failed attempt (1-based)
func (p Policy) Delay(attempt int) time.Duration {
	mult := p.Multiplier
	if mult <= 0 {
		mult = 2
	}
	d := float64(p.BaseDelay) * math.Pow(mult, float64(attempt-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if p.Jitter > 0 {
		d += d * p.Jitter * (rand.Float64()*2 - 1)
	}
	if d < 0 {
		return 0
	}
	return time.Duration(d)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
