// Package retry wraps flaky gateway calls with a fixed-delay retry policy.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"optionflow/logger"
)

// ErrEmptyResult marks a call that succeeded but returned no data. DoNonEmpty
// treats it like a transient failure.
var ErrEmptyResult = errors.New("empty result")

// Policy describes how often a failed call is reattempted and how long to
// wait between attempts.
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
}

// Do runs fn up to p.MaxAttempts times, sleeping p.Delay between attempts.
// Each failed attempt is logged at warn level. The error of the last attempt
// is returned when all attempts fail.
func Do[T any](ctx context.Context, log *logger.Entry, p Policy, name string, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error

	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if attempt < attempts {
			log.WithError(err).WithFields(logger.Fields{
				"call":    name,
				"attempt": attempt,
				"delay":   p.Delay.String(),
			}).Warn("call failed, retrying")
			logger.IncrementAPIRetry()

			if err := sleep(ctx, p.Delay); err != nil {
				return zero, err
			}
		}
	}

	return zero, fmt.Errorf("%s failed after %d attempts: %w", name, attempts, lastErr)
}

// DoNonEmpty behaves like Do but additionally retries calls that return an
// empty slice, which the gateway produces while its own upstream is warming
// up.
func DoNonEmpty[T any](ctx context.Context, log *logger.Entry, p Policy, name string, fn func() ([]T, error)) ([]T, error) {
	return Do(ctx, log, p, name, func() ([]T, error) {
		result, err := fn()
		if err != nil {
			return nil, err
		}
		if len(result) == 0 {
			return nil, ErrEmptyResult
		}
		return result, nil
	})
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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
