// Package backoff provides exponential backoff with jitter for retrying
// collaborator calls (publishing, engagement fetches).
package backoff

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// ErrAttemptsExhausted is returned when every retry attempt has failed.
var ErrAttemptsExhausted = errors.New("retry attempts exhausted")

// Policy defines the parameters for exponential backoff between attempts.
type Policy struct {
	// Initial is the delay after the first failed attempt.
	Initial time.Duration
	// Max caps the delay between attempts.
	Max time.Duration
	// Factor is the exponential multiplier applied per attempt.
	Factor float64
	// Jitter is the randomization fraction (0.0 to 1.0) added to each delay.
	Jitter float64
}

// DefaultPolicy returns the policy used for publish and metric retries:
// 1s initial, 2m max, factor 2, 10% jitter.
func DefaultPolicy() Policy {
	return Policy{
		Initial: time.Second,
		Max:     2 * time.Minute,
		Factor:  2,
		Jitter:  0.1,
	}
}

// Delay computes the backoff duration for a given attempt number.
// Attempt numbers start at 1; the formula is initial * factor^(attempt-1)
// plus jitter, clamped to Max.
func (p Policy) Delay(attempt int) time.Duration {
	return p.delayWithRand(attempt, rand.Float64()) // #nosec G404 -- jitter does not require cryptographic randomness
}

// delayWithRand computes the delay using a provided random value in [0, 1),
// so tests can be deterministic.
func (p Policy) delayWithRand(attempt int, random float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	base := float64(p.Initial) * math.Pow(p.Factor, exp)
	jitter := base * p.Jitter * random
	total := math.Min(float64(p.Max), base+jitter)
	return time.Duration(math.Round(total))
}

// Sleep waits out the backoff delay for the given attempt, respecting
// context cancellation.
func Sleep(ctx context.Context, p Policy, attempt int) error {
	d := p.Delay(attempt)
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

// Retry executes fn with exponential backoff, retrying only while retryable
// reports the returned error as transient. A non-retryable error is returned
// immediately; exhausting maxAttempts returns the last error joined with
// ErrAttemptsExhausted. fn receives the 1-indexed attempt number.
func Retry[T any](
	ctx context.Context,
	p Policy,
	maxAttempts int,
	retryable func(error) bool,
	fn func(attempt int) (T, error),
) (T, error) {
	var zero T
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		value, err := fn(attempt)
		if err == nil {
			return value, nil
		}
		lastErr = err

		if retryable != nil && !retryable(err) {
			return zero, err
		}
		if attempt < maxAttempts {
			if err := Sleep(ctx, p, attempt); err != nil {
				return zero, err
			}
		}
	}
	return zero, errors.Join(ErrAttemptsExhausted, lastErr)
}
