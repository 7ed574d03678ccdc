// Package retry implements the backoff policy shared by extraction and
// delivery. Statistics are accumulated per run in a RunStats value owned by
// the caller.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"
)

// ErrExhausted wraps the last transient error once MaxRetries is spent.
var ErrExhausted = errors.New("retry: attempts exhausted")

// Policy is an exponential backoff schedule:
// wait(attempt) = min(BaseDelay * Multiplier^attempt, MaxDelay).
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	Multiplier float64
	MaxDelay   time.Duration
	// Jitter adds up to 10% random extra wait.
	Jitter bool

	Logger *slog.Logger
	// OnRetry, when set, is called before each wait.
	OnRetry func(attempt int, wait time.Duration, err error)
	// Sleep replaces the context-aware timer wait (tests).
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultPolicy matches the configuration defaults.
func DefaultPolicy() Policy {
	return Policy{MaxRetries: 3, BaseDelay: 5 * time.Second, Multiplier: 2, MaxDelay: time.Minute}
}

// Delay returns the wait before retry number attempt (0-based).
func (p Policy) Delay(attempt int) time.Duration {
	mult := p.Multiplier
	if mult <= 0 {
		mult = 2
	}
	d := float64(p.BaseDelay) * math.Pow(mult, float64(attempt))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if p.Jitter && d > 0 {
		d += rand.Float64() * d * 0.1
	}
	return time.Duration(d)
}

// Budget is the longest Do can take when each attempt is bounded by
// perAttempt: every attempt plus every backoff wait, jitter included.
func (p Policy) Budget(perAttempt time.Duration) time.Duration {
	total := perAttempt * time.Duration(p.MaxRetries+1)
	flat := p
	flat.Jitter = false
	for i := 0; i < p.MaxRetries; i++ {
		d := flat.Delay(i)
		if p.Jitter {
			d += d / 10
		}
		total += d
	}
	return total
}

// Do runs fn until it succeeds, fails fatally, or MaxRetries retries have
// been spent, so fn is called at most MaxRetries+1 times. The returned count
// is the number of calls made. stats may be nil.
func (p Policy) Do(ctx context.Context, stats *RunStats, fn func(ctx context.Context, attempt int) error) (int, error) {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var lastErr error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		stats.attempt()
		err := fn(ctx, attempt)
		if err == nil {
			stats.success(attempt)
			return attempt + 1, nil
		}
		lastErr = err

		if ctx.Err() != nil || Classify(err) == Fatal {
			stats.fatal()
			return attempt + 1, err
		}
		if attempt == p.MaxRetries {
			break
		}

		wait := p.Delay(attempt)
		logger.WarnContext(ctx, "retry: transient failure",
			"attempt", attempt+1,
			"max_retries", p.MaxRetries,
			"wait", wait,
			"error", err)
		if p.OnRetry != nil {
			p.OnRetry(attempt+1, wait, err)
		}
		stats.waited(wait)
		if err := sleep(ctx, wait); err != nil {
			stats.fatal()
			return attempt + 1, lastErr
		}
	}

	stats.exhausted()
	return p.MaxRetries + 1, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, p.MaxRetries+1, lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
