package resilience

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	logx "syndicate/pkg/logx"
)

// NoRetry marks an error as permanent so Retry stops at once.
//
//	return resilience.NoRetry(fmt.Errorf("bad credentials: %w", err))
func NoRetry(err error) error {
	if err == nil {
		return nil
	}
	return noRetryError{err: err}
}

// IsNoRetry reports whether err is wrapped with NoRetry.
func IsNoRetry(err error) bool {
	var e noRetryError
	return errors.As(err, &e)
}

type noRetryError struct{ err error }

func (e noRetryError) Error() string { return fmt.Sprintf("no-retry: %v", e.err) }
func (e noRetryError) Unwrap() error { return e.err }

type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	Multiplier float64
	// Jitter is the maximum extra delay as a fraction of the computed one.
	Jitter float64
	// MaxDelay caps a single wait. Zero means no cap.
	MaxDelay time.Duration
}

// DefaultPolicy is 3 retries starting at 5s, doubling, with up to 30% jitter.
func DefaultPolicy() Policy {
	return Policy{MaxRetries: 3, BaseDelay: 5 * time.Second, Multiplier: 2, Jitter: 0.3}
}

// Delay returns the wait before retry n (n >= 1):
// base * multiplier^(n-1), plus up to Jitter of that amount.
func (p Policy) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.BaseDelay) * math.Pow(mult, float64(n-1))
	if p.Jitter > 0 {
		d += d * p.Jitter * rand.Float64()
	}
	if d > math.MaxInt64 {
		d = math.MaxInt64
	}
	out := time.Duration(d)
	if p.MaxDelay > 0 && out > p.MaxDelay {
		out = p.MaxDelay
	}
	return out
}

// Retry calls fn up to MaxRetries+1 times and returns nil on the first
// success. It stops early on a NoRetry error (returning the unwrapped cause)
// or when ctx is done while waiting. Otherwise it returns the last error.
func Retry(ctx context.Context, pol Policy, log logx.Logger, fn func(ctx context.Context, attempt int) error) error {
	if log.IsZero() {
		log = logx.Nop()
	}
	maxAttempts := 1 + pol.MaxRetries
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = fn(ctx, attempt)
		if err == nil {
			return nil
		}
		var nr noRetryError
		if errors.As(err, &nr) {
			return nr.err
		}
		if attempt >= maxAttempts {
			break
		}

		delay := pol.Delay(attempt)
		log.Debug("retry scheduled", logx.Int("attempt", attempt+1), logx.Duration("delay", delay), logx.Err(err))
		if delay <= 0 {
			if ctx.Err() != nil {
				return err
			}
			continue
		}
		tmr := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			tmr.Stop()
			return err
		case <-tmr.C:
		}
	}
	return err
}
