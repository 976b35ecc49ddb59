// Package retry provides the dial backoff used by the console client and
// the circuit breaker that guards the one-shot runner.
package retry

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	apperrors "evald/internal/errors"
)

// stopError marks a failure the caller should not retry.
type stopError struct{ err error }

func (e *stopError) Error() string { return e.err.Error() }
func (e *stopError) Unwrap() error { return e.err }

// Stop marks err as final.  [Policy.Run] returns the inner error
// without sleeping again.
func Stop(err error) error {
	if err == nil {
		return nil
	}
	return &stopError{err: err}
}

// IsStop reports whether err was marked with [Stop].
func IsStop(err error) bool {
	var se *stopError
	return apperrors.As(err, &se)
}

// Policy is a capped exponential backoff.  The zero value gives three
// attempts starting at 250ms.
type Policy struct {
	// Attempts is the total number of tries including the first.
	// Zero means 3; negative means keep trying until ctx is done.
	Attempts int
	// Initial is the wait after the first failure.
	Initial time.Duration
	// Max caps a single wait.
	Max time.Duration
	// Factor multiplies the wait after every failure (default 2).
	Factor float64
	// Jitter spreads each wait by up to ±Jitter of its length (0..1).
	Jitter float64
	// OnRetry, when set, is told about every failure that will be
	// retried and how long the policy will sleep first.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// DialPolicy is the policy the console client uses to reach a server.
func DialPolicy(attempts int) Policy {
	return Policy{
		Attempts: attempts,
		Initial:  250 * time.Millisecond,
		Max:      5 * time.Second,
		Factor:   2,
		Jitter:   0.2,
	}
}

// Delay returns the wait that follows failed attempt n (1-based),
// before jitter.
func (p Policy) Delay(n int) time.Duration {
	d := p.Initial
	if d <= 0 {
		d = 250 * time.Millisecond
	}
	f := p.Factor
	if f < 1 {
		f = 2
	}
	for i := 1; i < n; i++ {
		d = time.Duration(float64(d) * f)
		if p.Max > 0 && d >= p.Max {
			return p.Max
		}
	}
	if p.Max > 0 && d > p.Max {
		return p.Max
	}
	return d
}

// Run calls fn until it succeeds, returns an error that is not
// retryable, or the attempt budget runs out.  Only errors for which
// [apperrors.IsRetryable] holds are retried; everything else is
// returned at once.
func (p Policy) Run(ctx context.Context, fn func(attempt int) error) error {
	attempts := p.Attempts
	if attempts == 0 {
		attempts = 3
	}

	for n := 1; ; n++ {
		err := fn(n)
		if err == nil {
			return nil
		}
		if IsStop(err) {
			return apperrors.Unwrap(err)
		}
		if !apperrors.IsRetryable(err) {
			return err
		}
		if attempts > 0 && n >= attempts {
			return fmt.Errorf("gave up after %d attempts: %w", n, err)
		}

		wait := p.spread(p.Delay(n))
		if p.OnRetry != nil {
			p.OnRetry(n, err, wait)
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("retry aborted: %w", ctx.Err())
		case <-t.C:
		}
	}
}

func (p Policy) spread(d time.Duration) time.Duration {
	if p.Jitter <= 0 {
		return d
	}
	j := p.Jitter
	if j > 1 {
		j = 1
	}
	delta := (rand.Float64()*2 - 1) * j * float64(d)
	out := time.Duration(float64(d) + delta)
	if out < time.Millisecond {
		out = time.Millisecond
	}
	return out
}
