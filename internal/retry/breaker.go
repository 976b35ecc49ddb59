package retry

import (
	"fmt"
	"sync"
	"time"

	apperrors "evald/internal/errors"
)

// BreakerState is the position of a [Breaker].
type BreakerState int

const (
	Closed BreakerState = iota
	Open
	Probing
)

func (s BreakerState) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case Probing:
		return "probing"
	}
	return "unknown"
}

// Breaker stops calling a command that keeps failing.  After Threshold
// consecutive failures it opens and rejects calls for Cooldown; the
// first call after that is a probe whose outcome closes or reopens it.
type Breaker struct {
	Threshold int
	Cooldown  time.Duration
	// OnChange is called with the lock held.
	OnChange func(from, to BreakerState)

	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time
	now      func() time.Time
}

// NewBreaker returns a closed breaker.  Non-positive arguments fall
// back to 5 failures and a 30s cooldown.
func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{Threshold: threshold, Cooldown: cooldown, now: time.Now}
}

// Do runs fn unless the breaker is open.  A rejected call returns an
// error wrapping [apperrors.ErrCircuitOpen].  Failures that the caller
// does not want counted (a user's script exiting non-zero, say) should
// be returned from fn as nil and reported some other way.
func (b *Breaker) Do(fn func() error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := fn()
	b.record(err)
	return err
}

// State returns the current position.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset closes the breaker and clears the failure count.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.move(Closed)
}

func (b *Breaker) clock() time.Time {
	if b.now == nil {
		return time.Now()
	}
	return b.now()
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != Open {
		return nil
	}
	left := b.Cooldown - b.clock().Sub(b.openedAt)
	if left <= 0 {
		b.move(Probing)
		return nil
	}
	return fmt.Errorf("%w after %d failures, retry in %v",
		apperrors.ErrCircuitOpen, b.failures, left.Round(time.Millisecond))
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.failures = 0
		b.move(Closed)
		return
	}
	b.failures++
	if b.state == Probing || b.failures >= b.Threshold {
		b.openedAt = b.clock()
		b.move(Open)
	}
}

func (b *Breaker) move(to BreakerState) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if b.OnChange != nil {
		b.OnChange(from, to)
	}
}
