package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	apperrors "evald/internal/errors"
	"evald/internal/metrics"
	"evald/internal/protocol"
)

// suspension is an input() call waiting for its answer.
type suspension struct {
	prompt string
	result chan string // capacity 1, filled at most once
}

// inputChannel lets the evaluation goroutine park on input() while the
// receive loop goes on reading frames.  The two sides meet only here.
type inputChannel struct {
	send    func([]byte) error
	timeout time.Duration
	park    func(waiting bool) // state hook, called on the evaluation goroutine
	metrics *metrics.Collector

	mu      sync.Mutex
	pending *suspension
}

// request asks the client for a line and blocks the caller until the
// next input_response, the input timeout, or ctx ends.
func (c *inputChannel) request(ctx context.Context, prompt string) (string, error) {
	s, err := c.open(prompt)
	if err != nil {
		return "", err
	}
	if c.park != nil {
		c.park(true)
		defer c.park(false)
	}

	c.metrics.InputRequested()
	if err := c.send(protocol.EncodeInputRequest(prompt)); err != nil {
		c.abandon(s)
		return "", fmt.Errorf("sending input request: %w", err)
	}

	var expired <-chan time.Time
	if c.timeout > 0 {
		t := time.NewTimer(c.timeout)
		defer t.Stop()
		expired = t.C
	}

	select {
	case v := <-s.result:
		return v, nil
	case <-expired:
		if v, ok := c.abandon(s); ok {
			return v, nil
		}
		c.metrics.InputTimedOut()
		return "", fmt.Errorf("%w after %v", apperrors.ErrInputTimeout, c.timeout)
	case <-ctx.Done():
		if v, ok := c.abandon(s); ok {
			return v, nil
		}
		if apperrors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("waiting for input: %w", ctx.Err())
		}
		return "", fmt.Errorf("%w: %v", apperrors.ErrSessionClosed, context.Cause(ctx))
	}
}

// resolve hands value to the pending suspension.  It reports false and
// does nothing when no suspension is pending.
func (c *inputChannel) resolve(value string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return false
	}
	c.pending.result <- value
	c.pending = nil
	return true
}

// prompt returns the pending suspension's prompt.
func (c *inputChannel) prompt() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return "", false
	}
	return c.pending.prompt, true
}

func (c *inputChannel) open(prompt string) (*suspension, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending != nil {
		return nil, apperrors.ErrSuspensionPending
	}
	c.pending = &suspension{prompt: prompt, result: make(chan string, 1)}
	return c.pending, nil
}

// abandon withdraws s.  An answer that won the race with the timeout or
// cancellation is returned instead of being lost.
func (c *inputChannel) abandon(s *suspension) (string, bool) {
	c.mu.Lock()
	if c.pending == s {
		c.pending = nil
	}
	c.mu.Unlock()

	select {
	case v := <-s.result:
		return v, true
	default:
		return "", false
	}
}
