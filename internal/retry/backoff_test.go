package retry

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	apperrors "evald/internal/errors"
)

func transient() error {
	return &apperrors.NetworkError{Op: "dial", Addr: "127.0.0.1:1", Err: io.EOF, Retryable: true}
}

func fast(attempts int) Policy {
	return Policy{Attempts: attempts, Initial: time.Millisecond, Max: 2 * time.Millisecond}
}

func TestPolicy_SucceedsAfterRetries(t *testing.T) {
	calls := 0
	err := fast(5).Run(context.Background(), func(n int) error {
		calls++
		if n < 3 {
			return transient()
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestPolicy_GivesUp(t *testing.T) {
	calls := 0
	err := fast(4).Run(context.Background(), func(int) error {
		calls++
		return transient()
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 4 {
		t.Errorf("calls = %d, want 4", calls)
	}
	if !apperrors.IsRetryable(err) {
		t.Errorf("final error should still wrap the cause: %v", err)
	}
}

func TestPolicy_NonRetryableReturnsAtOnce(t *testing.T) {
	boom := errors.New("bad handshake")
	calls := 0
	err := fast(5).Run(context.Background(), func(int) error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestPolicy_Stop(t *testing.T) {
	calls := 0
	err := fast(5).Run(context.Background(), func(int) error {
		calls++
		return Stop(transient())
	})
	if IsStop(err) {
		t.Error("Run should unwrap the stop marker")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if Stop(nil) != nil {
		t.Error("Stop(nil) should be nil")
	}
}

func TestPolicy_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{Attempts: -1, Initial: time.Hour}
	p.OnRetry = func(int, error, time.Duration) { cancel() }

	err := p.Run(ctx, func(int) error { return transient() })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestPolicy_Delay(t *testing.T) {
	p := Policy{Initial: 100 * time.Millisecond, Max: time.Second, Factor: 2}
	tests := []struct {
		n    int
		want time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second},
		{20, time.Second},
	}
	for _, tt := range tests {
		if got := p.Delay(tt.n); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.n, got, tt.want)
		}
	}
}

func TestPolicy_JitterBounds(t *testing.T) {
	p := Policy{Jitter: 0.25}
	base := 400 * time.Millisecond
	for i := 0; i < 200; i++ {
		got := p.spread(base)
		if got < 300*time.Millisecond || got > 500*time.Millisecond {
			t.Fatalf("spread(%v) = %v, outside ±25%%", base, got)
		}
	}
}

func TestDialPolicy(t *testing.T) {
	p := DialPolicy(7)
	if p.Attempts != 7 {
		t.Errorf("attempts = %d", p.Attempts)
	}
	if p.Delay(100) != p.Max {
		t.Errorf("delay should cap at %v", p.Max)
	}
}
