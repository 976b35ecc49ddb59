// Package metrics provides lightweight, lock-free counters for tracking
// the runtime statistics of an evald server: sessions, actions, input
// suspensions and one-shot runs.
//
// All methods are safe for concurrent use.  A nil *Collector is a
// valid no-op receiver, so callers never need to nil-check.
package metrics

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Action names counted by [Collector.ActionStarted].  Anything else is
// counted as unsupported.
const (
	ActionRun     = "run"
	ActionCompile = "compile"
	ActionTest    = "test"
)

// Collector tracks runtime metrics for an evald process.
// A nil Collector is safe to use; all methods become no-ops.
type Collector struct {
	sessionsActive atomic.Int64
	sessionsTotal  atomic.Int64

	runs        atomic.Int64
	compiles    atomic.Int64
	tests       atomic.Int64
	unsupported atomic.Int64
	rejected    atomic.Int64
	malformed   atomic.Int64

	inputRequests atomic.Int64
	inputTimeouts atomic.Int64
	inputIgnored  atomic.Int64

	oneShotRuns atomic.Int64

	bytesIn     atomic.Int64
	bytesOut    atomic.Int64
	errorsTotal atomic.Int64

	mu           sync.RWMutex
	startTime    time.Time
	lastError    time.Time
	lastErrorMsg string
}

// New creates a metrics collector with the start time set to now.
func New() *Collector {
	return &Collector{startTime: time.Now()}
}

// ── Session metrics ──────────────────────────────────────────────────

// SessionOpened increments both the active and total counters.
func (c *Collector) SessionOpened() {
	if c == nil {
		return
	}
	c.sessionsActive.Add(1)
	c.sessionsTotal.Add(1)
}

// SessionClosed decrements the active session counter.
func (c *Collector) SessionClosed() {
	if c == nil {
		return
	}
	c.sessionsActive.Add(-1)
}

// ActiveSessions returns the current number of open sessions.
func (c *Collector) ActiveSessions() int64 {
	if c == nil {
		return 0
	}
	return c.sessionsActive.Load()
}

// TotalSessions returns the lifetime session count.
func (c *Collector) TotalSessions() int64 {
	if c == nil {
		return 0
	}
	return c.sessionsTotal.Load()
}

// ── Action metrics ───────────────────────────────────────────────────

// ActionStarted records one accepted evaluation request.
func (c *Collector) ActionStarted(action string) {
	if c == nil {
		return
	}
	switch action {
	case ActionRun:
		c.runs.Add(1)
	case ActionCompile:
		c.compiles.Add(1)
	case ActionTest:
		c.tests.Add(1)
	default:
		c.unsupported.Add(1)
	}
}

// ActionRejected records an evaluation request refused because the
// session was busy.
func (c *Collector) ActionRejected() {
	if c == nil {
		return
	}
	c.rejected.Add(1)
}

// MessageMalformed records a client message that failed to decode or
// validate.
func (c *Collector) MessageMalformed() {
	if c == nil {
		return
	}
	c.malformed.Add(1)
}

// MalformedMessages returns the number of undecodable client messages.
func (c *Collector) MalformedMessages() int64 {
	if c == nil {
		return 0
	}
	return c.malformed.Load()
}

// Actions returns the per-action counters.
func (c *Collector) Actions() (runs, compiles, tests, unsupported int64) {
	if c == nil {
		return 0, 0, 0, 0
	}
	return c.runs.Load(), c.compiles.Load(), c.tests.Load(), c.unsupported.Load()
}

// Rejected returns the number of busy rejections.
func (c *Collector) Rejected() int64 {
	if c == nil {
		return 0
	}
	return c.rejected.Load()
}

// ── Suspension metrics ───────────────────────────────────────────────

// InputRequested records one input_request sent to a client.
func (c *Collector) InputRequested() {
	if c == nil {
		return
	}
	c.inputRequests.Add(1)
}

// InputTimedOut records a suspension abandoned by the input timeout.
func (c *Collector) InputTimedOut() {
	if c == nil {
		return
	}
	c.inputTimeouts.Add(1)
}

// InputIgnored records an input_response that arrived with nothing
// pending.
func (c *Collector) InputIgnored() {
	if c == nil {
		return
	}
	c.inputIgnored.Add(1)
}

// InputRequests returns the total number of suspensions.
func (c *Collector) InputRequests() int64 {
	if c == nil {
		return 0
	}
	return c.inputRequests.Load()
}

// IgnoredInputs returns the number of dropped input_response messages.
func (c *Collector) IgnoredInputs() int64 {
	if c == nil {
		return 0
	}
	return c.inputIgnored.Load()
}

// ── One-shot metrics ─────────────────────────────────────────────────

// OneShotRun records one stateless execution.
func (c *Collector) OneShotRun() {
	if c == nil {
		return
	}
	c.oneShotRuns.Add(1)
}

// ── I/O metrics ──────────────────────────────────────────────────────

// BytesReceived records n bytes read from clients.
func (c *Collector) BytesReceived(n int64) {
	if c == nil {
		return
	}
	c.bytesIn.Add(n)
}

// BytesSent records n bytes written to clients.
func (c *Collector) BytesSent(n int64) {
	if c == nil {
		return
	}
	c.bytesOut.Add(n)
}

// TotalBytesIn returns total bytes received.
func (c *Collector) TotalBytesIn() int64 {
	if c == nil {
		return 0
	}
	return c.bytesIn.Load()
}

// TotalBytesOut returns total bytes sent.
func (c *Collector) TotalBytesOut() int64 {
	if c == nil {
		return 0
	}
	return c.bytesOut.Load()
}

// ── Error metrics ────────────────────────────────────────────────────

// RecordError increments the error counter and stores the message.
func (c *Collector) RecordError(msg string) {
	if c == nil {
		return
	}
	c.errorsTotal.Add(1)
	c.mu.Lock()
	c.lastError = time.Now()
	c.lastErrorMsg = msg
	c.mu.Unlock()
}

// ErrorCount returns the total number of errors recorded.
func (c *Collector) ErrorCount() int64 {
	if c == nil {
		return 0
	}
	return c.errorsTotal.Load()
}

// ── Snapshot ─────────────────────────────────────────────────────────

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Uptime           string `json:"uptime"`
	SessionsActive   int64  `json:"sessions_active"`
	SessionsTotal    int64  `json:"sessions_total"`
	Runs             int64  `json:"runs"`
	Compiles         int64  `json:"compiles"`
	Tests            int64  `json:"tests"`
	Unsupported      int64  `json:"unsupported"`
	Rejected         int64  `json:"rejected"`
	Malformed        int64  `json:"malformed"`
	InputRequests    int64  `json:"input_requests"`
	InputTimeouts    int64  `json:"input_timeouts"`
	InputIgnored     int64  `json:"input_ignored"`
	OneShotRuns      int64  `json:"oneshot_runs"`
	BytesIn          int64  `json:"bytes_in"`
	BytesOut         int64  `json:"bytes_out"`
	ErrorsTotal      int64  `json:"errors_total"`
	LastError        string `json:"last_error,omitempty"`
	LastErrorMessage string `json:"last_error_message,omitempty"`
}

// Snapshot returns a copy of all current metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		Uptime:         time.Since(c.startTime).Truncate(time.Second).String(),
		SessionsActive: c.sessionsActive.Load(),
		SessionsTotal:  c.sessionsTotal.Load(),
		Runs:           c.runs.Load(),
		Compiles:       c.compiles.Load(),
		Tests:          c.tests.Load(),
		Unsupported:    c.unsupported.Load(),
		Rejected:       c.rejected.Load(),
		Malformed:      c.malformed.Load(),
		InputRequests:  c.inputRequests.Load(),
		InputTimeouts:  c.inputTimeouts.Load(),
		InputIgnored:   c.inputIgnored.Load(),
		OneShotRuns:    c.oneShotRuns.Load(),
		BytesIn:        c.bytesIn.Load(),
		BytesOut:       c.bytesOut.Load(),
		ErrorsTotal:    c.errorsTotal.Load(),
	}
	if !c.lastError.IsZero() {
		s.LastError = c.lastError.Format(time.RFC3339)
		s.LastErrorMessage = c.lastErrorMsg
	}
	return s
}

// JSON returns the snapshot as an indented JSON string.
func (c *Collector) JSON() string {
	s := c.Snapshot()
	data, _ := json.MarshalIndent(s, "", "  ")
	return string(data)
}
