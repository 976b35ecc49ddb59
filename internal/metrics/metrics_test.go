package metrics

import (
	"encoding/json"
	"testing"
)

func TestCollector_Sessions(t *testing.T) {
	c := New()

	c.SessionOpened()
	c.SessionOpened()
	if c.ActiveSessions() != 2 {
		t.Errorf("active = %d, want 2", c.ActiveSessions())
	}

	c.SessionClosed()
	if c.ActiveSessions() != 1 {
		t.Errorf("active = %d, want 1", c.ActiveSessions())
	}
	if c.TotalSessions() != 2 {
		t.Errorf("total should remain 2, got %d", c.TotalSessions())
	}
}

func TestCollector_Actions(t *testing.T) {
	c := New()

	c.ActionStarted(ActionRun)
	c.ActionStarted(ActionRun)
	c.ActionStarted(ActionCompile)
	c.ActionStarted(ActionTest)
	c.ActionStarted("deploy")
	c.ActionRejected()

	runs, compiles, tests, unsupported := c.Actions()
	if runs != 2 || compiles != 1 || tests != 1 || unsupported != 1 {
		t.Errorf("actions = (%d, %d, %d, %d), want (2, 1, 1, 1)", runs, compiles, tests, unsupported)
	}
	if c.Rejected() != 1 {
		t.Errorf("rejected = %d, want 1", c.Rejected())
	}
}

func TestCollector_Suspensions(t *testing.T) {
	c := New()

	c.InputRequested()
	c.InputRequested()
	c.InputTimedOut()
	c.InputIgnored()

	if c.InputRequests() != 2 {
		t.Errorf("input requests = %d, want 2", c.InputRequests())
	}
	if c.IgnoredInputs() != 1 {
		t.Errorf("ignored = %d, want 1", c.IgnoredInputs())
	}
	if snap := c.Snapshot(); snap.InputTimeouts != 1 {
		t.Errorf("timeouts = %d, want 1", snap.InputTimeouts)
	}
}

func TestCollector_Bytes(t *testing.T) {
	c := New()

	c.BytesReceived(1024)
	c.BytesSent(512)
	c.BytesReceived(100)

	if c.TotalBytesIn() != 1124 {
		t.Errorf("bytes in = %d, want 1124", c.TotalBytesIn())
	}
	if c.TotalBytesOut() != 512 {
		t.Errorf("bytes out = %d, want 512", c.TotalBytesOut())
	}
}

func TestCollector_Snapshot(t *testing.T) {
	c := New()
	c.SessionOpened()
	c.OneShotRun()
	c.MessageMalformed()
	c.RecordError("test")

	snap := c.Snapshot()
	if snap.Malformed != 1 {
		t.Errorf("snap malformed = %d", snap.Malformed)
	}
	if snap.SessionsActive != 1 {
		t.Errorf("snap active = %d", snap.SessionsActive)
	}
	if snap.OneShotRuns != 1 {
		t.Errorf("snap oneshot = %d", snap.OneShotRuns)
	}
	if snap.ErrorsTotal != 1 || snap.LastErrorMessage != "test" {
		t.Errorf("snap errors = %d %q", snap.ErrorsTotal, snap.LastErrorMessage)
	}
}

func TestCollector_JSON(t *testing.T) {
	c := New()
	c.SessionOpened()
	c.BytesSent(42)

	var snap Snapshot
	if err := json.Unmarshal([]byte(c.JSON()), &snap); err != nil {
		t.Fatalf("JSON parse error: %v", err)
	}
	if snap.SessionsActive != 1 {
		t.Errorf("JSON active = %d", snap.SessionsActive)
	}
	if snap.BytesOut != 42 {
		t.Errorf("JSON bytes out = %d", snap.BytesOut)
	}
}

func TestNilCollector_NoOps(t *testing.T) {
	var c *Collector

	// None of these should panic.
	c.SessionOpened()
	c.SessionClosed()
	c.ActionStarted(ActionRun)
	c.ActionRejected()
	c.InputRequested()
	c.InputTimedOut()
	c.InputIgnored()
	c.MessageMalformed()
	c.OneShotRun()
	c.BytesReceived(100)
	c.BytesSent(100)
	c.RecordError("test")

	if c.ActiveSessions() != 0 || c.TotalBytesIn() != 0 || c.ErrorCount() != 0 || c.MalformedMessages() != 0 {
		t.Error("nil collector should return 0")
	}
	if snap := c.Snapshot(); snap.SessionsActive != 0 {
		t.Error("nil snapshot should be zero")
	}
	if c.JSON() == "" {
		t.Error("nil JSON should return valid JSON")
	}
}
