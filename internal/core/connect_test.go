package core

import (
	"bytes"
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"evald/internal/capability"
	"evald/internal/protocol"
	"evald/internal/retry"
	"evald/internal/transport"
	"evald/util"
)

func TestConnectMode_EndToEnd(t *testing.T) {
	base := startHTTP(t, newServe(t, nil))

	styled := false
	var out bytes.Buffer
	mode := &ConnectMode{
		Dialer: &transport.TCPDialer{Timeout: time.Second},
		Capability: &capability.Console{
			Requests: []*protocol.Request{{Action: protocol.ActionRun, Code: "print('hello from evald')"}},
			Stdin:    strings.NewReader(""),
			Stdout:   &out,
			Styled:   &styled,
		},
		URL:     wsURL(base),
		Timeout: 2 * time.Second,
		Policy:  retry.DialPolicy(1),
		Logger:  util.NewLogger(0),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := mode.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.HasPrefix(out.String(), "hello from evald\n") {
		t.Errorf("output = %q", out.String())
	}
}

func TestConnectMode_RetriesThenGivesUp(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	url := "ws://" + ln.Addr().String() + "/ws"
	ln.Close()

	var retries int
	mode := &ConnectMode{
		Dialer:     &transport.TCPDialer{Timeout: time.Second},
		Capability: &capability.Console{},
		URL:        url,
		Timeout:    time.Second,
		Policy: retry.Policy{
			Attempts: 3,
			Initial:  time.Millisecond,
			Max:      5 * time.Millisecond,
			OnRetry:  func(int, error, time.Duration) { retries++ },
		},
		Logger: util.NewLogger(0),
	}

	err = mode.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "gave up after 3 attempts") {
		t.Fatalf("err = %v", err)
	}
	if retries != 2 {
		t.Errorf("OnRetry called %d times, want 2", retries)
	}
}

func TestConnectMode_RemoteFailurePropagates(t *testing.T) {
	base := startHTTP(t, newServe(t, nil))
	styled := false
	mode := &ConnectMode{
		Dialer: &transport.TCPDialer{Timeout: time.Second},
		Capability: &capability.Console{
			Requests: []*protocol.Request{{Action: protocol.ActionRun, Code: "throw new TypeError('nope')"}},
			Stdin:    strings.NewReader(""),
			Stdout:   &bytes.Buffer{},
			Styled:   &styled,
		},
		URL:    wsURL(base),
		Policy: retry.DialPolicy(1),
		Logger: util.NewLogger(0),
	}
	if err := mode.Run(context.Background()); !errors.Is(err, capability.ErrRemoteFailure) {
		t.Fatalf("err = %v, want ErrRemoteFailure", err)
	}
}
