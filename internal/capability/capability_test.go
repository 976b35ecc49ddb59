package capability

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"evald/internal/eval"
	"evald/internal/metrics"
	"evald/internal/protocol"
	"evald/internal/session"
)

// ── in-memory connection pair ────────────────────────────────────────

type chanConn struct {
	in     <-chan []byte
	out    chan<- []byte
	closed chan struct{}
	once   *sync.Once
}

func connPair() (*chanConn, *chanConn) {
	ab := make(chan []byte, 64)
	ba := make(chan []byte, 64)
	closed := make(chan struct{})
	once := &sync.Once{}
	return &chanConn{in: ba, out: ab, closed: closed, once: once},
		&chanConn{in: ab, out: ba, closed: closed, once: once}
}

func (c *chanConn) ReadMessage() ([]byte, error) {
	select {
	case data := <-c.in:
		return data, nil
	case <-c.closed:
		return nil, io.EOF
	}
}

func (c *chanConn) WriteMessage(data []byte) error {
	select {
	case <-c.closed:
		return io.ErrClosedPipe
	case c.out <- append([]byte(nil), data...):
		return nil
	}
}

func (c *chanConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// serve runs an Interactive session on one end and returns the other.
func serve(t *testing.T, m *metrics.Collector) *chanConn {
	t.Helper()
	server, client := connPair()
	ic := &Interactive{Options: session.Options{
		Evaluator:    eval.NewJS(),
		Metrics:      m,
		InputTimeout: 2 * time.Second,
	}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		ic.Handle(ctx, server) //nolint:errcheck
	}()
	t.Cleanup(func() {
		cancel()
		server.Close()
		<-done
	})
	return client
}

func plain() *bool { b := false; return &b }

func runConsole(t *testing.T, c *Console, conn session.Conn) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.Handle(ctx, conn)
}

// ── Interactive ──────────────────────────────────────────────────────

func TestInteractive_ServesAndCounts(t *testing.T) {
	m := metrics.New()
	conn := serve(t, m)

	conn.WriteMessage([]byte(`{"action":"run","code":"print('hi')"}`)) //nolint:errcheck
	got, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(got), ">> hi\n") {
		t.Errorf("reply = %q", got)
	}
	if m.ActiveSessions() != 1 {
		t.Errorf("ActiveSessions = %d, want 1", m.ActiveSessions())
	}
}

func TestInteractive_StartedHook(t *testing.T) {
	server, client := connPair()
	var seen *session.Session
	ic := &Interactive{
		Options: session.Options{Evaluator: eval.NewJS()},
		Started: func(s *session.Session) { seen = s },
	}
	client.Close()
	if err := ic.Handle(context.Background(), server); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if seen == nil || seen.ID() == "" {
		t.Fatal("Started should see the session")
	}
	if seen.State() != session.Closed {
		t.Errorf("state = %v, want closed", seen.State())
	}
}

// ── Console ──────────────────────────────────────────────────────────

func TestConsole_RequestsAnswerInput(t *testing.T) {
	conn := serve(t, nil)
	var out bytes.Buffer
	c := &Console{
		Requests: []*protocol.Request{{
			Action: protocol.ActionRun,
			Code:   "let n = input('n? ');\nprint(n * 2)",
		}},
		Stdin:  strings.NewReader("21\n"),
		Stdout: &out,
		Styled: plain(),
	}
	if err := runConsole(t, c, conn); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if got := out.String(); !strings.HasPrefix(got, "n? 42\n") {
		t.Errorf("output = %q", got)
	}
}

func TestConsole_SeveralRequests(t *testing.T) {
	conn := serve(t, nil)
	var out bytes.Buffer
	c := &Console{
		Requests: []*protocol.Request{
			{Action: protocol.ActionCompile, Code: "let x = 1"},
			{Action: protocol.ActionTest, Code: "function add(a, b) { return a + b }",
				Tests: "function testAdd() { assertEqual(add(2, 2), 4) }"},
		},
		Stdin:  strings.NewReader(""),
		Stdout: &out,
		Styled: plain(),
	}
	if err := runConsole(t, c, conn); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	got := out.String()
	for _, want := range []string{session.CompileSuccessful, "testAdd ... ok", "\nOK\n"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestConsole_RemoteFailure(t *testing.T) {
	tests := []struct {
		name string
		req  *protocol.Request
	}{
		{"runtime error", &protocol.Request{Action: protocol.ActionRun, Code: "throw new Error('x')"}},
		{"syntax error", &protocol.Request{Action: protocol.ActionCompile, Code: "let = ;"}},
		{"failing test", &protocol.Request{Action: protocol.ActionTest, Code: "var v = 1",
			Tests: "function testV() { assertEqual(v, 2) }"}},
		{"validation", &protocol.Request{Action: protocol.ActionTest, Code: "var v = 1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := serve(t, nil)
			c := &Console{
				Requests: []*protocol.Request{tt.req},
				Stdin:    strings.NewReader(""),
				Stdout:   io.Discard,
				Styled:   plain(),
			}
			if err := runConsole(t, c, conn); !errors.Is(err, ErrRemoteFailure) {
				t.Errorf("err = %v, want ErrRemoteFailure", err)
			}
		})
	}
}

func TestConsole_LineMode(t *testing.T) {
	conn := serve(t, nil)
	var out bytes.Buffer
	c := &Console{
		Stdin:  strings.NewReader("let a = 20\n\na + 22\nprint('done')\n"),
		Stdout: &out,
		Styled: plain(),
	}
	if err := runConsole(t, c, conn); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	got := out.String()
	if strings.Contains(got, linePrompt) {
		t.Errorf("unstyled console should not print the line prompt:\n%s", got)
	}
	for _, want := range []string{"42\n", "done\n"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestConsole_ServerGoesAway(t *testing.T) {
	server, client := connPair()
	go func() {
		server.ReadMessage() //nolint:errcheck
		server.Close()
	}()
	c := &Console{
		Requests: []*protocol.Request{{Action: protocol.ActionRun, Code: "1"}},
		Stdin:    strings.NewReader(""),
		Stdout:   io.Discard,
		Styled:   plain(),
	}
	err := runConsole(t, c, client)
	if err == nil || !strings.Contains(err.Error(), "closed the session") {
		t.Fatalf("err = %v", err)
	}
}

func TestConsole_StyledReply(t *testing.T) {
	styled := true
	var out bytes.Buffer
	tty := &terminal{out: &out, styled: styled}
	tty.reply("Runtime error: Error: x\n")
	if !strings.Contains(out.String(), "Runtime error: Error: x") {
		t.Errorf("styled reply lost its text: %q", out.String())
	}
}

func TestIsFailure(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"42\n", false},
		{session.CompileSuccessful + "\n", false},
		{"Error: session busy: run in progress (evaluating)", true},
		{"Runtime error: ReferenceError: x is not defined\n", true},
		{"SyntaxError: Unexpected token (line 1)\n", true},
		{"Validation error: missing required field(s): code, tests", true},
		{"Unsupported action: eval", true},
		{"before\nRuntime error: TypeError: boom\n", true},
		{"partial\nError: internal error: oops\n", true},
		{"no Error here\n", false},
		{"Errors seen: 0\n", false},
		{"Test pipeline error (code): boom\n", true},
		{"testA ... ok\n\n----\nRan 1 test in 0.000s\n\nOK\n", false},
		{"testA ... FAIL\n\n----\nRan 1 test in 0.000s\n\nFAILED (failures=1, errors=0)\n", true},
	}
	for _, tt := range tests {
		if got := isFailure(tt.text); got != tt.want {
			t.Errorf("isFailure(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}
