// Package session is the per-connection execution engine.
//
// A Session owns one persistent namespace and serves the requests of a
// single client.  Two goroutines cooperate: the receive loop started by
// Serve, and at most one evaluation at a time.  While an evaluation is
// parked on input() the receive loop keeps reading, so the answer can
// arrive on the same connection.
package session

import (
	"context"
	"fmt"
	"io"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"evald/internal/capture"
	apperrors "evald/internal/errors"
	"evald/internal/eval"
	"evald/internal/history"
	"evald/internal/metrics"
	"evald/internal/protocol"
	"evald/util"
)

// State is a session's lifecycle position.
type State int

const (
	Idle State = iota
	Evaluating
	AwaitingInput
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Evaluating:
		return "evaluating"
	case AwaitingInput:
		return "awaiting input"
	case Closed:
		return "closed"
	}
	return "unknown"
}

// Messages sent back inside replies.
const (
	NoteNoMain        = "Note: no main() function defined"
	CompileSuccessful = "Compilation successful"
)

// Conn is the message side of a client connection.  WriteMessage must
// be safe to call from several goroutines.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
}

// Recorder stores completed actions.
type Recorder interface {
	Record(ctx context.Context, e *history.Entry) error
}

// Options configures a Session.  Evaluator is required.
type Options struct {
	Evaluator eval.Evaluator
	Logger    *util.Logger
	Metrics   *metrics.Collector
	History   Recorder

	// InputTimeout bounds one wait for input(); 0 waits forever.
	InputTimeout time.Duration
	// ExecTimeout bounds a whole action; 0 means no limit.
	ExecTimeout time.Duration
	// MaxOutput caps the captured output of one action; 0 means no cap.
	MaxOutput int
}

// Session serves one client connection.
type Session struct {
	id    string
	conn  Conn
	opts  Options
	log   *util.Logger
	ns    eval.Namespace // only touched by the evaluation goroutine
	input *inputChannel

	mu      sync.Mutex
	state   State
	current string // action in flight

	wg sync.WaitGroup
}

// New creates an idle session for conn.
func New(conn Conn, opts Options) *Session {
	if opts.Logger == nil {
		opts.Logger = util.NewLogger(0)
	}
	s := &Session{
		id:   uuid.NewString(),
		conn: conn,
		opts: opts,
	}
	s.log = opts.Logger.WithPrefix("session=" + s.id)
	s.ns = opts.Evaluator.NewNamespace()
	s.input = &inputChannel{
		send:    s.send,
		timeout: opts.InputTimeout,
		park:    s.parked,
		metrics: opts.Metrics,
	}
	return s
}

// ID returns the session's identifier.
func (s *Session) ID() string { return s.id }

// Logger is the session's logger, tagged with its ID.
func (s *Session) Logger() *util.Logger { return s.log }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// PendingPrompt returns the prompt of the outstanding input request.
func (s *Session) PendingPrompt() (string, bool) { return s.input.prompt() }

// Wait blocks until the evaluation in flight, if any, has replied.
func (s *Session) Wait() { s.wg.Wait() }

// Serve reads and handles frames until the connection fails or ctx is
// done.  A clean close by the peer returns nil.  On return any parked
// input() is released, the running script is interrupted and the
// session is Closed.
func (s *Session) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancelCause(ctx)
	s.opts.Metrics.SessionOpened()
	s.log.Verbose("opened")

	stop := make(chan struct{})
	if c, ok := s.conn.(io.Closer); ok {
		go func() {
			select {
			case <-ctx.Done():
				c.Close()
			case <-stop:
			}
		}()
	}

	defer func() {
		close(stop)
		cancel(apperrors.ErrSessionClosed)
		s.wg.Wait()
		s.setState(Closed)
		s.opts.Metrics.SessionClosed()
		s.log.Verbose("closed")
	}()

	for {
		data, err := s.conn.ReadMessage()
		if err != nil {
			if util.IsHarmless(err) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("session %s: read: %w", s.id, err)
		}
		s.opts.Metrics.BytesReceived(int64(len(data)))

		req, err := protocol.Decode(data)
		if err != nil {
			s.log.Verbose("bad message: %v", err)
			if apperrors.IsProtocol(err) {
				s.opts.Metrics.MessageMalformed()
			}
			s.opts.Metrics.RecordError(err.Error())
			s.sendf("Error: %v", err)
			continue
		}
		s.Handle(ctx, req)
	}
}

// Handle dispatches one decoded request.  Evaluations run on their own
// goroutine and reply when done; Handle itself never blocks on them.
func (s *Session) Handle(ctx context.Context, req *protocol.Request) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic handling %s: %v", req.Action, r)
			s.log.Debug("%s", debug.Stack())
			s.opts.Metrics.RecordError(fmt.Sprint(r))
			s.sendf("Error: internal error: %v", r)
		}
	}()

	switch {
	case req.Action == protocol.ActionInputResponse:
		if !s.input.resolve(req.Answer()) {
			s.log.Verbose("input_response ignored: no input pending")
			s.opts.Metrics.InputIgnored()
		}

	case req.IsEvaluation():
		if busy, st, action := s.begin(req.Action); busy {
			s.log.Verbose("rejected %s: %s is %s", req.Action, action, st)
			s.opts.Metrics.ActionRejected()
			s.sendf("Error: %v: %s in progress (%s)", apperrors.ErrSessionBusy, action, st)
			return
		}
		s.opts.Metrics.ActionStarted(req.Action)
		s.wg.Add(1)
		go s.evaluate(ctx, req)

	default:
		s.opts.Metrics.ActionStarted(req.Action)
		s.sendf("Unsupported action: %s", req.Action)
	}
}

// begin moves Idle to Evaluating.  When the session is not idle it
// reports busy along with what it is doing.
func (s *Session) begin(action string) (busy bool, st State, current string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Idle {
		return true, s.state, s.current
	}
	s.state = Evaluating
	s.current = action
	return false, Evaluating, action
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Session) parked(waiting bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Closed {
		return
	}
	if waiting {
		s.state = AwaitingInput
	} else {
		s.state = Evaluating
	}
}

// finish returns an evaluating session to Idle.
func (s *Session) finish() {
	s.mu.Lock()
	if s.state != Closed {
		s.state = Idle
	}
	s.current = ""
	s.mu.Unlock()
}

// ── Evaluation ───────────────────────────────────────────────────────

func (s *Session) evaluate(ctx context.Context, req *protocol.Request) {
	defer s.wg.Done()

	log := s.log.WithPrefix("action=" + req.Action)
	start := time.Now()
	var output string

	defer func() {
		if r := recover(); r != nil {
			log.Error("panic: %v", r)
			log.Debug("%s", debug.Stack())
			s.opts.Metrics.RecordError(fmt.Sprint(r))
			output = fmt.Sprintf("Error: internal error: %v\n", r)
		}
		elapsed := time.Since(start)
		s.finish()
		s.send(protocol.EncodeReply(output))
		log.Verbose("done in %v (%d bytes)", elapsed.Round(time.Microsecond), len(output))
		s.record(req, output, elapsed)
	}()

	if s.opts.ExecTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.ExecTimeout)
		defer cancel()
	}

	switch req.Action {
	case protocol.ActionRun:
		output = s.run(ctx, log, req.Code)
	case protocol.ActionCompile:
		output = s.compile(ctx, req.Code)
	case protocol.ActionTest:
		output = s.test(ctx, req.Code, req.Tests)
	}
}

// run executes code in the persistent namespace and then calls main().
func (s *Session) run(ctx context.Context, log *util.Logger, code string) string {
	if err := s.opts.Evaluator.CompileCheck(code); err != nil {
		return describe(err) + "\n"
	}

	s.ns.SetInput(s.input.request)
	scope := capture.Open(s.ns, s.opts.MaxOutput)
	defer scope.Close()

	report, err := s.ns.Exec(ctx, code, eval.ExecOptions{Echo: true})
	if report.EchoSkipped {
		log.Verbose("trailing expression not echoed: %s", report.SkipReason)
	}
	if err != nil {
		fmt.Fprintln(scope.Stdout(), describe(err))
		return scope.Close()
	}

	found, err := s.ns.CallEntryPoint(ctx, "main")
	switch {
	case err != nil:
		fmt.Fprintln(scope.Stdout(), describe(err))
	case !found:
		fmt.Fprintln(scope.Stdout(), NoteNoMain)
	}
	return scope.Close()
}

// compile checks code and runs it once in a throwaway namespace.
func (s *Session) compile(ctx context.Context, code string) string {
	if err := s.opts.Evaluator.CompileCheck(code); err != nil {
		return describe(err) + "\n"
	}

	ns := s.opts.Evaluator.NewNamespace()
	scope := capture.Open(ns, s.opts.MaxOutput)
	defer scope.Close()

	if _, err := ns.Exec(ctx, code, eval.ExecOptions{}); err != nil {
		fmt.Fprintln(scope.Stdout(), describe(err))
	} else {
		fmt.Fprintln(scope.Stdout(), CompileSuccessful)
	}
	return scope.Close()
}

// test loads code then tests into a fresh namespace and runs the
// discovered cases.
func (s *Session) test(ctx context.Context, code, tests string) string {
	var missing []string
	if strings.TrimSpace(code) == "" {
		missing = append(missing, "code")
	}
	if strings.TrimSpace(tests) == "" {
		missing = append(missing, "tests")
	}
	if len(missing) > 0 {
		return "Validation error: missing required field(s): " + strings.Join(missing, ", ") + "\n"
	}

	ns := s.opts.Evaluator.NewNamespace()
	scope := capture.Open(ns, s.opts.MaxOutput)
	defer scope.Close()

	fail := func(stage string, err error) string {
		fmt.Fprintf(scope.Stdout(), "Test pipeline error (%s): %v\n%s\n", stage, err, trace(err))
		return scope.Close()
	}

	if _, err := ns.Exec(ctx, code, eval.ExecOptions{Filename: "<code>"}); err != nil {
		return fail("code", err)
	}
	if _, err := ns.Exec(ctx, tests, eval.ExecOptions{Filename: "<tests>"}); err != nil {
		return fail("tests", err)
	}
	cases, err := s.opts.Evaluator.DiscoverTests(ns)
	if err != nil {
		return fail("discover", err)
	}
	eval.RunSuite(ctx, cases, scope.Stdout())
	return scope.Close()
}

func (s *Session) record(req *protocol.Request, output string, elapsed time.Duration) {
	if s.opts.History == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := s.opts.History.Record(ctx, &history.Entry{
		SessionID: s.id,
		Action:    req.Action,
		Code:      req.Code,
		Tests:     req.Tests,
		Output:    output,
		Duration:  elapsed,
	})
	if err != nil {
		s.log.Warn("history: %v", err)
	}
}

// ── Output ───────────────────────────────────────────────────────────

func (s *Session) send(data []byte) error {
	if err := s.conn.WriteMessage(data); err != nil {
		if !util.IsHarmless(err) {
			s.log.Verbose("write: %v", err)
		}
		return err
	}
	s.opts.Metrics.BytesSent(int64(len(data)))
	return nil
}

func (s *Session) sendf(format string, args ...interface{}) {
	s.send(protocol.Replyf(format, args...))
}

// describe renders an evaluation failure as a reply line.
func describe(err error) string {
	var se *eval.SyntaxError
	if apperrors.As(err, &se) {
		return se.Error()
	}
	var re *eval.RuntimeError
	if apperrors.As(err, &re) {
		return "Runtime error: " + re.Error()
	}
	return "Error: " + err.Error()
}

// trace returns the longest diagnostic available for err.
func trace(err error) string {
	var re *eval.RuntimeError
	if apperrors.As(err, &re) && re.Trace != "" {
		return strings.TrimRight(re.Trace, "\n")
	}
	return err.Error()
}
