package capability

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"evald/internal/protocol"
	"evald/internal/session"
	"evald/util"
)

// ErrRemoteFailure is returned by [Console] in request mode when at
// least one reply reported an error or a failed test run.
var ErrRemoteFailure = errors.New("remote action failed")

var (
	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("81")).
			Bold(true)
	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))
	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("42"))
	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))
)

// failurePrefixes, followed by ":" or " (", mark reply lines that report a problem.
var failurePrefixes = []string{
	"Error", "Runtime error", "SyntaxError", "Validation error",
	"Test pipeline error", "Unsupported action",
}

// Console drives a remote session.  With Requests set it sends each in
// turn and waits for the reply; otherwise every stdin line is sent as a
// run.  An input_request is answered with the next stdin line.
type Console struct {
	Requests []*protocol.Request
	Stdin    io.Reader
	Stdout   io.Writer
	Logger   *util.Logger

	// Styled renders prompts and errors with colour.  Left nil it is
	// true when Stdout is a terminal.
	Styled *bool
}

const linePrompt = "evald> "

type frameOrErr struct {
	data []byte
	err  error
}

// Handle runs until the requests are done, stdin ends or the server
// goes away.
func (c *Console) Handle(ctx context.Context, conn session.Conn) error {
	tty := c.newTerminal()
	done := make(chan struct{})
	defer close(done)

	frames := make(chan frameOrErr, 1)
	go func() {
		for {
			data, err := conn.ReadMessage()
			select {
			case frames <- frameOrErr{data, err}:
			case <-done:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	ex := &exchange{conn: conn, frames: frames, term: tty, log: c.logger()}
	if len(c.Requests) > 0 {
		failed := false
		for _, req := range c.Requests {
			text, err := ex.roundTrip(ctx, req)
			if err != nil {
				return err
			}
			if isFailure(text) {
				failed = true
			}
		}
		if failed {
			return ErrRemoteFailure
		}
		return nil
	}

	for {
		tty.prompt(linePrompt)
		line, ok := tty.readLine()
		if !ok {
			return nil
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		if _, err := ex.roundTrip(ctx, &protocol.Request{Action: protocol.ActionRun, Code: line}); err != nil {
			return err
		}
	}
}

func (c *Console) logger() *util.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return util.NewLogger(0)
}

func (c *Console) newTerminal() *terminal {
	in, out := c.Stdin, c.Stdout
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stdout
	}
	styled := false
	if c.Styled != nil {
		styled = *c.Styled
	} else if f, ok := out.(*os.File); ok {
		styled = term.IsTerminal(int(f.Fd()))
	}
	return &terminal{in: bufio.NewScanner(in), out: out, styled: styled}
}

// ── exchange ─────────────────────────────────────────────────────────

type exchange struct {
	conn   session.Conn
	frames <-chan frameOrErr
	term   *terminal
	log    *util.Logger
}

// roundTrip sends req and relays frames until its reply arrives.
func (e *exchange) roundTrip(ctx context.Context, req *protocol.Request) (string, error) {
	data, err := protocol.Encode(req)
	if err != nil {
		return "", err
	}
	if err := e.conn.WriteMessage(data); err != nil {
		return "", fmt.Errorf("sending %s: %w", req.Action, err)
	}
	e.log.Debug("sent %s (%d bytes)", req.Action, len(data))

	for {
		var f frameOrErr
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case f = <-e.frames:
		}
		if f.err != nil {
			if util.IsHarmless(f.err) {
				return "", fmt.Errorf("server closed the session before replying to %s", req.Action)
			}
			return "", f.err
		}

		frame := protocol.ParseServerFrame(f.data)
		switch frame.Kind {
		case protocol.FrameReply:
			e.term.reply(frame.Text)
			return frame.Text, nil
		case protocol.FrameInputRequest:
			e.term.prompt(frame.Prompt)
			answer, ok := e.term.readLine()
			if !ok {
				e.log.Verbose("stdin closed while input was requested")
			}
			if err := e.conn.WriteMessage(protocol.InputResponse(answer)); err != nil {
				return "", fmt.Errorf("answering input request: %w", err)
			}
		default:
			e.log.Debug("unrecognised frame: %q", frame.Text)
			e.term.write(frame.Text + "\n")
		}
	}
}

// ── terminal ─────────────────────────────────────────────────────────

type terminal struct {
	in     *bufio.Scanner
	out    io.Writer
	styled bool
}

func (t *terminal) readLine() (string, bool) {
	if !t.in.Scan() {
		return "", false
	}
	return t.in.Text(), true
}

func (t *terminal) write(s string) { fmt.Fprint(t.out, s) }

func (t *terminal) prompt(p string) {
	if !t.styled {
		if p != linePrompt {
			t.write(p)
		}
		return
	}
	t.write(promptStyle.Render(p))
}

func (t *terminal) reply(text string) {
	body := strings.TrimRight(text, "\n")
	if t.styled {
		switch {
		case isFailure(text):
			body = errorStyle.Render(body)
		case strings.HasSuffix(body, "\nOK"), body == session.CompileSuccessful:
			body = okStyle.Render(body)
		case body == session.NoteNoMain:
			body = dimStyle.Render(body)
		}
	}
	if body != "" {
		t.write(body + "\n")
	}
}

// isFailure reports whether any line of a reply starts with a failure
// prefix, or a test summary says the suite failed.
func isFailure(text string) bool {
	for _, line := range strings.Split(text, "\n") {
		for _, p := range failurePrefixes {
			if strings.HasPrefix(line, p+":") || strings.HasPrefix(line, p+" (") {
				return true
			}
		}
	}
	return strings.Contains(text, "\nFAILED (") || strings.Contains(text, "\nNO TESTS RAN")
}
