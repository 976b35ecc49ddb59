// Package eval runs user scripts.  The session engine only sees the
// [Evaluator] and [Namespace] interfaces; [JS] implements them on top of
// the goja JavaScript runtime.
package eval

import (
	"context"
	"io"
	"time"
)

// InputFunc answers a script's input(prompt) call.  It blocks until an
// answer is available or ctx is done.
type InputFunc func(ctx context.Context, prompt string) (string, error)

// Evaluator checks sources, creates namespaces and finds test cases.
type Evaluator interface {
	// CompileCheck parses source without running it.  A failure is a
	// *SyntaxError.  Calling it twice on the same source gives the same
	// verdict.
	CompileCheck(source string) error

	// NewNamespace returns an empty namespace with the builtins
	// installed.  Its input() fails until SetInput is called.
	NewNamespace() Namespace

	// DiscoverTests lists ns's test cases in the order they should run.
	DiscoverTests(ns Namespace) ([]TestCase, error)
}

// Namespace is the set of bindings scripts read and write.  Bindings
// persist across Exec calls.  A Namespace must only be used from one
// goroutine at a time.
type Namespace interface {
	// SetOutput installs the writers print and console use and returns
	// the previous ones.
	SetOutput(stdout, stderr io.Writer) (prevOut, prevErr io.Writer)

	// SetInput binds input() to fn.  A nil fn makes input() throw
	// EOFError.
	SetInput(fn InputFunc)

	// Exec runs source.  Errors raised by the script are returned as
	// *RuntimeError (or *SyntaxError when source does not parse).
	Exec(ctx context.Context, source string, opts ExecOptions) (ExecReport, error)

	// CallEntryPoint calls the zero-argument function bound to name and
	// waits for it when it returns a promise.  It reports false when no
	// such function exists.
	CallEntryPoint(ctx context.Context, name string) (bool, error)
}

// ExecOptions tunes one Exec call.
type ExecOptions struct {
	// Echo prints the value of a trailing bare expression.
	Echo bool
	// Filename names the source in stack traces (default "<input>").
	Filename string
}

// ExecReport describes what Exec did besides running the code.
type ExecReport struct {
	// Echoed is set when a trailing expression value was printed.
	Echoed bool
	// EchoSkipped is set when Echo was requested but the source could
	// not be analysed, so it ran without echo.  SkipReason says why.
	EchoSkipped bool
	SkipReason  string
}

// TestStatus is the outcome of one test case.
type TestStatus int

const (
	TestPass TestStatus = iota
	TestFail
	TestError
)

func (s TestStatus) String() string {
	switch s {
	case TestPass:
		return "ok"
	case TestFail:
		return "FAIL"
	default:
		return "ERROR"
	}
}

// TestResult is what running a TestCase produced.
type TestResult struct {
	Name     string
	Status   TestStatus
	Message  string // first line of the failure
	Trace    string // full diagnostic, empty on success
	Duration time.Duration
}

// TestCase is one discovered test.
type TestCase interface {
	Name() string
	Run(ctx context.Context) TestResult
}
