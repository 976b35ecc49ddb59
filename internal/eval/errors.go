package eval

import (
	"errors"
	"fmt"
)

// ErrEvaluation matches every error raised by user code, so callers can
// tell a script failure from an engine failure with errors.Is.
var ErrEvaluation = errors.New("evaluation error")

// SyntaxError is source that does not parse.
type SyntaxError struct {
	Message string
	// Line and Column are 1-based; zero means unknown.
	Line   int
	Column int
}

func (e *SyntaxError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("SyntaxError: %s (line %d)", e.Message, e.Line)
	}
	return "SyntaxError: " + e.Message
}

// Is reports whether target is ErrEvaluation.
func (e *SyntaxError) Is(target error) bool { return target == ErrEvaluation }

// RuntimeError is an exception thrown while a script ran.
type RuntimeError struct {
	// Kind is the thrown value's name, such as TypeError or
	// InputTimeout.
	Kind    string
	Message string
	// Trace is the exception with its JavaScript stack.
	Trace string
}

func (e *RuntimeError) Error() string {
	if e.Message == "" {
		return e.Kind
	}
	return e.Kind + ": " + e.Message
}

// Is reports whether target is ErrEvaluation.
func (e *RuntimeError) Is(target error) bool { return target == ErrEvaluation }
