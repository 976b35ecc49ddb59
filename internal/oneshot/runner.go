// Package oneshot runs a script statelessly in a child process, for the
// POST /run endpoint.  Nothing survives between runs.
package oneshot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"evald/internal/metrics"
	"evald/internal/retry"
	"evald/util"
)

// EvalStdinFlag makes the evald binary act as its own child: read a
// script from stdin, evaluate it and exit.
const EvalStdinFlag = "--eval-stdin"

// DefaultTimeout bounds one run.
const DefaultTimeout = 5 * time.Second

// Runner launches Command with the script on stdin.
type Runner struct {
	Command []string
	Timeout time.Duration
	Breaker *retry.Breaker
	Metrics *metrics.Collector
	Logger  *util.Logger
}

// New returns a Runner for command.  An empty command re-executes the
// running binary with [EvalStdinFlag].
func New(command []string, timeout time.Duration) (*Runner, error) {
	if len(command) == 0 {
		self, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("locating evald binary: %w", err)
		}
		command = []string{self, EvalStdinFlag}
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Runner{
		Command: command,
		Timeout: timeout,
		Breaker: retry.NewBreaker(5, 30*time.Second),
		Logger:  util.NewLogger(0),
	}, nil
}

// Run executes code and returns what the client should see: stdout on
// success, "Error: "+stderr when anything was written to stderr.
func (r *Runner) Run(ctx context.Context, code string) string {
	r.Metrics.OneShotRun()

	var stdout, stderr bytes.Buffer
	var timedOut bool

	err := r.Breaker.Do(func() error {
		runCtx, cancel := context.WithTimeout(ctx, r.Timeout)
		defer cancel()

		cmd := exec.CommandContext(runCtx, r.Command[0], r.Command[1:]...)
		cmd.Stdin = strings.NewReader(code)
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
		cmd.WaitDelay = time.Second

		if err := cmd.Start(); err != nil {
			return err
		}
		err := cmd.Wait()
		if runCtx.Err() == context.DeadlineExceeded {
			timedOut = true
			return nil
		}
		var exitErr *exec.ExitError
		if err != nil && !errors.As(err, &exitErr) {
			return err
		}
		// A script that exits non-zero is a result, not a runner fault.
		return nil
	})

	switch {
	case err != nil:
		r.Logger.Warn("one-shot runner: %v", err)
		r.Metrics.RecordError(err.Error())
		return "Error: one-shot runner unavailable: " + err.Error()
	case timedOut:
		return fmt.Sprintf("Error: execution timed out after %v", r.Timeout)
	case stderr.Len() > 0:
		return "Error: " + stderr.String()
	}
	return stdout.String()
}
