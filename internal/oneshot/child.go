package oneshot

import (
	"context"
	"fmt"
	"io"

	"evald/internal/eval"
)

// EvalStdin is the child side of a run: evaluate the script read from
// in within a fresh namespace.  Errors go to stderr and are returned so
// the process can exit non-zero.
func EvalStdin(ctx context.Context, ev eval.Evaluator, in io.Reader, stdout, stderr io.Writer) error {
	src, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("reading script: %w", err)
	}

	if err := ev.CompileCheck(string(src)); err != nil {
		fmt.Fprintln(stderr, err)
		return err
	}

	ns := ev.NewNamespace()
	ns.SetOutput(stdout, stderr)
	if _, err := ns.Exec(ctx, string(src), eval.ExecOptions{Filename: "<stdin>"}); err != nil {
		fmt.Fprintln(stderr, err)
		return err
	}
	return nil
}
