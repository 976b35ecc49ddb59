package oneshot

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"evald/internal/eval"
)

func TestEvalStdin(t *testing.T) {
	tests := []struct {
		name       string
		src        string
		wantOut    string
		wantErrOut string
		wantErr    bool
	}{
		{"prints", "print('hi'); print(1 + 2)", "hi\n3\n", "", false},
		{"no echo of expressions", "1 + 2", "", "", false},
		{"syntax error", "let = ;", "", "SyntaxError", true},
		{"runtime error", "print('before'); undefinedThing()", "before\n", "ReferenceError", true},
		{"input has no source", "input('name? ')", "", "EOFError", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out, errOut bytes.Buffer
			err := EvalStdin(context.Background(), eval.NewJS(), strings.NewReader(tt.src), &out, &errOut)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, eval.ErrEvaluation) {
				t.Errorf("err = %v, want an evaluation error", err)
			}
			if out.String() != tt.wantOut {
				t.Errorf("stdout = %q, want %q", out.String(), tt.wantOut)
			}
			if !strings.Contains(errOut.String(), tt.wantErrOut) {
				t.Errorf("stderr = %q, want it to contain %q", errOut.String(), tt.wantErrOut)
			}
		})
	}
}
