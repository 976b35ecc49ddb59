package eval

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"
)

var (
	heavyRule = strings.Repeat("=", 70)
	lightRule = strings.Repeat("-", 70)
)

// SuiteSummary totals one RunSuite call.
type SuiteSummary struct {
	Ran      int
	Failures int
	Errors   int
	Elapsed  time.Duration
	Results  []TestResult
}

// OK reports whether every case passed.
func (s SuiteSummary) OK() bool { return s.Failures == 0 && s.Errors == 0 }

// RunSuite runs cases in order and writes a verbose report to w: one
// "name ... status" line per case followed by the details of every
// failure and a totals footer.  A cancelled ctx stops the run; cases
// not yet started are not reported.
func RunSuite(ctx context.Context, cases []TestCase, w io.Writer) SuiteSummary {
	var sum SuiteSummary
	start := time.Now()

	for _, tc := range cases {
		if ctx.Err() != nil {
			break
		}
		res := tc.Run(ctx)
		sum.Results = append(sum.Results, res)
		sum.Ran++
		switch res.Status {
		case TestFail:
			sum.Failures++
		case TestError:
			sum.Errors++
		}
		fmt.Fprintf(w, "%s ... %s\n", res.Name, res.Status)
	}
	sum.Elapsed = time.Since(start)

	for _, res := range sum.Results {
		if res.Status == TestPass {
			continue
		}
		fmt.Fprintf(w, "\n%s\n%s: %s\n%s\n%s\n", heavyRule, res.Status, res.Name, lightRule, strings.TrimRight(res.Trace, "\n"))
	}

	fmt.Fprintf(w, "\n%s\nRan %d test%s in %.3fs\n\n", lightRule, sum.Ran, plural(sum.Ran), sum.Elapsed.Seconds())
	switch {
	case sum.Ran == 0:
		fmt.Fprintln(w, "NO TESTS RAN")
	case sum.OK():
		fmt.Fprintln(w, "OK")
	default:
		var parts []string
		if sum.Failures > 0 {
			parts = append(parts, fmt.Sprintf("failures=%d", sum.Failures))
		}
		if sum.Errors > 0 {
			parts = append(parts, fmt.Sprintf("errors=%d", sum.Errors))
		}
		fmt.Fprintf(w, "FAILED (%s)\n", strings.Join(parts, ", "))
	}
	return sum
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
