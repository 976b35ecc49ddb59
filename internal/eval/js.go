package eval

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/dop251/goja"
	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/parser"

	apperrors "evald/internal/errors"
)

const defaultFilename = "<input>"

// DefaultMaxCallStackSize is the call depth past which a script fails
// with a RangeError.
const DefaultMaxCallStackSize = 10000

// JS evaluates JavaScript with goja.  Each namespace is its own
// goja.Runtime.
type JS struct {
	// MaxCallStackSize bounds recursion depth.  0 means
	// DefaultMaxCallStackSize.
	MaxCallStackSize int
}

// NewJS returns a JavaScript evaluator with the default call depth.
func NewJS() *JS { return &JS{MaxCallStackSize: DefaultMaxCallStackSize} }

// CompileCheck parses and compiles source without running it.
func (j *JS) CompileCheck(source string) error {
	prog, err := parse(defaultFilename, source)
	if err != nil {
		return err
	}
	if _, err := goja.CompileAST(prog, false); err != nil {
		return syntaxFromCompile(err)
	}
	return nil
}

// NewNamespace creates a runtime with print, console, input and the
// assertion helpers installed.
func (j *JS) NewNamespace() Namespace {
	vm := goja.New()
	depth := j.MaxCallStackSize
	if depth <= 0 {
		depth = DefaultMaxCallStackSize
	}
	vm.SetMaxCallStackSize(depth)
	ns := &jsNamespace{vm: vm, stdout: io.Discard, stderr: io.Discard, ctx: context.Background()}
	ns.install()
	return ns
}

// DiscoverTests returns the global functions whose names start with
// "test", sorted by name.
func (j *JS) DiscoverTests(n Namespace) ([]TestCase, error) {
	ns, ok := n.(*jsNamespace)
	if !ok {
		return nil, fmt.Errorf("discover tests: unsupported namespace %T", n)
	}
	var names []string
	for _, key := range ns.vm.GlobalObject().Keys() {
		if !strings.HasPrefix(key, "test") {
			continue
		}
		if _, isFn := goja.AssertFunction(ns.vm.Get(key)); isFn {
			names = append(names, key)
		}
	}
	sort.Strings(names)

	cases := make([]TestCase, len(names))
	for i, name := range names {
		cases[i] = &jsTest{ns: ns, name: name}
	}
	return cases, nil
}

// ── Namespace ────────────────────────────────────────────────────────

type jsNamespace struct {
	vm     *goja.Runtime
	stdout io.Writer
	stderr io.Writer
	input  InputFunc
	ctx    context.Context // context of the call in progress
}

func (ns *jsNamespace) SetOutput(stdout, stderr io.Writer) (io.Writer, io.Writer) {
	prevOut, prevErr := ns.stdout, ns.stderr
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}
	ns.stdout, ns.stderr = stdout, stderr
	return prevOut, prevErr
}

func (ns *jsNamespace) SetInput(fn InputFunc) { ns.input = fn }

func (ns *jsNamespace) Exec(ctx context.Context, source string, opts ExecOptions) (ExecReport, error) {
	var report ExecReport
	name := opts.Filename
	if name == "" {
		name = defaultFilename
	}

	release := ns.enter(ctx)
	defer release()

	prog, perr := parse(name, source)
	if perr != nil {
		// Let the runtime report the problem the way it sees it.
		if opts.Echo {
			report.EchoSkipped = true
			report.SkipReason = perr.Error()
		}
		_, err := ns.vm.RunScript(name, source)
		return report, ns.convert(err)
	}

	compiled, err := goja.CompileAST(prog, false)
	if err != nil {
		return report, syntaxFromCompile(err)
	}
	echo := opts.Echo && echoable(prog)

	val, err := ns.vm.RunProgram(compiled)
	if err != nil {
		return report, ns.convert(err)
	}
	if echo && val != nil && !goja.IsUndefined(val) {
		fmt.Fprintln(ns.stdout, ns.repr(val))
		report.Echoed = true
	}
	return report, nil
}

func (ns *jsNamespace) CallEntryPoint(ctx context.Context, name string) (bool, error) {
	v := ns.vm.Get(name)
	if v == nil || goja.IsUndefined(v) {
		return false, nil
	}
	fn, ok := goja.AssertFunction(v)
	if !ok {
		return false, nil
	}
	if arity := v.ToObject(ns.vm).Get("length"); arity != nil && arity.ToInteger() != 0 {
		return false, nil
	}

	release := ns.enter(ctx)
	defer release()

	res, err := fn(goja.Undefined())
	if err != nil {
		return true, ns.convert(err)
	}
	return true, ns.settle(res)
}

// settle unwraps a promise returned by an async function.  goja runs
// pending jobs before a top-level call returns, so a promise that is
// still pending here can never settle.
func (ns *jsNamespace) settle(res goja.Value) error {
	if res == nil {
		return nil
	}
	p, ok := res.Export().(*goja.Promise)
	if !ok {
		return nil
	}
	switch p.State() {
	case goja.PromiseStateFulfilled:
		return nil
	case goja.PromiseStateRejected:
		return ns.fromValue(p.Result(), "")
	default:
		return &RuntimeError{Kind: "Error", Message: "returned promise never settled"}
	}
}

// enter makes ctx the context of the call in progress and interrupts
// the runtime when it is done.  The returned func undoes both.
func (ns *jsNamespace) enter(ctx context.Context) func() {
	prev := ns.ctx
	ns.ctx = ctx

	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		select {
		case <-ctx.Done():
			ns.vm.Interrupt(ctx.Err())
		case <-done:
		}
	}()
	return func() {
		close(done)
		<-exited
		ns.vm.ClearInterrupt()
		ns.ctx = prev
	}
}

// ── Builtins ─────────────────────────────────────────────────────────

func (ns *jsNamespace) install() {
	vm := ns.vm
	if _, err := vm.RunScript("<prelude>", prelude); err != nil {
		panic(fmt.Sprintf("eval: prelude failed: %v", err))
	}

	toStdout := func(call goja.FunctionCall) goja.Value {
		ns.writeArgs(ns.stdout, call.Arguments)
		return goja.Undefined()
	}
	toStderr := func(call goja.FunctionCall) goja.Value {
		ns.writeArgs(ns.stderr, call.Arguments)
		return goja.Undefined()
	}

	console := vm.NewObject()
	for _, m := range []string{"log", "info", "debug"} {
		_ = console.Set(m, toStdout)
	}
	for _, m := range []string{"error", "warn"} {
		_ = console.Set(m, toStderr)
	}

	hidden := map[string]interface{}{
		"print":   toStdout,
		"console": console,
		"input":   ns.readInput,
	}
	global := vm.GlobalObject()
	for name, v := range hidden {
		if err := global.DefineDataProperty(name, vm.ToValue(v), goja.FLAG_TRUE, goja.FLAG_TRUE, goja.FLAG_FALSE); err != nil {
			panic(fmt.Sprintf("eval: install %s: %v", name, err))
		}
	}
}

func (ns *jsNamespace) readInput(call goja.FunctionCall) goja.Value {
	prompt := ""
	if arg := call.Argument(0); !goja.IsUndefined(arg) && !goja.IsNull(arg) {
		prompt = arg.String()
	}
	if ns.input == nil {
		panic(ns.newError("EOFError", "EOF when reading a line"))
	}
	answer, err := ns.input(ns.ctx, prompt)
	if err != nil {
		if errors.Is(err, apperrors.ErrInputTimeout) {
			panic(ns.newError("InputTimeout", err.Error()))
		}
		if errors.Is(err, context.DeadlineExceeded) {
			// Uncatchable: the runtime stops before the next instruction.
			ns.vm.Interrupt(context.DeadlineExceeded)
			return goja.Undefined()
		}
		panic(ns.newError("EOFError", err.Error()))
	}
	return ns.vm.ToValue(answer)
}

func (ns *jsNamespace) writeArgs(w io.Writer, args []goja.Value) {
	parts := make([]string, len(args))
	for i, a := range args {
		if s, ok := a.Export().(string); ok {
			parts[i] = s
		} else {
			parts[i] = ns.repr(a)
		}
	}
	fmt.Fprintln(w, strings.Join(parts, " "))
}

// newError builds an instance of one of the prelude's error classes.
func (ns *jsNamespace) newError(class, msg string) goja.Value {
	ctor := ns.vm.Get(class)
	if ctor != nil {
		if obj, err := ns.vm.New(ctor, ns.vm.ToValue(msg)); err == nil {
			return obj
		}
	}
	obj := ns.vm.NewGoError(errors.New(msg))
	_ = obj.Set("name", class)
	return obj
}

// ── Errors ───────────────────────────────────────────────────────────

func parse(name, source string) (*ast.Program, error) {
	prog, err := parser.ParseFile(nil, name, source, 0, parser.WithDisableSourceMaps)
	if err == nil {
		return prog, nil
	}
	var list parser.ErrorList
	if errors.As(err, &list) && len(list) > 0 {
		first := list[0]
		return nil, &SyntaxError{Message: first.Message, Line: first.Position.Line, Column: first.Position.Column}
	}
	var single *parser.Error
	if errors.As(err, &single) {
		return nil, &SyntaxError{Message: single.Message, Line: single.Position.Line, Column: single.Position.Column}
	}
	return nil, &SyntaxError{Message: err.Error()}
}

func syntaxFromCompile(err error) error {
	var se *goja.CompilerSyntaxError
	if errors.As(err, &se) {
		out := &SyntaxError{Message: se.Message}
		if se.File != nil {
			pos := se.File.Position(se.Offset)
			out.Line, out.Column = pos.Line, pos.Column
		}
		return out
	}
	return &SyntaxError{Message: err.Error()}
}

// convert maps a goja error to a *RuntimeError or *SyntaxError.
func (ns *jsNamespace) convert(err error) error {
	if err == nil {
		return nil
	}
	var ie *goja.InterruptedError
	if errors.As(err, &ie) {
		msg := fmt.Sprint(ie.Value())
		if cause, ok := ie.Value().(error); ok {
			msg = cause.Error()
		}
		return &RuntimeError{Kind: "Interrupted", Message: msg, Trace: ie.String()}
	}
	var so *goja.StackOverflowError
	if errors.As(err, &so) {
		return &RuntimeError{Kind: "RangeError", Message: "Maximum call stack size exceeded", Trace: so.String()}
	}
	var ex *goja.Exception
	if errors.As(err, &ex) {
		return ns.fromValue(ex.Value(), ex.String())
	}
	var cse *goja.CompilerSyntaxError
	if errors.As(err, &cse) {
		return syntaxFromCompile(err)
	}
	return &RuntimeError{Kind: "InternalError", Message: err.Error(), Trace: err.Error()}
}

// fromValue describes a thrown JavaScript value.
func (ns *jsNamespace) fromValue(v goja.Value, trace string) error {
	re := &RuntimeError{Kind: "Error", Trace: trace}
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		re.Message = "uncaught " + fmt.Sprint(v)
	} else if obj, ok := v.(*goja.Object); ok {
		if name := obj.Get("name"); name != nil && !goja.IsUndefined(name) {
			re.Kind = name.String()
		}
		if msg := obj.Get("message"); msg != nil && !goja.IsUndefined(msg) {
			re.Message = msg.String()
		} else {
			re.Message = ns.repr(v)
		}
		if re.Trace == "" {
			if stack := obj.Get("stack"); stack != nil && !goja.IsUndefined(stack) {
				re.Trace = stack.String()
			}
		}
	} else {
		re.Message = ns.repr(v)
	}
	if re.Trace == "" {
		re.Trace = re.Error()
	}
	return re
}

// ── Tests ────────────────────────────────────────────────────────────

type jsTest struct {
	ns   *jsNamespace
	name string
}

func (t *jsTest) Name() string { return t.name }

func (t *jsTest) Run(ctx context.Context) TestResult {
	res := TestResult{Name: t.name}
	start := time.Now()

	fn, ok := goja.AssertFunction(t.ns.vm.Get(t.name))
	if !ok {
		res.Status = TestError
		res.Message = t.name + " is no longer a function"
		res.Trace = res.Message
		return res
	}

	release := t.ns.enter(ctx)
	out, err := fn(goja.Undefined())
	if err == nil {
		err = t.ns.settle(out)
	} else {
		err = t.ns.convert(err)
	}
	release()

	res.Duration = time.Since(start)
	if err == nil {
		res.Status = TestPass
		return res
	}
	res.Status = TestError
	res.Message = err.Error()
	res.Trace = err.Error()
	var re *RuntimeError
	if errors.As(err, &re) {
		if re.Kind == "AssertionError" {
			res.Status = TestFail
		}
		res.Trace = re.Trace
	}
	return res
}
