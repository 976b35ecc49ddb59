package eval

import (
	"strconv"

	"github.com/dop251/goja"
	"github.com/dop251/goja/ast"
)

// echoable reports whether prog ends in a bare expression whose value
// should be printed.  Calls to print or console.* already write their
// output and plain assignments are silent, as in an interactive shell.
func echoable(prog *ast.Program) bool {
	if len(prog.Body) == 0 {
		return false
	}
	stmt, ok := prog.Body[len(prog.Body)-1].(*ast.ExpressionStatement)
	if !ok {
		return false
	}
	switch e := stmt.Expression.(type) {
	case *ast.AssignExpression:
		return false
	case *ast.CallExpression:
		return !isOutputCall(e)
	}
	return true
}

func isOutputCall(call *ast.CallExpression) bool {
	switch callee := call.Callee.(type) {
	case *ast.Identifier:
		return callee.Name == "print"
	case *ast.DotExpression:
		if obj, ok := callee.Left.(*ast.Identifier); ok {
			return obj.Name == "console"
		}
	}
	return false
}

// repr renders v the way an interactive shell echoes it: strings are
// quoted, objects and arrays are shown as JSON.
func (ns *jsNamespace) repr(v goja.Value) string {
	switch {
	case v == nil || goja.IsUndefined(v):
		return "undefined"
	case goja.IsNull(v):
		return "null"
	}
	if s, ok := v.Export().(string); ok {
		return strconv.Quote(s)
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		return v.String()
	}
	if _, isFn := goja.AssertFunction(v); isFn {
		name := obj.Get("name")
		if name == nil || name.String() == "" {
			return "[Function (anonymous)]"
		}
		return "[Function: " + name.String() + "]"
	}
	switch obj.ClassName() {
	case "Error", "Date", "RegExp":
		return v.String()
	}
	if data, err := obj.MarshalJSON(); err == nil && string(data) != "" {
		return string(data)
	}
	return v.String()
}
