package script

import (
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
)

// Eval evaluates an HCL expression against the namespace. file, line and
// column locate src for error messages.
func (c *Context) Eval(src, file string, line, column int) (cty.Value, error) {
	expr, diags := hclsyntax.ParseExpression([]byte(src), file, hcl.Pos{Line: line, Column: column, Byte: 0})
	if diags.HasErrors() {
		return cty.NilVal, &ParseError{File: file, Line: line, Msg: diags.Error()}
	}

	val, diags := expr.Value(c.evalContext())
	if diags.HasErrors() {
		return cty.NilVal, &EvalError{File: file, Line: line, Expr: strings.TrimSpace(src), Err: diagError(diags)}
	}
	return val, nil
}

func (c *Context) evalContext() *hcl.EvalContext {
	return &hcl.EvalContext{
		Variables: c.vars,
		Functions: c.funcs,
	}
}

// diagError returns the error raised inside a built-in when there is one, so
// callers can still match it with errors.Is and errors.As.
func diagError(diags hcl.Diagnostics) error {
	for _, diag := range diags {
		if extra, ok := hcl.DiagnosticExtra[hclsyntax.FunctionCallDiagExtra](diag); ok {
			if err := extra.FunctionCallError(); err != nil {
				return err
			}
		}
	}
	return diags
}

// Text converts a primitive value to the text it matches against output.
// ok is false for null, unknown and non-primitive values, which match nothing.
func Text(v cty.Value) (text string, ok bool) {
	if v.IsNull() || !v.IsKnown() {
		return "", false
	}
	if !v.Type().IsPrimitiveType() {
		return "", false
	}
	s, err := convert.Convert(v, cty.String)
	if err != nil {
		return "", false
	}
	return s.AsString(), true
}
