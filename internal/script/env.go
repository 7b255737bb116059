package script

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/zclconf/go-cty/cty"
)

var assignment = regexp.MustCompile(`^\s*([A-Za-z_][A-Za-z0-9_]*)\s*=(.*)$`)

// Statement is one line of an environment file.
type Statement struct {
	// Name is set for "name = expr" bindings and empty for bare expressions.
	Name string
	Expr string
	// Column is the 1-based column where Expr starts.
	Column int
}

// ParseStatement splits an environment line into an optional binding name and
// an expression. "a == b" is an expression, not a binding.
func ParseStatement(line string) Statement {
	m := assignment.FindStringSubmatchIndex(line)
	if m != nil {
		rest := line[m[4]:m[5]]
		if !strings.HasPrefix(rest, "=") {
			return Statement{Name: line[m[2]:m[3]], Expr: rest, Column: m[4] + 1}
		}
	}
	return Statement{Expr: line, Column: 1}
}

func isComment(trimmed string) bool {
	return trimmed == "" || strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, "//")
}

// LoadEnv executes an environment file in the shared namespace. my_filename
// and my_path are bound to the file, and its directory is on the search path
// while it runs.
func (c *Context) LoadEnv(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return fmt.Errorf("failed to read environment file: %w", err)
	}

	dir := filepath.Dir(abs)
	c.vars[VarMyFilename] = cty.StringVal(abs)
	c.vars[VarMyPath] = cty.StringVal(dir)

	popPath := c.pushSearchPath(dir)
	defer popPath()
	restore := c.setLocation(abs, 0)
	defer restore()

	c.log.Debug("loading environment", "file", abs)

	for i, raw := range strings.Split(string(data), "\n") {
		line := strings.TrimRight(raw, "\r")
		if isComment(strings.TrimSpace(line)) {
			continue
		}
		lineNo := i + 1
		c.line = lineNo

		stmt := ParseStatement(line)
		val, err := c.Eval(stmt.Expr, abs, lineNo, stmt.Column)
		if err != nil {
			return err
		}
		if stmt.Name != "" {
			c.vars[stmt.Name] = val
		}
	}
	return nil
}
