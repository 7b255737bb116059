package script

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// RunScript interprets a .btstest file line by line.
func (c *Context) RunScript(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open script: %w", err)
	}
	defer func() { _ = f.Close() }()

	restore := c.setLocation(path, 0)
	defer restore()

	c.log.Info("running script", "file", path)
	return c.interpret(path, bufio.NewReader(f))
}

func (c *Context) interpret(path string, r *bufio.Reader) error {
	for lineNo := 1; ; lineNo++ {
		line, err := r.ReadString('\n')
		if line != "" {
			c.line = lineNo
			if lineErr := c.ExecLine(path, lineNo, line); lineErr != nil {
				return lineErr
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
	}
}

// ExecLine interprets one script line, including its line break.
func (c *Context) ExecLine(file string, lineNo int, line string) error {
	if cmd, ok := SplitCommand(line); ok {
		if err := c.Execute(cmd); err != nil {
			return &EvalError{File: file, Line: lineNo, Expr: cmd, Err: err}
		}
		return nil
	}

	// Everything else is a template line: literals and ${...}$ tags
	segments, err := SplitTemplate(line)
	if err != nil {
		return &ParseError{File: file, Line: lineNo, Msg: err.Error()}
	}

	for _, seg := range segments {
		if !seg.IsExpr {
			if err := c.expectLiteral(seg.Text); err != nil {
				return &EvalError{File: file, Line: lineNo, Expr: seg.Text, Err: err}
			}
			continue
		}
		if strings.TrimSpace(seg.Text) == "" {
			continue
		}
		val, err := c.Eval(seg.Text, file, lineNo, seg.Column)
		if err != nil {
			return err
		}
		// Scalars are matched as text; null, objects and lists were side effects
		if text, ok := Text(val); ok {
			if err := c.expectLiteral(text); err != nil {
				return &EvalError{File: file, Line: lineNo, Expr: seg.Text, Err: err}
			}
		}
	}
	return nil
}

// Execute dispatches a command: metacommands are handled here, anything else
// goes to the active client.
func (c *Context) Execute(cmd string) error {
	if strings.HasPrefix(cmd, "!") {
		return c.metacommand(cmd)
	}
	s, err := c.activeSession()
	if err != nil {
		return err
	}
	_, err = s.Execute(c.run, cmd)
	return err
}

func (c *Context) metacommand(cmd string) error {
	fields := strings.Fields(cmd)
	if len(fields) == 0 || fields[0] != "!client" {
		return fmt.Errorf("%w: %q", ErrUnknownMetacommand, cmd)
	}
	if len(fields) != 2 {
		return fmt.Errorf("!client takes exactly one client name, got %q", cmd)
	}
	c.SetActiveClient(fields[1])
	c.log.Debug("switched client", "client", fields[1])
	return nil
}

func (c *Context) expectLiteral(text string) error {
	if text == "" {
		return nil
	}
	s, err := c.activeSession()
	if err != nil {
		return err
	}
	s.ExpectLiteral(text)
	return nil
}

// RunDir runs every .btstest file in dir in sorted name order with this
// context.
func (c *Context) RunDir(dir string) error {
	scripts, err := ListScripts(dir)
	if err != nil {
		return err
	}
	if len(scripts) == 0 {
		c.log.Warn("no scripts found", "dir", dir)
	}
	for _, path := range scripts {
		if err := c.RunScript(path); err != nil {
			return err
		}
	}
	return nil
}

// ListScripts returns the .btstest files of dir sorted by name.
func ListScripts(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list test dir: %w", err)
	}
	var scripts []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ScriptExt) {
			continue
		}
		scripts = append(scripts, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(scripts)
	return scripts, nil
}
