package script

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
	ctyjson "github.com/zclconf/go-cty/cty/json"

	"btstest/internal/session"
	"btstest/internal/version"
)

var null = cty.NullVal(cty.DynamicPseudoType)

// builtins returns the functions callable from expressions. Side-effect
// functions return null so a template tag calling them matches nothing.
func (c *Context) builtins() map[string]function.Function {
	funcs := map[string]function.Function{
		"expect_str":      c.expectStrFunc(),
		"expect_regex":    c.expectRegexFunc(),
		"regex":           c.expectRegexFunc(),
		"register_client": c.registerClientFunc(),
		"start_node":      c.startNodeFunc(),
		"run_testdir":     c.runTestdirFunc(),
		"load_env":        c.loadEnvFunc(),
		"rpc":             c.rpcFunc(),
		"semver_check":    semverCheckFunc,

		"format":     stdlib.FormatFunc,
		"upper":      stdlib.UpperFunc,
		"lower":      stdlib.LowerFunc,
		"trimspace":  stdlib.TrimSpaceFunc,
		"join":       stdlib.JoinFunc,
		"split":      stdlib.SplitFunc,
		"replace":    stdlib.ReplaceFunc,
		"substr":     stdlib.SubstrFunc,
		"length":     stdlib.LengthFunc,
		"min":        stdlib.MinFunc,
		"max":        stdlib.MaxFunc,
		"jsonencode": stdlib.JSONEncodeFunc,
	}
	return funcs
}

func (c *Context) expectStrFunc() function.Function {
	return function.New(&function.Spec{
		Description: "Expects the active client's output to continue with text.",
		Params: []function.Parameter{
			{Name: "text", Type: cty.String},
		},
		Type: function.StaticReturnType(cty.DynamicPseudoType),
		Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
			return null, c.expectLiteral(args[0].AsString())
		},
	})
}

func (c *Context) expectRegexFunc() function.Function {
	return function.New(&function.Spec{
		Description: "Matches pattern at the active client's cursor and returns its named groups.",
		Params: []function.Parameter{
			{Name: "pattern", Type: cty.String},
		},
		Type: function.StaticReturnType(cty.DynamicPseudoType),
		Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
			s, err := c.activeSession()
			if err != nil {
				return null, err
			}
			groups, ok, err := s.ExpectPattern(args[0].AsString())
			if err != nil || !ok {
				return null, err
			}
			attrs := make(map[string]cty.Value, len(groups))
			for name, value := range groups {
				attrs[name] = cty.StringVal(value)
			}
			return cty.ObjectVal(attrs), nil
		},
	})
}

func (c *Context) registerClientFunc() function.Function {
	return function.New(&function.Spec{
		Description: "Registers a client bound to a started node. The node defaults to the client name.",
		Params: []function.Parameter{
			{Name: "name", Type: cty.String},
		},
		VarParam: &function.Parameter{Name: "node", Type: cty.String},
		Type:     function.StaticReturnType(cty.DynamicPseudoType),
		Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
			name := args[0].AsString()
			nodeName := name
			if len(args) > 2 {
				return null, fmt.Errorf("register_client takes at most two arguments")
			}
			if len(args) == 2 {
				nodeName = args[1].AsString()
			}
			return null, c.registerNodeClient(name, nodeName)
		},
	})
}

func (c *Context) startNodeFunc() function.Function {
	return function.New(&function.Spec{
		Description: "Starts the named nodes concurrently and waits until they answer RPC.",
		VarParam:    &function.Parameter{Name: "names", Type: cty.String},
		Type:        function.StaticReturnType(cty.DynamicPseudoType),
		Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
			if c.nodes == nil {
				return null, fmt.Errorf("no node manager configured")
			}
			names := make([]string, 0, len(args))
			for _, arg := range args {
				names = append(names, arg.AsString())
			}
			if len(names) == 0 {
				return null, fmt.Errorf("start_node needs at least one name")
			}
			return null, c.nodes.Start(c.run, names...)
		},
	})
}

func (c *Context) runTestdirFunc() function.Function {
	return function.New(&function.Spec{
		Description: "Runs every .btstest file of a directory in sorted order. Defaults to the directory of the file being loaded.",
		VarParam:    &function.Parameter{Name: "dir", Type: cty.String},
		Type:        function.StaticReturnType(cty.DynamicPseudoType),
		Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
			if len(args) > 1 {
				return null, fmt.Errorf("run_testdir takes at most one argument")
			}
			dir := ""
			if len(args) == 1 {
				dir = args[0].AsString()
			}
			resolved, err := c.resolveDir(dir)
			if err != nil {
				return null, err
			}
			return null, c.RunDir(resolved)
		},
	})
}

func (c *Context) loadEnvFunc() function.Function {
	return function.New(&function.Spec{
		Description: "Loads another environment file, resolved against the search path.",
		Params: []function.Parameter{
			{Name: "path", Type: cty.String},
		},
		Type: function.StaticReturnType(cty.DynamicPseudoType),
		Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
			path, err := c.resolveFile(args[0].AsString())
			if err != nil {
				return null, err
			}
			return null, c.LoadEnv(path)
		},
	})
}

func (c *Context) rpcFunc() function.Function {
	return function.New(&function.Spec{
		Description: "Calls an RPC method on the active client's node and returns the result.",
		Params: []function.Parameter{
			{Name: "method", Type: cty.String},
		},
		VarParam: &function.Parameter{Name: "args", Type: cty.DynamicPseudoType, AllowNull: true},
		Type:     function.StaticReturnType(cty.DynamicPseudoType),
		Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
			s, err := c.activeSession()
			if err != nil {
				return null, err
			}
			client, ok := c.clientFor(s.Name())
			if !ok {
				return null, fmt.Errorf("%w %q has no node", ErrUnknownClient, s.Name())
			}

			params := make([]any, 0, len(args)-1)
			for _, arg := range args[1:] {
				if arg.IsNull() {
					params = append(params, nil)
					continue
				}
				raw, err := ctyjson.Marshal(arg, arg.Type())
				if err != nil {
					return null, fmt.Errorf("failed to encode argument: %w", err)
				}
				params = append(params, json.RawMessage(raw))
			}
			return client.CallValue(c.run, args[0].AsString(), params...)
		},
	})
}

var semverCheckFunc = function.New(&function.Spec{
	Description: "Reports whether a version satisfies a semver constraint such as \">= 0.4\".",
	Params: []function.Parameter{
		{Name: "version", Type: cty.String},
		{Name: "constraint", Type: cty.String},
	},
	Type: function.StaticReturnType(cty.Bool),
	Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
		ok, err := version.Satisfies(args[0].AsString(), args[1].AsString())
		if err != nil {
			return cty.False, err
		}
		return cty.BoolVal(ok), nil
	},
})

func (c *Context) registerNodeClient(name, nodeName string) error {
	if c.nodes == nil {
		return fmt.Errorf("no node manager configured")
	}
	client, err := c.nodes.Client(nodeName)
	if err != nil {
		return err
	}

	opts := append([]session.Option{session.WithMismatchHook(c.locate)}, c.sessionOpts...)
	c.RegisterClient(session.New(name, client, opts...))
	c.rpcClients[name] = client
	c.log.Debug("registered client", "client", name, "node", nodeName)
	return nil
}

// locate stamps a mismatch with the line being interpreted.
func (c *Context) locate(m *session.Mismatch) {
	m.File, m.Line = c.file, c.line
}

func (c *Context) clientFor(name string) (Client, bool) {
	client, ok := c.rpcClients[name]
	return client, ok
}

// resolveDir resolves dir against the innermost search path entry. An empty
// dir means that entry itself.
func (c *Context) resolveDir(dir string) (string, error) {
	if filepath.IsAbs(dir) {
		return dir, nil
	}
	if len(c.searchPath) == 0 {
		if dir == "" {
			return "", fmt.Errorf("run_testdir needs a directory outside an environment file")
		}
		return filepath.Abs(dir)
	}
	return filepath.Join(c.searchPath[len(c.searchPath)-1], dir), nil
}

// resolveFile finds path in the search path, innermost entry first.
func (c *Context) resolveFile(path string) (string, error) {
	if filepath.IsAbs(path) {
		return path, nil
	}
	for i := len(c.searchPath) - 1; i >= 0; i-- {
		candidate := filepath.Join(c.searchPath[i], path)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	if _, err := os.Stat(path); err == nil {
		return filepath.Abs(path)
	}
	return "", fmt.Errorf("environment file %q not found in search path", path)
}
