// Package script interprets .btstest scripts and testenv files.
//
// A Context holds everything one run needs: the variable namespace, the
// registered clients, the active client, the search path used to resolve
// environment files and the node manager. Expressions inside ${ ... }$ tags
// and testenv statements use HCL expression syntax evaluated with go-cty.
package script

import (
	"context"
	"fmt"
	"sort"

	"github.com/charmbracelet/log"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"

	"btstest/internal/logger"
	"btstest/internal/session"
)

// Names bound in every namespace.
const (
	VarActiveClient = "active_client"
	VarMyFilename   = "my_filename"
	VarMyPath       = "my_path"
)

// ScriptExt is the extension of script files run by run_testdir.
const ScriptExt = ".btstest"

// Option customises a Context.
type Option func(*Context)

// WithSessionOptions applies opts to every registered client.
func WithSessionOptions(opts ...session.Option) Option {
	return func(c *Context) { c.sessionOpts = append(c.sessionOpts, opts...) }
}

// WithVariables seeds the namespace before any environment file loads.
func WithVariables(vars map[string]cty.Value) Option {
	return func(c *Context) {
		for k, v := range vars {
			c.vars[k] = v
		}
	}
}

// Context is the state of one script run. It is not safe for concurrent use.
type Context struct {
	// run is the context of the whole run; built-ins that block use it
	// because HCL functions cannot take one.
	run context.Context

	vars        map[string]cty.Value
	funcs       map[string]function.Function
	clients     map[string]*session.Session
	clientOrder []string
	rpcClients  map[string]Client
	nodes       NodeManager
	sessionOpts []session.Option
	searchPath  []string

	file string
	line int

	log *log.Logger
}

// NewContext creates a run context. nodes may be nil when scripts never start
// nodes or register clients.
func NewContext(ctx context.Context, nodes NodeManager, opts ...Option) *Context {
	c := &Context{
		run:        ctx,
		vars:       map[string]cty.Value{VarActiveClient: cty.StringVal("")},
		clients:    make(map[string]*session.Session),
		rpcClients: make(map[string]Client),
		nodes:      nodes,
		log:        logger.NewStyledLogger("script"),
	}
	c.funcs = c.builtins()
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns a namespace value.
func (c *Context) Get(name string) (cty.Value, bool) {
	v, ok := c.vars[name]
	return v, ok
}

// Set binds a namespace value.
func (c *Context) Set(name string, v cty.Value) {
	c.vars[name] = v
}

// Names lists the bound variable names in sorted order.
func (c *Context) Names() []string {
	names := make([]string, 0, len(c.vars))
	for k := range c.vars {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// ActiveClient returns the name in the active_client slot.
func (c *Context) ActiveClient() string {
	v, ok := c.vars[VarActiveClient]
	if !ok || v.IsNull() || !v.IsKnown() || !v.Type().Equals(cty.String) {
		return ""
	}
	return v.AsString()
}

// SetActiveClient switches the active client.
func (c *Context) SetActiveClient(name string) {
	c.vars[VarActiveClient] = cty.StringVal(name)
}

// RegisterClient adds a session under name, replacing any previous one.
func (c *Context) RegisterClient(s *session.Session) {
	if _, exists := c.clients[s.Name()]; exists {
		c.log.Warn("replacing registered client", "client", s.Name())
	} else {
		c.clientOrder = append(c.clientOrder, s.Name())
	}
	c.clients[s.Name()] = s
}

// Session returns a registered client.
func (c *Context) Session(name string) (*session.Session, bool) {
	s, ok := c.clients[name]
	return s, ok
}

// Sessions returns every registered client in registration order.
func (c *Context) Sessions() []*session.Session {
	out := make([]*session.Session, 0, len(c.clientOrder))
	for _, name := range c.clientOrder {
		out = append(out, c.clients[name])
	}
	return out
}

// FailureCount sums the failure counts of every client.
func (c *Context) FailureCount() int {
	total := 0
	for _, s := range c.clients {
		total += s.FailureCount()
	}
	return total
}

func (c *Context) activeSession() (*session.Session, error) {
	name := c.ActiveClient()
	s, ok := c.clients[name]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownClient, name)
	}
	return s, nil
}

// Location returns the file and line currently being interpreted.
func (c *Context) Location() (string, int) {
	return c.file, c.line
}

func (c *Context) setLocation(file string, line int) func() {
	prevFile, prevLine := c.file, c.line
	c.file, c.line = file, line
	return func() { c.file, c.line = prevFile, prevLine }
}

func (c *Context) pushSearchPath(dir string) func() {
	c.searchPath = append(c.searchPath, dir)
	return func() { c.searchPath = c.searchPath[:len(c.searchPath)-1] }
}

// SearchPath returns the directories used to resolve relative paths,
// innermost last.
func (c *Context) SearchPath() []string {
	return append([]string(nil), c.searchPath...)
}
