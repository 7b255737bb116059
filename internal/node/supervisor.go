package node

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"btstest/internal/rpc"
)

// Supervisor owns every node started during one test run.
type Supervisor struct {
	defaults Config
	opts     []Option

	mu    sync.Mutex
	nodes map[string]*Process
	order []string
}

// NewSupervisor creates a supervisor. defaults supplies binary, genesis,
// base dir and credentials for every node; opts apply to every process.
func NewSupervisor(defaults Config, opts ...Option) *Supervisor {
	return &Supervisor{
		defaults: defaults,
		opts:     opts,
		nodes:    make(map[string]*Process),
	}
}

// Start launches the named nodes concurrently and waits until all of them are
// ready. If one fails the others are cancelled.
func (s *Supervisor) Start(ctx context.Context, names ...string) error {
	procs := make([]*Process, 0, len(names))
	for _, name := range names {
		proc, err := s.add(name)
		if err != nil {
			return err
		}
		procs = append(procs, proc)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, proc := range procs {
		g.Go(func() error {
			return proc.Start(gctx)
		})
	}
	return g.Wait()
}

func (s *Supervisor) add(name string) (*Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.nodes[name]; exists {
		return nil, fmt.Errorf("node %s: %w", name, ErrDuplicateNode)
	}
	cfg := s.defaults
	cfg.Name = name
	proc := NewProcess(cfg, s.opts...)
	s.nodes[name] = proc
	s.order = append(s.order, name)
	return proc, nil
}

// Node looks up a node by name.
func (s *Supervisor) Node(name string) (*Process, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	proc, ok := s.nodes[name]
	return proc, ok
}

// Transport returns the RPC transport of a running node.
func (s *Supervisor) Transport(name string) (*rpc.Transport, error) {
	proc, ok := s.Node(name)
	if !ok {
		return nil, fmt.Errorf("node %s: %w", name, ErrNotRunning)
	}
	return proc.Transport()
}

// Names lists nodes in the order they were requested.
func (s *Supervisor) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

// StopAll stops every node, last started first, and joins the errors.
func (s *Supervisor) StopAll() error {
	s.mu.Lock()
	procs := make([]*Process, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		procs = append(procs, s.nodes[s.order[i]])
	}
	s.mu.Unlock()

	var errs []error
	for _, proc := range procs {
		if err := proc.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
