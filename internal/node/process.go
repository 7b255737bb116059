// Package node launches ledger node processes and waits for their RPC
// endpoint to come up.
package node

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"btstest/internal/logger"
	"btstest/internal/ports"
	"btstest/internal/rpc"
)

// State is the lifecycle state of a Process.
type State int

const (
	Unstarted State = iota
	Running
	Stopped
)

func (s State) String() string {
	switch s {
	case Unstarted:
		return "unstarted"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Defaults applied by NewProcess to empty Config fields.
const (
	DefaultUser        = "username"
	DefaultPassword    = "password"
	DefaultStopTimeout = 10 * time.Second
)

// Config describes one node. Zero ports are drawn from the allocator at start.
type Config struct {
	Name          string
	Binary        string
	GenesisConfig string
	// BaseDir is the test output directory; the data dir is BaseDir/Name.
	BaseDir  string
	P2PPort  int
	RPCPort  int
	HTTPPort int
	User     string
	Password string
	// RPCTimeout bounds each call on the node's transport. Zero means none.
	RPCTimeout time.Duration
}

// ProbeFunc checks whether a node answers RPC.
type ProbeFunc func(ctx context.Context, t *rpc.Transport) error

// StartupObserver is told how long each node took to become ready.
type StartupObserver interface {
	ObserveStartup(node string, d time.Duration, err error)
}

// GetInfoProbe calls get_info and discards the result.
func GetInfoProbe(ctx context.Context, t *rpc.Transport) error {
	_, err := t.Call(ctx, "get_info")
	return err
}

var defaultAllocator = ports.NewSequential(ports.DefaultMin, ports.DefaultMax)

// Process is one node process: Unstarted, then Running, then Stopped.
type Process struct {
	cfg         Config
	alloc       ports.Allocator
	spawner     Spawner
	probe       ProbeFunc
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
	stopTimeout time.Duration
	rpcOpts     []rpc.Option
	observer    StartupObserver
	log         *log.Logger

	mu        sync.Mutex
	state     State
	handle    Handle
	transport *rpc.Transport
	dataDir   string
	p2pPort   int
	rpcPort   int
	httpPort  int
	attempts  int
}

// Option customises a Process.
type Option func(*Process)

// WithAllocator sets the allocator used for zero ports.
func WithAllocator(a ports.Allocator) Option {
	return func(p *Process) { p.alloc = a }
}

// WithSpawner replaces the os/exec spawner.
func WithSpawner(s Spawner) Option {
	return func(p *Process) { p.spawner = s }
}

// WithProbe replaces the get_info readiness probe.
func WithProbe(f ProbeFunc) Option {
	return func(p *Process) { p.probe = f }
}

// WithClock replaces time.Now and the context-aware sleep used while probing.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Process) {
		p.now = now
		p.sleep = sleep
	}
}

// WithStopTimeout sets how long Stop waits after SIGTERM before killing.
func WithStopTimeout(d time.Duration) Option {
	return func(p *Process) { p.stopTimeout = d }
}

// WithRPCOptions is passed through to the node's transport.
func WithRPCOptions(opts ...rpc.Option) Option {
	return func(p *Process) { p.rpcOpts = append(p.rpcOpts, opts...) }
}

// WithStartupObserver records startup durations.
func WithStartupObserver(o StartupObserver) Option {
	return func(p *Process) { p.observer = o }
}

// NewProcess creates an unstarted process for cfg.
func NewProcess(cfg Config, opts ...Option) *Process {
	if cfg.Name == "" {
		cfg.Name = "default"
	}
	if cfg.User == "" {
		cfg.User = DefaultUser
	}
	if cfg.Password == "" {
		cfg.Password = DefaultPassword
	}

	p := &Process{
		cfg:         cfg,
		alloc:       defaultAllocator,
		spawner:     ExecSpawner{},
		probe:       GetInfoProbe,
		now:         time.Now,
		sleep:       sleepContext,
		stopTimeout: DefaultStopTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = logger.NewStyledLogger("node").With("node", cfg.Name)
	return p
}

// Name returns the node name.
func (p *Process) Name() string {
	return p.cfg.Name
}

// State returns the current lifecycle state.
func (p *Process) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Transport returns the RPC transport of a started node.
func (p *Process) Transport() (*rpc.Transport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != Running || p.transport == nil {
		return nil, fmt.Errorf("node %s: %w", p.cfg.Name, ErrNotRunning)
	}
	return p.transport, nil
}

// Ports returns the resolved p2p, RPC and HTTP ports (zero before Start).
func (p *Process) Ports() (p2p, rpcPort, http int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.p2pPort, p.rpcPort, p.httpPort
}

// DataDir returns the node's data directory (empty before Start).
func (p *Process) DataDir() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dataDir
}

// Attempts returns the number of readiness probes made by Start.
func (p *Process) Attempts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts
}

// Args builds the node command line for the given ports and data dir.
func (c Config) Args(p2p, rpcPort, http int, dataDir string) []string {
	return []string{
		"--p2p-port", strconv.Itoa(p2p),
		"--rpcuser", c.User,
		"--rpcpassword", c.Password,
		"--rpcport", strconv.Itoa(rpcPort),
		"--httpport", strconv.Itoa(http),
		"--disable-default-peers",
		"--disable-peer-advertising",
		"--min-delegate-connection-count", "0",
		"--upnp", "0",
		"--genesis-config", c.GenesisConfig,
		"--data-dir", dataDir,
	}
}

// Start spawns the node and blocks until it answers get_info on its HTTP
// port, the startup window expires, the process dies, or ctx is done.
// A node that fails to start is stopped before Start returns.
func (p *Process) Start(ctx context.Context) (err error) {
	p.mu.Lock()
	if p.state != Unstarted {
		p.mu.Unlock()
		return fmt.Errorf("node %s: %w", p.cfg.Name, ErrAlreadyStarted)
	}
	p.state = Running
	p.mu.Unlock()

	started := p.now()
	if p.observer != nil {
		defer func() { p.observer.ObserveStartup(p.cfg.Name, p.now().Sub(started), err) }()
	}

	p2p, rpcPort, http := p.resolvePorts()
	dataDir := filepath.Join(p.cfg.BaseDir, p.cfg.Name)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		p.markStopped()
		return fmt.Errorf("node %s: failed to create data dir: %w", p.cfg.Name, err)
	}

	args := p.cfg.Args(p2p, rpcPort, http, dataDir)
	p.log.Debug("spawning node", "binary", p.cfg.Binary, "args", args)

	handle, err := p.spawner.Spawn(ctx, Command{Path: p.cfg.Binary, Args: args, Dir: dataDir})
	if err != nil {
		p.markStopped()
		return fmt.Errorf("node %s: %w", p.cfg.Name, err)
	}

	transport := rpc.New(rpc.Config{
		Host:     "127.0.0.1",
		Port:     http,
		User:     p.cfg.User,
		Password: p.cfg.Password,
		Timeout:  p.cfg.RPCTimeout,
	}, p.rpcOpts...)

	p.mu.Lock()
	p.handle = handle
	p.transport = transport
	p.dataDir = dataDir
	p.p2pPort, p.rpcPort, p.httpPort = p2p, rpcPort, http
	p.mu.Unlock()

	if err := p.waitReady(ctx, handle, transport); err != nil {
		if stopErr := p.Stop(); stopErr != nil {
			p.log.Warn("failed to stop node after startup failure", "error", stopErr)
		}
		return err
	}
	return nil
}

func (p *Process) resolvePorts() (int, int, int) {
	pick := func(configured int) int {
		if configured != 0 {
			return configured
		}
		return p.alloc.Next()
	}
	return pick(p.cfg.P2PPort), pick(p.cfg.RPCPort), pick(p.cfg.HTTPPort)
}

func (p *Process) waitReady(ctx context.Context, handle Handle, transport *rpc.Transport) error {
	start := p.now()
	for attempt := 1; ; attempt++ {
		p.mu.Lock()
		p.attempts = attempt
		p.mu.Unlock()

		probeErr := p.probe(ctx, transport)
		if probeErr == nil {
			p.log.Info("node ready", "elapsed", p.now().Sub(start).Round(time.Millisecond), "attempt", attempt)
			return nil
		}

		select {
		case <-handle.Done():
			return fmt.Errorf("node %s: %w: %v", p.cfg.Name, ErrExitedDuringStartup, handle.ExitErr())
		default:
		}

		elapsed := p.now().Sub(start)
		p.log.Info("can't connect", "attempt", attempt, "elapsed", elapsed.Round(time.Millisecond), "error", probeErr)

		delay, ok := RetryDelay(elapsed)
		if !ok {
			return &StartupTimeoutError{Node: p.cfg.Name, Elapsed: elapsed, Attempts: attempt, LastErr: probeErr}
		}
		if err := p.sleep(ctx, delay); err != nil {
			return fmt.Errorf("node %s: startup interrupted: %w", p.cfg.Name, err)
		}
	}
}

// Stop terminates the process: SIGTERM, then kill after the stop timeout.
// It is a no-op for a process that was never started, is already stopped,
// or has exited on its own.
func (p *Process) Stop() error {
	p.mu.Lock()
	if p.handle == nil || p.state == Stopped {
		p.mu.Unlock()
		return nil
	}
	p.state = Stopped
	h := p.handle
	p.mu.Unlock()

	// The grace period runs unlocked so State and Transport stay responsive.
	select {
	case <-h.Done():
		return nil
	default:
	}

	if err := h.Terminate(); err != nil {
		p.log.Warn("failed to send SIGTERM", "error", err)
	}

	timer := time.NewTimer(p.stopTimeout)
	defer timer.Stop()

	select {
	case <-h.Done():
		p.log.Debug("node exited after SIGTERM")
		return nil
	case <-timer.C:
	}

	p.log.Warn("node ignored SIGTERM, killing", "timeout", p.stopTimeout)
	if err := h.Kill(); err != nil {
		return fmt.Errorf("node %s: failed to kill: %w", p.cfg.Name, err)
	}
	<-h.Done()
	return nil
}

func (p *Process) markStopped() {
	p.mu.Lock()
	p.state = Stopped
	p.mu.Unlock()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
