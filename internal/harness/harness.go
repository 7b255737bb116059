// Package harness runs test directories: each gets a fresh script context and
// node supervisor, loads the global testenvs and then its own testenv, and
// always tears its nodes down.
package harness

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"btstest/internal/config"
	"btstest/internal/logger"
	"btstest/internal/node"
	"btstest/internal/ports"
	"btstest/internal/report"
	"btstest/internal/rpc"
	"btstest/internal/script"
	"btstest/internal/session"
)

// TestEnvName is the bootstrap file that marks a directory as a test.
const TestEnvName = "testenv"

// Options configures a Harness.
type Options struct {
	NodeBinary    string
	GenesisConfig string
	OutputDir     string
	User          string
	Password      string
	RPCTimeout    time.Duration
	StopTimeout   time.Duration

	// TestEnvs are loaded in order before each directory's own testenv.
	TestEnvs  []string
	StripANSI bool
	Parallel  int
	FailFast  bool

	// Allocator is shared by every run. Nil means a fresh default range.
	Allocator ports.Allocator
	Spawner   node.Spawner
	Probe     node.ProbeFunc

	Metrics  *report.Metrics
	OnResult func(*report.Result)
}

// OptionsFromConfig maps resolved settings onto Options. Host-aware port
// allocation falls back to plain sequential allocation when procfs is not
// available.
func OptionsFromConfig(cfg *config.Config) Options {
	seq := ports.NewSequential(cfg.PortMin, cfg.PortMax)
	var alloc ports.Allocator = seq
	if cfg.HostAwarePorts {
		table, err := ports.NewProcTable("")
		if err != nil {
			logger.Warn("host-aware ports unavailable, using sequential allocation", "error", err)
		} else {
			alloc = ports.NewHostAware(seq, table)
		}
	}

	return Options{
		NodeBinary:    cfg.NodeBinary,
		GenesisConfig: cfg.GenesisConfig,
		OutputDir:     cfg.OutputDir,
		User:          cfg.RPCUser,
		Password:      cfg.RPCPassword,
		RPCTimeout:    cfg.RPCTimeout,
		StopTimeout:   cfg.StopTimeout,
		TestEnvs:      cfg.TestEnvs,
		StripANSI:     cfg.StripANSI,
		Parallel:      cfg.Parallel,
		FailFast:      cfg.FailFast,
		Allocator:     alloc,
	}
}

// Harness runs test directories.
type Harness struct {
	opts Options
	log  *log.Logger
}

// New creates a harness.
func New(opts Options) *Harness {
	if opts.Parallel < 1 {
		opts.Parallel = 1
	}
	if opts.Allocator == nil {
		opts.Allocator = ports.NewSequential(ports.DefaultMin, ports.DefaultMax)
	}
	if opts.OutputDir == "" {
		opts.OutputDir = filepath.Join(os.TempDir(), "btstest")
	}
	return &Harness{opts: opts, log: logger.NewStyledLogger("harness")}
}

// IsTestDir reports whether dir contains a testenv file.
func IsTestDir(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, TestEnvName))
	return err == nil && !info.IsDir()
}

func (h *Harness) nodeOptions() []node.Option {
	opts := []node.Option{node.WithAllocator(h.opts.Allocator)}
	if h.opts.Spawner != nil {
		opts = append(opts, node.WithSpawner(h.opts.Spawner))
	}
	if h.opts.Probe != nil {
		opts = append(opts, node.WithProbe(h.opts.Probe))
	}
	if h.opts.StopTimeout > 0 {
		opts = append(opts, node.WithStopTimeout(h.opts.StopTimeout))
	}
	if h.opts.Metrics != nil {
		opts = append(opts,
			node.WithRPCOptions(rpc.WithObserver(h.opts.Metrics)),
			node.WithStartupObserver(h.opts.Metrics),
		)
	}
	return opts
}

func (h *Harness) sessionOptions() []session.Option {
	opts := []session.Option{session.WithStripANSI(h.opts.StripANSI)}
	if h.opts.Metrics != nil {
		opts = append(opts, session.WithMismatchHook(h.opts.Metrics.ObserveMismatch))
	}
	return opts
}

// RunDir runs one test directory. Fatal errors are carried in the result.
func (h *Harness) RunDir(ctx context.Context, dir string) *report.Result {
	res := &report.Result{
		RunID:     uuid.NewString(),
		Name:      filepath.Base(filepath.Clean(dir)),
		Dir:       dir,
		StartedAt: time.Now(),
	}
	defer func() {
		res.Duration = time.Since(res.StartedAt)
		if h.opts.Metrics != nil {
			h.opts.Metrics.ObserveResult(res)
		}
		if h.opts.OnResult != nil {
			h.opts.OnResult(res)
		}
	}()

	if !IsTestDir(dir) {
		h.log.Warn("does not appear to be a test, skipping", "dir", dir)
		res.Skipped = true
		return res
	}

	runLog := h.log.With("test", res.Name, "run", res.RunID)
	runLog.Info("starting test")

	sup := node.NewSupervisor(node.Config{
		Binary:        h.opts.NodeBinary,
		GenesisConfig: h.opts.GenesisConfig,
		BaseDir:       filepath.Join(h.opts.OutputDir, res.Name+"-"+res.RunID[:8]),
		User:          h.opts.User,
		Password:      h.opts.Password,
		RPCTimeout:    h.opts.RPCTimeout,
	}, h.nodeOptions()...)
	defer func() {
		if err := sup.StopAll(); err != nil {
			runLog.Warn("failed to stop nodes", "error", err)
		}
	}()

	// Fresh namespace per directory; only the port allocator is shared
	sc := script.NewContext(ctx, script.SupervisorNodes(sup), script.WithSessionOptions(h.sessionOptions()...))
	res.Err = h.loadEnvs(sc, filepath.Join(dir, TestEnvName))

	// Collect client results even when the run aborted
	for _, s := range sc.Sessions() {
		res.Clients = append(res.Clients, report.ClientResult{
			Name:       s.Name(),
			Failures:   s.FailureCount(),
			Mismatches: s.Mismatches(),
		})
	}
	if res.Err != nil {
		runLog.Error("test aborted", "error", res.Err)
	} else {
		runLog.Info("test finished", "failures", res.Failures())
	}
	return res
}

func (h *Harness) loadEnvs(sc *script.Context, local string) error {
	for _, env := range h.opts.TestEnvs {
		if err := sc.LoadEnv(env); err != nil {
			return fmt.Errorf("global testenv %s: %w", env, err)
		}
	}
	return sc.LoadEnv(local)
}

// ErrNotRun marks a directory that was still queued when the run was
// cancelled.
var ErrNotRun = errors.New("not run")

// Run runs dirs with up to Options.Parallel at a time and returns their
// results in input order. With FailFast, directories not yet started when a
// test fails or errors are left out. Once ctx is done, every directory still
// queued gets an ERROR result wrapping ErrNotRun and ctx.Err().
func (h *Harness) Run(ctx context.Context, dirs []string) []*report.Result {
	results := make([]*report.Result, len(dirs))
	var stopped atomic.Bool

	var g errgroup.Group
	g.SetLimit(h.opts.Parallel)
	for i, dir := range dirs {
		g.Go(func() error {
			if stopped.Load() {
				h.log.Info("not run after failure", "dir", dir)
				return nil
			}
			if err := ctx.Err(); err != nil {
				// cancelled runs must still fail the summary
				results[i] = h.notRun(dir, err)
				return nil
			}
			res := h.RunDir(ctx, dir)
			results[i] = res
			if h.opts.FailFast && (res.Outcome() == report.Fail || res.Outcome() == report.Error) {
				stopped.Store(true)
			}
			return nil
		})
	}
	_ = g.Wait()

	out := results[:0]
	for _, r := range results {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

func (h *Harness) notRun(dir string, cause error) *report.Result {
	res := &report.Result{
		Name:      filepath.Base(filepath.Clean(dir)),
		Dir:       dir,
		StartedAt: time.Now(),
		Err:       fmt.Errorf("%w: %w", ErrNotRun, cause),
	}
	h.log.Warn("not run", "dir", dir, "error", cause)
	if h.opts.Metrics != nil {
		h.opts.Metrics.ObserveResult(res)
	}
	if h.opts.OnResult != nil {
		h.opts.OnResult(res)
	}
	return res
}

// ErrNoTests is returned by Watch when none of the directories is a test.
var ErrNoTests = errors.New("no test directories to watch")
