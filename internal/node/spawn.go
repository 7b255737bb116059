package node

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
)

// Command describes a process to launch.
type Command struct {
	Path string
	Args []string
	Dir  string
}

// Handle is a running OS process.
type Handle interface {
	PID() int
	// Terminate asks the process to exit (SIGTERM).
	Terminate() error
	// Kill forces the process to exit.
	Kill() error
	// Done is closed once the process has exited and been reaped.
	Done() <-chan struct{}
	// ExitErr is the wait error after Done is closed.
	ExitErr() error
}

// Spawner launches processes.
type Spawner interface {
	Spawn(ctx context.Context, cmd Command) (Handle, error)
}

// ExecSpawner launches real processes with os/exec. Output is discarded and
// stdin is an open pipe that is never written.
type ExecSpawner struct{}

// Spawn starts cmd. The process outlives ctx; callers stop it through the handle.
func (ExecSpawner) Spawn(_ context.Context, cmd Command) (Handle, error) {
	execCmd := exec.Command(cmd.Path, cmd.Args...)
	execCmd.Dir = cmd.Dir
	execCmd.Stdout = nil
	execCmd.Stderr = nil

	stdin, err := execCmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := execCmd.Start(); err != nil {
		_ = stdin.Close()
		return nil, fmt.Errorf("failed to start process: %w", err)
	}

	h := &execHandle{
		cmd:   execCmd,
		stdin: stdin,
		done:  make(chan struct{}),
	}
	go h.monitor()

	return h, nil
}

type execHandle struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser

	mu      sync.RWMutex
	waitErr error
	done    chan struct{}
}

func (h *execHandle) monitor() {
	err := h.cmd.Wait()
	h.mu.Lock()
	h.waitErr = err
	h.mu.Unlock()
	close(h.done)
}

func (h *execHandle) PID() int {
	if h.cmd.Process == nil {
		return -1
	}
	return h.cmd.Process.Pid
}

func (h *execHandle) Terminate() error {
	return ignoreProcessDone(h.cmd.Process.Signal(syscall.SIGTERM))
}

func (h *execHandle) Kill() error {
	_ = h.stdin.Close()
	return ignoreProcessDone(h.cmd.Process.Kill())
}

func (h *execHandle) Done() <-chan struct{} {
	return h.done
}

func (h *execHandle) ExitErr() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.waitErr
}

func ignoreProcessDone(err error) error {
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}
