package node

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrAlreadyStarted is returned by a second Start on the same process.
	ErrAlreadyStarted = errors.New("start called multiple times")
	// ErrExitedDuringStartup means the process died before answering a probe.
	ErrExitedDuringStartup = errors.New("process exited during startup")
	// ErrNotRunning is returned when a running node is required.
	ErrNotRunning = errors.New("node is not running")
	// ErrDuplicateNode is returned when a name is started twice in one run.
	ErrDuplicateNode = errors.New("node already defined")
)

// StartupTimeoutError is returned when a node never answered its readiness probe.
type StartupTimeoutError struct {
	Node     string
	Elapsed  time.Duration
	Attempts int
	LastErr  error
}

func (e *StartupTimeoutError) Error() string {
	return fmt.Sprintf("node %s did not become ready after %s (%d attempts): %v",
		e.Node, e.Elapsed.Round(time.Millisecond), e.Attempts, e.LastErr)
}

func (e *StartupTimeoutError) Unwrap() error {
	return e.LastErr
}
