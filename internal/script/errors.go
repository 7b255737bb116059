package script

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownMetacommand is returned for a "!name" command other than !client.
	ErrUnknownMetacommand = errors.New("unknown metacommand")
	// ErrUnknownClient is returned when the active client was never registered.
	ErrUnknownClient = errors.New("unknown client")
)

// ParseError reports malformed script or environment text.
type ParseError struct {
	File string
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	switch {
	case e.File == "":
		return e.Msg
	case e.Line == 0:
		return fmt.Sprintf("%s in file %s", e.Msg, e.File)
	default:
		return fmt.Sprintf("%s in file %s:%d", e.Msg, e.File, e.Line)
	}
}

// EvalError wraps a failure raised while evaluating an expression or running
// a command. The cause is kept so callers can match transport, startup and
// lifecycle errors with errors.As.
type EvalError struct {
	File string
	Line int
	Expr string
	Err  error
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("%s:%d: %s: %v", e.File, e.Line, e.Expr, e.Err)
}

func (e *EvalError) Unwrap() error {
	return e.Err
}
