package rpc

import "fmt"

// TransportError reports a failed call: connection refused, non-2xx status,
// malformed body or a JSON-RPC error object.
type TransportError struct {
	Method     string
	ID         int64
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("rpc %s (id %d): status %d: %v", e.Method, e.ID, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("rpc %s (id %d): %v", e.Method, e.ID, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
