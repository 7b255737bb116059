// Package rpc implements the JSON-RPC over HTTP transport used to talk to a node.
//
// Requests are POSTed to http://host:port/rpc with basic auth. Every call gets
// the next id from a per-transport counter starting at 1, whether or not the
// call succeeds. Numbers in results are kept as json.Number so decimal
// amounts survive unchanged.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/zclconf/go-cty/cty"
	ctyjson "github.com/zclconf/go-cty/cty/json"
)

// Observer is notified after every call. err is nil on success.
type Observer interface {
	ObserveCall(method string, duration time.Duration, err error)
}

// Config describes the endpoint and credentials of a node.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	// Timeout bounds a single call. Zero means no per-call timeout.
	Timeout time.Duration
}

// Transport issues JSON-RPC calls against one node.
type Transport struct {
	cfg      Config
	client   *http.Client
	lastID   atomic.Int64
	observer Observer
}

// Option customises a Transport.
type Option func(*Transport)

// WithHTTPClient replaces the pooled cleanhttp client.
func WithHTTPClient(c *http.Client) Option {
	return func(t *Transport) { t.client = c }
}

// WithObserver installs a call observer, typically the metrics collector.
func WithObserver(o Observer) Option {
	return func(t *Transport) { t.observer = o }
}

// New creates a transport for cfg.
func New(cfg Config, opts ...Option) *Transport {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	t := &Transport{
		cfg:    cfg,
		client: cleanhttp.DefaultPooledClient(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// URL is the endpoint every request is POSTed to.
func (t *Transport) URL() string {
	return fmt.Sprintf("http://%s/rpc", t.address())
}

func (t *Transport) address() string {
	return t.cfg.Host + ":" + strconv.Itoa(t.cfg.Port)
}

// LastID returns the id used by the most recent call, 0 before the first one.
func (t *Transport) LastID() int64 {
	return t.lastID.Load()
}

type request struct {
	Method string `json:"method"`
	Params []any  `json:"params"`
	ID     int64  `json:"id"`
}

type response struct {
	Result json.RawMessage `json:"result"`
	Error  json.RawMessage `json:"error"`
	ID     json.RawMessage `json:"id"`
}

// Call invokes method with positional args and returns the decoded result.
// Numeric values come back as json.Number.
func (t *Transport) Call(ctx context.Context, method string, args ...any) (any, error) {
	raw, err := t.call(ctx, method, args)
	if err != nil {
		return nil, err
	}
	return decodeResult(raw)
}

// CallString invokes method and requires a string result.
func (t *Transport) CallString(ctx context.Context, method string, args ...any) (string, error) {
	raw, err := t.call(ctx, method, args)
	if err != nil {
		return "", err
	}
	// null would unmarshal into "" and pass for empty output
	if string(raw) == "null" {
		return "", &TransportError{Method: method, ID: t.LastID(), Err: fmt.Errorf("result is null")}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", &TransportError{Method: method, ID: t.LastID(), Err: fmt.Errorf("result is not a string: %s", truncate(string(raw)))}
	}
	return s, nil
}

// CallValue invokes method and converts the result to a cty value.
// JSON numbers become arbitrary precision cty numbers.
func (t *Transport) CallValue(ctx context.Context, method string, args ...any) (cty.Value, error) {
	raw, err := t.call(ctx, method, args)
	if err != nil {
		return cty.NilVal, err
	}
	return ResultValue(raw)
}

// ResultValue converts a raw JSON result into a cty value.
func ResultValue(raw json.RawMessage) (cty.Value, error) {
	ty, err := ctyjson.ImpliedType(raw)
	if err != nil {
		return cty.NilVal, fmt.Errorf("failed to infer result type: %w", err)
	}
	v, err := ctyjson.Unmarshal(raw, ty)
	if err != nil {
		return cty.NilVal, fmt.Errorf("failed to convert result: %w", err)
	}
	return v, nil
}

func (t *Transport) call(ctx context.Context, method string, args []any) (raw json.RawMessage, err error) {
	if args == nil {
		args = []any{}
	}
	// The id is consumed before any I/O so failed calls still advance it.
	id := t.lastID.Add(1)

	if t.observer != nil {
		start := time.Now()
		defer func() { t.observer.ObserveCall(method, time.Since(start), err) }()
	}

	if t.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.cfg.Timeout)
		defer cancel()
	}

	body, err := json.Marshal(request{Method: method, Params: args, ID: id})
	if err != nil {
		return nil, &TransportError{Method: method, ID: id, Err: fmt.Errorf("failed to encode request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.URL(), bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{Method: method, ID: id, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(t.cfg.User, t.cfg.Password)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, &TransportError{Method: method, ID: id, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Method: method, ID: id, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &TransportError{Method: method, ID: id, StatusCode: resp.StatusCode, Err: fmt.Errorf("unexpected status: %s", truncate(string(payload)))}
	}

	var envelope response
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, &TransportError{Method: method, ID: id, StatusCode: resp.StatusCode, Err: fmt.Errorf("invalid JSON response: %w", err)}
	}
	if len(envelope.Error) > 0 && string(envelope.Error) != "null" {
		return nil, &TransportError{Method: method, ID: id, StatusCode: resp.StatusCode, Err: fmt.Errorf("rpc error: %s", truncate(string(envelope.Error)))}
	}
	if envelope.Result == nil {
		return nil, &TransportError{Method: method, ID: id, StatusCode: resp.StatusCode, Err: fmt.Errorf("response has no result field")}
	}
	return envelope.Result, nil
}

func decodeResult(raw json.RawMessage) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("failed to decode result: %w", err)
	}
	return v, nil
}

func truncate(s string) string {
	const limit = 200
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
