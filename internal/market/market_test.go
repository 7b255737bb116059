package market

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"btstest/internal/rpc"
)

// blockCaller returns a small transaction list per block.
type blockCaller struct {
	blocks []int
	failAt int
}

func (b *blockCaller) Call(_ context.Context, method string, args ...any) (any, error) {
	if method != Method {
		return nil, fmt.Errorf("unexpected method %s", method)
	}
	block := args[0].(int)
	b.blocks = append(b.blocks, block)
	if block == b.failAt {
		return nil, errors.New("connection refused")
	}
	return txsFor(block), nil
}

func txsFor(block int) any {
	if block%3 == 0 {
		return []any{}
	}
	return []any{map[string]any{
		"type":  "bid",
		"block": json.Number(fmt.Sprint(block)),
		"price": json.Number("0.00012"),
	}}
}

func digest(t *testing.T, blocks ...int) string {
	t.Helper()
	parts := make([]string, 0, len(blocks))
	for _, block := range blocks {
		canon, err := Canonical(txsFor(block))
		require.NoError(t, err)
		parts = append(parts, canon)
	}
	sum := sha256.Sum256([]byte("[" + strings.Join(parts, ",") + "]"))
	return hex.EncodeToString(sum[:])
}

func blockRange(first, last int) []int {
	var out []int
	for b := first; b <= last; b++ {
		out = append(out, b)
	}
	return out
}

func TestCanonical(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{name: "sorted keys", in: map[string]any{"b": json.Number("1"), "a": true}, want: `{"a":true,"b":1}`},
		{name: "nested", in: []any{nil, map[string]any{"z": []any{}, "y": "x"}}, want: `[null,{"y":"x","z":[]}]`},
		{name: "number text kept", in: json.Number("1.10"), want: `1.10`},
		{name: "escapes", in: "a\"b\\c\nd\te", want: `"a\"b\\c\nd\te"`},
		{name: "control", in: "\x01\x7f", want: `"\u0001\u007f"`},
		{name: "non-ascii", in: "é", want: `"\u00e9"`},
		{name: "astral", in: "😀", want: `"\ud83d\ude00"`},
		{name: "html is not escaped", in: "<a&b>", want: `"<a&b>"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Canonical(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := Canonical(3.5)
	assert.Error(t, err)
}

func TestHash_Windows(t *testing.T) {
	caller := &blockCaller{}
	var windows []Window
	total, err := NewHasher(caller).Hash(context.Background(), 198, 401, func(w Window) {
		windows = append(windows, w)
	})
	require.NoError(t, err)

	assert.Equal(t, blockRange(198, 401), caller.blocks)
	require.Len(t, windows, 3)
	assert.Equal(t, Window{First: 198, Last: 199, Digest: digest(t, 198, 199)}, windows[0])
	assert.Equal(t, Window{First: 200, Last: 399, Digest: digest(t, blockRange(200, 399)...)}, windows[1])
	assert.Equal(t, Window{First: 400, Last: 401, Digest: digest(t, 400, 401)}, windows[2])
	assert.Equal(t, Window{First: 198, Last: 401, Digest: digest(t, blockRange(198, 401)...)}, total)
}

func TestHash_SingleBlockWindowFoldsForward(t *testing.T) {
	var windows []Window
	total, err := NewHasher(&blockCaller{}).Hash(context.Background(), 199, 201, func(w Window) {
		windows = append(windows, w)
	})
	require.NoError(t, err)

	require.Len(t, windows, 1)
	assert.Equal(t, Window{First: 200, Last: 201, Digest: digest(t, 199, 200, 201)}, windows[0])
	assert.Equal(t, digest(t, 199, 200, 201), total.Digest)
}

func TestHash_NoBoundary(t *testing.T) {
	var windows []Window
	total, err := NewHasher(&blockCaller{}).Hash(context.Background(), 5, 10, func(w Window) {
		windows = append(windows, w)
	})
	require.NoError(t, err)
	assert.Empty(t, windows)
	assert.Equal(t, digest(t, blockRange(5, 10)...), total.Digest)
}

func TestHash_Errors(t *testing.T) {
	_, err := NewHasher(&blockCaller{}).Hash(context.Background(), 10, 5, func(Window) {})
	assert.Error(t, err)

	_, err = NewHasher(&blockCaller{failAt: 7}).Hash(context.Background(), 5, 10, func(Window) {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "block 7")
}

func TestReport(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewHasher(&blockCaller{}).Report(context.Background(), &buf, 398, 401))

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, "[", lines[0])
	assert.Equal(t, fmt.Sprintf("[398, 399, %q],", digest(t, 398, 399)), lines[1])
	assert.Equal(t, fmt.Sprintf("[400, 401, %q],", digest(t, 400, 401)), lines[2])
	assert.Equal(t, fmt.Sprintf("[398, 401, %q]", digest(t, 398, 399, 400, 401)), lines[3])
	assert.Equal(t, "]", lines[4])
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `{"rpc": {"enable": true, "httpd_endpoint": "127.0.0.1:1776", "rpc_user": "u", "rpc_password": "p"}}`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, rpc.Config{Host: "127.0.0.1", Port: 1776, User: "u", Password: "p"}, cfg)

	_, err = LoadConfig(writeConfig(t, `{"rpc": {"enable": false}}`))
	assert.ErrorIs(t, err, ErrRPCDisabled)

	_, err = LoadConfig(writeConfig(t, `{"rpc": {"enable": true, "httpd_endpoint": "nowhere"}}`))
	assert.Error(t, err)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestReport_AgainstNode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var req struct {
			Method string `json:"method"`
			Params []int  `json:"params"`
			ID     int    `json:"id"`
		}
		_ = json.Unmarshal(raw, &req)
		_, _ = fmt.Fprintf(w, `{"id": %d, "result": [{"block": %d, "type": "ask"}]}`, req.ID, req.Params[0])
	}))
	defer srv.Close()

	host, port, err := net.SplitHostPort(strings.TrimPrefix(srv.URL, "http://"))
	require.NoError(t, err)
	path := writeConfig(t, fmt.Sprintf(`{"rpc": {"enable": true, "httpd_endpoint": "%s:%s", "rpc_user": "u", "rpc_password": "p"}}`, host, port))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, NewHasher(rpc.New(cfg)).Report(context.Background(), &buf, 1, 2))

	want := sha256.Sum256([]byte(`[[{"block":1,"type":"ask"}],[{"block":2,"type":"ask"}]]`))
	assert.Equal(t, fmt.Sprintf("[\n[1, 2, %q]\n]\n", hex.EncodeToString(want[:])), buf.String())
}
