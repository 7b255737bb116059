// Package market hashes the market transactions of a block range so two
// nodes can be compared without diffing the full history.
package market

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"hash"
	"io"
	"net"
	"os"
	"strconv"

	"github.com/charmbracelet/log"

	"btstest/internal/logger"
	"btstest/internal/rpc"
)

// WindowSize aligns partial digests on block numbers divisible by it.
const WindowSize = 200

// Method is the RPC listing the market transactions of one block.
const Method = "blockchain_list_market_transactions"

// ErrRPCDisabled is returned for a node config with rpc.enable unset.
var ErrRPCDisabled = errors.New("RPC is disabled in the node config")

type nodeConfig struct {
	RPC struct {
		Enable        bool   `json:"enable"`
		HTTPDEndpoint string `json:"httpd_endpoint"`
		User          string `json:"rpc_user"`
		Password      string `json:"rpc_password"`
	} `json:"rpc"`
}

// LoadConfig reads the RPC endpoint and credentials from a node's config.json.
func LoadConfig(path string) (rpc.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return rpc.Config{}, fmt.Errorf("failed to read node config: %w", err)
	}
	var nc nodeConfig
	if err := json.Unmarshal(data, &nc); err != nil {
		return rpc.Config{}, fmt.Errorf("failed to parse node config %s: %w", path, err)
	}
	if !nc.RPC.Enable {
		return rpc.Config{}, ErrRPCDisabled
	}

	host, portText, err := net.SplitHostPort(nc.RPC.HTTPDEndpoint)
	if err != nil {
		return rpc.Config{}, fmt.Errorf("invalid httpd_endpoint %q: %w", nc.RPC.HTTPDEndpoint, err)
	}
	port, err := strconv.Atoi(portText)
	if err != nil {
		return rpc.Config{}, fmt.Errorf("invalid httpd_endpoint port %q: %w", portText, err)
	}
	return rpc.Config{
		Host:     host,
		Port:     port,
		User:     nc.RPC.User,
		Password: nc.RPC.Password,
	}, nil
}

// Caller makes a decoded RPC call. *rpc.Transport satisfies it.
type Caller interface {
	Call(ctx context.Context, method string, args ...any) (any, error)
}

// Window is the digest of the results of blocks First..Last inclusive.
type Window struct {
	First  int
	Last   int
	Digest string
}

// String formats w as a JSON array.
func (w Window) String() string {
	return fmt.Sprintf("[%d, %d, %q]", w.First, w.Last, w.Digest)
}

// arrayHash digests a JSON array built one element at a time.
type arrayHash struct {
	h     hash.Hash
	empty bool
}

func newArrayHash() *arrayHash {
	a := &arrayHash{h: sha256.New(), empty: true}
	a.h.Write([]byte("["))
	return a
}

func (a *arrayHash) add(elem string) {
	if !a.empty {
		a.h.Write([]byte(","))
	}
	a.empty = false
	a.h.Write([]byte(elem))
}

func (a *arrayHash) sum() string {
	a.h.Write([]byte("]"))
	return hex.EncodeToString(a.h.Sum(nil))
}

// Hasher walks a block range.
type Hasher struct {
	caller Caller
	log    *log.Logger
}

// NewHasher hashes results fetched through caller.
func NewHasher(caller Caller) *Hasher {
	return &Hasher{caller: caller, log: logger.NewStyledLogger("market")}
}

// Hash digests blocks start..end. emit receives each closed window in order;
// the returned Window covers the whole range. A window of a single block is
// folded into the next one.
func (h *Hasher) Hash(ctx context.Context, start, end int, emit func(Window)) (Window, error) {
	if start > end {
		return Window{}, fmt.Errorf("start block %d is after end block %d", start, end)
	}

	total := newArrayHash()
	win := newArrayHash()
	winBegin := start

	for block := start; block <= end; block++ {
		if block != start && block%WindowSize == 0 {
			if winEnd := block - 1; winBegin != winEnd {
				w := Window{First: winBegin, Last: winEnd, Digest: win.sum()}
				h.log.Debug("window done", "first", w.First, "last", w.Last)
				emit(w)
				win = newArrayHash()
			}
			winBegin = block
		}

		result, err := h.caller.Call(ctx, Method, block)
		if err != nil {
			return Window{}, fmt.Errorf("block %d: %w", block, err)
		}
		canon, err := Canonical(result)
		if err != nil {
			return Window{}, fmt.Errorf("block %d: %w", block, err)
		}
		total.add(canon)
		win.add(canon)
	}

	if winBegin != start {
		emit(Window{First: winBegin, Last: end, Digest: win.sum()})
	}
	return Window{First: start, Last: end, Digest: total.sum()}, nil
}

// Report writes the windows and the total as one JSON array, one entry per
// line.
func (h *Hasher) Report(ctx context.Context, w io.Writer, start, end int) error {
	if _, err := fmt.Fprintln(w, "["); err != nil {
		return err
	}
	var writeErr error
	total, err := h.Hash(ctx, start, end, func(win Window) {
		if writeErr == nil {
			_, writeErr = fmt.Fprintf(w, "%s,\n", win)
		}
	})
	if err != nil {
		return err
	}
	if writeErr != nil {
		return writeErr
	}
	_, err = fmt.Fprintf(w, "%s\n]\n", total)
	return err
}
