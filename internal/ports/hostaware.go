package ports

import (
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/prometheus/procfs"

	"btstest/internal/logger"
)

// tcpListen is the kernel's TCP_LISTEN state as printed in /proc/net/tcp.
const tcpListen = 0x0A

// SocketTable reports the local ports currently bound on the host.
type SocketTable interface {
	InUsePorts() (map[int]struct{}, error)
}

// ProcTable reads the socket table from a procfs mount.
type ProcTable struct {
	fs procfs.FS
}

// NewProcTable opens the procfs mounted at mountPoint. An empty mountPoint
// means the default /proc.
func NewProcTable(mountPoint string) (*ProcTable, error) {
	if mountPoint == "" {
		mountPoint = procfs.DefaultMountPoint
	}
	fs, err := procfs.NewFS(mountPoint)
	if err != nil {
		return nil, fmt.Errorf("failed to open procfs at %s: %w", mountPoint, err)
	}
	return &ProcTable{fs: fs}, nil
}

// InUsePorts returns every local port that is listening or has no remote peer.
// IPv6 entries are merged in when the host exposes them.
func (p *ProcTable) InUsePorts() (map[int]struct{}, error) {
	tcp, err := p.fs.NetTCP()
	if err != nil {
		return nil, fmt.Errorf("failed to read tcp socket table: %w", err)
	}

	used := make(map[int]struct{}, len(tcp))
	for _, line := range tcp {
		if line.St == tcpListen || line.RemPort == 0 {
			used[int(line.LocalPort)] = struct{}{}
		}
	}

	if tcp6, err := p.fs.NetTCP6(); err == nil {
		for _, line := range tcp6 {
			if line.St == tcpListen || line.RemPort == 0 {
				used[int(line.LocalPort)] = struct{}{}
			}
		}
	}
	return used, nil
}

// HostAware draws from a Sequential allocator, skipping ports the socket
// table reports as in use.
type HostAware struct {
	base  *Sequential
	table SocketTable
	log   *log.Logger
}

// NewHostAware composes base with a socket table.
func NewHostAware(base *Sequential, table SocketTable) *HostAware {
	return &HostAware{
		base:  base,
		table: table,
		log:   logger.NewStyledLogger("ports"),
	}
}

// Next returns the first port from the base sequence that is not in use.
// When the table cannot be read it behaves exactly like the base allocator.
// After a full lap over the range without a free port it gives up and returns
// the last draw.
func (h *HostAware) Next() int {
	if h.table == nil {
		return h.base.Next()
	}

	used, err := h.table.InUsePorts()
	if err != nil {
		h.log.Debug("socket table unavailable, using sequential allocation", "error", err)
		return h.base.Next()
	}

	var port int
	for i := 0; i < h.base.Size(); i++ {
		port = h.base.Next()
		if _, taken := used[port]; !taken {
			return port
		}
	}
	h.log.Warn("no free port found in range", "last", port)
	return port
}
