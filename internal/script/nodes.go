package script

import (
	"context"

	"github.com/zclconf/go-cty/cty"

	"btstest/internal/node"
	"btstest/internal/session"
)

// Client is the RPC surface a registered client needs.
type Client interface {
	session.Executor
	CallValue(ctx context.Context, method string, args ...any) (cty.Value, error)
}

// NodeManager starts nodes and hands out clients for them.
type NodeManager interface {
	Start(ctx context.Context, names ...string) error
	Client(name string) (Client, error)
}

// SupervisorNodes adapts a node.Supervisor to NodeManager.
func SupervisorNodes(s *node.Supervisor) NodeManager {
	return supervisorNodes{s}
}

type supervisorNodes struct {
	sup *node.Supervisor
}

func (n supervisorNodes) Start(ctx context.Context, names ...string) error {
	return n.sup.Start(ctx, names...)
}

func (n supervisorNodes) Client(name string) (Client, error) {
	t, err := n.sup.Transport(name)
	if err != nil {
		return nil, err
	}
	return t, nil
}
