package transport

import (
	"context"
	"net"

	"github.com/milux/ATEM-Tally/pkg/subscription"
	"github.com/milux/ATEM-Tally/pkg/tally"
)

// Subscriber is the registry side of a connection.
// Implemented by subscription.Registry.
type Subscriber interface {
	Subscribe(client subscription.Client, inputs []int) (map[int]tally.State, error)
	Unsubscribe(clientID string)
}

// TallyServer represents the distribution server.
// Implemented by Server.
type TallyServer interface {
	// Start begins accepting connections.
	Start(ctx context.Context) error

	// Stop closes the listener and every connection.
	Stop() error

	// Addr returns the server's listen address.
	Addr() net.Addr

	// ConnectionCount returns the number of active connections.
	ConnectionCount() int
}

var (
	_ Subscriber          = (*subscription.Registry)(nil)
	_ subscription.Client = (*ServerConn)(nil)
	_ TallyServer         = (*Server)(nil)
)
