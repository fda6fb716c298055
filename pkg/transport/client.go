package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/milux/ATEM-Tally/pkg/tally"
	"github.com/milux/ATEM-Tally/pkg/wire"
)

// Client errors.
var (
	ErrConnectionClosed = errors.New("transport: connection closed")
	ErrInvalidUpdate    = errors.New("transport: invalid state byte")
)

// DefaultConnectTimeout bounds dialing when the context has no deadline.
const DefaultConnectTimeout = 10 * time.Second

// ClientConfig configures a lamp-side client.
type ClientConfig struct {
	// Format selects the handshake format.
	Format wire.Format

	// Inputs are the wire input codes to watch. Legacy takes exactly one.
	Inputs []byte

	// ConnectTimeout is the dial timeout (default 10s).
	ConnectTimeout time.Duration
}

// Client connects to a tally server.
type Client struct {
	config    ClientConfig
	handshake []byte
}

// NewClient validates the configuration and creates a client.
func NewClient(config ClientConfig) (*Client, error) {
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = DefaultConnectTimeout
	}
	hs, err := wire.EncodeHandshake(config.Format, config.Inputs)
	if err != nil {
		return nil, err
	}
	return &Client{config: config, handshake: hs}, nil
}

// Connect dials address and sends the handshake.
func (c *Client) Connect(ctx context.Context, address string) (*ClientConn, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.ConnectTimeout)
		defer cancel()
	}

	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial failed: %w", err)
	}
	if _, err := conn.Write(c.handshake); err != nil {
		conn.Close()
		return nil, fmt.Errorf("handshake failed: %w", err)
	}

	return &ClientConn{
		conn:    conn,
		format:  c.config.Format,
		inputs:  c.config.Inputs,
		closeCh: make(chan struct{}),
	}, nil
}

// Update is one decoded state push.
type Update struct {
	Input int
	State tally.State
}

// ClientConn is a connection from a lamp to the server.
type ClientConn struct {
	conn    net.Conn
	format  wire.Format
	inputs  []byte
	closeCh chan struct{}

	closeOnce sync.Once
	writeMu   sync.Mutex
	readMu    sync.Mutex

	kaMu      sync.Mutex
	keepAlive *KeepAlive
}

// LocalAddr returns the local network address.
func (c *ClientConn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// RemoteAddr returns the remote network address.
func (c *ClientConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Format returns the handshake format of the connection.
func (c *ClientConn) Format() wire.Format {
	return c.format
}

// Receive reads the next state push. Keep-alive echoes are consumed and
// reported to the running KeepAlive. A zero timeout waits forever.
func (c *ClientConn) Receive(timeout time.Duration) (Update, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	if timeout > 0 {
		c.conn.SetReadDeadline(time.Now().Add(timeout))
		defer c.conn.SetReadDeadline(time.Time{})
	}

	buf := make([]byte, wire.UpdateSize(c.format))
	for {
		if _, err := io.ReadFull(c.conn, buf); err != nil {
			select {
			case <-c.closeCh:
				return Update{}, ErrConnectionClosed
			default:
				return Update{}, err
			}
		}

		if c.format == wire.FormatLegacy {
			state := tally.State(buf[0])
			if !state.Valid() {
				return Update{}, fmt.Errorf("%w: %d", ErrInvalidUpdate, buf[0])
			}
			return Update{Input: int(c.inputs[0]), State: state}, nil
		}

		if buf[1] == wire.KeepAlive[1] {
			c.echoReceived()
			continue
		}
		state := tally.State(buf[1])
		if !state.Valid() {
			return Update{}, fmt.Errorf("%w: %d", ErrInvalidUpdate, buf[1])
		}
		return Update{Input: int(buf[0]), State: state}, nil
	}
}

// SendKeepAlive writes one keep-alive frame.
func (c *ClientConn) SendKeepAlive() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.closeCh:
		return ErrConnectionClosed
	default:
	}
	_, err := c.conn.Write(wire.KeepAlive)
	return err
}

// StartKeepAlive starts sending keep-alives. The connection is closed when
// echoes stop arriving. Legacy connections have no keep-alive and return nil.
func (c *ClientConn) StartKeepAlive(ctx context.Context, config KeepAliveConfig) *KeepAlive {
	if c.format != wire.FormatExtended {
		return nil
	}
	ka := NewKeepAlive(config, c.SendKeepAlive, func() { c.Close() })

	c.kaMu.Lock()
	c.keepAlive = ka
	c.kaMu.Unlock()

	ka.Start(ctx)
	return ka
}

func (c *ClientConn) echoReceived() {
	c.kaMu.Lock()
	ka := c.keepAlive
	c.kaMu.Unlock()
	if ka != nil {
		ka.EchoReceived()
	}
}

// Close closes the connection.
func (c *ClientConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closeCh)
		c.kaMu.Lock()
		if c.keepAlive != nil {
			c.keepAlive.Stop()
		}
		c.kaMu.Unlock()
		err = c.conn.Close()
	})
	return err
}
