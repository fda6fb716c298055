package transport

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"slices"
	"sync"
	"time"

	"github.com/milux/ATEM-Tally/pkg/log"
	"github.com/milux/ATEM-Tally/pkg/tally"
	"github.com/milux/ATEM-Tally/pkg/wire"
)

// ConnState is the lifecycle state of a server connection.
type ConnState uint8

const (
	StateConnected ConnState = iota
	StateAwaitingHandshake
	StateSubscribed
	StateClosed
)

// String returns the state name.
func (s ConnState) String() string {
	switch s {
	case StateConnected:
		return "CONNECTED"
	case StateAwaitingHandshake:
		return "AWAITING_HANDSHAKE"
	case StateSubscribed:
		return "SUBSCRIBED"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

const readBufferSize = 256

// ServerConn is one client connection.
type ServerConn struct {
	server     *Server
	conn       net.Conn
	connID     string
	remoteAddr net.Addr
	since      time.Time

	mu     sync.Mutex
	state  ConnState
	format wire.Format
	inputs []int
	reason string

	sendCh    chan []byte
	closeCh   chan struct{}
	closeOnce sync.Once
	unsubOnce sync.Once
}

func newServerConn(s *Server, conn net.Conn, connID string) *ServerConn {
	c := &ServerConn{
		server:     s,
		conn:       conn,
		connID:     connID,
		remoteAddr: conn.RemoteAddr(),
		since:      time.Now(),
		sendCh:     make(chan []byte, s.config.SendQueueSize),
		closeCh:    make(chan struct{}),
	}
	s.logEvent(log.Event{
		Timestamp:    c.since,
		ConnectionID: connID,
		Direction:    log.DirectionIn,
		Layer:        log.LayerTransport,
		Category:     log.CategoryState,
		RemoteAddr:   c.remoteAddr.String(),
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityConnection,
			NewState: StateConnected.String(),
		},
	})
	return c
}

// ID returns the connection ID used as registry client ID.
func (c *ServerConn) ID() string {
	return c.connID
}

// ConnID returns the unique connection identifier.
func (c *ServerConn) ConnID() string {
	return c.connID
}

// RemoteAddr returns the remote address of the client.
func (c *ServerConn) RemoteAddr() net.Addr {
	return c.remoteAddr
}

// State returns the lifecycle state.
func (c *ServerConn) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Format returns the negotiated wire format. Valid once subscribed.
func (c *ServerConn) Format() wire.Format {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.format
}

// Inputs returns the watched inputs. Valid once subscribed.
func (c *ServerConn) Inputs() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.inputs)
}

// Info returns a snapshot of the connection.
func (c *ServerConn) Info() ConnInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ConnInfo{
		ConnID:     c.connID,
		RemoteAddr: c.remoteAddr.String(),
		State:      c.state,
		Format:     c.format,
		Inputs:     slices.Clone(c.inputs),
		Since:      c.since,
	}
}

// Push queues a state update. It never blocks: if the queue is full the
// connection is closed and the update dropped.
func (c *ServerConn) Push(input int, state tally.State) bool {
	format := c.Format()
	data := wire.EncodeUpdate(format, input, state)
	if !c.enqueue(data, "send queue full") {
		return false
	}
	c.server.logEvent(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.connID,
		Direction:    log.DirectionOut,
		Layer:        log.LayerWire,
		Category:     log.CategoryUpdate,
		RemoteAddr:   c.remoteAddr.String(),
		Update: &log.UpdateEvent{
			Input: input,
			State: state,
			Data:  data,
		},
	})
	return true
}

// Close closes the connection. Cleanup runs on the connection goroutine.
func (c *ServerConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closeCh)
		err = c.conn.Close()
	})
	return err
}

func (c *ServerConn) closeWithReason(reason string) {
	c.mu.Lock()
	if c.reason == "" {
		c.reason = reason
	}
	c.mu.Unlock()
	c.Close()
}

func (c *ServerConn) closeReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

func (c *ServerConn) closing() bool {
	select {
	case <-c.closeCh:
		return true
	default:
		return false
	}
}

func (c *ServerConn) enqueue(data []byte, overflowReason string) bool {
	if c.closing() {
		return false
	}
	select {
	case c.sendCh <- data:
		return true
	case <-c.closeCh:
		return false
	default:
		c.server.logger().Warn("closing slow client", "conn_id", c.connID, "reason", overflowReason)
		c.closeWithReason(overflowReason)
		return false
	}
}

// subscribe reads the handshake and registers the connection. It reports
// whether the connection reached SUBSCRIBED.
func (c *ServerConn) subscribe() bool {
	c.setState(StateAwaitingHandshake, "")

	c.conn.SetReadDeadline(time.Now().Add(c.server.config.HandshakeTimeout))
	hs, err := wire.ReadHandshake(c.conn, c.server.config.Handshake)
	if err != nil {
		if errors.Is(err, io.EOF) {
			c.closeWithReason("closed before handshake")
			c.server.debugLog("client left before handshake", "conn_id", c.connID)
			return false
		}
		c.fail("handshake", err)
		return false
	}
	c.conn.SetReadDeadline(time.Time{})

	c.mu.Lock()
	c.format = hs.Format
	c.inputs = hs.Inputs
	c.mu.Unlock()

	c.server.logEvent(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.connID,
		Direction:    log.DirectionIn,
		Layer:        log.LayerWire,
		Category:     log.CategoryHandshake,
		RemoteAddr:   c.remoteAddr.String(),
		Handshake: &log.HandshakeEvent{
			Format: hs.Format,
			Codes:  hs.Codes,
			Inputs: hs.Inputs,
		},
	})

	if _, err := c.server.config.Registry.Subscribe(c, hs.Inputs); err != nil {
		c.fail("subscribe", err)
		return false
	}

	c.setState(StateSubscribed, "")
	c.server.logger().Info("client subscribed",
		"conn_id", c.connID,
		"format", hs.Format.String(),
		"inputs", hs.Inputs)
	if c.server.config.OnSubscribe != nil {
		c.server.config.OnSubscribe(c)
	}
	return true
}

func (c *ServerConn) fail(stage string, err error) {
	c.server.logger().Warn("client rejected",
		"conn_id", c.connID,
		"remote", c.remoteAddr.String(),
		"stage", stage,
		"error", err)
	c.server.logEvent(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.connID,
		Direction:    log.DirectionIn,
		Layer:        log.LayerWire,
		Category:     log.CategoryError,
		RemoteAddr:   c.remoteAddr.String(),
		Error: &log.ErrorEventData{
			Layer:   log.LayerWire,
			Message: err.Error(),
			Context: stage,
		},
	})
	c.server.reportError(c, fmt.Errorf("%s: %w", stage, err))
	c.closeWithReason(stage + " failed")
}

// readLoop consumes keep-alive traffic until the connection ends.
func (c *ServerConn) readLoop() {
	buf := make([]byte, readBufferSize)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			c.handleKeepAlive(buf[:n])
		}
		if err != nil {
			if !c.closing() {
				c.closeWithReason("peer closed")
				if !errors.Is(err, io.EOF) {
					c.server.debugLog("read error", "conn_id", c.connID, "error", err)
				}
			}
			return
		}
	}
}

func (c *ServerConn) handleKeepAlive(data []byte) {
	echo := c.Format() == wire.FormatExtended
	if echo {
		// buf is reused by the next Read.
		if !c.enqueue(bytes.Clone(data), "send queue full") {
			return
		}
	}
	c.server.logEvent(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.connID,
		Direction:    log.DirectionIn,
		Layer:        log.LayerTransport,
		Category:     log.CategoryKeepAlive,
		RemoteAddr:   c.remoteAddr.String(),
		KeepAlive: &log.KeepAliveEvent{
			Size:   len(data),
			Echoed: echo,
		},
	})
}

// writeLoop drains the outbound queue.
func (c *ServerConn) writeLoop() {
	for {
		select {
		case <-c.closeCh:
			return
		case data := <-c.sendCh:
			c.conn.SetWriteDeadline(time.Now().Add(c.server.config.WriteTimeout))
			if _, err := c.conn.Write(data); err != nil {
				if !c.closing() {
					c.server.logger().Warn("write failed", "conn_id", c.connID, "error", err)
					c.server.reportError(c, fmt.Errorf("write: %w", err))
					c.closeWithReason("write failed")
				}
				return
			}
		}
	}
}

func (c *ServerConn) unsubscribe() {
	c.unsubOnce.Do(func() {
		c.server.config.Registry.Unsubscribe(c.connID)
	})
}

func (c *ServerConn) setState(state ConnState, reason string) {
	c.mu.Lock()
	old := c.state
	c.state = state
	c.mu.Unlock()

	c.server.logEvent(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.connID,
		Layer:        log.LayerTransport,
		Category:     log.CategoryState,
		RemoteAddr:   c.remoteAddr.String(),
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityConnection,
			OldState: old.String(),
			NewState: state.String(),
			Reason:   reason,
		},
	})
}
