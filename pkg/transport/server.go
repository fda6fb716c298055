package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/milux/ATEM-Tally/pkg/log"
	"github.com/milux/ATEM-Tally/pkg/wire"
)

// Server defaults.
const (
	DefaultPort             = 7411
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultWriteTimeout     = 5 * time.Second
	DefaultSendQueueSize    = 64

	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

// ErrNoRegistry is returned by NewServer without a Registry.
var ErrNoRegistry = errors.New("transport: registry is required")

// ServerConfig configures a tally server.
type ServerConfig struct {
	// Address to listen on (default ":7411").
	Address string

	// Registry receives subscriptions. Required.
	Registry Subscriber

	// Handshake controls input validation and legacy remapping.
	Handshake wire.HandshakeConfig

	// HandshakeTimeout bounds the wait for the handshake.
	HandshakeTimeout time.Duration

	// WriteTimeout bounds a single socket write.
	WriteTimeout time.Duration

	// SendQueueSize is the per-connection outbound queue length.
	SendQueueSize int

	// Logger is the optional operational logger.
	Logger *slog.Logger

	// ProtocolLogger captures protocol events (optional).
	ProtocolLogger log.Logger

	// OnConnect is called when a connection is accepted.
	OnConnect func(conn *ServerConn)

	// OnSubscribe is called once a connection is subscribed.
	OnSubscribe func(conn *ServerConn)

	// OnDisconnect is called after a connection is closed and unsubscribed.
	OnDisconnect func(conn *ServerConn)

	// OnError is called for accept, handshake and write errors.
	OnError func(conn *ServerConn, err error)
}

// Server accepts tally clients.
type Server struct {
	config   ServerConfig
	listener net.Listener

	conns   map[*ServerConn]struct{}
	connsMu sync.RWMutex

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewServer creates a tally server.
func NewServer(config ServerConfig) (*Server, error) {
	if config.Registry == nil {
		return nil, ErrNoRegistry
	}
	if config.Address == "" {
		config.Address = fmt.Sprintf(":%d", DefaultPort)
	}
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = DefaultWriteTimeout
	}
	if config.SendQueueSize <= 0 {
		config.SendQueueSize = DefaultSendQueueSize
	}

	return &Server{
		config: config,
		conns:  make(map[*ServerConn]struct{}),
	}, nil
}

// Start starts listening and accepting connections.
func (s *Server) Start(ctx context.Context) error {
	if s.running.Load() {
		return fmt.Errorf("server already running")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)

	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		s.cancel()
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = listener
	s.running.Store(true)

	s.wg.Add(1)
	go s.acceptLoop(listener)

	s.logger().Info("tally server listening", "addr", listener.Addr().String())
	return nil
}

// Stop stops the server and closes all connections.
func (s *Server) Stop() error {
	if !s.running.Swap(false) {
		return nil
	}
	s.cancel()

	if s.listener != nil {
		s.listener.Close()
	}

	s.connsMu.RLock()
	for conn := range s.conns {
		conn.Close()
	}
	s.connsMu.RUnlock()

	s.wg.Wait()
	return nil
}

// Addr returns the server's listen address.
func (s *Server) Addr() net.Addr {
	if s.listener != nil {
		return s.listener.Addr()
	}
	return nil
}

// ConnectionCount returns the number of active connections.
func (s *Server) ConnectionCount() int {
	s.connsMu.RLock()
	defer s.connsMu.RUnlock()
	return len(s.conns)
}

// ConnInfo describes an active connection.
type ConnInfo struct {
	ConnID     string
	RemoteAddr string
	State      ConnState
	Format     wire.Format
	Inputs     []int
	Since      time.Time
}

// Connections returns the active connections, oldest first.
func (s *Server) Connections() []ConnInfo {
	s.connsMu.RLock()
	out := make([]ConnInfo, 0, len(s.conns))
	for c := range s.conns {
		out = append(out, c.Info())
	}
	s.connsMu.RUnlock()

	slices.SortFunc(out, func(a, b ConnInfo) int { return a.Since.Compare(b.Since) })
	return out
}

func (s *Server) acceptLoop(listener net.Listener) {
	defer s.wg.Done()

	var delay time.Duration
	for s.running.Load() {
		conn, err := listener.Accept()
		if err != nil {
			if !s.running.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			s.reportError(nil, fmt.Errorf("accept error: %w", err))

			// Back off on persistent failures such as EMFILE.
			if delay == 0 {
				delay = minAcceptDelay
			} else {
				delay = min(2*delay, maxAcceptDelay)
			}
			s.debugLog("accept failed, retrying", "delay", delay, "error", err)
			select {
			case <-time.After(delay):
			case <-s.ctx.Done():
				return
			}
			continue
		}
		delay = 0

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

// handleConnection drives one connection through its lifecycle.
func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()

	sconn := newServerConn(s, conn, uuid.New().String())

	s.connsMu.Lock()
	s.conns[sconn] = struct{}{}
	s.connsMu.Unlock()

	s.logger().Info("client connected", "conn_id", sconn.connID, "remote", sconn.remoteAddr.String())
	if s.config.OnConnect != nil {
		s.config.OnConnect(sconn)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		sconn.writeLoop()
	}()

	if sconn.subscribe() {
		sconn.readLoop()
	}

	sconn.Close()
	sconn.unsubscribe()

	s.connsMu.Lock()
	delete(s.conns, sconn)
	s.connsMu.Unlock()

	sconn.setState(StateClosed, sconn.closeReason())
	s.logger().Info("client disconnected", "conn_id", sconn.connID, "remote", sconn.remoteAddr.String())
	if s.config.OnDisconnect != nil {
		s.config.OnDisconnect(sconn)
	}
}

func (s *Server) reportError(conn *ServerConn, err error) {
	if s.config.OnError != nil {
		s.config.OnError(conn, err)
	}
}

func (s *Server) logEvent(event log.Event) {
	if s.config.ProtocolLogger != nil {
		s.config.ProtocolLogger.Log(event)
	}
}

func (s *Server) logger() *slog.Logger {
	if s.config.Logger != nil {
		return s.config.Logger
	}
	return slog.Default()
}

func (s *Server) debugLog(msg string, args ...any) {
	if s.config.Logger != nil {
		s.config.Logger.Debug(msg, args...)
	}
}
