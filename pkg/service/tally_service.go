package service

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/milux/ATEM-Tally/pkg/connection"
	"github.com/milux/ATEM-Tally/pkg/discovery"
	"github.com/milux/ATEM-Tally/pkg/log"
	"github.com/milux/ATEM-Tally/pkg/subscription"
	"github.com/milux/ATEM-Tally/pkg/switcher"
	"github.com/milux/ATEM-Tally/pkg/transport"
	"github.com/milux/ATEM-Tally/pkg/wire"
)

// TallyService orchestrates the tally relay.
type TallyService struct {
	mu sync.RWMutex

	config Config
	state  ServiceState

	memory    *switcher.Memory
	link      *switcher.Link
	registry  *subscription.Registry
	server    *transport.Server
	discovery *discovery.Manager

	serving     chan struct{}
	servingOnce sync.Once

	eventHandlers []EventHandler

	// Protocol logger for structured event capture (optional)
	protocolLogger log.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewTallyService creates a service relaying tally from mem, which driver
// keeps in sync with the switcher.
func NewTallyService(mem *switcher.Memory, driver switcher.Driver, config Config) (*TallyService, error) {
	if mem == nil || driver == nil {
		return nil, fmt.Errorf("%w: switcher store and driver are required", ErrInvalidConfig)
	}
	if config.MixEffect < 0 {
		return nil, fmt.Errorf("%w: mix effect %d", ErrInvalidConfig, config.MixEffect)
	}

	s := &TallyService{
		config:         config,
		state:          StateIdle,
		memory:         mem,
		serving:        make(chan struct{}),
		protocolLogger: config.ProtocolLogger,
	}

	s.registry = subscription.NewRegistryWithConfig(mem, subscription.RegistryConfig{
		MixEffect:      config.MixEffect,
		Logger:         config.Logger,
		ProtocolLogger: config.ProtocolLogger,
	})

	server, err := transport.NewServer(transport.ServerConfig{
		Address:          config.ListenAddress,
		Registry:         s.registry,
		Handshake:        config.Handshake,
		HandshakeTimeout: config.HandshakeTimeout,
		WriteTimeout:     config.WriteTimeout,
		SendQueueSize:    config.SendQueueSize,
		Logger:           config.Logger,
		ProtocolLogger:   config.ProtocolLogger,
		OnConnect:        s.handleConnect,
		OnSubscribe:      s.handleSubscribe,
		OnDisconnect:     s.handleDisconnect,
		OnError:          s.handleConnError,
	})
	if err != nil {
		return nil, err
	}
	s.server = server

	s.link, err = switcher.NewLink(driver, switcher.LinkConfig{
		Address:       config.SwitcherAddress,
		Resolver:      config.Resolver,
		ResolveRetry:  config.ResolveRetry,
		Backoff:       config.ReconnectBackoff,
		Logger:        config.Logger,
		OnStateChange: s.handleLinkState,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	return s, nil
}

// State returns the current service state.
func (s *TallyService) State() ServiceState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// OnEvent registers an event handler. Handlers run on their own goroutine.
func (s *TallyService) OnEvent(handler EventHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eventHandlers = append(s.eventHandlers, handler)
}

// Switcher returns the switcher state store.
func (s *TallyService) Switcher() *switcher.Memory {
	return s.memory
}

// Registry returns the subscription registry.
func (s *TallyService) Registry() *subscription.Registry {
	return s.registry
}

// Server returns the distribution server.
func (s *TallyService) Server() *transport.Server {
	return s.server
}

// Link returns the switcher link supervisor.
func (s *TallyService) Link() *switcher.Link {
	return s.link
}

// Serving returns a channel closed once the server is listening.
func (s *TallyService) Serving() <-chan struct{} {
	return s.serving
}

// Addr returns the listen address, or nil before the server started.
func (s *TallyService) Addr() net.Addr {
	select {
	case <-s.serving:
		return s.server.Addr()
	default:
		return nil
	}
}

// Start connects the switcher link and starts the distribution server,
// immediately with ListenEarly or after the first switcher connection
// otherwise. Errors starting a deferred server are reported as EventError.
func (s *TallyService) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.state = StateStarting
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	if s.config.ListenEarly {
		if err := s.startServing(); err != nil {
			s.cancel()
			s.setState(StateIdle)
			return err
		}
	}

	s.link.Start(s.ctx)

	if !s.config.ListenEarly {
		s.wg.Add(1)
		go s.serveWhenReady()
	}
	return nil
}

// advertise publishes the service with the port actually bound.
func (s *TallyService) advertise() {
	port := transport.DefaultPort
	if addr, ok := s.server.Addr().(*net.TCPAddr); ok {
		port = addr.Port
	}

	m := discovery.NewManager(s.config.Advertiser, discovery.ServiceInfo{
		Instance:   s.config.Instance,
		Port:       port,
		Version:    s.config.Version,
		MaxInput:   maxInput(s.config.Handshake),
		Formats:    []wire.Format{wire.FormatLegacy, wire.FormatExtended},
		SwitcherUp: s.link.State() == connection.StateConnected,
	}, s.config.Logger)

	if err := m.Start(s.ctx); err != nil {
		s.logger().Warn("mDNS advertisement failed", "error", err)
		return
	}

	s.mu.Lock()
	s.discovery = m
	s.mu.Unlock()

	// Catch a link change that raced the registration.
	if err := m.SetSwitcherUp(s.link.State() == connection.StateConnected); err != nil {
		s.debugLog("advertisement update failed", "error", err)
	}
}

func (s *TallyService) advertisement() *discovery.Manager {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.discovery
}

func (s *TallyService) serveWhenReady() {
	defer s.wg.Done()

	select {
	case <-s.link.Ready():
	case <-s.ctx.Done():
		return
	}
	if err := s.startServing(); err != nil {
		s.logger().Error("tally server failed to start", "error", err)
		s.emitEvent(Event{Type: EventError, Error: err})
	}
}

func (s *TallyService) startServing() error {
	if err := s.server.Start(s.ctx); err != nil {
		return err
	}

	if s.config.Advertiser != nil {
		s.advertise()
	}

	s.mu.Lock()
	if s.state == StateStarting {
		s.state = StateRunning
	}
	s.mu.Unlock()

	s.servingOnce.Do(func() { close(s.serving) })
	s.emitEvent(Event{Type: EventServing})
	return nil
}

// Stop closes every client connection, the switcher link and the
// advertisement.
func (s *TallyService) Stop() error {
	s.mu.Lock()
	if s.state != StateStarting && s.state != StateRunning {
		s.mu.Unlock()
		return ErrNotStarted
	}
	s.state = StateStopping
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()

	if err := s.server.Stop(); err != nil {
		s.debugLog("server stop failed", "error", err)
	}
	if m := s.advertisement(); m != nil {
		if err := m.Stop(); err != nil {
			s.debugLog("advertisement stop failed", "error", err)
		}
	}
	if err := s.link.Close(); err != nil {
		s.debugLog("link close failed", "error", err)
	}
	s.registry.Close()

	s.setState(StateStopped)
	return nil
}

func (s *TallyService) setState(state ServiceState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *TallyService) handleLinkState(oldState, newState connection.State) {
	s.logger().Info("switcher link state changed",
		"old", oldState.String(), "new", newState.String(),
		"address", s.link.RemoteAddress())

	s.logEvent(log.Event{
		Direction: log.DirectionIn,
		Layer:     log.LayerTransport,
		Category:  log.CategoryState,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityLink,
			OldState: oldState.String(),
			NewState: newState.String(),
			Reason:   s.config.SwitcherAddress,
		},
	})

	if m := s.advertisement(); m != nil {
		if err := m.SetSwitcherUp(newState == connection.StateConnected); err != nil {
			s.debugLog("advertisement update failed", "error", err)
		}
	}

	s.emitEvent(Event{Type: EventLinkStateChanged, LinkState: newState})
}

func (s *TallyService) handleConnect(conn *transport.ServerConn) {
	s.emitEvent(Event{
		Type:       EventClientConnected,
		ConnID:     conn.ConnID(),
		RemoteAddr: conn.RemoteAddr().String(),
	})
}

func (s *TallyService) handleSubscribe(conn *transport.ServerConn) {
	s.emitEvent(Event{
		Type:       EventClientSubscribed,
		ConnID:     conn.ConnID(),
		RemoteAddr: conn.RemoteAddr().String(),
		Format:     conn.Format(),
		Inputs:     conn.Inputs(),
	})
}

func (s *TallyService) handleDisconnect(conn *transport.ServerConn) {
	s.emitEvent(Event{
		Type:       EventClientDisconnected,
		ConnID:     conn.ConnID(),
		RemoteAddr: conn.RemoteAddr().String(),
	})
}

// handleConnError forwards server errors. Accept failures carry no
// connection.
func (s *TallyService) handleConnError(conn *transport.ServerConn, err error) {
	event := Event{Type: EventError, Error: err}
	if conn != nil {
		event.ConnID = conn.ConnID()
		event.RemoteAddr = conn.RemoteAddr().String()
	}
	s.emitEvent(event)
}

func (s *TallyService) emitEvent(event Event) {
	s.mu.RLock()
	handlers := s.eventHandlers
	s.mu.RUnlock()

	for _, handler := range handlers {
		go handler(event)
	}
}

func (s *TallyService) logEvent(event log.Event) {
	if s.protocolLogger != nil {
		if event.Timestamp.IsZero() {
			event.Timestamp = time.Now()
		}
		s.protocolLogger.Log(event)
	}
}

func (s *TallyService) logger() *slog.Logger {
	if s.config.Logger != nil {
		return s.config.Logger
	}
	return slog.Default()
}

// debugLog logs a debug message if logging is enabled.
func (s *TallyService) debugLog(msg string, args ...any) {
	if s.config.Logger != nil {
		s.config.Logger.Debug(msg, args...)
	}
}

func maxInput(config wire.HandshakeConfig) int {
	if config.MaxInput > 0 {
		return config.MaxInput
	}
	return wire.DefaultMaxInput
}
