package service

import (
	"errors"
	"log/slog"
	"time"

	"github.com/milux/ATEM-Tally/pkg/connection"
	"github.com/milux/ATEM-Tally/pkg/discovery"
	"github.com/milux/ATEM-Tally/pkg/log"
	"github.com/milux/ATEM-Tally/pkg/switcher"
	"github.com/milux/ATEM-Tally/pkg/transport"
	"github.com/milux/ATEM-Tally/pkg/wire"
)

// Service errors.
var (
	ErrNotStarted     = errors.New("service not started")
	ErrAlreadyStarted = errors.New("service already started")
	ErrInvalidConfig  = errors.New("invalid configuration")
)

// ServiceState represents the service state.
type ServiceState uint8

const (
	// StateIdle - service created but not started.
	StateIdle ServiceState = iota

	// StateStarting - waiting for the first switcher connection.
	StateStarting

	// StateRunning - the distribution server is listening.
	StateRunning

	// StateStopping - service is shutting down.
	StateStopping

	// StateStopped - service has stopped.
	StateStopped
)

// String returns the state name.
func (s ServiceState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateStarting:
		return "STARTING"
	case StateRunning:
		return "RUNNING"
	case StateStopping:
		return "STOPPING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Config configures a TallyService.
type Config struct {
	// ListenAddress is the address to listen on (e.g., ":7411").
	ListenAddress string

	// ListenEarly starts the server before the switcher is connected.
	ListenEarly bool

	// Handshake controls input validation and legacy remapping.
	Handshake wire.HandshakeConfig

	// HandshakeTimeout bounds the wait for a client's handshake.
	HandshakeTimeout time.Duration

	// WriteTimeout bounds a single socket write.
	WriteTimeout time.Duration

	// SendQueueSize is the per-connection outbound queue depth.
	SendQueueSize int

	// MixEffect is the ME watched for tally.
	MixEffect int

	// SwitcherAddress is the switcher host, optionally with a port.
	SwitcherAddress string

	// ResolveRetry is the delay between failed switcher lookups.
	ResolveRetry time.Duration

	// ReconnectBackoff paces switcher reconnects (default exponential).
	ReconnectBackoff *connection.Backoff

	// Resolver overrides host name resolution (tests).
	Resolver switcher.Resolver

	// Advertiser publishes the service over mDNS. Nil disables discovery.
	Advertiser discovery.Advertiser

	// Instance is the mDNS instance name.
	Instance string

	// Version is advertised in the ver TXT key.
	Version string

	// Logger is the optional logger for debug output.
	// If nil, logging is disabled.
	Logger *slog.Logger

	// ProtocolLogger captures protocol events. Nil disables capture.
	ProtocolLogger log.Logger
}

// DefaultConfig returns the default service configuration.
func DefaultConfig() Config {
	return Config{
		ListenAddress:    ":7411",
		HandshakeTimeout: transport.DefaultHandshakeTimeout,
		WriteTimeout:     transport.DefaultWriteTimeout,
		SendQueueSize:    transport.DefaultSendQueueSize,
		ResolveRetry:     switcher.DefaultResolveRetry,
		Instance:         "ATEM Tally",
	}
}

// Event types for service callbacks.
type EventType uint8

const (
	// EventLinkStateChanged - switcher link state changed.
	EventLinkStateChanged EventType = iota

	// EventServing - distribution server started listening.
	EventServing

	// EventClientConnected - lamp connection accepted.
	EventClientConnected

	// EventClientSubscribed - lamp handshake accepted.
	EventClientSubscribed

	// EventClientDisconnected - lamp connection closed.
	EventClientDisconnected

	// EventError - a connection or startup error.
	EventError
)

// String returns the event type name.
func (e EventType) String() string {
	switch e {
	case EventLinkStateChanged:
		return "LINK_STATE_CHANGED"
	case EventServing:
		return "SERVING"
	case EventClientConnected:
		return "CLIENT_CONNECTED"
	case EventClientSubscribed:
		return "CLIENT_SUBSCRIBED"
	case EventClientDisconnected:
		return "CLIENT_DISCONNECTED"
	case EventError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Event represents a service event.
type Event struct {
	// Type is the event type.
	Type EventType

	// ConnID is the connection ID (for client events).
	ConnID string

	// RemoteAddr is the peer address (for client events).
	RemoteAddr string

	// Format and Inputs are set for EventClientSubscribed.
	Format wire.Format
	Inputs []int

	// LinkState is set for EventLinkStateChanged.
	LinkState connection.State

	// Error is set if the event is an error.
	Error error
}

// EventHandler handles service events.
type EventHandler func(Event)
