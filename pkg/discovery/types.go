package discovery

import (
	"errors"
	"time"

	"github.com/milux/ATEM-Tally/pkg/wire"
)

// Service type constants for mDNS.
const (
	// ServiceType is the DNS-SD service type of tally servers.
	ServiceType = "_tally._tcp"

	// Domain is the mDNS domain.
	Domain = "local."

	// DefaultPort is the default tally port.
	DefaultPort = 7411
)

// TXT record keys.
const (
	TXTKeyVersion  = "ver"
	TXTKeyMaxInput = "max"
	TXTKeyFormats  = "fmt"
	TXTKeySwitcher = "sw"
)

// Switcher link values of the sw key.
const (
	SwitcherUp   = "up"
	SwitcherDown = "down"
)

// Limits.
const (
	// MaxInstanceNameLen is the DNS label limit.
	MaxInstanceNameLen = 63

	// BrowseTimeout bounds the search for a server.
	BrowseTimeout = 10 * time.Second
)

// Discovery errors.
var (
	ErrInvalidTXTRecord    = errors.New("invalid TXT record format")
	ErrMissingRequired     = errors.New("missing required field")
	ErrInstanceNameTooLong = errors.New("instance name exceeds 63 characters")
	ErrNotAdvertising      = errors.New("service not advertised")
	ErrNotFound            = errors.New("service not found")
)

// ServiceInfo describes an advertised tally server.
type ServiceInfo struct {
	// Instance is the DNS-SD instance name.
	Instance string

	// Port is the TCP port (default DefaultPort).
	Port int

	Version  string
	MaxInput int
	Formats  []wire.Format

	// SwitcherUp reports whether the switcher link is connected.
	SwitcherUp bool
}

// Service is a tally server found while browsing.
type Service struct {
	Instance  string
	Host      string
	Port      int
	Addresses []string

	// Info is decoded from the TXT records.
	Info ServiceInfo
}

// State is the advertisement state of a Manager.
type State uint8

const (
	// StateUnregistered means nothing is advertised.
	StateUnregistered State = iota

	// StateAdvertising means the service is registered.
	StateAdvertising
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUnregistered:
		return "UNREGISTERED"
	case StateAdvertising:
		return "ADVERTISING"
	default:
		return "UNKNOWN"
	}
}
