package log

import (
	"time"

	"github.com/milux/ATEM-Tally/pkg/tally"
	"github.com/milux/ATEM-Tally/pkg/wire"
)

// Event represents a protocol log event captured at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID identifies the client connection (UUID). Empty for
	// events not tied to a connection.
	ConnectionID string `cbor:"2,keyasint,omitempty"`

	Direction Direction `cbor:"3,keyasint"`
	Layer     Layer     `cbor:"4,keyasint"`
	Category  Category  `cbor:"5,keyasint"`

	// RemoteAddr is the peer address (IP:port).
	RemoteAddr string `cbor:"6,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Handshake   *HandshakeEvent   `cbor:"10,keyasint,omitempty"`
	Update      *UpdateEvent      `cbor:"11,keyasint,omitempty"`
	KeepAlive   *KeepAliveEvent   `cbor:"12,keyasint,omitempty"`
	StateChange *StateChangeEvent `cbor:"13,keyasint,omitempty"`
	Error       *ErrorEventData   `cbor:"14,keyasint,omitempty"`
}

// Inputs returns the tally inputs the event refers to.
func (e Event) Inputs() []int {
	switch {
	case e.Handshake != nil:
		return e.Handshake.Inputs
	case e.Update != nil:
		return []int{e.Update.Input}
	case e.StateChange != nil && e.StateChange.Entity == StateEntityInput:
		return []int{e.StateChange.Input}
	}
	return nil
}

// Direction indicates the direction of message flow.
type Direction uint8

const (
	DirectionIn  Direction = 0
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which layer captured the event.
type Layer uint8

const (
	// LayerTransport is the TCP connection layer.
	LayerTransport Layer = 0
	// LayerWire is the handshake and push encoding layer.
	LayerWire Layer = 1
	// LayerTally is the state computation layer.
	LayerTally Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerWire:
		return "WIRE"
	case LayerTally:
		return "TALLY"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	CategoryHandshake Category = 0
	CategoryUpdate    Category = 1
	CategoryKeepAlive Category = 2
	CategoryState     Category = 3
	CategoryError     Category = 4
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryHandshake:
		return "HANDSHAKE"
	case CategoryUpdate:
		return "UPDATE"
	case CategoryKeepAlive:
		return "KEEPALIVE"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// HandshakeEvent captures a parsed client handshake.
type HandshakeEvent struct {
	Format wire.Format `cbor:"1,keyasint"`

	// Codes are the raw input bytes as received.
	Codes []byte `cbor:"2,keyasint,omitempty"`

	// Inputs are the logical inputs after remapping and deduplication.
	Inputs []int `cbor:"3,keyasint,omitempty"`
}

// UpdateEvent captures one state push to a client.
type UpdateEvent struct {
	Input int         `cbor:"1,keyasint"`
	State tally.State `cbor:"2,keyasint"`

	// Data is the encoded push as written to the socket.
	Data []byte `cbor:"3,keyasint,omitempty"`
}

// KeepAliveEvent captures keep-alive traffic after the handshake.
type KeepAliveEvent struct {
	Size int `cbor:"1,keyasint"`

	// Echoed is set when the bytes were sent back (extended clients).
	Echoed bool `cbor:"2,keyasint,omitempty"`
}

// StateChangeEvent captures connection, input and link lifecycle events.
type StateChangeEvent struct {
	Entity StateEntity `cbor:"1,keyasint"`

	// Input is the tally input for StateEntityInput.
	Input int `cbor:"2,keyasint,omitempty"`

	OldState string `cbor:"3,keyasint,omitempty"`
	NewState string `cbor:"4,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"5,keyasint,omitempty"`
}

// StateEntity indicates what entity changed state.
type StateEntity uint8

const (
	StateEntityConnection StateEntity = 0
	StateEntityInput      StateEntity = 1
	StateEntityLink       StateEntity = 2
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityConnection:
		return "CONNECTION"
	case StateEntityInput:
		return "INPUT"
	case StateEntityLink:
		return "LINK"
	default:
		return "UNKNOWN"
	}
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	Layer   Layer  `cbor:"1,keyasint"`
	Message string `cbor:"2,keyasint"`

	// Context describes what operation was being performed.
	Context string `cbor:"3,keyasint,omitempty"`
}
