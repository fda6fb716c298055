package wire

import "github.com/milux/ATEM-Tally/pkg/tally"

// Format identifies the wire format a client speaks.
type Format uint8

const (
	FormatLegacy   Format = 0
	FormatExtended Format = 1
)

// String returns the format name.
func (f Format) String() string {
	switch f {
	case FormatLegacy:
		return "LEGACY"
	case FormatExtended:
		return "EXTENDED"
	default:
		return "UNKNOWN"
	}
}

// ExtendedMarker is the first handshake byte selecting the extended format.
const ExtendedMarker byte = 0xFF

// KeepAlive is the keep-alive frame sent by tally-watch. Its second byte is
// not a valid state, so the echo can be told apart from an update.
var KeepAlive = []byte{0xFF, 0xFF}

// EncodeUpdate encodes one state push for a client of the given format.
func EncodeUpdate(format Format, input int, state tally.State) []byte {
	if format == FormatExtended {
		return []byte{byte(input), byte(state)}
	}
	return []byte{byte(LegacyState(state))}
}

// LegacyState maps a state onto the three values legacy clients understand.
// A client that cannot show the combined state must see it as on air.
func LegacyState(state tally.State) tally.State {
	if state == tally.StatePreviewProgram {
		return tally.StateProgram
	}
	return state
}

// UpdateSize returns the size of one push in the given format.
func UpdateSize(format Format) int {
	if format == FormatExtended {
		return 2
	}
	return 1
}
