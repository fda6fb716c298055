package wire

import (
	"errors"
	"fmt"
	"io"
	"slices"
)

// DefaultMaxInput is the highest input code accepted in a handshake.
const DefaultMaxInput = 10

// Handshake errors.
var (
	ErrInputOutOfRange = errors.New("wire: input out of range")
	ErrNoInputs        = errors.New("wire: handshake watches no inputs")
	ErrTooManyInputs   = errors.New("wire: legacy handshake carries one input")
)

// HandshakeConfig controls handshake validation.
type HandshakeConfig struct {
	// MaxInput is the highest accepted input code (default DefaultMaxInput).
	MaxInput int

	// Remap translates legacy wire codes (default DefaultRemapTable).
	Remap RemapTable
}

func (c HandshakeConfig) withDefaults() HandshakeConfig {
	if c.MaxInput <= 0 {
		c.MaxInput = DefaultMaxInput
	}
	if c.Remap == nil {
		c.Remap = DefaultRemapTable()
	}
	return c
}

// Handshake is a parsed client handshake.
type Handshake struct {
	Format Format

	// Codes are the raw input bytes as sent by the client.
	Codes []byte

	// Inputs are the logical inputs to watch, deduplicated, in request order.
	Inputs []int
}

// ReadHandshake reads and validates exactly one handshake from r. It never
// reads past the end of the handshake, so the caller can keep using r for
// keep-alive traffic.
func ReadHandshake(r io.Reader, config HandshakeConfig) (*Handshake, error) {
	config = config.withDefaults()

	var first [1]byte
	if _, err := io.ReadFull(r, first[:]); err != nil {
		return nil, err
	}

	if first[0] != ExtendedMarker {
		return legacyHandshake(first[0], config)
	}

	var count [1]byte
	if _, err := io.ReadFull(r, count[:]); err != nil {
		return nil, fmt.Errorf("wire: reading input count: %w", err)
	}
	codes := make([]byte, count[0])
	if _, err := io.ReadFull(r, codes); err != nil {
		return nil, fmt.Errorf("wire: reading inputs: %w", err)
	}
	return extendedHandshake(codes, config)
}

// ParseHandshake parses a handshake from a complete frame. It returns the
// number of bytes consumed; anything after that is keep-alive data.
func ParseHandshake(data []byte, config HandshakeConfig) (*Handshake, int, error) {
	config = config.withDefaults()

	if len(data) == 0 {
		return nil, 0, io.ErrUnexpectedEOF
	}
	if data[0] != ExtendedMarker {
		hs, err := legacyHandshake(data[0], config)
		return hs, 1, err
	}
	if len(data) < 2 {
		return nil, 0, io.ErrUnexpectedEOF
	}
	n := int(data[1])
	if len(data) < 2+n {
		return nil, 0, io.ErrUnexpectedEOF
	}
	hs, err := extendedHandshake(data[2:2+n], config)
	return hs, 2 + n, err
}

func legacyHandshake(code byte, config HandshakeConfig) (*Handshake, error) {
	if int(code) > config.MaxInput {
		return nil, fmt.Errorf("%w: %d > %d", ErrInputOutOfRange, code, config.MaxInput)
	}
	return &Handshake{
		Format: FormatLegacy,
		Codes:  []byte{code},
		Inputs: []int{config.Remap.Lookup(int(code))},
	}, nil
}

func extendedHandshake(codes []byte, config HandshakeConfig) (*Handshake, error) {
	if len(codes) == 0 {
		return nil, ErrNoInputs
	}
	inputs := make([]int, 0, len(codes))
	for _, code := range codes {
		if int(code) > config.MaxInput {
			return nil, fmt.Errorf("%w: %d > %d", ErrInputOutOfRange, code, config.MaxInput)
		}
		if !slices.Contains(inputs, int(code)) {
			inputs = append(inputs, int(code))
		}
	}
	return &Handshake{
		Format: FormatExtended,
		Codes:  slices.Clone(codes),
		Inputs: inputs,
	}, nil
}

// EncodeHandshake builds the handshake a client sends for inputs.
func EncodeHandshake(format Format, inputs []byte) ([]byte, error) {
	switch format {
	case FormatLegacy:
		if len(inputs) != 1 {
			return nil, ErrTooManyInputs
		}
		return []byte{inputs[0]}, nil
	case FormatExtended:
		if len(inputs) == 0 {
			return nil, ErrNoInputs
		}
		if len(inputs) > 255 {
			return nil, fmt.Errorf("wire: %d inputs exceed one count byte", len(inputs))
		}
		out := make([]byte, 0, 2+len(inputs))
		out = append(out, ExtendedMarker, byte(len(inputs)))
		return append(out, inputs...), nil
	default:
		return nil, fmt.Errorf("wire: unknown format %d", format)
	}
}
