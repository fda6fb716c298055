package tally

// State is the broadcastable tally classification of one input.
// The numeric values are the wire encoding.
type State uint8

const (
	StateInactive       State = 0
	StatePreview        State = 1
	StateProgram        State = 2
	StatePreviewProgram State = 3
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateInactive:
		return "INACTIVE"
	case StatePreview:
		return "PREVIEW"
	case StateProgram:
		return "PROGRAM"
	case StatePreviewProgram:
		return "PREVIEW_PROGRAM"
	default:
		return "UNKNOWN"
	}
}

// Valid reports whether s is a defined state.
func (s State) Valid() bool {
	return s <= StatePreviewProgram
}

// OnAir reports whether the input is on program.
func (s State) OnAir() bool {
	return s == StateProgram || s == StatePreviewProgram
}

// Derive computes the state from the emptiness of the two reason sets.
func Derive(inPreview, inProgram bool) State {
	switch {
	case inProgram && inPreview:
		return StatePreviewProgram
	case inProgram:
		return StateProgram
	case inPreview:
		return StatePreview
	default:
		return StateInactive
	}
}
