package switcher

import "fmt"

// ChangeKind identifies which part of the mix state changed.
type ChangeKind uint8

const (
	ChangeProgramInput ChangeKind = iota
	ChangePreviewInput
	ChangeTransition
	ChangeTransitionProperties
	ChangeUpstreamKeyer
	ChangeDownstreamKeyer
)

// String returns the change kind name.
func (k ChangeKind) String() string {
	switch k {
	case ChangeProgramInput:
		return "PROGRAM_INPUT"
	case ChangePreviewInput:
		return "PREVIEW_INPUT"
	case ChangeTransition:
		return "TRANSITION"
	case ChangeTransitionProperties:
		return "TRANSITION_PROPERTIES"
	case ChangeUpstreamKeyer:
		return "UPSTREAM_KEYER"
	case ChangeDownstreamKeyer:
		return "DOWNSTREAM_KEYER"
	default:
		return "UNKNOWN"
	}
}

// Change describes one mutation of the switcher state.
type Change struct {
	Kind ChangeKind

	// MixEffect is the ME the change applies to. Unused for
	// ChangeDownstreamKeyer.
	MixEffect int

	// Index is the keyer index for ChangeUpstreamKeyer and
	// ChangeDownstreamKeyer.
	Index int
}

func (c Change) String() string {
	switch c.Kind {
	case ChangeUpstreamKeyer:
		return fmt.Sprintf("%s(me=%d,usk=%d)", c.Kind, c.MixEffect, c.Index)
	case ChangeDownstreamKeyer:
		return fmt.Sprintf("%s(dsk=%d)", c.Kind, c.Index)
	default:
		return fmt.Sprintf("%s(me=%d)", c.Kind, c.MixEffect)
	}
}

// Source is the read side of a switcher client consumed by the tally core.
type Source interface {
	// State returns a snapshot of the current mix state.
	State() State

	// Subscribe registers fn for change events. The returned function
	// removes the registration and is safe to call more than once.
	Subscribe(fn func(Change)) (unsubscribe func())
}
