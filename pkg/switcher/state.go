package switcher

// Selection bits of the transition selection bitmask.
const (
	// SelectionBackground selects the background (program/preview) layer.
	SelectionBackground uint8 = 1 << 0
)

// SelectionKeyer returns the selection bit for upstream keyer i.
func SelectionKeyer(i int) uint8 {
	return 1 << (i + 1)
}

// UpstreamKeyer is the tally-relevant state of one upstream keyer.
type UpstreamKeyer struct {
	FillSource int
	CutSource  int
	OnAir      bool
}

// Uses reports whether the keyer takes its fill or cut from input.
func (k UpstreamKeyer) Uses(input int) bool {
	return k.FillSource == input || k.CutSource == input
}

// DownstreamKeyer is the tally-relevant state of one downstream keyer.
type DownstreamKeyer struct {
	FillSource int
	CutSource  int
	Tie        bool
	OnAir      bool
}

// Uses reports whether the keyer takes its fill or cut from input.
func (k DownstreamKeyer) Uses(input int) bool {
	return k.FillSource == input || k.CutSource == input
}

// MixEffect is the state of one mix effects engine.
type MixEffect struct {
	ProgramInput int
	PreviewInput int

	// InTransition is true while a transition is running.
	InTransition bool

	// TransitionSelection is the next-transition bitmask: bit 0 is the
	// background, bit i+1 is upstream keyer i.
	TransitionSelection uint8

	UpstreamKeyers []UpstreamKeyer
}

// State is a snapshot of the switcher mix state.
type State struct {
	MixEffects       []MixEffect
	DownstreamKeyers []DownstreamKeyer
}

// Clone returns a deep copy of the state.
func (s State) Clone() State {
	out := State{
		MixEffects:       make([]MixEffect, len(s.MixEffects)),
		DownstreamKeyers: append([]DownstreamKeyer(nil), s.DownstreamKeyers...),
	}
	for i, me := range s.MixEffects {
		me.UpstreamKeyers = append([]UpstreamKeyer(nil), me.UpstreamKeyers...)
		out.MixEffects[i] = me
	}
	return out
}

// MixEffect returns ME index me and whether it exists.
func (s State) MixEffect(me int) (MixEffect, bool) {
	if me < 0 || me >= len(s.MixEffects) {
		return MixEffect{}, false
	}
	return s.MixEffects[me], true
}

// NewState returns a zeroed state with the given layout. Keyer sources are
// set to -1 so that no input matches them until the switcher reports real
// values.
func NewState(mixEffects, upstreamKeyers, downstreamKeyers int) State {
	s := State{
		MixEffects:       make([]MixEffect, mixEffects),
		DownstreamKeyers: make([]DownstreamKeyer, downstreamKeyers),
	}
	for i := range s.MixEffects {
		s.MixEffects[i].ProgramInput = -1
		s.MixEffects[i].PreviewInput = -1
		s.MixEffects[i].UpstreamKeyers = make([]UpstreamKeyer, upstreamKeyers)
		for k := range s.MixEffects[i].UpstreamKeyers {
			s.MixEffects[i].UpstreamKeyers[k] = UpstreamKeyer{FillSource: -1, CutSource: -1}
		}
	}
	for i := range s.DownstreamKeyers {
		s.DownstreamKeyers[i] = DownstreamKeyer{FillSource: -1, CutSource: -1}
	}
	return s
}
