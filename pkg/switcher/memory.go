package switcher

import (
	"errors"
	"sync"
)

// Layout defaults matching a single-ME production switcher.
const (
	DefaultMixEffects       = 1
	DefaultUpstreamKeyers   = 4
	DefaultDownstreamKeyers = 2
)

// ErrOutOfRange is returned when a mutation addresses a missing ME or keyer.
var ErrOutOfRange = errors.New("switcher: index out of range")

type listener struct {
	id uint64
	fn func(Change)
}

// Memory is a thread-safe switcher state store implementing Source.
//
// Drivers mutate it through the Set* methods; each mutation is announced to
// subscribers as a Change. Listeners are invoked serially, in mutation order,
// without the state lock held, so they may call State. Listeners must not
// mutate the store.
type Memory struct {
	mu        sync.RWMutex
	state     State
	listeners []listener
	nextID    uint64

	dispatchMu sync.Mutex
}

// NewMemory creates a store with the default layout.
func NewMemory() *Memory {
	return NewMemoryWithState(NewState(DefaultMixEffects, DefaultUpstreamKeyers, DefaultDownstreamKeyers))
}

// NewMemoryWithState creates a store seeded with state.
func NewMemoryWithState(state State) *Memory {
	return &Memory{state: state.Clone()}
}

// State returns a snapshot of the current state.
func (m *Memory) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Clone()
}

// Subscribe registers fn for change events.
func (m *Memory) Subscribe(fn func(Change)) func() {
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.listeners = append(m.listeners, listener{id: id, fn: fn})
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			for i, l := range m.listeners {
				if l.id == id {
					m.listeners = append(m.listeners[:i:i], m.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// ListenerCount returns the number of registered listeners.
func (m *Memory) ListenerCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.listeners)
}

// SetProgramInput sets the program bus source of ME me.
func (m *Memory) SetProgramInput(me, input int) error {
	return m.mutateME(me, Change{Kind: ChangeProgramInput, MixEffect: me}, func(x *MixEffect) {
		x.ProgramInput = input
	})
}

// SetPreviewInput sets the preview bus source of ME me.
func (m *Memory) SetPreviewInput(me, input int) error {
	return m.mutateME(me, Change{Kind: ChangePreviewInput, MixEffect: me}, func(x *MixEffect) {
		x.PreviewInput = input
	})
}

// SetInTransition sets the transition-in-progress flag of ME me.
func (m *Memory) SetInTransition(me int, inTransition bool) error {
	return m.mutateME(me, Change{Kind: ChangeTransition, MixEffect: me}, func(x *MixEffect) {
		x.InTransition = inTransition
	})
}

// SetTransitionSelection sets the next-transition bitmask of ME me.
func (m *Memory) SetTransitionSelection(me int, selection uint8) error {
	return m.mutateME(me, Change{Kind: ChangeTransitionProperties, MixEffect: me}, func(x *MixEffect) {
		x.TransitionSelection = selection
	})
}

// SetUpstreamKeyer replaces upstream keyer index of ME me.
func (m *Memory) SetUpstreamKeyer(me, index int, keyer UpstreamKeyer) error {
	return m.UpdateUpstreamKeyer(me, index, func(k *UpstreamKeyer) { *k = keyer })
}

// UpdateUpstreamKeyer applies fn to upstream keyer index of ME me.
func (m *Memory) UpdateUpstreamKeyer(me, index int, fn func(*UpstreamKeyer)) error {
	m.dispatchMu.Lock()
	defer m.dispatchMu.Unlock()

	m.mu.Lock()
	if me < 0 || me >= len(m.state.MixEffects) {
		m.mu.Unlock()
		return ErrOutOfRange
	}
	keyers := m.state.MixEffects[me].UpstreamKeyers
	if index < 0 || index >= len(keyers) {
		m.mu.Unlock()
		return ErrOutOfRange
	}
	fn(&keyers[index])
	ls := m.snapshotListeners()
	m.mu.Unlock()

	dispatch(ls, Change{Kind: ChangeUpstreamKeyer, MixEffect: me, Index: index})
	return nil
}

// SetDownstreamKeyer replaces downstream keyer index.
func (m *Memory) SetDownstreamKeyer(index int, keyer DownstreamKeyer) error {
	return m.UpdateDownstreamKeyer(index, func(k *DownstreamKeyer) { *k = keyer })
}

// UpdateDownstreamKeyer applies fn to downstream keyer index.
func (m *Memory) UpdateDownstreamKeyer(index int, fn func(*DownstreamKeyer)) error {
	m.dispatchMu.Lock()
	defer m.dispatchMu.Unlock()

	m.mu.Lock()
	if index < 0 || index >= len(m.state.DownstreamKeyers) {
		m.mu.Unlock()
		return ErrOutOfRange
	}
	fn(&m.state.DownstreamKeyers[index])
	ls := m.snapshotListeners()
	m.mu.Unlock()

	dispatch(ls, Change{Kind: ChangeDownstreamKeyer, Index: index})
	return nil
}

// Cut swaps program and preview of ME me.
func (m *Memory) Cut(me int) error {
	m.dispatchMu.Lock()
	defer m.dispatchMu.Unlock()

	m.mu.Lock()
	if me < 0 || me >= len(m.state.MixEffects) {
		m.mu.Unlock()
		return ErrOutOfRange
	}
	x := &m.state.MixEffects[me]
	x.ProgramInput, x.PreviewInput = x.PreviewInput, x.ProgramInput
	ls := m.snapshotListeners()
	m.mu.Unlock()

	dispatch(ls, Change{Kind: ChangeProgramInput, MixEffect: me})
	dispatch(ls, Change{Kind: ChangePreviewInput, MixEffect: me})
	return nil
}

// Replace swaps in a complete state, as after a (re)connect, and announces
// every part of it.
func (m *Memory) Replace(state State) {
	m.dispatchMu.Lock()
	defer m.dispatchMu.Unlock()

	m.mu.Lock()
	m.state = state.Clone()
	ls := m.snapshotListeners()
	m.mu.Unlock()

	for me, x := range state.MixEffects {
		dispatch(ls, Change{Kind: ChangeProgramInput, MixEffect: me})
		dispatch(ls, Change{Kind: ChangePreviewInput, MixEffect: me})
		dispatch(ls, Change{Kind: ChangeTransitionProperties, MixEffect: me})
		dispatch(ls, Change{Kind: ChangeTransition, MixEffect: me})
		for i := range x.UpstreamKeyers {
			dispatch(ls, Change{Kind: ChangeUpstreamKeyer, MixEffect: me, Index: i})
		}
	}
	for i := range state.DownstreamKeyers {
		dispatch(ls, Change{Kind: ChangeDownstreamKeyer, Index: i})
	}
}

func (m *Memory) mutateME(me int, change Change, fn func(*MixEffect)) error {
	m.dispatchMu.Lock()
	defer m.dispatchMu.Unlock()

	m.mu.Lock()
	if me < 0 || me >= len(m.state.MixEffects) {
		m.mu.Unlock()
		return ErrOutOfRange
	}
	fn(&m.state.MixEffects[me])
	ls := m.snapshotListeners()
	m.mu.Unlock()

	dispatch(ls, change)
	return nil
}

// snapshotListeners must be called with m.mu held.
func (m *Memory) snapshotListeners() []listener {
	return append([]listener(nil), m.listeners...)
}

func dispatch(ls []listener, change Change) {
	for _, l := range ls {
		l.fn(change)
	}
}

// Compile-time interface satisfaction check.
var _ Source = (*Memory)(nil)
