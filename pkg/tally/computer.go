package tally

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/milux/ATEM-Tally/pkg/switcher"
)

// Errors raised by inconsistent switcher state. They abort the current
// update cycle of the affected computer only.
var (
	ErrInvalidMixEffect = errors.New("tally: mix effect not present in switcher state")
	ErrInvalidKeyer     = errors.New("tally: keyer index not present in switcher state")
)

// Reason tokens.
const (
	ReasonProgramInput = "programInput"
	ReasonPreviewInput = "previewInput"
	ReasonTransition   = "transition"
)

func uskReason(i int) string           { return "usk." + strconv.Itoa(i) }
func uskTransitionReason(i int) string { return "uskTransition." + strconv.Itoa(i) }
func dskReason(i int) string           { return "dsk." + strconv.Itoa(i) }

// ComputerConfig configures a Computer.
type ComputerConfig struct {
	// MixEffect is the ME whose buses and keyers are watched (default 0).
	MixEffect int

	// Logger is the optional logger for debug output.
	Logger *slog.Logger
}

// Computer derives the tally state of one input from a switcher Source.
type Computer struct {
	source switcher.Source
	input  int
	config ComputerConfig

	mu        sync.Mutex
	preview   *ReasonSet
	program   *ReasonSet
	state     State
	dirty     bool
	destroyed bool
	detach    func()

	listeners map[uint64]func(State)
	nextID    uint64
}

// NewComputer creates a computer for input watching ME 0.
func NewComputer(source switcher.Source, input int) *Computer {
	return NewComputerWithConfig(source, input, ComputerConfig{})
}

// NewComputerWithConfig creates a computer for input. It attaches to the
// source's change feed and evaluates the full state once before returning.
func NewComputerWithConfig(source switcher.Source, input int, config ComputerConfig) *Computer {
	c := &Computer{
		source:    source,
		input:     input,
		config:    config,
		preview:   NewReasonSet(),
		program:   NewReasonSet(),
		listeners: make(map[uint64]func(State)),
	}

	markDirty := func(bool) { c.dirty = true }
	c.preview.Subscribe(markDirty)
	c.program.Subscribe(markDirty)

	// Attach before evaluating so no change slips between the two.
	c.mu.Lock()
	c.detach = source.Subscribe(c.handleChange)
	if err := c.evaluateAll(source.State()); err != nil {
		c.debugLog("initial evaluation incomplete", "error", err)
	}
	c.state = Derive(!c.preview.IsEmpty(), !c.program.IsEmpty())
	c.dirty = false
	c.mu.Unlock()

	c.debugLog("tally ready", "state", c.state.String())
	return c
}

// Input returns the watched input number.
func (c *Computer) Input() int {
	return c.input
}

// State returns the current tally state.
func (c *Computer) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// PreviewReasons returns the current preview reasons.
func (c *Computer) PreviewReasons() []string {
	return c.preview.Reasons()
}

// ProgramReasons returns the current program reasons.
func (c *Computer) ProgramReasons() []string {
	return c.program.Reasons()
}

// Subscribe registers fn for state changes. fn is called once per actual
// value change, in change order.
func (c *Computer) Subscribe(fn func(State)) (unsubscribe func()) {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.listeners[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// Destroy detaches the computer from the switcher feed. It is idempotent.
func (c *Computer) Destroy() {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	c.destroyed = true
	detach := c.detach
	c.detach = nil
	c.listeners = make(map[uint64]func(State))
	c.mu.Unlock()

	if detach != nil {
		detach()
	}
	c.debugLog("tally destroyed")
}

// Destroyed reports whether Destroy has been called.
func (c *Computer) Destroyed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.destroyed
}

// Refresh re-runs every handler against the current switcher state.
func (c *Computer) Refresh() error {
	return c.apply(func(s switcher.State) error {
		return c.evaluateAll(s)
	})
}

// handleChange is the switcher feed callback.
func (c *Computer) handleChange(change switcher.Change) {
	if change.Kind != switcher.ChangeDownstreamKeyer && change.MixEffect != c.config.MixEffect {
		return
	}
	err := c.apply(func(s switcher.State) error {
		return c.dispatch(s, change)
	})
	if err != nil {
		c.logger().Error("tally update aborted",
			"input", c.input, "change", change.String(), "error", err)
	}
}

// apply runs fn under the lock and publishes a state change if the derived
// state differs afterwards.
func (c *Computer) apply(fn func(switcher.State) error) error {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return nil
	}

	err := fn(c.source.State())

	var (
		notify []func(State)
		state  State
	)
	if c.dirty {
		c.dirty = false
		state = Derive(!c.preview.IsEmpty(), !c.program.IsEmpty())
		if state != c.state {
			c.debugLog("tally state changed",
				"old", c.state.String(), "new", state.String(),
				"preview", c.preview.Reasons(), "program", c.program.Reasons())
			c.state = state
			for _, fn := range c.listeners {
				notify = append(notify, fn)
			}
		}
	}
	c.mu.Unlock()

	for _, fn := range notify {
		fn(state)
	}
	return err
}

func (c *Computer) dispatch(s switcher.State, change switcher.Change) error {
	switch change.Kind {
	case switcher.ChangeProgramInput, switcher.ChangePreviewInput:
		// Both buses are re-read so a cut settles in a single cycle.
		return errors.Join(c.handleProgramInput(s), c.handlePreviewInput(s), c.handleTransitionBackground(s))
	case switcher.ChangeTransition:
		return errors.Join(c.handleTransitionBackground(s), c.handleUskTransition(s))
	case switcher.ChangeTransitionProperties:
		return errors.Join(c.handleTransitionBackground(s), c.handleUskPreview(s), c.handleUskTransition(s))
	case switcher.ChangeUpstreamKeyer:
		return errors.Join(c.handleUskPreview(s), c.handleUskTransition(s), c.handleUskOnAir(s, change.Index))
	case switcher.ChangeDownstreamKeyer:
		return c.handleDsk(s, change.Index)
	}
	return nil
}

func (c *Computer) evaluateAll(s switcher.State) error {
	errs := []error{
		c.handleProgramInput(s),
		c.handlePreviewInput(s),
		c.handleTransitionBackground(s),
		c.handleUskPreview(s),
		c.handleUskTransition(s),
	}
	if me, ok := s.MixEffect(c.config.MixEffect); ok {
		for i := range me.UpstreamKeyers {
			errs = append(errs, c.handleUskOnAir(s, i))
		}
	}
	for i := range s.DownstreamKeyers {
		errs = append(errs, c.handleDsk(s, i))
	}
	return errors.Join(errs...)
}

func (c *Computer) me(s switcher.State) (switcher.MixEffect, error) {
	me, ok := s.MixEffect(c.config.MixEffect)
	if !ok {
		return switcher.MixEffect{}, fmt.Errorf("%w: me %d", ErrInvalidMixEffect, c.config.MixEffect)
	}
	return me, nil
}

func (c *Computer) handleProgramInput(s switcher.State) error {
	me, err := c.me(s)
	if err != nil {
		return err
	}
	c.program.Set(ReasonProgramInput, me.ProgramInput == c.input)
	return nil
}

func (c *Computer) handlePreviewInput(s switcher.State) error {
	me, err := c.me(s)
	if err != nil {
		return err
	}
	c.preview.Set(ReasonPreviewInput, me.PreviewInput == c.input)
	return nil
}

// handleTransitionBackground marks the preview source as on air while a
// background transition is taking it to program.
func (c *Computer) handleTransitionBackground(s switcher.State) error {
	me, err := c.me(s)
	if err != nil {
		return err
	}
	onAir := me.InTransition &&
		me.TransitionSelection&switcher.SelectionBackground != 0 &&
		me.PreviewInput == c.input
	c.program.Set(ReasonTransition, onAir)
	return nil
}

// handleUskPreview marks keyers selected for the next transition.
func (c *Computer) handleUskPreview(s switcher.State) error {
	me, err := c.me(s)
	if err != nil {
		return err
	}
	for i, usk := range me.UpstreamKeyers {
		selected := me.TransitionSelection&switcher.SelectionKeyer(i) != 0
		c.preview.Set(uskReason(i), selected && usk.Uses(c.input))
	}
	return nil
}

// handleUskTransition marks selected keyers as on air while the transition
// runs. Tagged separately from handleUskOnAir so the two never interfere.
func (c *Computer) handleUskTransition(s switcher.State) error {
	me, err := c.me(s)
	if err != nil {
		return err
	}
	for i, usk := range me.UpstreamKeyers {
		selected := me.TransitionSelection&switcher.SelectionKeyer(i) != 0
		c.program.Set(uskTransitionReason(i), selected && me.InTransition && usk.Uses(c.input))
	}
	return nil
}

func (c *Computer) handleUskOnAir(s switcher.State, index int) error {
	me, err := c.me(s)
	if err != nil {
		return err
	}
	if index < 0 || index >= len(me.UpstreamKeyers) {
		return fmt.Errorf("%w: usk %d", ErrInvalidKeyer, index)
	}
	usk := me.UpstreamKeyers[index]
	c.program.Set(uskReason(index), usk.OnAir && usk.Uses(c.input))
	return nil
}

func (c *Computer) handleDsk(s switcher.State, index int) error {
	if index < 0 || index >= len(s.DownstreamKeyers) {
		return fmt.Errorf("%w: dsk %d", ErrInvalidKeyer, index)
	}
	dsk := s.DownstreamKeyers[index]
	relevant := dsk.Uses(c.input)
	c.preview.Set(dskReason(index), relevant && dsk.Tie)
	c.program.Set(dskReason(index), relevant && dsk.OnAir)
	return nil
}

func (c *Computer) logger() *slog.Logger {
	if c.config.Logger != nil {
		return c.config.Logger
	}
	return slog.Default()
}

func (c *Computer) debugLog(msg string, args ...any) {
	if c.config.Logger != nil {
		c.config.Logger.Debug(msg, append([]any{"input", c.input}, args...)...)
	}
}
