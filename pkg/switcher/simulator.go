package switcher

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// DefaultSimulateInterval is the default delay between simulated scenes.
const DefaultSimulateInterval = 3 * time.Second

// ErrTooFewInputs is returned when a simulation has fewer than two inputs.
var ErrTooFewInputs = errors.New("switcher: simulation needs at least two inputs")

// SimulatorConfig configures a Simulator.
type SimulatorConfig struct {
	// Inputs are the sources cycled through (default 1..4).
	Inputs []int

	// Interval between scenes (default 3s). A negative interval disables
	// the ticker; scenes then only advance through Step.
	Interval time.Duration

	// MixEffect is the ME driven.
	MixEffect int

	// Logger is the optional logger.
	Logger *slog.Logger
}

// Simulator is a Driver that plays a fixed show on a Memory store, so the
// relay can run without a switcher.
//
// Scenes repeat in a cycle of four: cut, keyer toggle, auto transition
// start, auto transition end.
type Simulator struct {
	mem    *Memory
	config SimulatorConfig

	mu           sync.Mutex
	step         int
	running      bool
	stopCh       chan struct{}
	disconnected chan struct{}
	wg           sync.WaitGroup
}

// NewSimulator creates a simulator driving mem.
func NewSimulator(mem *Memory, config SimulatorConfig) (*Simulator, error) {
	if len(config.Inputs) == 0 {
		config.Inputs = []int{1, 2, 3, 4}
	}
	if len(config.Inputs) < 2 {
		return nil, ErrTooFewInputs
	}
	if config.Interval == 0 {
		config.Interval = DefaultSimulateInterval
	}
	closed := make(chan struct{})
	close(closed)
	return &Simulator{mem: mem, config: config, disconnected: closed}, nil
}

// Connect resets the store to the opening scene and starts the show.
// The address is ignored.
func (s *Simulator) Connect(ctx context.Context, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	state := s.mem.State()
	me := s.config.MixEffect
	if me < 0 || me >= len(state.MixEffects) {
		return ErrOutOfRange
	}
	x := &state.MixEffects[me]
	x.ProgramInput = s.config.Inputs[0]
	x.PreviewInput = s.config.Inputs[1]
	x.InTransition = false
	x.TransitionSelection = SelectionBackground
	for i := range x.UpstreamKeyers {
		x.UpstreamKeyers[i].OnAir = false
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.step = 0
	s.stopCh = make(chan struct{})
	s.disconnected = make(chan struct{})
	stopCh := s.stopCh
	s.mu.Unlock()

	s.mem.Replace(state)
	s.debugLog("simulation started", "inputs", s.config.Inputs, "interval", s.config.Interval)

	if s.config.Interval > 0 {
		s.wg.Add(1)
		go s.loop(stopCh)
	}
	return nil
}

// Disconnected returns a channel closed when the simulated session ends.
func (s *Simulator) Disconnected() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disconnected
}

// Drop ends the current session as if the switcher went away.
func (s *Simulator) Drop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	close(s.disconnected)
	s.mu.Unlock()

	s.wg.Wait()
}

// Close stops the show.
func (s *Simulator) Close() error {
	s.Drop()
	return nil
}

func (s *Simulator) loop(stopCh chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if err := s.Step(); err != nil {
				s.logger().Error("simulation step failed", "error", err)
			}
		}
	}
}

// Step plays the next scene.
func (s *Simulator) Step() error {
	s.mu.Lock()
	step := s.step
	s.step++
	s.mu.Unlock()

	me := s.config.MixEffect
	x, ok := s.mem.State().MixEffect(me)
	if !ok {
		return ErrOutOfRange
	}

	switch step % 4 {
	case 0:
		if err := s.mem.Cut(me); err != nil {
			return err
		}
		return s.mem.SetPreviewInput(me, s.next(x.ProgramInput, x.PreviewInput))
	case 1:
		if len(x.UpstreamKeyers) == 0 {
			return nil
		}
		fill := s.next(x.PreviewInput, x.ProgramInput)
		return s.mem.UpdateUpstreamKeyer(me, 0, func(k *UpstreamKeyer) {
			if !k.OnAir {
				k.FillSource = fill
				k.CutSource = fill
			}
			k.OnAir = !k.OnAir
		})
	case 2:
		if err := s.mem.SetTransitionSelection(me, SelectionBackground); err != nil {
			return err
		}
		return s.mem.SetInTransition(me, true)
	default:
		if err := s.mem.Cut(me); err != nil {
			return err
		}
		if err := s.mem.SetInTransition(me, false); err != nil {
			return err
		}
		return s.mem.SetPreviewInput(me, s.next(x.ProgramInput, x.PreviewInput))
	}
}

// next returns the input after current in the rotation, skipping avoid.
func (s *Simulator) next(current, avoid int) int {
	inputs := s.config.Inputs
	i := slices.Index(inputs, current)
	for n := 1; n <= len(inputs); n++ {
		candidate := inputs[(i+n+len(inputs))%len(inputs)]
		if candidate != avoid {
			return candidate
		}
	}
	return current
}

func (s *Simulator) logger() *slog.Logger {
	if s.config.Logger != nil {
		return s.config.Logger
	}
	return slog.Default()
}

func (s *Simulator) debugLog(msg string, args ...any) {
	if s.config.Logger != nil {
		s.config.Logger.Debug(msg, args...)
	}
}

var _ Driver = (*Simulator)(nil)
