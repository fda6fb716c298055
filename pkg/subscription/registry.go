package subscription

import (
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/milux/ATEM-Tally/pkg/log"
	"github.com/milux/ATEM-Tally/pkg/switcher"
	"github.com/milux/ATEM-Tally/pkg/tally"
)

// Registry errors.
var (
	ErrAlreadySubscribed = errors.New("subscription: client already subscribed")
	ErrNoInputs          = errors.New("subscription: no inputs requested")
	ErrClosed            = errors.New("subscription: registry closed")
)

// Client receives state pushes for the inputs it subscribed to.
type Client interface {
	// ID returns a unique client identifier.
	ID() string

	// Push queues a state for delivery. It must not block. It returns
	// false if the push was dropped.
	Push(input int, state tally.State) bool
}

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	// MixEffect is the ME watched by every computer.
	MixEffect int

	// Logger is the optional logger. Tally changes are logged at info level.
	Logger *slog.Logger

	// ProtocolLogger receives input state change events. Nil disables capture.
	ProtocolLogger log.Logger
}

type inputEntry struct {
	computer    *tally.Computer
	unsubscribe func()
	subscribers map[string]Client

	// last is the state most recently sent to subscribers.
	last tally.State
}

type clientEntry struct {
	client Client
	inputs []int
}

// InputStatus is a snapshot of one watched input.
type InputStatus struct {
	Input          int
	State          tally.State
	Subscribers    int
	PreviewReasons []string
	ProgramReasons []string
}

// Registry tracks which clients watch which inputs.
type Registry struct {
	source switcher.Source
	config RegistryConfig

	mu      sync.Mutex
	inputs  map[int]*inputEntry
	clients map[string]*clientEntry
	closed  bool
}

// NewRegistry creates a registry computing tallies from source.
func NewRegistry(source switcher.Source) *Registry {
	return NewRegistryWithConfig(source, RegistryConfig{})
}

// NewRegistryWithConfig creates a registry with custom configuration.
func NewRegistryWithConfig(source switcher.Source, config RegistryConfig) *Registry {
	return &Registry{
		source:  source,
		config:  config,
		inputs:  make(map[int]*inputEntry),
		clients: make(map[string]*clientEntry),
	}
}

// Subscribe registers client for inputs and pushes the current state of
// each input to it. Duplicate inputs are ignored. It returns the states
// pushed.
func (r *Registry) Subscribe(client Client, inputs []int) (map[int]tally.State, error) {
	if len(inputs) == 0 {
		return nil, ErrNoInputs
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrClosed
	}
	id := client.ID()
	if _, exists := r.clients[id]; exists {
		return nil, ErrAlreadySubscribed
	}

	ce := &clientEntry{client: client}
	initial := make(map[int]tally.State, len(inputs))
	for _, input := range inputs {
		if slices.Contains(ce.inputs, input) {
			continue
		}
		ce.inputs = append(ce.inputs, input)

		entry := r.inputs[input]
		if entry == nil {
			entry = r.trackLocked(input)
		}
		entry.subscribers[id] = client

		initial[input] = entry.last
		client.Push(input, entry.last)
	}
	r.clients[id] = ce

	r.debugLog("client subscribed", "client", id, "inputs", ce.inputs)
	return initial, nil
}

// trackLocked starts computing input.
func (r *Registry) trackLocked(input int) *inputEntry {
	computer := tally.NewComputerWithConfig(r.source, input, tally.ComputerConfig{
		MixEffect: r.config.MixEffect,
		Logger:    r.config.Logger,
	})
	entry := &inputEntry{
		computer:    computer,
		subscribers: make(map[string]Client),
	}
	// Listen before reading the state; events racing the read are
	// deduplicated against it once the lock is released.
	entry.unsubscribe = computer.Subscribe(func(state tally.State) {
		r.handleState(input, computer, state)
	})
	entry.last = computer.State()
	r.inputs[input] = entry

	r.debugLog("tracking input", "input", input, "state", entry.last.String())
	return entry
}

// Unsubscribe removes the client from all its inputs. Inputs left without
// subscribers stop being computed. Unknown IDs are ignored.
func (r *Registry) Unsubscribe(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ce, ok := r.clients[clientID]
	if !ok {
		return
	}
	delete(r.clients, clientID)

	for _, input := range ce.inputs {
		entry := r.inputs[input]
		if entry == nil {
			continue
		}
		delete(entry.subscribers, clientID)
		if len(entry.subscribers) == 0 {
			r.untrackLocked(input, entry)
		}
	}
	r.debugLog("client unsubscribed", "client", clientID)
}

func (r *Registry) untrackLocked(input int, entry *inputEntry) {
	entry.unsubscribe()
	entry.computer.Destroy()
	delete(r.inputs, input)
	r.debugLog("input released", "input", input)
}

// Notify records state as the current state of input. It returns the
// subscribers to push to, or nil if the input is not tracked or the state
// was already sent.
func (r *Registry) Notify(input int, state tally.State) []Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry := r.inputs[input]
	if entry == nil {
		return nil
	}
	return r.notifyLocked(entry, state)
}

func (r *Registry) notifyLocked(entry *inputEntry, state tally.State) []Client {
	if entry.last == state {
		return nil
	}
	entry.last = state

	clients := make([]Client, 0, len(entry.subscribers))
	for _, c := range entry.subscribers {
		clients = append(clients, c)
	}
	slices.SortFunc(clients, func(a, b Client) int {
		return strings.Compare(a.ID(), b.ID())
	})
	return clients
}

// handleState is the computer change callback.
func (r *Registry) handleState(input int, computer *tally.Computer, state tally.State) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry := r.inputs[input]
	if entry == nil || entry.computer != computer {
		// Released while the event was in flight.
		return
	}
	old := entry.last
	clients := r.notifyLocked(entry, state)
	if clients == nil {
		return
	}

	preview := computer.PreviewReasons()
	program := computer.ProgramReasons()
	r.logger().Info("tally changed",
		"input", input,
		"state", state.String(),
		"preview", preview,
		"program", program,
		"subscribers", len(clients))
	r.logEvent(log.Event{
		Timestamp: time.Now(),
		Direction: log.DirectionOut,
		Layer:     log.LayerTally,
		Category:  log.CategoryState,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityInput,
			Input:    input,
			OldState: old.String(),
			NewState: state.String(),
			Reason:   strings.Join(slices.Concat(preview, program), ","),
		},
	})

	for _, c := range clients {
		if !c.Push(input, state) {
			r.logger().Warn("push dropped", "client", c.ID(), "input", input)
		}
	}
}

// Inputs returns the tracked inputs in ascending order.
func (r *Registry) Inputs() []int {
	r.mu.Lock()
	defer r.mu.Unlock()

	inputs := make([]int, 0, len(r.inputs))
	for input := range r.inputs {
		inputs = append(inputs, input)
	}
	slices.Sort(inputs)
	return inputs
}

// Clients returns the subscribed client IDs in ascending order.
func (r *Registry) Clients() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.clients))
	for id := range r.clients {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// ClientInputs returns the inputs a client watches, or nil if unknown.
func (r *Registry) ClientInputs(clientID string) []int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ce, ok := r.clients[clientID]; ok {
		return slices.Clone(ce.inputs)
	}
	return nil
}

// Snapshot returns the status of every tracked input, ordered by input.
func (r *Registry) Snapshot() []InputStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]InputStatus, 0, len(r.inputs))
	for input, entry := range r.inputs {
		out = append(out, InputStatus{
			Input:          input,
			State:          entry.last,
			Subscribers:    len(entry.subscribers),
			PreviewReasons: entry.computer.PreviewReasons(),
			ProgramReasons: entry.computer.ProgramReasons(),
		})
	}
	slices.SortFunc(out, func(a, b InputStatus) int { return a.Input - b.Input })
	return out
}

// Close releases every computer and drops all clients. Later Subscribe
// calls fail with ErrClosed.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	for input, entry := range r.inputs {
		r.untrackLocked(input, entry)
	}
	clear(r.clients)
}

func (r *Registry) logEvent(event log.Event) {
	if r.config.ProtocolLogger != nil {
		r.config.ProtocolLogger.Log(event)
	}
}

func (r *Registry) logger() *slog.Logger {
	if r.config.Logger != nil {
		return r.config.Logger
	}
	return slog.Default()
}

func (r *Registry) debugLog(msg string, args ...any) {
	if r.config.Logger != nil {
		r.config.Logger.Debug(msg, args...)
	}
}
