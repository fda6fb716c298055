package connection

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Manager errors.
var (
	ErrClosed           = errors.New("connection: manager closed")
	ErrAlreadyConnected = errors.New("connection: already connected")
)

// State represents the link state.
type State uint8

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// ConnectFunc establishes the link. It returns nil on success.
type ConnectFunc func(ctx context.Context) error

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// Backoff paces reconnection attempts (default NewBackoff()).
	Backoff *Backoff

	// ConnectTimeout bounds one attempt. Zero means no limit beyond the
	// manager's lifetime.
	ConnectTimeout time.Duration
}

// Manager keeps a link up, reconnecting with backoff after loss.
type Manager struct {
	mu sync.RWMutex

	state     State
	backoff   *Backoff
	connectFn ConnectFunc
	config    ManagerConfig

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	reconnectCh chan struct{}
	loopOnce    sync.Once
	immediate   bool

	onStateChange  func(oldState, newState State)
	onConnected    func()
	onReconnecting func(attempt int, delay time.Duration, lastErr error)
}

// NewManager creates a manager with default backoff.
func NewManager(connectFn ConnectFunc) *Manager {
	return NewManagerWithConfig(connectFn, ManagerConfig{})
}

// NewManagerWithConfig creates a manager with custom configuration.
func NewManagerWithConfig(connectFn ConnectFunc, config ManagerConfig) *Manager {
	if config.Backoff == nil {
		config.Backoff = NewBackoff()
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		state:       StateDisconnected,
		backoff:     config.Backoff,
		connectFn:   connectFn,
		config:      config,
		ctx:         ctx,
		cancel:      cancel,
		reconnectCh: make(chan struct{}, 1),
	}
}

// State returns the current link state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// IsConnected returns true if currently connected.
func (m *Manager) IsConnected() bool {
	return m.State() == StateConnected
}

// Connect makes one connection attempt.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case StateConnected:
		m.mu.Unlock()
		return ErrAlreadyConnected
	case StateClosed:
		m.mu.Unlock()
		return ErrClosed
	}
	m.mu.Unlock()

	m.setState(StateConnecting)
	if err := m.attempt(ctx); err != nil {
		m.setStateUnlessClosed(StateDisconnected)
		return err
	}
	return nil
}

// Start makes the first connection attempt in the background and keeps
// retrying until it succeeds. Later losses reported through
// NotifyConnectionLost are retried the same way.
func (m *Manager) Start() {
	m.startLoop()
	if m.State() == StateDisconnected {
		m.setState(StateReconnecting)
		m.backoff.Reset()
		m.triggerReconnectNow()
	}
}

// NotifyConnectionLost reports a lost link and schedules reconnection.
func (m *Manager) NotifyConnectionLost() {
	m.mu.Lock()
	if m.state != StateConnected {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	m.setState(StateReconnecting)
	m.startLoop()
	m.triggerReconnect()
}

// Close stops reconnection and waits for the loop to exit.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	m.setState(StateClosed)
	m.cancel()
	m.wg.Wait()
}

// Attempts returns the number of retries since the last success.
func (m *Manager) Attempts() int {
	return m.backoff.Attempts()
}

// OnStateChange sets a callback for state changes.
func (m *Manager) OnStateChange(fn func(oldState, newState State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStateChange = fn
}

// OnConnected sets a callback for successful connection. It runs on the
// goroutine that made the attempt.
func (m *Manager) OnConnected(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onConnected = fn
}

// OnReconnecting sets a callback invoked before each retry delay.
func (m *Manager) OnReconnecting(fn func(attempt int, delay time.Duration, lastErr error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReconnecting = fn
}

func (m *Manager) attempt(ctx context.Context) error {
	if m.config.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.config.ConnectTimeout)
		defer cancel()
	}
	if err := m.connectFn(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.mu.Unlock()

	m.backoff.Reset()
	m.setState(StateConnected)

	m.mu.RLock()
	onConnected := m.onConnected
	m.mu.RUnlock()
	if onConnected != nil {
		onConnected()
	}
	return nil
}

func (m *Manager) setState(state State) {
	m.mu.Lock()
	old := m.state
	m.state = state
	fn := m.onStateChange
	m.mu.Unlock()

	if fn != nil && old != state {
		fn(old, state)
	}
}

func (m *Manager) setStateUnlessClosed(state State) {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	m.setState(state)
}

func (m *Manager) startLoop() {
	m.loopOnce.Do(func() {
		m.wg.Add(1)
		go m.reconnectLoop()
	})
}

func (m *Manager) triggerReconnect() {
	select {
	case m.reconnectCh <- struct{}{}:
	default:
	}
}

// triggerReconnectNow is triggerReconnect with the first delay skipped.
func (m *Manager) triggerReconnectNow() {
	m.mu.Lock()
	m.immediate = true
	m.mu.Unlock()
	m.triggerReconnect()
}

func (m *Manager) reconnectLoop() {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-m.reconnectCh:
			m.reconnect()
		}
	}
}

// reconnect retries until connected or closed.
func (m *Manager) reconnect() {
	m.mu.Lock()
	immediate := m.immediate
	m.immediate = false
	m.mu.Unlock()

	var lastErr error
	for {
		if state := m.State(); state == StateClosed || state == StateConnected {
			return
		}

		if !immediate {
			delay := m.backoff.Next()

			m.mu.RLock()
			onReconnecting := m.onReconnecting
			m.mu.RUnlock()
			if onReconnecting != nil {
				onReconnecting(m.backoff.Attempts(), delay, lastErr)
			}

			select {
			case <-m.ctx.Done():
				return
			case <-time.After(delay):
			}
		}
		immediate = false

		if m.State() != StateReconnecting {
			return
		}
		lastErr = m.attempt(m.ctx)
		if lastErr == nil {
			return
		}
	}
}
