package transport

import (
	"context"
	"sync"
	"time"
)

// Keep-alive constants.
const (
	// DefaultKeepAliveInterval is the default interval between keep-alives.
	DefaultKeepAliveInterval = 5 * time.Second

	// DefaultEchoTimeout is the default wait for an echo.
	DefaultEchoTimeout = 3 * time.Second

	// DefaultMaxMissedEchoes is the default number of missed echoes before
	// the connection is considered dead.
	DefaultMaxMissedEchoes = 3
)

// KeepAliveConfig configures keep-alive behavior.
type KeepAliveConfig struct {
	Interval        time.Duration
	EchoTimeout     time.Duration
	MaxMissedEchoes int
}

// DefaultKeepAliveConfig returns the default keep-alive configuration.
func DefaultKeepAliveConfig() KeepAliveConfig {
	return KeepAliveConfig{
		Interval:        DefaultKeepAliveInterval,
		EchoTimeout:     DefaultEchoTimeout,
		MaxMissedEchoes: DefaultMaxMissedEchoes,
	}
}

// DetectionDelay is the longest time a dead server can go unnoticed.
func (c KeepAliveConfig) DetectionDelay() time.Duration {
	return c.Interval*time.Duration(c.MaxMissedEchoes) + c.EchoTimeout
}

// KeepAlive sends periodic keep-alives from an extended client and watches
// for their echoes.
type KeepAlive struct {
	config KeepAliveConfig

	send      func() error
	onTimeout func()

	mu          sync.Mutex
	running     bool
	stopCh      chan struct{}
	missed      int
	lastSent    time.Time
	lastEcho    time.Time
	pending     bool
	lastLatency time.Duration
	echoCh      chan struct{}
}

// NewKeepAlive creates a keep-alive monitor. onTimeout runs once when too
// many echoes were missed.
func NewKeepAlive(config KeepAliveConfig, send func() error, onTimeout func()) *KeepAlive {
	if config.Interval <= 0 {
		config.Interval = DefaultKeepAliveInterval
	}
	if config.EchoTimeout <= 0 {
		config.EchoTimeout = DefaultEchoTimeout
	}
	if config.MaxMissedEchoes <= 0 {
		config.MaxMissedEchoes = DefaultMaxMissedEchoes
	}
	return &KeepAlive{
		config:    config,
		send:      send,
		onTimeout: onTimeout,
		stopCh:    make(chan struct{}),
		echoCh:    make(chan struct{}, 1),
	}
}

// Start begins sending keep-alives.
func (ka *KeepAlive) Start(ctx context.Context) {
	ka.mu.Lock()
	if ka.running {
		ka.mu.Unlock()
		return
	}
	ka.running = true
	ka.stopCh = make(chan struct{})
	ka.mu.Unlock()

	go ka.loop(ctx)
}

// Stop stops the monitor.
func (ka *KeepAlive) Stop() {
	ka.mu.Lock()
	defer ka.mu.Unlock()

	if !ka.running {
		return
	}
	ka.running = false
	close(ka.stopCh)
}

// EchoReceived records an echo from the server.
func (ka *KeepAlive) EchoReceived() {
	select {
	case ka.echoCh <- struct{}{}:
	default:
	}
}

// IsRunning returns true if the monitor is active.
func (ka *KeepAlive) IsRunning() bool {
	ka.mu.Lock()
	defer ka.mu.Unlock()
	return ka.running
}

// KeepAliveStats contains keep-alive statistics.
type KeepAliveStats struct {
	LastSent    time.Time
	LastEcho    time.Time
	LastLatency time.Duration
	Missed      int
}

// Stats returns current keep-alive statistics.
func (ka *KeepAlive) Stats() KeepAliveStats {
	ka.mu.Lock()
	defer ka.mu.Unlock()
	return KeepAliveStats{
		LastSent:    ka.lastSent,
		LastEcho:    ka.lastEcho,
		LastLatency: ka.lastLatency,
		Missed:      ka.missed,
	}
}

func (ka *KeepAlive) loop(ctx context.Context) {
	ticker := time.NewTicker(ka.config.Interval)
	defer ticker.Stop()

	ka.sendKeepAlive()

	ka.mu.Lock()
	stopCh := ka.stopCh
	ka.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			if ka.handleTick() {
				return
			}
		case <-ka.echoCh:
			ka.handleEcho()
		}
	}
}

func (ka *KeepAlive) sendKeepAlive() {
	ka.mu.Lock()
	ka.lastSent = time.Now()
	ka.pending = true
	ka.mu.Unlock()

	if err := ka.send(); err != nil {
		// The echo timeout takes care of a dead connection.
		ka.mu.Lock()
		ka.pending = false
		ka.mu.Unlock()
	}
}

// handleTick reports whether the monitor gave up.
func (ka *KeepAlive) handleTick() bool {
	ka.mu.Lock()
	if ka.pending && time.Since(ka.lastSent) >= ka.config.EchoTimeout {
		ka.missed++
		ka.pending = false
		if ka.missed >= ka.config.MaxMissedEchoes {
			ka.running = false
			ka.mu.Unlock()
			if ka.onTimeout != nil {
				ka.onTimeout()
			}
			return true
		}
	}
	ka.mu.Unlock()

	ka.sendKeepAlive()
	return false
}

func (ka *KeepAlive) handleEcho() {
	ka.mu.Lock()
	defer ka.mu.Unlock()

	now := time.Now()
	ka.lastEcho = now
	if ka.pending {
		ka.lastLatency = now.Sub(ka.lastSent)
		ka.pending = false
		ka.missed = 0
	}
}
