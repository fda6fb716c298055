package discovery

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Advertiser provides mDNS service advertising capabilities.
type Advertiser interface {
	// Advertise registers the service, replacing an earlier registration.
	Advertise(ctx context.Context, info *ServiceInfo) error

	// Update replaces the TXT records of the registered service.
	Update(info *ServiceInfo) error

	// Stop withdraws the service. Stopping an unregistered service is a
	// no-op.
	Stop() error
}

// AdvertiserConfig configures advertiser behavior.
type AdvertiserConfig struct {
	// Interface specifies which network interface to use.
	// Empty string means all interfaces.
	Interface string

	// TTL is the DNS record TTL.
	// Default: 120 seconds.
	TTL time.Duration
}

// DefaultAdvertiserConfig returns the default advertiser configuration.
func DefaultAdvertiserConfig() AdvertiserConfig {
	return AdvertiserConfig{
		TTL: 120 * time.Second,
	}
}

// Manager owns the advertisement of one tally server and keeps its TXT
// records current.
type Manager struct {
	mu sync.Mutex

	advertiser Advertiser
	info       ServiceInfo
	state      State
	logger     *slog.Logger

	onStateChange func(old, new State)
}

// NewManager creates a manager advertising info through advertiser.
func NewManager(advertiser Advertiser, info ServiceInfo, logger *slog.Logger) *Manager {
	if info.Port == 0 {
		info.Port = DefaultPort
	}
	return &Manager{
		advertiser: advertiser,
		info:       info,
		state:      StateUnregistered,
		logger:     logger,
	}
}

// State returns the current advertisement state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Info returns the advertised service info.
func (m *Manager) Info() ServiceInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.info
}

// OnStateChange sets a callback for state changes.
func (m *Manager) OnStateChange(fn func(old, new State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStateChange = fn
}

// Start registers the service.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ValidateInstanceName(m.info.Instance); err != nil {
		return err
	}
	info := m.info
	if err := m.advertiser.Advertise(ctx, &info); err != nil {
		return err
	}
	m.debugLog("service advertised", "instance", info.Instance, "port", info.Port)
	m.setStateLocked(StateAdvertising)
	return nil
}

// SetSwitcherUp updates the sw TXT key. The change is published only while
// advertising; otherwise it is picked up by the next Start.
func (m *Manager) SetSwitcherUp(up bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.info.SwitcherUp == up {
		return nil
	}
	m.info.SwitcherUp = up
	if m.state != StateAdvertising {
		return nil
	}
	info := m.info
	if err := m.advertiser.Update(&info); err != nil {
		return err
	}
	m.debugLog("service updated", "switcher_up", up)
	return nil
}

// Stop withdraws the service.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateUnregistered {
		return nil
	}
	if err := m.advertiser.Stop(); err != nil {
		return err
	}
	m.setStateLocked(StateUnregistered)
	return nil
}

func (m *Manager) setStateLocked(state State) {
	old := m.state
	m.state = state
	if m.onStateChange != nil && old != state {
		m.onStateChange(old, state)
	}
}

func (m *Manager) debugLog(msg string, args ...any) {
	if m.logger != nil {
		m.logger.Debug(msg, args...)
	}
}
