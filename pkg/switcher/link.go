package switcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/milux/ATEM-Tally/pkg/connection"
)

// DefaultResolveRetry is the fixed delay between failed hostname lookups.
const DefaultResolveRetry = 5 * time.Second

// ErrNoAddress is returned by NewLink without a switcher address.
var ErrNoAddress = errors.New("switcher: address is required")

// Driver is a switcher protocol client writing into a Memory store.
type Driver interface {
	// Connect establishes the session and replays the full switcher state
	// into the store before returning.
	Connect(ctx context.Context, address string) error

	// Disconnected returns a channel closed when the current session ends.
	Disconnected() <-chan struct{}

	// Close ends the session for good.
	Close() error
}

// Resolver looks up switcher host names. net.Resolver implements it.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// LinkConfig configures a Link.
type LinkConfig struct {
	// Address is the switcher host name or IP, optionally with a port.
	Address string

	// Resolver resolves host names (default net.DefaultResolver).
	Resolver Resolver

	// ResolveRetry is the fixed delay between failed lookups.
	ResolveRetry time.Duration

	// Backoff paces reconnects after loss (default exponential).
	Backoff *connection.Backoff

	// Logger is the optional logger.
	Logger *slog.Logger

	// OnStateChange observes link state transitions.
	OnStateChange func(oldState, newState connection.State)
}

// Link keeps a Driver connected to the switcher.
type Link struct {
	driver  Driver
	config  LinkConfig
	manager *connection.Manager

	ready     chan struct{}
	readyOnce sync.Once

	mu      sync.Mutex
	address string
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewLink creates a link supervisor for driver.
func NewLink(driver Driver, config LinkConfig) (*Link, error) {
	if config.Address == "" {
		return nil, ErrNoAddress
	}
	if config.Resolver == nil {
		config.Resolver = net.DefaultResolver
	}
	if config.ResolveRetry <= 0 {
		config.ResolveRetry = DefaultResolveRetry
	}

	l := &Link{
		driver: driver,
		config: config,
		ready:  make(chan struct{}),
	}
	l.manager = connection.NewManagerWithConfig(l.connect, connection.ManagerConfig{
		Backoff: config.Backoff,
	})
	l.manager.OnConnected(l.onConnected)
	l.manager.OnStateChange(l.onStateChange)
	l.manager.OnReconnecting(func(attempt int, delay time.Duration, lastErr error) {
		l.logger().Warn("switcher link retry",
			"attempt", attempt, "delay", delay, "error", lastErr)
	})
	return l, nil
}

// Start begins connecting in the background. It does not wait for the
// first connection; use Ready for that.
func (l *Link) Start(ctx context.Context) {
	l.mu.Lock()
	l.ctx, l.cancel = context.WithCancel(ctx)
	l.mu.Unlock()

	l.manager.Start()
}

// Ready returns a channel closed after the first successful connection.
func (l *Link) Ready() <-chan struct{} {
	return l.ready
}

// State returns the link state.
func (l *Link) State() connection.State {
	return l.manager.State()
}

// RemoteAddress returns the resolved address of the current session.
func (l *Link) RemoteAddress() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.address
}

// Close stops supervision and closes the driver.
func (l *Link) Close() error {
	l.mu.Lock()
	if l.cancel != nil {
		l.cancel()
	}
	l.mu.Unlock()

	l.manager.Close()
	l.wg.Wait()
	return l.driver.Close()
}

// connect resolves the switcher and connects the driver.
func (l *Link) connect(ctx context.Context) error {
	l.mu.Lock()
	linkCtx := l.ctx
	l.mu.Unlock()
	if linkCtx != nil {
		var cancel context.CancelFunc
		ctx, cancel = mergeCancel(ctx, linkCtx)
		defer cancel()
	}

	address, err := l.resolve(ctx)
	if err != nil {
		return err
	}

	l.logger().Info("connecting to switcher", "address", address)
	if err := l.driver.Connect(ctx, address); err != nil {
		return fmt.Errorf("switcher connect %s: %w", address, err)
	}

	l.mu.Lock()
	l.address = address
	l.mu.Unlock()
	return nil
}

// resolve looks up the configured host, retrying with a fixed delay until
// it succeeds or ctx ends.
func (l *Link) resolve(ctx context.Context) (string, error) {
	host, port, err := net.SplitHostPort(l.config.Address)
	if err != nil {
		host, port = l.config.Address, ""
	}

	retry := connection.NewFixedBackoff(l.config.ResolveRetry)
	for {
		addrs, err := l.config.Resolver.LookupHost(ctx, host)
		if err == nil && len(addrs) > 0 {
			if port != "" {
				return net.JoinHostPort(addrs[0], port), nil
			}
			return addrs[0], nil
		}
		if err == nil {
			err = fmt.Errorf("no addresses for %s", host)
		}

		delay := retry.Next()
		l.logger().Warn("switcher lookup failed",
			"host", host, "attempt", retry.Attempts(), "retry_in", delay, "error", err)

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (l *Link) onConnected() {
	l.readyOnce.Do(func() { close(l.ready) })
	l.logger().Info("switcher connected", "address", l.RemoteAddress())

	disconnected := l.driver.Disconnected()

	l.mu.Lock()
	ctx := l.ctx
	l.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		select {
		case <-disconnected:
			l.logger().Warn("switcher connection lost", "address", l.RemoteAddress())
			l.manager.NotifyConnectionLost()
		case <-ctx.Done():
		}
	}()
}

func (l *Link) onStateChange(oldState, newState connection.State) {
	l.debugLog("switcher link state", "old", oldState.String(), "new", newState.String())
	if l.config.OnStateChange != nil {
		l.config.OnStateChange(oldState, newState)
	}
}

func (l *Link) logger() *slog.Logger {
	if l.config.Logger != nil {
		return l.config.Logger
	}
	return slog.Default()
}

func (l *Link) debugLog(msg string, args ...any) {
	if l.config.Logger != nil {
		l.config.Logger.Debug(msg, args...)
	}
}

// mergeCancel returns a context derived from a that is also cancelled when
// b is done.
func mergeCancel(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(a)
	stop := context.AfterFunc(b, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
