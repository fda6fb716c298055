package switcher

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/milux/ATEM-Tally/pkg/connection"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockDriver struct {
	mock.Mock

	connects atomic.Int32
	mu       sync.Mutex
	disc     chan struct{}
}

func (d *mockDriver) Connect(ctx context.Context, address string) error {
	d.connects.Add(1)
	err := d.Called(ctx, address).Error(0)
	if err == nil {
		d.mu.Lock()
		d.disc = make(chan struct{})
		d.mu.Unlock()
	}
	return err
}

func (d *mockDriver) Disconnected() <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.disc
}

func (d *mockDriver) Close() error {
	return d.Called().Error(0)
}

func (d *mockDriver) drop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	close(d.disc)
}

type mockResolver struct {
	mock.Mock

	lookups atomic.Int32
}

func (r *mockResolver) LookupHost(ctx context.Context, host string) ([]string, error) {
	r.lookups.Add(1)
	args := r.Called(ctx, host)
	addrs, _ := args.Get(0).([]string)
	return addrs, args.Error(1)
}

func fastLinkConfig(address string, resolver Resolver) LinkConfig {
	return LinkConfig{
		Address:      address,
		Resolver:     resolver,
		ResolveRetry: 5 * time.Millisecond,
		Backoff: connection.NewBackoffWithConfig(connection.BackoffConfig{
			Initial: time.Millisecond,
			Max:     5 * time.Millisecond,
		}),
	}
}

func waitReady(t *testing.T, l *Link) {
	t.Helper()
	select {
	case <-l.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("link not ready")
	}
}

func TestNewLinkRequiresAddress(t *testing.T) {
	_, err := NewLink(&mockDriver{}, LinkConfig{})
	assert.ErrorIs(t, err, ErrNoAddress)
}

func TestLinkRetriesResolution(t *testing.T) {
	resolver := &mockResolver{}
	resolver.On("LookupHost", mock.Anything, "atem.studio.lan").Return(nil, errors.New("no such host")).Twice()
	resolver.On("LookupHost", mock.Anything, "atem.studio.lan").Return([]string{"10.0.0.5"}, nil)

	driver := &mockDriver{}
	driver.On("Connect", mock.Anything, "10.0.0.5:9910").Return(nil)
	driver.On("Close").Return(nil)

	link, err := NewLink(driver, fastLinkConfig("atem.studio.lan:9910", resolver))
	require.NoError(t, err)
	link.Start(context.Background())
	waitReady(t, link)

	assert.Equal(t, connection.StateConnected, link.State())
	assert.Equal(t, "10.0.0.5:9910", link.RemoteAddress())
	resolver.AssertNumberOfCalls(t, "LookupHost", 3)

	require.NoError(t, link.Close())
	driver.AssertExpectations(t)
}

func TestLinkAddressWithoutPort(t *testing.T) {
	resolver := &mockResolver{}
	resolver.On("LookupHost", mock.Anything, "192.168.77.65").Return([]string{"192.168.77.65"}, nil)

	driver := &mockDriver{}
	driver.On("Connect", mock.Anything, "192.168.77.65").Return(nil)
	driver.On("Close").Return(nil)

	link, err := NewLink(driver, fastLinkConfig("192.168.77.65", resolver))
	require.NoError(t, err)
	link.Start(context.Background())
	waitReady(t, link)

	require.NoError(t, link.Close())
	driver.AssertExpectations(t)
}

func TestLinkReconnectsAfterLoss(t *testing.T) {
	resolver := &mockResolver{}
	resolver.On("LookupHost", mock.Anything, "atem").Return([]string{"10.0.0.5"}, nil)

	driver := &mockDriver{}
	driver.On("Connect", mock.Anything, "10.0.0.5").Return(nil).Once()
	driver.On("Connect", mock.Anything, "10.0.0.5").Return(errors.New("refused")).Once()
	driver.On("Connect", mock.Anything, "10.0.0.5").Return(nil)
	driver.On("Close").Return(nil)

	var mu sync.Mutex
	var states []connection.State
	config := fastLinkConfig("atem", resolver)
	config.OnStateChange = func(_, s connection.State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	}

	link, err := NewLink(driver, config)
	require.NoError(t, err)
	link.Start(context.Background())
	waitReady(t, link)

	driver.drop()
	require.Eventually(t, func() bool {
		return link.State() == connection.StateConnected && driver.connects.Load() >= 3
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, link.Close())
	driver.AssertNumberOfCalls(t, "Connect", 3)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, states, connection.StateReconnecting)
	assert.Equal(t, connection.StateClosed, states[len(states)-1])
}

func TestLinkCloseWhileResolving(t *testing.T) {
	resolver := &mockResolver{}
	resolver.On("LookupHost", mock.Anything, "missing").Return(nil, errors.New("no such host"))

	driver := &mockDriver{}
	driver.On("Close").Return(nil)

	link, err := NewLink(driver, fastLinkConfig("missing", resolver))
	require.NoError(t, err)
	link.Start(context.Background())

	require.Eventually(t, func() bool {
		return resolver.lookups.Load() >= 2
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, link.Close())
	driver.AssertNotCalled(t, "Connect", mock.Anything, mock.Anything)

	select {
	case <-link.Ready():
		t.Error("link reported ready without a connection")
	default:
	}
}
