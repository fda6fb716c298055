package discovery_test

import (
	"context"
	"errors"
	"testing"

	"github.com/milux/ATEM-Tally/pkg/discovery"
	"github.com/milux/ATEM-Tally/pkg/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockAdvertiser struct {
	mock.Mock
}

func (m *mockAdvertiser) Advertise(ctx context.Context, info *discovery.ServiceInfo) error {
	return m.Called(ctx, info).Error(0)
}

func (m *mockAdvertiser) Update(info *discovery.ServiceInfo) error {
	return m.Called(info).Error(0)
}

func (m *mockAdvertiser) Stop() error {
	return m.Called().Error(0)
}

func testInfo() discovery.ServiceInfo {
	return discovery.ServiceInfo{
		Instance: "Studio A",
		Version:  "dev",
		MaxInput: 10,
		Formats:  []wire.Format{wire.FormatLegacy, wire.FormatExtended},
	}
}

func TestManagerLifecycle(t *testing.T) {
	adv := &mockAdvertiser{}
	adv.On("Advertise", mock.Anything, mock.MatchedBy(func(info *discovery.ServiceInfo) bool {
		return info.Instance == "Studio A" && info.Port == discovery.DefaultPort && !info.SwitcherUp
	})).Return(nil).Once()
	adv.On("Update", mock.MatchedBy(func(info *discovery.ServiceInfo) bool {
		return info.SwitcherUp
	})).Return(nil).Once()
	adv.On("Stop").Return(nil).Once()

	m := discovery.NewManager(adv, testInfo(), nil)
	var transitions []discovery.State
	m.OnStateChange(func(_, s discovery.State) { transitions = append(transitions, s) })

	require.NoError(t, m.Start(context.Background()))
	assert.Equal(t, discovery.StateAdvertising, m.State())

	require.NoError(t, m.SetSwitcherUp(true))
	require.NoError(t, m.SetSwitcherUp(true), "unchanged value is not republished")

	require.NoError(t, m.Stop())
	require.NoError(t, m.Stop())
	assert.Equal(t, discovery.StateUnregistered, m.State())
	assert.Equal(t, []discovery.State{discovery.StateAdvertising, discovery.StateUnregistered}, transitions)

	adv.AssertExpectations(t)
}

func TestManagerDefersUpdatesUntilStart(t *testing.T) {
	adv := &mockAdvertiser{}
	adv.On("Advertise", mock.Anything, mock.MatchedBy(func(info *discovery.ServiceInfo) bool {
		return info.SwitcherUp
	})).Return(nil).Once()

	m := discovery.NewManager(adv, testInfo(), nil)
	require.NoError(t, m.SetSwitcherUp(true))
	require.NoError(t, m.Start(context.Background()))

	adv.AssertExpectations(t)
	adv.AssertNotCalled(t, "Update", mock.Anything)
}

func TestManagerStartErrors(t *testing.T) {
	adv := &mockAdvertiser{}
	info := testInfo()
	info.Instance = ""
	m := discovery.NewManager(adv, info, nil)
	assert.ErrorIs(t, m.Start(context.Background()), discovery.ErrMissingRequired)

	failure := errors.New("no multicast")
	adv.On("Advertise", mock.Anything, mock.Anything).Return(failure)
	m = discovery.NewManager(adv, testInfo(), nil)
	assert.ErrorIs(t, m.Start(context.Background()), failure)
	assert.Equal(t, discovery.StateUnregistered, m.State())
}
