package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/milux/ATEM-Tally/pkg/switcher"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type idleDriver struct{}

func (idleDriver) Connect(context.Context, string) error {
	return nil
}

func (idleDriver) Disconnected() <-chan struct{} {
	return nil
}

func (idleDriver) Close() error {
	return nil
}

func TestHandleConnErrorWithoutConnection(t *testing.T) {
	config := DefaultConfig()
	config.ListenAddress = "127.0.0.1:0"
	config.SwitcherAddress = "127.0.0.1"
	svc, err := NewTallyService(switcher.NewMemory(), idleDriver{}, config)
	require.NoError(t, err)

	events := make(chan Event, 1)
	svc.OnEvent(func(e Event) { events <- e })

	acceptErr := errors.New("accept error: too many open files")
	require.NotPanics(t, func() { svc.handleConnError(nil, acceptErr) })

	select {
	case e := <-events:
		assert.Equal(t, EventError, e.Type)
		assert.ErrorIs(t, e.Error, acceptErr)
		assert.Empty(t, e.ConnID)
		assert.Empty(t, e.RemoteAddr)
	case <-time.After(time.Second):
		t.Fatal("no error event")
	}
}
