package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/milux/ATEM-Tally/pkg/connection"
	"github.com/milux/ATEM-Tally/pkg/subscription"
	"github.com/milux/ATEM-Tally/pkg/switcher"
	"github.com/milux/ATEM-Tally/pkg/transport"
	"github.com/milux/ATEM-Tally/pkg/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func startServer(t *testing.T, mem *switcher.Memory, address string) *transport.Server {
	t.Helper()
	server, err := transport.NewServer(transport.ServerConfig{
		Address:  address,
		Registry: subscription.NewRegistry(mem),
	})
	require.NoError(t, err)
	require.NoError(t, server.Start(context.Background()))
	t.Cleanup(func() { server.Stop() })
	return server
}

func runWatcher(t *testing.T, address string, format wire.Format, inputs ...byte) *syncBuffer {
	t.Helper()
	client, err := transport.NewClient(transport.ClientConfig{Format: format, Inputs: inputs})
	require.NoError(t, err)

	out := &syncBuffer{}
	w := &Watcher{
		Client:    client,
		Address:   address,
		KeepAlive: transport.DefaultKeepAliveConfig(),
		Output:    out,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Backoff:   connection.NewFixedBackoff(10 * time.Millisecond),
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("watcher did not stop")
		}
	})
	return out
}

func lines(s, substr string) int {
	n := 0
	for _, line := range strings.Split(s, "\n") {
		if strings.Contains(line, substr) {
			n++
		}
	}
	return n
}

func TestWatcherPrintsChanges(t *testing.T) {
	mem := switcher.NewMemory()
	require.NoError(t, mem.SetProgramInput(0, 1))
	require.NoError(t, mem.SetPreviewInput(0, 2))
	server := startServer(t, mem, "127.0.0.1:0")

	out := runWatcher(t, server.Addr().String(), wire.FormatExtended, 1, 2)

	assert.Eventually(t, func() bool {
		s := out.String()
		return strings.Contains(s, "input   1  PROGRAM") && strings.Contains(s, "input   2  PREVIEW")
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, mem.Cut(0))
	assert.Eventually(t, func() bool {
		s := out.String()
		return strings.Contains(s, "input   1  PREVIEW") && strings.Contains(s, "input   2  PROGRAM")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWatcherReconnects(t *testing.T) {
	mem := switcher.NewMemory()
	require.NoError(t, mem.SetProgramInput(0, 3))
	first := startServer(t, mem, "127.0.0.1:0")
	address := first.Addr().String()

	out := runWatcher(t, address, wire.FormatExtended, 3)
	assert.Eventually(t, func() bool {
		return lines(out.String(), "input   3  PROGRAM") == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, first.Stop())
	startServer(t, mem, address)

	// The fresh session repeats the initial state.
	assert.Eventually(t, func() bool {
		return lines(out.String(), "input   3  PROGRAM") == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestParseInputs(t *testing.T) {
	inputs, err := parseInputs([]string{"1", "4", "254"}, wire.FormatExtended)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 4, 254}, inputs)

	inputs, err = parseInputs([]string{"4"}, wire.FormatLegacy)
	require.NoError(t, err)
	assert.Equal(t, []byte{4}, inputs)

	_, err = parseInputs(nil, wire.FormatExtended)
	assert.Error(t, err)

	_, err = parseInputs([]string{"1", "2"}, wire.FormatLegacy)
	assert.Error(t, err)

	for _, bad := range []string{"0", "255", "x", "-1"} {
		_, err = parseInputs([]string{bad}, wire.FormatExtended)
		assert.Error(t, err, bad)
	}
}
