package transport_test

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/milux/ATEM-Tally/pkg/subscription"
	"github.com/milux/ATEM-Tally/pkg/switcher"
	"github.com/milux/ATEM-Tally/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ioTimeout = 2 * time.Second

type testServer struct {
	server   *transport.Server
	registry *subscription.Registry
	mem      *switcher.Memory

	mu     sync.Mutex
	errors []error
}

func startServer(t *testing.T, program, preview int, config transport.ServerConfig) *testServer {
	t.Helper()

	mem := switcher.NewMemory()
	require.NoError(t, mem.SetProgramInput(0, program))
	require.NoError(t, mem.SetPreviewInput(0, preview))

	ts := &testServer{mem: mem, registry: subscription.NewRegistry(mem)}
	config.Address = "127.0.0.1:0"
	config.Registry = ts.registry
	config.OnError = func(_ *transport.ServerConn, err error) {
		ts.mu.Lock()
		ts.errors = append(ts.errors, err)
		ts.mu.Unlock()
	}

	server, err := transport.NewServer(config)
	require.NoError(t, err)
	require.NoError(t, server.Start(context.Background()))
	t.Cleanup(func() { server.Stop() })

	ts.server = server
	return ts
}

func (ts *testServer) dial(t *testing.T, handshake ...byte) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", ts.server.Addr().String(), ioTimeout)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	if len(handshake) > 0 {
		_, err = conn.Write(handshake)
		require.NoError(t, err)
	}
	return conn
}

func (ts *testServer) errorCount() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.errors)
}

func readBytes(t *testing.T, conn net.Conn, n int) []byte {
	t.Helper()
	buf := make([]byte, n)
	conn.SetReadDeadline(time.Now().Add(ioTimeout))
	_, err := io.ReadFull(conn, buf)
	require.NoError(t, err)
	return buf
}

func assertClosed(t *testing.T, conn net.Conn) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(ioTimeout))
	_, err := conn.Read(make([]byte, 1))
	require.Error(t, err)
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		t.Fatal("connection still open")
	}
}

func TestNewServerRequiresRegistry(t *testing.T) {
	_, err := transport.NewServer(transport.ServerConfig{})
	assert.ErrorIs(t, err, transport.ErrNoRegistry)
}

func TestServerLegacyRemap(t *testing.T) {
	ts := startServer(t, 1, 2, transport.ServerConfig{})

	// Wire code 4 is logical input 1, which is on program.
	conn := ts.dial(t, 4)
	assert.Equal(t, []byte{2}, readBytes(t, conn, 1))
	assert.Equal(t, []int{1}, ts.registry.Inputs())

	require.NoError(t, ts.mem.Cut(0))
	assert.Equal(t, []byte{1}, readBytes(t, conn, 1))
}

func TestServerFormatsCollapse(t *testing.T) {
	ts := startServer(t, 2, 1, transport.ServerConfig{})

	legacy := ts.dial(t, 4)
	extended := ts.dial(t, 0xFF, 1, 1)

	assert.Equal(t, []byte{1}, readBytes(t, legacy, 1), "legacy sees PREVIEW")
	assert.Equal(t, []byte{1, 1}, readBytes(t, extended, 2), "extended sees PREVIEW")

	// Input 1 goes to program while staying on preview.
	require.NoError(t, ts.mem.SetProgramInput(0, 1))

	assert.Equal(t, []byte{2}, readBytes(t, legacy, 1), "legacy sees PROGRAM")
	assert.Equal(t, []byte{1, 3}, readBytes(t, extended, 2), "extended sees PREVIEW_PROGRAM")
}

func TestServerExtendedMultipleInputs(t *testing.T) {
	ts := startServer(t, 1, 3, transport.ServerConfig{})

	conn := ts.dial(t, 0xFF, 3, 3, 5, 1)
	assert.Equal(t, []byte{3, 1, 5, 0, 1, 2}, readBytes(t, conn, 6), "initial states in request order")

	require.NoError(t, ts.mem.SetProgramInput(0, 5))
	got := readBytes(t, conn, 4)
	assert.ElementsMatch(t, [][]byte{{1, 0}, {5, 2}}, [][]byte{got[:2], got[2:]})
}

func TestServerSharedInput(t *testing.T) {
	ts := startServer(t, 1, 2, transport.ServerConfig{})

	a := ts.dial(t, 2)
	b := ts.dial(t, 2)
	assert.Equal(t, []byte{1}, readBytes(t, a, 1))
	assert.Equal(t, []byte{1}, readBytes(t, b, 1))

	a.Close()
	require.Eventually(t, func() bool {
		return len(ts.registry.Clients()) == 1
	}, ioTimeout, 10*time.Millisecond)
	assert.Equal(t, []int{2}, ts.registry.Inputs(), "input stays tracked for b")

	require.NoError(t, ts.mem.Cut(0))
	assert.Equal(t, []byte{2}, readBytes(t, b, 1))

	b.Close()
	require.Eventually(t, func() bool {
		return len(ts.registry.Inputs()) == 0 && ts.server.ConnectionCount() == 0
	}, ioTimeout, 10*time.Millisecond)
}

func TestServerRejectsHandshake(t *testing.T) {
	tests := []struct {
		name      string
		handshake []byte
	}{
		{"legacy out of range", []byte{11}},
		{"extended out of range", []byte{0xFF, 2, 1, 11}},
		{"extended without inputs", []byte{0xFF, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := startServer(t, 1, 2, transport.ServerConfig{})

			conn := ts.dial(t, tt.handshake...)
			assertClosed(t, conn)

			assert.Empty(t, ts.registry.Inputs())
			assert.Empty(t, ts.registry.Clients())
			require.Eventually(t, func() bool { return ts.errorCount() == 1 }, ioTimeout, 10*time.Millisecond)
		})
	}
}

func TestServerHandshakeTimeout(t *testing.T) {
	ts := startServer(t, 1, 2, transport.ServerConfig{HandshakeTimeout: 100 * time.Millisecond})

	conn := ts.dial(t)
	assertClosed(t, conn)
	assert.Empty(t, ts.registry.Clients())
}

func TestServerEchoesExtendedKeepAlive(t *testing.T) {
	ts := startServer(t, 1, 2, transport.ServerConfig{})

	conn := ts.dial(t, 0xFF, 1, 7)
	assert.Equal(t, []byte{7, 0}, readBytes(t, conn, 2))

	_, err := conn.Write([]byte{0xAA, 0xBB, 0xCC})
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAA, 0xBB, 0xCC}, readBytes(t, conn, 3))
}

func TestServerDiscardsLegacyTraffic(t *testing.T) {
	ts := startServer(t, 1, 2, transport.ServerConfig{})

	conn := ts.dial(t, 2)
	assert.Equal(t, []byte{1}, readBytes(t, conn, 1))

	_, err := conn.Write([]byte{0x01, 0x02})
	require.NoError(t, err)

	require.NoError(t, ts.mem.Cut(0))
	assert.Equal(t, []byte{2}, readBytes(t, conn, 1), "next byte is the update, not an echo")
}

func TestServerSuppressesDuplicates(t *testing.T) {
	ts := startServer(t, 1, 2, transport.ServerConfig{})

	conn := ts.dial(t, 0xFF, 1, 3)
	assert.Equal(t, []byte{3, 0}, readBytes(t, conn, 2))

	// None of these change input 3.
	require.NoError(t, ts.mem.SetProgramInput(0, 1))
	require.NoError(t, ts.mem.SetPreviewInput(0, 4))
	require.NoError(t, ts.mem.SetInTransition(0, true))
	require.NoError(t, ts.mem.SetInTransition(0, false))

	require.NoError(t, ts.mem.SetPreviewInput(0, 3))
	assert.Equal(t, []byte{3, 1}, readBytes(t, conn, 2))
}

func TestServerConnections(t *testing.T) {
	subscribed := make(chan *transport.ServerConn, 1)
	ts := startServer(t, 1, 2, transport.ServerConfig{
		OnSubscribe: func(c *transport.ServerConn) { subscribed <- c },
	})

	conn := ts.dial(t, 0xFF, 2, 1, 2)
	readBytes(t, conn, 4)

	select {
	case c := <-subscribed:
		assert.Equal(t, transport.StateSubscribed, c.State())
		assert.Equal(t, []int{1, 2}, c.Inputs())
	case <-time.After(ioTimeout):
		t.Fatal("OnSubscribe not called")
	}

	infos := ts.server.Connections()
	require.Len(t, infos, 1)
	assert.Equal(t, "EXTENDED", infos[0].Format.String())
	assert.Equal(t, ts.registry.Clients(), []string{infos[0].ConnID})
}

func TestServerStopClosesConnections(t *testing.T) {
	ts := startServer(t, 1, 2, transport.ServerConfig{})

	conn := ts.dial(t, 1)
	readBytes(t, conn, 1)

	require.NoError(t, ts.server.Stop())
	assertClosed(t, conn)
	assert.Empty(t, ts.registry.Clients())
	assert.Equal(t, 0, ts.server.ConnectionCount())
	require.NoError(t, ts.server.Stop())
}
