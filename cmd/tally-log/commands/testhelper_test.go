package commands

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/milux/ATEM-Tally/pkg/log"
	"github.com/milux/ATEM-Tally/pkg/tally"
	"github.com/milux/ATEM-Tally/pkg/wire"
)

func createTestLogFile(t *testing.T, events []log.Event) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.tlog")

	logger, err := log.NewFileLogger(path)
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	for _, e := range events {
		logger.Log(e)
	}
	logger.Close()

	return path
}

// sessionEvents is a short lamp session: handshake, two pushes, a
// keep-alive and a disconnect.
func sessionEvents() []log.Event {
	ts := time.Date(2026, 1, 28, 10, 15, 32, 123456000, time.UTC)
	const conn = "abc12345-6789-0123-4567-890abcdef012"
	return []log.Event{
		{
			Timestamp: ts, ConnectionID: conn, RemoteAddr: "10.0.0.7:51234",
			Direction: log.DirectionIn, Layer: log.LayerWire, Category: log.CategoryHandshake,
			Handshake: &log.HandshakeEvent{Format: wire.FormatExtended, Codes: []byte{0xFF, 2, 1, 3}, Inputs: []int{1, 3}},
		},
		{
			Timestamp: ts.Add(time.Millisecond), ConnectionID: conn,
			Direction: log.DirectionOut, Layer: log.LayerWire, Category: log.CategoryUpdate,
			Update: &log.UpdateEvent{Input: 1, State: tally.StateProgram, Data: []byte{1, 2}},
		},
		{
			Timestamp: ts.Add(2 * time.Millisecond), ConnectionID: conn,
			Direction: log.DirectionOut, Layer: log.LayerWire, Category: log.CategoryUpdate,
			Update: &log.UpdateEvent{Input: 3, State: tally.StatePreview, Data: []byte{3, 1}},
		},
		{
			Timestamp: ts.Add(5 * time.Second), ConnectionID: conn,
			Direction: log.DirectionIn, Layer: log.LayerWire, Category: log.CategoryKeepAlive,
			KeepAlive: &log.KeepAliveEvent{Size: 2, Echoed: true},
		},
		{
			Timestamp: ts.Add(6 * time.Second),
			Direction: log.DirectionIn, Layer: log.LayerTransport, Category: log.CategoryState,
			StateChange: &log.StateChangeEvent{Entity: log.StateEntityLink, OldState: "CONNECTED", NewState: "RECONNECTING", Reason: "10.0.0.2:9910"},
		},
		{
			Timestamp: ts.Add(7 * time.Second), ConnectionID: conn,
			Direction: log.DirectionIn, Layer: log.LayerTransport, Category: log.CategoryError,
			Error: &log.ErrorEventData{Layer: log.LayerTransport, Message: "connection reset", Context: "read"},
		},
	}
}
