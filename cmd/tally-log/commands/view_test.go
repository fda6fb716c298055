package commands

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/milux/ATEM-Tally/pkg/log"
	"github.com/milux/ATEM-Tally/pkg/tally"
	"github.com/milux/ATEM-Tally/pkg/wire"
)

func TestFormatHandshakeEvent(t *testing.T) {
	var buf bytes.Buffer
	formatEvent(&buf, sessionEvents()[0])
	output := buf.String()

	for _, want := range []string{
		"2026-01-28T10:15:32.123456Z",
		"[conn:abc12345]",
		"IN  WIRE Handshake",
		"Remote: 10.0.0.7:51234",
		"Format: EXTENDED",
		"Codes: ff020103",
		"Inputs: 1,3",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output, got:\n%s", want, output)
		}
	}
}

func TestFormatUpdateEvent(t *testing.T) {
	event := log.Event{
		Timestamp: time.Date(2026, 1, 28, 10, 0, 0, 0, time.UTC),
		Direction: log.DirectionOut,
		Layer:     log.LayerWire,
		Category:  log.CategoryUpdate,
		Update:    &log.UpdateEvent{Input: 4, State: tally.StatePreviewProgram, Data: []byte{3}},
	}

	var buf bytes.Buffer
	formatEvent(&buf, event)
	output := buf.String()

	if !strings.Contains(output, "[conn:-]") {
		t.Errorf("expected placeholder connection ID, got: %s", output)
	}
	if !strings.Contains(output, "Input: 4  State: PREVIEW_PROGRAM") {
		t.Errorf("expected update details, got: %s", output)
	}
	if !strings.Contains(output, "Data: 03") {
		t.Errorf("expected encoded push, got: %s", output)
	}
}

func TestFormatStateChangeEvent(t *testing.T) {
	var buf bytes.Buffer
	formatEvent(&buf, sessionEvents()[4])
	output := buf.String()

	if !strings.Contains(output, "TRANSPORT State") {
		t.Errorf("expected State label, got: %s", output)
	}
	if !strings.Contains(output, "Entity: LINK") {
		t.Errorf("expected entity, got: %s", output)
	}
	if !strings.Contains(output, "CONNECTED -> RECONNECTING") {
		t.Errorf("expected transition, got: %s", output)
	}
	if !strings.Contains(output, "Reason: 10.0.0.2:9910") {
		t.Errorf("expected reason, got: %s", output)
	}
}

func TestFormatInputStateChange(t *testing.T) {
	event := log.Event{
		Layer:       log.LayerTally,
		Category:    log.CategoryState,
		StateChange: &log.StateChangeEvent{Entity: log.StateEntityInput, Input: 7, NewState: "PROGRAM"},
	}

	var buf bytes.Buffer
	formatEvent(&buf, event)
	output := buf.String()

	if !strings.Contains(output, "Entity: INPUT 7") {
		t.Errorf("expected input entity, got: %s", output)
	}
	if !strings.Contains(output, "  -> PROGRAM") {
		t.Errorf("expected new state without old state, got: %s", output)
	}
}

func TestFormatErrorEvent(t *testing.T) {
	var buf bytes.Buffer
	formatEvent(&buf, sessionEvents()[5])
	output := buf.String()

	if !strings.Contains(output, "Message: connection reset") {
		t.Errorf("expected error message, got: %s", output)
	}
	if !strings.Contains(output, "Context: read") {
		t.Errorf("expected error context, got: %s", output)
	}
}

func TestShortenConnID(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"abc12345-6789", "abc12345"},
		{"abc12345", "abc12345"},
		{"abc", "abc"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := shortenConnID(tt.in); got != tt.want {
			t.Errorf("shortenConnID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseFlags(t *testing.T) {
	if l, err := parseLayer("TALLY"); err != nil || l != log.LayerTally {
		t.Errorf("parseLayer(TALLY) = %v, %v", l, err)
	}
	if _, err := parseLayer("service"); err == nil {
		t.Error("expected error for unknown layer")
	}
	if d, err := parseDirection("out"); err != nil || d != log.DirectionOut {
		t.Errorf("parseDirection(out) = %v, %v", d, err)
	}
	if c, err := parseCategory("KeepAlive"); err != nil || c != log.CategoryKeepAlive {
		t.Errorf("parseCategory(KeepAlive) = %v, %v", c, err)
	}
	if _, err := parseCategory("message"); err == nil {
		t.Error("expected error for unknown category")
	}
}

func TestFilterOptionsBuild(t *testing.T) {
	filter, err := FilterOptions{
		ConnID:    "abc",
		Input:     "3",
		TimeStart: "2026-01-28T10:00:00Z",
		Layer:     "wire",
		Direction: "out",
		Category:  "update",
	}.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if filter.ConnectionID != "abc" || *filter.Input != 3 || *filter.Layer != log.LayerWire ||
		*filter.Direction != log.DirectionOut || *filter.Category != log.CategoryUpdate {
		t.Errorf("unexpected filter: %+v", filter)
	}
	if filter.TimeStart == nil || filter.TimeEnd != nil {
		t.Errorf("unexpected time range: %v %v", filter.TimeStart, filter.TimeEnd)
	}

	if _, err := (FilterOptions{Input: "x"}).Build(); err == nil {
		t.Error("expected error for bad input")
	}
	if _, err := (FilterOptions{TimeEnd: "yesterday"}).Build(); err == nil {
		t.Error("expected error for bad time")
	}
}

func TestRunViewFiltersByInput(t *testing.T) {
	path := createTestLogFile(t, sessionEvents())

	var buf bytes.Buffer
	if err := RunView(path, FilterOptions{Input: "3"}, &buf); err != nil {
		t.Fatalf("RunView failed: %v", err)
	}
	output := buf.String()

	// The handshake lists input 3, the second push targets it.
	if got := strings.Count(output, "[conn:"); got != 2 {
		t.Errorf("expected 2 events, got %d:\n%s", got, output)
	}
	if strings.Contains(output, "Input: 1  State") {
		t.Errorf("push for input 1 should be filtered, got:\n%s", output)
	}
}

func TestRunViewFiltersByCategory(t *testing.T) {
	path := createTestLogFile(t, sessionEvents())

	var buf bytes.Buffer
	if err := RunView(path, FilterOptions{Category: "update", Direction: "out"}, &buf); err != nil {
		t.Fatalf("RunView failed: %v", err)
	}
	if got := strings.Count(buf.String(), " Update\n"); got != 2 {
		t.Errorf("expected 2 updates, got %d:\n%s", got, buf.String())
	}
}

func TestRunViewMissingFile(t *testing.T) {
	var buf bytes.Buffer
	if err := RunView("/nonexistent/file.tlog", FilterOptions{}, &buf); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestRunViewBadFilter(t *testing.T) {
	path := createTestLogFile(t, []log.Event{{Handshake: &log.HandshakeEvent{Format: wire.FormatLegacy}}})

	var buf bytes.Buffer
	if err := RunView(path, FilterOptions{Layer: "nope"}, &buf); err == nil {
		t.Error("expected error for bad layer")
	}
}
