// Package commands implements the tally-log CLI commands.
package commands

import (
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/milux/ATEM-Tally/pkg/log"
)

// timestampLayout is used for every printed and exported timestamp.
const timestampLayout = "2006-01-02T15:04:05.000000Z"

// FilterOptions holds the textual filter flags shared by view, filter and
// export.
type FilterOptions struct {
	ConnID    string
	Input     string
	TimeStart string
	TimeEnd   string
	Layer     string
	Direction string
	Category  string
}

// Build parses the options into a log.Filter.
func (o FilterOptions) Build() (log.Filter, error) {
	filter := log.Filter{ConnectionID: o.ConnID}

	if o.Input != "" {
		n, err := strconv.Atoi(o.Input)
		if err != nil {
			return filter, fmt.Errorf("invalid input: %s", o.Input)
		}
		filter.Input = &n
	}
	if o.TimeStart != "" {
		t, err := time.Parse(time.RFC3339, o.TimeStart)
		if err != nil {
			return filter, fmt.Errorf("invalid time-start format: %w", err)
		}
		filter.TimeStart = &t
	}
	if o.TimeEnd != "" {
		t, err := time.Parse(time.RFC3339, o.TimeEnd)
		if err != nil {
			return filter, fmt.Errorf("invalid time-end format: %w", err)
		}
		filter.TimeEnd = &t
	}
	if o.Layer != "" {
		l, err := parseLayer(o.Layer)
		if err != nil {
			return filter, err
		}
		filter.Layer = &l
	}
	if o.Direction != "" {
		d, err := parseDirection(o.Direction)
		if err != nil {
			return filter, err
		}
		filter.Direction = &d
	}
	if o.Category != "" {
		c, err := parseCategory(o.Category)
		if err != nil {
			return filter, err
		}
		filter.Category = &c
	}
	return filter, nil
}

// formatEvent writes a human-readable representation of the event to w.
func formatEvent(w io.Writer, event log.Event) {
	// Header line: timestamp [conn:id] DIRECTION LAYER Type
	ts := event.Timestamp.UTC().Format(timestampLayout)
	connID := shortenConnID(event.ConnectionID)
	if connID == "" {
		connID = "-"
	}

	fmt.Fprintf(w, "%s [conn:%s] %-3s %s %s\n", ts, connID,
		event.Direction.String(), event.Layer.String(), typeLabel(event))
	if event.RemoteAddr != "" {
		fmt.Fprintf(w, "  Remote: %s\n", event.RemoteAddr)
	}

	switch {
	case event.Handshake != nil:
		formatHandshakeDetails(w, event.Handshake)
	case event.Update != nil:
		formatUpdateDetails(w, event.Update)
	case event.KeepAlive != nil:
		formatKeepAliveDetails(w, event.KeepAlive)
	case event.StateChange != nil:
		formatStateChangeDetails(w, event.StateChange)
	case event.Error != nil:
		formatErrorDetails(w, event.Error)
	}

	fmt.Fprintln(w) // Blank line between events
}

// typeLabel names the payload of an event.
func typeLabel(event log.Event) string {
	switch {
	case event.Handshake != nil:
		return "Handshake"
	case event.Update != nil:
		return "Update"
	case event.KeepAlive != nil:
		return "KeepAlive"
	case event.StateChange != nil:
		return "State"
	case event.Error != nil:
		return "Error"
	default:
		return "Unknown"
	}
}

// shortenConnID returns the first 8 characters of the connection ID.
func shortenConnID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}

func formatHandshakeDetails(w io.Writer, hs *log.HandshakeEvent) {
	fmt.Fprintf(w, "  Format: %s\n", hs.Format.String())
	if len(hs.Codes) > 0 {
		fmt.Fprintf(w, "  Codes: %s\n", hex.EncodeToString(hs.Codes))
	}
	fmt.Fprintf(w, "  Inputs: %s\n", joinInts(hs.Inputs))
}

func formatUpdateDetails(w io.Writer, u *log.UpdateEvent) {
	fmt.Fprintf(w, "  Input: %d  State: %s\n", u.Input, u.State.String())
	if len(u.Data) > 0 {
		fmt.Fprintf(w, "  Data: %s\n", hex.EncodeToString(u.Data))
	}
}

func formatKeepAliveDetails(w io.Writer, ka *log.KeepAliveEvent) {
	fmt.Fprintf(w, "  Size: %d bytes", ka.Size)
	if ka.Echoed {
		fmt.Fprint(w, " (echoed)")
	}
	fmt.Fprintln(w)
}

// formatStateChangeDetails writes state change details.
func formatStateChangeDetails(w io.Writer, sc *log.StateChangeEvent) {
	fmt.Fprintf(w, "  Entity: %s", sc.Entity.String())
	if sc.Entity == log.StateEntityInput {
		fmt.Fprintf(w, " %d", sc.Input)
	}
	fmt.Fprintln(w)
	if sc.OldState != "" {
		fmt.Fprintf(w, "  %s -> %s\n", sc.OldState, sc.NewState)
	} else {
		fmt.Fprintf(w, "  -> %s\n", sc.NewState)
	}
	if sc.Reason != "" {
		fmt.Fprintf(w, "  Reason: %s\n", sc.Reason)
	}
}

// formatErrorDetails writes error details.
func formatErrorDetails(w io.Writer, err *log.ErrorEventData) {
	fmt.Fprintf(w, "  Layer: %s\n", err.Layer.String())
	fmt.Fprintf(w, "  Message: %s\n", err.Message)
	if err.Context != "" {
		fmt.Fprintf(w, "  Context: %s\n", err.Context)
	}
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

// parseLayer parses a layer string (case-insensitive).
func parseLayer(s string) (log.Layer, error) {
	switch strings.ToLower(s) {
	case "transport":
		return log.LayerTransport, nil
	case "wire":
		return log.LayerWire, nil
	case "tally":
		return log.LayerTally, nil
	default:
		return 0, fmt.Errorf("invalid layer: %s (must be transport, wire, or tally)", s)
	}
}

// parseDirection parses a direction string (case-insensitive).
func parseDirection(s string) (log.Direction, error) {
	switch strings.ToLower(s) {
	case "in":
		return log.DirectionIn, nil
	case "out":
		return log.DirectionOut, nil
	default:
		return 0, fmt.Errorf("invalid direction: %s (must be in or out)", s)
	}
}

// parseCategory parses a category string (case-insensitive).
func parseCategory(s string) (log.Category, error) {
	switch strings.ToLower(s) {
	case "handshake":
		return log.CategoryHandshake, nil
	case "update":
		return log.CategoryUpdate, nil
	case "keepalive":
		return log.CategoryKeepAlive, nil
	case "state":
		return log.CategoryState, nil
	case "error":
		return log.CategoryError, nil
	default:
		return 0, fmt.Errorf("invalid category: %s (must be handshake, update, keepalive, state, or error)", s)
	}
}

// RunView executes the view command.
func RunView(path string, opts FilterOptions, output io.Writer) error {
	filter, err := opts.Build()
	if err != nil {
		return err
	}

	reader, err := log.NewFilteredReader(path, filter)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		formatEvent(output, event)
	}
	return nil
}
