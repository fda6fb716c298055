// Package log provides structured protocol capture for the tally relay.
//
// It is separate from operational logging (slog). Protocol capture records
// every handshake, state push, keep-alive and lifecycle change as a
// machine-readable event so a session with a misbehaving lamp can be
// replayed offline.
//
// # Basic Usage
//
//	// Development: events on the console
//	cfg.ProtocolLogger = log.NewSlogAdapter(slog.Default())
//
//	// Production: binary capture file
//	cfg.ProtocolLogger, _ = log.NewFileLogger("/var/log/tally/server.tlog")
//
//	// Both
//	cfg.ProtocolLogger = log.NewMultiLogger(adapter, fileLogger)
//
// # Event Types
//
// Events are captured at three layers:
//   - Transport: keep-alive traffic and connection lifecycle
//   - Wire: parsed handshakes and encoded pushes
//   - Tally: computed input state changes and switcher link state
//
// # File Format
//
// Capture files are a plain stream of CBOR records with the .tlog extension.
// The tally-log tool views and summarises them.
package log
