// Package wire implements the tally distribution wire formats.
//
// The protocol is binary and minimal. A client sends exactly one handshake
// immediately after connecting; the server answers with one push per watched
// input and then one push per state change.
//
// # Legacy Format
//
//	client -> server   [code]            one wire input code (0..MaxInput)
//	server -> client   [state]           PREVIEW_PROGRAM collapsed to PROGRAM
//
// The wire code is translated to a logical input through a RemapTable.
// Legacy clients send nothing after the handshake.
//
// # Extended Format
//
//	client -> server   [0xFF, n, in1 .. inN]
//	server -> client   [input, state]
//
// Extended clients may send arbitrary keep-alive bytes after the handshake;
// the server echoes them unmodified.
package wire
