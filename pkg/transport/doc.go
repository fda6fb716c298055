// Package transport implements the TCP side of the tally relay.
//
// The Server accepts lamp clients, reads exactly one handshake from each
// (see package wire), subscribes the connection to the requested inputs and
// streams state pushes back. Every connection walks the same lifecycle:
//
//	CONNECTED -> AWAITING_HANDSHAKE -> SUBSCRIBED -> CLOSED
//
// Handshake failures skip SUBSCRIBED and never touch the registry.
//
// # Outbound Queue
//
// Pushes are queued per connection and written by a dedicated goroutine, so
// a slow client never stalls the switcher feed. A full queue or a failed
// write closes that connection only.
//
// # Keep-Alive
//
// Extended clients may send arbitrary bytes after the handshake; they are
// echoed through the same outbound queue, so echoes and pushes stay in
// order. Bytes from legacy clients are read and discarded. The Client type
// and KeepAlive monitor implement the lamp side of this exchange.
package transport
