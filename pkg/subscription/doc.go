// Package subscription maps tally inputs to the clients watching them.
//
// The Registry owns one tally.Computer per watched input. A computer is
// created when the first client subscribes to its input and destroyed when
// the last one leaves; the subscriber set itself is the reference count.
//
// # Ordering
//
// Subscribe, Unsubscribe and computer change events all serialize on the
// registry lock, and pushes to clients happen while it is held. A client
// therefore sees its initial state for an input before any later change of
// that input, and changes of one input arrive in the order they were
// computed. Client.Push must not block and must not call back into the
// registry.
//
// # Duplicate Suppression
//
// The registry remembers the last state sent per input and drops change
// events that would repeat it.
package subscription
