// Package switcher defines the contract between the tally core and the video
// switcher client, and provides an in-memory state store that implements it.
//
// The switcher client itself (network protocol, packet parsing) is pluggable
// through the Driver interface. A Driver writes into a Memory store; the
// tally core only ever reads a State snapshot and consumes Change events.
//
// # Change Events
//
// Every mutation of the mix state is announced as a structured Change rather
// than a dotted path string:
//
//	ChangeProgramInput          program bus source of an ME
//	ChangePreviewInput          preview bus source of an ME
//	ChangeTransition            transition in progress flag
//	ChangeTransitionProperties  transition selection bitmask
//	ChangeUpstreamKeyer         fill/cut source or on-air flag of one USK
//	ChangeDownstreamKeyer       fill/cut source, tie or on-air flag of one DSK
//
// Changes are delivered serially and in mutation order.
//
// # Link Supervision
//
// Link keeps a Driver connected: it resolves the switcher hostname (retrying
// forever with a fixed delay), connects, and reconnects with exponential
// backoff when the driver reports loss. Subscriptions in the tally core are
// unaffected by link loss; they resume as soon as state flows again.
package switcher
