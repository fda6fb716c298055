// Package connection supervises the link to the video switcher.
//
// # Reconnection Strategy
//
// After the link is lost the Manager retries with exponential backoff:
//
//  1. Initial delay: 1 second
//  2. Exponential increase: 2s, 4s, 8s, 16s, 32s
//  3. Maximum delay: 60 seconds, repeated until successful
//  4. Reset to 1s on success
//
// Each delay gets up to 25% random jitter. Hostname resolution uses a
// fixed-delay Backoff instead (see NewFixedBackoff) since a missing DNS
// record is not a sign of an overloaded switcher.
//
// Tally clients are not affected by link loss: their subscriptions stay in
// place and resume once the switcher state is replayed.
package connection
