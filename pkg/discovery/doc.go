// Package discovery advertises and finds tally servers over mDNS/DNS-SD.
//
// Servers register one instance of _tally._tcp in the local. domain. The
// TXT record carries:
//
//	ver  server version
//	max  highest accepted input code
//	fmt  accepted handshake formats (comma-separated: legacy,extended)
//	sw   switcher link state (up or down)
//
// Lamps that cannot be configured with a fixed address browse for the
// service type and connect to the first instance found.
package discovery
