// Package version provides the relay version and protocol version helpers.
package version

import (
	"fmt"
	"runtime/debug"
	"strconv"
	"strings"
)

// Protocol is the tally protocol version advertised over mDNS. The major
// component changes only when the handshake or update framing changes.
const Protocol = "1.1"

// Build is the release version, set at link time:
//
//	go build -ldflags "-X github.com/milux/ATEM-Tally/pkg/version.Build=v1.4.0"
var Build = ""

// ProtocolVersion represents a parsed "major.minor" protocol version.
type ProtocolVersion struct {
	Major uint16
	Minor uint16
}

// Parse parses a "major.minor" version string.
func Parse(s string) (ProtocolVersion, error) {
	major, minor, found := strings.Cut(s, ".")
	if !found || strings.Contains(minor, ".") {
		return ProtocolVersion{}, fmt.Errorf("invalid version %q: expected major.minor", s)
	}

	majorN, err := strconv.ParseUint(major, 10, 16)
	if err != nil {
		return ProtocolVersion{}, fmt.Errorf("invalid version %q: bad major component", s)
	}

	minorN, err := strconv.ParseUint(minor, 10, 16)
	if err != nil {
		return ProtocolVersion{}, fmt.Errorf("invalid version %q: bad minor component", s)
	}

	return ProtocolVersion{Major: uint16(majorN), Minor: uint16(minorN)}, nil
}

// String returns the version as "major.minor".
func (v ProtocolVersion) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// Compatible returns true if the other version has the same major version.
func (v ProtocolVersion) Compatible(other ProtocolVersion) bool {
	return v.Major == other.Major
}

// Current returns the parsed Protocol constant.
func Current() ProtocolVersion {
	v, _ := Parse(Protocol)
	return v
}

// Release returns Build, falling back to the module version recorded in the
// binary and finally to "dev".
func Release() string {
	if Build != "" {
		return Build
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		if v := info.Main.Version; v != "" && v != "(devel)" {
			return v
		}
	}
	return "dev"
}
