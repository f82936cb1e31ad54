// Package transport provides the connection layer relaychat runs on:
// address-family-aware stream sockets (TCP or UNIX-domain) that carry
// newline-framed lines, plus [Select], a readiness wait over many
// connections at once.  Transports handle the "how" of data movement;
// what the lines mean is the protocol package's job.
package transport

import (
	"fmt"
	"strings"
)

// Family selects the address family of a [Conn].
type Family int

const (
	// FamilyInet is TCP over IPv4 or IPv6.
	FamilyInet Family = iota
	// FamilyUnix is a UNIX-domain stream socket addressed by a path.
	FamilyUnix
)

// ParseFamily maps a configuration string onto a Family.
func ParseFamily(s string) (Family, error) {
	switch strings.ToLower(s) {
	case "", "inet", "tcp":
		return FamilyInet, nil
	case "unix":
		return FamilyUnix, nil
	}
	return 0, fmt.Errorf("unknown address family %q", s)
}

// Network returns the name used with the net package.
func (f Family) Network() string {
	if f == FamilyUnix {
		return "unix"
	}
	return "tcp"
}

func (f Family) String() string {
	switch f {
	case FamilyInet:
		return "inet"
	case FamilyUnix:
		return "unix"
	default:
		return fmt.Sprintf("Family(%d)", int(f))
	}
}

func (f Family) valid() bool { return f == FamilyInet || f == FamilyUnix }

// Direction selects which half of a connection [Conn.Shutdown] closes.
type Direction int

const (
	ShutRead Direction = iota
	ShutWrite
	ShutBoth
)
