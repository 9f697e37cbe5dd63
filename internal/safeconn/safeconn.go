// SPDX-License-Identifier: GPL-3.0-or-later

// Package safeconn provides nil-tolerant accessors for logging fields
// derived from this module's raw-fd connections.
//
// Logging code routinely needs a connection's endpoint even when no
// endpoint is known yet (e.g. a dial that failed before a socket
// existed) or the descriptor hasn't been assigned. These helpers make
// that safe so structured-logging call sites never need their own
// validity checks — unlike net.Conn, [netip.AddrPort] and a raw fd
// carry no method that already does this: AddrPort.String() renders an
// invalid value as the literal "invalid AddrPort" rather than "".
package safeconn

import (
	"net/netip"
	"strconv"
)

// AddrPort returns addr.String(), or "" if addr is the zero/invalid value.
func AddrPort(addr netip.AddrPort) string {
	if !addr.IsValid() {
		return ""
	}
	return addr.String()
}

// Fd returns fd's decimal string, or "" if fd is negative (not yet assigned).
func Fd(fd int) string {
	if fd < 0 {
		return ""
	}
	return strconv.Itoa(fd)
}
