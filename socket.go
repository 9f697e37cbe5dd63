// SPDX-License-Identifier: GPL-3.0-or-later

package evloop

import "net/netip"

// AddressFamily and SocketType are platform-neutral constants for
// [EventLoop.Socket], so callers (e.g. dnsresolver) never need to
// import an OS-specific package just to open a UDP socket.
type AddressFamily int

const (
	FamilyINET AddressFamily = iota
	FamilyINET6
)

// FamilyFor returns the address family matching addr.
func FamilyFor(addr netip.Addr) AddressFamily {
	if addr.Is4() {
		return FamilyINET
	}
	return FamilyINET6
}

type SocketType int

const (
	SocketDatagram SocketType = iota
	SocketStream
)
