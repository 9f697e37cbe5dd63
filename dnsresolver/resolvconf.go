// SPDX-License-Identifier: GPL-3.0-or-later

package dnsresolver

import (
	"net/netip"

	"github.com/miekg/dns"
)

// defaultResolvConfPath is the conventional Unix path; Windows builds
// never read it since [Config.Servers] is expected to be populated
// explicitly there.
const defaultResolvConfPath = "/etc/resolv.conf"

// loadResolvConf parses a resolv.conf-formatted file into a list of
// UDP port-53 name-server endpoints (spec.md §6 "name-server file:
// lines of `nameserver <IP>`; `#` comments; whitespace tolerance").
//
// Parsing itself is delegated to [dns.ClientConfigFromFile], the same
// library the teacher pack's own local resolver leans on
// (markdingo-trustydns/internal/resolver/local/resolver.go), rather
// than hand-rolling a second resolv.conf scanner.
func loadResolvConf(path string) ([]netip.AddrPort, error) {
	cc, err := dns.ClientConfigFromFile(path)
	if err != nil {
		return nil, err
	}
	servers := make([]netip.AddrPort, 0, len(cc.Servers))
	for _, s := range cc.Servers {
		addr, err := netip.ParseAddr(s)
		if err != nil {
			continue
		}
		servers = append(servers, netip.AddrPortFrom(addr, 53))
	}
	if len(servers) == 0 {
		return nil, ErrInvalidResolvConf
	}
	return servers, nil
}
