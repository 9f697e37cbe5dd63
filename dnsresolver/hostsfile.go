// SPDX-License-Identifier: GPL-3.0-or-later

package dnsresolver

import (
	"bufio"
	"net/netip"
	"os"
	"strings"
)

// defaultHostsPath is the conventional Unix path.
const defaultHostsPath = "/etc/hosts"

// loadHostsFile parses a hosts-file-formatted file into a hostname ->
// address map (spec.md §6 "hosts file: lines `<IP> <name>…`; `#`
// comments; multiple names per address supported"). No pack example
// parses this format, so it is hand-rolled with [bufio.Scanner], the
// same line-scanning tool the teacher reaches for over raw file reads.
func loadHostsFile(path string) (map[string]netip.Addr, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	hosts := make(map[string]netip.Addr)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		addr, err := netip.ParseAddr(fields[0])
		if err != nil {
			continue
		}
		for _, name := range fields[1:] {
			hosts[strings.ToLower(name)] = addr
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return hosts, nil
}
