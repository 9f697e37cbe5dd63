// SPDX-License-Identifier: GPL-3.0-or-later

package dnsresolver

import (
	"encoding/binary"
	"net/netip"
	"testing"

	"github.com/bassosimone/evloop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildAResponse hand-assembles a minimal DNS response packet (header +
// echoed question + one A record) independently of the wire package's
// own encoder, so the test genuinely exercises [wire.ParseHeader] /
// [wire.SkipName] / [wire.ParseRecords] rather than round-tripping
// through the same code under test.
func buildAResponse(t *testing.T, hostname string, ip netip.Addr, ttl uint32) []byte {
	t.Helper()
	var buf []byte
	buf = binary.BigEndian.AppendUint16(buf, 0xABCD) // ID
	buf = binary.BigEndian.AppendUint16(buf, 0x8180) // QR+RA
	buf = binary.BigEndian.AppendUint16(buf, 1)       // qdcount
	buf = binary.BigEndian.AppendUint16(buf, 1)       // ancount
	buf = binary.BigEndian.AppendUint16(buf, 0)       // nscount
	buf = binary.BigEndian.AppendUint16(buf, 0)       // arcount

	for _, label := range splitHostname(hostname) {
		buf = append(buf, byte(len(label)))
		buf = append(buf, label...)
	}
	buf = append(buf, 0)
	buf = binary.BigEndian.AppendUint16(buf, 1) // QTYPE A
	buf = binary.BigEndian.AppendUint16(buf, 1) // QCLASS IN

	buf = binary.BigEndian.AppendUint16(buf, 0xC00C) // name pointer to offset 12
	buf = binary.BigEndian.AppendUint16(buf, 1)       // type A
	buf = binary.BigEndian.AppendUint16(buf, 1)       // class IN
	buf = binary.BigEndian.AppendUint32(buf, ttl)
	buf = binary.BigEndian.AppendUint16(buf, 4) // rdlength
	v4 := ip.As4()
	buf = append(buf, v4[:]...)
	return buf
}

func splitHostname(hostname string) []string {
	var labels []string
	start := 0
	for i := 0; i < len(hostname); i++ {
		if hostname[i] == '.' {
			labels = append(labels, hostname[start:i])
			start = i + 1
		}
	}
	labels = append(labels, hostname[start:])
	return labels
}

func newTestResolver(t *testing.T) (*Resolver, *fakeBackend, *evloop.EventLoop) {
	t.Helper()
	backend := newFakeBackend()
	loop := evloop.New(backend, evloop.NewConfig())
	cfg := NewConfig()
	cfg.Servers = []netip.AddrPort{mustAddrPort(t, "203.0.113.1:53")}
	r := New(loop, cfg)
	return r, backend, loop
}

func mustAddrPort(t *testing.T, s string) netip.AddrPort {
	t.Helper()
	ap, err := netip.ParseAddrPort(s)
	require.NoError(t, err)
	return ap
}

func TestResolverLiteralEndpointFastPath(t *testing.T) {
	r, _, loop := newTestResolver(t)
	var got netip.Addr
	var gotErr error
	r.Resolve("93.184.216.34", nil, func(user any, addr netip.Addr, err error) {
		got, gotErr = addr, err
	})
	require.NoError(t, loop.Tick())
	require.NoError(t, gotErr)
	assert.Equal(t, "93.184.216.34", got.String())
}

func TestResolverHostsFileLookup(t *testing.T) {
	r, _, loop := newTestResolver(t)
	r.hosts["example.internal"] = netip.MustParseAddr("10.0.0.5")
	var got netip.Addr
	r.Resolve("example.internal", nil, func(user any, addr netip.Addr, err error) {
		got = addr
	})
	require.NoError(t, loop.Tick())
	assert.Equal(t, "10.0.0.5", got.String())
}

func TestResolverCacheHitDedupesConcurrentResolves(t *testing.T) {
	r, backend, loop := newTestResolver(t)
	resp := buildAResponse(t, "example.test", netip.MustParseAddr("93.184.216.34"), 300)
	backend.recvScript = func(c *evloop.Completion) {
		n := copy(c.Buf, resp)
		c.N = n
	}

	var results []netip.Addr
	r.Resolve("example.test", nil, func(user any, addr netip.Addr, err error) {
		require.NoError(t, err)
		results = append(results, addr)
	})
	r.Resolve("example.test", nil, func(user any, addr netip.Addr, err error) {
		require.NoError(t, err)
		results = append(results, addr)
	})

	for i := 0; i < 4 && len(results) < 2; i++ {
		require.NoError(t, loop.Tick())
	}

	assert.Equal(t, 1, backend.sendCount, "exactly one UDP packet should be sent for two concurrent resolves")
	require.Len(t, results, 2)
	assert.Equal(t, "93.184.216.34", results[0].String())
	assert.Equal(t, "93.184.216.34", results[1].String())

	entry, created := r.cache.lookupOrCreate("example.test")
	assert.False(t, created)
	assert.False(t, entry.resolving)
}

func TestResolverFailoverExhaustionBothFamilies(t *testing.T) {
	r, backend, loop := newTestResolver(t)
	backend.recvScript = func(c *evloop.Completion) {
		c.Err = evloop.ErrConnectionClosed
	}

	var gotErr error
	r.Resolve("nowhere.test", nil, func(user any, addr netip.Addr, err error) {
		gotErr = err
	})

	for i := 0; i < 6 && gotErr == nil; i++ {
		require.NoError(t, loop.Tick())
	}

	require.Error(t, gotErr)
	dnsErr, ok := gotErr.(*Error)
	require.True(t, ok)
	assert.Equal(t, KindServerError, dnsErr.Kind)
	// One UDP exchange per family (IP4 then IP6) against the single
	// configured server.
	assert.Equal(t, 2, backend.sendCount)
}

func TestResolverEmptyHostnameFails(t *testing.T) {
	r, _, loop := newTestResolver(t)
	var gotErr error
	r.Resolve("", nil, func(user any, addr netip.Addr, err error) {
		gotErr = err
	})
	require.NoError(t, loop.Tick())
	require.Error(t, gotErr)
	dnsErr, ok := gotErr.(*Error)
	require.True(t, ok)
	assert.Equal(t, KindInvalidHostname, dnsErr.Kind)
}

func TestResolverInitDeliversAsync(t *testing.T) {
	r, _, loop := newTestResolver(t)
	r.cfg.ResolvConfPath = "testdata/resolv.conf"
	r.cfg.HostsPath = "testdata/hosts"
	r.cfg.Servers = nil

	called := false
	r.Init(func(resolvErr, hostsErr error) {
		called = true
		assert.NoError(t, resolvErr)
		assert.NoError(t, hostsErr)
	})
	assert.False(t, called, "Init must not invoke its callback synchronously")
	require.NoError(t, loop.Tick())
	assert.True(t, called)
	assert.NotEmpty(t, r.cfg.Servers)
	assert.Contains(t, r.hosts, "router.lan")
}
