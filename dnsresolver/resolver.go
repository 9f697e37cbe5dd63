// SPDX-License-Identifier: GPL-3.0-or-later

// Package dnsresolver resolves hostnames to IP addresses by querying
// UDP name servers, with hosts-file fallback and a TTL-bounded cache
// (spec.md §4.3). Every public entry point delivers its result via a
// callback on the owning [evloop.EventLoop]'s goroutine, never
// synchronously, preserving the "always async" contract spec.md §4.3
// step 1 calls out explicitly.
package dnsresolver

import (
	"net/netip"
	"time"

	"github.com/bassosimone/evloop"
	"github.com/bassosimone/evloop/dnsresolver/wire"
)

// Resolver resolves hostnames against a set of name servers loaded at
// [Resolver.Init] time (or supplied via [Config.Servers]), caching
// results by TTL (spec.md §3 "DNS CacheEntry").
type Resolver struct {
	loop   *evloop.EventLoop
	cfg    *Config
	cache  *cache
	hosts  map[string]netip.Addr
	nextID uint16
}

// New constructs a [Resolver] bound to loop. Call [Resolver.Init]
// before the first [Resolver.Resolve].
func New(loop *evloop.EventLoop, cfg *Config) *Resolver {
	if cfg == nil {
		cfg = NewConfig()
	}
	if cfg.Failover == nil {
		cfg.Failover = TraditionalPolicy{}
	}
	return &Resolver{
		loop:  loop,
		cfg:   cfg,
		cache: newCache(),
		hosts: make(map[string]netip.Addr),
	}
}

// InitCallback receives the (possibly distinct) errors from loading
// the name-server list and the hosts file (spec.md §4.3
// "Initialization").
type InitCallback func(resolvConfErr, hostsErr error)

// Init loads the name-server list and hosts file (spec.md §4.3
// "Initialization": "loads two OS-dependent files asynchronously").
// The actual reads are synchronous file reads (miekg/dns's resolv.conf
// parser and a [bufio.Scanner] over the hosts file) — the Operation
// vocabulary spec.md §3 defines has no file-open op — but cb is always
// invoked via [evloop.EventLoop.NextTick] so callers never observe a
// synchronous callback, matching every other Resolver entry point.
// See DESIGN.md for this pragmatic divergence.
func (r *Resolver) Init(cb InitCallback) {
	var resolvErr, hostsErr error

	if len(r.cfg.Servers) > 0 {
		// Explicit override: skip the resolv.conf read entirely.
	} else if servers, err := loadResolvConf(r.cfg.ResolvConfPath); err != nil {
		resolvErr = newError(KindInvalidResolvConfig, err, r.cfg.ErrClassifier)
	} else {
		r.cfg.Servers = servers
	}

	if hosts, err := loadHostsFile(r.cfg.HostsPath); err != nil {
		hostsErr = err
	} else {
		r.hosts = hosts
	}

	r.loop.NextTick(nil, func(*evloop.Completion) {
		cb(resolvErr, hostsErr)
	})
}

// dnsRequest is the in-flight state for one Resolve call (spec.md §3
// "DNS Request (in flight)").
type dnsRequest struct {
	hostname string

	family  uint16 // wire.TypeA or wire.TypeAAAA
	query   []byte
	nsIndex int
	sock    int
	hasSock bool
	accErr  error
	started time.Time
}

// Resolve resolves hostname to an address (spec.md §4.3 "resolve"
// algorithm steps 1-4).
func (r *Resolver) Resolve(hostname string, user any, cb ResolveCallback) {
	if hostname == "" {
		r.loop.NextTick(nil, func(*evloop.Completion) {
			cb(user, netip.Addr{}, newError(KindInvalidHostname, nil, r.cfg.ErrClassifier))
		})
		return
	}

	// Step 1: literal endpoint fast path, delivered via next-tick to
	// preserve the always-async contract.
	if addr, err := netip.ParseAddr(hostname); err == nil {
		r.loop.NextTick(nil, func(*evloop.Completion) {
			cb(user, addr, nil)
		})
		return
	}

	lower := toLowerASCII(hostname)

	// Step 2: hosts-file lookup.
	if addr, ok := r.hosts[lower]; ok {
		r.loop.NextTick(nil, func(*evloop.Completion) {
			cb(user, addr, nil)
		})
		return
	}

	// Step 3: cache lookup.
	if entry, created := r.cache.lookupOrCreate(lower); !created {
		if entry.resolving {
			entry.pending = append(entry.pending, pendingCallback{user: user, cb: cb})
			return
		}
		addr, err := entry.addr, entry.err
		r.loop.NextTick(nil, func(*evloop.Completion) {
			cb(user, addr, err)
		})
		return
	} else {
		entry.pending = append(entry.pending, pendingCallback{user: user, cb: cb})
		r.startResolution(lower)
	}
}

// startResolution begins step 4: a fresh failover loop over the
// configured name servers, family IP4 first (spec.md §4.3 step 4).
func (r *Resolver) startResolution(hostname string) {
	query, err := wire.Query(r.transactionID(), hostname, wire.TypeA)
	if err != nil {
		r.finishFailure(hostname, newError(KindInvalidHostname, err, r.cfg.ErrClassifier))
		return
	}
	req := &dnsRequest{
		hostname: hostname,
		family:   wire.TypeA,
		query:    query,
		nsIndex:  -1,
	}
	r.tryNext(req)
}

func (r *Resolver) transactionID() uint16 {
	r.nextID++
	return r.nextID
}

// tryNext implements spec.md §4.3 "Failover loop (next)": advance
// name_server, switching IP4->IP6 and rebuilding the packet fresh once
// the list is exhausted the first time (DESIGN.md Open Question
// decision: rebuild rather than mutate in place), and failing for good
// once IP6 is exhausted too.
func (r *Resolver) tryNext(req *dnsRequest) {
	r.closeSocket(req)

	idx := r.cfg.Failover.Next(len(r.cfg.Servers), req.nsIndex)
	if idx == -1 {
		if req.family == wire.TypeA {
			query, err := wire.Query(r.transactionID(), req.hostname, wire.TypeAAAA)
			if err != nil {
				r.finishFailure(req.hostname, newError(KindInvalidHostname, err, r.cfg.ErrClassifier))
				return
			}
			req.family = wire.TypeAAAA
			req.query = query
			req.nsIndex = -1
			r.tryNext(req)
			return
		}
		err := req.accErr
		if err == nil {
			err = ErrUnableToResolve
		}
		r.finishFailure(req.hostname, err)
		return
	}
	req.nsIndex = idx

	server := r.cfg.Servers[idx]
	family := evloop.FamilyFor(server.Addr())
	fd, err := r.loop.Socket(family, evloop.SocketDatagram)
	if err != nil {
		req.accErr = newError(KindServerError, err, r.cfg.ErrClassifier)
		r.tryNext(req)
		return
	}
	req.sock = fd
	req.hasSock = true
	req.started = r.cfg.TimeNow()

	r.loop.Send(fd, req.query, server, false, req, func(c *evloop.Completion) {
		if c.Err != nil {
			req.accErr = newError(KindServerError, c.Err, r.cfg.ErrClassifier)
			r.cfg.Failover.Report(req.nsIndex, false, r.cfg.TimeNow(), 0)
			r.tryNext(req)
			return
		}
		r.awaitResponse(req, server)
	})
}

func (r *Resolver) awaitResponse(req *dnsRequest, server netip.AddrPort) {
	buf := make([]byte, 4096)
	recvOp := r.loop.Recv(req.sock, buf, false, req, func(c *evloop.Completion) {
		if c.Err != nil {
			req.accErr = newError(KindServerError, c.Err, r.cfg.ErrClassifier)
			r.cfg.Failover.Report(req.nsIndex, false, r.cfg.TimeNow(), 0)
			r.tryNext(req)
			return
		}
		r.handleResponse(req, buf[:c.N], server)
	})
	r.loop.AttachTimeout(recvOp, r.cfg.ServerTimeout)
}

// handleResponse implements spec.md §4.3 "Record parsing".
func (r *Resolver) handleResponse(req *dnsRequest, packet []byte, server netip.AddrPort) {
	_, _, ancount, nscount, arcount, err := wire.ParseHeader(packet)
	if err != nil {
		req.accErr = newError(KindServerError, err, r.cfg.ErrClassifier)
		r.cfg.Failover.Report(req.nsIndex, false, r.cfg.TimeNow(), 0)
		r.tryNext(req)
		return
	}

	offset, err := wire.SkipName(packet, wire.HeaderLen)
	if err != nil || offset+4 > len(packet) {
		req.accErr = newError(KindServerError, err, r.cfg.ErrClassifier)
		r.tryNext(req)
		return
	}
	offset += 4 // QTYPE + QCLASS

	records, _, err := wire.ParseRecords(packet, offset, ancount+nscount+arcount)
	if err != nil {
		req.accErr = newError(KindServerError, err, r.cfg.ErrClassifier)
		r.cfg.Failover.Report(req.nsIndex, false, r.cfg.TimeNow(), 0)
		r.tryNext(req)
		return
	}

	for _, rec := range records {
		addr, ok := decodeAddr(rec, req.family)
		if !ok {
			continue
		}
		r.cfg.Failover.Report(req.nsIndex, true, r.cfg.TimeNow(), r.cfg.TimeNow().Sub(req.started))
		r.closeSocket(req)
		ttl := time.Duration(rec.TTL) * time.Second
		if max := time.Duration(r.cfg.MaxTTLSeconds) * time.Second; ttl > max {
			ttl = max
		}
		r.cache.publish(r.loop, req.hostname, addr, ttl)
		return
	}

	// No record of the current family present: treat as a failed
	// attempt against this server and keep failing over.
	req.accErr = ErrServerError
	r.cfg.Failover.Report(req.nsIndex, false, r.cfg.TimeNow(), 0)
	r.tryNext(req)
}

func decodeAddr(rec wire.Record, family uint16) (netip.Addr, bool) {
	switch {
	case rec.Type == wire.TypeA && family == wire.TypeA && len(rec.Data) == 4:
		return netip.AddrFrom4([4]byte(rec.Data)), true
	case rec.Type == wire.TypeAAAA && family == wire.TypeAAAA && len(rec.Data) == 16:
		return netip.AddrFrom16([16]byte(rec.Data)), true
	default:
		return netip.Addr{}, false
	}
}

func (r *Resolver) finishFailure(hostname string, err error) {
	// Deferred because startResolution can fail before Resolve returns
	// (no servers, unencodable name); next-tick keeps delivery async.
	r.loop.NextTick(nil, func(*evloop.Completion) {
		r.cache.fail(r.loop, hostname, err)
	})
}

func (r *Resolver) closeSocket(req *dnsRequest) {
	if !req.hasSock {
		return
	}
	fd := req.sock
	req.hasSock = false
	r.loop.CloseFd(fd, nil, func(*evloop.Completion) {})
}

// ClearCache removes every non-resolving cache entry (spec.md §4.3
// "cache_clear").
func (r *Resolver) ClearCache() {
	r.cache.clear()
}

// EvictCache removes hostname's cache entry if present (spec.md §4.3
// "cache_evict").
func (r *Resolver) EvictCache(hostname string) {
	r.cache.evict(toLowerASCII(hostname))
}

func toLowerASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
