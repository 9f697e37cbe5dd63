// SPDX-License-Identifier: GPL-3.0-or-later

package dnsresolver

import (
	"net/netip"
	"time"

	"github.com/bassosimone/evloop"
)

// ResolveCallback receives the outcome of [Resolver.Resolve]: the
// resolved address, or a non-nil error.
type ResolveCallback func(user any, addr netip.Addr, err error)

type pendingCallback struct {
	user any
	cb   ResolveCallback
}

// cacheEntry is one hostname's resolution state (spec.md §3 "DNS
// CacheEntry"). While resolving is true, callers queue onto pending;
// once resolved the record is published and never mutated again, only
// evicted.
type cacheEntry struct {
	addr      netip.Addr
	err       error
	resolving bool
	pending   []pendingCallback
	evictOp   *evloop.Completion
}

// cache is the resolver's hostname -> cacheEntry table. Not safe for
// concurrent use; the resolver only ever touches it from the
// EventLoop's single goroutine (spec.md §5 "Scheduling model").
type cache struct {
	entries map[string]*cacheEntry
}

func newCache() *cache {
	return &cache{entries: make(map[string]*cacheEntry)}
}

// clear removes every entry that is not mid-resolution (spec.md §4.3
// "cache_clear"). Its eviction timeout, if still pending, is left to
// fire later and finds the entry already gone — a no-op, same as a
// natural TTL expiry racing a concurrent evict.
func (c *cache) clear() {
	for name, e := range c.entries {
		if e.resolving {
			continue
		}
		delete(c.entries, name)
	}
}

// evict removes the named entry if present (spec.md §4.3
// "cache_evict"). A no-op if the hostname is unknown or is already
// gone by the time a scheduled eviction fires.
func (c *cache) evict(hostname string) {
	delete(c.entries, hostname)
}

// publish records addr as the resolved record for hostname, flushes
// every queued callback, and schedules eviction after ttl (clamped by
// the caller to MaxTTLSeconds).
func (c *cache) publish(loop *evloop.EventLoop, hostname string, addr netip.Addr, ttl time.Duration) {
	e := c.entries[hostname]
	e.addr = addr
	e.err = nil
	e.resolving = false
	c.scheduleEviction(loop, hostname, e, ttl)
	c.flush(e)
}

// fail records err as the terminal outcome for hostname and flushes
// every queued callback (spec.md §4.3 "Failover loop", failure branch:
// "schedule eviction after 1 minute").
func (c *cache) fail(loop *evloop.EventLoop, hostname string, err error) {
	e := c.entries[hostname]
	e.err = err
	e.resolving = false
	c.scheduleEviction(loop, hostname, e, time.Minute)
	c.flush(e)
}

func (c *cache) scheduleEviction(loop *evloop.EventLoop, hostname string, e *cacheEntry, after time.Duration) {
	e.evictOp = loop.Timeout(after, hostname, func(comp *evloop.Completion) {
		name := comp.User.(string)
		if cur, ok := c.entries[name]; ok && cur == e {
			delete(c.entries, name)
		}
	})
}

func (c *cache) flush(e *cacheEntry) {
	pending := e.pending
	e.pending = nil
	for _, p := range pending {
		p.cb(p.user, e.addr, e.err)
	}
}

// lookupOrCreate returns the existing entry for hostname, or creates a
// fresh resolving=true entry and reports created=true (spec.md §4.3
// step 4: "create a new CacheEntry in resolving=true state").
func (c *cache) lookupOrCreate(hostname string) (entry *cacheEntry, created bool) {
	if e, ok := c.entries[hostname]; ok {
		return e, false
	}
	e := &cacheEntry{resolving: true}
	c.entries[hostname] = e
	return e, true
}
