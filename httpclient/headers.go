// SPDX-License-Identifier: GPL-3.0-or-later

package httpclient

import "strings"

// Cookie is a single response Set-Cookie entry, spec.md §3 "Response:
// ... cookie list". Only name/value are modeled: attribute parsing
// (Path, Domain, Expires, ...) is out of scope per spec.md's cookie
// jar Non-goal — callers that need attributes can inspect the raw
// Set-Cookie header via [Headers.Values] instead.
type Cookie struct {
	Name  string
	Value string
}

// Headers is the ordered, case-insensitive header map spec.md §3
// describes: insertion order is preserved for serialization, lookups
// are case-insensitive per RFC 7230 §3.2, and a parsed response's
// Headers are marked ReadOnly so a callback cannot mutate state the
// connection has already logged and handed over.
//
// The zero value is an empty, writable Headers.
type Headers struct {
	keys     []string
	values   map[string][]string
	ReadOnly bool
}

// NewHeaders returns an empty, writable Headers.
func NewHeaders() *Headers {
	return &Headers{values: make(map[string][]string)}
}

func canonKey(key string) string {
	return strings.ToLower(key)
}

// Add appends value under key, preserving any existing values for the
// same key (e.g. repeated Set-Cookie lines). Panics if h is ReadOnly,
// the way writing into a sealed map is a programming error rather
// than a runtime condition to recover from.
func (h *Headers) Add(key, value string) {
	if h.ReadOnly {
		panic("httpclient: Add on read-only Headers")
	}
	if h.values == nil {
		h.values = make(map[string][]string)
	}
	ck := canonKey(key)
	if _, ok := h.values[ck]; !ok {
		h.keys = append(h.keys, key)
	}
	h.values[ck] = append(h.values[ck], value)
}

// Set replaces any existing values for key with a single value.
func (h *Headers) Set(key, value string) {
	if h.ReadOnly {
		panic("httpclient: Set on read-only Headers")
	}
	ck := canonKey(key)
	if _, ok := h.values[ck]; !ok {
		h.keys = append(h.keys, key)
	}
	if h.values == nil {
		h.values = make(map[string][]string)
	}
	h.values[ck] = []string{value}
}

// Del removes every value stored under key.
func (h *Headers) Del(key string) {
	if h.ReadOnly {
		panic("httpclient: Del on read-only Headers")
	}
	ck := canonKey(key)
	if _, ok := h.values[ck]; !ok {
		return
	}
	delete(h.values, ck)
	for i, k := range h.keys {
		if canonKey(k) == ck {
			h.keys = append(h.keys[:i], h.keys[i+1:]...)
			break
		}
	}
}

// Get returns the first value stored under key, and whether any value
// was present.
func (h *Headers) Get(key string) (string, bool) {
	vs, ok := h.values[canonKey(key)]
	if !ok || len(vs) == 0 {
		return "", false
	}
	return vs[0], true
}

// Values returns every value stored under key, in insertion order.
func (h *Headers) Values(key string) []string {
	return h.values[canonKey(key)]
}

// Has reports whether key has at least one value.
func (h *Headers) Has(key string) bool {
	_, ok := h.values[canonKey(key)]
	return ok
}

// Keys returns the original-case keys in insertion order, one entry
// per distinct key (not per value).
func (h *Headers) Keys() []string {
	out := make([]string, len(h.keys))
	copy(out, h.keys)
	return out
}

// sortedLogFields returns the first value of each header keyed by its
// original-case name, for structured logging (grounded on the teacher's
// httpHeadersToFields in observeconn.go). The map itself is unordered;
// fmt and log/slog print map keys in sorted order.
func (h *Headers) sortedLogFields() map[string]string {
	out := make(map[string]string, len(h.keys))
	for _, k := range h.keys {
		if v, ok := h.Get(k); ok {
			out[k] = v
		}
	}
	return out
}
