// SPDX-License-Identifier: GPL-3.0-or-later

// Package httpclient implements a hand-rolled, non-blocking HTTP/1.1
// client over [evloop.EventLoop] (spec.md §4.4): request
// serialization, connection lifecycle and request queueing, the
// connect sequence (DNS resolution via [dnsresolver.Resolver],
// optional TLS via [tlsprovider.Provider]), and RFC 7230 §3.3.3 body
// framing (chunked, Content-Length, read-until-close), all driven
// through poll-based suspension rather than goroutines or net/http.
package httpclient

import (
	"context"
	"errors"
	"math"

	"github.com/bassosimone/evloop"
	"github.com/bassosimone/evloop/dnsresolver"
	"github.com/bassosimone/evloop/scanner"
	"github.com/bassosimone/evloop/tlsprovider"
	"golang.org/x/net/http/httpguts"
)

// HttpClient owns the shared [Config]/[dnsresolver.Resolver]/
// [tlsprovider.Provider] dependencies a set of [Connection]s are
// built from (spec.md §2 component table: "HttpClient owns
// connections").
type HttpClient struct {
	loop        *evloop.EventLoop
	cfg         *Config
	resolver    *dnsresolver.Resolver
	tlsProvider tlsprovider.Provider
}

// New constructs an [*HttpClient] bound to loop. cfg.Resolver must be
// set (and [dnsresolver.Resolver.Init]ed) before the first
// [Connection.Do]; cfg.TLSProvider is required only if an "https"
// [Connection] is ever created.
func New(loop *evloop.EventLoop, cfg *Config) *HttpClient {
	if cfg == nil {
		cfg = NewConfig()
	}
	return &HttpClient{
		loop:        loop,
		cfg:         cfg,
		resolver:    cfg.Resolver,
		tlsProvider: cfg.TLSProvider,
	}
}

// NewConnection builds a [Connection] to host:port over scheme
// ("http" or "https"), in its initial [StatePending] state: nothing
// happens on the wire until the first [Connection.Do] call. ctx, if
// non-nil, is watched for cancellation the way [watchCancellation]
// describes (SPEC_FULL.md §4.4 [FULL] "Cancellation wiring"): it is
// attached once the socket exists, not here.
func (hc *HttpClient) NewConnection(ctx context.Context, scheme, host string, port uint16) (*Connection, error) {
	if scheme != "http" && scheme != "https" {
		return nil, newError(KindDial, errors.New("httpclient: unsupported scheme "+scheme))
	}
	if scheme == "https" && hc.tlsProvider == nil {
		return nil, newError(KindDial, errors.New("httpclient: https connection requested but no TLSProvider configured"))
	}
	if hc.resolver == nil {
		return nil, newError(KindDial, errors.New("httpclient: no Resolver configured"))
	}

	// Convert an internationalized hostname to its Punycode/ASCII form
	// before it is ever handed to the resolver or written into the
	// Host header — the same conversion net/http applies internally
	// via this same helper. ASCII hosts (the common case, including IP
	// literals) pass through unchanged; a conversion error leaves host
	// as-is, so resolution fails later with a clearer DNS-layer error
	// instead of being rejected here.
	if ascii, err := httpguts.PunycodeHostPort(host); err == nil {
		host = ascii
	}

	c := &Connection{
		client: hc,
		loop:   hc.loop,
		cfg:    hc.cfg,
		ctx:    ctx,
		scheme: scheme,
		host:   host,
		port:   port,
		outBuf: make([]byte, 0, 512),
	}
	maxToken := hc.cfg.MaxBodyBytes
	if maxToken == 0 {
		// Zero means unlimited: leave the scanner itself unbounded.
		maxToken = math.MaxInt
	}
	if int64(hc.cfg.MaxHeaderLineSize) > maxToken {
		maxToken = int64(hc.cfg.MaxHeaderLineSize)
	}
	c.scan = scanner.New(c.sourceFunc(), int(maxToken), hc.cfg.ReadChunkSize)
	return c, nil
}
