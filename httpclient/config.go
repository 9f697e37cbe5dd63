// SPDX-License-Identifier: GPL-3.0-or-later

package httpclient

import (
	"time"

	"github.com/bassosimone/evloop"
	"github.com/bassosimone/evloop/dnsresolver"
	"github.com/bassosimone/evloop/tlsprovider"
)

// Default numeric limits (spec.md §6 "Numeric limits").
const (
	// DefaultMaxHeaderLineSize bounds a single status-line or header
	// line's length, the same role [scanner.Scanner]'s maxTokenSize
	// plays for the raw DNS/line scanning in spec.md §4.2.
	DefaultMaxHeaderLineSize = 64 * 1024

	// DefaultMaxBodyBytes is zero, which means unlimited: a [Connection]
	// buffers a response body of any size unless [Config.MaxBodyBytes]
	// is set, in which case a larger body fails with [KindTooLong].
	DefaultMaxBodyBytes = 0

	// DefaultReadChunkSize is the per-Recv/Read buffer size the
	// [scanner.Scanner] backing a [Connection] requests at a time.
	DefaultReadChunkSize = 4096

	// DefaultUserAgent is sent on every request lacking an explicit
	// User-Agent header (spec.md §4.4 "auto headers").
	DefaultUserAgent = "evloop-httpclient/1.0"
)

// Config wires an [HttpClient]'s dependencies, grounded on the
// teacher's own Config/NewConfig pattern ([evloop.Config],
// [dnsresolver.Config]).
type Config struct {
	Logger        evloop.Logger
	ErrClassifier evloop.ErrClassifier
	TimeNow       func() time.Time

	// MaxHeaderLineSize bounds a single response status-line or header
	// line.
	MaxHeaderLineSize int

	// MaxBodyBytes bounds a response body, chunked or not. Zero means
	// unlimited.
	MaxBodyBytes int64

	// ReadChunkSize sizes the read buffer each [Connection]'s scanner
	// requests from the event loop at a time.
	ReadChunkSize int

	// UserAgent is the default User-Agent header value.
	UserAgent string

	// ObserveConns enables per-connection I/O logging in the style of
	// the teacher's ObserveConnFunc (SPEC_FULL.md §4.4 [FULL]
	// "Connection observation"). Disabled by default: most callers only
	// want the round-trip-level httpRoundTripStart/Done events, not a
	// line per read/write.
	ObserveConns bool

	// Resolver resolves request hostnames to addresses. Required.
	Resolver *dnsresolver.Resolver

	// TLSProvider negotiates TLS for "https" targets. Required only if
	// an https:// request is ever issued.
	TLSProvider tlsprovider.Provider
}

// NewConfig returns a [Config] with the spec's default numeric limits
// and a discard logger, mirroring [evloop.NewConfig] /
// [dnsresolver.NewConfig].
func NewConfig() *Config {
	return &Config{
		Logger:            evloop.DefaultLogger(),
		ErrClassifier:     evloop.DefaultErrClassifier,
		TimeNow:           time.Now,
		MaxHeaderLineSize: DefaultMaxHeaderLineSize,
		MaxBodyBytes:      DefaultMaxBodyBytes,
		ReadChunkSize:     DefaultReadChunkSize,
		UserAgent:         DefaultUserAgent,
	}
}
