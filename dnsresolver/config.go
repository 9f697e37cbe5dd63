// SPDX-License-Identifier: GPL-3.0-or-later

package dnsresolver

import (
	"net/netip"
	"time"

	"github.com/bassosimone/evloop"
)

// Default numeric limits (spec.md §6 "Numeric limits").
const (
	DefaultServerTimeout = time.Second
	DefaultMaxTTLSeconds = 3600
)

// Config wires a [Resolver]'s dependencies, grounded on the teacher's
// own Config/NewConfig pattern ([evloop.Config]).
type Config struct {
	Logger        evloop.Logger
	ErrClassifier evloop.ErrClassifier
	TimeNow       func() time.Time

	// ServerTimeout bounds how long a single name server has to answer
	// before the resolver fails over to the next one (spec.md §4.3
	// DNS_SERVER_TIMEOUT).
	ServerTimeout time.Duration

	// MaxTTLSeconds clamps the cache lifetime of any record (spec.md §6
	// MAX_TTL_SECONDS).
	MaxTTLSeconds int

	// Servers, when non-empty, overrides the name servers read from the
	// resolv.conf-equivalent file (spec.md §4.3 Initialization,
	// [FULL] "Name-server source enrichment").
	Servers []netip.AddrPort

	// SearchDomains holds search suffixes for unqualified hostnames.
	// [Resolver] does not read it: a hostname that fails to resolve is
	// not retried with any suffix, and Init does not fill it.
	SearchDomains []string

	// ResolvConfPath and HostsPath override the platform default paths,
	// primarily for tests.
	ResolvConfPath string
	HostsPath      string

	// Failover selects the name-server failover strategy; defaults to
	// [TraditionalPolicy], the spec-conformant round-robin loop.
	Failover FailoverPolicy
}

// NewConfig returns a [Config] with the spec's default numeric limits
// and a discard logger, mirroring [evloop.NewConfig].
func NewConfig() *Config {
	return &Config{
		Logger:         evloop.DefaultLogger(),
		ErrClassifier:  evloop.DefaultErrClassifier,
		TimeNow:        time.Now,
		ServerTimeout:  DefaultServerTimeout,
		MaxTTLSeconds:  DefaultMaxTTLSeconds,
		ResolvConfPath: defaultResolvConfPath,
		HostsPath:      defaultHostsPath,
		Failover:       TraditionalPolicy{},
	}
}
