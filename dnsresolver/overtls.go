// SPDX-License-Identifier: GPL-3.0-or-later

package dnsresolver

import (
	"net/netip"

	"github.com/bassosimone/evloop"
	"github.com/bassosimone/evloop/dnsresolver/wire"
	"github.com/bassosimone/evloop/scanner"
	"github.com/bassosimone/evloop/tlsprovider"
)

// dotMaxMessageSize is RFC 7858's 2-byte length prefix ceiling.
const dotMaxMessageSize = 65535

// dotQuery is one in-flight DNS-over-TLS lookup: a single TCP+TLS
// connection to one server, queried for A then (on a negative/missing
// answer) AAAA, mirroring [Resolver.tryNext]'s family order without
// this transport's own multi-server failover loop (see DESIGN.md).
type dotQuery struct {
	hostname string
	server   netip.AddrPort
	provider tlsprovider.Provider

	sock    int
	hasSock bool
	session tlsprovider.Session
	scan    *scanner.Scanner

	family uint16
	user   any
	cb     ResolveCallback
}

// ResolveOverTLS resolves hostname against server using DNS-over-TLS
// (RFC 7858): one TCP connection, a TLS handshake driven through
// provider, then the same 2-byte-length-prefixed message framing DNS
// uses over any stream transport. This is a standalone supplemented
// transport (spec.md [FULL] "DNS-over-TLS") — it does not consult or
// populate the hosts-file/cache/failover state [Resolver.Resolve]
// maintains, since those are specified purely in terms of the
// UDP-first resolve algorithm.
func (r *Resolver) ResolveOverTLS(hostname string, server netip.AddrPort, provider tlsprovider.Provider, user any, cb ResolveCallback) {
	if hostname == "" {
		r.loop.NextTick(nil, func(*evloop.Completion) {
			cb(user, netip.Addr{}, newError(KindInvalidHostname, nil, r.cfg.ErrClassifier))
		})
		return
	}
	if addr, err := netip.ParseAddr(hostname); err == nil {
		r.loop.NextTick(nil, func(*evloop.Completion) {
			cb(user, addr, nil)
		})
		return
	}

	q := &dotQuery{
		hostname: toLowerASCII(hostname),
		server:   server,
		provider: provider,
		family:   wire.TypeA,
		user:     user,
		cb:       cb,
	}
	r.dotConnect(q)
}

func (r *Resolver) dotConnect(q *dotQuery) {
	r.loop.Connect(q.server, nil, func(comp *evloop.Completion) {
		if comp.Err != nil {
			q.cb(q.user, netip.Addr{}, newError(KindServerError, comp.Err, r.cfg.ErrClassifier))
			return
		}
		q.sock = comp.Fd
		q.hasSock = true

		clientCtx := q.provider.ClientCreate()
		session, err := q.provider.ConnectionCreate(clientCtx, q.sock, q.hostname)
		if err != nil {
			r.dotClose(q)
			q.cb(q.user, netip.Addr{}, newError(KindServerError, err, r.cfg.ErrClassifier))
			return
		}
		q.session = session
		q.scan = scanner.New(r.dotSourceFunc(q), dotMaxMessageSize, 4096)

		r.dotDrive(q, session.Connect, func(err error) {
			if err != nil {
				r.dotClose(q)
				q.cb(q.user, netip.Addr{}, newError(KindServerError, err, r.cfg.ErrClassifier))
				return
			}
			r.dotQueryFamily(q)
		})
	})
}

// dotDrive is [httpclient.Connection.driveTLS]'s poll-the-socket
// pattern, reimplemented here since dnsresolver cannot import
// httpclient (and shouldn't — the two packages share no dependency
// direction, see DESIGN.md).
func (r *Resolver) dotDrive(q *dotQuery, step func() tlsprovider.Result, done func(error)) {
	switch res := step(); res {
	case tlsprovider.ResultNone:
		done(nil)
	case tlsprovider.ResultWantRead, tlsprovider.ResultWantWrite:
		mask := evloop.PollRead
		if res == tlsprovider.ResultWantWrite {
			mask = evloop.PollWrite
		}
		r.loop.Poll(q.sock, mask, false, nil, func(comp *evloop.Completion) {
			if comp.Err != nil {
				done(comp.Err)
				return
			}
			r.dotDrive(q, step, done)
		})
	case tlsprovider.ResultShutdown:
		done(tlsprovider.ErrControlledShutdown)
	default:
		done(tlsprovider.ErrFatalShutdown)
	}
}

func (r *Resolver) dotSend(q *dotQuery, buf []byte, done func(error)) {
	if len(buf) == 0 {
		done(nil)
		return
	}
	n, res := q.session.Send(buf)
	rest := buf[n:]
	switch res {
	case tlsprovider.ResultNone:
		r.dotSend(q, rest, done)
	case tlsprovider.ResultWantRead, tlsprovider.ResultWantWrite:
		mask := evloop.PollRead
		if res == tlsprovider.ResultWantWrite {
			mask = evloop.PollWrite
		}
		r.loop.Poll(q.sock, mask, false, nil, func(comp *evloop.Completion) {
			if comp.Err != nil {
				done(comp.Err)
				return
			}
			r.dotSend(q, rest, done)
		})
	case tlsprovider.ResultShutdown:
		done(tlsprovider.ErrControlledShutdown)
	default:
		done(tlsprovider.ErrWriteFailed)
	}
}

func (r *Resolver) dotSourceFunc(q *dotQuery) scanner.Source {
	return func(buf []byte, cb func(n int, err error)) {
		r.dotRecv(q, buf, cb)
	}
}

func (r *Resolver) dotRecv(q *dotQuery, buf []byte, cb func(n int, err error)) {
	n, res := q.session.Recv(buf)
	switch res {
	case tlsprovider.ResultNone:
		cb(n, nil)
	case tlsprovider.ResultWantRead, tlsprovider.ResultWantWrite:
		mask := evloop.PollRead
		if res == tlsprovider.ResultWantWrite {
			mask = evloop.PollWrite
		}
		r.loop.Poll(q.sock, mask, false, nil, func(comp *evloop.Completion) {
			if comp.Err != nil {
				cb(0, comp.Err)
				return
			}
			r.dotRecv(q, buf, cb)
		})
	case tlsprovider.ResultShutdown:
		cb(0, nil)
	default:
		cb(0, tlsprovider.ErrFatalShutdown)
	}
}

func (r *Resolver) dotQueryFamily(q *dotQuery) {
	msg, err := wire.Query(r.transactionID(), q.hostname, q.family)
	if err != nil {
		r.dotClose(q)
		q.cb(q.user, netip.Addr{}, newError(KindInvalidHostname, err, r.cfg.ErrClassifier))
		return
	}

	framed := make([]byte, 2, 2+len(msg))
	framed[0] = byte(len(msg) >> 8)
	framed[1] = byte(len(msg))
	framed = append(framed, msg...)

	r.dotSend(q, framed, func(err error) {
		if err != nil {
			r.dotClose(q)
			q.cb(q.user, netip.Addr{}, newError(KindServerError, err, r.cfg.ErrClassifier))
			return
		}
		r.dotReadResponse(q)
	})
}

func (r *Resolver) dotReadResponse(q *dotQuery) {
	q.scan.ScanBytes(2, func(lenBytes []byte, err error) {
		if err != nil {
			r.dotClose(q)
			q.cb(q.user, netip.Addr{}, newError(KindServerError, err, r.cfg.ErrClassifier))
			return
		}
		size := int(lenBytes[0])<<8 | int(lenBytes[1])
		q.scan.ScanBytes(size, func(packet []byte, err error) {
			if err != nil {
				r.dotClose(q)
				q.cb(q.user, netip.Addr{}, newError(KindServerError, err, r.cfg.ErrClassifier))
				return
			}
			r.dotHandlePacket(q, packet)
		})
	})
}

func (r *Resolver) dotHandlePacket(q *dotQuery, packet []byte) {
	_, _, ancount, nscount, arcount, err := wire.ParseHeader(packet)
	if err != nil {
		r.dotFailOrFallback(q, newError(KindServerError, err, r.cfg.ErrClassifier))
		return
	}
	offset, err := wire.SkipName(packet, wire.HeaderLen)
	if err != nil || offset+4 > len(packet) {
		r.dotFailOrFallback(q, newError(KindServerError, err, r.cfg.ErrClassifier))
		return
	}
	offset += 4

	records, _, err := wire.ParseRecords(packet, offset, ancount+nscount+arcount)
	if err != nil {
		r.dotFailOrFallback(q, newError(KindServerError, err, r.cfg.ErrClassifier))
		return
	}

	for _, rec := range records {
		if addr, ok := decodeAddr(rec, q.family); ok {
			r.dotClose(q)
			q.cb(q.user, addr, nil)
			return
		}
	}
	r.dotFailOrFallback(q, ErrServerError)
}

// dotFailOrFallback mirrors [Resolver.tryNext]'s A->AAAA fallback:
// on a negative A answer, re-query the same already-open TLS session
// for AAAA before giving up, reusing the connection DNS-over-TLS is
// meant to amortize across queries.
func (r *Resolver) dotFailOrFallback(q *dotQuery, err error) {
	if q.family == wire.TypeA {
		q.family = wire.TypeAAAA
		r.dotQueryFamily(q)
		return
	}
	r.dotClose(q)
	q.cb(q.user, netip.Addr{}, err)
}

func (r *Resolver) dotClose(q *dotQuery) {
	if q.session != nil {
		q.session.Close()
	}
	if !q.hasSock {
		return
	}
	fd := q.sock
	q.hasSock = false
	r.loop.CloseFd(fd, nil, func(*evloop.Completion) {})
}
