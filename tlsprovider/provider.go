// SPDX-License-Identifier: GPL-3.0-or-later

// Package tlsprovider implements the TLS provider trait spec.md §6
// defines ("consumed, not implemented by the core"): a client context,
// a per-connection session, and connect/send/recv operations that
// return one of [ResultNone], [ResultWantRead], [ResultWantWrite],
// [ResultShutdown] or [ResultFatal] instead of blocking, so the owning
// httpclient.Connection can drive the handshake and every subsequent
// record through [evloop.EventLoop]'s poll-based completion model
// (spec.md §4.2 "Connect sequence").
//
// [StdlibProvider] is grounded on the teacher's TLSEngineStdlib (same
// tls.Client(conn, config) call), adapted from a blocking,
// context-cancelable handshake to a poll-driven one using short
// deadlines on the underlying connection: a deadline expiry is the
// non-blocking signal crypto/tls has no native concept of.
package tlsprovider

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"os"
	"time"
)

// Result mirrors spec.md §6's TLS provider return enum.
type Result int

const (
	ResultNone Result = iota
	ResultWantRead
	ResultWantWrite
	ResultShutdown
	ResultFatal
)

func (r Result) String() string {
	switch r {
	case ResultNone:
		return "none"
	case ResultWantRead:
		return "want-read"
	case ResultWantWrite:
		return "want-write"
	case ResultShutdown:
		return "shutdown"
	case ResultFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// ClientCtx is the opaque handle returned by [Provider.ClientCreate]
// and threaded back into [Provider.ConnectionCreate].
type ClientCtx any

// Session is one TLS connection's handshake-and-record-layer state
// (spec.md §3 "Connection (HTTP)": "opaque TLS session handle"). Every
// method is non-blocking: it either makes progress and returns
// [ResultNone] (possibly with bytes, for Send/Recv), or reports what
// the caller must wait for before calling again.
type Session interface {
	// Connect drives (or resumes) the handshake.
	Connect() Result

	// Send writes plaintext application data, returning how much of b
	// was consumed before the provider needed to block.
	Send(b []byte) (int, Result)

	// Recv reads plaintext application data into b.
	Recv(b []byte) (int, Result)

	// Close tears down the session and its underlying connection.
	Close() error
}

// Provider is the trait spec.md §6 "TLS provider" names.
type Provider interface {
	// ClientCreate builds a client-side TLS context.
	ClientCreate() ClientCtx

	// ConnectionCreate builds a [Session] for sock, a connected,
	// non-blocking-owned socket handle, negotiating host as the SNI /
	// certificate-verification name.
	ConnectionCreate(ctx ClientCtx, sock int, host string) (Session, error)
}

// StdlibProvider implements [Provider] using crypto/tls, the way the
// teacher's TLSEngineStdlib wraps [tls.Client] — generalized here from
// a blocking net.Conn handshake to a poll-driven one.
//
// The zero value is ready to use with the default [tls.Config].
type StdlibProvider struct {
	// Config is cloned per connection and given ServerName = host when
	// unset. A nil Config means an empty [tls.Config].
	Config *tls.Config

	// PollQuantum bounds how long a single Connect/Send/Recv call may
	// block the event loop goroutine waiting for the kernel socket
	// before reporting WantRead/WantWrite. Defaults to 1ms: short
	// enough that a single miss costs nothing noticeable, long enough
	// that most local handshakes finish in one or two polls instead of
	// spinning.
	PollQuantum time.Duration
}

var _ Provider = &StdlibProvider{}

const defaultPollQuantum = time.Millisecond

func (p *StdlibProvider) quantum() time.Duration {
	if p.PollQuantum > 0 {
		return p.PollQuantum
	}
	return defaultPollQuantum
}

// ClientCreate implements [Provider]. StdlibProvider needs no shared
// per-client state, so it returns itself.
func (p *StdlibProvider) ClientCreate() ClientCtx {
	return p
}

// ConnectionCreate implements [Provider].
//
// sock is wrapped via [os.NewFile] and [net.FileConn]; per that pair's
// documented contract the wrapping dups the descriptor, so the
// original os.File is closed immediately afterward without affecting
// sock or the returned net.Conn.
func (p *StdlibProvider) ConnectionCreate(ctx ClientCtx, sock int, host string) (Session, error) {
	file := os.NewFile(uintptr(sock), "tlsprovider-conn")
	conn, err := net.FileConn(file)
	file.Close()
	if err != nil {
		return nil, err
	}
	cfg := p.configFor(host)
	return &stdlibSession{conn: conn, tlsConn: tls.Client(conn, cfg), quantum: p.quantum()}, nil
}

func (p *StdlibProvider) configFor(host string) *tls.Config {
	var cfg *tls.Config
	if p.Config != nil {
		cfg = p.Config.Clone()
	} else {
		cfg = &tls.Config{}
	}
	if cfg.ServerName == "" {
		cfg.ServerName = host
	}
	return cfg
}

type stdlibSession struct {
	conn    net.Conn
	tlsConn *tls.Conn
	quantum time.Duration
}

var _ Session = &stdlibSession{}

func (s *stdlibSession) Connect() Result {
	s.conn.SetDeadline(time.Now().Add(s.quantum))
	err := s.tlsConn.HandshakeContext(context.Background())
	// A client handshake spends most of its blocked time waiting on the
	// server's response; WantRead is the overwhelmingly likely reason
	// for a deadline expiry here, so it is the default.
	return classify(err, ResultWantRead)
}

func (s *stdlibSession) Send(b []byte) (int, Result) {
	s.conn.SetWriteDeadline(time.Now().Add(s.quantum))
	n, err := s.tlsConn.Write(b)
	return n, classify(err, ResultWantWrite)
}

func (s *stdlibSession) Recv(b []byte) (int, Result) {
	s.conn.SetReadDeadline(time.Now().Add(s.quantum))
	n, err := s.tlsConn.Read(b)
	return n, classify(err, ResultWantRead)
}

func (s *stdlibSession) Close() error {
	return s.tlsConn.Close()
}

func classify(err error, wouldBlock Result) Result {
	if err == nil {
		return ResultNone
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return wouldBlock
	}
	if errors.Is(err, io.EOF) {
		return ResultShutdown
	}
	return ResultFatal
}
