// SPDX-License-Identifier: GPL-3.0-or-later

package httpclient

import (
	"context"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/bassosimone/evloop"
	"github.com/bassosimone/evloop/internal/safeconn"
	"github.com/bassosimone/evloop/scanner"
	"github.com/bassosimone/evloop/tlsprovider"
)

// State is a [Connection]'s lifecycle stage (spec.md §3 "Connection
// (HTTP)").
type State int

const (
	StatePending State = iota
	StateConnecting
	StateConnected
	StateRequesting
	StateSentHeaders
	StateSentRequest
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateRequesting:
		return "requesting"
	case StateSentHeaders:
		return "sent-headers"
	case StateSentRequest:
		return "sent-request"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Connection is one outbound HTTP(S) connection and its FIFO request
// queue (spec.md §3 "Connection (HTTP)", §4.4). Construct with
// [HttpClient.NewConnection]; submit work with [Connection.Do].
//
// Not safe for concurrent use: like [evloop.EventLoop] itself, every
// method must be called from the goroutine driving the loop's Tick.
type Connection struct {
	client *HttpClient
	loop   *evloop.EventLoop
	cfg    *Config
	ctx    context.Context

	scheme string
	host   string
	port   uint16

	state State

	sock    int
	hasSock bool

	tlsSession tlsprovider.Session

	scan   *scanner.Scanner
	outBuf []byte

	reqHead, reqTail *Request

	observer   *connObserver
	stopWatch  func() bool
	remoteAddr string
}

func defaultPortFor(scheme string) uint16 {
	if scheme == "https" {
		return 443
	}
	return 80
}

// hostHeader returns the authority to send as the Host header:
// "host" alone when port is the scheme default, else "host:port".
func (c *Connection) hostHeader() string {
	if c.port == defaultPortFor(c.scheme) {
		return c.host
	}
	return c.host + ":" + strconv.Itoa(int(c.port))
}

// Do submits req on c, implementing spec.md §4.4 "Connection
// lifecycle and request queueing" exactly, including the literal
// divergence from every other async entry point in this module: a
// request submitted to a Failed connection invokes cb synchronously,
// before Do returns.
func (c *Connection) Do(req *Request, user any, cb ResponseCallback) {
	req.user = user
	req.cb = cb
	req.conn = c
	req.next = nil

	switch c.state {
	case StateFailed:
		cb(user, nil, newError(KindConnectionClosed, nil))
	case StatePending:
		c.reqHead, c.reqTail = req, req
		c.initiateConnect()
	case StateConnected:
		if c.reqHead == nil {
			c.reqHead, c.reqTail = req, req
			c.connectionProcess()
		} else {
			c.enqueueTail(req)
		}
	default: // Connecting, Requesting, SentHeaders, SentRequest
		c.enqueueTail(req)
	}
}

func (c *Connection) enqueueTail(req *Request) {
	if c.reqTail == nil {
		c.reqHead, c.reqTail = req, req
		return
	}
	c.reqTail.next = req
	c.reqTail = req
}

// initiateConnect implements spec.md §4.4 "Connect sequence": resolve
// the host, dial, and (for https) negotiate TLS before transitioning
// to Connected and starting request processing.
func (c *Connection) initiateConnect() {
	c.state = StateConnecting
	c.client.resolver.Resolve(c.host, nil, func(_ any, addr netip.Addr, err error) {
		if err != nil {
			c.failDial(err)
			return
		}
		endpoint := netip.AddrPortFrom(addr, c.port)
		c.loop.Connect(endpoint, nil, func(comp *evloop.Completion) {
			if comp.Err != nil {
				c.failDial(comp.Err)
				return
			}
			c.sock = comp.Fd
			c.hasSock = true
			c.remoteAddr = safeconn.AddrPort(endpoint)
			if c.cfg.ObserveConns {
				c.observer = newConnObserver(c.cfg, "tcp", "", c.remoteAddr)
			}
			c.stopWatch = watchCancellation(c.ctx, c.loop, c.sock)
			if c.scheme == "https" {
				c.setupTLS()
				return
			}
			c.state = StateConnected
			c.connectionProcess()
		})
	})
}

// setupTLS negotiates the TLS session, driving connect(session) via
// poll(socket, Read|Write) until None/Shutdown/Fatal (spec.md §4.4
// "Connect sequence").
func (c *Connection) setupTLS() {
	provider := c.client.tlsProvider
	clientCtx := provider.ClientCreate()
	session, err := provider.ConnectionCreate(clientCtx, c.sock, c.host)
	if err != nil {
		c.failDial(err)
		return
	}
	c.tlsSession = session
	c.driveTLS(session.Connect, func(err error) {
		if err != nil {
			c.failDial(err)
			return
		}
		c.state = StateConnected
		c.connectionProcess()
	})
}

// driveTLS repeatedly invokes step, translating WantRead/WantWrite
// into a poll(socket, mask) suspension before retrying, until step
// reports None (success, done(nil)), Shutdown, or Fatal.
func (c *Connection) driveTLS(step func() tlsprovider.Result, done func(error)) {
	switch res := step(); res {
	case tlsprovider.ResultNone:
		done(nil)
	case tlsprovider.ResultWantRead, tlsprovider.ResultWantWrite:
		mask := evloop.PollRead
		if res == tlsprovider.ResultWantWrite {
			mask = evloop.PollWrite
		}
		c.loop.Poll(c.sock, mask, false, nil, func(comp *evloop.Completion) {
			if comp.Err != nil {
				done(comp.Err)
				return
			}
			c.driveTLS(step, done)
		})
	case tlsprovider.ResultShutdown:
		done(tlsprovider.ErrControlledShutdown)
	default:
		done(tlsprovider.ErrFatalShutdown)
	}
}

// connectionProcess implements spec.md §4.4 "Request processing
// (connection_process)" steps 1-9 for the head-of-line request.
func (c *Connection) connectionProcess() {
	req := c.reqHead
	if req == nil {
		return
	}
	c.state = StateRequesting

	var t0 time.Time
	if c.cfg.Logger != nil {
		t0 = c.cfg.TimeNow()
		c.cfg.Logger.Info("httpRoundTripStart",
			"httpMethod", req.Method,
			"httpUrl", c.scheme+"://"+c.hostHeader()+req.Path,
			"httpRequestHeaders", req.Headers.sortedLogFields(),
			"protocol", "tcp",
			"remoteAddr", c.remoteAddr,
			"t", t0,
		)
	}

	c.outBuf = req.serialize(c.outBuf[:0], c.hostHeader(), c.cfg.UserAgent)
	headerBytes := append([]byte(nil), c.outBuf...)

	c.sendAll(headerBytes, func(err error) {
		if err != nil {
			c.failNetwork(req, t0, err)
			return
		}
		c.state = StateSentHeaders
		if len(req.Body) > 0 {
			c.sendAll(req.Body, func(err error) {
				if err != nil {
					c.failNetwork(req, t0, err)
					return
				}
				c.state = StateSentRequest
				c.beginResponse(req, t0)
			})
			return
		}
		c.state = StateSentRequest
		c.beginResponse(req, t0)
	})
}

func (c *Connection) sendAll(buf []byte, done func(error)) {
	if c.observer != nil {
		t0 := c.observer.writeStart(len(buf))
		inner := done
		done = func(err error) { c.observer.writeDone(t0, len(buf), err); inner(err) }
	}
	if c.tlsSession != nil {
		c.tlsSendAll(buf, done)
		return
	}
	c.loop.Send(c.sock, buf, netip.AddrPort{}, true, nil, func(comp *evloop.Completion) {
		done(comp.Err)
	})
}

func (c *Connection) tlsSendAll(buf []byte, done func(error)) {
	if len(buf) == 0 {
		done(nil)
		return
	}
	n, res := c.tlsSession.Send(buf)
	rest := buf[n:]
	switch res {
	case tlsprovider.ResultNone:
		c.tlsSendAll(rest, done)
	case tlsprovider.ResultWantRead, tlsprovider.ResultWantWrite:
		mask := evloop.PollRead
		if res == tlsprovider.ResultWantWrite {
			mask = evloop.PollWrite
		}
		c.loop.Poll(c.sock, mask, false, nil, func(comp *evloop.Completion) {
			if comp.Err != nil {
				done(comp.Err)
				return
			}
			c.tlsSendAll(rest, done)
		})
	case tlsprovider.ResultShutdown:
		done(tlsprovider.ErrControlledShutdown)
	default:
		done(tlsprovider.ErrWriteFailed)
	}
}

// sourceFunc returns the [scanner.Source] backing this connection's
// response scanner, dispatching to plaintext evloop.Recv or the
// poll-driven TLS session depending on scheme.
func (c *Connection) sourceFunc() scanner.Source {
	return func(buf []byte, cb func(n int, err error)) {
		if c.tlsSession != nil {
			c.tlsRecv(buf, cb)
			return
		}
		var t0 time.Time
		if c.observer != nil {
			t0 = c.observer.readStart(len(buf))
		}
		c.loop.Recv(c.sock, buf, false, nil, func(comp *evloop.Completion) {
			if c.observer != nil {
				c.observer.readDone(t0, comp.N, comp.Err)
			}
			cb(comp.N, comp.Err)
		})
	}
}

func (c *Connection) tlsRecv(buf []byte, cb func(n int, err error)) {
	n, res := c.tlsSession.Recv(buf)
	switch res {
	case tlsprovider.ResultNone:
		cb(n, nil)
	case tlsprovider.ResultWantRead, tlsprovider.ResultWantWrite:
		mask := evloop.PollRead
		if res == tlsprovider.ResultWantWrite {
			mask = evloop.PollWrite
		}
		c.loop.Poll(c.sock, mask, false, nil, func(comp *evloop.Completion) {
			if comp.Err != nil {
				cb(0, comp.Err)
				return
			}
			c.tlsRecv(buf, cb)
		})
	case tlsprovider.ResultShutdown:
		cb(0, nil) // clean EOF, same as a plaintext recv of zero bytes
	default:
		cb(0, tlsprovider.ErrFatalShutdown)
	}
}

// beginResponse implements connection_process steps 4-9: scan the
// first line (retrying once if empty, per RFC-advised robustness),
// parse the status line and headers, read the body, then deliver the
// Response and advance to the next queued request.
func (c *Connection) beginResponse(req *Request, t0 time.Time) {
	c.scan.Reset()
	c.scanStatusLine(req, t0, true)
}

func (c *Connection) scanStatusLine(req *Request, t0 time.Time, retryOnEmpty bool) {
	c.scan.Scan(func(line []byte, err error) {
		if err != nil {
			c.failParse(req, t0, newError(KindInvalidResponseVersion, err))
			return
		}
		if len(line) == 0 && retryOnEmpty {
			c.scanStatusLine(req, t0, false)
			return
		}
		if len(line) > c.cfg.MaxHeaderLineSize {
			c.failParse(req, t0, newError(KindTooLong, nil))
			return
		}
		status, reason, perr := parseStatusLine(line)
		if perr != nil {
			c.failParse(req, t0, perr)
			return
		}
		resp := &Response{StatusCode: status, ReasonPhrase: reason, Headers: NewHeaders()}
		c.scanHeaders(req, t0, resp)
	})
}

func parseStatusLine(line []byte) (int, string, *Error) {
	s := string(line)
	const prefix = "HTTP/1."
	if !strings.HasPrefix(s, prefix) {
		return 0, "", newError(KindInvalidResponseVersion, nil)
	}
	rest := s[len(prefix):]
	i := 0
	for i < len(rest) && rest[i] >= '0' && rest[i] <= '9' {
		i++
	}
	if i == 0 {
		return 0, "", newError(KindInvalidResponseVersion, nil)
	}
	rest = rest[i:]
	if !strings.HasPrefix(rest, " ") {
		return 0, "", newError(KindInvalidResponseVersion, nil)
	}
	rest = strings.TrimPrefix(rest, " ")
	code, reason, _ := strings.Cut(rest, " ")
	if len(code) != 3 {
		return 0, "", newError(KindInvalidResponseStatus, nil)
	}
	n, err := strconv.Atoi(code)
	if err != nil {
		return 0, "", newError(KindInvalidResponseStatus, err)
	}
	return n, reason, nil
}

func (c *Connection) scanHeaders(req *Request, t0 time.Time, resp *Response) {
	c.scan.Scan(func(line []byte, err error) {
		if err != nil {
			c.failParse(req, t0, newError(KindInvalidResponseHeader, err))
			return
		}
		if len(line) == 0 {
			c.readResponseBody(req, t0, resp)
			return
		}
		if len(line) > c.cfg.MaxHeaderLineSize {
			c.failParse(req, t0, newError(KindTooLong, nil))
			return
		}
		name, value, ok := splitHeaderLine(line)
		if !ok {
			c.failParse(req, t0, newError(KindInvalidResponseHeader, nil))
			return
		}
		if strings.EqualFold(name, "set-cookie") {
			cookie, cerr := parseSetCookie(value)
			if cerr != nil {
				c.failParse(req, t0, newError(KindInvalidResponseCookie, cerr))
				return
			}
			resp.Cookies = append(resp.Cookies, cookie)
		} else {
			resp.Headers.Add(name, value)
		}
		c.scanHeaders(req, t0, resp)
	})
}

// parseSetCookie extracts the name=value pair from a Set-Cookie
// value, ignoring any trailing attributes (Path=, Expires=, ...) per
// this module's cookie-jar Non-goal.
func parseSetCookie(value string) (Cookie, error) {
	first, _, _ := strings.Cut(value, ";")
	name, val, ok := strings.Cut(strings.TrimSpace(first), "=")
	if !ok || name == "" {
		return Cookie{}, newError(KindInvalidResponseCookie, nil)
	}
	return Cookie{Name: name, Value: val}, nil
}

func (c *Connection) readResponseBody(req *Request, t0 time.Time, resp *Response) {
	readBody(c.scan, resp.Headers, c.cfg.MaxBodyBytes, func(body []byte, err *Error) {
		if err != nil {
			c.failParse(req, t0, err)
			return
		}
		resp.Body = body
		if ct, ok := resp.Headers.Get("content-type"); ok && isFormURLEncoded(ct) {
			resp.Form = decodeFormBody(body, c.cfg.Logger.Info)
		}
		c.completeRequest(req, t0, resp)
	})
}

func (c *Connection) completeRequest(req *Request, t0 time.Time, resp *Response) {
	resp.Headers.ReadOnly = true
	req.resp = resp

	if c.cfg.Logger != nil {
		c.cfg.Logger.Info("httpRoundTripDone",
			"err", nil,
			"errClass", "",
			"httpMethod", req.Method,
			"httpUrl", c.scheme+"://"+c.hostHeader()+req.Path,
			"httpResponseHeaders", resp.Headers.sortedLogFields(),
			"httpResponseStatusCode", resp.StatusCode,
			"protocol", "tcp",
			"remoteAddr", c.remoteAddr,
			"t0", t0,
			"t", c.cfg.TimeNow(),
		)
	}

	cb, user := req.cb, req.user
	c.reqHead = req.next
	if c.reqHead == nil {
		c.reqTail = nil
	}
	c.state = StateConnected

	cb(user, resp, nil)

	if c.reqHead != nil {
		c.connectionProcess()
	}
}

// failDial implements the "Connect sequence ... On failure" branch:
// every queued request (there is no "active" one yet) fails with the
// same dial error.
func (c *Connection) failDial(err error) {
	c.transitionFailed()
	c.drainQueue(newError(KindDial, err))
}

// failNetwork implements spec.md §4.4 "Failure semantics" first
// sentence: a network error during send/recv fails the active request
// with the mapped error and every queued request with ConnectionClosed.
func (c *Connection) failNetwork(req *Request, t0 time.Time, err error) {
	c.logRoundTripErr(req, t0, err)
	c.transitionFailed()
	rest := req.next
	req.next = nil
	req.cb(req.user, nil, err)
	c.reqHead, c.reqTail = nil, nil
	c.drainQueue(newError(KindConnectionClosed, nil), rest)
}

// failParse implements spec.md §4.4 "Failure semantics" second
// sentence: an HTTP-layer parsing error fails the active request, and
// the connection transitions to Failed regardless (no persistent
// connections). See DESIGN.md for the Open Question decision that
// queued requests are also failed with ConnectionClosed here, for
// consistency with the network-error branch.
func (c *Connection) failParse(req *Request, t0 time.Time, err *Error) {
	c.logRoundTripErr(req, t0, err)
	c.transitionFailed()
	rest := req.next
	req.next = nil
	req.cb(req.user, nil, err)
	c.reqHead, c.reqTail = nil, nil
	c.drainQueue(newError(KindConnectionClosed, nil), rest)
}

func (c *Connection) logRoundTripErr(req *Request, t0 time.Time, err error) {
	if c.cfg.Logger == nil {
		return
	}
	c.cfg.Logger.Info("httpRoundTripDone",
		"err", err,
		"errClass", c.cfg.ErrClassifier.Classify(err),
		"httpMethod", req.Method,
		"httpUrl", c.scheme+"://"+c.hostHeader()+req.Path,
		"protocol", "tcp",
		"remoteAddr", c.remoteAddr,
		"t0", t0,
		"t", c.cfg.TimeNow(),
	)
}

// drainQueue fails every request in heads (defaulting to the whole
// current queue when no explicit list is given) with err.
func (c *Connection) drainQueue(err error, heads ...*Request) {
	var req *Request
	if len(heads) > 0 {
		req = heads[0]
	} else {
		req = c.reqHead
		c.reqHead, c.reqTail = nil, nil
	}
	for req != nil {
		next := req.next
		req.next = nil
		req.cb(req.user, nil, err)
		req = next
	}
}

func (c *Connection) transitionFailed() {
	if c.state == StateFailed {
		return
	}
	c.state = StateFailed
	c.closeSocket()
}

// Close tears down c's socket/TLS session and cancellation watcher.
// Safe to call on an already-failed or never-connected Connection.
func (c *Connection) Close() {
	c.transitionFailed()
}

func (c *Connection) closeSocket() {
	if c.stopWatch != nil {
		c.stopWatch()
		c.stopWatch = nil
	}
	if c.tlsSession != nil {
		c.tlsSession.Close()
		c.tlsSession = nil
	}
	if !c.hasSock {
		return
	}
	sock := c.sock
	c.hasSock = false
	var t0 time.Time
	if c.observer != nil {
		t0 = c.observer.closeStart()
	}
	c.loop.CloseFd(sock, nil, func(comp *evloop.Completion) {
		if c.observer != nil {
			c.observer.closeDone(t0, comp.Err)
		}
	})
}
