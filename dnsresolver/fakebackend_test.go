// SPDX-License-Identifier: GPL-3.0-or-later

package dnsresolver

import (
	"time"

	"github.com/bassosimone/evloop"
)

// fakeBackend is a minimal scriptable [evloop.Backend] for exercising
// [Resolver] without a real kernel or network, mirroring the root
// package's own fakeBackend test double (eventloop_test.go).
type fakeBackend struct {
	nextFd     int
	sendCount  int
	recvScript func(c *evloop.Completion)
	ready      []*evloop.Completion

	// connectErr, when non-nil, is returned as the Err of every
	// OpConnect completion — used by the DNS-over-TLS tests, which
	// dial a stream socket instead of this package's usual
	// Socket+Send+Recv UDP exchange.
	connectErr error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{nextFd: 100}
}

func (b *fakeBackend) Submit(c *evloop.Completion) error {
	switch c.Op {
	case evloop.OpConnect:
		if b.connectErr != nil {
			c.Err = b.connectErr
		} else {
			b.nextFd++
			c.Fd = b.nextFd
		}
	case evloop.OpSend:
		b.sendCount++
		c.N = len(c.Buf)
	case evloop.OpRecv:
		if b.recvScript != nil {
			b.recvScript(c)
		}
	case evloop.OpPoll:
		c.PollMask = c.WaitMask
	case evloop.OpClose:
		// no-op: fd is a synthetic integer, nothing to release.
	}
	b.ready = append(b.ready, c)
	return nil
}

func (b *fakeBackend) Poll(time.Duration) ([]*evloop.Completion, error) {
	out := b.ready
	b.ready = nil
	return out, nil
}

func (b *fakeBackend) Socket(family evloop.AddressFamily, sockType evloop.SocketType) (int, error) {
	b.nextFd++
	return b.nextFd, nil
}

func (b *fakeBackend) Cancel(c *evloop.Completion) error {
	for i, r := range b.ready {
		if r == c {
			b.ready = append(b.ready[:i], b.ready[i+1:]...)
			return nil
		}
	}
	return nil
}

func (b *fakeBackend) Close() error { return nil }

// drain ticks loop until maxTicks is hit, the way a fakeBackend-driven
// test must since there is no real kernel to block on (mirrors
// httpclient/fakebackend_test.go's helper of the same name).
func drain(loop *evloop.EventLoop, maxTicks int) {
	for i := 0; i < maxTicks; i++ {
		_ = loop.Tick()
	}
}
