// SPDX-License-Identifier: GPL-3.0-or-later

package httpclient

import (
	"time"

	"github.com/bassosimone/evloop"
)

// fakeBackend is a minimal scriptable [evloop.Backend], mirroring the
// root package's own fakeBackend test double (eventloop_test.go) and
// [dnsresolver]'s fakebackend_test.go, adapted here to script a whole
// TCP byte stream per connection instead of a single DNS exchange.
type fakeBackend struct {
	nextFd int
	ready  []*evloop.Completion

	// connectErr, when non-nil, is returned as the Err of every
	// OpConnect completion (simulating a refused/unreachable dial).
	connectErr error

	// recvQueues holds, per socket fd, the remaining byte chunks a
	// scripted peer has "sent"; each OpRecv pops the next chunk. An
	// empty (but present) queue reports a clean EOF (N=0, Err=nil); a
	// fd with no queue registered at all also reports EOF, so tests
	// that never touch a given fd's queue behave like a silently
	// closed peer instead of panicking.
	recvQueues map[int][][]byte
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{nextFd: 100, recvQueues: make(map[int][][]byte)}
}

// queueRecv appends chunks to be handed back, in order, to OpRecv
// calls on fd.
func (b *fakeBackend) queueRecv(fd int, chunks ...[]byte) {
	b.recvQueues[fd] = append(b.recvQueues[fd], chunks...)
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
		c.N = len(c.Buf)
	case evloop.OpRecv:
		q := b.recvQueues[c.TargetFd]
		if len(q) == 0 {
			c.N = 0
		} else {
			n := copy(c.Buf, q[0])
			b.recvQueues[c.TargetFd] = q[1:]
			c.N = n
		}
	case evloop.OpPoll:
		c.PollMask = c.WaitMask
	case evloop.OpClose:
		// no-op
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

// drain ticks loop until no more work is pending or maxTicks is hit,
// the way a test driving a fakeBackend-based EventLoop to quiescence
// must, since there is no real kernel to block on.
func drain(loop *evloop.EventLoop, maxTicks int) {
	for i := 0; i < maxTicks; i++ {
		_ = loop.Tick()
	}
}
