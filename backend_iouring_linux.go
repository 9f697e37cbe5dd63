// SPDX-License-Identifier: GPL-3.0-or-later

//go:build linux

package evloop

import (
	"math"
	"net/netip"
	"runtime"
	"time"
	"unsafe"

	"github.com/pawelgaczynski/giouring"
	"golang.org/x/sys/unix"
)

// iouringBackend implements [Backend] on Linux using io_uring, which,
// like the IOCP backend, is natively completion-based rather than
// readiness-based (spec.md §9 "io_uring (Linux): natively
// completion-based"): a submitted operation is handed to the kernel
// exactly once and the kernel itself performs the
// read/write/accept/connect and reports the byte count or error,
// unlike the kqueue readiness path.
type iouringBackend struct {
	ring      *giouring.Ring
	pending   map[uint64]*Completion
	nextID    uint64
	completed []*Completion
	pins      map[uint64]*runtime.Pinner
}

// NewDefaultBackend returns the platform's native [Backend].
func NewDefaultBackend() (Backend, error) {
	return newIouringBackend(1024)
}

func newIouringBackend(entries uint32) (*iouringBackend, error) {
	ring, err := giouring.CreateRing(entries)
	if err != nil {
		return nil, err
	}
	return &iouringBackend{
		ring:    ring,
		pending: make(map[uint64]*Completion),
		pins:    make(map[uint64]*runtime.Pinner),
		nextID:  math.MaxUint16, // reserve low IDs, matching liburing convention
	}, nil
}

func (b *iouringBackend) Close() error {
	b.ring.QueueExit()
	return nil
}

func (b *iouringBackend) Submit(c *Completion) error {
	sqe := b.ring.GetSQE()
	if sqe == nil {
		return errSubmissionQueueFull
	}

	b.nextID++
	id := b.nextID

	switch c.Op {
	case OpAccept:
		sqe.PrepareAccept(c.TargetFd, 0, 0, 0)
	case OpConnect:
		fd, err := unix.Socket(addrPortFamily(c.Endpoint), unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
		if err != nil {
			c.Err = err
			b.completed = append(b.completed, c)
			return nil
		}
		c.Fd = fd
		raw, rawLen := encodeSockaddr(c.Endpoint)
		pinner := &runtime.Pinner{}
		pinner.Pin(&raw[0])
		b.pins[id] = pinner
		sqe.PrepareConnect(fd, uintptr(unsafe.Pointer(&raw[0])), rawLen)
	case OpRead:
		if c.HasOffset {
			sqe.PrepareRead(c.TargetFd, uintptr(unsafe.Pointer(&c.Buf[0])), uint32(len(c.Buf)), uint64(c.Offset))
		} else {
			sqe.PrepareRead(c.TargetFd, uintptr(unsafe.Pointer(&c.Buf[0])), uint32(len(c.Buf)), 0)
		}
	case OpWrite:
		if c.HasOffset {
			sqe.PrepareWrite(c.TargetFd, uintptr(unsafe.Pointer(&c.Buf[0])), uint32(len(c.Buf)), uint64(c.Offset))
		} else {
			sqe.PrepareWrite(c.TargetFd, uintptr(unsafe.Pointer(&c.Buf[0])), uint32(len(c.Buf)), 0)
		}
	case OpRecv:
		sqe.PrepareRecv(c.TargetFd, uintptr(unsafe.Pointer(&c.Buf[0])), uint32(len(c.Buf)), 0)
	case OpSend:
		sqe.PrepareSend(c.TargetFd, uintptr(unsafe.Pointer(&c.Buf[0])), uint32(len(c.Buf)), 0)
	case OpClose:
		sqe.PrepareClose(c.TargetFd)
	case OpPoll:
		sqe.PreparePollAdd(uint64(c.TargetFd), uint32(pollMaskToSys(c.WaitMask)))
	case OpPollRemove:
		sqe.PrepareCancel64(int64(id), 0)
	default:
		sqe.PrepareNop()
	}

	sqe.UserData = id
	b.pending[id] = c
	return nil
}

func (b *iouringBackend) Poll(timeout time.Duration) ([]*Completion, error) {
	if len(b.completed) > 0 {
		out := b.completed
		b.completed = nil
		return out, nil
	}

	waitNr := uint32(0)
	if timeout != 0 {
		waitNr = 1
	}
	if _, err := b.ring.SubmitAndWait(waitNr); err != nil && !isTemporaryIouringErr(err) {
		return nil, err
	}

	const batchSize = 64
	var cqes [batchSize]*giouring.CompletionQueueEvent
	for {
		peeked := b.ring.PeekBatchCQE(cqes[:])
		for _, cqe := range cqes[:peeked] {
			b.resolve(cqe)
		}
		b.ring.CQAdvance(peeked)
		if peeked < batchSize {
			break
		}
	}

	out := b.completed
	b.completed = nil
	return out, nil
}

func (b *iouringBackend) resolve(cqe *giouring.CompletionQueueEvent) {
	c, ok := b.pending[cqe.UserData]
	if !ok {
		return
	}
	delete(b.pending, cqe.UserData)
	if pinner, ok := b.pins[cqe.UserData]; ok {
		pinner.Unpin()
		delete(b.pins, cqe.UserData)
	}

	if cqe.Res < 0 {
		c.Err = unix.Errno(-cqe.Res)
	} else {
		switch c.Op {
		case OpAccept:
			c.Fd = int(cqe.Res)
		case OpPoll:
			c.PollMask = pollMaskFromSys(uint32(cqe.Res))
		default:
			c.N = int(cqe.Res)
		}
	}
	b.completed = append(b.completed, c)
}

func (b *iouringBackend) Socket(family AddressFamily, sockType SocketType) (int, error) {
	fam := unix.AF_INET
	if family == FamilyINET6 {
		fam = unix.AF_INET6
	}
	typ := unix.SOCK_DGRAM
	if sockType == SocketStream {
		typ = unix.SOCK_STREAM
	}
	return unix.Socket(fam, typ|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
}

func (b *iouringBackend) Cancel(c *Completion) error {
	for id, w := range b.pending {
		if w != c {
			continue
		}
		sqe := b.ring.GetSQE()
		if sqe == nil {
			return errSubmissionQueueFull
		}
		sqe.PrepareCancel64(int64(id), 0)
		sqe.UserData = 0
		_, err := b.ring.Submit()
		return err
	}
	return errNotFound
}

// encodeSockaddr builds a raw struct sockaddr_in/sockaddr_in6 for
// io_uring's PrepareConnect, which takes a pointer+length pair rather
// than the net/x-sys Sockaddr interface kqueue uses.
func encodeSockaddr(ap netip.AddrPort) ([]byte, uint64) {
	if ap.Addr().Is4() {
		sa := unix.RawSockaddrInet4{
			Family: unix.AF_INET,
			Port:   htons(ap.Port()),
			Addr:   ap.Addr().As4(),
		}
		return (*[unsafe.Sizeof(sa)]byte)(unsafe.Pointer(&sa))[:], uint64(unsafe.Sizeof(sa))
	}
	sa := unix.RawSockaddrInet6{
		Family: unix.AF_INET6,
		Port:   htons(ap.Port()),
		Addr:   ap.Addr().As16(),
	}
	return (*[unsafe.Sizeof(sa)]byte)(unsafe.Pointer(&sa))[:], uint64(unsafe.Sizeof(sa))
}

func htons(port uint16) uint16 {
	return (port << 8) | (port >> 8)
}

func pollMaskToSys(m PollMask) int16 {
	var sys int16
	if m&PollRead != 0 {
		sys |= unix.POLLIN
	}
	if m&PollWrite != 0 {
		sys |= unix.POLLOUT
	}
	return sys
}

func pollMaskFromSys(sys uint32) PollMask {
	var m PollMask
	if sys&unix.POLLIN != 0 {
		m |= PollRead
	}
	if sys&unix.POLLOUT != 0 {
		m |= PollWrite
	}
	return m
}

func isTemporaryIouringErr(err error) bool {
	errno, ok := err.(unix.Errno)
	return ok && (errno == unix.EINTR || errno == unix.EAGAIN)
}

func addrPortFamily(ap netip.AddrPort) int {
	if ap.Addr().Is4() {
		return unix.AF_INET
	}
	return unix.AF_INET6
}
