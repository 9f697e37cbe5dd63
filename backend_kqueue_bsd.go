// SPDX-License-Identifier: GPL-3.0-or-later

//go:build darwin || freebsd || netbsd || openbsd

package evloop

import (
	"net/netip"
	"time"

	"golang.org/x/sys/unix"
)

// kqueueBackend implements [Backend] on top of BSD/Darwin kqueue. kqueue
// is readiness-based rather than completion-based, so this backend
// bridges the two models the way a userspace reactor does (spec.md §9
// "kqueue (BSD/macOS): readiness-based, adapted with non-blocking
// retries"): Submit attempts the syscall immediately, and only falls
// back to an EVFILT_READ/EVFILT_WRITE registration when the syscall
// would block; Poll drains kqueue, retries the syscall for each fd
// that became ready, and reports the result as a completion.
type kqueueBackend struct {
	kq       int
	waiting  map[int]*Completion // fd -> op registered for readiness
	ready    []*Completion
	changes  []unix.Kevent_t
	events   []unix.Kevent_t
}

// NewDefaultBackend returns the platform's native [Backend].
func NewDefaultBackend() (Backend, error) {
	return newKqueueBackend()
}

func newKqueueBackend() (*kqueueBackend, error) {
	fd, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	return &kqueueBackend{
		kq:      fd,
		waiting: make(map[int]*Completion),
		events:  make([]unix.Kevent_t, 64),
	}, nil
}

func (b *kqueueBackend) Close() error {
	return unix.Close(b.kq)
}

func (b *kqueueBackend) Submit(c *Completion) error {
	switch c.Op {
	case OpAccept:
		return b.tryAccept(c)
	case OpConnect:
		return b.tryConnect(c)
	case OpRead, OpRecv:
		return b.tryRead(c)
	case OpWrite, OpSend:
		return b.tryWrite(c)
	case OpClose:
		c.Err = closeFd(c.TargetFd)
		b.ready = append(b.ready, c)
		return nil
	case OpPoll:
		return b.armPoll(c)
	default:
		b.ready = append(b.ready, c)
		return nil
	}
}

func (b *kqueueBackend) tryAccept(c *Completion) error {
	nfd, sa, err := unix.Accept4(c.TargetFd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err == nil {
		c.Fd = nfd
		c.Addr = sockaddrToAddrPort(sa)
		b.ready = append(b.ready, c)
		return nil
	}
	if err == unix.EAGAIN {
		return b.register(c.TargetFd, unix.EVFILT_READ, c)
	}
	c.Err = err
	b.ready = append(b.ready, c)
	return nil
}

func (b *kqueueBackend) tryConnect(c *Completion) error {
	fd, err := unix.Socket(addrPortFamily(c.Endpoint), unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		c.Err = err
		b.ready = append(b.ready, c)
		return nil
	}
	c.Fd = fd
	sa := addrPortToSockaddr(c.Endpoint)
	err = unix.Connect(fd, sa)
	if err == nil {
		b.ready = append(b.ready, c)
		return nil
	}
	if err == unix.EINPROGRESS {
		return b.register(fd, unix.EVFILT_WRITE, c)
	}
	c.Err = err
	b.ready = append(b.ready, c)
	return nil
}

func (b *kqueueBackend) tryRead(c *Completion) error {
	var n int
	var err error
	if c.Endpoint.IsValid() || c.Op == OpRecv {
		var from unix.Sockaddr
		n, from, err = unix.Recvfrom(c.TargetFd, c.Buf, 0)
		if err == nil && from != nil {
			c.Addr = sockaddrToAddrPort(from)
		}
	} else {
		n, err = unix.Read(c.TargetFd, c.Buf)
	}
	if err == nil {
		c.N = n
		b.ready = append(b.ready, c)
		return nil
	}
	if err == unix.EAGAIN {
		return b.register(c.TargetFd, unix.EVFILT_READ, c)
	}
	c.Err = err
	b.ready = append(b.ready, c)
	return nil
}

func (b *kqueueBackend) tryWrite(c *Completion) error {
	var n int
	var err error
	if c.Op == OpSend && c.Endpoint.IsValid() {
		err = unix.Sendto(c.TargetFd, c.Buf, 0, addrPortToSockaddr(c.Endpoint))
		if err == nil {
			n = len(c.Buf) // datagram sendto is all-or-nothing
		}
	} else {
		n, err = unix.Write(c.TargetFd, c.Buf)
	}
	if err == nil {
		c.N = n
		b.ready = append(b.ready, c)
		return nil
	}
	if err == unix.EAGAIN {
		return b.register(c.TargetFd, unix.EVFILT_WRITE, c)
	}
	c.Err = err
	b.ready = append(b.ready, c)
	return nil
}

func (b *kqueueBackend) Socket(family AddressFamily, sockType SocketType) (int, error) {
	return unix.Socket(unixFamily(family), unixSockType(sockType)|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
}

func unixFamily(f AddressFamily) int {
	if f == FamilyINET6 {
		return unix.AF_INET6
	}
	return unix.AF_INET
}

func unixSockType(t SocketType) int {
	if t == SocketStream {
		return unix.SOCK_STREAM
	}
	return unix.SOCK_DGRAM
}

func (b *kqueueBackend) armPoll(c *Completion) error {
	if c.WaitMask&PollRead != 0 {
		b.changes = append(b.changes, unix.Kevent_t{
			Ident: uint64(c.TargetFd), Filter: unix.EVFILT_READ, Flags: unix.EV_ADD | unix.EV_ENABLE,
		})
	}
	if c.WaitMask&PollWrite != 0 {
		b.changes = append(b.changes, unix.Kevent_t{
			Ident: uint64(c.TargetFd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_ADD | unix.EV_ENABLE,
		})
	}
	b.waiting[c.TargetFd] = c
	return b.flushChanges()
}

// register parks c awaiting a single EVFILT_READ/EVFILT_WRITE event on
// fd, using EV_ONESHOT so the kernel auto-disarms after firing once
// (Poll re-registers on every retry, matching the Completion's own
// one-shot semantics for non-Poll ops).
func (b *kqueueBackend) register(fd int, filter int16, c *Completion) error {
	b.changes = append(b.changes, unix.Kevent_t{
		Ident: uint64(fd), Filter: filter, Flags: unix.EV_ADD | unix.EV_ONESHOT,
	})
	b.waiting[fd] = c
	return b.flushChanges()
}

func (b *kqueueBackend) flushChanges() error {
	if len(b.changes) == 0 {
		return nil
	}
	_, err := unix.Kevent(b.kq, b.changes, nil, nil)
	b.changes = b.changes[:0]
	return err
}

func (b *kqueueBackend) Poll(timeout time.Duration) ([]*Completion, error) {
	if len(b.ready) > 0 || len(b.waiting) == 0 {
		out := b.ready
		b.ready = nil
		return out, nil
	}

	var ts *unix.Timespec
	if timeout >= 0 {
		spec := unix.NsecToTimespec(timeout.Nanoseconds())
		ts = &spec
	}
	n, err := unix.Kevent(b.kq, nil, b.events, ts)
	if err != nil && err != unix.EINTR {
		return nil, err
	}
	for i := 0; i < n; i++ {
		ev := b.events[i]
		fd := int(ev.Ident)
		c, ok := b.waiting[fd]
		if !ok {
			continue
		}
		delete(b.waiting, fd)
		if ev.Flags&unix.EV_ERROR != 0 {
			c.Err = unix.Errno(ev.Data)
			b.ready = append(b.ready, c)
			continue
		}
		if c.Op == OpPoll {
			c.PollMask = pollMaskFromFilter(ev.Filter)
			b.ready = append(b.ready, c)
			continue
		}
		// Retry the syscall now that the fd is ready; re-submit (which
		// may re-register) if it would still block (spurious wakeups).
		if err := b.Submit(c); err != nil {
			return nil, err
		}
	}
	out := b.ready
	b.ready = nil
	return out, nil
}

func (b *kqueueBackend) Cancel(c *Completion) error {
	for fd, w := range b.waiting {
		if w == c {
			delRead := unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_DELETE}
			delWrite := unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_DELETE}
			_, _ = unix.Kevent(b.kq, []unix.Kevent_t{delRead, delWrite}, nil, nil)
			delete(b.waiting, fd)
			return nil
		}
	}
	return errNotFound
}

func pollMaskFromFilter(filter int16) PollMask {
	switch filter {
	case unix.EVFILT_READ:
		return PollRead
	case unix.EVFILT_WRITE:
		return PollWrite
	default:
		return 0
	}
}

func closeFd(fd int) error {
	return unix.Close(fd)
}

func addrPortFamily(ap netip.AddrPort) int {
	if ap.Addr().Is4() {
		return unix.AF_INET
	}
	return unix.AF_INET6
}

func addrPortToSockaddr(ap netip.AddrPort) unix.Sockaddr {
	if ap.Addr().Is4() {
		return &unix.SockaddrInet4{Port: int(ap.Port()), Addr: ap.Addr().As4()}
	}
	return &unix.SockaddrInet6{Port: int(ap.Port()), Addr: ap.Addr().As16()}
}

func sockaddrToAddrPort(sa unix.Sockaddr) netip.AddrPort {
	switch s := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(s.Addr), uint16(s.Port))
	case *unix.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(s.Addr), uint16(s.Port))
	default:
		return netip.AddrPort{}
	}
}
