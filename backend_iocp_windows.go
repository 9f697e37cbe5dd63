// SPDX-License-Identifier: GPL-3.0-or-later

//go:build windows

package evloop

import (
	"net/netip"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"
)

// iocpBackend implements [Backend] on Windows using an I/O completion
// port, the platform this event loop's Completion/Operation vocabulary
// is named after (spec.md §3, §9 "IOCP (Windows): natively
// completion-based, the model this API is named after"). Every
// in-flight operation carries a windows.Overlapped as the first field
// of an [iocpOp] wrapper so GetQueuedCompletionStatus's returned
// *Overlapped pointer can be cast straight back to it.
type iocpBackend struct {
	port    windows.Handle
	waiting map[*iocpOp]*Completion
	ready   []*Completion
}

// iocpOp embeds the OVERLAPPED structure the Win32 API writes into;
// it must be the first field so a *windows.Overlapped from
// GetQueuedCompletionStatus can be reinterpreted as *iocpOp.
type iocpOp struct {
	overlapped windows.Overlapped
	completion *Completion
	wsabuf     windows.WSABuf
	acceptBuf  [2 * (unix_sockaddrSize + 16)]byte
	acceptFd   windows.Handle
}

const unix_sockaddrSize = 16 // sizeof(sockaddr_in6) rounds to this on Windows too

// NewDefaultBackend returns the platform's native [Backend].
func NewDefaultBackend() (Backend, error) {
	return newIOCPBackend()
}

func newIOCPBackend() (*iocpBackend, error) {
	port, err := windows.CreateIoCompletionPort(windows.InvalidHandle, 0, 0, 0)
	if err != nil {
		return nil, err
	}
	return &iocpBackend{port: port, waiting: make(map[*iocpOp]*Completion)}, nil
}

func (b *iocpBackend) Close() error {
	return windows.CloseHandle(b.port)
}

// associate registers fd with the completion port the first time an
// operation touches it. IOCP permits re-association to be skipped
// once per handle; callers are expected to pass the same fd across
// their operation's lifetime.
func (b *iocpBackend) associate(fd windows.Handle) error {
	_, err := windows.CreateIoCompletionPort(fd, b.port, 0, 0)
	if err != nil && err != windows.ERROR_INVALID_PARAMETER {
		return err
	}
	return nil
}

func (b *iocpBackend) Submit(c *Completion) error {
	switch c.Op {
	case OpAccept:
		return b.submitAccept(c)
	case OpConnect:
		return b.submitConnect(c)
	case OpRead, OpRecv:
		return b.submitRecv(c)
	case OpWrite, OpSend:
		return b.submitSend(c)
	case OpClose:
		c.Err = windows.CloseHandle(windows.Handle(c.TargetFd))
		b.ready = append(b.ready, c)
		return nil
	default:
		b.ready = append(b.ready, c)
		return nil
	}
}

func (b *iocpBackend) submitAccept(c *Completion) error {
	listenFd := windows.Handle(c.TargetFd)
	if err := b.associate(listenFd); err != nil {
		c.Err = err
		b.ready = append(b.ready, c)
		return nil
	}
	sock, err := windows.Socket(windows.AF_INET, windows.SOCK_STREAM, 0)
	if err != nil {
		c.Err = err
		b.ready = append(b.ready, c)
		return nil
	}
	op := &iocpOp{completion: c, acceptFd: sock}
	b.waiting[op] = c

	var rxBytes uint32
	err = windows.AcceptEx(listenFd, sock, &op.acceptBuf[0], 0,
		unix_sockaddrSize+16, unix_sockaddrSize+16, &rxBytes, &op.overlapped)
	if err != nil && err != windows.ERROR_IO_PENDING {
		delete(b.waiting, op)
		c.Err = err
		b.ready = append(b.ready, c)
	}
	return nil
}

func (b *iocpBackend) submitConnect(c *Completion) error {
	sock, err := windows.Socket(addrPortFamily(c.Endpoint), windows.SOCK_STREAM, 0)
	if err != nil {
		c.Err = err
		b.ready = append(b.ready, c)
		return nil
	}
	c.Fd = int(sock)
	// ConnectEx requires the socket be bound first.
	if bindErr := windows.Bind(sock, addrPortToSockaddr(netip.AddrPortFrom(wildcardFor(c.Endpoint), 0))); bindErr != nil {
		c.Err = bindErr
		b.ready = append(b.ready, c)
		return nil
	}
	if err := b.associate(sock); err != nil {
		c.Err = err
		b.ready = append(b.ready, c)
		return nil
	}
	op := &iocpOp{completion: c}
	b.waiting[op] = c
	sa := addrPortToSockaddr(c.Endpoint)
	err = windows.ConnectEx(sock, sa, nil, 0, nil, &op.overlapped)
	if err != nil && err != windows.ERROR_IO_PENDING {
		delete(b.waiting, op)
		c.Err = err
		b.ready = append(b.ready, c)
	}
	return nil
}

func (b *iocpBackend) submitRecv(c *Completion) error {
	fd := windows.Handle(c.TargetFd)
	if err := b.associate(fd); err != nil {
		c.Err = err
		b.ready = append(b.ready, c)
		return nil
	}
	op := &iocpOp{completion: c}
	if len(c.Buf) > 0 {
		op.wsabuf = windows.WSABuf{Len: uint32(len(c.Buf)), Buf: &c.Buf[0]}
	}
	b.waiting[op] = c

	var n, flags uint32
	err := windows.WSARecv(fd, &op.wsabuf, 1, &n, &flags, &op.overlapped, nil)
	if err != nil && err != windows.ERROR_IO_PENDING {
		delete(b.waiting, op)
		c.Err = err
		b.ready = append(b.ready, c)
	}
	return nil
}

func (b *iocpBackend) submitSend(c *Completion) error {
	fd := windows.Handle(c.TargetFd)
	if err := b.associate(fd); err != nil {
		c.Err = err
		b.ready = append(b.ready, c)
		return nil
	}
	op := &iocpOp{completion: c}
	if len(c.Buf) > 0 {
		op.wsabuf = windows.WSABuf{Len: uint32(len(c.Buf)), Buf: &c.Buf[0]}
	}
	b.waiting[op] = c

	var n uint32
	err := windows.WSASend(fd, &op.wsabuf, 1, &n, 0, &op.overlapped, nil)
	if err != nil && err != windows.ERROR_IO_PENDING {
		delete(b.waiting, op)
		c.Err = err
		b.ready = append(b.ready, c)
	}
	return nil
}

func (b *iocpBackend) Poll(timeout time.Duration) ([]*Completion, error) {
	if len(b.ready) > 0 {
		out := b.ready
		b.ready = nil
		return out, nil
	}

	ms := uint32(windows.INFINITE)
	if timeout >= 0 {
		ms = uint32(timeout.Milliseconds())
	}

	var rxBytes uint32
	var key uintptr
	var overlapped *windows.Overlapped
	err := windows.GetQueuedCompletionStatus(b.port, &rxBytes, &key, &overlapped, ms)
	if overlapped == nil {
		if err == windows.WAIT_TIMEOUT {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return nil, nil
	}

	op := (*iocpOp)(unsafe.Pointer(overlapped))
	c := op.completion
	delete(b.waiting, op)

	if err != nil {
		c.Err = err
	} else {
		switch c.Op {
		case OpAccept:
			c.Fd = int(op.acceptFd)
		default:
			c.N = int(rxBytes)
		}
	}
	b.ready = append(b.ready, c)

	out := b.ready
	b.ready = nil
	return out, nil
}

func (b *iocpBackend) Socket(family AddressFamily, sockType SocketType) (int, error) {
	fam := windows.AF_INET
	if family == FamilyINET6 {
		fam = windows.AF_INET6
	}
	typ := windows.SOCK_DGRAM
	if sockType == SocketStream {
		typ = windows.SOCK_STREAM
	}
	h, err := windows.Socket(fam, typ, 0)
	return int(h), err
}

func (b *iocpBackend) Cancel(c *Completion) error {
	for op, w := range b.waiting {
		if w != c {
			continue
		}
		err := windows.CancelIoEx(windows.Handle(c.TargetFd), &op.overlapped)
		delete(b.waiting, op)
		if err != nil {
			return err
		}
		return nil
	}
	return errNotFound
}

func addrPortFamily(ap netip.AddrPort) int {
	if ap.Addr().Is4() {
		return windows.AF_INET
	}
	return windows.AF_INET6
}

func wildcardFor(ap netip.AddrPort) netip.Addr {
	if ap.Addr().Is4() {
		return netip.IPv4Unspecified()
	}
	return netip.IPv6Unspecified()
}

func addrPortToSockaddr(ap netip.AddrPort) windows.Sockaddr {
	if ap.Addr().Is4() {
		return &windows.SockaddrInet4{Port: int(ap.Port()), Addr: ap.Addr().As4()}
	}
	return &windows.SockaddrInet6{Port: int(ap.Port()), Addr: ap.Addr().As16()}
}
