// SPDX-License-Identifier: GPL-3.0-or-later

package evloop

import "time"

// Backend abstracts the per-platform kernel completion interface (IOCP,
// io_uring, kqueue — see spec.md §4.1, §9 "Per-platform event-loop
// backends"). [EventLoop.Tick] is platform-neutral and only calls
// through this interface; everything OS-specific lives behind one of
// the backend_*.go files selected by build tag.
//
// A Backend is only ever driven by the single goroutine that calls
// [EventLoop.Tick]; implementations need no internal locking.
type Backend interface {
	// Submit hands op to the kernel (or, for operations that can be
	// serviced immediately, queues op for the next Poll call without a
	// syscall). Returns [errSubmissionQueueFull] if the kernel's
	// submission queue has no room; the caller retries after draining
	// completions.
	Submit(op *Completion) error

	// Poll blocks for at most timeout (0 means return immediately;
	// a negative timeout means wait indefinitely) and returns every
	// [Completion] that became ready. A multi-shot poll [Completion]
	// may appear here repeatedly across calls.
	Poll(timeout time.Duration) ([]*Completion, error)

	// Cancel best-effort cancels an in-kernel operation (used for
	// PollRemove and for racing a timeout against an in-flight op).
	// It is not an error to cancel an operation that already
	// completed; the caller ignores [errNotFound] in that case.
	Cancel(op *Completion) error

	// Socket creates a non-blocking socket of the given address family
	// and type, returning its file descriptor. Unlike every other
	// Backend method this never suspends: socket creation is a single
	// fast syscall, so DnsResolver's UDP exchange can call it directly
	// instead of submitting a Completion for it.
	Socket(family AddressFamily, sockType SocketType) (fd int, err error)

	// Close releases the backend's kernel handle. No further Submit
	// or Poll calls are valid afterward.
	Close() error
}

// errSubmissionQueueFull and errNotFound are backend-internal sentinels
// consumed by [EventLoop.Tick]; they never reach a user [Callback].
type backendError string

func (e backendError) Error() string { return string(e) }

const (
	errSubmissionQueueFull = backendError("evloop: submission queue full")
	errNotFound            = backendError("evloop: completion not found")
)
