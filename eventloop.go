// SPDX-License-Identifier: GPL-3.0-or-later

package evloop

import (
	"net/netip"
	"time"
)

// EventLoop is a non-blocking, single-threaded, callback-driven I/O
// runtime (spec.md §4.1). Every [Completion] submitted through one of
// its Submit* methods has its [Callback] invoked exactly once, on the
// goroutine that calls [EventLoop.Tick], with the [Logger]/[ErrClassifier]
// captured at submission time restored.
//
// EventLoop is not safe for concurrent use: all Submit* calls and all
// calls to Tick must happen on the same goroutine (spec.md §5
// "Scheduling model").
type EventLoop struct {
	backend       Backend
	pool          *completionPool
	logger        Logger
	errClassifier ErrClassifier
	timeNow       func() time.Time

	toSubmit  []*Completion // newly created, not yet given to the backend
	unqueued  []*Completion // backpressure backlog (spec.md §5 "Backpressure")
	completed []*Completion // reported by the backend, awaiting dispatch
	timeouts  []*Completion // unordered; scanned every tick

	ioInflight int
	closed     bool
}

// New constructs an [*EventLoop] driven by backend. Use [NewDefaultBackend]
// to get the platform's native backend (kqueue, io_uring, or IOCP).
func New(backend Backend, cfg *Config) *EventLoop {
	if cfg == nil {
		cfg = NewConfig()
	}
	return &EventLoop{
		backend:       backend,
		pool:          newCompletionPool(cfg.PoolChunkSize),
		logger:        cfg.Logger,
		errClassifier: cfg.ErrClassifier,
		timeNow:       cfg.TimeNow,
	}
}

// Stats reports completion-pool utilization: how many Completions have
// been allocated and how many are currently in use.
func (l *EventLoop) Stats() Stats {
	s := l.pool.stats()
	return s
}

// Close shuts down the backend. Any operation still in toSubmit or
// in-kernel at this point never has its callback invoked: callers
// should drain the loop (keep calling Tick until Stats().InUse is 0,
// or every owned Connection/socket has been closed) before calling Close.
func (l *EventLoop) Close() error {
	if l.closed {
		return nil
	}
	l.closed = true
	return l.backend.Close()
}

// newCompletion allocates a Completion from the pool and stamps the
// ambient context (spec.md §3 "a captured ambient context").
func (l *EventLoop) newCompletion(op Operation, user any, cb Callback) *Completion {
	c := l.pool.get()
	c.Op = op
	c.User = user
	c.Callback = cb
	c.SpanID = NewSpanID()
	c.Logger = l.logger
	c.ErrClass = l.errClassifier
	c.state = stateNew
	return c
}

// enqueueSubmit queues c for submission to the backend on the next Tick.
func (l *EventLoop) enqueueSubmit(c *Completion) *Completion {
	c.state = statePending
	l.toSubmit = append(l.toSubmit, c)
	return c
}

// Accept submits an OpAccept on listenFd. See spec.md §4.1.
func (l *EventLoop) Accept(listenFd int, user any, cb Callback) *Completion {
	c := l.newCompletion(OpAccept, user, cb)
	c.TargetFd = listenFd
	return l.enqueueSubmit(c)
}

// Connect submits an OpConnect to endpoint. Rejects a zero port without
// a syscall (spec.md §4.1 "PortRequired").
func (l *EventLoop) Connect(endpoint netip.AddrPort, user any, cb Callback) *Completion {
	c := l.newCompletion(OpConnect, user, cb)
	c.Endpoint = endpoint
	if endpoint.Port() == 0 {
		c.Err = newError(KindPortRequired, nil, l.errClassifier)
		l.completed = append(l.completed, c)
		c.state = stateCompleted
		return c
	}
	return l.enqueueSubmit(c)
}

// Socket creates a non-blocking socket of the given family/type. See
// [Backend.Socket]: unlike every other method here this does not
// suspend.
func (l *EventLoop) Socket(family AddressFamily, sockType SocketType) (int, error) {
	return l.backend.Socket(family, sockType)
}

// CloseFd submits an OpClose for fd. Idempotent from the caller's
// perspective; never retried on EINTR (spec.md §4.1 "close").
func (l *EventLoop) CloseFd(fd int, user any, cb Callback) *Completion {
	c := l.newCompletion(OpClose, user, cb)
	c.TargetFd = fd
	return l.enqueueSubmit(c)
}

// Read submits an OpRead. If all is true, short reads are resubmitted
// internally (advancing Offset when hasOffset) until len(buf) bytes
// have been read or an error occurs; the callback then sees either a
// full read or a terminal error, never a short count (spec.md §4.1,
// §7 "Partial writes ... never surface as success with a short count").
func (l *EventLoop) Read(fd int, buf []byte, offset int64, hasOffset bool, all bool, user any, cb Callback) *Completion {
	c := l.newCompletion(OpRead, user, cb)
	c.TargetFd = fd
	c.Buf = buf
	c.Offset = offset
	c.HasOffset = hasOffset
	c.All = all
	return l.enqueueSubmit(c)
}

// Write submits an OpWrite. See [EventLoop.Read] for the all semantics.
func (l *EventLoop) Write(fd int, buf []byte, offset int64, hasOffset bool, all bool, user any, cb Callback) *Completion {
	c := l.newCompletion(OpWrite, user, cb)
	c.TargetFd = fd
	c.Buf = buf
	c.Offset = offset
	c.HasOffset = hasOffset
	c.All = all
	return l.enqueueSubmit(c)
}

// Recv submits an OpRecv on sock.
func (l *EventLoop) Recv(sock int, buf []byte, all bool, user any, cb Callback) *Completion {
	c := l.newCompletion(OpRecv, user, cb)
	c.TargetFd = sock
	c.Buf = buf
	c.All = all
	return l.enqueueSubmit(c)
}

// Send submits an OpSend on sock. endpoint is required for UDP sockets
// (spec.md §4.1 "UDP send requires endpoint") and ignored for TCP.
func (l *EventLoop) Send(sock int, buf []byte, endpoint netip.AddrPort, all bool, user any, cb Callback) *Completion {
	c := l.newCompletion(OpSend, user, cb)
	c.TargetFd = sock
	c.Buf = buf
	c.Endpoint = endpoint
	c.All = all
	return l.enqueueSubmit(c)
}

// Timeout submits an OpTimeout that fires no earlier than now+d. Resolution
// is bounded by the tick cadence (spec.md §4.1).
func (l *EventLoop) Timeout(d time.Duration, user any, cb Callback) *Completion {
	c := l.newCompletion(OpTimeout, user, cb)
	c.Deadline = l.timeNow().Add(d)
	c.state = statePending
	l.timeouts = append(l.timeouts, c)
	return c
}

// NextTick submits a callback that runs before the loop blocks on the
// kernel again (spec.md §4.1 "next_tick").
func (l *EventLoop) NextTick(user any, cb Callback) *Completion {
	c := l.newCompletion(OpNextTick, user, cb)
	c.state = stateCompleted
	l.completed = append(l.completed, c)
	return c
}

// Poll submits an edge/level-triggered readiness notification on fd.
// If multi is false the completion auto-removes after firing once; if
// true it persists until [EventLoop.PollRemove].
func (l *EventLoop) Poll(fd int, mask PollMask, multi bool, user any, cb Callback) *Completion {
	c := l.newCompletion(OpPoll, user, cb)
	c.TargetFd = fd
	c.WaitMask = mask
	c.Multi = multi
	return l.enqueueSubmit(c)
}

// PollRemove cancels a multi-shot [Completion] previously submitted via
// [EventLoop.Poll] with multi=true. Safe to call even if the poll has
// already fired and is awaiting dispatch.
func (l *EventLoop) PollRemove(target *Completion) error {
	target.cancelled = true
	if target.state == stateInKernel {
		if err := l.backend.Cancel(target); err != nil && err != errNotFound {
			return err
		}
	}
	for _, c := range l.completed {
		if c == target {
			// Already fired and queued: handleDispatch runs its callback
			// and then recycles it, since it is now cancelled.
			return nil
		}
	}
	l.pool.put(target)
	return nil
}

// AttachTimeout races op against a d-duration timeout (spec.md §4.1
// "Cancellation" / §8 "exactly one of (op-result, timeout-result) is
// delivered"). If op completes first, the timeout is cancelled
// silently. If the timeout fires first and op is already in the
// kernel, op is cancelled and synthesized as a [KindTimeout] failure;
// if op has not yet reached the kernel, it is marked and will be
// failed with [KindTimeout] on its next dispatch instead of being
// submitted.
func (l *EventLoop) AttachTimeout(op *Completion, d time.Duration) {
	companion := l.newCompletion(OpTimeout, nil, nil)
	companion.Deadline = l.timeNow().Add(d)
	companion.target = op
	op.timeout = companion
	l.timeouts = append(l.timeouts, companion)
}

// Tick runs one iteration of the loop: flush timeouts, flush
// submissions, drain kernel completions, dispatch callbacks. See
// spec.md §4.1 "Per-tick algorithm".
func (l *EventLoop) Tick() error {
	minWait := l.flushTimeouts()
	if err := l.flushSubmissions(); err != nil {
		return err
	}
	if err := l.drainCompletions(minWait); err != nil {
		return err
	}
	l.dispatch()
	return nil
}

// flushTimeouts moves every expired timeout to the completed queue and
// returns the minimum remaining delay among those still pending, as a
// ceiling for the kernel wait in drainCompletions.
func (l *EventLoop) flushTimeouts() time.Duration {
	now := l.timeNow()
	minWait := time.Duration(-1) // negative means "no ceiling"
	remaining := l.timeouts[:0]
	for _, t := range l.timeouts {
		if !now.Before(t.Deadline) {
			l.fireTimeout(t)
			continue
		}
		remaining = append(remaining, t)
		if d := t.Deadline.Sub(now); minWait < 0 || d < minWait {
			minWait = d
		}
	}
	l.timeouts = remaining
	return minWait
}

// fireTimeout handles one expired timeout Completion, which is either
// a bare user [EventLoop.Timeout] submission or a companion attached
// via [EventLoop.AttachTimeout].
func (l *EventLoop) fireTimeout(t *Completion) {
	if t.target == nil {
		t.state = stateCompleted
		l.completed = append(l.completed, t)
		return
	}

	target := t.target
	if t.cancelled {
		// The guarded op already completed successfully; this
		// companion fires only to be discarded (spec.md §4.1).
		l.pool.put(t)
		return
	}

	target.timeout = nil
	l.pool.put(t)

	if target.state == stateInKernel {
		_ = l.backend.Cancel(target)
	} else {
		// Still sitting in toSubmit: drop it from that slice so it is
		// never handed to the backend.
		l.removeFromSubmit(target)
	}
	target.Err = newError(KindTimeout, nil, l.errClassifier)
	target.state = stateCompleted
	l.completed = append(l.completed, target)
}

func (l *EventLoop) removeFromSubmit(target *Completion) {
	out := l.toSubmit[:0]
	for _, c := range l.toSubmit {
		if c != target {
			out = append(out, c)
		}
	}
	l.toSubmit = out
}

// flushSubmissions hands every queued Completion to the backend. On
// "submission queue full" it drains completions once and retries; a
// submission that still cannot be accepted is kept on an unqueued
// backlog drained on subsequent ticks, per spec.md §5 "Backpressure".
func (l *EventLoop) flushSubmissions() error {
	batch := append(l.unqueued, l.toSubmit...)
	l.unqueued = l.unqueued[:0]
	l.toSubmit = l.toSubmit[:0]

	for i, c := range batch {
		if c.cancelled {
			// Timed out before reaching the kernel (fireTimeout already
			// queued its synthesized completion).
			continue
		}
		err := l.backend.Submit(c)
		switch {
		case err == nil:
			c.state = stateInKernel
			c.inKernel = true
			l.ioInflight++
		case err == errSubmissionQueueFull:
			if _, drainErr := l.drainOnce(); drainErr != nil {
				return drainErr
			}
			if retryErr := l.backend.Submit(c); retryErr == nil {
				c.state = stateInKernel
				c.inKernel = true
				l.ioInflight++
			} else {
				l.unqueued = append(l.unqueued, batch[i:]...)
				return nil
			}
		default:
			return err
		}
	}
	return nil
}

func (l *EventLoop) drainOnce() (int, error) {
	done, err := l.backend.Poll(0)
	if err != nil {
		return 0, err
	}
	l.completed = append(l.completed, done...)
	l.ioInflight -= len(done)
	return len(done), nil
}

// drainCompletions blocks for at most ceiling (capped by any pending
// timeout) and appends whatever the backend reports to the completed
// queue.
func (l *EventLoop) drainCompletions(ceiling time.Duration) error {
	wait := ceiling
	if len(l.toSubmit) > 0 || len(l.unqueued) > 0 {
		// Never block the thread if there is still submission work to
		// retry next tick.
		wait = 0
	}
	done, err := l.backend.Poll(wait)
	if err != nil {
		return err
	}
	for _, c := range done {
		if !c.Multi {
			c.inKernel = false
		}
	}
	l.completed = append(l.completed, done...)
	l.ioInflight -= len(done)
	return nil
}

// dispatch pops up to a snapshot of the completed queue's current
// length (so a callback that resubmits work does not cause infinite
// re-entry within this Tick), restores context, and invokes the
// operation-specific internal handler.
func (l *EventLoop) dispatch() {
	n := len(l.completed)
	batch := l.completed[:n]
	l.completed = l.completed[n:]

	for _, c := range batch {
		c.state = stateDispatched
		l.handleDispatch(c)
	}
}

// handleDispatch implements spec.md §4.1 step 4's three outcomes:
// resubmit on EAGAIN/EWOULDBLOCK/EINTR, partially complete an all=true
// op and resubmit the advanced slice, or invoke the user callback and
// recycle the Completion.
func (l *EventLoop) handleDispatch(c *Completion) {
	if c.timeout != nil {
		// This op completed on its own; disarm the companion timeout
		// (spec.md §4.1 Cancellation).
		c.timeout.cancelled = true
		c.timeout = nil
	}

	if isRetryable(c.Err) && !c.cancelled {
		c.Err = nil
		l.enqueueSubmit(c)
		return
	}

	if c.All && c.Err == nil && c.Op != OpConnect && c.Op != OpAccept {
		if remaining := len(c.Buf) - c.N; remaining > 0 && c.N > 0 {
			c.Buf = c.Buf[c.N:]
			if c.HasOffset {
				c.Offset += int64(c.N)
			}
			c.N = 0
			l.enqueueSubmit(c)
			return
		}
	}

	if c.Callback != nil {
		c.Callback(c)
	}

	if c.Multi && !c.cancelled {
		// Persists in the kernel; the backend re-arms it, we do not
		// return it to the pool (spec.md §3 Completion lifetime).
		c.state = stateInKernel
		return
	}

	l.pool.put(c)
}

// isRetryable reports whether err is one of the internal-only kinds
// the loop retries transparently instead of surfacing to the user
// (spec.md §7 "The EventLoop retries WouldBlock/Interrupted transparently").
func isRetryable(err error) bool {
	e, ok := err.(*Error)
	if !ok {
		return false
	}
	return e.Kind == KindWouldBlock || e.Kind == KindInterrupted
}
