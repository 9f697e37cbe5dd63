// SPDX-License-Identifier: GPL-3.0-or-later

package evloop

import (
	"net/netip"
	"time"
)

// Operation identifies the kind of I/O a [Completion] represents. See
// spec.md §4.1 "Operations and their contracts".
type Operation int

const (
	OpAccept Operation = iota
	OpClose
	OpConnect
	OpRead
	OpWrite
	OpRecv
	OpSend
	OpTimeout
	OpNextTick
	OpPoll
	OpPollRemove
)

// String returns a short name for op, used in log events.
func (op Operation) String() string {
	switch op {
	case OpAccept:
		return "accept"
	case OpClose:
		return "close"
	case OpConnect:
		return "connect"
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	case OpRecv:
		return "recv"
	case OpSend:
		return "send"
	case OpTimeout:
		return "timeout"
	case OpNextTick:
		return "next_tick"
	case OpPoll:
		return "poll"
	case OpPollRemove:
		return "poll_remove"
	default:
		return "unknown"
	}
}

// PollMask selects the readiness condition a [OpPoll] completion waits for.
type PollMask int

const (
	PollRead PollMask = 1 << iota
	PollWrite
)

// completionState is the [Completion] lifecycle per spec.md §4.1:
//
//	NEW -> PENDING -> IN_KERNEL -> COMPLETED -> DISPATCHED -> POOLED
//
// Multi-shot poll completions cycle COMPLETED -> DISPATCHED -> IN_KERNEL
// without returning to POOLED.
type completionState int

const (
	stateNew completionState = iota
	statePending
	stateInKernel
	stateCompleted
	stateDispatched
	statePooled
)

// Callback is invoked exactly once when a [Completion] reaches its
// terminal outcome, with the ambient context (logger, span ID)
// captured at submission time restored. Callbacks must not block.
type Callback func(c *Completion)

// Completion describes one in-flight I/O operation and its
// continuation. See spec.md §3 "Completion".
//
// Completions are drawn from the [EventLoop]'s pool on submission and
// returned to it after the user [Callback] returns, except for
// multi-shot poll completions, which persist until explicitly removed
// via [EventLoop.PollRemove].
type Completion struct {
	Op       Operation
	User     any       // user-opaque pointer/value threaded through to Callback
	Callback Callback  // invoked exactly once on terminal outcome
	SpanID   string    // captured at submission, restored at dispatch
	Logger   Logger    // captured at submission, restored at dispatch
	ErrClass ErrClassifier

	// Result fields, populated by the backend or synthesized by the loop.
	N        int            // bytes transferred (Read/Write/Recv/Send/Accept: new fd via Fd)
	Fd       int            // accepted/connected socket, when applicable
	Addr     netip.AddrPort // source address (Accept) or send/recv peer (UDP)
	Err      error          // terminal error, nil on success
	PollMask PollMask       // readiness bits reported (OpPoll)

	// Operation-specific inputs, set by the Submit* helpers.
	TargetFd   int
	Buf        []byte
	Offset     int64
	HasOffset  bool
	All        bool // Read/Write/Recv: resubmit on short count until len(Buf) done
	Multi      bool // Poll: persist across firings until PollRemove
	Endpoint   netip.AddrPort
	Deadline   time.Time // Timeout: absolute fire time
	WaitMask   PollMask  // Poll: readiness condition being waited on

	// Internal bookkeeping.
	state     completionState
	timeout   *Completion // companion timeout Completion, if any (spec.md §4.1)
	target    *Completion // inverse link: the op a timeout Completion guards
	inKernel  bool
	cancelled bool
	next      *Completion // intrusive free-list / queue link
}

// reset clears c for reuse from the pool. Called by the pool before
// handing a recycled Completion back out.
func (c *Completion) reset() {
	*c = Completion{}
}
