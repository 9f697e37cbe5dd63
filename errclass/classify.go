// SPDX-License-Identifier: GPL-3.0-or-later

// Package errclass classifies network errors into short, OS-independent
// strings suitable for structured logging and metrics. It peels through
// [context.DeadlineExceeded], [net.OpError], [os.SyscallError] and
// compares the innermost syscall errno against this package's per-OS
// constant tables (see unix.go / windows.go).
package errclass

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
)

// Classification strings. These are intentionally terse and
// OS-independent: callers correlate logs across platforms without
// caring whether the underlying errno was ECONNREFUSED or
// WSAECONNREFUSED.
const (
	EADDRNOTAVAIL   = "EADDRNOTAVAIL"
	EADDRINUSE      = "EADDRINUSE"
	ECONNABORTED    = "ECONNABORTED"
	ECONNREFUSED    = "ECONNREFUSED"
	ECONNRESET      = "ECONNRESET"
	EHOSTUNREACH    = "EHOSTUNREACH"
	EINVAL          = "EINVAL"
	EINTR           = "EINTR"
	ENETDOWN        = "ENETDOWN"
	ENETUNREACH     = "ENETUNREACH"
	ENOBUFS         = "ENOBUFS"
	ENOTCONN        = "ENOTCONN"
	EPROTONOSUPPORT = "EPROTONOSUPPORT"
	ETIMEDOUT       = "ETIMEDOUT"
	EPIPE           = "EPIPE"
	EMSGSIZE        = "EMSGSIZE"
	ENOTSOCK        = "ENOTSOCK"
	EAGAIN          = "EAGAIN"

	// EEOF classifies [io.EOF] and [io.ErrUnexpectedEOF].
	EEOF = "EEOF"

	// ECANCELED classifies [context.Canceled].
	ECANCELED = "ECANCELED"

	// EGENERIC is returned for errors this package cannot classify
	// more precisely.
	EGENERIC = "EUNKNOWN"
)

// New classifies err into one of this package's constant strings.
// Returns "" for a nil error.
func New(err error) string {
	if err == nil {
		return ""
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ETIMEDOUT
	}
	if errors.Is(err, context.Canceled) {
		return ECANCELED
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return EEOF
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ETIMEDOUT
	}

	var sysErr *os.SyscallError
	if errors.As(err, &sysErr) {
		if s := classifyErrno(sysErr.Err); s != "" {
			return s
		}
	}

	// Some errors (e.g. those returned directly by golang.org/x/sys)
	// implement the plain error interface over the errno type without
	// wrapping it in *os.SyscallError; try a direct comparison too.
	if s := classifyErrno(err); s != "" {
		return s
	}

	return EGENERIC
}

func classifyErrno(err error) string {
	switch {
	case errors.Is(err, errEADDRNOTAVAIL):
		return EADDRNOTAVAIL
	case errors.Is(err, errEADDRINUSE):
		return EADDRINUSE
	case errors.Is(err, errECONNABORTED):
		return ECONNABORTED
	case errors.Is(err, errECONNREFUSED):
		return ECONNREFUSED
	case errors.Is(err, errECONNRESET):
		return ECONNRESET
	case errors.Is(err, errEHOSTUNREACH):
		return EHOSTUNREACH
	case errors.Is(err, errEINVAL):
		return EINVAL
	case errors.Is(err, errEINTR):
		return EINTR
	case errors.Is(err, errENETDOWN):
		return ENETDOWN
	case errors.Is(err, errENETUNREACH):
		return ENETUNREACH
	case errors.Is(err, errENOBUFS):
		return ENOBUFS
	case errors.Is(err, errENOTCONN):
		return ENOTCONN
	case errors.Is(err, errEPROTONOSUPPORT):
		return EPROTONOSUPPORT
	case errors.Is(err, errETIMEDOUT):
		return ETIMEDOUT
	case errors.Is(err, errEPIPE):
		return EPIPE
	case errors.Is(err, errEMSGSIZE):
		return EMSGSIZE
	case errors.Is(err, errENOTSOCK):
		return ENOTSOCK
	case errors.Is(err, errEAGAIN):
		return EAGAIN
	default:
		return ""
	}
}
