// SPDX-License-Identifier: GPL-3.0-or-later

package httpclient

import "fmt"

// Kind enumerates the HTTP-parse and body-framing error kinds from
// spec.md §7 "HTTP parse kinds" / "Body kinds", kept separate from
// [evloop.Kind], [dnsresolver.Kind], and [tlsprovider.Kind] the way
// this module keeps each layer's failure taxonomy distinct.
type Kind int

const (
	KindUnknown Kind = iota

	// Response line/header parse kinds.
	KindInvalidResponseVersion
	KindInvalidResponseStatus
	KindInvalidResponseHeader
	KindInvalidResponseCookie

	// Body framing kinds.
	KindNoLength
	KindInvalidLength
	KindTooLong
	KindScanFailed
	KindInvalidChunkSize
	KindInvalidTrailerHeader

	// Connection lifecycle kinds (spec.md §4.4 "Failure semantics").
	KindDial
	KindConnectionClosed
)

func (k Kind) String() string {
	switch k {
	case KindInvalidResponseVersion:
		return "invalid-response-version"
	case KindInvalidResponseStatus:
		return "invalid-response-status"
	case KindInvalidResponseHeader:
		return "invalid-response-header"
	case KindInvalidResponseCookie:
		return "invalid-response-cookie"
	case KindNoLength:
		return "no-length"
	case KindInvalidLength:
		return "invalid-length"
	case KindTooLong:
		return "too-long"
	case KindScanFailed:
		return "scan-failed"
	case KindInvalidChunkSize:
		return "invalid-chunk-size"
	case KindInvalidTrailerHeader:
		return "invalid-trailer-header"
	case KindDial:
		return "dial"
	case KindConnectionClosed:
		return "connection-closed"
	default:
		return "unknown"
	}
}

// Error is the error type returned by [Connection] and [Request]
// operations.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("httpclient: %s: %s", e.Kind, e.Err)
	}
	return fmt.Sprintf("httpclient: %s", e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

func newError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Sentinel errors for use with [errors.Is], mirroring
// [evloop.ErrConnectionClosed] / [tlsprovider.ErrFatalShutdown].
var (
	ErrConnectionClosed = &Error{Kind: KindConnectionClosed}
	ErrDial             = &Error{Kind: KindDial}
)
