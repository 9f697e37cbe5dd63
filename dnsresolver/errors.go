// SPDX-License-Identifier: GPL-3.0-or-later

package dnsresolver

import (
	"fmt"

	"github.com/bassosimone/evloop"
)

// Kind enumerates the DNS-specific error kinds from spec.md §7 "DNS
// kinds", kept separate from [evloop.Kind] the way the teacher keeps
// its DNS-transport errors distinct from its generic I/O errors.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidHostname
	KindInvalidResolvConfig
	KindUnableToResolve
	KindServerError
)

func (k Kind) String() string {
	switch k {
	case KindInvalidHostname:
		return "invalid-hostname"
	case KindInvalidResolvConfig:
		return "invalid-resolv-config"
	case KindUnableToResolve:
		return "unable-to-resolve"
	case KindServerError:
		return "server-error"
	default:
		return "unknown"
	}
}

// Error is the error type returned by [Resolver.Resolve] and
// [Resolver.Init].
type Error struct {
	Kind     Kind
	Err      error
	ErrClass string
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("dnsresolver: %s: %s", e.Kind, e.Err)
	}
	return fmt.Sprintf("dnsresolver: %s", e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

var (
	ErrInvalidHostname   = &Error{Kind: KindInvalidHostname}
	ErrInvalidResolvConf = &Error{Kind: KindInvalidResolvConfig}
	ErrUnableToResolve   = &Error{Kind: KindUnableToResolve}
	ErrServerError       = &Error{Kind: KindServerError}
)

func newError(kind Kind, err error, classifier evloop.ErrClassifier) *Error {
	e := &Error{Kind: kind, Err: err}
	if classifier != nil {
		e.ErrClass = classifier.Classify(err)
	}
	return e
}
