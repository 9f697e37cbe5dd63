// SPDX-License-Identifier: GPL-3.0-or-later

// Package runtimex provides small panic-on-invariant-violation helpers.
//
// These are for conditions that indicate a programming error in this
// module (an invariant documented elsewhere has been violated), never
// for ordinary, recoverable runtime failures such as a closed socket
// or a malformed response from the network.
package runtimex

import "fmt"

// Assert panics with msg if cond is false.
func Assert(cond bool, msg string) {
	if !cond {
		panic("evloop: assertion failed: " + msg)
	}
}

// Assertf panics with a formatted message if cond is false.
func Assertf(cond bool, format string, args ...any) {
	if !cond {
		panic("evloop: assertion failed: " + fmt.Sprintf(format, args...))
	}
}

// PanicOnError panics if err is non-nil.
func PanicOnError(err error) {
	if err != nil {
		panic(err)
	}
}

// PanicOnError1 panics if err is non-nil, otherwise returns value.
//
// This helper exists to keep call sites (tests, examples, the CLI)
// terse when a failure would indicate a bug rather than an expected
// runtime condition.
func PanicOnError1[T any](value T, err error) T {
	PanicOnError(err)
	return value
}
