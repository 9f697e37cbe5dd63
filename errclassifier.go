//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: github.com/bassosimone/nop (see TEACHER.txt), errclassifier.go
//

package evloop

import "github.com/bassosimone/evloop/errclass"

// ErrClassifier classifies errors into categorical strings for logging
// and analysis. See spec.md §7: "error kinds, not type names" — a
// [*Error]'s [Kind] drives control flow, while an [ErrClassifier]'s
// output is a human/metrics-facing string attached to each log event.
type ErrClassifier interface {
	Classify(err error) string
}

// ErrClassifierFunc adapts a function to the [ErrClassifier] interface.
//
// This allows using simple functions as classifiers:
//
//	cfg.ErrClassifier = evloop.ErrClassifierFunc(errclass.New)
type ErrClassifierFunc func(error) string

var _ ErrClassifier = ErrClassifierFunc(nil)

// Classify implements [ErrClassifier].
func (f ErrClassifierFunc) Classify(err error) string {
	return f(err)
}

// DefaultErrClassifier classifies errors using [errclass.New].
var DefaultErrClassifier = ErrClassifierFunc(errclass.New)
