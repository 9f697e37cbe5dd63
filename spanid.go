package evloop

import (
	"github.com/bassosimone/evloop/internal/runtimex"
	"github.com/google/uuid"
)

// NewSpanID returns a UUIDv7 representing a span.
//
// A span is a sequence of operations that can fail in a single,
// specific way: one submit/dispatch pair of a [Completion], one DNS
// exchange, one HTTP round trip. Attach it to a [Logger] (e.g. via
// [*slog.Logger.With]) to correlate every log entry a span produces.
//
// The span terminology is borrowed from OTel.
//
// This function panics if the system random number generator fails,
// which should only happen under extraordinary circumstances.
func NewSpanID() string {
	return runtimex.PanicOnError1(uuid.NewV7()).String()
}
