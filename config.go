// SPDX-License-Identifier: GPL-3.0-or-later

package evloop

import "time"

// Config holds common configuration for an [EventLoop].
//
// Pass this to [New] to pre-wire dependencies. All fields have sensible
// defaults set by [NewConfig].
type Config struct {
	// Logger is the [Logger] to use for structured logging.
	//
	// Set by [NewConfig] to [DefaultLogger].
	Logger Logger

	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewConfig] to [DefaultErrClassifier].
	ErrClassifier ErrClassifier

	// TimeNow returns the current time.
	//
	// Set by [NewConfig] to [time.Now]. Overridable for deterministic tests.
	TimeNow func() time.Time

	// PoolChunkSize is the number of [Completion] records the internal
	// pool allocates at a time when it needs to grow.
	//
	// Set by [NewConfig] to 256.
	PoolChunkSize int
}

// NewConfig creates a [*Config] with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Logger:        DefaultLogger(),
		ErrClassifier: DefaultErrClassifier,
		TimeNow:       time.Now,
		PoolChunkSize: 256,
	}
}
