// Package testutil provides testing utilities for guildbox.
package testutil

import (
	"testing"

	"go.uber.org/goleak"
)

// VerifyNoLeaks should be deferred at the start of tests that spawn goroutines.
// It verifies that no goroutines were leaked during the test.
func VerifyNoLeaks(t *testing.T, opts ...goleak.Option) {
	t.Helper()
	goleak.VerifyNone(t, append(IgnoreBackgroundGoroutines(), opts...)...)
}

// IgnoreBackgroundGoroutines returns goleak options for goroutines owned by
// the runtime or by libraries that start them on first use.
func IgnoreBackgroundGoroutines() []goleak.Option {
	return []goleak.Option{
		// database/sql connection opener started by sql.Open
		goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"),
		// keep-alive connections of the default HTTP transport
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	}
}
