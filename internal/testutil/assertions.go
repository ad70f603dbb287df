// Package testutil provides shared test utilities for tripwire.
package testutil

import (
	"testing"
	"time"
)

// WaitFor polls check every 10ms until it returns true or timeout is reached.
func WaitFor(t *testing.T, timeout time.Duration, check func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for condition: %s", msg)
}

// WaitForSent polls until ch has received at least n alerts.
func WaitForSent(t *testing.T, ch *MockChannel, n int, timeout time.Duration) {
	t.Helper()
	WaitFor(t, timeout, func() bool {
		return len(ch.Alerts()) >= n
	}, "alerts delivered to "+ch.Name())
}
