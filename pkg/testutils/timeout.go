package testutils

import (
	"context"
	"testing"
	"time"
)

var (
	ConnectTimeout = 30 * time.Second
	pollInterval   = 10 * time.Millisecond
)

// WithTimeout polls f until it returns an empty string, failing the test with
// the last reported reason once ConnectTimeout passes.
func WithTimeout(t *testing.T, f func() string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), ConnectTimeout)
	defer cancel()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	lastErr := ""
	for {
		select {
		case <-ctx.Done():
			t.Fatalf("did not reach expected state after %v: %s", ConnectTimeout, lastErr)
			return
		case <-ticker.C:
			lastErr = f()
			if lastErr == "" {
				return
			}
		}
	}
}
