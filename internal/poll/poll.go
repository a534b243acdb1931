package poll

import (
	"context"
	"time"
)

// Until repeatedly evaluates pred every interval until it returns true,
// the attempt budget is exhausted, or ctx is canceled. It reports whether
// pred ever returned true. The first evaluation happens immediately.
func Until(ctx context.Context, interval time.Duration, attempts int, pred func() bool) bool {
	if attempts <= 0 {
		attempts = 1
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	for i := 0; i < attempts; i++ {
		if pred() {
			return true
		}
		if i == attempts-1 {
			return false
		}
		t := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return false
		case <-t.C:
		}
	}
	return false
}
