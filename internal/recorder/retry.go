package recorder

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/Xinrea/shadowreplay/internal/platform"
)

// RetryPolicy bounds an operation's attempts with exponential backoff.
// It is consulted on each failure so state-machine transitions stay
// explicit; the platform adapters never retry internally.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	CapDelay    time.Duration
}

// DefaultRetryPolicy matches the recording defaults: 3 attempts, 500ms
// base, doubling, capped at 5s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		CapDelay:    5 * time.Second,
	}
}

// Delay returns the backoff before retry attempt (1-based attempt index of
// the failure just observed).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.CapDelay {
			return p.CapDelay
		}
	}
	if d > p.CapDelay {
		return p.CapDelay
	}
	return d
}

// Do runs op until success, attempt exhaustion, cancellation, or a
// non-retryable failure. Auth errors surface immediately: they are never
// retried silently. Throttled failures double the computed backoff.
func (p RetryPolicy) Do(ctx context.Context, op func() error) error {
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if platform.IsAuth(lastErr) {
			return lastErr
		}
		if attempt == p.MaxAttempts {
			break
		}

		delay := p.Delay(attempt)
		if platform.IsThrottled(lastErr) {
			delay *= 2
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}

// liveIDMu guards live id minting across all recorders in the process.
var (
	liveIDMu   sync.Mutex
	lastLiveID int64
)

// mintLiveID returns a monotonically-increasing millisecond timestamp
// string. Two sessions starting within the same millisecond still receive
// distinct, increasing ids.
func mintLiveID() string {
	liveIDMu.Lock()
	defer liveIDMu.Unlock()

	now := time.Now().UnixMilli()
	if now <= lastLiveID {
		now = lastLiveID + 1
	}
	lastLiveID = now
	// Plain base-10 milliseconds; lexical order equals numeric order for
	// the lifetime of the application.
	return strconv.FormatInt(now, 10)
}
