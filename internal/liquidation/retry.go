package liquidation

import (
	"context"
	"math/rand"
	"time"

	"github.com/coruscant-bank/beskar-liquidation/internal/clock"
)

// fullJitterBackoff computes the retry delay for attempt (1-indexed) using
// full jitter: a uniform random delay between 0 and min(cap, base*2^(attempt-1)).
// Unlike the ai-agents Retrier this has no attempt ceiling — §4.4 requires
// liquidation to retry a lot until it clears, however long that takes.
func fullJitterBackoff(base, cap time.Duration, attempt int) time.Duration {
	maxDelay := base << uint(attempt-1)
	if maxDelay <= 0 || maxDelay > cap { // overflow or exceeds cap
		maxDelay = cap
	}
	return time.Duration(rand.Int63n(int64(maxDelay) + 1))
}

// retryUntilSuccess runs fn, retrying non-nil errors with full-jitter
// backoff forever (no max attempts), until fn succeeds or ctx is
// cancelled. Each call to fn is expected to use a fresh correlation ID
// internally, per §4.4.
func retryUntilSuccess(ctx context.Context, clk clock.Clock, base, cap time.Duration, fn func(attempt int) error) error {
	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := fn(attempt)
		if err == nil {
			return nil
		}

		delay := fullJitterBackoff(base, cap, attempt)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-clk.After(delay):
		}
	}
}
