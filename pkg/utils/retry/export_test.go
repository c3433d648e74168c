package retry

import (
	"context"
	"time"
)

// WithRecordedSleep replaces the sleeper with one that records delays instead of waiting
func WithRecordedSleep(p Policy, delays *[]time.Duration) Policy {
	p.sleep = func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return ctx.Err()
	}
	return p
}
