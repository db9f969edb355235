package engine

import (
	"context"
	"math/rand"
	"time"
)

const (
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
)

func sleepWithBackoff(ctx context.Context, backoff time.Duration) time.Duration {
	delay := withJitter(backoff)
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return backoff
	case <-t.C:
	}
	return nextBackoff(backoff, maxBackoff)
}

func nextBackoff(current, max time.Duration) time.Duration {
	if current <= 0 {
		return initialBackoff
	}
	next := current * 2
	if next > max {
		return max
	}
	return next
}

func withJitter(base time.Duration) time.Duration {
	if base <= 0 {
		base = initialBackoff
	}
	spread := base / 2
	extra := time.Duration(rand.Int63n(int64(spread) + 1))
	return base + extra
}
