package scraper

import (
	"context"
	"sync"
	"time"
)

// RateLimiter bounds how many fetches run concurrently and enforces a
// minimum delay between the start of consecutive fetches, mirroring a
// WebSource's MaxConcurrent and RequestDelayMs policy.
type RateLimiter struct {
	sem       chan struct{}
	delay     time.Duration
	mu        sync.Mutex
	lastStart time.Time
}

// NewRateLimiter builds a limiter for the given WebSource policy.
// maxConcurrent <= 0 is treated as 1; delay <= 0 disables the delay.
func NewRateLimiter(maxConcurrent int, delay time.Duration) *RateLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &RateLimiter{
		sem:   make(chan struct{}, maxConcurrent),
		delay: delay,
	}
}

// Acquire blocks until a concurrency slot is free and the minimum
// inter-start delay has elapsed, or ctx is cancelled. The returned
// release func must be called exactly once to free the slot.
func (r *RateLimiter) Acquire(ctx context.Context) (release func(), err error) {
	select {
	case r.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if err := r.waitForDelay(ctx); err != nil {
		<-r.sem
		return nil, err
	}

	return func() { <-r.sem }, nil
}

func (r *RateLimiter) waitForDelay(ctx context.Context) error {
	if r.delay <= 0 {
		return nil
	}

	r.mu.Lock()
	wait := r.delay - time.Since(r.lastStart)
	if wait < 0 {
		wait = 0
	}
	r.lastStart = time.Now().Add(wait)
	r.mu.Unlock()

	if wait == 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
