package batch

import (
	"context"
	"sync/atomic"
)

// Limiter bounds how many fetches are in flight at once. The bound is
// shared by every batch so overlapping runs cannot stack their budgets
// against the upstream rate limit.
type Limiter struct {
	max     int
	permits chan struct{}

	active        int32
	waiting       int32
	highWater     int32
	totalAcquired int64
	totalReleased int64
}

// NewLimiter creates a limiter allowing max concurrent holders. max <= 0
// means unlimited.
func NewLimiter(max int) *Limiter {
	l := &Limiter{max: max}
	if max > 0 {
		l.permits = make(chan struct{}, max)
		for i := 0; i < max; i++ {
			l.permits <- struct{}{}
		}
	}
	return l
}

// Acquire blocks until a permit is available or ctx ends.
func (l *Limiter) Acquire(ctx context.Context) error {
	if l.permits == nil {
		l.admit()
		return nil
	}

	atomic.AddInt32(&l.waiting, 1)
	defer atomic.AddInt32(&l.waiting, -1)

	select {
	case <-l.permits:
		l.admit()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release returns a permit. Every successful Acquire must be paired with
// exactly one Release.
func (l *Limiter) Release() {
	atomic.AddInt32(&l.active, -1)
	atomic.AddInt64(&l.totalReleased, 1)
	if l.permits != nil {
		l.permits <- struct{}{}
	}
}

func (l *Limiter) admit() {
	active := atomic.AddInt32(&l.active, 1)
	atomic.AddInt64(&l.totalAcquired, 1)
	for {
		high := atomic.LoadInt32(&l.highWater)
		if active <= high || atomic.CompareAndSwapInt32(&l.highWater, high, active) {
			return
		}
	}
}

// LimiterStats is a point-in-time view of limiter usage.
type LimiterStats struct {
	MaxConcurrent int   `json:"max_concurrent"`
	Active        int   `json:"active"`
	Waiting       int   `json:"waiting"`
	HighWater     int   `json:"high_water"`
	TotalAcquired int64 `json:"total_acquired"`
	TotalReleased int64 `json:"total_released"`
}

// Stats returns current statistics.
func (l *Limiter) Stats() LimiterStats {
	return LimiterStats{
		MaxConcurrent: l.max,
		Active:        int(atomic.LoadInt32(&l.active)),
		Waiting:       int(atomic.LoadInt32(&l.waiting)),
		HighWater:     int(atomic.LoadInt32(&l.highWater)),
		TotalAcquired: atomic.LoadInt64(&l.totalAcquired),
		TotalReleased: atomic.LoadInt64(&l.totalReleased),
	}
}
