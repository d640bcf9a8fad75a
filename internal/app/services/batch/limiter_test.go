package batch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLimiterAcquireRelease(t *testing.T) {
	l := NewLimiter(5)
	ctx := context.Background()

	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if got := l.Stats().Active; got != 1 {
		t.Errorf("Active = %d, want 1", got)
	}

	l.Release()
	if got := l.Stats().Active; got != 0 {
		t.Errorf("Active after release = %d, want 0", got)
	}
}

func TestLimiterBlocksAtCapacity(t *testing.T) {
	l := NewLimiter(3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := l.Acquire(ctx); err != nil {
			t.Fatalf("Acquire %d failed: %v", i, err)
		}
	}

	ctx2, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := l.Acquire(ctx2); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Acquire over capacity = %v, want context.DeadlineExceeded", err)
	}

	l.Release()
	if err := l.Acquire(ctx); err != nil {
		t.Errorf("Acquire after release failed: %v", err)
	}
}

func TestLimiterUnlimited(t *testing.T) {
	l := NewLimiter(0)
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		if err := l.Acquire(ctx); err != nil {
			t.Fatalf("Acquire %d failed: %v", i, err)
		}
	}
	if got := l.Stats().Active; got != 100 {
		t.Errorf("Active = %d, want 100", got)
	}
}

func TestLimiterConcurrencyNeverExceedsMax(t *testing.T) {
	l := NewLimiter(10)

	var wg sync.WaitGroup
	var completed int64
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Acquire(context.Background()); err != nil {
				return
			}
			defer l.Release()
			time.Sleep(time.Millisecond)
			atomic.AddInt64(&completed, 1)
		}()
	}
	wg.Wait()

	if completed != 100 {
		t.Errorf("completed = %d, want 100", completed)
	}
	stats := l.Stats()
	if stats.Active != 0 {
		t.Errorf("Active = %d, want 0", stats.Active)
	}
	if stats.HighWater > 10 {
		t.Errorf("HighWater = %d, want <= 10", stats.HighWater)
	}
	if stats.TotalAcquired != 100 {
		t.Errorf("TotalAcquired = %d, want 100", stats.TotalAcquired)
	}
	if stats.TotalReleased != 100 {
		t.Errorf("TotalReleased = %d, want 100", stats.TotalReleased)
	}
}

func BenchmarkLimiterAcquireRelease(b *testing.B) {
	l := NewLimiter(100)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		l.Acquire(ctx)
		l.Release()
	}
}
