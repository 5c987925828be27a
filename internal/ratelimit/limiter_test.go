package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupMiniRedis(t *testing.T) *Limiter {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return New(rdb)
}

func TestLimiterAllowsWithinCapacity(t *testing.T) {
	t.Parallel()
	l := setupMiniRedis(t)
	ctx := context.Background()
	limit := Limit{Capacity: 3, RefillPerSec: 1}

	for i := 0; i < 3; i++ {
		allowed, _, err := l.Allow(ctx, "test", "user-1", limit, 1)
		if err != nil {
			t.Fatalf("Allow() error = %v", err)
		}
		if !allowed {
			t.Fatalf("Allow() call %d = false, want true", i)
		}
	}
}

func TestLimiterRejectsWhenExhausted(t *testing.T) {
	t.Parallel()
	l := setupMiniRedis(t)
	ctx := context.Background()
	limit := Limit{Capacity: 1, RefillPerSec: 0.01}

	allowed, _, err := l.Allow(ctx, "test", "user-2", limit, 1)
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if !allowed {
		t.Fatal("first Allow() = false, want true")
	}

	allowed, _, err = l.Allow(ctx, "test", "user-2", limit, 1)
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if allowed {
		t.Fatal("second Allow() = true, want false (bucket exhausted)")
	}
}

func TestLimiterRefillsOverTime(t *testing.T) {
	t.Parallel()
	l := setupMiniRedis(t)
	ctx := context.Background()
	limit := Limit{Capacity: 1, RefillPerSec: 10}

	orig := clockFunc
	fakeNow := time.Now()
	clockFunc = func() time.Time { return fakeNow }
	defer func() { clockFunc = orig }()

	if err := l.Check(ctx, "test", "user-3", limit); err != nil {
		t.Fatalf("first Check() error = %v", err)
	}
	if err := l.Check(ctx, "test", "user-3", limit); err == nil {
		t.Fatal("second Check() = nil, want ErrRateLimited")
	}

	fakeNow = fakeNow.Add(200 * time.Millisecond)
	if err := l.Check(ctx, "test", "user-3", limit); err != nil {
		t.Fatalf("Check() after refill error = %v", err)
	}
}

func TestCheckReturnsErrRateLimited(t *testing.T) {
	t.Parallel()
	l := setupMiniRedis(t)
	ctx := context.Background()
	limit := Limit{Capacity: 1, RefillPerSec: 0.001}

	if err := l.Check(ctx, "test", "user-4", limit); err != nil {
		t.Fatalf("first Check() error = %v", err)
	}
	err := l.Check(ctx, "test", "user-4", limit)
	if err != ErrRateLimited {
		t.Fatalf("Check() error = %v, want ErrRateLimited", err)
	}
}
