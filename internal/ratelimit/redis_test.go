package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newMiniredisLimiter(t *testing.T) *RedisLimiter {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisLimiter(client, "test:ratelimit:")
}

func TestRedisLimiterAllowsWithinLimitAgainstMiniredis(t *testing.T) {
	l := newMiniredisLimiter(t)
	ctx := context.Background()
	key := Key("flights:search", "cred-1")

	for i := 0; i < 3; i++ {
		v := l.Allow(ctx, key, 3, time.Minute)
		if !v.Allowed {
			t.Fatalf("call %d: expected allowed, got denied (count=%d)", i, v.Count)
		}
	}
	v := l.Allow(ctx, key, 3, time.Minute)
	if v.Allowed {
		t.Fatal("4th call under a limit of 3 should be denied")
	}
}

func TestRedisLimiterSharesCountAcrossInstances(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { client.Close() })

	a := NewRedisLimiter(client, "test:ratelimit:")
	b := NewRedisLimiter(client, "test:ratelimit:")
	key := Key("flights:search", "cred-shared")
	ctx := context.Background()

	a.Allow(ctx, key, 5, time.Minute)
	a.Allow(ctx, key, 5, time.Minute)
	v := b.Allow(ctx, key, 5, time.Minute)
	if v.Count != 3 {
		t.Fatalf("count = %d, want 3 (shared across instances)", v.Count)
	}
}

func TestRedisLimiterFallsBackWhenRedisUnreachable(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	l := NewRedisLimiter(client, "test:ratelimit:")
	srv.Close()

	v := l.Allow(context.Background(), Key("flights:search", "cred-1"), 3, time.Minute)
	if !v.Allowed {
		t.Fatal("expected fallback in-memory limiter to allow the first call")
	}
}
