// Package ratelimit implements the gate's fixed-window token-bucket rate
// limiter, keyed by (action, credential-id) for authenticated callers and
// (action, source-id) for anonymous ones. It follows the in-memory +
// Redis dual-implementation pattern common to gateway-style services,
// narrowed to a single Allow(ctx, key, limit, window) surface and backed
// by go-redis/v9. The window is a per-call argument rather than a
// limiter-wide constant so one Limiter can serve the gate's three
// independent rate granularities (per-minute, per-hour, per-day) instead
// of requiring a separate limiter instance per window.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Verdict is the outcome of one Allow call.
type Verdict struct {
	Allowed   bool
	Count     int64
	Limit     int64
	Remaining int64
	ResetAt   time.Time
}

// Limiter is implemented by both the in-memory and Redis-backed limiters,
// and is what package constraint's RateChecker closes over.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) Verdict
}

// Key builds the fixed-window bucket key for an action scoped to either a
// credential id or, for anonymous callers, a source id.
func Key(action, scopeID string) string {
	return action + "\x00" + scopeID
}

type windowEntry struct {
	count   int64
	resetAt time.Time
}

// InMemoryLimiter is a single-process fixed-window limiter. It is the
// fallback used by RedisLimiter when Redis is unreachable, and is
// sufficient on its own for a single gate instance. The window is supplied
// per Allow call, so one instance serves every rate granularity the gate
// enforces.
type InMemoryLimiter struct {
	mu    sync.Mutex
	items map[string]windowEntry
}

// NewInMemory constructs an empty fixed-window limiter.
func NewInMemory() *InMemoryLimiter {
	return &InMemoryLimiter{items: make(map[string]windowEntry)}
}

// Allow increments key's counter in the current window and reports whether
// the call stays within limit.
func (l *InMemoryLimiter) Allow(_ context.Context, key string, limit int64, window time.Duration) Verdict {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.evictExpired(now)

	e, ok := l.items[key]
	if !ok || now.After(e.resetAt) {
		e = windowEntry{count: 0, resetAt: now.Add(window)}
	}
	e.count++
	l.items[key] = e

	return verdictFrom(e.count, limit, e.resetAt)
}

// evictExpired drops windows that have already rolled over. Called with
// mu held.
func (l *InMemoryLimiter) evictExpired(now time.Time) {
	for k, v := range l.items {
		if now.After(v.resetAt) {
			delete(l.items, k)
		}
	}
}

// rateLimitScript atomically increments the window counter and arms its
// expiry on the first hit, avoiding a race between INCR and PEXPIRE.
var rateLimitScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
return {current, ttl}
`)

// RedisLimiter is the cross-instance fixed-window limiter. It falls back to
// an in-memory limiter if Redis errors, so a Redis outage degrades rate
// limiting to per-process accuracy rather than failing the request.
type RedisLimiter struct {
	client   *redis.Client
	prefix   string
	fallback *InMemoryLimiter
}

// NewRedisLimiter constructs a distributed limiter backed by client.
func NewRedisLimiter(client *redis.Client, prefix string) *RedisLimiter {
	if prefix == "" {
		prefix = "gate:ratelimit:"
	}
	return &RedisLimiter{
		client:   client,
		prefix:   prefix,
		fallback: NewInMemory(),
	}
}

// Allow increments key's distributed counter for the current window.
func (l *RedisLimiter) Allow(ctx context.Context, key string, limit int64, window time.Duration) Verdict {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	if l.client == nil {
		return l.fallback.Allow(ctx, key, limit, window)
	}

	callCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	res, err := rateLimitScript.Run(callCtx, l.client, []string{l.prefix + key}, window.Milliseconds()).Result()
	if err != nil {
		return l.fallback.Allow(ctx, key, limit, window)
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) < 2 {
		return l.fallback.Allow(ctx, key, limit, window)
	}
	count, _ := vals[0].(int64)
	ttlMs, _ := vals[1].(int64)
	if ttlMs < 0 {
		ttlMs = window.Milliseconds()
	}

	return verdictFrom(count, limit, time.Now().Add(time.Duration(ttlMs)*time.Millisecond))
}

func verdictFrom(count, limit int64, resetAt time.Time) Verdict {
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Verdict{
		Allowed:   count <= limit,
		Count:     count,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
}

// Checker adapts a Limiter into the narrow func(action string) bool shape
// the Constraint Engine's Evaluate expects (package constraint's
// RateChecker), closing over a fixed scope id, limit, and window.
func Checker(ctx context.Context, l Limiter, scopeID string, limit int64, window time.Duration) func(action string) bool {
	return func(action string) bool {
		return l.Allow(ctx, Key(action, scopeID), limit, window).Allowed
	}
}
