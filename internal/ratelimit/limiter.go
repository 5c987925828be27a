// Package ratelimit implements a Valkey-backed token bucket used to throttle per-user actions (message sends, typing
// indicators, voice signalling) independently of the HTTP-layer request limiter.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// keyPrefix namespaces token bucket keys in Valkey.
const keyPrefix = "ratelimit"

// bucketScript atomically refills and consumes a token bucket. KEYS[1] is the bucket key. ARGV: capacity, refill
// rate (tokens per second), cost, now (unix nanos). Returns 1 if the request is allowed, 0 if it was rejected, along
// with the number of tokens remaining.
var bucketScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refillPerSec = tonumber(ARGV[2])
local cost = tonumber(ARGV[3])
local now = tonumber(ARGV[4])

local bucket = redis.call("HMGET", key, "tokens", "updated")
local tokens = tonumber(bucket[1])
local updated = tonumber(bucket[2])

if tokens == nil then
	tokens = capacity
	updated = now
end

local elapsed = math.max(0, now - updated) / 1e9
tokens = math.min(capacity, tokens + elapsed * refillPerSec)

local allowed = 0
if tokens >= cost then
	tokens = tokens - cost
	allowed = 1
end

redis.call("HSET", key, "tokens", tokens, "updated", now)
redis.call("PEXPIRE", key, math.ceil((capacity / refillPerSec) * 1000))

return {allowed, tokens}
`)

// Limit describes a single token bucket configuration: capacity tokens, refilling at refillPerSec tokens per second.
type Limit struct {
	Capacity     float64
	RefillPerSec float64
}

// Common limits used across the gateway and mutation pipeline.
var (
	// MessageSendLimit permits bursts of 5 messages, refilling one every 2 seconds (spec §4.4 default).
	MessageSendLimit = Limit{Capacity: 5, RefillPerSec: 0.5}

	// TypingIndicatorLimit permits one typing start per 3 seconds per (user, channel), for both channel and DM
	// typing indicators.
	TypingIndicatorLimit = Limit{Capacity: 1, RefillPerSec: 1.0 / 3.0}

	// VoiceSignalLimit bounds voice control-plane messages (join/produce/consume) to avoid signalling storms.
	VoiceSignalLimit = Limit{Capacity: 20, RefillPerSec: 5}
)

// ErrRateLimited is returned by Allow when a bucket has insufficient tokens for the requested cost.
var ErrRateLimited = errors.New("rate limit exceeded")

// Limiter is a Valkey-backed token bucket limiter. Safe for concurrent use.
type Limiter struct {
	client *redis.Client
}

// New creates a new token bucket limiter backed by the given Valkey client.
func New(client *redis.Client) *Limiter {
	return &Limiter{client: client}
}

// Allow consumes `cost` tokens from the bucket identified by scope+key under the given limit. It reports whether the
// request is allowed and the number of tokens remaining after the attempt.
func (l *Limiter) Allow(ctx context.Context, scope, key string, limit Limit, cost float64) (bool, float64, error) {
	bucketKey := fmt.Sprintf("%s:%s:%s", keyPrefix, scope, key)
	now := nowNanos()

	res, err := bucketScript.Run(ctx, l.client, []string{bucketKey},
		limit.Capacity, limit.RefillPerSec, cost, now).Result()
	if err != nil {
		return false, 0, fmt.Errorf("run token bucket script: %w", err)
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) != 2 {
		return false, 0, fmt.Errorf("unexpected token bucket script result: %v", res)
	}

	allowed, _ := vals[0].(int64)
	remaining := toFloat(vals[1])
	return allowed == 1, remaining, nil
}

// Check is a convenience wrapper returning ErrRateLimited instead of a bool when the bucket is exhausted.
func (l *Limiter) Check(ctx context.Context, scope, key string, limit Limit) error {
	allowed, _, err := l.Allow(ctx, scope, key, limit, 1)
	if err != nil {
		return err
	}
	if !allowed {
		return ErrRateLimited
	}
	return nil
}

func toFloat(v interface{}) float64 {
	switch n := v.(type) {
	case int64:
		return float64(n)
	case float64:
		return n
	case string:
		var f float64
		_, _ = fmt.Sscanf(n, "%f", &f)
		return f
	default:
		return 0
	}
}

// nowNanos returns the current time in unix nanoseconds. Extracted so tests can stub it via clockFunc.
var clockFunc = time.Now

func nowNanos() int64 {
	return clockFunc().UnixNano()
}
