package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// Limiter decides whether the given actor may make another request.
type Limiter interface {
	Allow(ctx context.Context, actor string) (bool, error)
}

// LocalLimiter manages per-actor token buckets in process memory. It is
// enough for a single replica; multi-replica deployments should share a
// RedisLimiter instead.
type LocalLimiter struct {
	visitors map[string]*visitor
	mu       sync.Mutex
	rps      rate.Limit
	burst    int
}

// visitor tracks the rate limiter and last seen time for an actor.
type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLocalLimiter creates an in-process limiter.
// rps: requests per second allowed per actor.
// burst: maximum burst size.
func NewLocalLimiter(rps float64, burst int) *LocalLimiter {
	l := &LocalLimiter{
		visitors: make(map[string]*visitor),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
	// Start background cleanup
	go l.cleanupVisitors()
	return l
}

// Allow reports whether the actor's bucket has a token available.
func (l *LocalLimiter) Allow(_ context.Context, actor string) (bool, error) {
	return l.getVisitor(actor).Allow(), nil
}

func (l *LocalLimiter) getVisitor(actor string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	v, exists := l.visitors[actor]
	if !exists {
		limiter := rate.NewLimiter(l.rps, l.burst)
		l.visitors[actor] = &visitor{limiter, time.Now()}
		return limiter
	}

	v.lastSeen = time.Now()
	return v.limiter
}

// cleanupVisitors removes stale visitor entries to prevent memory leaks.
// Checks every minute, removes entries older than 3 minutes.
func (l *LocalLimiter) cleanupVisitors() {
	for {
		time.Sleep(1 * time.Minute)
		l.mu.Lock()
		for actor, v := range l.visitors {
			if time.Since(v.lastSeen) > 3*time.Minute {
				delete(l.visitors, actor)
			}
		}
		l.mu.Unlock()
	}
}

// tokenBucketScript handles the token bucket algorithm atomically in Redis.
// KEYS[1] = bucket key (e.g. "ossa:ratelimit:auditor@example.org")
// ARGV[1] = refill rate (tokens per second)
// ARGV[2] = capacity (max tokens)
// ARGV[3] = cost (tokens to consume)
// ARGV[4] = current unix timestamp (seconds, microsecond precision)
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local cost = tonumber(ARGV[3])
local now = tonumber(ARGV[4])

-- Retrieve current state
local state = redis.call("HMGET", key, "tokens", "last_refill")
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

-- Initialize if missing
if not tokens or not last_refill then
    tokens = capacity
    last_refill = now
end

-- Refill
local elapsed = now - last_refill
if elapsed > 0 then
    local added = elapsed * rate
    tokens = tokens + added
    if tokens > capacity then
        tokens = capacity
    end
    last_refill = now
end

-- Consume
local allowed = 0
if tokens >= cost then
    tokens = tokens - cost
    allowed = 1
end

-- Update state (expire in 60s to self-clean)
redis.call("HMSET", key, "tokens", tokens, "last_refill", last_refill)
redis.call("EXPIRE", key, 60)

return {allowed, tokens}
`)

// RedisLimiter enforces one token bucket per actor shared across all
// API replicas.
type RedisLimiter struct {
	client *redis.Client
	rps    float64
	burst  int
}

// NewRedisLimiter creates a limiter backed by the Redis at addr.
func NewRedisLimiter(addr string, rps float64, burst int) *RedisLimiter {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	return &RedisLimiter{client: rdb, rps: rps, burst: burst}
}

// Allow executes the Lua script to check and update the actor's bucket.
func (l *RedisLimiter) Allow(ctx context.Context, actor string) (bool, error) {
	key := fmt.Sprintf("ossa:ratelimit:%s", actor)

	rps := l.rps
	if rps <= 0 {
		rps = 1.0
	}
	now := float64(time.Now().UnixMicro()) / 1e6

	res, err := tokenBucketScript.Run(ctx, l.client, []string{key}, rps, l.burst, 1, now).Result()
	if err != nil {
		return false, fmt.Errorf("redis limiter error: %w", err)
	}

	results, ok := res.([]interface{})
	if !ok || len(results) != 2 {
		return false, fmt.Errorf("invalid response from lua script")
	}

	allowed, _ := results[0].(int64)
	return allowed == 1, nil
}

// Close releases the Redis connection.
func (l *RedisLimiter) Close() error { return l.client.Close() }

// RateLimitMiddleware enforces the limiter per actor: the authenticated
// subject when present, the client IP otherwise. Limiter errors fail
// open so a Redis outage does not take the API down with it.
func RateLimitMiddleware(limiter Limiter, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil {
				next.ServeHTTP(w, r)
				return
			}

			actor := ActorFrom(r.Context())
			if actor == "" {
				actor = ClientIP(r)
			}

			allowed, err := limiter.Allow(r.Context(), actor)
			if err != nil {
				logger.Warn("rate limiter unavailable, allowing request", "actor", actor, "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				WriteTooManyRequests(w, 5)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
