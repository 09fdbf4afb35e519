package app

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRateLimitPrefix = "recyclr:rate_limit"

// INCR the window counter, start the window on first hit, and report the remaining TTL.
var submissionRateLimitScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  ttl = tonumber(ARGV[1])
end
return {current, ttl}
`)

// RedisSubmissionRateLimiter implements a fixed-window counter in Redis shared by all
// service replicas. The window starts with the first request of a subject.
type RedisSubmissionRateLimiter struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisSubmissionRateLimiter(client redis.UniversalClient, prefix string) *RedisSubmissionRateLimiter {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = defaultRateLimitPrefix
	}
	return &RedisSubmissionRateLimiter{client: client, prefix: prefix}
}

func (r *RedisSubmissionRateLimiter) key(scope, subject string) (string, bool) {
	scope = strings.TrimSpace(scope)
	subject = strings.TrimSpace(subject)
	if scope == "" || subject == "" {
		return "", false
	}
	return fmt.Sprintf("%s:%s:%s", r.prefix, scope, subject), true
}

// ConsumeRateLimit counts one request for subject and returns the count within the
// current window plus the seconds until the window resets. A nil limiter, a zero
// limit, or an empty subject disables limiting.
func (r *RedisSubmissionRateLimiter) ConsumeRateLimit(
	ctx context.Context,
	scope string,
	subject string,
	limit int,
	window time.Duration,
) (count int, retryAfterSeconds int, err error) {
	if r == nil || r.client == nil || limit <= 0 || window <= 0 {
		return 0, 0, nil
	}
	key, ok := r.key(scope, subject)
	if !ok {
		return 0, 0, nil
	}

	windowMs := window.Milliseconds()
	if windowMs < 1000 {
		windowMs = 1000
	}

	raw, err := submissionRateLimitScript.Run(ctx, r.client, []string{key}, windowMs).Int64Slice()
	if err != nil {
		return 0, 0, fmt.Errorf("run rate limit script: %w", err)
	}
	if len(raw) != 2 {
		return 0, 0, fmt.Errorf("unexpected redis limiter response length: %d", len(raw))
	}

	ttlMs := raw[1]
	if ttlMs < 0 {
		ttlMs = windowMs
	}
	retryAfter := int(math.Ceil(float64(ttlMs) / 1000.0))
	if retryAfter < 1 {
		retryAfter = 1
	}
	return int(raw[0]), retryAfter, nil
}
