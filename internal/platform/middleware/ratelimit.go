package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"verdant/pkg/requestcontext"
)

// RateLimitDecision is the outcome of a single admission check.
type RateLimitDecision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// RateLimiter admits or refuses a request for a subject key.
type RateLimiter interface {
	Allow(ctx context.Context, subject string) (RateLimitDecision, error)
}

// RedisLimiter is a fixed-window counter backed by Redis. Each subject gets
// one counter per window bucket; the counter expires on its own, so there is
// no cleanup job.
type RedisLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
}

// NewRedisLimiter creates a limiter allowing limit requests per window.
func NewRedisLimiter(client *redis.Client, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, limit: limit, window: window}
}

func (l *RedisLimiter) Allow(ctx context.Context, subject string) (RateLimitDecision, error) {
	now := time.Now()
	bucket := now.Unix() / int64(l.window.Seconds())
	key := fmt.Sprintf("ratelimit:%s:%d", subject, bucket)

	pipe := l.client.TxPipeline()
	count := pipe.Incr(ctx, key)
	// Double the window covers clock skew between instances.
	pipe.Expire(ctx, key, 2*l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return RateLimitDecision{}, fmt.Errorf("rate limit check: %w", err)
	}

	n := int(count.Val())
	decision := RateLimitDecision{
		Allowed:   n <= l.limit,
		Limit:     l.limit,
		Remaining: l.limit - n,
	}
	if decision.Remaining < 0 {
		decision.Remaining = 0
	}
	if !decision.Allowed {
		windowEnd := time.Unix((bucket+1)*int64(l.window.Seconds()), 0)
		decision.RetryAfter = windowEnd.Sub(now)
	}
	return decision, nil
}

// RateLimit enforces a per-subject request budget. Authenticated requests are
// keyed by actor ID, anonymous ones by remote address. Limiter failures fail
// open: an unreachable Redis must not take the API down with it.
func RateLimit(limiter RateLimiter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			decision, err := limiter.Allow(ctx, rateLimitSubject(r))
			if err != nil {
				logger.ErrorContext(ctx, "rate limit check failed, allowing request",
					"error", err,
					"path", r.URL.Path,
				)
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))

			if !decision.Allowed {
				retryAfter := int(decision.RetryAfter.Seconds())
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":"rate_limited","message":"request budget exhausted, slow down"}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func rateLimitSubject(r *http.Request) string {
	if actorID := requestcontext.ActorID(r.Context()); !actorID.IsNil() {
		return "actor:" + actorID.String()
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}
