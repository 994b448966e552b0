// internal/middleware/rate.go
package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"money-service/internal/pkg/response"
)

// RateLimiter counts requests per caller in fixed windows and blocks a caller that goes
// over limit for blockDuration. Redis failures let the request through.
func RateLimiter(rdb *redis.Client, limit int, window, blockDuration time.Duration, keyPrefix string, logger *zap.Logger) func(http.Handler) http.Handler {
	l := &limiter{rdb: rdb, limit: limit, window: window, block: blockDuration, prefix: keyPrefix, logger: logger}
	return l.middleware
}

type limiter struct {
	rdb    *redis.Client
	limit  int
	window time.Duration
	block  time.Duration
	prefix string
	logger *zap.Logger
}

type verdict struct {
	allowed   bool
	remaining int
	retry     time.Duration
}

func (l *limiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := l.prefix + ":" + callerKey(r)

		v, err := l.take(r.Context(), key)
		if err != nil {
			l.logger.Warn("rate limiter unavailable, allowing request", zap.String("key", key), zap.Error(err))
			next.ServeHTTP(w, r)
			return
		}
		if !v.allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(v.retry.Seconds())))
			response.Error(w, http.StatusTooManyRequests, response.CodeResourceExhausted,
				fmt.Sprintf("too many status checks, retry in %s", v.retry.Round(time.Second)))
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(v.remaining))
		next.ServeHTTP(w, r)
	})
}

// take consumes one slot. The window key is created with its expiry and incremented in
// one MULTI, so a counter never exists without a TTL.
func (l *limiter) take(ctx context.Context, key string) (verdict, error) {
	blockKey := key + ":blocked"

	ttl, err := l.rdb.PTTL(ctx, blockKey).Result()
	if err != nil {
		return verdict{}, err
	}
	if ttl > 0 {
		return verdict{retry: ttl}, nil
	}

	var incr *redis.IntCmd
	if _, err := l.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SetNX(ctx, key, 0, l.window)
		incr = pipe.Incr(ctx, key)
		return nil
	}); err != nil {
		return verdict{}, err
	}

	count := int(incr.Val())
	if count > l.limit {
		if err := l.rdb.Set(ctx, blockKey, "1", l.block).Err(); err != nil {
			return verdict{}, err
		}
		l.logger.Info("caller rate limited", zap.String("key", key), zap.Int("count", count))
		return verdict{retry: l.block}, nil
	}
	return verdict{allowed: true, remaining: l.limit - count}, nil
}

// callerKey prefers the authenticated user and falls back to the client address.
func callerKey(r *http.Request) string {
	if id, ok := IdentityFrom(r.Context()); ok {
		return "uid:" + id.UserID
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return "ip:" + strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	return "ip:" + r.RemoteAddr
}
