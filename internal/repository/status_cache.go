package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"money-service/internal/domain"
)

const statusCacheTTL = 24 * time.Hour

// RedisStatusCache keeps terminal payment statuses under payment:status:<reference>.
// Only terminal statuses are written, so an entry never goes stale.
type RedisStatusCache struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func NewRedisStatusCache(rdb *redis.Client, logger *zap.Logger) *RedisStatusCache {
	return &RedisStatusCache{rdb: rdb, logger: logger}
}

func statusKey(reference string) string {
	return fmt.Sprintf("payment:status:%s", reference)
}

func (c *RedisStatusCache) GetTerminal(ctx context.Context, reference string) (domain.PaymentStatus, bool) {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	val, err := c.rdb.Get(ctx, statusKey(reference)).Result()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("status cache read failed", zap.String("reference", reference), zap.Error(err))
		}
		return "", false
	}
	status := domain.PaymentStatus(val)
	if !status.IsTerminal() {
		return "", false
	}
	return status, true
}

func (c *RedisStatusCache) SetTerminal(ctx context.Context, reference string, status domain.PaymentStatus) {
	if !status.IsTerminal() {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	if err := c.rdb.Set(ctx, statusKey(reference), string(status), statusCacheTTL).Err(); err != nil {
		c.logger.Warn("status cache write failed", zap.String("reference", reference), zap.Error(err))
	}
}
