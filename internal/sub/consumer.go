// Package sub consumes the event topic for the notification worker.
package sub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"money-service/internal/domain"
)

const (
	dedupeTTL    = 24 * time.Hour
	retryBackoff = 500 * time.Millisecond
	maxBackoff   = 30 * time.Second
)

type Handler func(ctx context.Context, evt *domain.Event) error

// Deduper reports whether an event id is seen for the first time and lets a failed
// delivery be forgotten so a redelivery is processed.
type Deduper interface {
	FirstSeen(ctx context.Context, eventID string) (bool, error)
	Forget(ctx context.Context, eventID string)
}

type RedisDeduper struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisDeduper(rdb *redis.Client, prefix string) *RedisDeduper {
	return &RedisDeduper{rdb: rdb, prefix: prefix}
}

func (d *RedisDeduper) key(id string) string { return d.prefix + ":event:" + id }

func (d *RedisDeduper) FirstSeen(ctx context.Context, eventID string) (bool, error) {
	return d.rdb.SetNX(ctx, d.key(eventID), "1", dedupeTTL).Result()
}

func (d *RedisDeduper) Forget(ctx context.Context, eventID string) {
	d.rdb.Del(ctx, d.key(eventID))
}

type ConsumerConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

type Consumer struct {
	reader  *kafka.Reader
	dedupe  Deduper
	handler Handler
	wait    func(ctx context.Context, d time.Duration) error
	logger  *zap.Logger
}

func NewConsumer(cfg ConsumerConfig, dedupe Deduper, handler Handler, logger *zap.Logger) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  cfg.Brokers,
			Topic:    cfg.Topic,
			GroupID:  cfg.GroupID,
			MinBytes: 1,
			MaxBytes: 10e6,
		}),
		dedupe:  dedupe,
		handler: handler,
		wait:    sleep,
		logger:  logger,
	}
}

// Run blocks until ctx is cancelled. Offsets are committed only after the handler succeeds.
// A group commit covers every earlier offset of the partition, so a failed message is
// retried in place and nothing after it is fetched until it goes through.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.reader.Close()

	readFailures := 0
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			delay := backoff(readFailures)
			readFailures++
			c.logger.Error("kafka read error", zap.Duration("retry_in", delay), zap.Error(err))
			if c.wait(ctx, delay) != nil {
				return nil
			}
			continue
		}
		readFailures = 0

		if err := c.deliver(ctx, m); err != nil {
			return nil
		}
		if err := c.reader.CommitMessages(ctx, m); err != nil {
			c.logger.Warn("failed to commit offset", zap.Int64("offset", m.Offset), zap.Error(err))
		}
	}
}

// deliver processes m until it succeeds. It only returns an error once ctx is done.
func (c *Consumer) deliver(ctx context.Context, m kafka.Message) error {
	for attempt := 0; ; attempt++ {
		err := c.Process(ctx, m.Value)
		if err == nil {
			return nil
		}
		delay := backoff(attempt)
		c.logger.Error("event handling failed, retrying same offset",
			zap.Int64("offset", m.Offset),
			zap.Int("partition", m.Partition),
			zap.Int("attempt", attempt+1),
			zap.Duration("retry_in", delay),
			zap.Error(err))
		if err := c.wait(ctx, delay); err != nil {
			return err
		}
	}
}

func backoff(attempt int) time.Duration {
	if attempt > 6 {
		return maxBackoff
	}
	return min(retryBackoff<<attempt, maxBackoff)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Process decodes one message and hands it to the handler once per event id.
// Undecodable messages are dropped.
func (c *Consumer) Process(ctx context.Context, value []byte) error {
	var evt domain.Event
	if err := json.Unmarshal(value, &evt); err != nil || evt.ID == "" {
		c.logger.Error("dropping undecodable event", zap.ByteString("value", value), zap.Error(err))
		return nil
	}

	if c.dedupe != nil {
		first, err := c.dedupe.FirstSeen(ctx, evt.ID)
		if err != nil {
			// Redis down: process anyway, notification writes are idempotent per recipient.
			c.logger.Warn("dedupe check failed", zap.String("event_id", evt.ID), zap.Error(err))
		} else if !first {
			c.logger.Debug("duplicate event skipped", zap.String("event_id", evt.ID))
			return nil
		}
	}

	if err := c.handler(ctx, &evt); err != nil {
		if c.dedupe != nil {
			c.dedupe.Forget(ctx, evt.ID)
		}
		return fmt.Errorf("handle %s %s: %w", evt.Type, evt.ID, err)
	}
	return nil
}
