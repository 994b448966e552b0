// cmd/notifier/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"money-service/config"
	"money-service/internal/repository"
	"money-service/internal/sub"
	"money-service/internal/usecase"
)

func main() {
	logger, err := zap.NewProduction()
	if os.Getenv("ENVIRONMENT") == "development" {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	cfg, err := config.Load(logger)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}
	if len(cfg.Kafka.Brokers) == 0 {
		logger.Fatal("KAFKA_BROKERS is required for the notifier")
	}
	if cfg.Store.Backend != "postgres" {
		logger.Fatal("the notifier needs STORE_BACKEND=postgres", zap.String("store", cfg.Store.Backend))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := repository.NewPool(ctx, cfg.Database.DSN(), cfg.Database.MaxConns)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	var dedupe sub.Deduper
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			logger.Warn("redis unavailable, relying on per-recipient idempotence", zap.Error(err))
		} else {
			dedupe = sub.NewRedisDeduper(rdb, "notifier")
		}
		cancel()
	}

	notificationUC := usecase.NewNotificationUsecase(
		repository.NewNotificationRepository(pool),
		repository.NewUserDirectory(pool),
		logger,
	)

	consumer := sub.NewConsumer(sub.ConsumerConfig{
		Brokers: cfg.Kafka.Brokers,
		Topic:   cfg.Kafka.Topic,
		GroupID: cfg.Kafka.GroupID,
	}, dedupe, notificationUC.HandleEvent, logger)

	logger.Info("notifier started",
		zap.Strings("brokers", cfg.Kafka.Brokers),
		zap.String("topic", cfg.Kafka.Topic),
		zap.String("group", cfg.Kafka.GroupID))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return consumer.Run(gctx)
	})
	if err := g.Wait(); err != nil {
		logger.Error("notifier stopped with error", zap.Error(err))
		return
	}
	logger.Info("notifier stopped")
}
