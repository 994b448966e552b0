// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"money-service/config"
	"money-service/internal/domain"
	"money-service/internal/handler"
	"money-service/internal/middleware"
	"money-service/internal/provider/gateway"
	"money-service/internal/pub"
	"money-service/internal/repository"
	"money-service/internal/repository/memstore"
	"money-service/internal/router"
	"money-service/internal/usecase"
)

type stores struct {
	payments  repository.PaymentRepository
	bookings  repository.BookingRepository
	earnings  repository.EarningsRepository
	purchases repository.PurchaseRepository
	listings  repository.ListingRepository
	cache     repository.StatusCache
	close     func()
}

func main() {
	logger := newLogger()
	defer logger.Sync()

	logger.Info("starting money service")

	cfg, err := config.Load(logger)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	logger.Info("configuration loaded",
		zap.String("environment", cfg.Server.Env),
		zap.String("port", cfg.Server.Port),
		zap.String("store", cfg.Store.Backend))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb := connectRedis(ctx, cfg.Redis, logger)
	if rdb != nil {
		defer rdb.Close()
	}

	st, err := openStores(ctx, cfg, rdb, logger)
	if err != nil {
		logger.Fatal("failed to open store", zap.Error(err))
	}
	defer st.close()

	var publisher pub.Publisher
	if len(cfg.Kafka.Brokers) > 0 {
		kp := pub.NewKafkaPublisher(pub.KafkaConfig{Brokers: cfg.Kafka.Brokers, Topic: cfg.Kafka.Topic}, logger)
		defer kp.Close()
		publisher = kp
		logger.Info("publishing events to kafka",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("topic", cfg.Kafka.Topic))
	} else {
		publisher = pub.NewLogPublisher(logger)
		logger.Warn("KAFKA_BROKERS not set, events are only logged")
	}

	pubKey, err := middleware.LoadRSAPublicKeyFromPEM(cfg.Auth.PublicKeyPath)
	if err != nil {
		logger.Fatal("failed to load jwt public key", zap.Error(err))
	}
	auth := middleware.NewAuthMiddleware(middleware.NewVerifier(pubKey, cfg.Auth.Issuer, cfg.Auth.Audience), logger)

	gw := gateway.NewClient(gateway.Config{
		BaseURL:  cfg.Gateway.BaseURL,
		APIKey:   cfg.Gateway.APIKey,
		Country:  cfg.Gateway.Country,
		Currency: cfg.Gateway.Currency,
		Timeout:  cfg.Gateway.Timeout,
	}, logger)

	// Usecases
	paymentUC := usecase.NewPaymentUsecase(st.payments, st.bookings, gw, st.cache, publisher, cfg.Gateway.Currency, logger)
	earningsUC := usecase.NewEarningsUsecase(st.earnings, st.bookings, publisher, cfg.Fees.BookingCommissionRate, cfg.Gateway.Currency, logger)
	withdrawUC := usecase.NewWithdrawUsecase(st.earnings, paymentUC, publisher, cfg.Gateway.Currency, logger)
	paymentUC.RegisterHook(domain.PurposeBooking, earningsUC)
	paymentUC.RegisterHook(domain.PurposeWithdrawal, withdrawUC)
	purchaseUC := usecase.NewPurchaseUsecase(st.purchases, st.listings, publisher, cfg.Fees.BuyerMarkupPct, cfg.Fees.SalePlatformFeePct, logger)
	listingUC := usecase.NewListingUsecase(st.listings, publisher, logger)

	// Handlers
	rpcHandler := handler.NewRPCHandler(paymentUC, earningsUC, withdrawUC, purchaseUC, listingUC, logger)
	callbackHandler := handler.NewCallbackHandler(paymentUC, cfg.Server.WebhookSecret, logger)

	r := router.SetupRoutes(rpcHandler, callbackHandler, auth, rdb, cfg.RateLimit, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server starting",
			zap.String("port", cfg.Server.Port),
			zap.Strings("rpc_methods", rpcHandler.Methods()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server forced to shutdown", zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("money service stopped with error", zap.Error(err))
		return
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if os.Getenv("ENVIRONMENT") == "development" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	return logger
}

// connectRedis returns nil when redis is disabled or unreachable. The service runs
// without the status cache and the rate limiter in that case.
func connectRedis(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) *redis.Client {
	if !cfg.Enabled {
		return nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis unavailable, continuing without cache and rate limiting",
			zap.String("addr", cfg.Addr()),
			zap.Error(err))
		rdb.Close()
		return nil
	}
	logger.Info("connected to redis", zap.String("addr", cfg.Addr()))
	return rdb
}

func openStores(ctx context.Context, cfg *config.Config, rdb *redis.Client, logger *zap.Logger) (*stores, error) {
	var cache repository.StatusCache
	if rdb != nil {
		cache = repository.NewRedisStatusCache(rdb, logger)
	}

	if cfg.Store.Backend == "memory" {
		logger.Warn("using in-memory store, data is lost on restart")
		mem := memstore.New()
		if cache == nil {
			cache = mem.StatusCache()
		}
		return &stores{
			payments:  mem.Payments(),
			bookings:  mem.Bookings(),
			earnings:  mem.Earnings(),
			purchases: mem.Purchases(),
			listings:  mem.Listings(),
			cache:     cache,
			close:     func() {},
		}, nil
	}

	pool, err := repository.NewPool(ctx, cfg.Database.DSN(), cfg.Database.MaxConns)
	if err != nil {
		return nil, err
	}
	logger.Info("connected to database", zap.String("database", cfg.Database.DBName))

	return &stores{
		payments:  repository.NewPaymentRepository(pool),
		bookings:  repository.NewBookingRepository(pool),
		earnings:  repository.NewEarningsRepository(pool),
		purchases: repository.NewPurchaseRepository(pool),
		listings:  repository.NewListingRepository(pool),
		cache:     cache,
		close:     pool.Close,
	}, nil
}
