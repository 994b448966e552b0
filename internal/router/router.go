// internal/router/router.go
package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"money-service/config"
	"money-service/internal/handler"
	authmw "money-service/internal/middleware"
)

const statusCheckMethod = "checkBookingMobileMoneyPaymentStatus"

func SetupRoutes(
	rpcHandler *handler.RPCHandler,
	callbackHandler *handler.CallbackHandler,
	auth *authmw.AuthMiddleware,
	rdb *redis.Client,
	rateCfg config.RateLimitConfig,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggerMiddleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	// Gateway callbacks authenticate with the shared webhook secret, not a bearer token.
	r.Post("/webhooks/gateway", callbackHandler.HandleGatewayWebhook)

	r.Route("/rpc", func(r chi.Router) {
		r.Use(auth.Require)
		if rdb != nil && rateCfg.StatusChecks > 0 {
			limiter := authmw.RateLimiter(rdb, rateCfg.StatusChecks, rateCfg.Window, rateCfg.Block, "rl:status", logger)
			r.With(onlyFor(statusCheckMethod, limiter)).Post("/{name}", rpcHandler.Handle)
			return
		}
		r.Post("/{name}", rpcHandler.Handle)
	})

	return r
}

// onlyFor applies mw to a single RPC method.
func onlyFor(method string, mw func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		wrapped := mw(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if chi.URLParam(r, "name") == method {
				wrapped.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// LoggerMiddleware logs HTTP requests
func LoggerMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("remote_addr", r.RemoteAddr),
				zap.String("user_agent", r.UserAgent()))
		})
	}
}
