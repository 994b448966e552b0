package router

import (
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"money-service/config"
	"money-service/internal/handler"
	authmw "money-service/internal/middleware"
	"money-service/internal/provider/gateway"
	"money-service/internal/pub"
	"money-service/internal/repository/memstore"
	"money-service/internal/usecase"
)

func newTestRouter(t *testing.T) (http.Handler, *rsa.PrivateKey) {
	t.Helper()
	logger := zap.NewNop()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	store := memstore.New()
	events := pub.NewLogPublisher(logger)
	// No API key: every gateway call fails fast with ErrNotConfigured.
	gw := gateway.NewClient(gateway.Config{BaseURL: "http://127.0.0.1:1", Timeout: time.Second}, logger)

	payments := usecase.NewPaymentUsecase(store.Payments(), store.Bookings(), gw, store.StatusCache(), events, "ZMW", logger)
	earnings := usecase.NewEarningsUsecase(store.Earnings(), store.Bookings(), events, decimal.RequireFromString("0.10"), "ZMW", logger)
	withdraw := usecase.NewWithdrawUsecase(store.Earnings(), payments, events, "ZMW", logger)
	purchases := usecase.NewPurchaseUsecase(store.Purchases(), store.Listings(), events, decimal.NewFromInt(5), decimal.NewFromInt(10), logger)
	listings := usecase.NewListingUsecase(store.Listings(), events, logger)

	auth := authmw.NewAuthMiddleware(authmw.NewVerifier(&key.PublicKey, "identity", ""), logger)
	r := SetupRoutes(
		handler.NewRPCHandler(payments, earnings, withdraw, purchases, listings, logger),
		handler.NewCallbackHandler(payments, "secret", logger),
		auth,
		nil,
		config.RateLimitConfig{},
		logger,
	)
	return r, key
}

func sign(t *testing.T, key *rsa.PrivateKey, uid, issuer string) string {
	t.Helper()
	claims := authmw.Claims{
		UserID: uid,
		Role:   "user",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func TestHealthAndMetrics(t *testing.T) {
	r, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRPCRequiresBearerToken(t *testing.T) {
	r, key := newTestRouter(t)

	do := func(token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/rpc/getEarnings", strings.NewReader(`{"data":{}}`))
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusUnauthorized, do("").Code)
	assert.Equal(t, http.StatusUnauthorized, do(sign(t, key, "host-1", "someone-else")).Code)

	rec := do(sign(t, key, "host-1", "identity"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"userId":"host-1"`)
}

func TestWebhookBypassesBearerAuth(t *testing.T) {
	r, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/gateway", strings.NewReader(`{}`))
	req.Header.Set("X-Webhook-Secret", "secret")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
