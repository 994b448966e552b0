package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("GATEWAY_API_KEY", "")

	cfg, err := Load(zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, 20*time.Second, cfg.Gateway.Timeout)
	assert.True(t, cfg.Fees.BookingCommissionRate.Equal(decimal.RequireFromString("0.10")))
	assert.True(t, cfg.Fees.BuyerMarkupPct.Equal(decimal.NewFromInt(5)))
	assert.True(t, cfg.Fees.SalePlatformFeePct.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, 5*time.Second, cfg.Poller.Interval)
	assert.Equal(t, 12, cfg.Poller.MaxAttempts)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("GATEWAY_TIMEOUT", "5s")
	t.Setenv("BOOKING_COMMISSION_RATE", "0.15")

	cfg, err := Load(zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 5*time.Second, cfg.Gateway.Timeout)
	assert.True(t, cfg.Fees.BookingCommissionRate.Equal(decimal.RequireFromString("0.15")))
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("STORE_BACKEND", "mongo")
	_, err := Load(zap.NewNop())
	assert.Error(t, err)

	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("BOOKING_COMMISSION_RATE", "1.5")
	_, err = Load(zap.NewNop())
	assert.Error(t, err)
}
