// config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Store     StoreConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Gateway   GatewayConfig
	Fees      FeeConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Poller    PollerConfig
}

type ServerConfig struct {
	Port string
	Env  string
	// WebhookSecret is the shared secret the gateway sends in X-Webhook-Secret.
	WebhookSecret string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int32
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode)
}

type StoreConfig struct {
	// Backend is "postgres" or "memory".
	Backend string
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	Enabled  bool
}

func (r RedisConfig) Addr() string { return r.Host + ":" + r.Port }

type KafkaConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

type GatewayConfig struct {
	BaseURL  string
	APIKey   string
	Country  string
	Currency string
	Timeout  time.Duration
}

type FeeConfig struct {
	BookingCommissionRate decimal.Decimal
	BuyerMarkupPct        decimal.Decimal
	SalePlatformFeePct    decimal.Decimal
}

type AuthConfig struct {
	PublicKeyPath string
	Issuer        string
	Audience      string
}

type RateLimitConfig struct {
	StatusChecks int
	Window       time.Duration
	Block        time.Duration
}

type PollerConfig struct {
	Interval    time.Duration
	MaxAttempts int
}

// Load reads .env when present and then the process environment. A missing gateway key
// is not an error here; gateway calls fail with ErrNotConfigured instead.
func Load(logger *zap.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Debug("no .env file loaded", zap.Error(err))
	}

	commission, err := getEnvDecimal("BOOKING_COMMISSION_RATE", "0.10")
	if err != nil {
		return nil, err
	}
	markup, err := getEnvDecimal("BUYER_MARKUP_PCT", "5")
	if err != nil {
		return nil, err
	}
	saleFee, err := getEnvDecimal("SALE_PLATFORM_FEE_PCT", "10")
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:          getEnv("SERVER_PORT", "8030"),
			Env:           getEnv("ENVIRONMENT", "development"),
			WebhookSecret: getEnv("GATEWAY_WEBHOOK_SECRET", ""),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "money"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
			MaxConns: int32(getEnvInt("DB_MAX_CONNS", 20)),
		},
		Store: StoreConfig{
			Backend: strings.ToLower(getEnv("STORE_BACKEND", "postgres")),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "redis"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			Enabled:  getEnvBool("REDIS_ENABLED", true),
		},
		Kafka: KafkaConfig{
			Brokers: getEnvSlice("KAFKA_BROKERS", nil),
			Topic:   getEnv("KAFKA_TOPIC", "money.events"),
			GroupID: getEnv("KAFKA_GROUP_ID", "money-notifier"),
		},
		Gateway: GatewayConfig{
			BaseURL:  getEnv("GATEWAY_BASE_URL", "https://api.lenco.co/access/v2"),
			APIKey:   getEnv("GATEWAY_API_KEY", ""),
			Country:  getEnv("GATEWAY_COUNTRY", "zm"),
			Currency: getEnv("GATEWAY_CURRENCY", "ZMW"),
			Timeout:  getEnvDuration("GATEWAY_TIMEOUT", 20*time.Second),
		},
		Fees: FeeConfig{
			BookingCommissionRate: commission,
			BuyerMarkupPct:        markup,
			SalePlatformFeePct:    saleFee,
		},
		Auth: AuthConfig{
			PublicKeyPath: getEnv("JWT_PUBLIC_KEY_PATH", "secrets/jwt_public.pem"),
			Issuer:        getEnv("JWT_ISSUER", ""),
			Audience:      getEnv("JWT_AUDIENCE", ""),
		},
		RateLimit: RateLimitConfig{
			StatusChecks: getEnvInt("RATE_LIMIT_STATUS_CHECKS", 30),
			Window:       getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
			Block:        getEnvDuration("RATE_LIMIT_BLOCK", 2*time.Minute),
		},
		Poller: PollerConfig{
			Interval:    getEnvDuration("POLL_INTERVAL", 5*time.Second),
			MaxAttempts: getEnvInt("POLL_MAX_ATTEMPTS", 12),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if cfg.Gateway.APIKey == "" {
		logger.Warn("GATEWAY_API_KEY is not set, gateway calls will fail until it is configured")
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Store.Backend {
	case "postgres", "memory":
	default:
		return fmt.Errorf("STORE_BACKEND must be postgres or memory, got %q", c.Store.Backend)
	}
	if c.Fees.BookingCommissionRate.IsNegative() || c.Fees.BookingCommissionRate.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("BOOKING_COMMISSION_RATE must be between 0 and 1")
	}
	if c.Poller.MaxAttempts <= 0 {
		return fmt.Errorf("POLL_MAX_ATTEMPTS must be positive")
	}
	return nil
}

func (c *Config) IsDevelopment() bool { return c.Server.Env == "development" }

// ============================================
// ENV HELPERS
// ============================================

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvDecimal(key, defaultValue string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(getEnv(key, defaultValue))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s is not a number: %w", key, err)
	}
	return d, nil
}
