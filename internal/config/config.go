package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/boddenberg/pix-marketplace-ledger-go/internal/domain"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

// Config holds all application configuration.
// Values are loaded from environment variables with sensible defaults.
type Config struct {
	// Server
	Port     int
	LogLevel string

	// Persistence
	StoreBackend  string
	DatabaseURL   string
	DBMaxConns    int
	RedisAddr     string
	RedisPassword string

	// Settlement
	CommissionRate     decimal.Decimal
	CommissionFixedFee domain.Money
	SettleOnCreate     bool

	// External services
	CatalogAPIURL string
	GatewayAPIURL string
	GatewayAPIKey string
	WebhookSecret string

	// HTTP client
	HTTPTimeout time.Duration

	// Resilience
	MaxRetries     int
	InitialBackoff time.Duration
	MaxConcurrency int

	// Cache
	CacheTTL time.Duration

	// Observability
	OTLPEndpoint string

	// JWT / Auth
	JWTSecret         string
	JWTAccessTTL      time.Duration
	AdminLogin        string
	AdminPasswordHash string

	// Dev mode
	DevTools bool // DEV_TOOLS=true mounts /v1/dev/*

	// parse problems collected by Load, reported by Validate
	problems []string
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	cfg := &Config{
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		StoreBackend:  strings.ToLower(getEnv("STORE_BACKEND", BackendMemory)),
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		DBMaxConns:    getEnvInt("DB_MAX_CONNS", 20),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		SettleOnCreate: getEnvBool("SETTLE_ON_CREATE", true),

		CatalogAPIURL: getEnv("CATALOG_API_URL", ""),
		GatewayAPIURL: getEnv("GATEWAY_API_URL", ""),
		GatewayAPIKey: getEnv("GATEWAY_API_KEY", ""),
		WebhookSecret: getEnv("WEBHOOK_SECRET", ""),

		HTTPTimeout: getEnvDuration("HTTP_TIMEOUT", 10*time.Second),

		MaxRetries:     getEnvInt("MAX_RETRIES", 3),
		InitialBackoff: getEnvDuration("INITIAL_BACKOFF", 100*time.Millisecond),
		MaxConcurrency: getEnvInt("MAX_CONCURRENCY", 50),

		CacheTTL: getEnvDuration("CACHE_TTL", 5*time.Minute),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),

		JWTSecret:         getEnv("JWT_SECRET", "ledger-default-dev-secret-change-me"),
		JWTAccessTTL:      getEnvDuration("JWT_ACCESS_TTL", 15*time.Minute),
		AdminLogin:        getEnv("ADMIN_LOGIN", "admin"),
		AdminPasswordHash: getEnv("ADMIN_PASSWORD_HASH", ""),

		DevTools: getEnvBool("DEV_TOOLS", false),
	}

	rate, err := decimal.NewFromString(getEnv("COMMISSION_RATE", "0.05"))
	if err != nil {
		cfg.problems = append(cfg.problems, "COMMISSION_RATE: "+err.Error())
	}
	cfg.CommissionRate = rate

	fee, err := domain.ParseMoney(getEnv("COMMISSION_FIXED_FEE", "1.00"))
	if err != nil {
		cfg.problems = append(cfg.problems, "COMMISSION_FIXED_FEE: "+err.Error())
	}
	cfg.CommissionFixedFee = fee

	return cfg
}

// Validate reports unparseable or inconsistent settings.
func (c *Config) Validate() error {
	problems := append([]string(nil), c.problems...)

	if c.CommissionRate.IsNegative() || c.CommissionRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		problems = append(problems, "COMMISSION_RATE must be in [0, 1)")
	}
	if c.CommissionFixedFee.IsNegative() {
		problems = append(problems, "COMMISSION_FIXED_FEE must not be negative")
	}
	switch c.StoreBackend {
	case BackendMemory:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			problems = append(problems, "DATABASE_URL is required for STORE_BACKEND=postgres")
		}
	default:
		problems = append(problems, fmt.Sprintf("STORE_BACKEND '%s' is not one of memory, postgres", c.StoreBackend))
	}
	if !c.SettleOnCreate && c.GatewayAPIURL == "" {
		problems = append(problems, "GATEWAY_API_URL is required when SETTLE_ON_CREATE=false")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
