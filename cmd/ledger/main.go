package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/boddenberg/pix-marketplace-ledger-go/internal/config"
	"github.com/boddenberg/pix-marketplace-ledger-go/internal/domain"
	"github.com/boddenberg/pix-marketplace-ledger-go/internal/handler"
	"github.com/boddenberg/pix-marketplace-ledger-go/internal/infra/cache"
	"github.com/boddenberg/pix-marketplace-ledger-go/internal/infra/client"
	"github.com/boddenberg/pix-marketplace-ledger-go/internal/infra/memory"
	"github.com/boddenberg/pix-marketplace-ledger-go/internal/infra/notify"
	"github.com/boddenberg/pix-marketplace-ledger-go/internal/infra/observability"
	"github.com/boddenberg/pix-marketplace-ledger-go/internal/infra/postgres"
	"github.com/boddenberg/pix-marketplace-ledger-go/internal/infra/redisstore"
	"github.com/boddenberg/pix-marketplace-ledger-go/internal/infra/resilience"
	"github.com/boddenberg/pix-marketplace-ledger-go/internal/port"
	"github.com/boddenberg/pix-marketplace-ledger-go/internal/service"

	"go.uber.org/zap"
)

const serviceName = "pix-marketplace-ledger"

type ledgerStore interface {
	port.LedgerStore
	port.Pinger
}

func main() {
	// --- Load .env file (for local development) ---
	_ = config.LoadDotEnv(".env")

	// --- Config ---
	cfg := config.Load()

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("configuration rejected", zap.Error(err))
	}

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.String("store_backend", cfg.StoreBackend),
		zap.Bool("redis", cfg.RedisAddr != ""),
		zap.String("commission_rate", cfg.CommissionRate.String()),
		zap.String("commission_fixed_fee", cfg.CommissionFixedFee.String()),
		zap.Bool("settle_on_create", cfg.SettleOnCreate),
		zap.Bool("webhooks", cfg.WebhookSecret != ""),
		zap.Duration("http_timeout", cfg.HTTPTimeout),
		zap.Duration("cache_ttl", cfg.CacheTTL),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Duration("initial_backoff", cfg.InitialBackoff),
		zap.Duration("jwt_access_ttl", cfg.JWTAccessTTL),
		zap.Bool("dev_tools", cfg.DevTools),
	)

	ctx := context.Background()

	// --- Tracing ---
	shutdown, err := observability.InitTracer(ctx, cfg.OTLPEndpoint, serviceName)
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdown(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Cache ---
	lookupCache := cache.New[any](cfg.CacheTTL)
	defer lookupCache.Stop()

	// --- Resilience ---
	resilienceCfg := resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxConcurrency: cfg.MaxConcurrency,
	}

	health := map[string]port.Pinger{}

	// --- Stores ---
	var (
		ledger      ledgerStore
		sales       port.SaleStore
		withdrawals port.WithdrawalStore
		events      port.WebhookEventStore
	)
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		pool, err := postgres.Connect(ctx, postgres.PoolConfig{
			URL:             cfg.DatabaseURL,
			MaxConns:        cfg.DBMaxConns,
			MaxConnLifetime: time.Hour,
			MaxConnIdleTime: 30 * time.Minute,
		}, logger)
		if err != nil {
			logger.Fatal("failed to connect to postgres", zap.Error(err))
		}
		defer pool.Close()

		if err := postgres.Migrate(ctx, pool); err != nil {
			logger.Fatal("failed to apply schema", zap.Error(err))
		}
		ledger = postgres.NewLedgerStore(pool)
		sales = postgres.NewSaleStore(pool)
		withdrawals = postgres.NewWithdrawalStore(pool)
		events = postgres.NewEventStore(pool)
		logger.Info("using postgres stores")
	default:
		ledger = memory.NewLedgerStore()
		sales = memory.NewSaleStore()
		withdrawals = memory.NewWithdrawalStore()
		events = memory.NewEventStore()
		logger.Warn("using in-memory stores, state is lost on restart")
	}
	health["ledger-store"] = ledger

	// --- Redis (notifications, dedup without postgres) ---
	var notifier port.Notifier = notify.NewLogNotifier(logger)
	if cfg.RedisAddr != "" {
		rdb := redisstore.NewClient(strings.Split(cfg.RedisAddr, ","), cfg.RedisPassword)
		defer rdb.Close()

		redisEvents := redisstore.NewEventStore(rdb, redisstore.DefaultEventTTL)
		events = consumedEventStore(cfg.StoreBackend, events, redisEvents)
		notifier = redisstore.NewPublisher(rdb)
		health["redis"] = redisEvents
		logger.Info("using redis for notifications", zap.String("addr", cfg.RedisAddr),
			zap.Bool("webhook_dedup", cfg.StoreBackend != config.BackendPostgres),
		)
	}

	// --- Clients ---
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	var (
		accounts port.AccountDirectory
		products port.ProductCatalog
	)
	if cfg.CatalogAPIURL != "" {
		catalog := client.NewCatalogClient(httpClient, cfg.CatalogAPIURL, resilience.NewCircuitBreaker("catalog-api"), resilienceCfg)
		accounts, products = catalog, catalog
		logger.Info("using catalog API", zap.String("url", cfg.CatalogAPIURL))
	} else {
		dir := memory.NewDirectory()
		if cfg.DevTools {
			seedDemoCatalog(dir)
			logger.Info("in-memory catalog seeded with demo data")
		}
		accounts, products = dir, dir
		logger.Warn("CATALOG_API_URL not set, using in-memory catalog")
	}

	var gateway port.PaymentGateway
	if cfg.GatewayAPIURL != "" {
		gateway = client.NewGatewayClient(httpClient, cfg.GatewayAPIURL, cfg.GatewayAPIKey, resilience.NewCircuitBreaker("gateway-api"), resilienceCfg)
		logger.Info("using PIX gateway", zap.String("url", cfg.GatewayAPIURL))
	}

	// --- Services ---
	svc := service.NewMarketplaceService(service.Dependencies{
		Ledger:      ledger,
		Sales:       sales,
		Withdrawals: withdrawals,
		Events:      events,
		Accounts:    accounts,
		Products:    products,
		Gateway:     gateway,
		Notifier:    notifier,
		Cache:       lookupCache,
		Metrics:     metrics,
		Logger:      logger,
	}, service.Options{
		Commission: &service.Commission{
			Rate:     cfg.CommissionRate,
			FixedFee: cfg.CommissionFixedFee,
		},
		NotifyConcurrency: cfg.MaxConcurrency,
	})

	authSvc := service.NewAuthService(cfg.JWTSecret, cfg.JWTAccessTTL, cfg.AdminLogin, cfg.AdminPasswordHash, logger)
	if cfg.AdminPasswordHash == "" {
		logger.Warn("ADMIN_PASSWORD_HASH not set, operator login disabled")
	}

	// --- Router ---
	router := handler.NewRouter(svc, authSvc, handler.Options{
		WebhookSecret:  cfg.WebhookSecret,
		SettleOnCreate: cfg.SettleOnCreate,
		DevTools:       cfg.DevTools,
		HealthChecks:   health,
	}, metrics, logger)

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Graceful shutdown ---
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("server shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced shutdown", zap.Error(err))
	}
	svc.Wait()

	logger.Info("server stopped")
}

// consumedEventStore keeps the durable consumed_webhook_events table as the
// source of truth on postgres; redis only takes over dedup from the in-memory set.
func consumedEventStore(backend string, store, redisEvents port.WebhookEventStore) port.WebhookEventStore {
	if backend == config.BackendPostgres || redisEvents == nil {
		return store
	}
	return redisEvents
}

func seedDemoCatalog(dir *memory.Directory) {
	dir.PutAccount(domain.Account{ID: "seller-demo", Name: "Loja Demo", Email: "loja@demo.local", Active: true})
	dir.PutProduct(domain.Product{ID: "prod-demo", SellerAccountID: "seller-demo", Name: "Camiseta", Price: domain.MoneyFromMinor(4990)})
}
