package handler

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/boddenberg/pix-marketplace-ledger-go/internal/domain"
	"github.com/boddenberg/pix-marketplace-ledger-go/internal/infra/observability"
	"github.com/boddenberg/pix-marketplace-ledger-go/internal/port"
	"github.com/boddenberg/pix-marketplace-ledger-go/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("handler")

// Options controls which surfaces the router mounts.
type Options struct {
	// WebhookSecret signs gateway callbacks. Empty disables the webhook endpoint.
	WebhookSecret string
	// SettleOnCreate makes POST /v1/sales settle immediately instead of opening a charge.
	SettleOnCreate bool
	// DevTools mounts /v1/dev/*.
	DevTools bool
	// HealthChecks are probed by /healthz, keyed by component name.
	HealthChecks map[string]port.Pinger
}

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(svc *service.MarketplaceService, authSvc *service.AuthService, opts Options, metrics *observability.Metrics, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(opts.HealthChecks))
	r.Get("/readyz", readyzHandler())
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {
		r.Get("/metrics/ledger", ledgerMetricsHandler(metrics))

		if svc == nil {
			return
		}

		// =============================================
		// 1. Vendas (checkout, public)
		// =============================================
		r.Post("/sales", createSaleHandler(svc, opts.SettleOnCreate, logger))
		r.Post("/sales/charge", createChargeHandler(svc, logger))
		r.Get("/sales/{saleId}", getSaleHandler(svc, logger))

		// =============================================
		// 2. Webhooks do gateway PIX (signed)
		// =============================================
		r.Route("/webhooks", func(r chi.Router) {
			if opts.WebhookSecret == "" {
				r.Handle("/*", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					writeError(w, http.StatusServiceUnavailable, "webhooks unavailable: WEBHOOK_SECRET not configured")
				}))
				return
			}
			r.Use(WebhookSignatureMiddleware(opts.WebhookSecret, logger))
			r.Post("/pix", pixWebhookHandler(svc, logger))
		})

		// =============================================
		// 3. Autenticação
		// =============================================
		if authSvc == nil {
			unavailable := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeError(w, http.StatusServiceUnavailable, "auth unavailable: JWT_SECRET not configured")
			})
			r.Handle("/auth/*", unavailable)
			r.Handle("/accounts/*", unavailable)
			r.Handle("/sellers/*", unavailable)
			r.Handle("/withdrawals", unavailable)
			r.Handle("/withdrawals/*", unavailable)
			return
		}
		r.Post("/auth/login", authLoginHandler(authSvc, logger))

		// =============================================
		// 4. Saldos, extrato e saques (protected)
		// =============================================
		r.Group(func(r chi.Router) {
			r.Use(JWTAuthMiddleware(authSvc, logger))

			r.Get("/auth/me", whoamiHandler())

			r.Get("/sellers/{sellerId}/sales", listSalesHandler(svc, logger))
			r.Get("/accounts/{accountId}/balance", getBalanceHandler(svc, logger))
			r.Get("/accounts/{accountId}/ledger", listLedgerEntriesHandler(svc, logger))

			r.Post("/withdrawals", requestWithdrawalHandler(svc, logger))
			r.Get("/withdrawals", listWithdrawalsHandler(svc, logger))
			r.Get("/withdrawals/{id}", getWithdrawalHandler(svc, logger))

			// Operator only
			r.Group(func(r chi.Router) {
				r.Use(RequireAdmin(logger))
				r.Get("/accounts/{accountId}/ledger/verify", verifyBalanceHandler(svc, logger))
				r.Post("/withdrawals/{id}/approve", approveWithdrawalHandler(svc, logger))
				r.Post("/withdrawals/{id}/reject", rejectWithdrawalHandler(svc, logger))

				// =============================================
				// Dev Tools (testing helpers)
				// =============================================
				if opts.DevTools {
					r.Post("/dev/adjust-balance", devAdjustBalanceHandler(svc, logger))
				}
			})
		})
	})

	return r
}

// ============================================================
// Operational
// ============================================================

func healthzHandler(checks map[string]port.Pinger) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		health := domain.HealthStatus{
			Status:     "healthy",
			Components: []domain.ComponentHealth{{Name: "ledger-api", Status: "healthy"}},
		}
		for _, name := range names {
			start := time.Now()
			c := domain.ComponentHealth{Name: name, Status: "healthy"}
			if err := checks[name].Ping(ctx); err != nil {
				c.Status = "unhealthy"
				c.Error = err.Error()
				health.Status = "degraded"
			}
			c.LatencyMs = time.Since(start).Milliseconds()
			health.Components = append(health.Components, c)
		}

		status := http.StatusOK
		if health.Status != "healthy" {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, health)
	}
}

func readyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func ledgerMetricsHandler(metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, metrics.GetLedgerSnapshot())
	}
}
