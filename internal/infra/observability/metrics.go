package observability

import (
	"time"

	"github.com/boddenberg/pix-marketplace-ledger-go/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Settlement paths.
const (
	PathDirect  = "direct"
	PathWebhook = "webhook"
)

// Withdrawal outcomes.
const (
	OutcomeRequested         = "requested"
	OutcomeApproved          = "approved"
	OutcomeRejected          = "rejected"
	OutcomeInsufficientFunds = "insufficient_funds"
)

// Webhook outcomes.
const (
	WebhookProcessed = "processed"
	WebhookDuplicate = "duplicate"
	WebhookAnomaly   = "anomaly"
	WebhookError     = "error"
)

// Metrics holds all Prometheus metrics for the ledger service.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	operationDuration *prometheus.HistogramVec
	settlements       *prometheus.CounterVec
	withdrawals       *prometheus.CounterVec
	webhookEvents     *prometheus.CounterVec
	externalErrors    *prometheus.CounterVec
	cacheHits         *prometheus.CounterVec
	cacheMisses       *prometheus.CounterVec
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		operationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ledger_operation_duration_seconds",
				Help:    "Duration of ledger service operations.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		settlements: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_settlements_total",
				Help: "Sales credited to a seller balance, by settlement path.",
			},
			[]string{"path"},
		),
		withdrawals: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_withdrawals_total",
				Help: "Withdrawal lifecycle events by outcome.",
			},
			[]string{"outcome"},
		),
		webhookEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_webhook_events_total",
				Help: "Gateway webhook events by kind and outcome.",
			},
			[]string{"kind", "outcome"},
		),
		externalErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_external_errors_total",
				Help: "Total errors from external services.",
			},
			[]string{"service"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
	}
}

// RecordRequestDuration records the duration of an operation.
func (m *Metrics) RecordRequestDuration(operation string, d time.Duration) {
	m.operationDuration.WithLabelValues(operation).Observe(d.Seconds())
}

func (m *Metrics) IncrSettlement(path string) {
	m.settlements.WithLabelValues(path).Inc()
}

func (m *Metrics) IncrWithdrawal(outcome string) {
	m.withdrawals.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncrWebhookEvent(kind domain.EventKind, outcome string) {
	m.webhookEvents.WithLabelValues(string(kind), outcome).Inc()
}

// IncrExternalError increments the external error counter.
func (m *Metrics) IncrExternalError(service string) {
	m.externalErrors.WithLabelValues(service).Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// GetLedgerSnapshot returns cumulative counters for GET /v1/metrics/ledger.
func (m *Metrics) GetLedgerSnapshot() *domain.LedgerMetrics {
	hits := sumCounterVec(m.cacheHits)
	misses := sumCounterVec(m.cacheMisses)
	hitRate := float64(0)
	if hits+misses > 0 {
		hitRate = hits / (hits + misses)
	}

	return &domain.LedgerMetrics{
		SettlementsDirect:   int64(getCounterValue(m.settlements, PathDirect)),
		SettlementsWebhook:  int64(getCounterValue(m.settlements, PathWebhook)),
		WithdrawalsCreated:  int64(getCounterValue(m.withdrawals, OutcomeRequested)),
		WithdrawalsApproved: int64(getCounterValue(m.withdrawals, OutcomeApproved)),
		WithdrawalsRejected: int64(getCounterValue(m.withdrawals, OutcomeRejected)),
		InsufficientFunds:   int64(getCounterValue(m.withdrawals, OutcomeInsufficientFunds)),
		WebhookEvents:       int64(sumCounterVec(m.webhookEvents)),
		WebhookDuplicates:   int64(sumCounterVecWhere(m.webhookEvents, "outcome", WebhookDuplicate)),
		WebhookAnomalies:    int64(sumCounterVecWhere(m.webhookEvents, "outcome", WebhookAnomaly)),
		ExternalErrors:      int64(sumCounterVec(m.externalErrors)),
		CacheHitRate:        hitRate,
	}
}

// getCounterValue extracts the current float64 value from a CounterVec for a given label.
func getCounterValue(cv *prometheus.CounterVec, label string) float64 {
	counter := cv.WithLabelValues(label)
	m := &dto.Metric{}
	if err := counter.(prometheus.Metric).Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}

func sumCounterVec(cv *prometheus.CounterVec) float64 {
	return sumCounterVecWhere(cv, "", "")
}

// sumCounterVecWhere adds every child of cv, optionally only those whose
// label name equals value.
func sumCounterVecWhere(cv *prometheus.CounterVec, name, value string) float64 {
	ch := make(chan prometheus.Metric, 64)
	go func() {
		cv.Collect(ch)
		close(ch)
	}()

	total := float64(0)
	for metric := range ch {
		m := &dto.Metric{}
		if err := metric.Write(m); err != nil || m.Counter == nil {
			continue
		}
		if name != "" && !hasLabel(m, name, value) {
			continue
		}
		total += m.Counter.GetValue()
	}
	return total
}

func hasLabel(m *dto.Metric, name, value string) bool {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name && lp.GetValue() == value {
			return true
		}
	}
	return false
}
