package domain

// ============================================================
// Health & Metrics API Responses
// ============================================================

// HealthStatus is returned by GET /healthz.
type HealthStatus struct {
	Status     string            `json:"status"` // healthy, degraded, unhealthy
	Components []ComponentHealth `json:"components"`
}

// ComponentHealth represents one dependency probe.
type ComponentHealth struct {
	Name      string `json:"name"`
	Status    string `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// LedgerMetrics is returned by GET /v1/metrics/ledger.
type LedgerMetrics struct {
	SettlementsDirect   int64   `json:"settlements_direct"`
	SettlementsWebhook  int64   `json:"settlements_webhook"`
	WithdrawalsCreated  int64   `json:"withdrawals_requested"`
	WithdrawalsApproved int64   `json:"withdrawals_approved"`
	WithdrawalsRejected int64   `json:"withdrawals_rejected"`
	InsufficientFunds   int64   `json:"withdrawals_insufficient_funds"`
	WebhookEvents       int64   `json:"webhook_events"`
	WebhookDuplicates   int64   `json:"webhook_duplicates"`
	WebhookAnomalies    int64   `json:"webhook_anomalies"`
	ExternalErrors      int64   `json:"external_errors"`
	CacheHitRate        float64 `json:"cache_hit_rate"`
}

// ============================================================
// Generic API Response wrappers
// ============================================================

// ListResponse wraps list results.
type ListResponse[T any] struct {
	Data  []T `json:"data"`
	Total int `json:"total"`
}
