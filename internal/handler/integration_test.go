package handler_test

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/boddenberg/pix-marketplace-ledger-go/internal/domain"
	"github.com/boddenberg/pix-marketplace-ledger-go/internal/handler"
	"github.com/boddenberg/pix-marketplace-ledger-go/internal/infra/cache"
	"github.com/boddenberg/pix-marketplace-ledger-go/internal/infra/client"
	"github.com/boddenberg/pix-marketplace-ledger-go/internal/infra/memory"
	"github.com/boddenberg/pix-marketplace-ledger-go/internal/infra/observability"
	"github.com/boddenberg/pix-marketplace-ledger-go/internal/infra/resilience"
	"github.com/boddenberg/pix-marketplace-ledger-go/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const integrationSecret = "whsec_integration"

// --- Mock Catalog API ---

func catalogServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/accounts/seller-int":
			json.NewEncoder(w).Encode(domain.Account{ID: "seller-int", Name: "Loja Integração", Email: "int@loja.test", Active: true})
		case "/v1/products/prod-int":
			json.NewEncoder(w).Encode(map[string]any{
				"id": "prod-int", "seller_account_id": "seller-int", "name": "Mentoria", "price": "100.00",
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

// --- Mock Gateway API ---

func gatewayServer(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req domain.ChargeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if r.Header.Get("Idempotency-Key") != req.TransactionID {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(domain.Charge{
			ID:        "ch_" + req.TransactionID,
			CopyPaste: "00020126580014br.gov.bcb.pix",
			ExpiresAt: time.Now().Add(30 * time.Minute).UTC(),
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

type stack struct {
	router http.Handler
	auth   *service.AuthService
	svc    *service.MarketplaceService
}

func newStack(t *testing.T, gatewayCalls *atomic.Int32) *stack {
	t.Helper()

	catalog := catalogServer(t)
	gateway := gatewayServer(t, gatewayCalls)

	logger := zap.NewNop()
	metrics := observability.NewMetrics()
	cfg := resilience.Config{MaxRetries: 1, InitialBackoff: 10 * time.Millisecond, MaxConcurrency: 10}
	httpClient := &http.Client{Timeout: 5 * time.Second}

	catalogClient := client.NewCatalogClient(httpClient, catalog.URL, resilience.NewCircuitBreaker("catalog-int"), cfg)
	lookupCache := cache.New[any](time.Minute)
	t.Cleanup(lookupCache.Stop)

	svc := service.NewMarketplaceService(service.Dependencies{
		Ledger:      memory.NewLedgerStore(),
		Sales:       memory.NewSaleStore(),
		Withdrawals: memory.NewWithdrawalStore(),
		Events:      memory.NewEventStore(),
		Accounts:    catalogClient,
		Products:    catalogClient,
		Gateway:     client.NewGatewayClient(httpClient, gateway.URL, "gw-key", resilience.NewCircuitBreaker("gateway-int"), cfg),
		Cache:       lookupCache,
		Metrics:     metrics,
		Logger:      logger,
	}, service.Options{})
	auth := service.NewAuthService("integration-secret", time.Hour, "ops", "", logger)

	router := handler.NewRouter(svc, auth, handler.Options{WebhookSecret: integrationSecret}, metrics, logger)
	return &stack{router: router, auth: auth, svc: svc}
}

func (s *stack) token(t *testing.T, p domain.Principal) string {
	t.Helper()
	resp, err := s.auth.IssueToken(p)
	require.NoError(t, err)
	return resp.AccessToken
}

func (s *stack) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *stack) deliver(t *testing.T, event domain.WebhookEvent) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(event)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/pix", bytes.NewReader(payload))
	req.Header.Set(handler.SignatureHeader, "sha256="+hex.EncodeToString(handler.Sign([]byte(integrationSecret), payload)))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

// TestIntegration_ChargeSettleWithdraw drives a sale from charge to payout
// through the real HTTP clients.
func TestIntegration_ChargeSettleWithdraw(t *testing.T) {
	var gatewayCalls atomic.Int32
	s := newStack(t, &gatewayCalls)

	seller := s.token(t, domain.Principal{Subject: "seller-int", Role: domain.RoleSeller})
	admin := s.token(t, domain.Principal{Subject: "ops", Role: domain.RoleAdmin})

	// 1. Charge
	rec := s.do(t, http.MethodPost, "/v1/sales/charge", "", domain.CreateSaleRequest{
		ProductID:       "prod-int",
		SellerAccountID: "seller-int",
		GrossAmount:     domain.MustParseMoney("100.00"),
		Buyer:           domain.Buyer{Name: "Comprador", Email: "c@buyer.test"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	sale := decode[domain.Sale](t, rec)
	assert.Equal(t, domain.SaleStatusPending, sale.Status)
	assert.True(t, strings.HasPrefix(sale.ChargeID, "ch_"))
	assert.NotEmpty(t, sale.PixCopyPaste)
	assert.Equal(t, int32(1), gatewayCalls.Load())

	// Nothing credited until the gateway confirms.
	rec = s.do(t, http.MethodGet, "/v1/accounts/seller-int/balance", seller, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decode[domain.Balance](t, rec).Available.IsZero())

	// 2. Gateway confirms payment, then redelivers.
	paid := domain.WebhookEvent{EventID: "evt-int-1", Kind: domain.EventPaymentPaid, ReferenceID: sale.ChargeID}
	rec = s.deliver(t, paid)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, domain.AckSettled, decode[domain.Ack](t, rec).Result)

	rec = s.deliver(t, paid)
	require.Equal(t, http.StatusOK, rec.Code)
	ack := decode[domain.Ack](t, rec)
	assert.True(t, ack.Duplicate)
	assert.Equal(t, domain.AckReplayed, ack.Result)

	rec = s.do(t, http.MethodGet, "/v1/sales/"+sale.ID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.SaleStatusPaid, decode[domain.Sale](t, rec).Status)

	// 100.00 - (5% + 1.00) = 94.00
	rec = s.do(t, http.MethodGet, "/v1/accounts/seller-int/balance", seller, nil)
	balance := decode[domain.Balance](t, rec)
	assert.Equal(t, "94.00", balance.Available.String())
	assert.Equal(t, "94.00", balance.TotalReceived.String())
	assert.Equal(t, int64(1), balance.TotalSalesCount)

	// 3. Withdraw part of it.
	rec = s.do(t, http.MethodPost, "/v1/withdrawals", seller, domain.CreateWithdrawalRequest{
		Amount:      domain.MustParseMoney("50.00"),
		Destination: domain.Destination{PixKey: "int@loja.test", PixKeyType: "email"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	wr := decode[domain.WithdrawalRequest](t, rec)
	assert.Equal(t, domain.WithdrawalPending, wr.Status)

	rec = s.do(t, http.MethodGet, "/v1/accounts/seller-int/balance", seller, nil)
	assert.Equal(t, "44.00", decode[domain.Balance](t, rec).Available.String())

	rec = s.do(t, http.MethodPost, "/v1/withdrawals/"+wr.ID+"/approve", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, domain.WithdrawalApproved, decode[domain.WithdrawalRequest](t, rec).Status)

	// 4. Ledger replays to the stored balance.
	rec = s.do(t, http.MethodGet, "/v1/accounts/seller-int/ledger/verify", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	verification := decode[domain.BalanceVerification](t, rec)
	assert.True(t, verification.Consistent)

	s.svc.Wait()
}

// TestIntegration_UnknownProduct maps a catalog 404 to a 404 without calling the gateway.
func TestIntegration_UnknownProduct(t *testing.T) {
	var gatewayCalls atomic.Int32
	s := newStack(t, &gatewayCalls)

	rec := s.do(t, http.MethodPost, "/v1/sales/charge", "", domain.CreateSaleRequest{
		ProductID:       "prod-ghost",
		SellerAccountID: "seller-int",
		GrossAmount:     domain.MustParseMoney("10.00"),
		Buyer:           domain.Buyer{Name: "Comprador"},
	})

	assert.Equal(t, http.StatusNotFound, rec.Code, rec.Body.String())
	assert.Zero(t, gatewayCalls.Load())
}
