package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/boddenberg/pix-marketplace-ledger-go/internal/domain"
	"github.com/boddenberg/pix-marketplace-ledger-go/internal/infra/client"
	"github.com/boddenberg/pix-marketplace-ledger-go/internal/infra/resilience"
)

var testCfg = resilience.Config{MaxRetries: 2, InitialBackoff: 5 * time.Millisecond, MaxConcurrency: 10}

func TestCatalogClient_GetProduct(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/products/prod-1" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id": "prod-1", "seller_account_id": "seller-1", "name": "Curso de Go", "price": "50.00",
		})
	}))
	defer srv.Close()

	c := client.NewCatalogClient(srv.Client(), srv.URL, resilience.NewCircuitBreaker("catalog-test"), testCfg)
	p, err := c.GetProduct(context.Background(), "prod-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.SellerAccountID != "seller-1" || p.Price.Minor() != 5000 {
		t.Errorf("unexpected product: %+v", p)
	}
}

func TestCatalogClient_NotFoundIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := client.NewCatalogClient(srv.Client(), srv.URL, resilience.NewCircuitBreaker("catalog-404"), testCfg)
	_, err := c.GetAccount(context.Background(), "ghost")

	var nf *domain.ErrNotFound
	if !errors.As(err, &nf) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if nf.Resource != "account" {
		t.Errorf("expected resource 'account', got '%s'", nf.Resource)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("expected 1 call, got %d", n)
	}
}

func TestCatalogClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(domain.Account{ID: "seller-1", Active: true})
	}))
	defer srv.Close()

	c := client.NewCatalogClient(srv.Client(), srv.URL, resilience.NewCircuitBreaker("catalog-retry"), testCfg)
	a, err := c.GetAccount(context.Background(), "seller-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !a.Active {
		t.Error("expected active account")
	}
}

func TestCatalogClient_ExternalError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := client.NewCatalogClient(srv.Client(), srv.URL, resilience.NewCircuitBreaker("catalog-500"), testCfg)
	_, err := c.GetProduct(context.Background(), "prod-1")

	var ext *domain.ErrExternalService
	if !errors.As(err, &ext) {
		t.Fatalf("expected ErrExternalService, got %v", err)
	}
}

func TestGatewayClient_CreateCharge(t *testing.T) {
	var gotKey, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("Idempotency-Key")
		gotAuth = r.Header.Get("Authorization")

		var req domain.ChargeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(domain.Charge{
			ID:        "ch_" + req.TransactionID,
			CopyPaste: "00020126580014br.gov.bcb.pix",
			ExpiresAt: time.Now().Add(30 * time.Minute),
		})
	}))
	defer srv.Close()

	c := client.NewGatewayClient(srv.Client(), srv.URL, "sk_test", resilience.NewCircuitBreaker("gw-test"), testCfg)
	charge, err := c.CreateCharge(context.Background(), &domain.ChargeRequest{
		TransactionID: "tx-1",
		Amount:        domain.MustParseMoney("50.00"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if charge.ID != "ch_tx-1" {
		t.Errorf("expected charge id 'ch_tx-1', got '%s'", charge.ID)
	}
	if gotKey != "tx-1" {
		t.Errorf("expected idempotency key 'tx-1', got '%s'", gotKey)
	}
	if gotAuth != "Bearer sk_test" {
		t.Errorf("unexpected authorization header '%s'", gotAuth)
	}
}

func TestGatewayClient_RejectionIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"code":"invalid_amount","message":"amount below minimum"}`))
	}))
	defer srv.Close()

	c := client.NewGatewayClient(srv.Client(), srv.URL, "", resilience.NewCircuitBreaker("gw-422"), testCfg)
	_, err := c.CreateCharge(context.Background(), &domain.ChargeRequest{TransactionID: "tx-1", Amount: domain.MustParseMoney("0.01")})

	var ext *domain.ErrExternalService
	if !errors.As(err, &ext) {
		t.Fatalf("expected ErrExternalService, got %v", err)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("expected 1 call, got %d", n)
	}
}
