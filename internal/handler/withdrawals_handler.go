package handler

import (
	"encoding/json"
	"net/http"

	"github.com/boddenberg/pix-marketplace-ledger-go/internal/domain"
	"github.com/boddenberg/pix-marketplace-ledger-go/internal/service"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Withdrawals
// ============================================================

func requestWithdrawalHandler(svc *service.MarketplaceService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/withdrawals")
		defer span.End()

		var req domain.CreateWithdrawalRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		p, _ := PrincipalFromContext(ctx)
		// Sellers may omit their own account id.
		if req.SellerAccountID == "" && !p.IsAdmin() {
			req.SellerAccountID = p.Subject
		}
		span.SetAttributes(attribute.String("seller.id", req.SellerAccountID))

		wr, err := svc.RequestWithdrawal(ctx, p, &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, wr)
	}
}

func listWithdrawalsHandler(svc *service.MarketplaceService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/withdrawals")
		defer span.End()

		var status domain.WithdrawalStatus
		if v := r.URL.Query().Get("status"); v != "" {
			parsed, err := domain.ParseWithdrawalStatus(v)
			if err != nil {
				handleServiceError(w, err, logger)
				return
			}
			status = parsed
		}

		p, _ := PrincipalFromContext(ctx)
		list, err := svc.ListWithdrawals(ctx, p, status)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, listResponse(list))
	}
}

func getWithdrawalHandler(svc *service.MarketplaceService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/withdrawals/{id}")
		defer span.End()

		id := chi.URLParam(r, "id")
		span.SetAttributes(attribute.String("withdrawal.id", id))

		p, _ := PrincipalFromContext(ctx)
		wr, err := svc.GetWithdrawal(ctx, p, id)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, wr)
	}
}

func approveWithdrawalHandler(svc *service.MarketplaceService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/withdrawals/{id}/approve")
		defer span.End()

		id := chi.URLParam(r, "id")
		span.SetAttributes(attribute.String("withdrawal.id", id))

		p, _ := PrincipalFromContext(ctx)
		wr, err := svc.ApproveWithdrawal(ctx, p, id)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, wr)
	}
}

func rejectWithdrawalHandler(svc *service.MarketplaceService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/withdrawals/{id}/reject")
		defer span.End()

		id := chi.URLParam(r, "id")
		span.SetAttributes(attribute.String("withdrawal.id", id))

		var req domain.RejectWithdrawalRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		p, _ := PrincipalFromContext(ctx)
		wr, err := svc.RejectWithdrawal(ctx, p, id, req.Reason)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, wr)
	}
}
