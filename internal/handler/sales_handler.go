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
// Sales
// ============================================================

// createSaleHandler settles on creation, or opens a gateway charge when
// settlement is left to the webhook.
func createSaleHandler(svc *service.MarketplaceService, settleOnCreate bool, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/sales")
		defer span.End()

		var req domain.CreateSaleRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		span.SetAttributes(
			attribute.String("seller.id", req.SellerAccountID),
			attribute.Bool("sale.settle_on_create", settleOnCreate),
		)

		var (
			sale *domain.Sale
			err  error
		)
		if settleOnCreate {
			sale, err = svc.CreateSale(ctx, &req)
		} else {
			sale, err = svc.CreateCharge(ctx, &req)
		}
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, sale)
	}
}

func createChargeHandler(svc *service.MarketplaceService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/sales/charge")
		defer span.End()

		var req domain.CreateSaleRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		span.SetAttributes(attribute.String("seller.id", req.SellerAccountID))

		sale, err := svc.CreateCharge(ctx, &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, sale)
	}
}

func getSaleHandler(svc *service.MarketplaceService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/sales/{saleId}")
		defer span.End()

		saleID := chi.URLParam(r, "saleId")
		span.SetAttributes(attribute.String("sale.id", saleID))

		sale, err := svc.GetSale(ctx, saleID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, sale)
	}
}

func listSalesHandler(svc *service.MarketplaceService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/sellers/{sellerId}/sales")
		defer span.End()

		sellerID := chi.URLParam(r, "sellerId")
		span.SetAttributes(attribute.String("seller.id", sellerID))

		var status domain.SaleStatus
		if v := r.URL.Query().Get("status"); v != "" {
			parsed, err := domain.ParseSaleStatus(v)
			if err != nil {
				handleServiceError(w, err, logger)
				return
			}
			status = parsed
		}

		p, _ := PrincipalFromContext(ctx)
		sales, err := svc.ListSales(ctx, p, sellerID, status)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, listResponse(sales))
	}
}
