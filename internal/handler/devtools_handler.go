package handler

import (
	"encoding/json"
	"net/http"

	"github.com/boddenberg/pix-marketplace-ledger-go/internal/domain"
	"github.com/boddenberg/pix-marketplace-ledger-go/internal/service"

	"go.uber.org/zap"
)

// ============================================================
// Dev Tools Handlers
// ============================================================

func devAdjustBalanceHandler(svc *service.MarketplaceService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/dev/adjust-balance")
		defer span.End()

		var req domain.AdjustBalanceRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		p, _ := PrincipalFromContext(ctx)
		resp, err := svc.AdjustBalance(ctx, p, &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		writeJSON(w, http.StatusOK, resp)
	}
}
