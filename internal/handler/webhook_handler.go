package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/boddenberg/pix-marketplace-ledger-go/internal/domain"
	"github.com/boddenberg/pix-marketplace-ledger-go/internal/service"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Gateway webhooks: POST /v1/webhooks/pix
// ============================================================

// pixWebhookHandler answers 200 with an Ack whenever the gateway can stop
// redelivering the event, and an error status when it should retry.
func pixWebhookHandler(svc *service.MarketplaceService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/webhooks/pix")
		defer span.End()

		var evt domain.WebhookEvent
		if err := json.NewDecoder(r.Body).Decode(&evt); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		evt.ReceivedAt = time.Now().UTC()
		span.SetAttributes(
			attribute.String("event.id", evt.EventID),
			attribute.String("event.kind", string(evt.Kind)),
		)

		ack, err := svc.HandleWebhook(ctx, &evt)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, ack)
	}
}
