package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/boddenberg/pix-marketplace-ledger-go/internal/domain"
	"github.com/boddenberg/pix-marketplace-ledger-go/internal/infra/observability"
)

var webhookTracer = otel.Tracer("service/webhooks")

// HandleWebhook reconciles one gateway event. A returned Ack means the gateway
// may stop delivering the event; an error means it should retry. The event id
// is recorded as consumed only after its effects are durable, and every effect
// is guarded by the sale status, so redelivery after a partial failure is safe.
func (s *MarketplaceService) HandleWebhook(ctx context.Context, evt *domain.WebhookEvent) (*domain.Ack, error) {
	start := time.Now()
	ctx, span := webhookTracer.Start(ctx, "MarketplaceService.HandleWebhook")
	defer span.End()
	defer func() { s.metrics.RecordRequestDuration("handle_webhook", time.Since(start)) }()

	if err := evt.Validate(); err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.String("event.id", evt.EventID),
		attribute.String("event.kind", string(evt.Kind)),
		attribute.String("event.reference_id", evt.ReferenceID),
	)
	log := s.logger.With(
		zap.String("event_id", evt.EventID),
		zap.String("kind", string(evt.Kind)),
		zap.String("reference_id", evt.ReferenceID),
	)

	unlock := s.eventLocks.Lock(evt.EventID)
	consumed, err := s.events.IsConsumed(ctx, evt.EventID)
	if err != nil {
		unlock()
		s.metrics.IncrWebhookEvent(evt.Kind, observability.WebhookError)
		return nil, fmt.Errorf("check consumed event: %w", err)
	}
	if consumed {
		unlock()
		s.metrics.IncrWebhookEvent(evt.Kind, observability.WebhookDuplicate)
		log.Info("webhook replay ignored")
		return &domain.Ack{EventID: evt.EventID, Duplicate: true, Result: domain.AckReplayed}, nil
	}

	ack, settled, err := s.dispatch(ctx, evt, log)
	if err == nil {
		if markErr := s.events.MarkConsumed(ctx, evt.EventID, s.now()); markErr != nil {
			err = fmt.Errorf("mark event consumed: %w", markErr)
		}
	}
	unlock()

	if err != nil {
		s.metrics.IncrWebhookEvent(evt.Kind, observability.WebhookError)
		log.Error("webhook handling failed", zap.Error(err))
		return nil, err
	}

	if ack.Anomaly != "" {
		s.metrics.IncrWebhookEvent(evt.Kind, observability.WebhookAnomaly)
	} else {
		s.metrics.IncrWebhookEvent(evt.Kind, observability.WebhookProcessed)
	}
	if settled != nil {
		s.notifySettled(ctx, settled)
	}
	return ack, nil
}

// dispatch applies the event to its sale. settled is non-nil only when this
// call credited the seller.
func (s *MarketplaceService) dispatch(ctx context.Context, evt *domain.WebhookEvent, log *zap.Logger) (*domain.Ack, *domain.Sale, error) {
	ack := &domain.Ack{EventID: evt.EventID}

	sale, err := s.sales.GetByChargeID(ctx, evt.ReferenceID)
	if err != nil {
		var nf *domain.ErrNotFound
		if errors.As(err, &nf) {
			log.Warn("webhook anomaly: unknown reference")
			ack.Result = domain.AckIgnored
			ack.Anomaly = "unknown reference"
			return ack, nil, nil
		}
		return nil, nil, fmt.Errorf("resolve sale: %w", err)
	}
	ack.SaleID = sale.ID
	log = log.With(zap.String("sale_id", sale.ID))

	switch evt.Kind {
	case domain.EventPaymentPaid:
		paid, outcome, err := s.settle(ctx, sale.ID, observability.PathWebhook)
		if err != nil {
			var stateErr *domain.ErrInvalidState
			if errors.As(err, &stateErr) {
				// Money arrived for a sale already closed; retrying cannot fix it.
				log.Warn("webhook anomaly: payment confirmed for closed sale", zap.String("status", stateErr.State))
				ack.Result = domain.AckIgnored
				ack.Anomaly = "payment for " + stateErr.State + " sale"
				return ack, nil, nil
			}
			return nil, nil, err
		}
		if outcome == alreadySettled {
			log.Info("webhook: sale already paid")
			ack.Result = domain.AckNoop
			return ack, nil, nil
		}
		ack.Result = domain.AckSettled
		return ack, paid, nil

	case domain.EventPaymentExpired:
		return s.closeSale(ctx, sale, domain.SaleStatusExpired, domain.AckExpired, ack, log)

	case domain.EventPaymentCancelled:
		return s.closeSale(ctx, sale, domain.SaleStatusFailed, domain.AckFailed, ack, log)
	}
	return nil, nil, &domain.ErrValidation{Field: "kind", Message: fmt.Sprintf("unsupported event kind '%s'", evt.Kind)}
}

// closeSale moves a Pending sale to a terminal non-paid status. No credit was
// ever issued for it, so the ledger is untouched.
func (s *MarketplaceService) closeSale(ctx context.Context, sale *domain.Sale, to domain.SaleStatus, result string, ack *domain.Ack, log *zap.Logger) (*domain.Ack, *domain.Sale, error) {
	unlock := s.saleLocks.Lock(sale.ID)
	defer unlock()

	_, err := s.sales.TransitionStatus(ctx, sale.ID, domain.SaleStatusPending, to, s.now())
	var stateErr *domain.ErrInvalidState
	switch {
	case err == nil:
		log.Info("sale closed by gateway", zap.String("status", string(to)))
		ack.Result = result
	case errors.As(err, &stateErr):
		log.Info("webhook: sale already closed", zap.String("status", stateErr.State))
		ack.Result = domain.AckNoop
	default:
		return nil, nil, fmt.Errorf("close sale: %w", err)
	}
	return ack, nil, nil
}
