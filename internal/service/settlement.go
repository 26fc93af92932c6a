package service

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/boddenberg/pix-marketplace-ledger-go/internal/domain"
	"github.com/boddenberg/pix-marketplace-ledger-go/internal/infra/resilience"
)

// incompleteSettlement means the seller was credited but the sale could not be
// marked Paid. The sale stays Pending; the next settle for it finds the credit
// already posted and only completes the transition.
type incompleteSettlement struct {
	saleID string
	err    error
}

func (e *incompleteSettlement) Error() string {
	return fmt.Sprintf("sale %s credited but not marked paid: %v", e.saleID, e.err)
}

func (e *incompleteSettlement) Unwrap() error { return e.err }

// settleOutcome tells the caller what settle actually did.
type settleOutcome int

const (
	settledNow settleOutcome = iota
	alreadySettled
)

// settle is the single settlement routine for both sale paths. It credits the
// seller with the sale's net amount under reason "sale:<transactionId>" and
// moves the sale Pending -> Paid.
//
// The credit goes first. The ledger accepts a reason once per account, so a
// repeated attempt for the same sale (a crash between credit and transition,
// a concurrent webhook in another process) hits ErrDuplicate and simply
// completes the transition. The transition itself is compare-and-set.
func (s *MarketplaceService) settle(ctx context.Context, saleID, path string) (*domain.Sale, settleOutcome, error) {
	ctx, span := tracer.Start(ctx, "MarketplaceService.settle")
	defer span.End()
	span.SetAttributes(attribute.String("sale.id", saleID), attribute.String("settlement.path", path))

	unlock := s.saleLocks.Lock(saleID)
	defer unlock()

	sale, err := s.sales.Get(ctx, saleID)
	if err != nil {
		return nil, 0, err
	}
	switch sale.Status {
	case domain.SaleStatusPaid:
		return sale, alreadySettled, nil
	case domain.SaleStatusPending:
	default:
		return sale, 0, &domain.ErrInvalidState{Resource: "sale", ID: sale.ID, State: string(sale.Status), Action: "settle"}
	}

	log := s.logger.With(
		zap.String("sale_id", sale.ID),
		zap.String("transaction_id", sale.TransactionID),
		zap.String("account_id", sale.SellerAccountID),
		zap.String("path", path),
	)

	// A sale whose commission consumes the whole gross has nothing to credit.
	credited := false
	if sale.NetAmount.IsPositive() {
		_, err := s.ledger.Credit(ctx, sale.SellerAccountID, sale.NetAmount, domain.SaleReason(sale.TransactionID))
		var dup *domain.ErrDuplicate
		switch {
		case errors.As(err, &dup):
			log.Info("settlement: sale already credited, completing transition")
		case err != nil:
			return sale, 0, fmt.Errorf("credit seller: %w", err)
		}
		credited = true
	}

	var paid *domain.Sale
	err = resilience.RetryWithBackoff(ctx, s.settleRetry, func() error {
		var txErr error
		paid, txErr = s.sales.TransitionStatus(ctx, sale.ID, domain.SaleStatusPending, domain.SaleStatusPaid, s.now())
		var stateErr *domain.ErrInvalidState
		if errors.As(txErr, &stateErr) {
			return resilience.Permanent(txErr)
		}
		return txErr
	})
	if err != nil {
		var stateErr *domain.ErrInvalidState
		if errors.As(err, &stateErr) {
			// Lost the race to another process; a Paid winner credited under the same reason.
			current, getErr := s.sales.Get(ctx, sale.ID)
			if getErr == nil && current.Status == domain.SaleStatusPaid {
				return current, alreadySettled, nil
			}
			log.Error("settlement: sale left pending state after credit", zap.Error(err))
			return sale, 0, fmt.Errorf("mark sale paid: %w", err)
		}
		if !credited {
			return sale, 0, fmt.Errorf("mark sale paid: %w", err)
		}
		log.Error("settlement: credit posted but sale still pending", zap.Error(err))
		return sale, 0, &incompleteSettlement{saleID: sale.ID, err: err}
	}

	s.metrics.IncrSettlement(path)
	log.Info("sale settled",
		zap.String("amount", paid.NetAmount.String()),
		zap.String("commission", paid.Commission.String()),
	)
	return paid, settledNow, nil
}

// notifySettled runs after settle has released the sale lock.
func (s *MarketplaceService) notifySettled(ctx context.Context, sale *domain.Sale) {
	s.notify(ctx, domain.Notification{
		Kind:        domain.NotifySaleSettled,
		AccountID:   sale.SellerAccountID,
		Subject:     "Venda confirmada",
		Body:        fmt.Sprintf("Pagamento PIX confirmado. %s creditado no seu saldo.", sale.NetAmount.Format()),
		ReferenceID: sale.ID,
		Attributes: map[string]string{
			"transaction_id": sale.TransactionID,
			"gross_amount":   sale.GrossAmount.String(),
			"net_amount":     sale.NetAmount.String(),
		},
	})
}
