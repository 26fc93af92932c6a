package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/boddenberg/pix-marketplace-ledger-go/internal/domain"
	"github.com/boddenberg/pix-marketplace-ledger-go/internal/infra/observability"
)

var withdrawalTracer = otel.Tracer("service/withdrawals")

// RequestWithdrawal reserves amount from the seller's available balance and
// records a Pending request. The reservation is the ledger debit itself, so two
// concurrent requests can never reserve more than the balance holds.
func (s *MarketplaceService) RequestWithdrawal(ctx context.Context, p domain.Principal, req *domain.CreateWithdrawalRequest) (*domain.WithdrawalRequest, error) {
	start := time.Now()
	ctx, span := withdrawalTracer.Start(ctx, "MarketplaceService.RequestWithdrawal")
	defer span.End()
	defer func() { s.metrics.RecordRequestDuration("request_withdrawal", time.Since(start)) }()

	sellerID := strings.TrimSpace(req.SellerAccountID)
	span.SetAttributes(attribute.String("seller.id", sellerID), attribute.String("amount", req.Amount.String()))

	if sellerID == "" {
		return nil, &domain.ErrValidation{Field: "seller_account_id", Message: "required"}
	}
	if err := requireActor(p, sellerID, "request withdrawal"); err != nil {
		return nil, err
	}
	if !req.Amount.IsPositive() {
		return nil, &domain.ErrInvalidAmount{Value: req.Amount.String(), Reason: "withdrawal amount must be greater than zero"}
	}
	if err := req.Destination.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.getAccount(ctx, sellerID); err != nil {
		return nil, err
	}

	id := s.newRecordID()
	log := s.logger.With(
		zap.String("withdrawal_id", id),
		zap.String("account_id", sellerID),
		zap.String("amount", req.Amount.String()),
	)

	if _, err := s.ledger.Debit(ctx, sellerID, req.Amount, domain.WithdrawReserveReason(id)); err != nil {
		var insufficient *domain.ErrInsufficientFunds
		if errors.As(err, &insufficient) {
			s.metrics.IncrWithdrawal(observability.OutcomeInsufficientFunds)
			log.Info("withdrawal refused: insufficient funds", zap.String("available", insufficient.Available.String()))
		}
		return nil, err
	}

	now := s.now()
	w := &domain.WithdrawalRequest{
		ID:              id,
		SellerAccountID: sellerID,
		Amount:          req.Amount,
		Destination:     req.Destination,
		Status:          domain.WithdrawalPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.withdrawals.Create(ctx, w); err != nil {
		// The reserve must not outlive a request that was never recorded.
		if _, revErr := s.ledger.Credit(ctx, sellerID, req.Amount, domain.WithdrawReversalReason(id)); revErr != nil {
			log.Error("withdrawal not persisted and reserve not reversed", zap.NamedError("cause", err), zap.Error(revErr))
			return nil, fmt.Errorf("persist withdrawal: %w (reversal failed: %v)", err, revErr)
		}
		log.Error("withdrawal not persisted, reserve reversed", zap.Error(err))
		return nil, fmt.Errorf("persist withdrawal: %w", err)
	}

	s.metrics.IncrWithdrawal(observability.OutcomeRequested)
	log.Info("withdrawal requested")
	return w, nil
}

// ApproveWithdrawal authorizes the payout. Funds already left available at
// request time, so the ledger is not touched.
func (s *MarketplaceService) ApproveWithdrawal(ctx context.Context, p domain.Principal, id string) (*domain.WithdrawalRequest, error) {
	start := time.Now()
	ctx, span := withdrawalTracer.Start(ctx, "MarketplaceService.ApproveWithdrawal")
	defer span.End()
	defer func() { s.metrics.RecordRequestDuration("approve_withdrawal", time.Since(start)) }()
	span.SetAttributes(attribute.String("withdrawal.id", id))

	if err := requireAdmin(p, "approve withdrawal"); err != nil {
		return nil, err
	}

	approved, err := s.decide(ctx, id, func(w *domain.WithdrawalRequest) (*domain.WithdrawalRequest, error) {
		return s.withdrawals.Transition(ctx, id, domain.WithdrawalTransition{
			From:      domain.WithdrawalPending,
			To:        domain.WithdrawalApproved,
			DecidedBy: p.Subject,
			At:        s.now(),
		})
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncrWithdrawal(observability.OutcomeApproved)
	s.logger.Info("withdrawal approved",
		zap.String("withdrawal_id", id),
		zap.String("account_id", approved.SellerAccountID),
		zap.String("amount", approved.Amount.String()),
		zap.String("decided_by", p.Subject),
	)
	s.notify(ctx, domain.Notification{
		Kind:        domain.NotifyWithdrawalApproved,
		AccountID:   approved.SellerAccountID,
		Subject:     "Saque aprovado",
		Body:        fmt.Sprintf("Seu saque de %s foi aprovado e será enviado ao destino informado.", approved.Amount.Format()),
		ReferenceID: approved.ID,
		Attributes:  map[string]string{"amount": approved.Amount.String()},
	})
	return approved, nil
}

// RejectWithdrawal returns the reserved funds and records the reason.
//
// The status moves to Rejected first, then the reversal is credited. If the
// credit fails the request is put back to Pending so it can be decided again.
// Crediting first would let a concurrent approval in another process pay out
// funds that were also returned to the balance.
func (s *MarketplaceService) RejectWithdrawal(ctx context.Context, p domain.Principal, id, reason string) (*domain.WithdrawalRequest, error) {
	start := time.Now()
	ctx, span := withdrawalTracer.Start(ctx, "MarketplaceService.RejectWithdrawal")
	defer span.End()
	defer func() { s.metrics.RecordRequestDuration("reject_withdrawal", time.Since(start)) }()
	span.SetAttributes(attribute.String("withdrawal.id", id))

	if err := requireAdmin(p, "reject withdrawal"); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, &domain.ErrValidation{Field: "reason", Message: "required"}
	}

	rejected, err := s.decide(ctx, id, func(w *domain.WithdrawalRequest) (*domain.WithdrawalRequest, error) {
		rejected, err := s.withdrawals.Transition(ctx, id, domain.WithdrawalTransition{
			From:            domain.WithdrawalPending,
			To:              domain.WithdrawalRejected,
			RejectionReason: reason,
			DecidedBy:       p.Subject,
			At:              s.now(),
		})
		if err != nil {
			return nil, err
		}

		_, err = s.ledger.Credit(ctx, w.SellerAccountID, w.Amount, domain.WithdrawReversalReason(w.ID))
		var dup *domain.ErrDuplicate
		if err == nil || errors.As(err, &dup) {
			return rejected, nil
		}

		log := s.logger.With(zap.String("withdrawal_id", id), zap.String("account_id", w.SellerAccountID))
		if _, rbErr := s.withdrawals.Transition(ctx, id, domain.WithdrawalTransition{
			From: domain.WithdrawalRejected,
			To:   domain.WithdrawalPending,
			At:   s.now(),
		}); rbErr != nil {
			log.Error("withdrawal rejected without reversal", zap.NamedError("cause", err), zap.Error(rbErr))
			return nil, fmt.Errorf("reverse withdrawal reserve: %w (rollback failed: %v)", err, rbErr)
		}
		log.Warn("withdrawal reversal failed, request back to pending", zap.Error(err))
		return nil, fmt.Errorf("reverse withdrawal reserve: %w", err)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncrWithdrawal(observability.OutcomeRejected)
	s.logger.Info("withdrawal rejected",
		zap.String("withdrawal_id", id),
		zap.String("account_id", rejected.SellerAccountID),
		zap.String("amount", rejected.Amount.String()),
		zap.String("decided_by", p.Subject),
		zap.String("reason", reason),
	)
	s.notify(ctx, domain.Notification{
		Kind:        domain.NotifyWithdrawalRejected,
		AccountID:   rejected.SellerAccountID,
		Subject:     "Saque recusado",
		Body:        fmt.Sprintf("Seu saque de %s foi recusado: %s. O valor voltou para o seu saldo.", rejected.Amount.Format(), reason),
		ReferenceID: rejected.ID,
		Attributes:  map[string]string{"amount": rejected.Amount.String(), "reason": reason},
	})
	return rejected, nil
}

// decide runs apply on a Pending request while holding its lock.
func (s *MarketplaceService) decide(ctx context.Context, id string, apply func(*domain.WithdrawalRequest) (*domain.WithdrawalRequest, error)) (*domain.WithdrawalRequest, error) {
	unlock := s.withdrawalLocks.Lock(id)
	defer unlock()

	w, err := s.withdrawals.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if w.Status != domain.WithdrawalPending {
		return nil, &domain.ErrInvalidState{Resource: "withdrawal", ID: id, State: string(w.Status), Action: "decide"}
	}
	return apply(w)
}

// ============================================================
// Queries
// ============================================================

// GetWithdrawal returns a request visible to its seller or an admin.
func (s *MarketplaceService) GetWithdrawal(ctx context.Context, p domain.Principal, id string) (*domain.WithdrawalRequest, error) {
	ctx, span := withdrawalTracer.Start(ctx, "MarketplaceService.GetWithdrawal")
	defer span.End()
	span.SetAttributes(attribute.String("withdrawal.id", id))

	w, err := s.withdrawals.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.CanActFor(w.SellerAccountID) {
		// Same answer as a missing id so ids cannot be probed.
		return nil, &domain.ErrNotFound{Resource: "withdrawal", ID: id}
	}
	return w, nil
}

// ListWithdrawals is the approval queue. Admins see every seller; a seller
// sees only its own requests.
func (s *MarketplaceService) ListWithdrawals(ctx context.Context, p domain.Principal, status domain.WithdrawalStatus) ([]domain.WithdrawalRequest, error) {
	ctx, span := withdrawalTracer.Start(ctx, "MarketplaceService.ListWithdrawals")
	defer span.End()
	span.SetAttributes(attribute.String("status", string(status)))

	seller := ""
	if !p.IsAdmin() {
		seller = p.Subject
	}
	return s.withdrawals.List(ctx, seller, status)
}
