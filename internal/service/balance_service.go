package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/boddenberg/pix-marketplace-ledger-go/internal/domain"
)

var balanceTracer = otel.Tracer("service/balances")

// GetBalance returns the account's balance. A known seller that never had a
// posting has a zero balance.
func (s *MarketplaceService) GetBalance(ctx context.Context, p domain.Principal, accountID string) (*domain.Balance, error) {
	ctx, span := balanceTracer.Start(ctx, "MarketplaceService.GetBalance")
	defer span.End()
	span.SetAttributes(attribute.String("account.id", accountID))

	if err := requireActor(p, accountID, "read balance"); err != nil {
		return nil, err
	}

	b, err := s.ledger.GetBalance(ctx, accountID)
	var nf *domain.ErrNotFound
	if errors.As(err, &nf) {
		if _, accErr := s.getAccount(ctx, accountID); accErr != nil {
			return nil, accErr
		}
		return &domain.Balance{AccountID: accountID}, nil
	}
	return b, err
}

// ListLedgerEntries returns the account's audit trail in posting order.
func (s *MarketplaceService) ListLedgerEntries(ctx context.Context, p domain.Principal, accountID string) ([]domain.LedgerEntry, error) {
	ctx, span := balanceTracer.Start(ctx, "MarketplaceService.ListLedgerEntries")
	defer span.End()
	span.SetAttributes(attribute.String("account.id", accountID))

	if err := requireActor(p, accountID, "read ledger"); err != nil {
		return nil, err
	}
	return s.ledger.ListEntries(ctx, accountID)
}

// VerifyBalance replays the entry log and compares it with the stored balance.
func (s *MarketplaceService) VerifyBalance(ctx context.Context, p domain.Principal, accountID string) (*domain.BalanceVerification, error) {
	ctx, span := balanceTracer.Start(ctx, "MarketplaceService.VerifyBalance")
	defer span.End()
	span.SetAttributes(attribute.String("account.id", accountID))

	if err := requireAdmin(p, "verify balance"); err != nil {
		return nil, err
	}

	stored, err := s.GetBalance(ctx, p, accountID)
	if err != nil {
		return nil, err
	}
	entries, err := s.ledger.ListEntries(ctx, accountID)
	if err != nil {
		return nil, err
	}

	v := &domain.BalanceVerification{AccountID: accountID, Stored: stored, EntryCount: len(entries)}
	replayed, err := domain.ReplayEntries(accountID, entries)
	if err != nil {
		v.Problem = err.Error()
	} else {
		v.Replayed = replayed
		switch {
		case replayed.Available != stored.Available:
			v.Problem = fmt.Sprintf("available: stored %s, replayed %s", stored.Available, replayed.Available)
		case replayed.TotalReceived != stored.TotalReceived:
			v.Problem = fmt.Sprintf("total_received: stored %s, replayed %s", stored.TotalReceived, replayed.TotalReceived)
		case replayed.TotalSalesCount != stored.TotalSalesCount:
			v.Problem = fmt.Sprintf("total_sales_count: stored %d, replayed %d", stored.TotalSalesCount, replayed.TotalSalesCount)
		}
	}
	v.Consistent = v.Problem == ""

	if !v.Consistent {
		s.logger.Error("ledger verification failed",
			zap.String("account_id", accountID),
			zap.Int("entries", len(entries)),
			zap.String("problem", v.Problem),
		)
	}
	return v, nil
}

// AdjustBalance credits an account outside of any sale. Dev tools only.
// Reusing a reference is rejected by the ledger as a duplicate.
func (s *MarketplaceService) AdjustBalance(ctx context.Context, p domain.Principal, req *domain.AdjustBalanceRequest) (*domain.Balance, error) {
	ctx, span := balanceTracer.Start(ctx, "MarketplaceService.AdjustBalance")
	defer span.End()
	span.SetAttributes(attribute.String("account.id", req.AccountID), attribute.String("amount", req.Amount.String()))

	if err := requireAdmin(p, "adjust balance"); err != nil {
		return nil, err
	}
	accountID := strings.TrimSpace(req.AccountID)
	if accountID == "" {
		return nil, &domain.ErrValidation{Field: "account_id", Message: "required"}
	}
	if !req.Amount.IsPositive() {
		return nil, &domain.ErrInvalidAmount{Value: req.Amount.String(), Reason: "adjustment must be greater than zero"}
	}
	if _, err := s.getAccount(ctx, accountID); err != nil {
		return nil, err
	}

	ref := strings.TrimSpace(req.Reference)
	if ref == "" {
		ref = s.newRecordID()
	}
	b, err := s.ledger.Credit(ctx, accountID, req.Amount, domain.AdjustmentReason(ref))
	if err != nil {
		return nil, err
	}
	s.logger.Info("balance adjusted",
		zap.String("account_id", accountID),
		zap.String("amount", req.Amount.String()),
		zap.String("reference", ref),
		zap.String("by", p.Subject),
	)
	return b, nil
}
