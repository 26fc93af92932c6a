package domain_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boddenberg/pix-marketplace-ledger-go/internal/domain"
)

func TestReason_RoundTrip(t *testing.T) {
	r := domain.SaleReason("01J9TX")
	assert.Equal(t, "sale:01J9TX", r.String())

	parsed, err := domain.ParseReason(r.String())
	require.NoError(t, err)
	assert.Equal(t, r, parsed)

	_, err = domain.ParseReason("sale")
	assert.Error(t, err)
}

func TestReason_DirectionMustMatchKind(t *testing.T) {
	assert.NoError(t, domain.SaleReason("tx").Validate(domain.DirectionCredit))
	assert.Error(t, domain.SaleReason("tx").Validate(domain.DirectionDebit))
	assert.NoError(t, domain.WithdrawReserveReason("w").Validate(domain.DirectionDebit))
	assert.Error(t, domain.WithdrawReserveReason("w").Validate(domain.DirectionCredit))
	assert.Error(t, domain.Reason{Kind: "bonus", Ref: "x"}.Validate(domain.DirectionCredit))
	assert.Error(t, domain.Reason{Kind: domain.ReasonSale}.Validate(domain.DirectionCredit))
}

func TestValidatePosting(t *testing.T) {
	var ia *domain.ErrInvalidAmount
	err := domain.ValidatePosting("acc", domain.Zero, domain.SaleReason("tx"), domain.DirectionCredit)
	assert.True(t, errors.As(err, &ia))

	var ve *domain.ErrValidation
	err = domain.ValidatePosting("", domain.MoneyFromMinor(1), domain.SaleReason("tx"), domain.DirectionCredit)
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "account_id", ve.Field)
}

func TestApplyCreditAndDebit(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	b := &domain.Balance{AccountID: "seller-1"}

	e := domain.ApplyCredit(b, domain.MoneyFromMinor(9400), domain.SaleReason("tx-1"), now)
	assert.Equal(t, domain.DirectionCredit, e.Direction)
	assert.Equal(t, int64(9400), e.ResultingBalance.Minor())
	assert.Equal(t, int64(1), b.TotalSalesCount)

	_, err := domain.ApplyDebit(b, domain.MoneyFromMinor(9401), domain.WithdrawReserveReason("w1"), now)
	var insf *domain.ErrInsufficientFunds
	require.True(t, errors.As(err, &insf))
	assert.Equal(t, int64(9400), b.Available.Minor(), "failed debit must not touch the balance")

	e, err = domain.ApplyDebit(b, domain.MoneyFromMinor(4000), domain.WithdrawReserveReason("w1"), now)
	require.NoError(t, err)
	assert.Equal(t, int64(5400), e.ResultingBalance.Minor())

	// A reversal restores funds without counting as revenue.
	domain.ApplyCredit(b, domain.MoneyFromMinor(4000), domain.WithdrawReversalReason("w1"), now)
	assert.Equal(t, int64(9400), b.Available.Minor())
	assert.Equal(t, int64(9400), b.TotalReceived.Minor())

	domain.ApplyCredit(b, domain.MoneyFromMinor(100), domain.AdjustmentReason("fix"), now)
	assert.Equal(t, int64(9500), b.TotalReceived.Minor())
	assert.Equal(t, int64(1), b.TotalSalesCount)
}

func TestReplayEntries(t *testing.T) {
	now := time.Now().UTC()
	b := &domain.Balance{AccountID: "seller-1"}
	var entries []domain.LedgerEntry
	entries = append(entries, domain.ApplyCredit(b, domain.MoneyFromMinor(1000), domain.SaleReason("a"), now))
	entries = append(entries, domain.ApplyCredit(b, domain.MoneyFromMinor(500), domain.SaleReason("b"), now))
	d, err := domain.ApplyDebit(b, domain.MoneyFromMinor(700), domain.WithdrawReserveReason("w"), now)
	require.NoError(t, err)
	entries = append(entries, d)

	replayed, err := domain.ReplayEntries("seller-1", entries)
	require.NoError(t, err)
	assert.Equal(t, b.Available, replayed.Available)
	assert.Equal(t, b.TotalReceived, replayed.TotalReceived)
	assert.Equal(t, b.TotalSalesCount, replayed.TotalSalesCount)

	entries[1].ResultingBalance = domain.MoneyFromMinor(1)
	_, err = domain.ReplayEntries("seller-1", entries)
	assert.Error(t, err)
}
