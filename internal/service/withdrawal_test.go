package service_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boddenberg/pix-marketplace-ledger-go/internal/domain"
	"github.com/boddenberg/pix-marketplace-ledger-go/internal/port"
)

func withdrawalRequest(amount string) *domain.CreateWithdrawalRequest {
	return &domain.CreateWithdrawalRequest{
		SellerAccountID: sellerID,
		Amount:          domain.MustParseMoney(amount),
		Destination:     domain.Destination{PixKey: "um@loja.test", PixKeyType: "email"},
	}
}

func TestWithdrawal_DrainsBalanceThenRefuses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, sellerID, "100.00")
	_, err := f.svc.CreateSale(ctx, saleRequest("50.00"))
	require.NoError(t, err)
	require.Equal(t, "145.50", f.available(t, sellerID))

	w, err := f.svc.RequestWithdrawal(ctx, seller, withdrawalRequest("145.50"))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	assert.Equal(t, domain.WithdrawalPending, w.Status)
	assert.Equal(t, "0.00", f.available(t, sellerID))

	_, err = f.svc.RequestWithdrawal(ctx, seller, withdrawalRequest("0.01"))
	var insufficient *domain.ErrInsufficientFunds
	require.ErrorAs(t, err, &insufficient)

	list, err := f.svc.ListWithdrawals(ctx, admin, "")
	require.NoError(t, err)
	assert.Len(t, list, 1, "a refused request is never recorded")
	assert.Equal(t, int64(1), f.metrics.GetLedgerSnapshot().InsufficientFunds)
}

func TestWithdrawal_RequestValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, sellerID, "10.00")

	_, err := f.svc.RequestWithdrawal(ctx, seller, withdrawalRequest("0.00"))
	var invalid *domain.ErrInvalidAmount
	require.ErrorAs(t, err, &invalid)

	req := withdrawalRequest("1.00")
	req.Destination = domain.Destination{BankCode: "260"}
	_, err = f.svc.RequestWithdrawal(ctx, seller, req)
	var validation *domain.ErrValidation
	require.ErrorAs(t, err, &validation)

	other := domain.Principal{Subject: otherSeller, Role: domain.RoleSeller}
	_, err = f.svc.RequestWithdrawal(ctx, other, withdrawalRequest("1.00"))
	var forbidden *domain.ErrForbidden
	require.ErrorAs(t, err, &forbidden)

	assert.Equal(t, "10.00", f.available(t, sellerID))
}

func TestWithdrawal_RejectRestoresBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, sellerID, "80.00")

	w, err := f.svc.RequestWithdrawal(ctx, seller, withdrawalRequest("30.00"))
	require.NoError(t, err)
	require.Equal(t, "50.00", f.available(t, sellerID))

	_, err = f.svc.RejectWithdrawal(ctx, admin, w.ID, "   ")
	var validation *domain.ErrValidation
	require.ErrorAs(t, err, &validation, "reason is required")

	rejected, err := f.svc.RejectWithdrawal(ctx, admin, w.ID, "dados bancários divergentes")
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawalRejected, rejected.Status)
	assert.Equal(t, "dados bancários divergentes", rejected.RejectionReason)
	assert.Equal(t, "ops", rejected.DecidedBy)
	assert.Equal(t, "80.00", f.available(t, sellerID))

	// Second decision is refused and the ledger is untouched.
	_, err = f.svc.RejectWithdrawal(ctx, admin, w.ID, "again")
	var state *domain.ErrInvalidState
	require.ErrorAs(t, err, &state)
	_, err = f.svc.ApproveWithdrawal(ctx, admin, w.ID)
	require.ErrorAs(t, err, &state)
	assert.Equal(t, "80.00", f.available(t, sellerID))

	entries, err := f.ledger.ListEntries(ctx, sellerID)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestWithdrawal_ApproveKeepsFundsReserved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, sellerID, "80.00")

	w, err := f.svc.RequestWithdrawal(ctx, seller, withdrawalRequest("30.00"))
	require.NoError(t, err)

	_, err = f.svc.ApproveWithdrawal(ctx, seller, w.ID)
	var forbidden *domain.ErrForbidden
	require.ErrorAs(t, err, &forbidden, "sellers cannot approve")

	approved, err := f.svc.ApproveWithdrawal(ctx, admin, w.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawalApproved, approved.Status)
	assert.Equal(t, "50.00", f.available(t, sellerID))

	_, err = f.svc.ApproveWithdrawal(ctx, admin, w.ID)
	var state *domain.ErrInvalidState
	require.ErrorAs(t, err, &state)
	_, err = f.svc.RejectWithdrawal(ctx, admin, w.ID, "late")
	require.ErrorAs(t, err, &state)
	assert.Equal(t, "50.00", f.available(t, sellerID))

	f.svc.Wait()
	sent := f.notifier.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, domain.NotifyWithdrawalApproved, sent[0].Kind)
	assert.Equal(t, "um@loja.test", sent[0].Email)
}

func TestWithdrawal_UnknownID(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.ApproveWithdrawal(context.Background(), admin, "ghost")
	var nf *domain.ErrNotFound
	require.ErrorAs(t, err, &nf)
}

func TestWithdrawal_RejectCreditFailureLeavesRequestPending(t *testing.T) {
	boom := errors.New("ledger unavailable")
	f := newFixture(t, withLedger(func(l port.LedgerStore) port.LedgerStore {
		return &flakyLedger{LedgerStore: l, failKind: domain.ReasonWithdrawReversal, err: boom}
	}))
	ctx := context.Background()
	f.seed(t, sellerID, "40.00")

	w, err := f.svc.RequestWithdrawal(ctx, seller, withdrawalRequest("40.00"))
	require.NoError(t, err)

	_, err = f.svc.RejectWithdrawal(ctx, admin, w.ID, "fraude")
	require.ErrorIs(t, err, boom)

	got, err := f.svc.GetWithdrawal(ctx, admin, w.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawalPending, got.Status)
	assert.Equal(t, "0.00", f.available(t, sellerID))
}

func TestWithdrawal_NotificationFailureDoesNotFailDecision(t *testing.T) {
	f := newFixture(t)
	f.notifier.err = errors.New("smtp down")
	ctx := context.Background()
	f.seed(t, sellerID, "10.00")

	w, err := f.svc.RequestWithdrawal(ctx, seller, withdrawalRequest("10.00"))
	require.NoError(t, err)
	_, err = f.svc.RejectWithdrawal(ctx, admin, w.ID, "conta encerrada")
	require.NoError(t, err)

	f.svc.Wait()
	assert.Len(t, f.notifier.Sent(), 1)
	assert.Equal(t, "10.00", f.available(t, sellerID))
}

func TestWithdrawal_ConcurrentRequestsNeverOverdraw(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, sellerID, "100.00")

	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
		refused   atomic.Int32
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.RequestWithdrawal(ctx, seller, withdrawalRequest("7.00"))
			var insufficient *domain.ErrInsufficientFunds
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.As(err, &insufficient):
				refused.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(14), succeeded.Load())
	assert.Equal(t, int32(36), refused.Load())
	assert.Equal(t, "2.00", f.available(t, sellerID))

	pending, err := f.svc.ListWithdrawals(ctx, admin, domain.WithdrawalPending)
	require.NoError(t, err)
	assert.Len(t, pending, 14)
}

func TestWithdrawal_ConcurrentDecisionsApplyOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, sellerID, "20.00")

	w, err := f.svc.RequestWithdrawal(ctx, seller, withdrawalRequest("20.00"))
	require.NoError(t, err)

	var (
		wg   sync.WaitGroup
		wins atomic.Int32
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var err error
			if i%2 == 0 {
				_, err = f.svc.RejectWithdrawal(ctx, admin, w.ID, "duplicada")
			} else {
				_, err = f.svc.ApproveWithdrawal(ctx, admin, w.ID)
			}
			if err == nil {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	got, err := f.svc.GetWithdrawal(ctx, admin, w.ID)
	require.NoError(t, err)
	if got.Status == domain.WithdrawalRejected {
		assert.Equal(t, "20.00", f.available(t, sellerID))
	} else {
		assert.Equal(t, "0.00", f.available(t, sellerID))
	}
}

func TestWithdrawal_Visibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, sellerID, "20.00")
	f.seed(t, otherSeller, "20.00")

	mine, err := f.svc.RequestWithdrawal(ctx, seller, withdrawalRequest("5.00"))
	require.NoError(t, err)
	other := domain.Principal{Subject: otherSeller, Role: domain.RoleSeller}
	req := withdrawalRequest("5.00")
	req.SellerAccountID = otherSeller
	_, err = f.svc.RequestWithdrawal(ctx, other, req)
	require.NoError(t, err)

	list, err := f.svc.ListWithdrawals(ctx, seller, "")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, mine.ID, list[0].ID)

	all, err := f.svc.ListWithdrawals(ctx, admin, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = f.svc.GetWithdrawal(ctx, other, mine.ID)
	var nf *domain.ErrNotFound
	require.ErrorAs(t, err, &nf)
}
