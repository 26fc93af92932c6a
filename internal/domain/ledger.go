package domain

import (
	"fmt"
	"strings"
	"time"
)

// ============================================================
// Ledger: balances and the append-only entry log
// ============================================================

// Balance is the per-seller balance record.
type Balance struct {
	AccountID       string    `json:"account_id"`
	Available       Money     `json:"available"`
	TotalReceived   Money     `json:"total_received"`
	TotalSalesCount int64     `json:"total_sales_count"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Direction of a ledger entry.
type Direction string

const (
	DirectionCredit Direction = "credit"
	DirectionDebit  Direction = "debit"
)

// ReasonKind classifies why the ledger moved.
type ReasonKind string

const (
	ReasonSale             ReasonKind = "sale"
	ReasonWithdrawReserve  ReasonKind = "withdraw-reserve"
	ReasonWithdrawReversal ReasonKind = "withdraw-reversal"
	ReasonAdjustment       ReasonKind = "adjustment"
)

// Reason is the causing event of a ledger mutation, rendered as "kind:ref"
// (e.g. "sale:01J9..."). A reason is unique per account, which makes every
// posting idempotent.
type Reason struct {
	Kind ReasonKind
	Ref  string
}

func SaleReason(transactionID string) Reason {
	return Reason{Kind: ReasonSale, Ref: transactionID}
}

func WithdrawReserveReason(withdrawalID string) Reason {
	return Reason{Kind: ReasonWithdrawReserve, Ref: withdrawalID}
}

func WithdrawReversalReason(withdrawalID string) Reason {
	return Reason{Kind: ReasonWithdrawReversal, Ref: withdrawalID}
}

func AdjustmentReason(ref string) Reason {
	return Reason{Kind: ReasonAdjustment, Ref: ref}
}

func (r Reason) String() string {
	return string(r.Kind) + ":" + r.Ref
}

// Validate checks the reason is well formed and matches the posting direction.
func (r Reason) Validate(dir Direction) error {
	if r.Ref == "" {
		return &ErrValidation{Field: "reason", Message: "reference is required"}
	}
	switch r.Kind {
	case ReasonSale, ReasonWithdrawReversal, ReasonAdjustment:
		if dir != DirectionCredit {
			return &ErrValidation{Field: "reason", Message: fmt.Sprintf("%s can only credit", r.Kind)}
		}
	case ReasonWithdrawReserve:
		if dir != DirectionDebit {
			return &ErrValidation{Field: "reason", Message: fmt.Sprintf("%s can only debit", r.Kind)}
		}
	default:
		return &ErrValidation{Field: "reason", Message: fmt.Sprintf("unknown kind '%s'", r.Kind)}
	}
	return nil
}

// ParseReason is the inverse of Reason.String.
func ParseReason(s string) (Reason, error) {
	kind, ref, ok := strings.Cut(s, ":")
	if !ok || ref == "" {
		return Reason{}, &ErrValidation{Field: "reason", Message: fmt.Sprintf("malformed reason '%s'", s)}
	}
	return Reason{Kind: ReasonKind(kind), Ref: ref}, nil
}

// accrues reports whether a credit of this kind counts as lifetime revenue.
// Reversals give back reserved funds and are not new receipts.
func (k ReasonKind) accrues() bool {
	return k == ReasonSale || k == ReasonAdjustment
}

// LedgerEntry is an immutable record of one balance mutation.
type LedgerEntry struct {
	ID               string    `json:"id"`
	Seq              int64     `json:"seq"`
	AccountID        string    `json:"account_id"`
	Amount           Money     `json:"amount"`
	Direction        Direction `json:"direction"`
	Reason           string    `json:"reason"`
	CreatedAt        time.Time `json:"created_at"`
	ResultingBalance Money     `json:"resulting_balance"`
}

// ValidatePosting checks the common preconditions of credit and debit.
func ValidatePosting(accountID string, amount Money, reason Reason, dir Direction) error {
	if accountID == "" {
		return &ErrValidation{Field: "account_id", Message: "required"}
	}
	if !amount.IsPositive() {
		return &ErrInvalidAmount{Value: amount.String(), Reason: "must be greater than zero"}
	}
	return reason.Validate(dir)
}

// ApplyCredit mutates b for a credit and returns the entry to append.
// Callers hold the account lock and persist both atomically.
func ApplyCredit(b *Balance, amount Money, reason Reason, now time.Time) LedgerEntry {
	b.Available = b.Available.Add(amount)
	if reason.Kind.accrues() {
		b.TotalReceived = b.TotalReceived.Add(amount)
	}
	if reason.Kind == ReasonSale {
		b.TotalSalesCount++
	}
	b.UpdatedAt = now
	return LedgerEntry{
		AccountID:        b.AccountID,
		Amount:           amount,
		Direction:        DirectionCredit,
		Reason:           reason.String(),
		CreatedAt:        now,
		ResultingBalance: b.Available,
	}
}

// ApplyDebit mutates b for a debit, refusing to take available below zero.
func ApplyDebit(b *Balance, amount Money, reason Reason, now time.Time) (LedgerEntry, error) {
	if b.Available.LessThan(amount) {
		return LedgerEntry{}, &ErrInsufficientFunds{AccountID: b.AccountID, Available: b.Available, Required: amount}
	}
	b.Available = b.Available.Sub(amount)
	b.UpdatedAt = now
	return LedgerEntry{
		AccountID:        b.AccountID,
		Amount:           amount,
		Direction:        DirectionDebit,
		Reason:           reason.String(),
		CreatedAt:        now,
		ResultingBalance: b.Available,
	}, nil
}

// ReplayEntries rebuilds a balance from its entry log, in order.
// It fails if any entry's resulting balance disagrees with the replay.
func ReplayEntries(accountID string, entries []LedgerEntry) (*Balance, error) {
	b := &Balance{AccountID: accountID}
	for _, e := range entries {
		reason, err := ParseReason(e.Reason)
		if err != nil {
			return nil, err
		}
		switch e.Direction {
		case DirectionCredit:
			ApplyCredit(b, e.Amount, reason, e.CreatedAt)
		case DirectionDebit:
			if _, err := ApplyDebit(b, e.Amount, reason, e.CreatedAt); err != nil {
				return nil, fmt.Errorf("entry %s: %w", e.ID, err)
			}
		default:
			return nil, fmt.Errorf("entry %s: unknown direction '%s'", e.ID, e.Direction)
		}
		if b.Available != e.ResultingBalance {
			return nil, fmt.Errorf("entry %s: resulting balance %s, replay gives %s", e.ID, e.ResultingBalance, b.Available)
		}
	}
	return b, nil
}

// BalanceVerification is the result of replaying an account's log.
type BalanceVerification struct {
	AccountID  string   `json:"account_id"`
	Stored     *Balance `json:"stored"`
	Replayed   *Balance `json:"replayed"`
	EntryCount int      `json:"entry_count"`
	Consistent bool     `json:"consistent"`
	Problem    string   `json:"problem,omitempty"`
}
