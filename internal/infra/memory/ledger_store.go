// Package memory provides in-process implementations of the store ports.
// They are safe for concurrent use and are used by tests and local runs.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/boddenberg/pix-marketplace-ledger-go/internal/domain"
)

type account struct {
	mu      sync.Mutex
	balance domain.Balance
	opened  bool
	entries []domain.LedgerEntry
	reasons map[string]struct{}
}

// LedgerStore keeps one record per account, each guarded by its own mutex.
// The table lock is only held to find or create the record.
type LedgerStore struct {
	mu       sync.Mutex
	accounts map[string]*account
	seq      int64
	seqMu    sync.Mutex
	now      func() time.Time
}

func NewLedgerStore() *LedgerStore {
	return &LedgerStore{
		accounts: make(map[string]*account),
		now:      time.Now,
	}
}

func (s *LedgerStore) account(id string) *account {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		a = &account{
			balance: domain.Balance{AccountID: id},
			reasons: make(map[string]struct{}),
		}
		s.accounts[id] = a
	}
	return a
}

func (s *LedgerStore) lookup(id string) (*account, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	return a, ok
}

func (s *LedgerStore) nextSeq() int64 {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()
	s.seq++
	return s.seq
}

func (s *LedgerStore) Credit(ctx context.Context, accountID string, amount domain.Money, reason domain.Reason) (*domain.Balance, error) {
	if err := domain.ValidatePosting(accountID, amount, reason, domain.DirectionCredit); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a := s.account(accountID)
	a.mu.Lock()
	defer a.mu.Unlock()

	key := reason.String()
	if _, dup := a.reasons[key]; dup {
		return nil, &domain.ErrDuplicate{Key: accountID + "/" + key}
	}

	entry := domain.ApplyCredit(&a.balance, amount, reason, s.now().UTC())
	s.append(a, entry, key)
	b := a.balance
	return &b, nil
}

func (s *LedgerStore) Debit(ctx context.Context, accountID string, amount domain.Money, reason domain.Reason) (*domain.Balance, error) {
	if err := domain.ValidatePosting(accountID, amount, reason, domain.DirectionDebit); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a := s.account(accountID)
	a.mu.Lock()
	defer a.mu.Unlock()

	key := reason.String()
	if _, dup := a.reasons[key]; dup {
		return nil, &domain.ErrDuplicate{Key: accountID + "/" + key}
	}

	entry, err := domain.ApplyDebit(&a.balance, amount, reason, s.now().UTC())
	if err != nil {
		return nil, err
	}
	s.append(a, entry, key)
	b := a.balance
	return &b, nil
}

// append must be called with a.mu held.
func (s *LedgerStore) append(a *account, e domain.LedgerEntry, reasonKey string) {
	e.ID = uuid.NewString()
	e.Seq = s.nextSeq()
	a.entries = append(a.entries, e)
	a.reasons[reasonKey] = struct{}{}
	a.opened = true
}

func (s *LedgerStore) GetBalance(_ context.Context, accountID string) (*domain.Balance, error) {
	a, ok := s.lookup(accountID)
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "balance", ID: accountID}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.opened {
		return nil, &domain.ErrNotFound{Resource: "balance", ID: accountID}
	}
	b := a.balance
	return &b, nil
}

func (s *LedgerStore) ListEntries(_ context.Context, accountID string) ([]domain.LedgerEntry, error) {
	a, ok := s.lookup(accountID)
	if !ok {
		return []domain.LedgerEntry{}, nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]domain.LedgerEntry, len(a.entries))
	copy(out, a.entries)
	return out, nil
}

// Ping always succeeds.
func (s *LedgerStore) Ping(context.Context) error { return nil }
