package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/boddenberg/pix-marketplace-ledger-go/internal/domain"
)

// WithdrawalStore keeps withdrawal requests by id.
type WithdrawalStore struct {
	mu   sync.RWMutex
	byID map[string]*domain.WithdrawalRequest
}

func NewWithdrawalStore() *WithdrawalStore {
	return &WithdrawalStore{byID: make(map[string]*domain.WithdrawalRequest)}
}

func (s *WithdrawalStore) Create(_ context.Context, w *domain.WithdrawalRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[w.ID]; ok {
		return &domain.ErrDuplicate{Key: "withdrawal/" + w.ID}
	}
	cp := *w
	s.byID[w.ID] = &cp
	return nil
}

func (s *WithdrawalStore) Get(_ context.Context, id string) (*domain.WithdrawalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.byID[id]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "withdrawal", ID: id}
	}
	cp := *w
	return &cp, nil
}

func (s *WithdrawalStore) List(_ context.Context, sellerAccountID string, status domain.WithdrawalStatus) ([]domain.WithdrawalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []domain.WithdrawalRequest{}
	for _, w := range s.byID {
		if sellerAccountID != "" && w.SellerAccountID != sellerAccountID {
			continue
		}
		if status != "" && w.Status != status {
			continue
		}
		out = append(out, *w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *WithdrawalStore) Transition(_ context.Context, id string, t domain.WithdrawalTransition) (*domain.WithdrawalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.byID[id]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "withdrawal", ID: id}
	}
	if w.Status != t.From {
		return nil, &domain.ErrInvalidState{Resource: "withdrawal", ID: id, State: string(w.Status), Action: "move to " + string(t.To)}
	}
	w.Status = t.To
	w.RejectionReason = t.RejectionReason
	w.DecidedBy = t.DecidedBy
	w.UpdatedAt = t.At
	cp := *w
	return &cp, nil
}
