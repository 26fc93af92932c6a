package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/boddenberg/pix-marketplace-ledger-go/internal/domain"
)

// SaleStore keeps sales indexed by id, transaction id and charge id.
type SaleStore struct {
	mu       sync.RWMutex
	byID     map[string]*domain.Sale
	byTxID   map[string]string
	byCharge map[string]string
}

func NewSaleStore() *SaleStore {
	return &SaleStore{
		byID:     make(map[string]*domain.Sale),
		byTxID:   make(map[string]string),
		byCharge: make(map[string]string),
	}
}

func (s *SaleStore) Create(_ context.Context, sale *domain.Sale) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[sale.ID]; ok {
		return &domain.ErrDuplicate{Key: "sale/" + sale.ID}
	}
	if _, ok := s.byTxID[sale.TransactionID]; ok {
		return &domain.ErrDuplicate{Key: "transaction/" + sale.TransactionID}
	}
	if sale.ChargeID != "" {
		if _, ok := s.byCharge[sale.ChargeID]; ok {
			return &domain.ErrDuplicate{Key: "charge/" + sale.ChargeID}
		}
		s.byCharge[sale.ChargeID] = sale.ID
	}
	cp := *sale
	s.byID[sale.ID] = &cp
	s.byTxID[sale.TransactionID] = sale.ID
	return nil
}

func (s *SaleStore) Get(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sale, ok := s.byID[id]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "sale", ID: id}
	}
	cp := *sale
	return &cp, nil
}

func (s *SaleStore) GetByChargeID(ctx context.Context, chargeID string) (*domain.Sale, error) {
	s.mu.RLock()
	id, ok := s.byCharge[chargeID]
	s.mu.RUnlock()
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "charge", ID: chargeID}
	}
	return s.Get(ctx, id)
}

func (s *SaleStore) List(_ context.Context, sellerAccountID string, status domain.SaleStatus) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []domain.Sale{}
	for _, sale := range s.byID {
		if sale.SellerAccountID != sellerAccountID {
			continue
		}
		if status != "" && sale.Status != status {
			continue
		}
		out = append(out, *sale)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *SaleStore) TransitionStatus(_ context.Context, id string, from, to domain.SaleStatus, at time.Time) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.byID[id]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "sale", ID: id}
	}
	if sale.Status != from {
		return nil, &domain.ErrInvalidState{Resource: "sale", ID: id, State: string(sale.Status), Action: "move to " + string(to)}
	}
	sale.Status = to
	sale.UpdatedAt = at
	if to == domain.SaleStatusPaid {
		paidAt := at
		sale.PaidAt = &paidAt
	}
	cp := *sale
	return &cp, nil
}
