package memory

import (
	"context"
	"sync"
	"time"

	"github.com/boddenberg/pix-marketplace-ledger-go/internal/domain"
)

// EventStore is an in-process consumed-events set.
type EventStore struct {
	mu       sync.RWMutex
	consumed map[string]time.Time
}

func NewEventStore() *EventStore {
	return &EventStore{consumed: make(map[string]time.Time)}
}

func (s *EventStore) IsConsumed(_ context.Context, eventID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.consumed[eventID]
	return ok, nil
}

func (s *EventStore) MarkConsumed(_ context.Context, eventID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.consumed[eventID]; !ok {
		s.consumed[eventID] = at
	}
	return nil
}

// Directory is a static account and product catalog.
type Directory struct {
	mu       sync.RWMutex
	accounts map[string]domain.Account
	products map[string]domain.Product
}

func NewDirectory() *Directory {
	return &Directory{
		accounts: make(map[string]domain.Account),
		products: make(map[string]domain.Product),
	}
}

func (d *Directory) PutAccount(a domain.Account) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.accounts[a.ID] = a
}

func (d *Directory) PutProduct(p domain.Product) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.products[p.ID] = p
}

func (d *Directory) GetAccount(_ context.Context, accountID string) (*domain.Account, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, ok := d.accounts[accountID]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "account", ID: accountID}
	}
	return &a, nil
}

func (d *Directory) GetProduct(_ context.Context, productID string) (*domain.Product, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.products[productID]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "product", ID: productID}
	}
	return &p, nil
}
