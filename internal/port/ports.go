// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the domain/service
// layer from concrete implementations.
package port

import (
	"context"
	"time"

	"github.com/boddenberg/pix-marketplace-ledger-go/internal/domain"
)

// LedgerStore owns seller balances and their append-only entry log.
// Every mutation on one account is atomic: the balance change and the entry
// append are committed together or not at all. A reason may be applied to an
// account at most once; a repeat fails with *domain.ErrDuplicate.
type LedgerStore interface {
	// Credit adds amount to available. The balance record is opened on first credit.
	Credit(ctx context.Context, accountID string, amount domain.Money, reason domain.Reason) (*domain.Balance, error)
	// Debit subtracts amount from available, failing with *domain.ErrInsufficientFunds
	// rather than going below zero.
	Debit(ctx context.Context, accountID string, amount domain.Money, reason domain.Reason) (*domain.Balance, error)
	// GetBalance fails with *domain.ErrNotFound if the account never had a posting.
	GetBalance(ctx context.Context, accountID string) (*domain.Balance, error)
	// ListEntries returns the account's entries in posting order.
	ListEntries(ctx context.Context, accountID string) ([]domain.LedgerEntry, error)
}

// SaleStore persists sales.
type SaleStore interface {
	Create(ctx context.Context, sale *domain.Sale) error
	Get(ctx context.Context, id string) (*domain.Sale, error)
	GetByChargeID(ctx context.Context, chargeID string) (*domain.Sale, error)
	// List filters by seller and optionally by status (empty means any).
	List(ctx context.Context, sellerAccountID string, status domain.SaleStatus) ([]domain.Sale, error)
	// TransitionStatus is a compare-and-set: it moves the sale from -> to only
	// if its current status is from, else fails with *domain.ErrInvalidState.
	TransitionStatus(ctx context.Context, id string, from, to domain.SaleStatus, at time.Time) (*domain.Sale, error)
}

// WithdrawalStore persists withdrawal requests.
type WithdrawalStore interface {
	Create(ctx context.Context, w *domain.WithdrawalRequest) error
	Get(ctx context.Context, id string) (*domain.WithdrawalRequest, error)
	// List filters by seller (empty means all sellers) and status (empty means any).
	List(ctx context.Context, sellerAccountID string, status domain.WithdrawalStatus) ([]domain.WithdrawalRequest, error)
	// Transition applies t only if the request is still in t.From.
	Transition(ctx context.Context, id string, t domain.WithdrawalTransition) (*domain.WithdrawalRequest, error)
}

// WebhookEventStore is the consumed-events set.
type WebhookEventStore interface {
	IsConsumed(ctx context.Context, eventID string) (bool, error)
	MarkConsumed(ctx context.Context, eventID string, at time.Time) error
}

// AccountDirectory resolves seller accounts.
type AccountDirectory interface {
	GetAccount(ctx context.Context, accountID string) (*domain.Account, error)
}

// ProductCatalog resolves products.
type ProductCatalog interface {
	GetProduct(ctx context.Context, productID string) (*domain.Product, error)
}

// PaymentGateway creates PIX charges at the provider.
type PaymentGateway interface {
	CreateCharge(ctx context.Context, req *domain.ChargeRequest) (*domain.Charge, error)
}

// Notifier dispatches seller notifications. Callers never block on it.
type Notifier interface {
	Notify(ctx context.Context, n *domain.Notification) error
}

// Pinger is implemented by backends that can report liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
}

// LoadingCache collapses concurrent misses for the same key into one load.
type LoadingCache[T any] interface {
	Cache[T]
	GetOrLoad(ctx context.Context, key string, load func(ctx context.Context) (T, error)) (value T, hit bool, err error)
}
