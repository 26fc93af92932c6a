package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/boddenberg/pix-marketplace-ledger-go/internal/domain"
	"github.com/boddenberg/pix-marketplace-ledger-go/internal/infra/keylock"
	"github.com/boddenberg/pix-marketplace-ledger-go/internal/infra/observability"
	"github.com/boddenberg/pix-marketplace-ledger-go/internal/infra/resilience"
	"github.com/boddenberg/pix-marketplace-ledger-go/internal/port"
)

var tracer = otel.Tracer("service/marketplace")

const (
	defaultNotifyConcurrency = 16
	defaultNotifyTimeout     = 5 * time.Second
)

// settleRetry bounds how often the Pending -> Paid transition is retried once
// the seller has been credited.
var settleRetry = resilience.Config{MaxRetries: 2, InitialBackoff: 20 * time.Millisecond}

// Dependencies wires MarketplaceService to its adapters.
// Gateway may be nil when only the direct sale path is used.
type Dependencies struct {
	Ledger      port.LedgerStore
	Sales       port.SaleStore
	Withdrawals port.WithdrawalStore
	Events      port.WebhookEventStore
	Accounts    port.AccountDirectory
	Products    port.ProductCatalog
	Gateway     port.PaymentGateway
	Notifier    port.Notifier
	Cache       port.LoadingCache[any]
	Metrics     *observability.Metrics
	Logger      *zap.Logger
}

// Options tunes the service. A nil Commission means DefaultCommission.
type Options struct {
	Commission        *Commission
	NotifyConcurrency int
	NotifyTimeout     time.Duration
}

// MarketplaceService is the ledger and settlement core: it settles sales,
// manages withdrawal requests and reconciles gateway webhooks. It is the
// only writer to the LedgerStore.
type MarketplaceService struct {
	ledger      port.LedgerStore
	sales       port.SaleStore
	withdrawals port.WithdrawalStore
	events      port.WebhookEventStore
	accounts    port.AccountDirectory
	products    port.ProductCatalog
	gateway     port.PaymentGateway
	notifier    port.Notifier
	cache       port.LoadingCache[any]
	metrics     *observability.Metrics
	logger      *zap.Logger

	commission      Commission
	saleLocks       *keylock.Locker
	withdrawalLocks *keylock.Locker
	eventLocks      *keylock.Locker
	notifySlots     *resilience.Bulkhead
	notifyTimeout   time.Duration
	settleRetry     resilience.Config
	pending         sync.WaitGroup

	now         func() time.Time
	newTxID     func() string
	newRecordID func() string
}

// NewMarketplaceService creates the service with all dependencies injected.
func NewMarketplaceService(deps Dependencies, opts Options) *MarketplaceService {
	commission := DefaultCommission
	if opts.Commission != nil {
		commission = *opts.Commission
	}
	if opts.NotifyConcurrency <= 0 {
		opts.NotifyConcurrency = defaultNotifyConcurrency
	}
	if opts.NotifyTimeout <= 0 {
		opts.NotifyTimeout = defaultNotifyTimeout
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = observability.NewMetrics()
	}

	return &MarketplaceService{
		ledger:      deps.Ledger,
		sales:       deps.Sales,
		withdrawals: deps.Withdrawals,
		events:      deps.Events,
		accounts:    deps.Accounts,
		products:    deps.Products,
		gateway:     deps.Gateway,
		notifier:    deps.Notifier,
		cache:       deps.Cache,
		metrics:     metrics,
		logger:      logger,

		commission:      commission,
		saleLocks:       keylock.New(),
		withdrawalLocks: keylock.New(),
		eventLocks:      keylock.New(),
		notifySlots:     resilience.NewBulkhead(opts.NotifyConcurrency),
		notifyTimeout:   opts.NotifyTimeout,
		settleRetry:     settleRetry,

		now:         func() time.Time { return time.Now().UTC() },
		newTxID:     func() string { return ulid.Make().String() },
		newRecordID: uuid.NewString,
	}
}

// Commission returns the active fee rule.
func (s *MarketplaceService) Commission() Commission { return s.commission }

// Wait blocks until in-flight notifications finish. Used on shutdown.
func (s *MarketplaceService) Wait() { s.pending.Wait() }

// ============================================================
// Lookups
// ============================================================

func (s *MarketplaceService) getAccount(ctx context.Context, id string) (*domain.Account, error) {
	v, err := s.cached(ctx, "account", id, func(ctx context.Context) (any, error) {
		return s.accounts.GetAccount(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Account), nil
}

func (s *MarketplaceService) getProduct(ctx context.Context, id string) (*domain.Product, error) {
	v, err := s.cached(ctx, "product", id, func(ctx context.Context) (any, error) {
		return s.products.GetProduct(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Product), nil
}

func (s *MarketplaceService) cached(ctx context.Context, kind, id string, load func(context.Context) (any, error)) (any, error) {
	if s.cache == nil {
		v, err := load(ctx)
		return v, s.externalErr(kind, err)
	}
	v, hit, err := s.cache.GetOrLoad(ctx, kind+":"+id, load)
	if err != nil {
		return nil, s.externalErr(kind, err)
	}
	if hit {
		s.metrics.IncrCacheHit(kind)
	} else {
		s.metrics.IncrCacheMiss(kind)
	}
	return v, nil
}

// externalErr counts collaborator failures other than a plain miss.
func (s *MarketplaceService) externalErr(kind string, err error) error {
	if err == nil {
		return nil
	}
	var nf *domain.ErrNotFound
	if !errors.As(err, &nf) {
		s.metrics.IncrExternalError(kind)
	}
	return err
}

// resolveSeller fetches product and seller concurrently and checks they belong together.
func (s *MarketplaceService) resolveSeller(ctx context.Context, productID, sellerID string) (*domain.Product, *domain.Account, error) {
	var (
		product *domain.Product
		account *domain.Account
	)
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := s.getProduct(gCtx, productID)
		if err != nil {
			return fmt.Errorf("product lookup: %w", err)
		}
		product = p
		return nil
	})
	g.Go(func() error {
		a, err := s.getAccount(gCtx, sellerID)
		if err != nil {
			return fmt.Errorf("seller lookup: %w", err)
		}
		account = a
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	if product.SellerAccountID != sellerID {
		return nil, nil, &domain.ErrValidation{Field: "product_id", Message: "product does not belong to seller"}
	}
	if !account.Active {
		return nil, nil, &domain.ErrValidation{Field: "seller_account_id", Message: "seller account is inactive"}
	}
	return product, account, nil
}

// ============================================================
// Authorization
// ============================================================

func requireAdmin(p domain.Principal, action string) error {
	if !p.IsAdmin() {
		return &domain.ErrForbidden{Action: action}
	}
	return nil
}

func requireActor(p domain.Principal, accountID, action string) error {
	if !p.CanActFor(accountID) {
		return &domain.ErrForbidden{Action: action}
	}
	return nil
}

// ============================================================
// Notifications
// ============================================================

// notify dispatches n in the background. It must be called after every lock
// is released. When all slots are busy the notification is dropped.
func (s *MarketplaceService) notify(ctx context.Context, n domain.Notification) {
	if s.notifier == nil {
		return
	}
	if !s.notifySlots.TryAcquire() {
		s.logger.Warn("notification dropped: dispatcher saturated",
			zap.String("kind", string(n.Kind)),
			zap.String("reference_id", n.ReferenceID),
		)
		return
	}

	n.CreatedAt = s.now()
	bg := context.WithoutCancel(ctx)
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		defer s.notifySlots.Release()

		nctx, cancel := context.WithTimeout(bg, s.notifyTimeout)
		defer cancel()

		if n.Email == "" {
			if acc, err := s.getAccount(nctx, n.AccountID); err == nil {
				n.Email = acc.Email
			}
		}
		if err := s.notifier.Notify(nctx, &n); err != nil {
			s.metrics.IncrExternalError("notifier")
			s.logger.Error("notification failed",
				zap.String("kind", string(n.Kind)),
				zap.String("account_id", n.AccountID),
				zap.String("reference_id", n.ReferenceID),
				zap.Error(err),
			)
		}
	}()
}
