package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/boddenberg/pix-marketplace-ledger-go/internal/domain"
	"github.com/boddenberg/pix-marketplace-ledger-go/internal/infra/observability"
)

var saleTracer = otel.Tracer("service/sales")

// ============================================================
// Direct path: POST /v1/sales
// ============================================================

// CreateSale records a sale and settles it immediately. The returned sale is
// Paid on success. If the credit fails the sale is moved to Failed and the
// ledger holds no entry for it. If the credit posted but the sale could not be
// marked Paid, it is left Pending so a later settle completes it exactly once.
func (s *MarketplaceService) CreateSale(ctx context.Context, req *domain.CreateSaleRequest) (*domain.Sale, error) {
	start := time.Now()
	ctx, span := saleTracer.Start(ctx, "MarketplaceService.CreateSale")
	defer span.End()
	defer func() { s.metrics.RecordRequestDuration("create_sale", time.Since(start)) }()

	sale, _, err := s.prepareSale(ctx, req)
	if err != nil {
		return nil, err
	}
	sale.ChargeID = sale.TransactionID
	span.SetAttributes(attribute.String("transaction.id", sale.TransactionID))

	if err := s.sales.Create(ctx, sale); err != nil {
		return nil, err
	}

	settled, outcome, err := s.settle(ctx, sale.ID, observability.PathDirect)
	if err != nil {
		var incomplete *incompleteSettlement
		if !errors.As(err, &incomplete) {
			s.failSale(ctx, sale, err)
		}
		return nil, err
	}
	if outcome == settledNow {
		s.notifySettled(ctx, settled)
	}
	return settled, nil
}

// failSale moves a sale whose settlement errored out of Pending.
func (s *MarketplaceService) failSale(ctx context.Context, sale *domain.Sale, cause error) {
	log := s.logger.With(zap.String("sale_id", sale.ID), zap.String("transaction_id", sale.TransactionID))
	if _, err := s.sales.TransitionStatus(ctx, sale.ID, domain.SaleStatusPending, domain.SaleStatusFailed, s.now()); err != nil {
		log.Error("sale settlement failed and sale could not be marked failed", zap.NamedError("cause", cause), zap.Error(err))
		return
	}
	log.Warn("sale settlement failed", zap.Error(cause))
}

// ============================================================
// Gateway path: POST /v1/sales/charge
// ============================================================

// CreateCharge records a Pending sale backed by a PIX charge at the gateway.
// The sale is settled later by the payment.paid webhook.
func (s *MarketplaceService) CreateCharge(ctx context.Context, req *domain.CreateSaleRequest) (*domain.Sale, error) {
	start := time.Now()
	ctx, span := saleTracer.Start(ctx, "MarketplaceService.CreateCharge")
	defer span.End()
	defer func() { s.metrics.RecordRequestDuration("create_charge", time.Since(start)) }()

	if s.gateway == nil {
		return nil, &domain.ErrExternalService{Service: "gateway", Err: errors.New("payment gateway not configured")}
	}

	sale, product, err := s.prepareSale(ctx, req)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("transaction.id", sale.TransactionID))

	description := product.Name
	if description == "" {
		description = "Pedido " + sale.TransactionID
	}

	charge, err := s.gateway.CreateCharge(ctx, &domain.ChargeRequest{
		TransactionID: sale.TransactionID,
		Amount:        sale.GrossAmount,
		Description:   description,
		Buyer:         sale.Buyer,
	})
	if err != nil {
		s.metrics.IncrExternalError("gateway")
		s.logger.Error("charge creation failed",
			zap.String("transaction_id", sale.TransactionID),
			zap.Error(err),
		)
		return nil, err
	}

	sale.ChargeID = charge.ID
	sale.PixCopyPaste = charge.CopyPaste
	if !charge.ExpiresAt.IsZero() {
		exp := charge.ExpiresAt.UTC()
		sale.ChargeExpiresAt = &exp
	}
	if err := s.sales.Create(ctx, sale); err != nil {
		s.logger.Error("charge created but sale not persisted",
			zap.String("transaction_id", sale.TransactionID),
			zap.String("charge_id", charge.ID),
			zap.Error(err),
		)
		return nil, err
	}

	s.logger.Info("charge created",
		zap.String("sale_id", sale.ID),
		zap.String("transaction_id", sale.TransactionID),
		zap.String("charge_id", charge.ID),
		zap.String("amount", sale.GrossAmount.String()),
	)
	return sale, nil
}

// prepareSale validates the request and builds the Pending sale shared by both paths.
func (s *MarketplaceService) prepareSale(ctx context.Context, req *domain.CreateSaleRequest) (*domain.Sale, *domain.Product, error) {
	if !req.GrossAmount.IsPositive() {
		return nil, nil, &domain.ErrInvalidAmount{Value: req.GrossAmount.String(), Reason: "gross amount must be greater than zero"}
	}
	productID := strings.TrimSpace(req.ProductID)
	sellerID := strings.TrimSpace(req.SellerAccountID)
	if productID == "" {
		return nil, nil, &domain.ErrValidation{Field: "product_id", Message: "required"}
	}
	if sellerID == "" {
		return nil, nil, &domain.ErrValidation{Field: "seller_account_id", Message: "required"}
	}

	product, _, err := s.resolveSeller(ctx, productID, sellerID)
	if err != nil {
		return nil, nil, err
	}

	commission, net, err := s.commission.Split(req.GrossAmount)
	if err != nil {
		return nil, nil, err
	}

	now := s.now()
	return &domain.Sale{
		ID:              s.newRecordID(),
		TransactionID:   s.newTxID(),
		ProductID:       productID,
		SellerAccountID: sellerID,
		Buyer:           req.Buyer,
		GrossAmount:     req.GrossAmount,
		Commission:      commission,
		NetAmount:       net,
		Status:          domain.SaleStatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, product, nil
}

// ============================================================
// Queries
// ============================================================

// GetSale returns a sale by id. Buyers poll it while a charge is pending.
func (s *MarketplaceService) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	ctx, span := saleTracer.Start(ctx, "MarketplaceService.GetSale")
	defer span.End()
	span.SetAttributes(attribute.String("sale.id", id))

	return s.sales.Get(ctx, id)
}

// ListSales returns a seller's sales, optionally filtered by status.
func (s *MarketplaceService) ListSales(ctx context.Context, p domain.Principal, sellerID string, status domain.SaleStatus) ([]domain.Sale, error) {
	ctx, span := saleTracer.Start(ctx, "MarketplaceService.ListSales")
	defer span.End()
	span.SetAttributes(attribute.String("seller.id", sellerID), attribute.String("status", string(status)))

	if err := requireActor(p, sellerID, "list sales"); err != nil {
		return nil, err
	}
	return s.sales.List(ctx, sellerID, status)
}
