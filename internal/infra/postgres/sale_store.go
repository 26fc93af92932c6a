package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/boddenberg/pix-marketplace-ledger-go/internal/domain"
)

const saleColumns = `id, transaction_id, COALESCE(charge_id, ''), product_id, seller_account_id, buyer,
	gross_minor, commission_minor, net_minor, status, pix_copy_paste, charge_expires_at, paid_at,
	created_at, updated_at`

// SaleStore implements port.SaleStore.
type SaleStore struct {
	pool *pgxpool.Pool
}

func NewSaleStore(pool *pgxpool.Pool) *SaleStore {
	return &SaleStore{pool: pool}
}

func (s *SaleStore) Create(ctx context.Context, sale *domain.Sale) error {
	var chargeID *string
	if sale.ChargeID != "" {
		chargeID = &sale.ChargeID
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sales (id, transaction_id, charge_id, product_id, seller_account_id, buyer,
			gross_minor, commission_minor, net_minor, status, pix_copy_paste, charge_expires_at, paid_at,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		sale.ID, sale.TransactionID, chargeID, sale.ProductID, sale.SellerAccountID, sale.Buyer,
		sale.GrossAmount.Minor(), sale.Commission.Minor(), sale.NetAmount.Minor(), string(sale.Status),
		sale.PixCopyPaste, sale.ChargeExpiresAt, sale.PaidAt, sale.CreatedAt, sale.UpdatedAt,
	)
	return mapError(err, "sale", sale.ID)
}

func (s *SaleStore) Get(ctx context.Context, id string) (*domain.Sale, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = $1`, id)
	sale, err := scanSale(row)
	if err != nil {
		return nil, mapError(err, "sale", id)
	}
	return sale, nil
}

func (s *SaleStore) GetByChargeID(ctx context.Context, chargeID string) (*domain.Sale, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+saleColumns+` FROM sales WHERE charge_id = $1`, chargeID)
	sale, err := scanSale(row)
	if err != nil {
		return nil, mapError(err, "charge", chargeID)
	}
	return sale, nil
}

func (s *SaleStore) List(ctx context.Context, sellerAccountID string, status domain.SaleStatus) ([]domain.Sale, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE seller_account_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC`,
		sellerAccountID, string(status))
	if err != nil {
		return nil, fmt.Errorf("listing sales for %s: %w", sellerAccountID, err)
	}
	sales, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Sale, error) {
		sale, err := scanSale(row)
		if err != nil {
			return domain.Sale{}, err
		}
		return *sale, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning sales: %w", err)
	}
	return sales, nil
}

func (s *SaleStore) TransitionStatus(ctx context.Context, id string, from, to domain.SaleStatus, at time.Time) (*domain.Sale, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE sales
		SET status = $3,
		    updated_at = $4,
		    paid_at = CASE WHEN $3 = 'paid' THEN $4 ELSE paid_at END
		WHERE id = $1 AND status = $2
		RETURNING `+saleColumns,
		id, string(from), string(to), at)
	sale, err := scanSale(row)
	if err == nil {
		return sale, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("transition sale %s: %w", id, err)
	}

	current, getErr := s.Get(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	return nil, &domain.ErrInvalidState{Resource: "sale", ID: id, State: string(current.Status), Action: "move to " + string(to)}
}

func scanSale(row scanner) (*domain.Sale, error) {
	var (
		sale                   domain.Sale
		status                 string
		gross, commission, net int64
	)
	err := row.Scan(&sale.ID, &sale.TransactionID, &sale.ChargeID, &sale.ProductID, &sale.SellerAccountID, &sale.Buyer,
		&gross, &commission, &net, &status, &sale.PixCopyPaste, &sale.ChargeExpiresAt, &sale.PaidAt,
		&sale.CreatedAt, &sale.UpdatedAt)
	if err != nil {
		return nil, err
	}
	sale.GrossAmount = domain.MoneyFromMinor(gross)
	sale.Commission = domain.MoneyFromMinor(commission)
	sale.NetAmount = domain.MoneyFromMinor(net)
	sale.Status = domain.SaleStatus(status)
	return &sale, nil
}
