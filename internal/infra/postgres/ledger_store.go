package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/boddenberg/pix-marketplace-ledger-go/internal/domain"
)

// LedgerStore implements port.LedgerStore.
type LedgerStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool, now: time.Now}
}

func (s *LedgerStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *LedgerStore) Credit(ctx context.Context, accountID string, amount domain.Money, reason domain.Reason) (*domain.Balance, error) {
	if err := domain.ValidatePosting(accountID, amount, reason, domain.DirectionCredit); err != nil {
		return nil, err
	}
	return s.post(ctx, accountID, reason, func(b *domain.Balance, now time.Time) (domain.LedgerEntry, error) {
		return domain.ApplyCredit(b, amount, reason, now), nil
	}, true)
}

func (s *LedgerStore) Debit(ctx context.Context, accountID string, amount domain.Money, reason domain.Reason) (*domain.Balance, error) {
	if err := domain.ValidatePosting(accountID, amount, reason, domain.DirectionDebit); err != nil {
		return nil, err
	}
	return s.post(ctx, accountID, reason, func(b *domain.Balance, now time.Time) (domain.LedgerEntry, error) {
		return domain.ApplyDebit(b, amount, reason, now)
	}, false)
}

// post runs one posting in a transaction holding the balance row lock.
// open creates the balance row on first use.
func (s *LedgerStore) post(ctx context.Context, accountID string, reason domain.Reason, apply func(*domain.Balance, time.Time) (domain.LedgerEntry, error), open bool) (*domain.Balance, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("begin posting: %w", err)
	}
	defer tx.Rollback(ctx)

	if open {
		if _, err := tx.Exec(ctx,
			`INSERT INTO balances (account_id) VALUES ($1) ON CONFLICT (account_id) DO NOTHING`,
			accountID); err != nil {
			return nil, fmt.Errorf("opening balance %s: %w", accountID, err)
		}
	}

	b, err := lockBalance(ctx, tx, accountID)
	if errors.Is(err, pgx.ErrNoRows) {
		// A debit against an account that never received funds.
		b = &domain.Balance{AccountID: accountID}
	} else if err != nil {
		return nil, err
	}

	entry, err := apply(b, s.now().UTC())
	if err != nil {
		return nil, err
	}
	entry.ID = uuid.NewString()

	err = tx.QueryRow(ctx, `
		INSERT INTO ledger_entries (id, account_id, amount_minor, direction, reason, resulting_minor, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING seq`,
		entry.ID, accountID, entry.Amount.Minor(), string(entry.Direction), entry.Reason,
		entry.ResultingBalance.Minor(), entry.CreatedAt,
	).Scan(&entry.Seq)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, &domain.ErrDuplicate{Key: accountID + "/" + reason.String()}
		}
		return nil, fmt.Errorf("appending ledger entry: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE balances
		SET available_minor = $2, received_minor = $3, total_sales_count = $4, updated_at = $5
		WHERE account_id = $1`,
		accountID, b.Available.Minor(), b.TotalReceived.Minor(), b.TotalSalesCount, b.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("updating balance %s: %w", accountID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit posting: %w", err)
	}
	return b, nil
}

func lockBalance(ctx context.Context, tx pgx.Tx, accountID string) (*domain.Balance, error) {
	row := tx.QueryRow(ctx, `
		SELECT account_id, available_minor, received_minor, total_sales_count, updated_at
		FROM balances
		WHERE account_id = $1
		FOR UPDATE`, accountID)
	b, err := scanBalance(row)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("locking balance %s: %w", accountID, err)
	}
	return b, err
}

func scanBalance(row scanner) (*domain.Balance, error) {
	var (
		b                  domain.Balance
		available, receive int64
	)
	if err := row.Scan(&b.AccountID, &available, &receive, &b.TotalSalesCount, &b.UpdatedAt); err != nil {
		return nil, err
	}
	b.Available = domain.MoneyFromMinor(available)
	b.TotalReceived = domain.MoneyFromMinor(receive)
	return &b, nil
}

func (s *LedgerStore) GetBalance(ctx context.Context, accountID string) (*domain.Balance, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT account_id, available_minor, received_minor, total_sales_count, updated_at
		FROM balances
		WHERE account_id = $1`, accountID)
	b, err := scanBalance(row)
	if err != nil {
		return nil, mapError(err, "balance", accountID)
	}
	return b, nil
}

func (s *LedgerStore) ListEntries(ctx context.Context, accountID string) ([]domain.LedgerEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, seq, account_id, amount_minor, direction, reason, resulting_minor, created_at
		FROM ledger_entries
		WHERE account_id = $1
		ORDER BY seq`, accountID)
	if err != nil {
		return nil, fmt.Errorf("listing entries for %s: %w", accountID, err)
	}

	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.LedgerEntry, error) {
		var (
			e                 domain.LedgerEntry
			amount, resulting int64
			direction         string
		)
		if err := row.Scan(&e.ID, &e.Seq, &e.AccountID, &amount, &direction, &e.Reason, &resulting, &e.CreatedAt); err != nil {
			return e, err
		}
		e.Amount = domain.MoneyFromMinor(amount)
		e.ResultingBalance = domain.MoneyFromMinor(resulting)
		e.Direction = domain.Direction(direction)
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning entries for %s: %w", accountID, err)
	}
	return entries, nil
}
