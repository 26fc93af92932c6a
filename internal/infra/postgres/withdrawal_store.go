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

const withdrawalColumns = `id, seller_account_id, amount_minor, destination, status, rejection_reason,
	decided_by, created_at, updated_at`

// WithdrawalStore implements port.WithdrawalStore.
type WithdrawalStore struct {
	pool *pgxpool.Pool
}

func NewWithdrawalStore(pool *pgxpool.Pool) *WithdrawalStore {
	return &WithdrawalStore{pool: pool}
}

func (s *WithdrawalStore) Create(ctx context.Context, w *domain.WithdrawalRequest) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO withdrawal_requests (id, seller_account_id, amount_minor, destination, status,
			rejection_reason, decided_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		w.ID, w.SellerAccountID, w.Amount.Minor(), w.Destination, string(w.Status),
		w.RejectionReason, w.DecidedBy, w.CreatedAt, w.UpdatedAt,
	)
	return mapError(err, "withdrawal", w.ID)
}

func (s *WithdrawalStore) Get(ctx context.Context, id string) (*domain.WithdrawalRequest, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+withdrawalColumns+` FROM withdrawal_requests WHERE id = $1`, id)
	w, err := scanWithdrawal(row)
	if err != nil {
		return nil, mapError(err, "withdrawal", id)
	}
	return w, nil
}

func (s *WithdrawalStore) List(ctx context.Context, sellerAccountID string, status domain.WithdrawalStatus) ([]domain.WithdrawalRequest, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+withdrawalColumns+`
		FROM withdrawal_requests
		WHERE ($1 = '' OR seller_account_id = $1) AND ($2 = '' OR status = $2)
		ORDER BY created_at`,
		sellerAccountID, string(status))
	if err != nil {
		return nil, fmt.Errorf("listing withdrawals: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.WithdrawalRequest, error) {
		w, err := scanWithdrawal(row)
		if err != nil {
			return domain.WithdrawalRequest{}, err
		}
		return *w, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning withdrawals: %w", err)
	}
	return out, nil
}

func (s *WithdrawalStore) Transition(ctx context.Context, id string, t domain.WithdrawalTransition) (*domain.WithdrawalRequest, error) {
	at := t.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	row := s.pool.QueryRow(ctx, `
		UPDATE withdrawal_requests
		SET status = $3, rejection_reason = $4, decided_by = $5, updated_at = $6
		WHERE id = $1 AND status = $2
		RETURNING `+withdrawalColumns,
		id, string(t.From), string(t.To), t.RejectionReason, t.DecidedBy, at)
	w, err := scanWithdrawal(row)
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("transition withdrawal %s: %w", id, err)
	}

	current, getErr := s.Get(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	return nil, &domain.ErrInvalidState{Resource: "withdrawal", ID: id, State: string(current.Status), Action: "move to " + string(t.To)}
}

func scanWithdrawal(row scanner) (*domain.WithdrawalRequest, error) {
	var (
		w      domain.WithdrawalRequest
		amount int64
		status string
	)
	err := row.Scan(&w.ID, &w.SellerAccountID, &amount, &w.Destination, &status, &w.RejectionReason,
		&w.DecidedBy, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	w.Amount = domain.MoneyFromMinor(amount)
	w.Status = domain.WithdrawalStatus(status)
	return &w, nil
}

// EventStore implements port.WebhookEventStore on the consumed_webhook_events table.
type EventStore struct {
	pool *pgxpool.Pool
}

func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

func (s *EventStore) IsConsumed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM consumed_webhook_events WHERE event_id = $1)`, eventID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking event %s: %w", eventID, err)
	}
	return exists, nil
}

func (s *EventStore) MarkConsumed(ctx context.Context, eventID string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO consumed_webhook_events (event_id, processed_at) VALUES ($1, $2)
		ON CONFLICT (event_id) DO NOTHING`, eventID, at)
	if err != nil {
		return fmt.Errorf("marking event %s: %w", eventID, err)
	}
	return nil
}
