// Package postgres implements the store ports on PostgreSQL through pgx/v5.
//
// Balances are serialized per account with SELECT ... FOR UPDATE inside a
// transaction; the balance update and the ledger entry insert commit together.
// A unique (account_id, reason) index makes every posting idempotent, and
// status changes are conditional UPDATEs so they behave as compare-and-set
// across processes.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/boddenberg/pix-marketplace-ledger-go/internal/domain"
)

const uniqueViolation = "23505"

// PoolConfig tunes the connection pool.
type PoolConfig struct {
	URL             string
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	ConnectTimeout  time.Duration
}

// Connect opens a pool and verifies it with a ping.
func Connect(ctx context.Context, cfg PoolConfig, logger *zap.Logger) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing database url: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = int32(cfg.MinConns)
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	poolConfig.HealthCheckPeriod = time.Minute
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeCacheStatement
	poolConfig.ConnConfig.ConnectTimeout = 10 * time.Second
	if cfg.ConnectTimeout > 0 {
		poolConfig.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	logger.Info("postgres connected",
		zap.Int32("max_conns", pool.Config().MaxConns),
		zap.Int32("total_conns", pool.Stat().TotalConns()),
	)
	return pool, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS balances (
	account_id        TEXT PRIMARY KEY,
	available_minor   BIGINT NOT NULL DEFAULT 0 CHECK (available_minor >= 0),
	received_minor    BIGINT NOT NULL DEFAULT 0 CHECK (received_minor >= 0),
	total_sales_count BIGINT NOT NULL DEFAULT 0,
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS ledger_entries (
	id                TEXT PRIMARY KEY,
	seq               BIGSERIAL NOT NULL,
	account_id        TEXT NOT NULL REFERENCES balances (account_id),
	amount_minor      BIGINT NOT NULL CHECK (amount_minor > 0),
	direction         TEXT NOT NULL CHECK (direction IN ('credit', 'debit')),
	reason            TEXT NOT NULL,
	resulting_minor   BIGINT NOT NULL CHECK (resulting_minor >= 0),
	created_at        TIMESTAMPTZ NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS ledger_entries_account_reason ON ledger_entries (account_id, reason);
CREATE INDEX IF NOT EXISTS ledger_entries_account_seq ON ledger_entries (account_id, seq);
CREATE OR REPLACE RULE ledger_entries_no_update AS ON UPDATE TO ledger_entries DO INSTEAD NOTHING;
CREATE OR REPLACE RULE ledger_entries_no_delete AS ON DELETE TO ledger_entries DO INSTEAD NOTHING;

CREATE TABLE IF NOT EXISTS sales (
	id                TEXT PRIMARY KEY,
	transaction_id    TEXT NOT NULL UNIQUE,
	charge_id         TEXT UNIQUE,
	product_id        TEXT NOT NULL,
	seller_account_id TEXT NOT NULL,
	buyer             JSONB NOT NULL DEFAULT '{}',
	gross_minor       BIGINT NOT NULL CHECK (gross_minor > 0),
	commission_minor  BIGINT NOT NULL CHECK (commission_minor >= 0),
	net_minor         BIGINT NOT NULL CHECK (net_minor >= 0),
	status            TEXT NOT NULL,
	pix_copy_paste    TEXT NOT NULL DEFAULT '',
	charge_expires_at TIMESTAMPTZ,
	paid_at           TIMESTAMPTZ,
	created_at        TIMESTAMPTZ NOT NULL,
	updated_at        TIMESTAMPTZ NOT NULL,
	CHECK (net_minor + commission_minor = gross_minor)
);
CREATE INDEX IF NOT EXISTS sales_seller_status ON sales (seller_account_id, status);

CREATE TABLE IF NOT EXISTS withdrawal_requests (
	id                TEXT PRIMARY KEY,
	seller_account_id TEXT NOT NULL,
	amount_minor      BIGINT NOT NULL CHECK (amount_minor > 0),
	destination       JSONB NOT NULL,
	status            TEXT NOT NULL,
	rejection_reason  TEXT NOT NULL DEFAULT '',
	decided_by        TEXT NOT NULL DEFAULT '',
	created_at        TIMESTAMPTZ NOT NULL,
	updated_at        TIMESTAMPTZ NOT NULL,
	CHECK ((status = 'rejected') = (rejection_reason <> ''))
);
CREATE INDEX IF NOT EXISTS withdrawal_requests_status ON withdrawal_requests (status, created_at);

CREATE TABLE IF NOT EXISTS consumed_webhook_events (
	event_id     TEXT PRIMARY KEY,
	processed_at TIMESTAMPTZ NOT NULL
);
`

// Migrate creates the schema if it does not exist.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	return nil
}

// isUniqueViolation reports whether err is a unique constraint failure.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// mapError converts driver errors into domain errors.
func mapError(err error, resource, id string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pgx.ErrNoRows):
		return &domain.ErrNotFound{Resource: resource, ID: id}
	case isUniqueViolation(err):
		return &domain.ErrDuplicate{Key: resource + "/" + id}
	default:
		return fmt.Errorf("%s %s: %w", resource, id, err)
	}
}

type scanner interface {
	Scan(dest ...any) error
}
