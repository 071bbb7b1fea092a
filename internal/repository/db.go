package repository

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NewDB creates a new PostgreSQL connection pool.
func NewDB(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}

// RunMigrations executes the schema migration.
//
// The partial unique index on subscriptions backs the one-current-term rule:
// the activator expires the old row before inserting the new one inside the
// same transaction, so a second concurrent writer fails instead of leaving
// two current terms.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	query := `
		CREATE TABLE IF NOT EXISTS accounts (
			id           TEXT PRIMARY KEY,
			email        TEXT NOT NULL UNIQUE,
			password     TEXT NOT NULL,
			role         TEXT NOT NULL DEFAULT 'factory',
			company_name TEXT NOT NULL DEFAULT '',
			created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS subscription_plans (
			id                TEXT PRIMARY KEY,
			slug              TEXT NOT NULL UNIQUE,
			name              TEXT NOT NULL,
			price_monthly     BIGINT NOT NULL DEFAULT 0,
			price_yearly      BIGINT NOT NULL DEFAULT 0,
			max_job_posts     INT NOT NULL DEFAULT 0,
			max_profile_views INT NOT NULL DEFAULT 0,
			search_radius_km  INT NOT NULL DEFAULT 0,
			features          JSONB NOT NULL DEFAULT '{}'::jsonb,
			created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS payment_intents (
			id               TEXT PRIMARY KEY,
			factory_id       TEXT NOT NULL,
			order_ref        TEXT NOT NULL,
			amount           BIGINT NOT NULL CHECK (amount > 0),
			method           TEXT NOT NULL CHECK (method IN ('gateway', 'bank_transfer')),
			transfer_note    TEXT NOT NULL DEFAULT '',
			status           TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'success', 'failed')),
			payload          JSONB NOT NULL,
			gateway_response JSONB,
			created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			resolved_at      TIMESTAMPTZ
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_payment_intents_order_ref ON payment_intents(order_ref);
		CREATE INDEX IF NOT EXISTS idx_payment_intents_status_method ON payment_intents(status, method);
		CREATE INDEX IF NOT EXISTS idx_payment_intents_factory ON payment_intents(factory_id);

		CREATE TABLE IF NOT EXISTS subscriptions (
			id           TEXT PRIMARY KEY,
			factory_id   TEXT NOT NULL,
			plan_id      TEXT NOT NULL,
			status       TEXT NOT NULL CHECK (status IN ('trial', 'active', 'expired', 'cancelled')),
			start_at     TIMESTAMPTZ NOT NULL,
			end_at       TIMESTAMPTZ NOT NULL,
			trial_end_at TIMESTAMPTZ,
			payment_id   TEXT,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_subscriptions_factory_status ON subscriptions(factory_id, status);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_subscriptions_one_current
			ON subscriptions(factory_id) WHERE status IN ('trial', 'active');
		CREATE UNIQUE INDEX IF NOT EXISTS idx_subscriptions_payment
			ON subscriptions(payment_id) WHERE payment_id IS NOT NULL;
	`
	_, err := pool.Exec(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store on top of pgx.
type PostgresStore struct {
	db *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// WithFactoryLock opens a transaction and takes a transaction-scoped advisory
// lock derived from factoryID, so activations for one factory run one at a
// time while different factories proceed in parallel.
func (s *PostgresStore) WithFactoryLock(ctx context.Context, factoryID string, fn func(ctx context.Context, tx BillingTx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", lockKey(factoryID)); err != nil {
		return fmt.Errorf("failed to lock factory %s: %w", factoryID, err)
	}

	if err := fn(ctx, &pgBillingTx{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func lockKey(factoryID string) int64 {
	h := fnv.New64a()
	h.Write([]byte("factory:" + factoryID))
	return int64(h.Sum64() & ((1 << 63) - 1))
}

// pgBillingTx is the transaction-bound half of PostgresStore.
type pgBillingTx struct {
	q querier
}
