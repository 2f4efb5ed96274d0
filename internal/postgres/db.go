package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 8
	cfg.MinConns = 1
	cfg.HealthCheckPeriod = 30 * time.Second
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// Migrate creates the ledger, audit and journal tables if missing.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	// serialize concurrent starts of api and worker
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(727001)`); err != nil {
		return fmt.Errorf("migrate lock: %w", err)
	}
	for i, stmt := range schema {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate step %d: %w", i, err)
		}
	}
	return tx.Commit(ctx)
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS payment_orders (
		order_number         TEXT PRIMARY KEY,
		order_id             TEXT UNIQUE,
		created_at           TIMESTAMPTZ NOT NULL,
		ttl_ms               BIGINT NOT NULL,
		expires_at           TIMESTAMPTZ NOT NULL,
		service_id           TEXT NOT NULL,
		service_name         TEXT NOT NULL,
		price_minor          BIGINT NOT NULL CHECK (price_minor > 0),
		phone                TEXT NOT NULL,
		client_address       TEXT NOT NULL DEFAULT '',
		back_url             TEXT NOT NULL DEFAULT '',
		form_url             TEXT NOT NULL DEFAULT '',
		settlement_sent      BOOLEAN NOT NULL DEFAULT false,
		settlement_at        TIMESTAMPTZ,
		settlement_doc_id    TEXT NOT NULL DEFAULT '',
		settlement_result    JSONB,
		finalized            BOOLEAN NOT NULL DEFAULT false,
		cancelled_by_expiry  BOOLEAN NOT NULL DEFAULT false,
		cancelled_at         TIMESTAMPTZ,
		marked_paid_manually BOOLEAN NOT NULL DEFAULT false,
		updated_at           TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS payment_orders_open_idx
		ON payment_orders (expires_at)
		WHERE NOT finalized AND NOT cancelled_by_expiry`,
	`CREATE TABLE IF NOT EXISTS declined_orders (
		id             BIGSERIAL PRIMARY KEY,
		ts             TIMESTAMPTZ NOT NULL,
		reason         TEXT NOT NULL,
		order_id       TEXT NOT NULL DEFAULT '',
		order_number   TEXT NOT NULL,
		phone          TEXT NOT NULL DEFAULT '',
		client_address TEXT NOT NULL DEFAULT '',
		price_minor    BIGINT NOT NULL,
		gateway_result JSONB
	)`,
	`CREATE TABLE IF NOT EXISTS settlement_attempts (
		id           BIGSERIAL PRIMARY KEY,
		ts           TIMESTAMPTZ NOT NULL,
		order_id     TEXT NOT NULL DEFAULT '',
		order_number TEXT NOT NULL,
		doc_id       TEXT NOT NULL,
		manual       BOOLEAN NOT NULL,
		ok           BOOLEAN NOT NULL,
		http_status  INT NOT NULL DEFAULT 0,
		request      JSONB,
		response     JSONB,
		error        TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS settlement_attempts_order_idx ON settlement_attempts (order_number)`,
	`CREATE TABLE IF NOT EXISTS order_events (
		event_id       TEXT PRIMARY KEY,
		event_type     TEXT NOT NULL,
		event_version  INT NOT NULL,
		occurred_at    TIMESTAMPTZ NOT NULL,
		producer       TEXT NOT NULL,
		trace_id       TEXT NOT NULL DEFAULT '',
		correlation_id TEXT NOT NULL DEFAULT '',
		payload        JSONB,
		recorded_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS order_events_correlation_idx ON order_events (correlation_id, occurred_at)`,
}
