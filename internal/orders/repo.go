package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repo is the Postgres Ledger. order_number is the primary key and
// order_id a unique secondary column, so both keys resolve to one row.
type Repo struct{ DB *pgxpool.Pool }

var _ Ledger = (*Repo)(nil)

const orderColumns = `order_number, order_id, created_at, ttl_ms, expires_at,
	service_id, service_name, price_minor, phone, client_address, back_url, form_url,
	settlement_sent, settlement_at, settlement_doc_id, settlement_result,
	finalized, cancelled_by_expiry, cancelled_at, marked_paid_manually`

func scanOrder(row pgx.Row) (*Order, error) {
	var (
		o      Order
		id     *string
		ttlMs  int64
		result []byte
	)
	err := row.Scan(
		&o.OrderNumber, &id, &o.CreatedAt, &ttlMs, &o.ExpiresAt,
		&o.ServiceID, &o.ServiceName, &o.PriceMinor, &o.Phone, &o.ClientAddress, &o.BackURL, &o.FormURL,
		&o.SettlementSent, &o.SettlementAt, &o.SettlementDocID, &result,
		&o.Finalized, &o.CancelledByExpiry, &o.CancelledAt, &o.MarkedPaidManually,
	)
	if err != nil {
		return nil, err
	}
	if id != nil {
		o.OrderID = *id
	}
	o.TTL = time.Duration(ttlMs) * time.Millisecond
	if len(result) > 0 {
		o.SettlementResult = result
	}
	return &o, nil
}

func orderArgs(o *Order) []any {
	var result []byte
	if len(o.SettlementResult) > 0 {
		result = o.SettlementResult
	}
	return []any{
		o.OrderNumber, o.OrderID, o.CreatedAt, o.ttl().Milliseconds(), o.ExpiresAt,
		o.ServiceID, o.ServiceName, o.PriceMinor, o.Phone, o.ClientAddress, o.BackURL, o.FormURL,
		o.SettlementSent, o.SettlementAt, o.SettlementDocID, result,
		o.Finalized, o.CancelledByExpiry, o.CancelledAt, o.MarkedPaidManually,
	}
}

// Put upserts the order. settlement_sent and finalized are never reset
// once true.
func (r *Repo) Put(ctx context.Context, o *Order) error {
	_, err := r.DB.Exec(ctx, `
		INSERT INTO payment_orders (`+orderColumns+`)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		ON CONFLICT (order_number) DO UPDATE SET
			order_id             = EXCLUDED.order_id,
			form_url             = EXCLUDED.form_url,
			settlement_sent      = payment_orders.settlement_sent OR EXCLUDED.settlement_sent,
			settlement_at        = COALESCE(EXCLUDED.settlement_at, payment_orders.settlement_at),
			settlement_doc_id    = CASE WHEN payment_orders.settlement_sent THEN payment_orders.settlement_doc_id ELSE EXCLUDED.settlement_doc_id END,
			settlement_result    = COALESCE(EXCLUDED.settlement_result, payment_orders.settlement_result),
			finalized            = payment_orders.finalized OR EXCLUDED.finalized,
			cancelled_by_expiry  = EXCLUDED.cancelled_by_expiry,
			cancelled_at         = EXCLUDED.cancelled_at,
			marked_paid_manually = payment_orders.marked_paid_manually OR EXCLUDED.marked_paid_manually,
			updated_at           = now()`,
		orderArgs(o)...,
	)
	if err != nil {
		return fmt.Errorf("put order %s: %w", o.OrderNumber, err)
	}
	return nil
}

func (r *Repo) Get(ctx context.Context, key string) (*Order, error) {
	row := r.DB.QueryRow(ctx, `SELECT `+orderColumns+`
		FROM payment_orders WHERE order_number = $1 OR order_id = $1 LIMIT 1`, key)
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", key, err)
	}
	return o, nil
}

func (r *Repo) Delete(ctx context.Context, key string) error {
	if _, err := r.DB.Exec(ctx, `DELETE FROM payment_orders WHERE order_number = $1 OR order_id = $1`, key); err != nil {
		return fmt.Errorf("delete order %s: %w", key, err)
	}
	return nil
}

func (r *Repo) ListActive(ctx context.Context, now time.Time) ([]Order, error) {
	return r.list(ctx, `SELECT `+orderColumns+` FROM payment_orders
		WHERE NOT finalized AND NOT cancelled_by_expiry AND expires_at >= $1
		ORDER BY created_at`, now)
}

func (r *Repo) ListExpired(ctx context.Context, now time.Time) ([]Order, error) {
	return r.list(ctx, `SELECT `+orderColumns+` FROM payment_orders
		WHERE NOT finalized AND NOT cancelled_by_expiry AND expires_at < $1
		ORDER BY created_at`, now)
}

func (r *Repo) list(ctx context.Context, q string, now time.Time) ([]Order, error) {
	rows, err := r.DB.Query(ctx, q, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

// MarkSettled is the compare-and-swap on settlement_sent: only the
// first caller across all processes gets its row written.
func (r *Repo) MarkSettled(ctx context.Context, o *Order) error {
	ct, err := r.DB.Exec(ctx, `
		UPDATE payment_orders SET
			settlement_sent      = true,
			settlement_at        = $2,
			settlement_doc_id    = $3,
			settlement_result    = $4,
			finalized            = $5,
			marked_paid_manually = $6,
			updated_at           = now()
		WHERE order_number = $1 AND NOT settlement_sent`,
		o.OrderNumber, o.SettlementAt, o.SettlementDocID, []byte(o.SettlementResult), o.Finalized, o.MarkedPaidManually,
	)
	if err != nil {
		return fmt.Errorf("mark settled %s: %w", o.OrderNumber, err)
	}
	if ct.RowsAffected() == 1 {
		return nil
	}
	if _, err := r.Get(ctx, o.OrderNumber); err != nil {
		return err
	}
	return ErrAlreadySettled
}
