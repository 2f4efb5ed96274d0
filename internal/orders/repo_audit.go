package orders

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditRepo appends to declined_orders and settlement_attempts. Rows
// are never updated or deleted.
type AuditRepo struct{ DB *pgxpool.Pool }

var _ AuditLog = (*AuditRepo)(nil)

func nullJSON(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}

func (r *AuditRepo) RecordDeclined(ctx context.Context, rec DeclinedRecord) error {
	_, err := r.DB.Exec(ctx, `
		INSERT INTO declined_orders (ts, reason, order_id, order_number, phone, client_address, price_minor, gateway_result)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.At, rec.Reason, rec.OrderID, rec.OrderNumber, rec.Phone, rec.ClientAddress, rec.PriceMinor, nullJSON(rec.Decline),
	)
	if err != nil {
		return fmt.Errorf("record declined %s: %w", rec.OrderNumber, err)
	}
	return nil
}

func (r *AuditRepo) RecordSettlementAttempt(ctx context.Context, a SettlementAttempt) error {
	_, err := r.DB.Exec(ctx, `
		INSERT INTO settlement_attempts (ts, order_id, order_number, doc_id, manual, ok, http_status, request, response, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.At, a.OrderID, a.OrderNumber, a.DocID, a.Manual, a.OK, a.HTTPStatus, nullJSON(a.Request), nullJSON(a.Response), a.Error,
	)
	if err != nil {
		return fmt.Errorf("record settlement attempt %s: %w", a.OrderNumber, err)
	}
	return nil
}
