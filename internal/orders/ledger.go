package orders

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound       = errors.New("order not found")
	ErrAlreadySettled = errors.New("order already settled")
)

// Ledger stores one record per order, reachable by either its gateway
// id or its order number.
type Ledger interface {
	Put(ctx context.Context, o *Order) error
	// Get returns ErrNotFound when no order has the key.
	Get(ctx context.Context, key string) (*Order, error)
	Delete(ctx context.Context, key string) error
	ListActive(ctx context.Context, now time.Time) ([]Order, error)
	// ListExpired returns orders that outlived their TTL without being
	// cancelled or finalized.
	ListExpired(ctx context.Context, now time.Time) ([]Order, error)
	// MarkSettled persists o only if the stored record has not been
	// settled yet; otherwise ErrAlreadySettled.
	MarkSettled(ctx context.Context, o *Order) error
}

// AuditLog is append-only.
type AuditLog interface {
	RecordDeclined(ctx context.Context, rec DeclinedRecord) error
	RecordSettlementAttempt(ctx context.Context, a SettlementAttempt) error
}
