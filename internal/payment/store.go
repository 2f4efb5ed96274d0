package payment

import (
	"context"
	"time"

	"github.com/ariefcatur/go-payment-orders/internal/orders"
)

// Ledger and audit calls run on contexts detached from the request, so
// each call gets its own deadline. That keeps the time spent under an
// order lock bounded by config.Config.LockBudget.
type boundedLedger struct {
	orders.Ledger
	timeout time.Duration
}

func bound(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}

func (l boundedLedger) Put(ctx context.Context, o *orders.Order) error {
	ctx, cancel := bound(ctx, l.timeout)
	defer cancel()
	return l.Ledger.Put(ctx, o)
}

func (l boundedLedger) Get(ctx context.Context, key string) (*orders.Order, error) {
	ctx, cancel := bound(ctx, l.timeout)
	defer cancel()
	return l.Ledger.Get(ctx, key)
}

func (l boundedLedger) Delete(ctx context.Context, key string) error {
	ctx, cancel := bound(ctx, l.timeout)
	defer cancel()
	return l.Ledger.Delete(ctx, key)
}

func (l boundedLedger) ListActive(ctx context.Context, now time.Time) ([]orders.Order, error) {
	ctx, cancel := bound(ctx, l.timeout)
	defer cancel()
	return l.Ledger.ListActive(ctx, now)
}

func (l boundedLedger) ListExpired(ctx context.Context, now time.Time) ([]orders.Order, error) {
	ctx, cancel := bound(ctx, l.timeout)
	defer cancel()
	return l.Ledger.ListExpired(ctx, now)
}

func (l boundedLedger) MarkSettled(ctx context.Context, o *orders.Order) error {
	ctx, cancel := bound(ctx, l.timeout)
	defer cancel()
	return l.Ledger.MarkSettled(ctx, o)
}

// BoundAudit gives every audit write its own deadline. The settlement
// dispatcher records attempts through it while the order lock is held.
func BoundAudit(a orders.AuditLog, timeout time.Duration) orders.AuditLog {
	if a == nil {
		return nil
	}
	return boundedAudit{AuditLog: a, timeout: timeout}
}

type boundedAudit struct {
	orders.AuditLog
	timeout time.Duration
}

func (a boundedAudit) RecordDeclined(ctx context.Context, rec orders.DeclinedRecord) error {
	ctx, cancel := bound(ctx, a.timeout)
	defer cancel()
	return a.AuditLog.RecordDeclined(ctx, rec)
}

func (a boundedAudit) RecordSettlementAttempt(ctx context.Context, at orders.SettlementAttempt) error {
	ctx, cancel := bound(ctx, a.timeout)
	defer cancel()
	return a.AuditLog.RecordSettlementAttempt(ctx, at)
}
