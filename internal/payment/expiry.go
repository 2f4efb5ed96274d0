package payment

import (
	"context"
	"time"

	"github.com/ariefcatur/go-payment-orders/internal/gateway"
	"github.com/ariefcatur/go-payment-orders/internal/logger"
	"github.com/ariefcatur/go-payment-orders/internal/orders"
	"go.uber.org/zap"
)

const (
	ReasonTTL   = "ttl"
	ReasonSweep = "ttl_sweep"
)

// Reconciler drives orders past their TTL to EXPIRED. Cancellation is
// local and unconditional: a failed gateway decline is recorded but
// does not keep the order alive.
type Reconciler struct {
	gw     Gateway
	ledger orders.Ledger
	audit  orders.AuditLog
	events emitter
	now    func() time.Time
}

// Expire declines o at the gateway, appends a DeclinedRecord and
// removes o from the ledger under all of its keys. Callers hold the
// order lock.
func (r *Reconciler) Expire(ctx context.Context, o *orders.Order, reason string) gateway.Result {
	log := logger.Log.With(
		zap.String("order_number", o.OrderNumber),
		zap.String("order_id", o.OrderID),
		zap.String("reason", reason),
	)

	decl := gateway.Result{Error: "order was never registered at the gateway"}
	if o.OrderID != "" {
		decl = r.gw.Decline(ctx, o.OrderID)
	}
	if !decl.OK {
		log.Warn("gateway decline failed, cancelling locally", zap.String("error", decl.Error))
	}

	now := r.now().UTC()
	o.CancelledByExpiry = true
	o.CancelledAt = &now

	err := r.audit.RecordDeclined(ctx, orders.DeclinedRecord{
		At:            now,
		Reason:        reason,
		OrderID:       o.OrderID,
		OrderNumber:   o.OrderNumber,
		Phone:         o.Phone,
		ClientAddress: o.ClientAddress,
		PriceMinor:    o.PriceMinor,
		Decline:       decl.JSON(),
	})
	if err != nil {
		log.Error("declined record not written", zap.Error(err))
	}

	for _, key := range o.Keys() {
		if err := r.ledger.Delete(ctx, key); err != nil {
			log.Error("expired order not deleted, keeping it cancelled", zap.String("key", key), zap.Error(err))
			if err := r.ledger.Put(ctx, o); err != nil {
				log.Error("expired order not marked cancelled", zap.Error(err))
			}
			break
		}
	}

	r.events.emit(ctx, orders.EventOrderExpired, o.OrderNumber, orders.OrderExpiredPayload{
		OrderID:     o.OrderID,
		OrderNumber: o.OrderNumber,
		Reason:      reason,
		DeclineOK:   decl.OK,
	})
	log.Info("order expired", zap.Bool("decline_ok", decl.OK))
	return decl
}
