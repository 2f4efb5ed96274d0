package payment

import (
	"context"
	"time"

	"github.com/ariefcatur/go-payment-orders/internal/logger"
	"github.com/ariefcatur/go-payment-orders/internal/orders"
	"go.uber.org/zap"
)

type Counts struct {
	ByPhone   int
	ByAddress int
}

// Guard caps concurrently active orders per phone and per client
// address. Counting is lock-free: two racing creates may both pass.
type Guard struct {
	ledger        orders.Ledger
	maxPerPhone   int
	maxPerAddress int
	now           func() time.Time
}

func NewGuard(l orders.Ledger, maxPerPhone, maxPerAddress int, now func() time.Time) *Guard {
	if now == nil {
		now = time.Now
	}
	return &Guard{ledger: l, maxPerPhone: maxPerPhone, maxPerAddress: maxPerAddress, now: now}
}

func (g *Guard) CountActive(ctx context.Context, phone, address string) (Counts, error) {
	active, err := g.ledger.ListActive(ctx, g.now())
	if err != nil {
		return Counts{}, err
	}
	var c Counts
	for i := range active {
		if phone != "" && active[i].Phone == phone {
			c.ByPhone++
		}
		if address != "" && active[i].ClientAddress == address {
			c.ByAddress++
		}
	}
	return c, nil
}

// Admit returns an *AdmissionError above a ceiling. A ceiling <= 0 is
// disabled; a ledger failure admits the order.
func (g *Guard) Admit(ctx context.Context, phone, address string) error {
	c, err := g.CountActive(ctx, phone, address)
	if err != nil {
		logger.Log.Warn("admission count failed, admitting", zap.Error(err))
		return nil
	}
	if g.maxPerPhone > 0 && c.ByPhone >= g.maxPerPhone {
		return &AdmissionError{Scope: "phone", Active: c.ByPhone, Limit: g.maxPerPhone}
	}
	if g.maxPerAddress > 0 && c.ByAddress >= g.maxPerAddress {
		return &AdmissionError{Scope: "address", Active: c.ByAddress, Limit: g.maxPerAddress}
	}
	return nil
}
