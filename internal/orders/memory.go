package orders

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryLedger keeps orders in process memory: one record per order
// number plus an index from gateway id to order number.
type MemoryLedger struct {
	mu       sync.RWMutex
	byNumber map[string]*Order
	byID     map[string]string
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		byNumber: make(map[string]*Order),
		byID:     make(map[string]string),
	}
}

// resolve maps either key to the order number. Caller holds mu.
func (m *MemoryLedger) resolve(key string) (string, bool) {
	if _, ok := m.byNumber[key]; ok {
		return key, true
	}
	n, ok := m.byID[key]
	return n, ok
}

func (m *MemoryLedger) Put(_ context.Context, o *Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.put(o)
	return nil
}

func (m *MemoryLedger) put(o *Order) {
	if prev, ok := m.byNumber[o.OrderNumber]; ok && prev.OrderID != "" && prev.OrderID != o.OrderID {
		delete(m.byID, prev.OrderID)
	}
	m.byNumber[o.OrderNumber] = o.Clone()
	if o.OrderID != "" {
		m.byID[o.OrderID] = o.OrderNumber
	}
}

func (m *MemoryLedger) Get(_ context.Context, key string) (*Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.resolve(key)
	if !ok {
		return nil, ErrNotFound
	}
	return m.byNumber[n].Clone(), nil
}

func (m *MemoryLedger) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.resolve(key)
	if !ok {
		return nil
	}
	if o := m.byNumber[n]; o.OrderID != "" {
		delete(m.byID, o.OrderID)
	}
	delete(m.byNumber, n)
	return nil
}

func (m *MemoryLedger) ListActive(_ context.Context, now time.Time) ([]Order, error) {
	return m.list(func(o *Order) bool { return o.IsActive(now) }), nil
}

func (m *MemoryLedger) ListExpired(_ context.Context, now time.Time) ([]Order, error) {
	return m.list(func(o *Order) bool { return o.IsExpired(now) }), nil
}

func (m *MemoryLedger) list(keep func(*Order) bool) []Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Order
	for _, o := range m.byNumber {
		if keep(o) {
			out = append(out, *o.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (m *MemoryLedger) MarkSettled(_ context.Context, o *Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.resolve(o.OrderNumber)
	if !ok {
		return ErrNotFound
	}
	if m.byNumber[n].SettlementSent {
		return ErrAlreadySettled
	}
	m.put(o)
	return nil
}

// MemoryAudit collects audit records in order of arrival.
type MemoryAudit struct {
	mu       sync.Mutex
	declined []DeclinedRecord
	attempts []SettlementAttempt
}

func (a *MemoryAudit) RecordDeclined(_ context.Context, rec DeclinedRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.declined = append(a.declined, rec)
	return nil
}

func (a *MemoryAudit) RecordSettlementAttempt(_ context.Context, at SettlementAttempt) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.attempts = append(a.attempts, at)
	return nil
}

func (a *MemoryAudit) Declined() []DeclinedRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]DeclinedRecord(nil), a.declined...)
}

func (a *MemoryAudit) Attempts() []SettlementAttempt {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]SettlementAttempt(nil), a.attempts...)
}
