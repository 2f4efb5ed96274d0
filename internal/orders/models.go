package orders

import (
	"encoding/json"
	"time"
)

// DefaultTTL applies when an order is stored without its own TTL.
const DefaultTTL = 5 * time.Minute

// Order is one attempted payment. OrderID is assigned by the gateway,
// OrderNumber by us; both address the same record in the Ledger.
type Order struct {
	OrderID     string        `json:"orderId,omitempty"`
	OrderNumber string        `json:"orderNumber"`
	CreatedAt   time.Time     `json:"created"`
	TTL         time.Duration `json:"ttlMs"`
	ExpiresAt   time.Time     `json:"expiresAt"`

	ServiceID     string `json:"serviceId"`
	ServiceName   string `json:"serviceName"`
	PriceMinor    int64  `json:"amount_kop"`
	Phone         string `json:"phone"`
	ClientAddress string `json:"clientIp"`
	BackURL       string `json:"backUrl,omitempty"`
	FormURL       string `json:"formUrl"`

	SettlementSent   bool            `json:"fastSaleSent"`
	SettlementAt     *time.Time      `json:"fastSaleAt,omitempty"`
	SettlementDocID  string          `json:"docId,omitempty"`
	SettlementResult json.RawMessage `json:"fastSaleResult,omitempty"`

	Finalized          bool       `json:"paymentFinalized"`
	CancelledByExpiry  bool       `json:"cancelledByTTL"`
	CancelledAt        *time.Time `json:"cancelledAt,omitempty"`
	MarkedPaidManually bool       `json:"markedPaidManually"`
}

// MarshalJSON renders TTL in milliseconds.
func (o Order) MarshalJSON() ([]byte, error) {
	type alias Order
	return json.Marshal(struct {
		alias
		TTL int64 `json:"ttlMs"`
	}{alias: alias(o), TTL: o.TTL.Milliseconds()})
}

func (o *Order) UnmarshalJSON(b []byte) error {
	type alias Order
	aux := struct {
		*alias
		TTL int64 `json:"ttlMs"`
	}{alias: (*alias)(o)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	o.TTL = time.Duration(aux.TTL) * time.Millisecond
	return nil
}

func (o *Order) ttl() time.Duration {
	if o.TTL > 0 {
		return o.TTL
	}
	return DefaultTTL
}

// Keys lists every key the order is stored under.
func (o *Order) Keys() []string {
	if o.OrderID == "" {
		return []string{o.OrderNumber}
	}
	return []string{o.OrderID, o.OrderNumber}
}

// IsActive: not cancelled, not finalized and still within its TTL.
func (o *Order) IsActive(now time.Time) bool {
	if o.CancelledByExpiry || o.Finalized {
		return false
	}
	return now.Sub(o.CreatedAt) <= o.ttl()
}

// IsExpired reports an order that outlived its TTL but was never
// cancelled or finalized; such orders must be driven to EXPIRED.
func (o *Order) IsExpired(now time.Time) bool {
	if o.CancelledByExpiry || o.Finalized {
		return false
	}
	return now.Sub(o.CreatedAt) > o.ttl()
}

// StoredState is the state recorded on o, ignoring the clock.
func (o *Order) StoredState() State {
	switch {
	case o.CancelledByExpiry:
		return StateExpired
	case o.Finalized && o.MarkedPaidManually:
		return StateManuallyFinalized
	case o.Finalized:
		return StatePaid
	default:
		return StateActive
	}
}

// State is StoredState with an overdue ACTIVE order reported as EXPIRED.
func (o *Order) State(now time.Time) State {
	st := o.StoredState()
	if st == StateActive && o.IsExpired(now) {
		return StateExpired
	}
	return st
}

// Clone returns a deep copy safe to hand across goroutines.
func (o *Order) Clone() *Order {
	c := *o
	if o.SettlementAt != nil {
		t := *o.SettlementAt
		c.SettlementAt = &t
	}
	if o.CancelledAt != nil {
		t := *o.CancelledAt
		c.CancelledAt = &t
	}
	if o.SettlementResult != nil {
		c.SettlementResult = append(json.RawMessage(nil), o.SettlementResult...)
	}
	return &c
}

// DeclinedRecord is written once per order cancelled by expiry.
type DeclinedRecord struct {
	At            time.Time       `json:"ts"`
	Reason        string          `json:"reason"`
	OrderID       string          `json:"orderId"`
	OrderNumber   string          `json:"orderNumber"`
	Phone         string          `json:"phone"`
	ClientAddress string          `json:"ip"`
	PriceMinor    int64           `json:"amount_kop"`
	Decline       json.RawMessage `json:"alfa"`
}

// SettlementAttempt is one request/response pair sent to the
// fulfillment system, successful or not.
type SettlementAttempt struct {
	At          time.Time       `json:"ts"`
	OrderID     string          `json:"orderId"`
	OrderNumber string          `json:"orderNumber"`
	DocID       string          `json:"docId"`
	Manual      bool            `json:"manual"`
	OK          bool            `json:"ok"`
	HTTPStatus  int             `json:"status"`
	Request     json.RawMessage `json:"request"`
	Response    json.RawMessage `json:"response,omitempty"`
	Error       string          `json:"error,omitempty"`
}
