package orders

import (
	"encoding/json"
	"time"
)

const (
	EventOrderCreated     = "OrderCreated"
	EventOrderPaid        = "OrderPaid"
	EventOrderExpired     = "OrderExpired"
	EventOrderMarkedPaid  = "OrderMarkedPaid"
	EventSettlementFailed = "SettlementFailed"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order number
	Payload       json.RawMessage `json:"payload"`
}

// ---- payloads ----

type OrderCreatedPayload struct {
	OrderID     string    `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	ServiceID   string    `json:"service_id"`
	PriceMinor  int64     `json:"price_minor"`
	Phone       string    `json:"phone"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type OrderPaidPayload struct {
	OrderID     string `json:"order_id"`
	OrderNumber string `json:"order_number"`
	PriceMinor  int64  `json:"price_minor"`
	DocID       string `json:"doc_id"`
	Manual      bool   `json:"manual"`
}

type OrderExpiredPayload struct {
	OrderID     string `json:"order_id"`
	OrderNumber string `json:"order_number"`
	Reason      string `json:"reason"`
	DeclineOK   bool   `json:"decline_ok"`
}

type SettlementFailedPayload struct {
	OrderID     string `json:"order_id"`
	OrderNumber string `json:"order_number"`
	HTTPStatus  int    `json:"http_status,omitempty"`
	Error       string `json:"error,omitempty"`
}
