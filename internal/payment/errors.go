package payment

import (
	"errors"
	"fmt"

	"github.com/ariefcatur/go-payment-orders/internal/gateway"
	"github.com/ariefcatur/go-payment-orders/internal/settlement"
)

var ErrOrderNotFound = errors.New("meta_not_found")

// ValidationError is bad client input; never retried.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// AdmissionError: too many active orders for a phone or client address.
type AdmissionError struct {
	Scope  string // "phone" or "address"
	Active int
	Limit  int
}

func (e *AdmissionError) Error() string {
	return fmt.Sprintf("too many active unpaid orders for this %s (%d of %d)", e.Scope, e.Active, e.Limit)
}

// GatewayError wraps a failed gateway call. Logical is set when the
// gateway answered but rejected the request with a non-zero errorCode.
type GatewayError struct {
	Op      string
	Result  gateway.Result
	Logical bool
}

func (e *GatewayError) Error() string {
	if e.Logical && e.Result.Data != nil && e.Result.Data.ErrorMessage != "" {
		return e.Result.Data.ErrorMessage
	}
	return "gateway_" + e.Op + "_failed"
}

// ExpiredError is terminal for the order: it has been cancelled.
type ExpiredError struct {
	Decline gateway.Result
}

func (e *ExpiredError) Error() string { return "payment window expired, order cancelled" }

// SettlementError: downstream rejected or never received the sale.
type SettlementError struct {
	Result settlement.Result
}

func (e *SettlementError) Error() string {
	if e.Result.Error != "" {
		return "settlement failed: " + e.Result.Error
	}
	return "settlement failed"
}
