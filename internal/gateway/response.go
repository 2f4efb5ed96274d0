package gateway

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Gateway codes that mark a captured payment.
const (
	OrderStatusDeposited  = "2"
	PaymentStateDeposited = "DEPOSITED"
)

// Code is a gateway code that may arrive as a JSON string or number.
type Code string

func (c *Code) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*c = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*c = Code(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*c = Code(n.String())
	return nil
}

// Amount is a minor-unit amount that may arrive as a string or number.
type Amount int64

func (a *Amount) UnmarshalJSON(b []byte) error {
	var c Code
	if err := c.UnmarshalJSON(b); err != nil {
		return err
	}
	if c == "" {
		*a = 0
		return nil
	}
	f, err := strconv.ParseFloat(string(c), 64)
	if err != nil {
		return err
	}
	*a = Amount(f)
	return nil
}

type PaymentAmountInfo struct {
	PaymentState    string `json:"paymentState,omitempty"`
	ApprovedAmount  Amount `json:"approvedAmount"`
	DepositedAmount Amount `json:"depositedAmount,omitempty"`
	RefundedAmount  Amount `json:"refundedAmount,omitempty"`
	TotalAmount     Amount `json:"totalAmount,omitempty"`
}

// Response is the union of the register, status and decline bodies.
type Response struct {
	ErrorCode             Code               `json:"errorCode,omitempty"`
	ErrorMessage          string             `json:"errorMessage,omitempty"`
	OrderID               string             `json:"orderId,omitempty"`
	OrderNumber           string             `json:"orderNumber,omitempty"`
	FormURL               string             `json:"formUrl,omitempty"`
	OrderStatus           *Code              `json:"orderStatus,omitempty"`
	ActionCode            *Code              `json:"actionCode,omitempty"`
	ActionCodeDescription string             `json:"actionCodeDescription,omitempty"`
	Amount                Amount             `json:"amount,omitempty"`
	PaymentAmountInfo     *PaymentAmountInfo `json:"paymentAmountInfo,omitempty"`
}

// LogicalError reports a gateway-level rejection carried in a 2xx body.
func (r *Response) LogicalError() bool {
	return r.ErrorCode != "" && r.ErrorCode != "0"
}

// IsPaid: orderStatus is "deposited" with a positive approved amount,
// or the payment state says DEPOSITED. Either shape is sufficient.
func IsPaid(r *Response) bool {
	if r == nil {
		return false
	}
	var approved Amount
	var state string
	if r.PaymentAmountInfo != nil {
		approved = r.PaymentAmountInfo.ApprovedAmount
		state = r.PaymentAmountInfo.PaymentState
	}
	if r.OrderStatus != nil && *r.OrderStatus == OrderStatusDeposited && approved > 0 {
		return true
	}
	return state == PaymentStateDeposited
}

// Result is what every gateway call returns; transport and HTTP
// failures land in OK=false rather than an error value.
type Result struct {
	OK         bool            `json:"ok"`
	HTTPStatus int             `json:"status,omitempty"`
	Data       *Response       `json:"-"`
	Raw        json.RawMessage `json:"data,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// JSON is the audit form of r.
func (r Result) JSON() json.RawMessage {
	b, err := json.Marshal(r)
	if err != nil {
		return nil
	}
	return b
}
