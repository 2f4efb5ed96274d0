package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ariefcatur/go-payment-orders/internal/config"
	"github.com/ariefcatur/go-payment-orders/internal/gateway"
	"github.com/ariefcatur/go-payment-orders/internal/lock"
	"github.com/ariefcatur/go-payment-orders/internal/logger"
	"github.com/ariefcatur/go-payment-orders/internal/orders"
	"github.com/ariefcatur/go-payment-orders/internal/settlement"
	"go.uber.org/zap"
)

// Gateway is satisfied by *gateway.Client.
type Gateway interface {
	Register(ctx context.Context, req gateway.RegisterRequest) gateway.Result
	QueryStatus(ctx context.Context, orderID string) gateway.Result
	Decline(ctx context.Context, orderID string) gateway.Result
}

// Settler is satisfied by *settlement.Dispatcher.
type Settler interface {
	Send(ctx context.Context, o *orders.Order, sc settlement.SendContext) settlement.Result
}

type Deps struct {
	Ledger      orders.Ledger
	Audit       orders.AuditLog
	Gateway     Gateway
	Settler     Settler
	Locker      lock.Locker
	Events      Publisher // optional
	ServiceName string
	Now         func() time.Time
}

// Service sequences create, status and mark_paid over the ledger, the
// gateway and the settlement dispatcher. Settlement for an order is
// sent at most once: every read-check-send-write runs under the
// order's lock and the final write is a compare-and-swap.
type Service struct {
	ledger  orders.Ledger
	gw      Gateway
	settler Settler
	locker  lock.Locker
	guard   *Guard
	reaper  *Reconciler
	events  emitter
	policy  config.Policy
	now     func() time.Time
}

func NewService(d Deps, policy config.Policy) *Service {
	now := d.Now
	if now == nil {
		now = time.Now
	}
	if policy.TTL <= 0 {
		policy.TTL = orders.DefaultTTL
	}
	ev := emitter{pub: d.Events, producer: d.ServiceName, now: now}
	ledger := boundedLedger{Ledger: d.Ledger, timeout: policy.StoreTimeout}
	audit := BoundAudit(d.Audit, policy.StoreTimeout)
	return &Service{
		ledger:  ledger,
		gw:      d.Gateway,
		settler: d.Settler,
		locker:  d.Locker,
		guard:   NewGuard(ledger, policy.MaxPerPhone, policy.MaxPerAddress, now),
		reaper:  &Reconciler{gw: d.Gateway, ledger: ledger, audit: audit, events: ev, now: now},
		events:  ev,
		policy:  policy,
		now:     now,
	}
}

type CreateRequest struct {
	ServiceID     string
	ServiceName   string
	Price         string // major units as entered by the client
	Phone         string
	ClientAddress string
	BackURL       string
	ReturnURL     string
}

type CreateResult struct {
	OrderID     string          `json:"orderId"`
	OrderNumber string          `json:"orderNumber"`
	FormURL     string          `json:"formUrl"`
	Raw         json.RawMessage `json:"raw,omitempty"`
	// Warning is set when the gateway accepted the order but the ledger
	// did not record it; later status polls will not find it.
	Warning string `json:"warning,omitempty"`
}

func (s *Service) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	req.ServiceID = strings.TrimSpace(req.ServiceID)
	req.ServiceName = strings.TrimSpace(req.ServiceName)
	req.Phone = strings.TrimSpace(req.Phone)
	req.BackURL = strings.TrimSpace(req.BackURL)
	if req.ServiceID == "" || req.ServiceName == "" || req.Phone == "" || strings.TrimSpace(req.Price) == "" {
		return nil, &ValidationError{Msg: "Missing fields"}
	}
	priceMinor, err := orders.ParsePrice(req.Price)
	if err != nil {
		return nil, &ValidationError{Msg: err.Error()}
	}

	if err := s.guard.Admit(ctx, req.Phone, req.ClientAddress); err != nil {
		return nil, err
	}

	ctx = context.WithoutCancel(ctx)
	now := s.now()
	number := orders.NewOrderNumber(now)
	log := logger.Log.With(zap.String("order_number", number), zap.String("phone", req.Phone))

	reg := s.gw.Register(ctx, gateway.RegisterRequest{
		AmountMinor: priceMinor,
		Currency:    s.policy.Currency,
		Language:    s.policy.Language,
		OrderNumber: number,
		ReturnURL:   withBackURL(req.ReturnURL, req.BackURL),
		ClientID:    req.Phone,
		Description: fmt.Sprintf("%s #%s", req.ServiceName, req.ServiceID),
	})
	if !reg.OK {
		return nil, &GatewayError{Op: "register", Result: reg}
	}
	if reg.Data.LogicalError() {
		log.Warn("gateway rejected order", zap.String("error_code", string(reg.Data.ErrorCode)), zap.String("error", reg.Data.ErrorMessage))
		return nil, &GatewayError{Op: "register", Result: reg, Logical: true}
	}

	o := &orders.Order{
		OrderID:       reg.Data.OrderID,
		OrderNumber:   number,
		CreatedAt:     now.UTC(),
		TTL:           s.policy.TTL,
		ExpiresAt:     now.UTC().Add(s.policy.TTL),
		ServiceID:     req.ServiceID,
		ServiceName:   req.ServiceName,
		PriceMinor:    priceMinor,
		Phone:         req.Phone,
		ClientAddress: req.ClientAddress,
		BackURL:       req.BackURL,
		FormURL:       reg.Data.FormURL,
	}
	res := &CreateResult{OrderID: o.OrderID, OrderNumber: number, FormURL: o.FormURL, Raw: reg.Raw}

	if err := s.ledger.Put(ctx, o); err != nil {
		log.Warn("order registered but not recorded", zap.String("order_id", o.OrderID), zap.Error(err))
		res.Warning = "order registered at the gateway but not recorded"
	}

	s.events.emit(ctx, orders.EventOrderCreated, number, orders.OrderCreatedPayload{
		OrderID:     o.OrderID,
		OrderNumber: number,
		ServiceID:   o.ServiceID,
		PriceMinor:  priceMinor,
		Phone:       o.Phone,
		ExpiresAt:   o.ExpiresAt,
	})
	log.Info("order created", zap.String("order_id", o.OrderID), zap.Int64("price_minor", priceMinor))
	return res, nil
}

func withBackURL(returnURL, backURL string) string {
	if backURL == "" {
		return returnURL
	}
	sep := "?"
	if strings.Contains(returnURL, "?") {
		sep = "&"
	}
	return returnURL + sep + "back_url=" + url.QueryEscape(backURL)
}

type StatusResult struct {
	OrderID               string                     `json:"orderId"`
	OrderNumber           string                     `json:"orderNumber"`
	OrderStatus           *gateway.Code              `json:"orderStatus"`
	ActionCode            *gateway.Code              `json:"actionCode,omitempty"`
	ActionCodeDescription string                     `json:"actionCodeDescription,omitempty"`
	ErrorCode             gateway.Code               `json:"errorCode,omitempty"`
	ErrorMessage          string                     `json:"errorMessage,omitempty"`
	PaymentAmountInfo     *gateway.PaymentAmountInfo `json:"paymentAmountInfo"`
	Paid                  bool                       `json:"paid"`
	Raw                   json.RawMessage            `json:"raw,omitempty"`
	// Settlement is set when this call reported the sale.
	Settlement *settlement.Result `json:"-"`
}

// Status polls the gateway for key (gateway id or order number). A
// stored order past its TTL is cancelled instead (*ExpiredError). The
// first poll that sees the order paid reports the sale downstream.
func (s *Service) Status(ctx context.Context, key string) (*StatusResult, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, &ValidationError{Msg: "orderId required"}
	}
	// waiting for the lock follows the caller; work under it does not
	lockCtx := ctx
	ctx = context.WithoutCancel(ctx)

	o, err := s.ledger.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, orders.ErrNotFound) {
			logger.Log.Warn("ledger read failed, polling gateway only", zap.String("key", key), zap.Error(err))
		}
		return s.pollGateway(ctx, key, nil)
	}

	unlock, err := s.locker.Lock(lockCtx, o.OrderNumber)
	if err != nil {
		return nil, fmt.Errorf("lock order %s: %w", o.OrderNumber, err)
	}
	defer unlock()

	o, err = s.ledger.Get(ctx, o.OrderNumber)
	if errors.Is(err, orders.ErrNotFound) {
		// removed by a concurrent expiry while we waited
		return nil, &ExpiredError{}
	}
	if err != nil {
		return nil, fmt.Errorf("reload order: %w", err)
	}
	if o.StoredState() == orders.StateExpired {
		// cancelled earlier but its record could not be removed
		return nil, &ExpiredError{}
	}

	if o.IsExpired(s.now()) {
		return nil, &ExpiredError{Decline: s.reaper.Expire(ctx, o, ReasonTTL)}
	}
	return s.pollGateway(ctx, key, o)
}

func (s *Service) pollGateway(ctx context.Context, key string, o *orders.Order) (*StatusResult, error) {
	gatewayID := key
	if o != nil && o.OrderID != "" {
		gatewayID = o.OrderID
	}
	st := s.gw.QueryStatus(ctx, gatewayID)
	if !st.OK {
		return nil, &GatewayError{Op: "status", Result: st}
	}

	d := st.Data
	res := &StatusResult{
		OrderID:               d.OrderID,
		OrderNumber:           d.OrderNumber,
		OrderStatus:           d.OrderStatus,
		ActionCode:            d.ActionCode,
		ActionCodeDescription: d.ActionCodeDescription,
		ErrorCode:             d.ErrorCode,
		ErrorMessage:          d.ErrorMessage,
		PaymentAmountInfo:     d.PaymentAmountInfo,
		Paid:                  gateway.IsPaid(d),
		Raw:                   st.Raw,
	}
	if res.OrderID == "" {
		res.OrderID = gatewayID
	}

	if res.Paid && o != nil && !o.SettlementSent && orders.CanTransition(o.StoredState(), orders.StatePaid) {
		r := s.settle(ctx, o, settlement.SendContext{GatewayStatus: st.Raw})
		res.Settlement = &r
	}
	return res, nil
}

type MarkPaidResult struct {
	Already    bool
	Settlement *settlement.Result
	Order      *orders.Order
}

// MarkPaid finalizes an order without consulting the gateway. Calling
// it again after a successful settlement is a no-op.
func (s *Service) MarkPaid(ctx context.Context, key string) (*MarkPaidResult, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, &ValidationError{Msg: "orderId required"}
	}
	// waiting for the lock follows the caller; work under it does not
	lockCtx := ctx
	ctx = context.WithoutCancel(ctx)

	o, err := s.load(ctx, key)
	if err != nil {
		return nil, err
	}
	unlock, err := s.locker.Lock(lockCtx, o.OrderNumber)
	if err != nil {
		return nil, fmt.Errorf("lock order %s: %w", o.OrderNumber, err)
	}
	defer unlock()

	if o, err = s.load(ctx, o.OrderNumber); err != nil {
		return nil, err
	}
	if o.SettlementSent {
		return &MarkPaidResult{Already: true, Order: o}, nil
	}
	if !orders.CanTransition(o.StoredState(), orders.StateManuallyFinalized) {
		return nil, &ExpiredError{}
	}

	r := s.settle(ctx, o, settlement.SendContext{Manual: true})
	if !r.OK {
		return nil, &SettlementError{Result: r}
	}
	return &MarkPaidResult{Settlement: &r, Order: o}, nil
}

func (s *Service) load(ctx context.Context, key string) (*orders.Order, error) {
	o, err := s.ledger.Get(ctx, key)
	if errors.Is(err, orders.ErrNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load order %s: %w", key, err)
	}
	return o, nil
}

// settle sends the sale and, on success, persists settlementSent and
// finalized on o under every key. On failure o is left untouched so the
// next poll retries. Callers hold the order lock.
func (s *Service) settle(ctx context.Context, o *orders.Order, sc settlement.SendContext) settlement.Result {
	manual := sc.Manual
	r := s.settler.Send(ctx, o, sc)
	if !r.OK {
		s.events.emit(ctx, orders.EventSettlementFailed, o.OrderNumber, orders.SettlementFailedPayload{
			OrderID:     o.OrderID,
			OrderNumber: o.OrderNumber,
			HTTPStatus:  r.HTTPStatus,
			Error:       r.Error,
		})
		return r
	}

	at := s.now().UTC()
	o.SettlementSent = true
	o.Finalized = true
	o.MarkedPaidManually = manual
	o.SettlementAt = &at
	o.SettlementDocID = r.DocID
	o.SettlementResult = r.JSON()
	s.persistSettled(ctx, o)

	eventType := orders.EventOrderPaid
	if manual {
		eventType = orders.EventOrderMarkedPaid
	}
	s.events.emit(ctx, eventType, o.OrderNumber, orders.OrderPaidPayload{
		OrderID:     o.OrderID,
		OrderNumber: o.OrderNumber,
		PriceMinor:  o.PriceMinor,
		DocID:       r.DocID,
		Manual:      manual,
	})
	return r
}

const persistAttempts = 3

func (s *Service) persistSettled(ctx context.Context, o *orders.Order) {
	log := logger.Log.With(zap.String("order_number", o.OrderNumber), zap.String("order_id", o.OrderID))
	var err error
	for i := 1; i <= persistAttempts; i++ {
		err = s.ledger.MarkSettled(ctx, o)
		switch {
		case err == nil:
			return
		case errors.Is(err, orders.ErrAlreadySettled):
			log.Error("settlement flag already set by another process, sale reported twice", zap.String("doc_id", o.SettlementDocID))
			return
		case errors.Is(err, orders.ErrNotFound):
			log.Error("settled order vanished from ledger")
			return
		}
		time.Sleep(time.Duration(i) * 100 * time.Millisecond)
	}
	log.Error("settlement sent but flag not persisted; next poll may resend", zap.Error(err))
}

// Sweep expires every stale order nobody polled. It is hygiene only;
// Status performs the same reconciliation lazily.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	stale, err := s.ledger.ListExpired(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("list expired: %w", err)
	}
	n := 0
	for i := range stale {
		if ctx.Err() != nil {
			return n, ctx.Err()
		}
		if s.expireOne(ctx, stale[i].OrderNumber) {
			n++
		}
	}
	return n, nil
}

func (s *Service) expireOne(ctx context.Context, number string) bool {
	unlock, err := s.locker.Lock(ctx, number)
	if err != nil {
		logger.Log.Warn("sweep lock failed", zap.String("order_number", number), zap.Error(err))
		return false
	}
	defer unlock()

	o, err := s.ledger.Get(ctx, number)
	if err != nil || !o.IsExpired(s.now()) {
		return false
	}
	s.reaper.Expire(context.WithoutCancel(ctx), o, ReasonSweep)
	return true
}
