package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ariefcatur/go-payment-orders/internal/config"
	"github.com/ariefcatur/go-payment-orders/internal/gateway"
	"github.com/ariefcatur/go-payment-orders/internal/lock"
	"github.com/ariefcatur/go-payment-orders/internal/orders"
	"github.com/ariefcatur/go-payment-orders/internal/settlement"
	kafkago "github.com/segmentio/kafka-go"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeGateway struct {
	mu        sync.Mutex
	seq       int
	registers []gateway.RegisterRequest
	queried   []string
	declined  []string

	registerErr *gateway.Result // returned instead of a fresh id when set
	paid        bool
	declineOK   bool
}

func okResult(resp *gateway.Response) gateway.Result {
	raw, _ := json.Marshal(resp)
	return gateway.Result{OK: true, HTTPStatus: 200, Data: resp, Raw: raw}
}

func (g *fakeGateway) Register(_ context.Context, req gateway.RegisterRequest) gateway.Result {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.registers = append(g.registers, req)
	if g.registerErr != nil {
		return *g.registerErr
	}
	g.seq++
	id := "abc"
	if g.seq > 1 {
		id = fmt.Sprintf("abc-%d", g.seq)
	}
	return okResult(&gateway.Response{OrderID: id, FormURL: "https://pay.test/form/" + id})
}

func (g *fakeGateway) QueryStatus(_ context.Context, orderID string) gateway.Result {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.queried = append(g.queried, orderID)
	status := gateway.Code("0")
	info := &gateway.PaymentAmountInfo{PaymentState: "CREATED"}
	if g.paid {
		status = gateway.OrderStatusDeposited
		info = &gateway.PaymentAmountInfo{PaymentState: gateway.PaymentStateDeposited, ApprovedAmount: 50000}
	}
	return okResult(&gateway.Response{
		ErrorCode:         "0",
		OrderNumber:       "from-gateway",
		OrderStatus:       &status,
		PaymentAmountInfo: info,
	})
}

func (g *fakeGateway) Decline(_ context.Context, orderID string) gateway.Result {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.declined = append(g.declined, orderID)
	if !g.declineOK {
		return gateway.Result{OK: false, HTTPStatus: 500, Error: "HTTP 500"}
	}
	return okResult(&gateway.Response{ErrorCode: "0"})
}

func (g *fakeGateway) setPaid(v bool) {
	g.mu.Lock()
	g.paid = v
	g.mu.Unlock()
}

func (g *fakeGateway) declines() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.declined...)
}

type fakeSettler struct {
	mu    sync.Mutex
	sent  []settlement.SendContext
	fails int // number of leading attempts that fail
	delay time.Duration
}

func (s *fakeSettler) Send(_ context.Context, o *orders.Order, sc settlement.SendContext) settlement.Result {
	time.Sleep(s.delay)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sc)
	if len(s.sent) <= s.fails {
		return settlement.Result{OK: false, HTTPStatus: 500, DocID: "doc-fail", Error: "HTTP 500"}
	}
	docID := o.SettlementDocID
	if docID == "" {
		docID = fmt.Sprintf("doc-%d", len(s.sent))
	}
	return settlement.Result{OK: true, HTTPStatus: 200, DocID: docID, Data: json.RawMessage(`{"result":true}`)}
}

func (s *fakeSettler) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type fakePublisher struct {
	mu    sync.Mutex
	types []string
}

func (p *fakePublisher) Publish(_, _ []byte, headers ...kafkago.Header) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, h := range headers {
		if h.Key == "x-event-type" {
			p.types = append(p.types, string(h.Value))
		}
	}
}

func (p *fakePublisher) events() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.types...)
}

// failingPut wraps a ledger whose writes are rejected.
type failingPut struct {
	orders.Ledger
}

func (failingPut) Put(context.Context, *orders.Order) error {
	return errors.New("connection refused")
}

type harness struct {
	svc    *Service
	ledger *orders.MemoryLedger
	audit  *orders.MemoryAudit
	gw     *fakeGateway
	settle *fakeSettler
	pub    *fakePublisher
	clock  *clock
	locker *lock.Keyed
}

func testPolicy() config.Policy {
	return config.Policy{
		TTL:           5 * time.Minute,
		MaxPerPhone:   3,
		MaxPerAddress: 20,
		Currency:      "810",
		Language:      "ru",
	}
}

func newHarness(opts ...func(*Deps)) *harness {
	h := &harness{
		ledger: orders.NewMemoryLedger(),
		audit:  &orders.MemoryAudit{},
		gw:     &fakeGateway{declineOK: true},
		settle: &fakeSettler{},
		pub:    &fakePublisher{},
		clock:  &clock{now: t0},
		locker: lock.NewKeyed(),
	}
	d := Deps{
		Ledger:      h.ledger,
		Audit:       h.audit,
		Gateway:     h.gw,
		Settler:     h.settle,
		Locker:      h.locker,
		Events:      h.pub,
		ServiceName: "pay-api-test",
		Now:         h.clock.Now,
	}
	for _, o := range opts {
		o(&d)
	}
	h.svc = NewService(d, testPolicy())
	return h
}

func createReq(phone string) CreateRequest {
	return CreateRequest{
		ServiceID:     "42",
		ServiceName:   "Swim",
		Price:         "500",
		Phone:         phone,
		ClientAddress: "10.0.0.1",
		ReturnURL:     "https://shop.test/return",
	}
}
