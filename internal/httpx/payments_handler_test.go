package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/ariefcatur/go-payment-orders/internal/config"
	"github.com/ariefcatur/go-payment-orders/internal/gateway"
	"github.com/ariefcatur/go-payment-orders/internal/orders"
	"github.com/ariefcatur/go-payment-orders/internal/payment"
	"github.com/ariefcatur/go-payment-orders/internal/redisx"
	"github.com/ariefcatur/go-payment-orders/internal/settlement"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePayments struct {
	mu      sync.Mutex
	creates []payment.CreateRequest
	keys    []string

	createErr error
	statusErr error
	markErr   error
	already   bool
}

func (f *fakePayments) Create(_ context.Context, req payment.CreateRequest) (*payment.CreateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates = append(f.creates, req)
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &payment.CreateResult{OrderID: "abc", OrderNumber: "o1", FormURL: "https://pay.test/form/abc"}, nil
}

func (f *fakePayments) Status(_ context.Context, key string) (*payment.StatusResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, key)
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	if key == "" {
		return nil, &payment.ValidationError{Msg: "orderId required"}
	}
	st := gateway.Code(gateway.OrderStatusDeposited)
	return &payment.StatusResult{
		OrderID:           key,
		OrderNumber:       "o1",
		OrderStatus:       &st,
		PaymentAmountInfo: &gateway.PaymentAmountInfo{PaymentState: "DEPOSITED", ApprovedAmount: 50000},
		Paid:              true,
		Settlement:        &settlement.Result{OK: true, HTTPStatus: 200, DocID: "doc-1"},
	}, nil
}

func (f *fakePayments) MarkPaid(_ context.Context, key string) (*payment.MarkPaidResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, key)
	if f.markErr != nil {
		return nil, f.markErr
	}
	o := &orders.Order{OrderID: "abc", OrderNumber: "o1", SettlementSent: true, Finalized: true, MarkedPaidManually: true}
	if f.already {
		return &payment.MarkPaidResult{Already: true, Order: o}, nil
	}
	return &payment.MarkPaidResult{Settlement: &settlement.Result{OK: true, DocID: "doc-1"}, Order: o}, nil
}

func newServer(t *testing.T, h *PaymentsHandler) *httptest.Server {
	t.Helper()
	r := NewRouter(0)
	h.Register(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var m map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&m))
	return m
}

func TestCreateJSONAcceptsAliasesAndNumbers(t *testing.T) {
	fp := &fakePayments{}
	srv := newServer(t, &PaymentsHandler{Service: fp, Policy: config.Policy{ReturnPath: "/return"}})

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/pay/create",
		strings.NewReader(`{"serviceId":42,"serviceName":"Swim","price":500.5,"phone":"+79001112233","backUrl":"https://shop/x"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode(t, resp)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "abc", body["orderId"])
	assert.Equal(t, "o1", body["orderNumber"])
	assert.Equal(t, "https://pay.test/form/abc", body["formUrl"])

	require.Len(t, fp.creates, 1)
	got := fp.creates[0]
	assert.Equal(t, "42", got.ServiceID)
	assert.Equal(t, "Swim", got.ServiceName)
	assert.Equal(t, "500.5", got.Price)
	assert.Equal(t, "https://shop/x", got.BackURL)
	assert.Equal(t, "203.0.113.9", got.ClientAddress)
	assert.Equal(t, "http://"+strings.TrimPrefix(srv.URL, "http://")+"/return", got.ReturnURL)
}

func TestCreateFormBody(t *testing.T) {
	fp := &fakePayments{}
	srv := newServer(t, &PaymentsHandler{Service: fp, Policy: config.Policy{ReturnURL: "https://shop.test/ret"}})

	resp, err := http.PostForm(srv.URL+"/pay/create", url.Values{
		"service_id":   {"7"},
		"service_name": {"Gym"},
		"price":        {"499,90"},
		"phone":        {"+79005556677"},
		"back_url":     {"https://shop/y"},
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	require.Len(t, fp.creates, 1)
	assert.Equal(t, "7", fp.creates[0].ServiceID)
	assert.Equal(t, "499,90", fp.creates[0].Price)
	assert.Equal(t, "https://shop.test/ret", fp.creates[0].ReturnURL)
}

func TestCreateIdempotencyReplay(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	fp := &fakePayments{}
	srv := newServer(t, &PaymentsHandler{Service: fp, Idem: &redisx.IdempotencyStore{RDB: rdb}})

	post := func() *http.Response {
		req, _ := http.NewRequest(http.MethodPost, srv.URL+"/pay/create",
			strings.NewReader(`{"service_id":"1","service_name":"x","price":"10","phone":"p"}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotency-Key", "k-1")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		return resp
	}

	first := post()
	require.Equal(t, http.StatusOK, first.StatusCode)
	firstBody := decode(t, first)

	second := post()
	require.Equal(t, http.StatusOK, second.StatusCode)
	assert.Equal(t, "true", second.Header.Get("Idempotent-Replayed"))
	assert.Equal(t, firstBody, decode(t, second))
	assert.Len(t, fp.creates, 1)
}

func TestErrorMapping(t *testing.T) {
	logical := &payment.GatewayError{Op: "register", Logical: true, Result: gateway.Result{
		OK: true, Data: &gateway.Response{ErrorCode: "1", ErrorMessage: "Bad order"},
	}}
	cases := []struct {
		name   string
		fp     *fakePayments
		method string
		path   string
		code   int
		check  func(t *testing.T, body map[string]any)
	}{
		{
			name: "validation", fp: &fakePayments{createErr: &payment.ValidationError{Msg: "Missing fields"}},
			method: http.MethodPost, path: "/pay/create", code: http.StatusBadRequest,
			check: func(t *testing.T, b map[string]any) { assert.Equal(t, "Missing fields", b["message"]) },
		},
		{
			name: "admission", fp: &fakePayments{createErr: &payment.AdmissionError{Scope: "phone", Active: 3, Limit: 3}},
			method: http.MethodPost, path: "/pay/create", code: http.StatusTooManyRequests,
			check: func(t *testing.T, b map[string]any) { assert.Equal(t, "phone", b["scope"]) },
		},
		{
			name: "logical gateway on create", fp: &fakePayments{createErr: logical},
			method: http.MethodPost, path: "/pay/create", code: http.StatusBadRequest,
			check: func(t *testing.T, b map[string]any) { assert.Equal(t, "Bad order", b["message"]) },
		},
		{
			name: "gateway transport", fp: &fakePayments{statusErr: &payment.GatewayError{Op: "status"}},
			method: http.MethodGet, path: "/pay/status?orderId=abc", code: http.StatusBadGateway,
			check: func(t *testing.T, b map[string]any) { assert.Equal(t, "gateway_status_failed", b["message"]) },
		},
		{
			name: "expired", fp: &fakePayments{statusErr: &payment.ExpiredError{Decline: gateway.Result{OK: true}}},
			method: http.MethodGet, path: "/pay/status?orderId=abc", code: http.StatusRequestTimeout,
			check: func(t *testing.T, b map[string]any) {
				assert.Equal(t, false, b["ok"])
				assert.Equal(t, true, b["timeout"])
				assert.NotEmpty(t, b["message"])
			},
		},
		{
			name: "not found", fp: &fakePayments{markErr: payment.ErrOrderNotFound},
			method: http.MethodPost, path: "/pay/mark_paid?orderId=zzz", code: http.StatusNotFound,
			check: func(t *testing.T, b map[string]any) { assert.Equal(t, "meta_not_found", b["message"]) },
		},
		{
			name: "settlement", fp: &fakePayments{markErr: &payment.SettlementError{Result: settlement.Result{HTTPStatus: 500, Error: "HTTP 500"}}},
			method: http.MethodPost, path: "/pay/mark_paid?orderId=abc", code: http.StatusBadGateway,
			check: func(t *testing.T, b map[string]any) { assert.NotNil(t, b["fastSale"]) },
		},
		{
			name: "missing order id", fp: &fakePayments{},
			method: http.MethodGet, path: "/pay/status", code: http.StatusBadRequest,
			check: func(t *testing.T, b map[string]any) { assert.Equal(t, "orderId required", b["message"]) },
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := newServer(t, &PaymentsHandler{Service: tc.fp})
			req, _ := http.NewRequest(tc.method, srv.URL+tc.path, strings.NewReader(`{}`))
			req.Header.Set("Content-Type", "application/json")
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			assert.Equal(t, tc.code, resp.StatusCode)
			tc.check(t, decode(t, resp))
		})
	}
}

func TestStatusResponseShape(t *testing.T) {
	fp := &fakePayments{}
	srv := newServer(t, &PaymentsHandler{Service: fp})

	resp, err := http.Get(srv.URL + "/pay/status?orderId=abc")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	b := decode(t, resp)
	assert.Equal(t, true, b["ok"])
	assert.Equal(t, true, b["paid"])
	assert.Equal(t, "abc", b["orderId"])
	assert.Equal(t, "2", b["orderStatus"])
	assert.NotNil(t, b["paymentAmountInfo"])
	assert.NotNil(t, b["fastSale"])
}

func TestMarkPaidAdminToken(t *testing.T) {
	fp := &fakePayments{already: true}
	srv := newServer(t, &PaymentsHandler{Service: fp, AdminToken: "s3cret"})

	resp, err := http.Post(srv.URL+"/pay/mark_paid?orderId=abc", "application/json", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
	assert.Empty(t, fp.keys)

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/pay/mark_paid?orderId=abc", nil)
	req.Header.Set("X-Admin-Token", "s3cret")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	b := decode(t, resp)
	assert.Equal(t, true, b["ok"])
	assert.Equal(t, true, b["already"])
	meta, ok := b["meta"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, meta["fastSaleSent"])
}

func TestHealthz(t *testing.T) {
	srv := newServer(t, &PaymentsHandler{Service: &fakePayments{}})
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestClientAddress(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.1:5555"
	assert.Equal(t, "192.0.2.1", clientAddress(r))
	r.Header.Set("X-Forwarded-For", " 198.51.100.2 , 10.0.0.1")
	assert.Equal(t, "198.51.100.2", clientAddress(r))
}
