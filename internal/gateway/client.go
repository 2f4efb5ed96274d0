package gateway

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ariefcatur/go-payment-orders/internal/config"
	"github.com/ariefcatur/go-payment-orders/internal/logger"
	"go.uber.org/zap"
)

var (
	ErrNoBaseURL      = errors.New("gateway base url is not set")
	ErrNoCredentials  = errors.New("gateway needs either a token or a username/password pair")
	ErrBothCredential = errors.New("gateway token and username/password are mutually exclusive")
)

const maxBody = 1 << 20

// RegisterRequest carries the order fields sent to register.do.
type RegisterRequest struct {
	AmountMinor int64
	Currency    string
	Language    string
	OrderNumber string
	ReturnURL   string
	ClientID    string
	Description string
}

func (r RegisterRequest) values() url.Values {
	v := url.Values{}
	v.Set("amount", fmt.Sprint(r.AmountMinor))
	v.Set("orderNumber", r.OrderNumber)
	v.Set("returnUrl", r.ReturnURL)
	if r.Currency != "" {
		v.Set("currency", r.Currency)
	}
	if r.Language != "" {
		v.Set("language", r.Language)
	}
	if r.ClientID != "" {
		v.Set("clientId", r.ClientID)
	}
	if r.Description != "" {
		v.Set("description", r.Description)
	}
	return v
}

// Client talks to the acquiring gateway REST API. Credentials go into
// every form body, never into headers.
type Client struct {
	baseURL string
	auth    url.Values
	http    *http.Client
}

func NewClient(cfg config.Gateway) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, ErrNoBaseURL
	}
	hasToken := cfg.Token != ""
	hasLogin := cfg.UserName != "" || cfg.Password != ""
	switch {
	case hasToken && hasLogin:
		return nil, ErrBothCredential
	case !hasToken && (cfg.UserName == "" || cfg.Password == ""):
		return nil, ErrNoCredentials
	}

	auth := url.Values{}
	if hasToken {
		auth.Set("token", cfg.Token)
	} else {
		auth.Set("userName", cfg.UserName)
		auth.Set("password", cfg.Password)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	tr := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.SkipTLSVerify {
		tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for test stands
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		auth:    auth,
		http:    &http.Client{Timeout: timeout, Transport: tr},
	}, nil
}

func (c *Client) Register(ctx context.Context, req RegisterRequest) Result {
	return c.post(ctx, "register.do", req.values())
}

func (c *Client) QueryStatus(ctx context.Context, orderID string) Result {
	return c.post(ctx, "getOrderStatusExtended.do", url.Values{"orderId": {orderID}})
}

func (c *Client) Decline(ctx context.Context, orderID string) Result {
	return c.post(ctx, "decline.do", url.Values{"orderId": {orderID}})
}

func (c *Client) post(ctx context.Context, method string, params url.Values) Result {
	body := url.Values{}
	for k, v := range c.auth {
		body[k] = v
	}
	for k, v := range params {
		body[k] = v
	}

	endpoint := c.baseURL + "/rest/" + method
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(body.Encode()))
	if err != nil {
		return c.fail(method, 0, nil, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")

	resp, err := c.http.Do(req)
	if err != nil {
		return c.fail(method, 0, nil, fmt.Errorf("do request: %w", err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return c.fail(method, resp.StatusCode, nil, fmt.Errorf("read body: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.fail(method, resp.StatusCode, raw, fmt.Errorf("unexpected status: %d", resp.StatusCode))
	}

	var data Response
	if err := json.Unmarshal(raw, &data); err != nil {
		return c.fail(method, resp.StatusCode, raw, fmt.Errorf("decode body: %w", err))
	}
	return Result{OK: true, HTTPStatus: resp.StatusCode, Data: &data, Raw: raw}
}

func (c *Client) fail(method string, status int, raw []byte, err error) Result {
	logger.Log.Error("gateway call failed",
		zap.String("method", method),
		zap.Int("status", status),
		zap.Error(err),
	)
	res := Result{OK: false, HTTPStatus: status, Error: err.Error()}
	if json.Valid(raw) {
		res.Raw = raw
	} else if len(raw) > 0 {
		res.Raw, _ = json.Marshal(string(raw))
	}
	return res
}
