package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ariefcatur/go-payment-orders/internal/config"
	"github.com/ariefcatur/go-payment-orders/internal/logger"
	"github.com/ariefcatur/go-payment-orders/internal/orders"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrMisconfigured = errors.New("settlement endpoint, club id, basic auth user and api key are required")

const maxBody = 1 << 20

// Recorder receives every attempt before Send returns.
type Recorder interface {
	RecordSettlementAttempt(ctx context.Context, a orders.SettlementAttempt) error
}

// SendContext describes why a sale is being reported.
type SendContext struct {
	Manual        bool
	GatewayStatus json.RawMessage
}

type Result struct {
	OK         bool            `json:"ok"`
	HTTPStatus int             `json:"status,omitempty"`
	DocID      string          `json:"docId,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// JSON is the form stored on the order.
func (r Result) JSON() json.RawMessage {
	b, err := json.Marshal(r)
	if err != nil {
		return nil
	}
	return b
}

type Document struct {
	ClubID string `json:"club_id"`
	Phone  string `json:"phone"`
	Sale   Sale   `json:"sale"`
}

type Sale struct {
	DocID    string      `json:"docId"`
	Date     string      `json:"date"`
	Cashless json.Number `json:"cashless"`
	Goods    []Good      `json:"goods"`
}

type Good struct {
	ID     string      `json:"id"`
	Qty    int         `json:"qnt"`
	Amount json.Number `json:"summ"`
}

// Dispatcher reports finalized sales to the fulfillment system.
type Dispatcher struct {
	cfg      config.Settlement
	http     *http.Client
	rec      Recorder
	now      func() time.Time
	newDocID func() string
}

func NewDispatcher(cfg config.Settlement, rec Recorder) (*Dispatcher, error) {
	if cfg.Endpoint == "" || cfg.ClubID == "" || cfg.BasicUser == "" || cfg.APIKey == "" {
		return nil, ErrMisconfigured
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Dispatcher{
		cfg:      cfg,
		http:     &http.Client{Timeout: timeout},
		rec:      rec,
		now:      time.Now,
		newDocID: uuid.NewString,
	}, nil
}

// BuildDocument reuses o.SettlementDocID when set, otherwise draws a
// fresh id for this attempt.
func (d *Dispatcher) BuildDocument(o *orders.Order) Document {
	docID := o.SettlementDocID
	if docID == "" {
		docID = d.newDocID()
	}
	amount := json.Number(orders.MajorUnits(o.PriceMinor).String())
	return Document{
		ClubID: d.cfg.ClubID,
		Phone:  orders.DigitsOnly(o.Phone),
		Sale: Sale{
			DocID:    docID,
			Date:     d.now().UTC().Format(time.RFC3339),
			Cashless: amount,
			Goods:    []Good{{ID: o.ServiceID, Qty: 1, Amount: amount}},
		},
	}
}

func (d *Dispatcher) Send(ctx context.Context, o *orders.Order, sc SendContext) Result {
	doc := d.BuildDocument(o)
	reqBody, err := json.Marshal(doc)
	if err != nil {
		return d.finish(ctx, o, sc, doc, reqBody, Result{DocID: doc.Sale.DocID, Error: err.Error()})
	}

	res := d.post(ctx, reqBody)
	res.DocID = doc.Sale.DocID
	return d.finish(ctx, o, sc, doc, reqBody, res)
}

func (d *Dispatcher) post(ctx context.Context, body []byte) Result {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{Error: fmt.Sprintf("create request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")
	req.Header.Set("apikey", d.cfg.APIKey)
	if d.cfg.UserToken != "" {
		req.Header.Set("usertoken", d.cfg.UserToken)
	}
	req.SetBasicAuth(d.cfg.BasicUser, d.cfg.BasicPass)

	resp, err := d.http.Do(req)
	if err != nil {
		return Result{Error: fmt.Sprintf("do request: %v", err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return Result{HTTPStatus: resp.StatusCode, Error: fmt.Sprintf("read body: %v", err)}
	}
	res := Result{HTTPStatus: resp.StatusCode, Data: asJSON(raw)}
	switch {
	case resp.StatusCode >= 400:
		res.Error = fmt.Sprintf("unexpected status: %d", resp.StatusCode)
	case explicitFailure(raw):
		res.Error = "downstream reported failure"
	default:
		res.OK = true
	}
	return res
}

// explicitFailure is true only for a body carrying result:false or ok:false.
func explicitFailure(raw []byte) bool {
	var marker struct {
		Result *bool `json:"result"`
		OK     *bool `json:"ok"`
	}
	if err := json.Unmarshal(raw, &marker); err != nil {
		return false
	}
	return (marker.Result != nil && !*marker.Result) || (marker.OK != nil && !*marker.OK)
}

func asJSON(raw []byte) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	if json.Valid(raw) {
		return raw
	}
	b, _ := json.Marshal(string(raw))
	return b
}

func (d *Dispatcher) finish(ctx context.Context, o *orders.Order, sc SendContext, doc Document, reqBody []byte, res Result) Result {
	log := logger.Log.With(
		zap.String("order_number", o.OrderNumber),
		zap.String("doc_id", doc.Sale.DocID),
		zap.Int("status", res.HTTPStatus),
		zap.Bool("manual", sc.Manual),
	)
	if res.OK {
		log.Info("settlement sent")
	} else {
		log.Error("settlement failed", zap.String("error", res.Error))
	}

	if d.rec != nil {
		err := d.rec.RecordSettlementAttempt(ctx, orders.SettlementAttempt{
			At:          d.now().UTC(),
			OrderID:     o.OrderID,
			OrderNumber: o.OrderNumber,
			DocID:       doc.Sale.DocID,
			Manual:      sc.Manual,
			OK:          res.OK,
			HTTPStatus:  res.HTTPStatus,
			Request:     reqBody,
			Response:    res.Data,
			Error:       res.Error,
		})
		if err != nil {
			log.Error("settlement attempt not recorded", zap.Error(err))
		}
	}
	return res
}
