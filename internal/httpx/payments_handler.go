package httpx

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/ariefcatur/go-payment-orders/internal/config"
	"github.com/ariefcatur/go-payment-orders/internal/logger"
	"github.com/ariefcatur/go-payment-orders/internal/orders"
	"github.com/ariefcatur/go-payment-orders/internal/payment"
	"github.com/ariefcatur/go-payment-orders/internal/settlement"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Payments is satisfied by *payment.Service.
type Payments interface {
	Create(ctx context.Context, req payment.CreateRequest) (*payment.CreateResult, error)
	Status(ctx context.Context, key string) (*payment.StatusResult, error)
	MarkPaid(ctx context.Context, key string) (*payment.MarkPaidResult, error)
}

// IdempotencyStore is satisfied by *redisx.IdempotencyStore.
type IdempotencyStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, body []byte) error
}

type PaymentsHandler struct {
	Service    Payments
	Idem       IdempotencyStore // optional
	Policy     config.Policy
	AdminToken string // empty disables the mark_paid check
}

func (h *PaymentsHandler) Register(r chi.Router) {
	r.Route("/pay", func(r chi.Router) {
		r.Post("/create", h.create)
		r.Get("/status", h.status)
		r.Post("/mark_paid", h.markPaid)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResp struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

type createResp struct {
	OK bool `json:"ok"`
	*payment.CreateResult
}

func (h *PaymentsHandler) create(w http.ResponseWriter, r *http.Request) {
	idemKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if idemKey != "" && h.Idem != nil {
		prev, err := h.Idem.Get(r.Context(), idemKey)
		if err != nil {
			logger.Log.Warn("idempotency lookup failed", zap.String("key", idemKey), zap.Error(err))
		}
		if prev != nil {
			w.Header().Set("Idempotent-Replayed", "true")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(prev)
			return
		}
	}

	in, err := parseCreate(w, r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp{Message: err.Error()})
		return
	}

	res, err := h.Service.Create(r.Context(), payment.CreateRequest{
		ServiceID:     in.ServiceID,
		ServiceName:   in.ServiceName,
		Price:         in.Price,
		Phone:         in.Phone,
		ClientAddress: clientAddress(r),
		BackURL:       in.BackURL,
		ReturnURL:     returnURL(r, h.Policy.ReturnURL, h.Policy.ReturnPath),
	})
	if err != nil {
		h.writeError(w, r, "create", err)
		return
	}

	body, err := json.Marshal(createResp{OK: true, CreateResult: res})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp{Message: "internal_error"})
		return
	}
	if idemKey != "" && h.Idem != nil {
		if err := h.Idem.Put(context.WithoutCancel(r.Context()), idemKey, body); err != nil {
			logger.Log.Warn("idempotency store failed", zap.String("key", idemKey), zap.Error(err))
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(append(body, '\n'))
}

type statusResp struct {
	OK bool `json:"ok"`
	*payment.StatusResult
	FastSale *settlement.Result `json:"fastSale,omitempty"`
}

func (h *PaymentsHandler) status(w http.ResponseWriter, r *http.Request) {
	res, err := h.Service.Status(r.Context(), orderKey(r))
	if err != nil {
		h.writeError(w, r, "status", err)
		return
	}
	writeJSON(w, http.StatusOK, statusResp{OK: true, StatusResult: res, FastSale: res.Settlement})
}

type markPaidResp struct {
	OK       bool               `json:"ok"`
	Already  bool               `json:"already,omitempty"`
	FastSale *settlement.Result `json:"fastSale,omitempty"`
	Meta     *orders.Order      `json:"meta"`
}

func (h *PaymentsHandler) markPaid(w http.ResponseWriter, r *http.Request) {
	if h.AdminToken != "" {
		got := r.Header.Get("X-Admin-Token")
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.AdminToken)) != 1 {
			writeJSON(w, http.StatusUnauthorized, errorResp{Message: "unauthorized"})
			return
		}
	}

	res, err := h.Service.MarkPaid(r.Context(), orderKey(r))
	if err != nil {
		h.writeError(w, r, "mark_paid", err)
		return
	}
	writeJSON(w, http.StatusOK, markPaidResp{
		OK:       true,
		Already:  res.Already,
		FastSale: res.Settlement,
		Meta:     res.Order,
	})
}

func (h *PaymentsHandler) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	var (
		verr *payment.ValidationError
		aerr *payment.AdmissionError
		gerr *payment.GatewayError
		xerr *payment.ExpiredError
		serr *payment.SettlementError
	)
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorResp{Message: verr.Msg})
	case errors.As(err, &aerr):
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"ok":      false,
			"message": aerr.Error(),
			"scope":   aerr.Scope,
			"active":  aerr.Active,
			"limit":   aerr.Limit,
		})
	case errors.As(err, &gerr):
		code := http.StatusBadGateway
		if gerr.Logical && op == "create" {
			code = http.StatusBadRequest
		}
		writeJSON(w, code, map[string]any{
			"ok":      false,
			"message": gerr.Error(),
			"raw":     gerr.Result.JSON(),
		})
	case errors.As(err, &xerr):
		writeJSON(w, http.StatusRequestTimeout, map[string]any{
			"ok":      false,
			"timeout": true,
			"message": xerr.Error(),
			"decline": xerr.Decline.JSON(),
		})
	case errors.Is(err, payment.ErrOrderNotFound):
		writeJSON(w, http.StatusNotFound, errorResp{Message: err.Error()})
	case errors.As(err, &serr):
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"ok":       false,
			"message":  serr.Error(),
			"fastSale": serr.Result,
		})
	default:
		logger.Log.Error("request failed",
			zap.String("op", op),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, errorResp{Message: "internal_error"})
	}
}
