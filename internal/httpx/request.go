package httpx

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net"
	"net/http"
	"strings"
)

const maxRequestBody = 64 << 10

// flexString accepts a JSON string or number; the storefront sends price
// and service id either way.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

type createBody struct {
	ServiceID      flexString `json:"service_id"`
	ServiceIDAlt   flexString `json:"serviceId"`
	ID             flexString `json:"id"`
	ServiceName    flexString `json:"service_name"`
	ServiceNameAlt flexString `json:"serviceName"`
	Name           flexString `json:"name"`
	Price          flexString `json:"price"`
	Phone          flexString `json:"phone"`
	BackURL        flexString `json:"back_url"`
	BackURLAlt     flexString `json:"backUrl"`
}

type createInput struct {
	ServiceID   string
	ServiceName string
	Price       string
	Phone       string
	BackURL     string
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

var errBadBody = errors.New("invalid request body")

// parseCreate reads a JSON or form-encoded create body.
func parseCreate(w http.ResponseWriter, r *http.Request) (createInput, error) {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/x-www-form-urlencoded" || ct == "multipart/form-data" {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
		if err := r.ParseMultipartForm(maxRequestBody); err != nil && !errors.Is(err, http.ErrNotMultipart) {
			return createInput{}, errBadBody
		}
		f := r.PostForm
		return createInput{
			ServiceID:   firstNonEmpty(f.Get("service_id"), f.Get("serviceId"), f.Get("id")),
			ServiceName: firstNonEmpty(f.Get("service_name"), f.Get("serviceName"), f.Get("name")),
			Price:       firstNonEmpty(f.Get("price")),
			Phone:       firstNonEmpty(f.Get("phone")),
			BackURL:     firstNonEmpty(f.Get("back_url"), f.Get("backUrl")),
		}, nil
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		return createInput{}, errBadBody
	}
	var b createBody
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &b); err != nil {
			return createInput{}, errBadBody
		}
	}
	return createInput{
		ServiceID:   firstNonEmpty(string(b.ServiceID), string(b.ServiceIDAlt), string(b.ID)),
		ServiceName: firstNonEmpty(string(b.ServiceName), string(b.ServiceNameAlt), string(b.Name)),
		Price:       firstNonEmpty(string(b.Price)),
		Phone:       firstNonEmpty(string(b.Phone)),
		BackURL:     firstNonEmpty(string(b.BackURL), string(b.BackURLAlt)),
	}, nil
}

// clientAddress is the first X-Forwarded-For hop, else the peer address.
func clientAddress(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if first := strings.TrimSpace(strings.Split(xff, ",")[0]); first != "" {
			return first
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// returnURL is the configured absolute URL, or returnPath on the host
// the request came in on.
func returnURL(r *http.Request, configured, returnPath string) string {
	if configured != "" {
		return configured
	}
	proto := "http"
	if r.TLS != nil {
		proto = "https"
	}
	if p := r.Header.Get("X-Forwarded-Proto"); p != "" {
		proto = strings.TrimSpace(strings.Split(p, ",")[0])
	}
	host := r.Host
	if h := r.Header.Get("X-Forwarded-Host"); h != "" {
		host = h
	}
	return proto + "://" + host + returnPath
}

// orderKey reads orderId from the query, falling back to a form field.
func orderKey(r *http.Request) string {
	if v := strings.TrimSpace(r.URL.Query().Get("orderId")); v != "" {
		return v
	}
	return strings.TrimSpace(r.FormValue("orderId"))
}
