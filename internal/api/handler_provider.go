package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/rcrowley/go-metrics"
	"github.com/shopspring/decimal"
	"github.com/shuttlemath/guessit/internal/invoice"
	"github.com/shuttlemath/guessit/internal/nowpayments"
)

// Error codes of the proxy error payload.
const (
	CodeMethodNotAllowed    = "method_not_allowed"
	CodeBadRequest          = "bad_request"
	CodeNotFound            = "not_found"
	CodeMisconfigured       = "misconfigured"
	CodeUpstreamMalformed   = "upstream_malformed"
	CodeUpstreamRejected    = "upstream_rejected"
	CodeUpstreamUnreachable = "upstream_unreachable"
	CodeRateLimited         = "rate_limited"
	CodeInternal            = "internal"
)

// Upstream is the subset of the NOWPayments client the handlers need.
type Upstream interface {
	CreatePayment(ctx context.Context, amount decimal.Decimal, currency string) (map[string]json.RawMessage, error)
	GetPayment(ctx context.Context, id string) (map[string]json.RawMessage, error)
}

// HandlerProvider exposes the payment proxy handlers.
type HandlerProvider struct {
	upstream Upstream
	registry metrics.Registry
}

func NewHandler(upstream Upstream, registry metrics.Registry) *HandlerProvider {
	return &HandlerProvider{upstream: upstream, registry: registry}
}

// --- Helpers ---

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Error    string          `json:"error"`
	Code     string          `json:"code"`
	Details  json.RawMessage `json:"details,omitempty"`
	Upstream string          `json:"upstream,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg, Code: code})
}

// writeUpstreamError maps a NOWPayments client error onto the proxy contract.
func (h *HandlerProvider) writeUpstreamError(w http.ResponseWriter, op string, err error) {
	var (
		malformed *nowpayments.MalformedError
		rejected  *nowpayments.RejectedError
		transport *nowpayments.TransportError
	)

	resp := ErrorResponse{Error: err.Error()}
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, nowpayments.ErrMissingAPIKey):
		status, resp.Code = http.StatusInternalServerError, CodeMisconfigured
		resp.Error = "server misconfig: " + err.Error()
	case errors.As(err, &malformed):
		status, resp.Code = http.StatusBadGateway, CodeUpstreamMalformed
		resp.Upstream = malformed.Snippet
	case errors.As(err, &rejected):
		status, resp.Code = rejected.Status, CodeUpstreamRejected
		resp.Error = "NOWPayments error"
		resp.Details = rejected.Body
	case errors.As(err, &transport):
		status, resp.Code = http.StatusBadGateway, CodeUpstreamUnreachable
	default:
		resp.Code = CodeInternal
	}

	metrics.GetOrRegisterCounter("upstream.errors."+resp.Code, h.registry).Inc(1)
	slog.Warn("upstream call failed", "op", op, "code", resp.Code, "status", status, "error", err)

	writeJSON(w, status, resp)
}

type createRequest struct {
	Network string      `json:"network"`
	Amount  json.Number `json:"amount"`
	Coins   *int64      `json:"coins"`
}

type createResponse struct {
	ID      string  `json:"id"`
	Address *string `json:"address"`
	Memo    *string `json:"memo"`
	Coins   *int64  `json:"coins"`
}

type statusResponse struct {
	Status invoice.State              `json:"status"`
	Raw    map[string]json.RawMessage `json:"raw"`
}

func optional(s string) *string {
	if s == "" {
		return nil
	}

	return &s
}

// --- Handlers ---

// CreatePaymentHandler handles POST /api/payments
func (h *HandlerProvider) CreatePaymentHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<16)
	defer r.Body.Close()

	var req createRequest
	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "invalid JSON")
		return
	}

	if strings.TrimSpace(req.Network) == "" || req.Amount == "" {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "bad request: missing network/amount")
		return
	}

	network, err := invoice.ParseNetwork(req.Network)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}

	amount, err := decimal.NewFromString(req.Amount.String())
	if err != nil || !amount.IsPositive() {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "amount must be a positive number")
		return
	}

	data, err := h.upstream.CreatePayment(r.Context(), amount, network.PayCurrency())
	if err != nil {
		h.writeUpstreamError(w, "create", err)
		return
	}

	created, err := invoice.NormalizeCreated(data)
	if err != nil {
		raw, _ := json.Marshal(data)
		metrics.GetOrRegisterCounter("upstream.errors."+CodeUpstreamMalformed, h.registry).Inc(1)
		writeJSON(w, http.StatusBadGateway, ErrorResponse{
			Error:    "upstream response unusable: " + err.Error(),
			Code:     CodeUpstreamMalformed,
			Upstream: truncate(string(raw), 200),
		})

		return
	}

	slog.Info("payment created", "id", created.ID, "network", network, "amount", amount.String())

	writeJSON(w, http.StatusOK, createResponse{
		ID:      created.ID,
		Address: optional(created.Address),
		Memo:    optional(created.Memo),
		Coins:   req.Coins,
	})
}

// PaymentStatusHandler handles GET /api/payments/status?id=
func (h *HandlerProvider) PaymentStatusHandler(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "missing id")
		return
	}

	data, err := h.upstream.GetPayment(r.Context(), id)
	if err != nil {
		h.writeUpstreamError(w, "status", err)
		return
	}

	var raw string
	if v, ok := data["payment_status"]; ok {
		_ = json.Unmarshal(v, &raw)
	}

	writeJSON(w, http.StatusOK, statusResponse{Status: invoice.MapPaymentStatus(raw), Raw: data})
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}

	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}

	return s[:n]
}
