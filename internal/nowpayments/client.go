// Package nowpayments talks to the NOWPayments REST API on behalf of the
// payment proxy. Responses are returned as decoded JSON objects; shaping
// them is left to the caller.
package nowpayments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/shuttlemath/guessit/internal/config"
)

const snippetLen = 200

var ErrMissingAPIKey = errors.New("NOWPAYMENTS_API_KEY missing")

// MalformedError is returned when the upstream body is not a JSON object.
// NOWPayments sometimes answers with an HTML error page.
type MalformedError struct {
	Status  int
	Snippet string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("upstream non-JSON (status %d)", e.Status)
}

// RejectedError is a non-2xx upstream answer with a JSON body.
type RejectedError struct {
	Status int
	Body   json.RawMessage
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("upstream rejected request with status %d", e.Status)
}

// TransportError wraps failures to reach the upstream at all.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return "upstream unreachable: " + e.Err.Error() }
func (e *TransportError) Unwrap() error { return e.Err }

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func New(cfg config.NowPaymentsConfig) *Client {
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

type CreatePaymentRequest struct {
	PriceAmount   json.Number `json:"price_amount"`
	PriceCurrency string      `json:"price_currency"`
	PayCurrency   string      `json:"pay_currency"`
	OrderID       string      `json:"order_id"`
}

// NewOrderID returns a unique merchant-side order reference.
func NewOrderID() string {
	return "order_" + uuid.NewString()
}

// CreatePayment creates a payment. The amount is priced and paid in the same
// currency and is sent as a JSON number.
func (c *Client) CreatePayment(ctx context.Context, amount decimal.Decimal, currency string) (map[string]json.RawMessage, error) {
	payload := CreatePaymentRequest{
		PriceAmount:   json.Number(amount.String()),
		PriceCurrency: currency,
		PayCurrency:   currency,
		OrderID:       NewOrderID(),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	return c.do(ctx, http.MethodPost, "/payment", body)
}

func (c *Client) GetPayment(ctx context.Context, id string) (map[string]json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "/payment/"+url.PathEscape(id), nil)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (map[string]json.RawMessage, error) {
	if c.apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("x-api-key", c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &TransportError{Err: fmt.Errorf("read response: %w", err)}
	}

	var data map[string]json.RawMessage
	err = json.Unmarshal(raw, &data)
	if err != nil || data == nil {
		return nil, &MalformedError{Status: resp.StatusCode, Snippet: snippet(raw)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &RejectedError{Status: resp.StatusCode, Body: raw}
	}

	return data, nil
}

// snippet keeps the first snippetLen bytes of b, backing off to a rune
// boundary.
func snippet(b []byte) string {
	if len(b) <= snippetLen {
		return string(b)
	}

	n := snippetLen
	for n > 0 && !utf8.RuneStart(b[n]) {
		n--
	}

	return string(b[:n])
}
