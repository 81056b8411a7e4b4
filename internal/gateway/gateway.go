// Package gateway is the client side of the payment proxy. It is stateless
// and never retries; callers decide what a failure means.
package gateway

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

	"github.com/shopspring/decimal"
	"github.com/shuttlemath/guessit/internal/config"
	"github.com/shuttlemath/guessit/internal/invoice"
)

var (
	// ErrNetwork is a transport failure. It is transient.
	ErrNetwork           = errors.New("payment gateway unreachable")
	ErrUpstreamMalformed = errors.New("payment gateway returned a malformed response")
	ErrUpstreamRejected  = errors.New("payment gateway rejected the request")
	ErrMisconfigured     = errors.New("payment gateway misconfigured")
)

// Error carries what the proxy said about a failed call. errors.Is matches
// the Kind sentinel.
type Error struct {
	Kind    error
	Status  int
	Code    string
	Message string
	Details json.RawMessage
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}

	return msg
}

func (e *Error) Unwrap() error { return e.Kind }

// codeKinds maps the proxy error code onto a sentinel.
var codeKinds = map[string]error{
	"misconfigured":        ErrMisconfigured,
	"upstream_malformed":   ErrUpstreamMalformed,
	"upstream_unreachable": ErrNetwork,
	"rate_limited":         ErrNetwork,
	"upstream_rejected":    ErrUpstreamRejected,
	"bad_request":          ErrUpstreamRejected,
	"method_not_allowed":   ErrMisconfigured,
	"not_found":            ErrMisconfigured,
}

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func New(cfg config.GatewayConfig) *Client {
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

type createRequest struct {
	Network invoice.Network `json:"network"`
	Amount  json.Number     `json:"amount"`
	Coins   int64           `json:"coins"`
}

// CreateInvoice asks the proxy for a new payment of amount on network.
func (c *Client) CreateInvoice(ctx context.Context, network invoice.Network, amount decimal.Decimal, coins int64) (invoice.Created, error) {
	body, err := json.Marshal(createRequest{Network: network, Amount: json.Number(amount.String()), Coins: coins})
	if err != nil {
		return invoice.Created{}, fmt.Errorf("marshal create request: %w", err)
	}

	data, err := c.do(ctx, http.MethodPost, "/api/payments", body)
	if err != nil {
		return invoice.Created{}, err
	}

	created, err := invoice.NormalizeCreated(data)
	if err != nil {
		return invoice.Created{}, &Error{Kind: ErrUpstreamMalformed, Status: http.StatusOK, Message: err.Error()}
	}

	return created, nil
}

// InvoiceStatus reports the normalised status of invoice id.
func (c *Client) InvoiceStatus(ctx context.Context, id string) (invoice.State, error) {
	data, err := c.do(ctx, http.MethodGet, "/api/payments/status?id="+url.QueryEscape(id), nil)
	if err != nil {
		return "", err
	}

	var raw string
	v, ok := data["status"]
	if !ok || json.Unmarshal(v, &raw) != nil {
		return "", &Error{Kind: ErrUpstreamMalformed, Status: http.StatusOK, Message: "status field missing"}
	}

	return invoice.ParseState(raw), nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (map[string]json.RawMessage, error) {
	if c.baseURL == "" {
		return nil, &Error{Kind: ErrMisconfigured, Message: "no gateway base URL"}
	}

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return nil, &Error{Kind: ErrMisconfigured, Message: err.Error()}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Kind: ErrNetwork, Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &Error{Kind: ErrNetwork, Status: resp.StatusCode, Message: err.Error()}
	}

	var data map[string]json.RawMessage
	if json.Unmarshal(raw, &data) != nil || data == nil {
		return nil, &Error{Kind: ErrUpstreamMalformed, Status: resp.StatusCode, Message: "non-JSON body"}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errorFromBody(resp.StatusCode, data)
	}

	return data, nil
}

func errorFromBody(status int, data map[string]json.RawMessage) *Error {
	e := &Error{Status: status, Details: data["details"]}

	if v, ok := data["error"]; ok {
		_ = json.Unmarshal(v, &e.Message)
	}
	if v, ok := data["code"]; ok {
		_ = json.Unmarshal(v, &e.Code)
	}

	if kind, ok := codeKinds[e.Code]; ok {
		e.Kind = kind
		return e
	}

	switch {
	case status == http.StatusBadGateway, status == http.StatusServiceUnavailable,
		status == http.StatusGatewayTimeout, status == http.StatusTooManyRequests:
		e.Kind = ErrNetwork
	default:
		e.Kind = ErrUpstreamRejected
	}

	return e
}
