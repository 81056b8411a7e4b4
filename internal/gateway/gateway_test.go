package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/shuttlemath/guessit/internal/config"
	"github.com/shuttlemath/guessit/internal/invoice"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	return New(config.GatewayConfig{BaseURL: srv.URL, Timeout: 2 * time.Second})
}

func reply(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

func TestCreateInvoice(t *testing.T) {
	t.Parallel()

	var got map[string]any
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/payments", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		reply(http.StatusOK, `{"id":"inv-1","address":"TXyz","memo":null,"coins":13}`)(w, r)
	})

	created, err := c.CreateInvoice(context.Background(), invoice.NetworkTron, decimal.RequireFromString("12.87"), 13)
	require.NoError(t, err)

	assert.Equal(t, "inv-1", created.ID)
	assert.Equal(t, "TXyz", created.Address)
	assert.Empty(t, created.Memo)
	require.NotNil(t, created.Coins)
	assert.EqualValues(t, 13, *created.Coins)

	assert.Equal(t, "TRON", got["network"])
	assert.Equal(t, 12.87, got["amount"])
	assert.EqualValues(t, 13, got["coins"])
}

func TestCreateInvoice_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		handler    http.HandlerFunc
		want       error
		wantStatus int
	}{
		{
			name:    "html",
			handler: reply(http.StatusOK, `<html>gateway timeout</html>`),
			want:    ErrUpstreamMalformed,
		},
		{
			name:    "no_id",
			handler: reply(http.StatusOK, `{"address":"TXyz"}`),
			want:    ErrUpstreamMalformed,
		},
		{
			name:       "proxy_misconfigured",
			handler:    reply(http.StatusInternalServerError, `{"error":"server misconfig","code":"misconfigured"}`),
			want:       ErrMisconfigured,
			wantStatus: http.StatusInternalServerError,
		},
		{
			name:       "proxy_upstream_html",
			handler:    reply(http.StatusBadGateway, `{"error":"upstream non-JSON","code":"upstream_malformed","upstream":"<html>"}`),
			want:       ErrUpstreamMalformed,
			wantStatus: http.StatusBadGateway,
		},
		{
			name:       "rejected",
			handler:    reply(http.StatusBadRequest, `{"error":"NOWPayments error","code":"upstream_rejected","details":{"message":"too small"}}`),
			want:       ErrUpstreamRejected,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unreachable",
			handler:    reply(http.StatusBadGateway, `{"error":"dial","code":"upstream_unreachable"}`),
			want:       ErrNetwork,
			wantStatus: http.StatusBadGateway,
		},
		{
			name:       "no_code_falls_back_to_status",
			handler:    reply(http.StatusServiceUnavailable, `{"error":"busy"}`),
			want:       ErrNetwork,
			wantStatus: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c := newClient(t, tt.handler)

			_, err := c.CreateInvoice(context.Background(), invoice.NetworkPolygon, decimal.NewFromInt(13), 13)
			require.ErrorIs(t, err, tt.want)

			if tt.wantStatus != 0 {
				var ge *Error
				require.True(t, errors.As(err, &ge))
				assert.Equal(t, tt.wantStatus, ge.Status)
			}
		})
	}
}

func TestCreateInvoice_RejectedKeepsPayload(t *testing.T) {
	t.Parallel()

	c := newClient(t, reply(http.StatusBadRequest, `{"error":"NOWPayments error","code":"upstream_rejected","details":{"message":"too small"}}`))

	_, err := c.CreateInvoice(context.Background(), invoice.NetworkTron, decimal.NewFromInt(1), 1)

	var ge *Error
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, "upstream_rejected", ge.Code)
	assert.Equal(t, "NOWPayments error", ge.Message)
	assert.JSONEq(t, `{"message":"too small"}`, string(ge.Details))
}

func TestInvoiceStatus(t *testing.T) {
	t.Parallel()

	tests := map[string]invoice.State{
		"confirmed": invoice.StateConfirmed,
		"failed":    invoice.StateFailed,
		"pending":   invoice.StatePending,
		"finished":  invoice.StatePending,
	}

	for raw, want := range tests {
		t.Run(raw, func(t *testing.T) {
			t.Parallel()

			c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/api/payments/status", r.URL.Path)
				assert.Equal(t, "inv 1", r.URL.Query().Get("id"))

				reply(http.StatusOK, `{"status":"`+raw+`","raw":{}}`)(w, r)
			})

			got, err := c.InvoiceStatus(context.Background(), "inv 1")
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestInvoiceStatus_MissingStatus(t *testing.T) {
	t.Parallel()

	c := newClient(t, reply(http.StatusOK, `{"raw":{}}`))

	_, err := c.InvoiceStatus(context.Background(), "1")
	require.ErrorIs(t, err, ErrUpstreamMalformed)
}

func TestNetworkFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	c := New(config.GatewayConfig{BaseURL: base, Timeout: time.Second})

	_, err := c.InvoiceStatus(context.Background(), "1")
	require.ErrorIs(t, err, ErrNetwork)
}

func TestMisconfigured_NoBaseURL(t *testing.T) {
	t.Parallel()

	c := New(config.GatewayConfig{})

	_, err := c.CreateInvoice(context.Background(), invoice.NetworkTron, decimal.NewFromInt(13), 13)
	require.ErrorIs(t, err, ErrMisconfigured)
}

func TestContextCancelled(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	c := newClient(t, func(http.ResponseWriter, *http.Request) { <-block })
	t.Cleanup(func() { close(block) })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.InvoiceStatus(ctx, "1")
	require.ErrorIs(t, err, ErrNetwork)
}
