package shipping

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/linemk/resale-orders/internal/domain/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.Handler, timeout time.Duration) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(slog.New(slog.NewTextHandler(io.Discard, nil)), ClientConfig{
		BaseURL:   srv.URL,
		Token:     "secret",
		UserAgent: "resale-orders-test",
		Timeout:   timeout,
	})
}

func TestClient_Quote(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/me/shipment/calculate", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "resale-orders-test", r.Header.Get("User-Agent"))

		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "97010000", body["to"].(map[string]any)["postal_code"])

		_, _ = w.Write([]byte(`[
			{"id":2,"name":"SEDEX","price":"32.10","delivery_range":{"min":1,"max":2},"company":{"name":"Correios"}},
			{"id":1,"name":"PAC","price":"18.50","custom_price":"17.90","delivery_range":{"min":5,"max":8},"company":{"name":"Correios"}},
			{"id":3,"name":"Jadlog","error":"Serviço indisponível"}
		]`))
	})
	c := newTestClient(t, h, time.Second)

	quotes, err := c.Quote(context.Background(), QuoteRequest{
		FromPostalCode: "99010-000",
		ToPostalCode:   "97010-000",
		Package:        DefaultPackage,
		DeclaredValue:  decimal.RequireFromString("100.00"),
	})
	require.NoError(t, err)
	require.Len(t, quotes, 2)
	assert.Equal(t, "PAC", quotes[0].Service)
	assert.True(t, quotes[0].Price.Equal(decimal.RequireFromString("17.90")))
	assert.Equal(t, 5, quotes[0].EtaMinDays)
	assert.Equal(t, "SEDEX", quotes[1].Service)
}

func TestClient_Timeout_IsUnavailable(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(500 * time.Millisecond):
		case <-r.Context().Done():
		}
	})
	c := newTestClient(t, h, 50*time.Millisecond)

	_, err := c.Track(context.Background(), "BR123")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrGatewayUnavailable))
	assert.True(t, IsTemporary(err))
}

func TestClient_ErrorClassification(t *testing.T) {
	cases := []struct {
		name   string
		status int
		check  func(t *testing.T, err error)
	}{
		{"server error", http.StatusBadGateway, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, ErrGatewayUnavailable)
		}},
		{"rate limited", http.StatusTooManyRequests, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, ErrGatewayUnavailable)
		}},
		{"unprocessable", http.StatusUnprocessableEntity, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, ErrAddressInvalid)
			assert.Contains(t, err.Error(), "CEP inválido")
		}},
		{"unauthorized", http.StatusUnauthorized, func(t *testing.T, err error) {
			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
			assert.False(t, IsTemporary(err))
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(`{"message":"CEP inválido"}`))
			}), time.Second)
			_, err := c.Quote(context.Background(), QuoteRequest{Package: DefaultPackage})
			require.Error(t, err)
			tc.check(t, err)
		})
	}
}

func TestClient_IssueLabel(t *testing.T) {
	var calls []string
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.Method+" "+r.URL.Path)
		switch r.URL.Path {
		case "/me/cart":
			_, _ = w.Write([]byte(`{"id":"lbl-1"}`))
		case "/me/shipment/checkout", "/me/shipment/generate":
			_, _ = w.Write([]byte(`{}`))
		case "/me/shipment/print":
			_, _ = w.Write([]byte(`{"url":"https://labels.example/lbl-1.pdf"}`))
		case "/me/orders/lbl-1":
			_, _ = w.Write([]byte(`{"tracking":"BR123456789BR","service":{"company":{"name":"Correios"}}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	c := newTestClient(t, h, time.Second)

	label, err := c.IssueLabel(context.Background(), LabelRequest{
		ServiceID:     1,
		Package:       DefaultPackage,
		DeclaredValue: decimal.RequireFromString("100.00"),
		OrderNumber:   "AP26100001",
		ProductTitle:  "Jaqueta",
	})
	require.NoError(t, err)
	assert.Equal(t, "lbl-1", label.LabelID)
	assert.Equal(t, "BR123456789BR", label.TrackingCode)
	assert.Equal(t, "Correios", label.Carrier)
	assert.Equal(t, "https://labels.example/lbl-1.pdf", label.LabelURL)
	assert.Equal(t, []string{
		"POST /me/cart",
		"POST /me/shipment/checkout",
		"POST /me/shipment/generate",
		"POST /me/shipment/print",
		"GET /me/orders/lbl-1",
	}, calls)
}

func TestClient_IssueLabel_CancelsAfterLateFailure(t *testing.T) {
	label := LabelRequest{ServiceID: 1, Package: DefaultPackage, DeclaredValue: decimal.RequireFromString("100.00")}

	tests := []struct {
		name       string
		failing    string
		wantCancel bool
	}{
		{"checkout fails", "/me/shipment/checkout", false},
		{"generate fails", "/me/shipment/generate", true},
		{"print fails", "/me/shipment/print", true},
		{"fetch shipment fails", "/me/orders/lbl-1", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cancelled []string
			h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path == tt.failing {
					w.WriteHeader(http.StatusBadGateway)
					return
				}
				switch r.URL.Path {
				case "/me/cart":
					_, _ = w.Write([]byte(`{"id":"lbl-1"}`))
				case "/me/shipment/cancel":
					var body map[string][]string
					_ = json.NewDecoder(r.Body).Decode(&body)
					cancelled = append(cancelled, body["orders"]...)
					_, _ = w.Write([]byte(`{}`))
				default:
					_, _ = w.Write([]byte(`{}`))
				}
			})
			c := newTestClient(t, h, time.Second)

			_, err := c.IssueLabel(context.Background(), label)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrGatewayUnavailable)
			if tt.wantCancel {
				assert.Equal(t, []string{"lbl-1"}, cancelled)
			} else {
				assert.Empty(t, cancelled)
			}
		})
	}
}

func TestClient_IssueLabel_CancelFailureKeepsLabelID(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/me/cart":
			_, _ = w.Write([]byte(`{"id":"lbl-7"}`))
		case "/me/shipment/checkout":
			_, _ = w.Write([]byte(`{}`))
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	})
	c := newTestClient(t, h, time.Second)

	_, err := c.IssueLabel(context.Background(), LabelRequest{ServiceID: 1, Package: DefaultPackage})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrGatewayUnavailable)
	assert.Contains(t, err.Error(), "lbl-7")
}

func TestClient_Track(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "BR1", r.URL.Query().Get("orders"))
		_, _ = w.Write([]byte(`{"BR1":{
			"status":"delivered",
			"delivered_at":"2026-03-10 14:00:00",
			"tracking":[
				{"status":"posted","message":"Objeto postado","date":"2026-03-07 09:00:00","city":"Santa Maria","state":"RS"},
				{"status":"delivered","message":"Objeto entregue","date":"2026-03-10 14:00:00","city":"Porto Alegre","state":"RS"}
			]}}`))
	})
	c := newTestClient(t, h, time.Second)

	tr, err := c.Track(context.Background(), "BR1")
	require.NoError(t, err)
	assert.Equal(t, models.TrackingDelivered, tr.Status)
	require.NotNil(t, tr.DeliveredAt)
	assert.Equal(t, time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC), *tr.DeliveredAt)
	require.Len(t, tr.Events, 2)
	assert.Equal(t, "Santa Maria/RS", tr.Events[0].Location)
}

func TestClient_Track_UnknownCode(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}), time.Second)

	_, err := c.Track(context.Background(), "BR404")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
}

func TestClient_CancelLabel(t *testing.T) {
	var got map[string][]string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/me/shipment/cancel", r.URL.Path)
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{}`))
	}), time.Second)

	require.NoError(t, c.CancelLabel(context.Background(), "lbl-9"))
	assert.Equal(t, []string{"lbl-9"}, got["orders"])
}
