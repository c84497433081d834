package yookassa

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-faster/jx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/flowershop/internal/domain/payment"
)

const paymentBody = `{
	"id": "2d9a1b7c-000f-5000-9000-1b8f1b2e9c11",
	"status": "pending",
	"paid": false,
	"amount": {"value": "210.00", "currency": "RUB"},
	"confirmation": {"type": "redirect", "confirmation_url": "https://yoomoney.ru/checkout/payments/v2/contract?orderId=2d9a"},
	"metadata": {"order_id": "42"}
}`

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	return New(Config{
		ShopID:     "shop",
		SecretKey:  "secret",
		BaseURL:    srv.URL,
		ReturnURL:  "https://shop.example/orders",
		MaxRetries: 2,
	},
		WithHTTPClient(srv.Client()),
		WithBackOff(func() backoff.BackOff { return &backoff.ZeroBackOff{} }),
	)
}

func TestClient_Create(t *testing.T) {
	key := uuid.New()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/payments", r.URL.Path)
		assert.Equal(t, key.String(), r.Header.Get("Idempotence-Key"))

		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "shop", user)
		assert.Equal(t, "secret", pass)

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.JSONEq(t, `{
			"amount": {"value": "210.00", "currency": "RUB"},
			"confirmation": {"type": "redirect", "return_url": "https://shop.example/orders"},
			"capture": true,
			"description": "Order #42",
			"metadata": {"order_id": "42"}
		}`, string(body))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, paymentBody)
	})

	p, err := c.Create(context.Background(), payment.CreateRequest{
		Amount:         decimal.RequireFromString("210"),
		OrderID:        42,
		IdempotencyKey: key,
	})
	require.NoError(t, err)
	assert.Equal(t, "2d9a1b7c-000f-5000-9000-1b8f1b2e9c11", p.ID)
	assert.Equal(t, payment.StatusPending, p.Status)
	assert.Contains(t, p.ConfirmationURL, "yoomoney.ru")
	assert.True(t, p.Reusable())
}

func TestClient_Find(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/payments/pay-1", r.URL.Path)
		assert.Empty(t, r.Header.Get("Idempotence-Key"))
		_, _ = io.WriteString(w, `{"id":"pay-1","status":"succeeded","confirmation":null}`)
	})

	p, err := c.Find(context.Background(), "pay-1")
	require.NoError(t, err)
	assert.Equal(t, payment.StatusSucceeded, p.Status)
	assert.Empty(t, p.ConfirmationURL)
	assert.False(t, p.Reusable())
}

func TestClient_FindEscapesID(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/payments/a%2Fb%3Fc", r.RequestURI)
		_, _ = io.WriteString(w, `{"id":"a/b?c","status":"pending"}`)
	})

	p, err := c.Find(context.Background(), "a/b?c")
	require.NoError(t, err)
	assert.Equal(t, "a/b?c", p.ID)
}

func TestClient_Retries(t *testing.T) {
	tests := []struct {
		name      string
		failures  []int
		wantErr   bool
		wantCalls int32
	}{
		{name: "server error then success", failures: []int{http.StatusInternalServerError}, wantCalls: 2},
		{name: "rate limited then success", failures: []int{http.StatusTooManyRequests, http.StatusBadGateway}, wantCalls: 3},
		{name: "retries exhausted", failures: []int{500, 500, 500}, wantErr: true, wantCalls: 3},
		{name: "bad request is not retried", failures: []int{http.StatusBadRequest}, wantErr: true, wantCalls: 1},
		{name: "unauthorized is not retried", failures: []int{http.StatusUnauthorized}, wantErr: true, wantCalls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			keys := make(chan string, 4)

			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				n := int(calls.Add(1))
				keys <- r.Header.Get("Idempotence-Key")
				if n <= len(tt.failures) {
					w.WriteHeader(tt.failures[n-1])
					_, _ = io.WriteString(w, `{"type":"error","code":"invalid_request","description":"boom"}`)
					return
				}
				_, _ = io.WriteString(w, paymentBody)
			})

			key := uuid.New()
			_, err := c.Create(context.Background(), payment.CreateRequest{
				Amount:         decimal.NewFromInt(10),
				OrderID:        1,
				IdempotencyKey: key,
			})
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, payment.ErrGateway)

				var apiErr *APIError
				require.ErrorAs(t, err, &apiErr)
				assert.Equal(t, "invalid_request", apiErr.Code)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantCalls, calls.Load())

			close(keys)
			for got := range keys {
				assert.Equal(t, key.String(), got, "every attempt reuses the idempotency key")
			}
		})
	}
}

func TestClient_MalformedResponse(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = io.WriteString(w, `{"status":"pending"}`)
	})

	_, err := c.Find(context.Background(), "pay-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, payment.ErrGateway)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_ContextCanceled(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Find(ctx, "pay-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, payment.ErrGateway)
}

func TestDecodeNotification(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    payment.Notification
		wantErr bool
	}{
		{
			name: "succeeded",
			body: `{"type":"notification","event":"payment.succeeded","object":{"id":"pay-1","status":"succeeded","paid":true}}`,
			want: payment.Notification{
				Event:  payment.EventSucceeded,
				Object: payment.Payment{ID: "pay-1", Status: payment.StatusSucceeded},
			},
		},
		{
			name: "canceled",
			body: `{"type":"notification","event":"payment.canceled","object":{"id":"pay-2","status":"canceled","cancellation_details":{"party":"yoo_money"}}}`,
			want: payment.Notification{
				Event:  payment.EventCanceled,
				Object: payment.Payment{ID: "pay-2", Status: payment.StatusCanceled},
			},
		},
		{name: "missing object", body: `{"type":"notification","event":"payment.succeeded"}`, wantErr: true},
		{name: "not json", body: `hello`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeNotification([]byte(tt.body))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEncodeCreateRequest_Valid(t *testing.T) {
	body := encodeCreateRequest(payment.CreateRequest{Amount: decimal.RequireFromString("0.5"), OrderID: 7}, "https://x")
	assert.True(t, jx.Valid(body))
	assert.Contains(t, string(body), `"value":"0.50"`)
}
