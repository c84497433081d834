// Package yookassa implements payment.Gateway over the YooKassa REST API.
package yookassa

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/flowershop/internal/domain/payment"
)

const (
	// DefaultBaseURL is the production API root.
	DefaultBaseURL = "https://api.yookassa.ru/v3"

	currency    = "RUB"
	maxBodySize = 1 << 20
)

// Config holds shop credentials and request defaults.
type Config struct {
	ShopID    string
	SecretKey string
	BaseURL   string
	// ReturnURL is where the customer lands after confirming a payment.
	ReturnURL  string
	Timeout    time.Duration
	MaxRetries uint
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the instrumented default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithBackOff sets the retry policy factory. A fresh policy is created per
// call.
func WithBackOff(newBackOff func() backoff.BackOff) Option {
	return func(c *Client) { c.newBackOff = newBackOff }
}

// WithTracerProvider sets the tracer provider for outgoing requests.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Client) { c.tracerProvider = tp }
}

var _ payment.Gateway = (*Client)(nil)

// Client talks to YooKassa. Failed calls are retried on network errors, 429
// and 5xx responses; other 4xx responses fail immediately.
type Client struct {
	cfg            Config
	http           *http.Client
	newBackOff     func() backoff.BackOff
	tracerProvider trace.TracerProvider
}

// New returns a Client for the given shop.
func New(cfg Config, opts ...Option) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	c := &Client{
		cfg: cfg,
		newBackOff: func() backoff.BackOff {
			return backoff.NewExponentialBackOff()
		},
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.http == nil {
		var transportOpts []otelhttp.Option
		if c.tracerProvider != nil {
			transportOpts = append(transportOpts, otelhttp.WithTracerProvider(c.tracerProvider))
		}
		c.http = &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport, transportOpts...),
		}
	}
	return c
}

// Create registers a payment for the order. The idempotency key is sent as
// the Idempotence-Key header so retries never create a second payment.
func (c *Client) Create(ctx context.Context, req payment.CreateRequest) (*payment.Payment, error) {
	body := encodeCreateRequest(req, c.cfg.ReturnURL)
	return c.do(ctx, http.MethodPost, "/payments", body, req.IdempotencyKey.String())
}

// Find returns the current state of a payment.
func (c *Client) Find(ctx context.Context, paymentID string) (*payment.Payment, error) {
	return c.do(ctx, http.MethodGet, "/payments/"+url.PathEscape(paymentID), nil, "")
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, idempotenceKey string) (*payment.Payment, error) {
	lg := zctx.From(ctx).With(zap.String("method", method), zap.String("path", path))

	op := func() (*payment.Payment, error) {
		var rd io.Reader
		if body != nil {
			rd = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, rd)
		if err != nil {
			return nil, backoff.Permanent(errors.Wrap(err, "build request"))
		}
		req.SetBasicAuth(c.cfg.ShopID, c.cfg.SecretKey)
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if idempotenceKey != "" {
			req.Header.Set("Idempotence-Key", idempotenceKey)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
		if err != nil {
			return nil, errors.Wrap(err, "read response")
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			apiErr := decodeAPIError(resp.StatusCode, data)
			if retryable(resp.StatusCode) {
				return nil, apiErr
			}
			return nil, backoff.Permanent(apiErr)
		}

		p, err := decodePayment(data)
		if err != nil {
			return nil, backoff.Permanent(errors.Wrap(err, "decode payment"))
		}
		return p, nil
	}

	p, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(c.newBackOff()),
		backoff.WithMaxTries(c.cfg.MaxRetries+1),
		backoff.WithNotify(func(err error, next time.Duration) {
			lg.Warn("Retrying payment gateway call", zap.Error(err), zap.Duration("backoff", next))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", payment.ErrGateway, method, path, err)
	}
	return p, nil
}

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
}

// APIError is a non-2xx response from YooKassa.
type APIError struct {
	StatusCode  int
	Code        string
	Description string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return "status " + strconv.Itoa(e.StatusCode)
	}
	return fmt.Sprintf("status %d: %s: %s", e.StatusCode, e.Code, e.Description)
}
