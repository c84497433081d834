// Package payment defines the contract with the external payment gateway.
package payment

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrGateway marks failures talking to the payment gateway.
var ErrGateway = errors.New("payment gateway")

// Status is the gateway-side state of a payment.
type Status string

const (
	StatusPending           Status = "pending"
	StatusWaitingForCapture Status = "waiting_for_capture"
	StatusSucceeded         Status = "succeeded"
	StatusCanceled          Status = "canceled"
)

// Event is a webhook notification type.
type Event string

const (
	EventSucceeded         Event = "payment.succeeded"
	EventCanceled          Event = "payment.canceled"
	EventWaitingForCapture Event = "payment.waiting_for_capture"
)

// Payment is a gateway payment as seen by the shop.
type Payment struct {
	ID              string
	Status          Status
	ConfirmationURL string
}

// Reusable reports whether the customer can still complete this payment.
func (p *Payment) Reusable() bool {
	return p.Status == StatusPending && p.ConfirmationURL != ""
}

// CreateRequest describes a payment to create.
type CreateRequest struct {
	Amount  decimal.Decimal
	OrderID int64
	// IdempotencyKey must be identical across retries of the same request.
	IdempotencyKey uuid.UUID
}

// Notification is a webhook delivery from the gateway.
type Notification struct {
	Event  Event
	Object Payment
}

// Gateway creates and looks up payments.
type Gateway interface {
	Create(ctx context.Context, req CreateRequest) (*Payment, error)
	Find(ctx context.Context, paymentID string) (*Payment, error)
}
