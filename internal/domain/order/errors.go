package order

import (
	"fmt"

	"github.com/go-faster/errors"
)

var (
	// ErrOrderNotFound is returned when an order does not exist.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderNotUpdated is returned when an order's status does not allow
	// the requested change.
	ErrOrderNotUpdated = errors.New("order not updated")
	// ErrSettledConcurrently is returned when a pending order being
	// superseded was settled by the gateway in the meantime.
	ErrSettledConcurrently = errors.New("pending order was settled concurrently")
	// ErrInvalidStatus is returned for unknown status values.
	ErrInvalidStatus = errors.New("invalid order status")
	// ErrInvalidReceipt is returned when the method of receipt and its
	// delivery or pickup payload do not match.
	ErrInvalidReceipt = errors.New("invalid method of receipt")
)

// ProductNotFoundError indicates a cart line references a missing product.
type ProductNotFoundError struct {
	ProductID int64
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %d not found", e.ProductID)
}

// PaymentCreationError indicates the gateway did not produce a usable
// payment for an order that is already persisted as pending.
type PaymentCreationError struct {
	OrderID int64
	Err     error
}

func (e *PaymentCreationError) Error() string {
	return fmt.Sprintf("create payment for order %d: %v", e.OrderID, e.Err)
}

func (e *PaymentCreationError) Unwrap() error {
	return e.Err
}
