package order

import (
	"context"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of an order.
type Status string

const (
	StatusPending    Status = "pending"
	StatusPaid       Status = "paid"
	StatusInProgress Status = "in_progress"
	StatusOnTheWay   Status = "on_the_way"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

var statuses = []Status{
	StatusPending, StatusPaid, StatusInProgress, StatusOnTheWay, StatusDelivered, StatusCancelled,
}

// cancellableStatuses may be cancelled by the owning user.
var cancellableStatuses = []Status{StatusPending, StatusPaid}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return slices.Contains(statuses, s)
}

// Cancellable reports whether the owner may still cancel an order in s.
func (s Status) Cancellable() bool {
	return slices.Contains(cancellableStatuses, s)
}

// Terminal reports whether no further transitions are expected from s.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusDelivered
}

// MethodOfReceipt is how the customer receives the order.
type MethodOfReceipt string

const (
	MethodDelivery MethodOfReceipt = "delivery"
	MethodPickUp   MethodOfReceipt = "pick_up"
)

// Delivery holds courier delivery details.
type Delivery struct {
	Address        string
	RecipientName  string
	RecipientPhone string
	Comment        string
	DeliveryDate   *time.Time
}

// Order is a priced, payment-backed purchase. Items and Total are fixed at
// creation; only Status, PaymentID and PaidAt change afterwards.
type Order struct {
	ID             int64
	UserID         int64
	Status         Status
	Total          decimal.Decimal
	Method         MethodOfReceipt
	Delivery       *Delivery
	PickupPointID  *int64
	IdempotencyKey uuid.UUID
	PaymentID      *string
	ExpiresAt      time.Time
	PaidAt         *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Items          []Item
}

// Expired reports whether the order's payment window has passed at now.
func (o *Order) Expired(now time.Time) bool {
	return !o.ExpiresAt.After(now)
}

// Item is an order line with its unit price locked at creation.
type Item struct {
	ID        int64
	OrderID   int64
	ProductID int64
	Quantity  int
	Price     decimal.Decimal
}

// Subtotal returns Quantity * Price.
func (i Item) Subtotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Page selects a 1-based page of results.
type Page struct {
	Number int
	Size   int
}

// Offset returns the number of rows to skip.
func (p Page) Offset() int {
	if p.Number < 1 {
		return 0
	}
	return (p.Number - 1) * p.Size
}

// PageResult is one page of orders plus the total row count.
type PageResult struct {
	Items []Order
	Total int
	Page  Page
}

// Repository defines persistence operations for orders.
type Repository interface {
	// Create inserts the order, its items and delivery record in one
	// transaction and fills in generated IDs and timestamps.
	Create(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, id int64) (*Order, error)
	GetByPaymentID(ctx context.Context, paymentID string) (*Order, error)
	// FindPending returns the user's most recent pending order.
	FindPending(ctx context.Context, userID int64) (*Order, error)
	ListExpired(ctx context.Context, now time.Time, limit int) ([]Order, error)
	ListByUser(ctx context.Context, userID int64, page Page) ([]Order, int, error)
	// List returns orders with the given status, or all orders when status
	// is empty.
	List(ctx context.Context, status Status, page Page) ([]Order, int, error)
	SetPaymentID(ctx context.Context, id int64, paymentID string) error
	// CancelPending locks the order row, cancels it if it is still pending
	// and returns the status observed under the lock.
	CancelPending(ctx context.Context, id int64) (Status, error)
	// MarkPaid moves a pending order to paid. It reports false when the
	// order was no longer pending.
	MarkPaid(ctx context.Context, id int64, paidAt time.Time) (bool, error)
	// TransitionStatus sets status to to when the current status is one of
	// from, or fails with ErrOrderNotUpdated.
	TransitionStatus(ctx context.Context, id int64, from []Status, to Status) (*Order, error)
	// UpdateStatus overwrites the status unconditionally.
	UpdateStatus(ctx context.Context, id int64, status Status) (*Order, error)
}
