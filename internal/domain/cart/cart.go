package cart

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrCartNotFound is returned when the user has no cart.
	ErrCartNotFound = errors.New("cart not found")
	// ErrCartExists is returned by Store.Create when the user already has a cart.
	ErrCartExists = errors.New("cart already exists")
	// ErrItemNotFound is returned when a cart item does not exist.
	ErrItemNotFound = errors.New("cart item not found")
	// ErrEmptyCart is returned when checking out a cart without items.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrInvalidQuantity is returned for non-positive quantities.
	ErrInvalidQuantity = errors.New("quantity must be greater than 0")
	// ErrProductOutOfStock is returned when adding an unavailable product.
	ErrProductOutOfStock = errors.New("product is out of stock")
)

// Cart is the single shopping cart of a user.
type Cart struct {
	ID        int64
	UserID    int64
	Items     []Item
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsEmpty reports whether the cart has no line items.
func (c *Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

// Item is a cart line. Price is captured when the product is first added.
type Item struct {
	ID        int64
	CartID    int64
	ProductID int64
	Quantity  int
	Price     decimal.Decimal
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store persists carts and their items.
type Store interface {
	// GetByUser returns the user's cart with items, or ErrCartNotFound.
	GetByUser(ctx context.Context, userID int64) (*Cart, error)
	// Create creates an empty cart, or fails with ErrCartExists.
	Create(ctx context.Context, userID int64) (*Cart, error)
	// AddItem inserts a line or, if the product is already in the cart,
	// increments its quantity by quantity in the same statement.
	AddItem(ctx context.Context, cartID, productID int64, quantity int, price decimal.Decimal) (*Item, error)
	GetItem(ctx context.Context, itemID int64) (*Item, error)
	// UpdateItemQuantity overwrites the quantity of an item.
	UpdateItemQuantity(ctx context.Context, itemID int64, quantity int) (*Item, error)
	RemoveItem(ctx context.Context, itemID int64) error
	Clear(ctx context.Context, cartID int64) error
}
