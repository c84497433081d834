package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/flowershop/internal/domain/cart"
)

const (
	cartItemColumns = `id, cart_id, product_id, quantity, price, created_at, updated_at`

	getCartByUserSQL = `SELECT id, user_id, created_at, updated_at FROM carts WHERE user_id = $1`

	listCartItemsSQL = `SELECT ` + cartItemColumns + ` FROM cart_items WHERE cart_id = $1 ORDER BY id`

	createCartSQL = `INSERT INTO carts (user_id) VALUES ($1)
		RETURNING id, user_id, created_at, updated_at`

	// upsertCartItemSQL keeps the price captured by the first insert.
	upsertCartItemSQL = `INSERT INTO cart_items (cart_id, product_id, quantity, price)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT ON CONSTRAINT cart_items_cart_product_key
		DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity, updated_at = now()
		RETURNING ` + cartItemColumns

	getCartItemSQL = `SELECT ` + cartItemColumns + ` FROM cart_items WHERE id = $1`

	updateCartItemQuantitySQL = `UPDATE cart_items SET quantity = $2, updated_at = now()
		WHERE id = $1 RETURNING ` + cartItemColumns

	deleteCartItemSQL = `DELETE FROM cart_items WHERE id = $1`

	clearCartSQL = `DELETE FROM cart_items WHERE cart_id = $1`

	touchCartSQL = `UPDATE carts SET updated_at = now() WHERE id = $1`
)

var _ cart.Store = (*CartStore)(nil)

// CartStore implements cart.Store backed by PostgreSQL.
type CartStore struct {
	pool *pgxpool.Pool
}

// NewCartStore returns a CartStore that uses the given pool.
func NewCartStore(pool *pgxpool.Pool) *CartStore {
	return &CartStore{pool: pool}
}

// GetByUser returns the user's cart with its items ordered by insertion.
func (s *CartStore) GetByUser(ctx context.Context, userID int64) (*cart.Cart, error) {
	var c cart.Cart
	err := s.pool.QueryRow(ctx, getCartByUserSQL, userID).Scan(&c.ID, &c.UserID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, cart.ErrCartNotFound
		}
		return nil, fmt.Errorf("getting cart for user %d: %w", userID, err)
	}

	rows, err := s.pool.Query(ctx, listCartItemsSQL, c.ID)
	if err != nil {
		return nil, fmt.Errorf("listing items of cart %d: %w", c.ID, err)
	}
	c.Items, err = pgx.CollectRows(rows, scanCartItem)
	if err != nil {
		return nil, fmt.Errorf("listing items of cart %d: %w", c.ID, err)
	}
	return &c, nil
}

// Create inserts an empty cart. The carts.user_id unique constraint turns a
// concurrent second insert into cart.ErrCartExists.
func (s *CartStore) Create(ctx context.Context, userID int64) (*cart.Cart, error) {
	var c cart.Cart
	err := s.pool.QueryRow(ctx, createCartSQL, userID).Scan(&c.ID, &c.UserID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err, "") {
			return nil, cart.ErrCartExists
		}
		return nil, fmt.Errorf("creating cart for user %d: %w", userID, err)
	}
	return &c, nil
}

// AddItem inserts a line or increments the existing one in a single
// statement, so concurrent adds of the same product never collide.
func (s *CartStore) AddItem(ctx context.Context, cartID, productID int64, quantity int, price decimal.Decimal) (*cart.Item, error) {
	rows, err := s.pool.Query(ctx, upsertCartItemSQL, cartID, productID, quantity, price)
	if err != nil {
		return nil, fmt.Errorf("adding product %d to cart %d: %w", productID, cartID, err)
	}
	item, err := pgx.CollectExactlyOneRow(rows, scanCartItem)
	if err != nil {
		return nil, fmt.Errorf("adding product %d to cart %d: %w", productID, cartID, err)
	}
	s.touch(ctx, cartID)
	return &item, nil
}

// GetItem returns a single cart item.
func (s *CartStore) GetItem(ctx context.Context, itemID int64) (*cart.Item, error) {
	return s.itemQuery(ctx, getCartItemSQL, itemID)
}

// UpdateItemQuantity overwrites the quantity of an item.
func (s *CartStore) UpdateItemQuantity(ctx context.Context, itemID int64, quantity int) (*cart.Item, error) {
	item, err := s.itemQuery(ctx, updateCartItemQuantitySQL, itemID, quantity)
	if err != nil {
		return nil, err
	}
	s.touch(ctx, item.CartID)
	return item, nil
}

func (s *CartStore) itemQuery(ctx context.Context, sql string, itemID int64, args ...any) (*cart.Item, error) {
	rows, err := s.pool.Query(ctx, sql, append([]any{itemID}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("cart item %d: %w", itemID, err)
	}
	item, err := pgx.CollectExactlyOneRow(rows, scanCartItem)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, cart.ErrItemNotFound
		}
		return nil, fmt.Errorf("cart item %d: %w", itemID, err)
	}
	return &item, nil
}

// RemoveItem deletes an item.
func (s *CartStore) RemoveItem(ctx context.Context, itemID int64) error {
	tag, err := s.pool.Exec(ctx, deleteCartItemSQL, itemID)
	if err != nil {
		return fmt.Errorf("removing cart item %d: %w", itemID, err)
	}
	if tag.RowsAffected() == 0 {
		return cart.ErrItemNotFound
	}
	return nil
}

// Clear deletes every item of a cart, keeping the cart itself.
func (s *CartStore) Clear(ctx context.Context, cartID int64) error {
	if _, err := s.pool.Exec(ctx, clearCartSQL, cartID); err != nil {
		return fmt.Errorf("clearing cart %d: %w", cartID, err)
	}
	s.touch(ctx, cartID)
	return nil
}

// touch bumps carts.updated_at. Errors are ignored.
func (s *CartStore) touch(ctx context.Context, cartID int64) {
	_, _ = s.pool.Exec(ctx, touchCartSQL, cartID)
}

func scanCartItem(row pgx.CollectableRow) (cart.Item, error) {
	var it cart.Item
	err := row.Scan(&it.ID, &it.CartID, &it.ProductID, &it.Quantity, &it.Price, &it.CreatedAt, &it.UpdatedAt)
	return it, err
}
