package cart

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/xenking/flowershop/internal/domain/auth"
	"github.com/xenking/flowershop/internal/domain/discount"
	"github.com/xenking/flowershop/internal/domain/product"
)

// Service applies ownership rules and pricing on top of a Store.
type Service struct {
	store    Store
	products product.Repository
	prices   discount.Resolver
}

// NewService creates a cart Service.
func NewService(store Store, products product.Repository, prices discount.Resolver) *Service {
	return &Service{
		store:    store,
		products: products,
		prices:   prices,
	}
}

// Get returns the cart of userID.
func (s *Service) Get(ctx context.Context, p auth.Principal, userID int64) (*Cart, error) {
	if !p.CanAccess(userID) {
		return nil, auth.ErrInsufficientPermission
	}
	c, err := s.store.GetByUser(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "get cart")
	}
	return c, nil
}

// AddItem adds quantity units of a product to the principal's cart, creating
// the cart on first use. The line is priced with the current discounted
// price.
func (s *Service) AddItem(ctx context.Context, p auth.Principal, productID int64, quantity int) (*Item, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}

	prod, err := s.products.GetByID(ctx, productID)
	if err != nil {
		return nil, errors.Wrap(err, "get product")
	}
	if !prod.InStock {
		return nil, ErrProductOutOfStock
	}

	resolved, err := s.prices.Resolve(ctx, []product.Product{*prod})
	if err != nil {
		return nil, errors.Wrap(err, "resolve price")
	}

	c, err := s.getOrCreate(ctx, p.UserID)
	if err != nil {
		return nil, err
	}

	item, err := s.store.AddItem(ctx, c.ID, prod.ID, quantity, resolved.UnitPrice(*prod))
	if err != nil {
		return nil, errors.Wrap(err, "add item")
	}
	return item, nil
}

// getOrCreate tolerates a concurrent first add creating the cart between our
// lookup and insert.
func (s *Service) getOrCreate(ctx context.Context, userID int64) (*Cart, error) {
	c, err := s.store.GetByUser(ctx, userID)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, ErrCartNotFound) {
		return nil, errors.Wrap(err, "get cart")
	}

	c, err = s.store.Create(ctx, userID)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, ErrCartExists) {
		return nil, errors.Wrap(err, "create cart")
	}

	c, err = s.store.GetByUser(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "get cart")
	}
	return c, nil
}

// UpdateItem sets the quantity of an item the principal owns.
func (s *Service) UpdateItem(ctx context.Context, p auth.Principal, itemID int64, quantity int) (*Item, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}
	if err := s.authorizeItem(ctx, p, itemID); err != nil {
		return nil, err
	}
	item, err := s.store.UpdateItemQuantity(ctx, itemID, quantity)
	if err != nil {
		return nil, errors.Wrap(err, "update item")
	}
	return item, nil
}

// RemoveItem deletes an item the principal owns.
func (s *Service) RemoveItem(ctx context.Context, p auth.Principal, itemID int64) error {
	if err := s.authorizeItem(ctx, p, itemID); err != nil {
		return err
	}
	if err := s.store.RemoveItem(ctx, itemID); err != nil {
		return errors.Wrap(err, "remove item")
	}
	return nil
}

// Clear removes every item from the principal's cart.
func (s *Service) Clear(ctx context.Context, p auth.Principal) error {
	c, err := s.store.GetByUser(ctx, p.UserID)
	if err != nil {
		return errors.Wrap(err, "get cart")
	}
	if err := s.store.Clear(ctx, c.ID); err != nil {
		return errors.Wrap(err, "clear cart")
	}
	return nil
}

func (s *Service) authorizeItem(ctx context.Context, p auth.Principal, itemID int64) error {
	item, err := s.store.GetItem(ctx, itemID)
	if err != nil {
		return errors.Wrap(err, "get item")
	}
	if p.IsAdmin() {
		return nil
	}
	c, err := s.store.GetByUser(ctx, p.UserID)
	if err != nil {
		if errors.Is(err, ErrCartNotFound) {
			return auth.ErrInsufficientPermission
		}
		return errors.Wrap(err, "get cart")
	}
	if c.ID != item.CartID {
		return auth.ErrInsufficientPermission
	}
	return nil
}
