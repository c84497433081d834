package discount

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when a discount does not exist.
	ErrNotFound = errors.New("discount not found")
	// ErrInvalidTarget is returned when a discount targets neither a product
	// nor a category.
	ErrInvalidTarget = errors.New("discount must target exactly one product or category")
	// ErrInvalidReduction is returned for a missing or out of range reduction.
	ErrInvalidReduction = errors.New("discount must set exactly one valid percentage or new price")
	// ErrFixedPriceOnCategory is returned when a category discount carries an
	// explicit new price.
	ErrFixedPriceOnCategory = errors.New("new price is not allowed for category discounts")
)

var hundred = decimal.NewFromInt(100)

// Target selects what a discount applies to: a ProductTarget or a
// CategoryTarget.
type Target interface {
	target()
}

// ProductTarget applies a discount to a single product.
type ProductTarget struct {
	ProductID int64
}

func (ProductTarget) target() {}

// CategoryTarget applies a discount to every product in a category.
type CategoryTarget struct {
	CategoryID int64
}

func (CategoryTarget) target() {}

// Reduction computes a discounted price: a PercentOff or a FixedPrice.
type Reduction interface {
	apply(price decimal.Decimal) decimal.Decimal
}

// PercentOff reduces the price by Percent percent.
type PercentOff struct {
	Percent decimal.Decimal
}

// apply rounds half away from zero, which for non-negative prices is half-up.
func (r PercentOff) apply(price decimal.Decimal) decimal.Decimal {
	return price.Mul(hundred.Sub(r.Percent)).Div(hundred).Round(2)
}

// FixedPrice replaces the price outright.
type FixedPrice struct {
	Price decimal.Decimal
}

func (r FixedPrice) apply(decimal.Decimal) decimal.Decimal {
	return r.Price.Round(2)
}

// Discount is an administrator-defined price reduction.
type Discount struct {
	ID        int64
	Name      string
	Target    Target
	Reduction Reduction
	Active    bool
}

// Apply returns the discounted price for a product with the given catalog
// price. The result is never negative.
func (d Discount) Apply(price decimal.Decimal) decimal.Decimal {
	p := d.Reduction.apply(price)
	if p.IsNegative() {
		return decimal.Zero
	}
	return p
}

// Validate checks the target/reduction combination.
func (d Discount) Validate() error {
	switch d.Target.(type) {
	case ProductTarget, CategoryTarget:
	default:
		return ErrInvalidTarget
	}

	switch r := d.Reduction.(type) {
	case PercentOff:
		if !r.Percent.IsPositive() || r.Percent.GreaterThan(hundred) {
			return ErrInvalidReduction
		}
	case FixedPrice:
		if _, ok := d.Target.(CategoryTarget); ok {
			return ErrFixedPriceOnCategory
		}
		if !r.Price.IsPositive() {
			return ErrInvalidReduction
		}
	default:
		return ErrInvalidReduction
	}
	return nil
}

// PercentFromPrice returns the percentage that takes price down to newPrice,
// rounded to 2 decimal places.
func PercentFromPrice(price, newPrice decimal.Decimal) decimal.Decimal {
	if !price.IsPositive() {
		return decimal.Zero
	}
	return price.Sub(newPrice).Div(price).Mul(hundred).Round(2)
}

// Repository provides lookup of active discounts.
type Repository interface {
	ActiveByProducts(ctx context.Context, productIDs []int64) ([]Discount, error)
	ActiveByCategories(ctx context.Context, categoryIDs []int64) ([]Discount, error)
}
