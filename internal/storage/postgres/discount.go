package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/flowershop/internal/domain/discount"
)

const (
	discountColumns = `id, name, percentage, new_price, is_active, product_id, category_id`

	activeDiscountsByProductsSQL = `SELECT ` + discountColumns + `
		FROM discounts WHERE is_active AND product_id = ANY($1) ORDER BY id`

	activeDiscountsByCategoriesSQL = `SELECT ` + discountColumns + `
		FROM discounts WHERE is_active AND category_id = ANY($1) ORDER BY id`
)

var _ discount.Repository = (*DiscountRepository)(nil)

// DiscountRepository implements discount.Repository backed by PostgreSQL.
type DiscountRepository struct {
	pool *pgxpool.Pool
}

// NewDiscountRepository returns a DiscountRepository that uses the given pool.
func NewDiscountRepository(pool *pgxpool.Pool) *DiscountRepository {
	return &DiscountRepository{pool: pool}
}

// ActiveByProducts returns active discounts targeting any of productIDs.
func (r *DiscountRepository) ActiveByProducts(ctx context.Context, productIDs []int64) ([]discount.Discount, error) {
	return r.list(ctx, activeDiscountsByProductsSQL, productIDs)
}

// ActiveByCategories returns active discounts targeting any of categoryIDs.
func (r *DiscountRepository) ActiveByCategories(ctx context.Context, categoryIDs []int64) ([]discount.Discount, error) {
	return r.list(ctx, activeDiscountsByCategoriesSQL, categoryIDs)
}

func (r *DiscountRepository) list(ctx context.Context, sql string, ids []int64) ([]discount.Discount, error) {
	rows, err := r.pool.Query(ctx, sql, ids)
	if err != nil {
		return nil, fmt.Errorf("listing active discounts: %w", err)
	}
	discounts, err := pgx.CollectRows(rows, scanDiscount)
	if err != nil {
		return nil, fmt.Errorf("listing active discounts: %w", err)
	}
	return discounts, nil
}

// scanDiscount folds the nullable target/value column pairs into the
// discount's Target and Reduction variants.
func scanDiscount(row pgx.CollectableRow) (discount.Discount, error) {
	var (
		d          discount.Discount
		percentage decimal.NullDecimal
		newPrice   decimal.NullDecimal
		productID  *int64
		categoryID *int64
	)
	if err := row.Scan(&d.ID, &d.Name, &percentage, &newPrice, &d.Active, &productID, &categoryID); err != nil {
		return d, err
	}

	switch {
	case productID != nil:
		d.Target = discount.ProductTarget{ProductID: *productID}
	case categoryID != nil:
		d.Target = discount.CategoryTarget{CategoryID: *categoryID}
	}
	switch {
	case newPrice.Valid:
		d.Reduction = discount.FixedPrice{Price: newPrice.Decimal}
	case percentage.Valid:
		d.Reduction = discount.PercentOff{Percent: percentage.Decimal}
	}

	if err := d.Validate(); err != nil {
		return d, fmt.Errorf("discount %d: %w", d.ID, err)
	}
	return d, nil
}

// discountColumnsFor splits a discount into its nullable column values.
func discountColumnsFor(d discount.Discount) (percentage, newPrice decimal.NullDecimal, productID, categoryID *int64) {
	switch t := d.Target.(type) {
	case discount.ProductTarget:
		productID = &t.ProductID
	case discount.CategoryTarget:
		categoryID = &t.CategoryID
	}
	switch rd := d.Reduction.(type) {
	case discount.PercentOff:
		percentage = decimal.NewNullDecimal(rd.Percent)
	case discount.FixedPrice:
		newPrice = decimal.NewNullDecimal(rd.Price)
	}
	return percentage, newPrice, productID, categoryID
}
