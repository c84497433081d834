package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/flowershop/internal/domain/discount"
	"github.com/xenking/flowershop/internal/domain/pickup"
)

const (
	upsertCategorySQL = `INSERT INTO categories (name, slug) VALUES ($1, $2)
		ON CONFLICT (slug) DO UPDATE SET name = EXCLUDED.name
		RETURNING id`

	upsertProductSQL = `INSERT INTO products (name, slug, price, in_stock) VALUES ($1, $2, $3, $4)
		ON CONFLICT (slug) DO UPDATE SET
			name = EXCLUDED.name, price = EXCLUDED.price, in_stock = EXCLUDED.in_stock, updated_at = now()
		RETURNING id`

	clearProductCategoriesSQL = `DELETE FROM product_categories WHERE product_id = $1`

	insertProductCategorySQL = `INSERT INTO product_categories (product_id, category_id, position)
		VALUES ($1, $2, $3)`

	clearDiscountsSQL = `DELETE FROM discounts`

	insertDiscountSQL = `INSERT INTO discounts (name, percentage, new_price, is_active, product_id, category_id)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`

	upsertPickupPointSQL = `INSERT INTO pickup_points
		(name, address, phone, latitude, longitude, working_hours, is_active, sort_order)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (name) DO UPDATE SET
			address = EXCLUDED.address, phone = EXCLUDED.phone,
			latitude = EXCLUDED.latitude, longitude = EXCLUDED.longitude,
			working_hours = EXCLUDED.working_hours, is_active = EXCLUDED.is_active,
			sort_order = EXCLUDED.sort_order
		RETURNING id`
)

// Catalog is the seed data for the storefront: categories, products,
// discounts and pickup points. Products and discounts refer to categories
// and products by slug.
type Catalog struct {
	Categories   []CatalogCategory
	Products     []CatalogProduct
	Discounts    []CatalogDiscount
	PickupPoints []pickup.Point
}

// CatalogCategory is a category row keyed by slug.
type CatalogCategory struct {
	Name string
	Slug string
}

// CatalogProduct is a product row keyed by slug. Categories lists category
// slugs in priority order.
type CatalogProduct struct {
	Name       string
	Slug       string
	Price      decimal.Decimal
	InStock    bool
	Categories []string
}

// CatalogDiscount targets exactly one of Product or Category and carries
// exactly one of Percentage or NewPrice.
type CatalogDiscount struct {
	Name       string
	Product    string
	Category   string
	Percentage decimal.NullDecimal
	NewPrice   decimal.NullDecimal
	Active     bool
}

// SeedStats counts rows written by CatalogWriter.Seed.
type SeedStats struct {
	Categories   int
	Products     int
	Discounts    int
	PickupPoints int
}

// CatalogWriter loads catalog seed data.
type CatalogWriter struct {
	pool *pgxpool.Pool
}

// NewCatalogWriter returns a CatalogWriter that uses the given pool.
func NewCatalogWriter(pool *pgxpool.Pool) *CatalogWriter {
	return &CatalogWriter{pool: pool}
}

// Seed upserts the catalog in one transaction. Categories, products and
// pickup points are matched by their unique keys; discounts are replaced.
func (w *CatalogWriter) Seed(ctx context.Context, c Catalog) (SeedStats, error) {
	var stats SeedStats
	err := pgx.BeginFunc(ctx, w.pool, func(tx pgx.Tx) error {
		categories := make(map[string]int64, len(c.Categories))
		for _, cat := range c.Categories {
			var id int64
			if err := tx.QueryRow(ctx, upsertCategorySQL, cat.Name, cat.Slug).Scan(&id); err != nil {
				return fmt.Errorf("upserting category %q: %w", cat.Slug, err)
			}
			categories[cat.Slug] = id
			stats.Categories++
		}

		products := make(map[string]int64, len(c.Products))
		for _, p := range c.Products {
			id, err := upsertProduct(ctx, tx, p, categories)
			if err != nil {
				return err
			}
			products[p.Slug] = id
			stats.Products++
		}

		if _, err := tx.Exec(ctx, clearDiscountsSQL); err != nil {
			return fmt.Errorf("clearing discounts: %w", err)
		}
		for _, d := range c.Discounts {
			if err := insertDiscount(ctx, tx, d, products, categories); err != nil {
				return err
			}
			stats.Discounts++
		}

		for _, pt := range c.PickupPoints {
			if err := tx.QueryRow(ctx, upsertPickupPointSQL,
				pt.Name, pt.Address, pt.Phone, pt.Latitude, pt.Longitude, pt.WorkingHours, pt.Active, pt.SortOrder,
			).Scan(new(int64)); err != nil {
				return fmt.Errorf("upserting pickup point %q: %w", pt.Name, err)
			}
			stats.PickupPoints++
		}
		return nil
	})
	if err != nil {
		return SeedStats{}, fmt.Errorf("seeding catalog: %w", err)
	}
	return stats, nil
}

func upsertProduct(ctx context.Context, q querier, p CatalogProduct, categories map[string]int64) (int64, error) {
	var id int64
	if err := q.QueryRow(ctx, upsertProductSQL, p.Name, p.Slug, p.Price, p.InStock).Scan(&id); err != nil {
		return 0, fmt.Errorf("upserting product %q: %w", p.Slug, err)
	}
	if _, err := q.Exec(ctx, clearProductCategoriesSQL, id); err != nil {
		return 0, fmt.Errorf("clearing categories of product %q: %w", p.Slug, err)
	}
	for pos, slug := range p.Categories {
		categoryID, ok := categories[slug]
		if !ok {
			return 0, fmt.Errorf("product %q: unknown category %q", p.Slug, slug)
		}
		if _, err := q.Exec(ctx, insertProductCategorySQL, id, categoryID, pos); err != nil {
			return 0, fmt.Errorf("linking product %q to %q: %w", p.Slug, slug, err)
		}
	}
	return id, nil
}

func insertDiscount(ctx context.Context, q querier, cd CatalogDiscount, products, categories map[string]int64) error {
	d := discount.Discount{Name: cd.Name, Active: cd.Active}
	switch {
	case cd.Product != "" && cd.Category == "":
		id, ok := products[cd.Product]
		if !ok {
			return fmt.Errorf("discount %q: unknown product %q", cd.Name, cd.Product)
		}
		d.Target = discount.ProductTarget{ProductID: id}
	case cd.Category != "" && cd.Product == "":
		id, ok := categories[cd.Category]
		if !ok {
			return fmt.Errorf("discount %q: unknown category %q", cd.Name, cd.Category)
		}
		d.Target = discount.CategoryTarget{CategoryID: id}
	}
	switch {
	case cd.NewPrice.Valid && !cd.Percentage.Valid:
		d.Reduction = discount.FixedPrice{Price: cd.NewPrice.Decimal}
	case cd.Percentage.Valid && !cd.NewPrice.Valid:
		d.Reduction = discount.PercentOff{Percent: cd.Percentage.Decimal}
	}
	if err := d.Validate(); err != nil {
		return fmt.Errorf("discount %q: %w", cd.Name, err)
	}

	percentage, newPrice, productID, categoryID := discountColumnsFor(d)
	if err := q.QueryRow(ctx, insertDiscountSQL,
		d.Name, percentage, newPrice, d.Active, productID, categoryID,
	).Scan(&d.ID); err != nil {
		return fmt.Errorf("inserting discount %q: %w", cd.Name, err)
	}
	return nil
}
