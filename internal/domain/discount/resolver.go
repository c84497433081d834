package discount

import (
	"cmp"
	"context"
	"slices"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/flowershop/internal/domain/product"
)

// Resolution is the outcome of discount resolution for one product. A zero
// Resolution means no discount applies.
type Resolution struct {
	Price    decimal.Decimal
	Discount *Discount
}

// Applied reports whether a discount was found for the product.
func (r Resolution) Applied() bool {
	return r.Discount != nil
}

// Resolutions maps product ID to its resolution.
type Resolutions map[int64]Resolution

// UnitPrice returns the discounted price of p when a discount applies and
// its catalog price otherwise.
func (rs Resolutions) UnitPrice(p product.Product) decimal.Decimal {
	if r, ok := rs[p.ID]; ok && r.Applied() {
		return r.Price
	}
	return p.Price
}

// Resolver computes effective prices for a set of products.
type Resolver interface {
	Resolve(ctx context.Context, products []product.Product) (Resolutions, error)
}

// RepoResolver implements Resolver on top of a discount Repository.
type RepoResolver struct {
	repo Repository
}

// NewRepoResolver creates a RepoResolver backed by the given Repository.
func NewRepoResolver(repo Repository) *RepoResolver {
	return &RepoResolver{repo: repo}
}

// Resolve fetches active product and category discounts for products and
// picks one per product using Precedence. Every input product gets an entry.
func (r *RepoResolver) Resolve(ctx context.Context, products []product.Product) (Resolutions, error) {
	out := make(Resolutions, len(products))
	if len(products) == 0 {
		return out, nil
	}

	productIDs := make([]int64, 0, len(products))
	var categoryIDs []int64
	for _, p := range products {
		productIDs = append(productIDs, p.ID)
		categoryIDs = append(categoryIDs, p.CategoryIDs...)
	}
	slices.Sort(categoryIDs)
	categoryIDs = slices.Compact(categoryIDs)

	byProduct, err := r.repo.ActiveByProducts(ctx, productIDs)
	if err != nil {
		return nil, errors.Wrap(err, "lookup product discounts")
	}
	var byCategory []Discount
	if len(categoryIDs) > 0 {
		byCategory, err = r.repo.ActiveByCategories(ctx, categoryIDs)
		if err != nil {
			return nil, errors.Wrap(err, "lookup category discounts")
		}
	}

	candidates := slices.Concat(byProduct, byCategory)
	for _, p := range products {
		d, ok := Best(p, candidates)
		if !ok {
			out[p.ID] = Resolution{}
			continue
		}
		out[p.ID] = Resolution{Price: d.Apply(p.Price), Discount: &d}
	}
	return out, nil
}

// rank returns the precedence of d for p: product discounts rank 0, category
// discounts rank by the category's association position starting at 1. The
// second result is false when d does not apply to p.
func rank(p product.Product, d Discount) (int, bool) {
	if !d.Active {
		return 0, false
	}
	switch t := d.Target.(type) {
	case ProductTarget:
		return 0, t.ProductID == p.ID
	case CategoryTarget:
		if i := slices.Index(p.CategoryIDs, t.CategoryID); i >= 0 {
			return i + 1, true
		}
	}
	return 0, false
}

// Precedence orders two discounts applicable to p: negative when a wins.
// Product discounts beat category discounts, earlier category associations
// beat later ones, and the lower discount ID breaks remaining ties.
func Precedence(p product.Product, a, b Discount) int {
	ra, _ := rank(p, a)
	rb, _ := rank(p, b)
	if c := cmp.Compare(ra, rb); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// Best returns the highest precedence discount among candidates that
// applies to p.
func Best(p product.Product, candidates []Discount) (Discount, bool) {
	var (
		best  Discount
		found bool
	)
	for _, d := range candidates {
		if _, ok := rank(p, d); !ok {
			continue
		}
		if !found || Precedence(p, d, best) < 0 {
			best, found = d, true
		}
	}
	return best, found
}
