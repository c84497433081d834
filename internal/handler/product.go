package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/flowershop/internal/domain/discount"
	"github.com/xenking/flowershop/internal/domain/product"
)

// listProducts returns every product with its current effective price.
func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.products.List(r.Context())
	if err != nil {
		writeErr(w, r, errors.Wrap(err, "list products"))
		return
	}
	prices, err := h.prices.Resolve(r.Context(), products)
	if err != nil {
		writeErr(w, r, errors.Wrap(err, "resolve prices"))
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Arr(func(e *jx.Encoder) {
			for _, p := range products {
				encodeProduct(e, p, prices[p.ID])
			}
		})
	})
}

// getProduct returns a single product by ID.
func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeErr(w, r, err)
		return
	}
	p, err := h.products.GetByID(r.Context(), id)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	prices, err := h.prices.Resolve(r.Context(), []product.Product{*p})
	if err != nil {
		writeErr(w, r, errors.Wrap(err, "resolve prices"))
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeProduct(e, *p, prices[p.ID]) })
}

func encodeProduct(e *jx.Encoder, p product.Product, res discount.Resolution) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Int64(p.ID) })
		e.Field("name", func(e *jx.Encoder) { e.Str(p.Name) })
		e.Field("slug", func(e *jx.Encoder) { e.Str(p.Slug) })
		e.Field("price", func(e *jx.Encoder) { money(e, p.Price) })
		e.Field("effective_price", func(e *jx.Encoder) {
			if res.Applied() {
				money(e, res.Price)
				return
			}
			money(e, p.Price)
		})
		e.Field("discount", func(e *jx.Encoder) {
			if !res.Applied() {
				e.Null()
				return
			}
			e.Obj(func(e *jx.Encoder) {
				e.Field("id", func(e *jx.Encoder) { e.Int64(res.Discount.ID) })
				e.Field("name", func(e *jx.Encoder) { e.Str(res.Discount.Name) })
			})
		})
		e.Field("in_stock", func(e *jx.Encoder) { e.Bool(p.InStock) })
		e.Field("category_ids", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, id := range p.CategoryIDs {
					e.Int64(id)
				}
			})
		})
	})
}
