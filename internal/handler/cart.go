package handler

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/xenking/flowershop/internal/domain/auth"
)

func (h *Handler) getCart(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	c, err := h.carts.Get(r.Context(), p, p.UserID)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeCart(e, c) })
}

func (h *Handler) clearCart(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	if err := h.carts.Clear(r.Context(), p); err != nil {
		writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type cartItemBody struct {
	productID int64
	quantity  int
}

func decodeCartItem(d *jx.Decoder) (cartItemBody, error) {
	var b cartItemBody
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "product_id":
			v, err := d.Int64()
			b.productID = v
			return err
		case "quantity":
			v, err := d.Int()
			b.quantity = v
			return err
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return b, badRequest("malformed cart item request")
	}
	return b, nil
}

func (h *Handler) addCartItem(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	d, err := readBody(w, r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	body, err := decodeCartItem(d)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if body.productID <= 0 {
		writeErr(w, r, badRequest("product_id is required"))
		return
	}

	item, err := h.carts.AddItem(r.Context(), p, body.productID, body.quantity)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encodeCartItem(e, item) })
}

func (h *Handler) updateCartItem(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	id, err := pathID(r, "id")
	if err != nil {
		writeErr(w, r, err)
		return
	}
	d, err := readBody(w, r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	body, err := decodeCartItem(d)
	if err != nil {
		writeErr(w, r, err)
		return
	}

	item, err := h.carts.UpdateItem(r.Context(), p, id, body.quantity)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeCartItem(e, item) })
}

func (h *Handler) removeCartItem(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	id, err := pathID(r, "id")
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if err := h.carts.RemoveItem(r.Context(), p, id); err != nil {
		writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
