package handler

import (
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/flowershop/internal/domain/auth"
	"github.com/xenking/flowershop/internal/domain/order"
)

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	d, err := readBody(w, r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	req, err := decodeCreateOrder(d)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	req.UserID = p.UserID

	res, err := h.orders.CreateOrder(r.Context(), req)
	if err != nil {
		writeErr(w, r, err)
		return
	}

	status := http.StatusCreated
	if res.Reused {
		status = http.StatusOK
	}
	writeJSON(w, status, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("order", func(e *jx.Encoder) { encodeOrder(e, res.Order) })
			e.Field("payment_id", func(e *jx.Encoder) { e.Str(res.PaymentID) })
			e.Field("confirmation_url", func(e *jx.Encoder) { e.Str(res.ConfirmationURL) })
			e.Field("reused", func(e *jx.Encoder) { e.Bool(res.Reused) })
		})
	})
}

func decodeCreateOrder(d *jx.Decoder) (order.CreateRequest, error) {
	var req order.CreateRequest
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "method_of_receipt":
			v, err := d.Str()
			req.Method = order.MethodOfReceipt(v)
			return err
		case "delivery":
			if d.Next() == jx.Null {
				return d.Null()
			}
			dl, err := decodeDelivery(d)
			req.Delivery = dl
			return err
		case "pickup_point_id":
			if d.Next() == jx.Null {
				return d.Null()
			}
			id, err := d.Int64()
			if err != nil {
				return err
			}
			req.PickupPointID = &id
			return nil
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return req, asBadRequest(err, "malformed order request")
	}
	return req, nil
}

func decodeDelivery(d *jx.Decoder) (*order.Delivery, error) {
	var dl order.Delivery
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var (
			dst *string
			v   string
			err error
		)
		switch key {
		case "address":
			dst = &dl.Address
		case "recipient_name":
			dst = &dl.RecipientName
		case "recipient_phone":
			dst = &dl.RecipientPhone
		case "comment":
			dst = &dl.Comment
		case "delivery_date":
			if d.Next() == jx.Null {
				return d.Null()
			}
			if v, err = d.Str(); err != nil {
				return err
			}
			date, err := time.Parse(dateLayout, v)
			if err != nil {
				return badRequest("delivery_date must be YYYY-MM-DD")
			}
			dl.DeliveryDate = &date
			return nil
		default:
			return d.Skip()
		}
		if v, err = d.Str(); err != nil {
			return err
		}
		*dst = v
		return nil
	})
	return &dl, err
}

// asBadRequest keeps a requestError found in err, or replaces err with one
// carrying msg.
func asBadRequest(err error, msg string) error {
	var reqErr *requestError
	if errors.As(err, &reqErr) {
		return reqErr
	}
	return badRequest(msg)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	id, err := pathID(r, "id")
	if err != nil {
		writeErr(w, r, err)
		return
	}
	o, err := h.orders.GetOrder(r.Context(), p, id)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
}

func (h *Handler) listMyOrders(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	page, err := queryPage(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	res, err := h.orders.ListUserOrders(r.Context(), p.UserID, page)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrderPage(e, res) })
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request, _ auth.Principal) {
	page, err := queryPage(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	status := order.Status(r.URL.Query().Get("status"))
	res, err := h.orders.ListOrders(r.Context(), status, page)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrderPage(e, res) })
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	id, err := pathID(r, "id")
	if err != nil {
		writeErr(w, r, err)
		return
	}
	o, err := h.orders.CancelOrder(r.Context(), id, p.UserID)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
}

func (h *Handler) updateOrderStatus(w http.ResponseWriter, r *http.Request, _ auth.Principal) {
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

	var status order.Status
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		if key != "status" {
			return d.Skip()
		}
		v, err := d.Str()
		status = order.Status(v)
		return err
	}); err != nil {
		writeErr(w, r, badRequest("malformed status request"))
		return
	}

	o, err := h.orders.UpdateStatus(r.Context(), id, status)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
}
