package handler

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/flowershop/internal/domain/cart"
	"github.com/xenking/flowershop/internal/domain/order"
)

const dateLayout = time.DateOnly

func writeJSON(w http.ResponseWriter, status int, encode func(e *jx.Encoder)) {
	var e jx.Encoder
	encode(&e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("code", func(e *jx.Encoder) { e.Int(status) })
			e.Field("message", func(e *jx.Encoder) { e.Str(msg) })
		})
	})
}

// readBody reads a JSON request body and checks it is well formed.
func readBody(w http.ResponseWriter, r *http.Request) (*jx.Decoder, error) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		return nil, badRequest("cannot read request body")
	}
	if err := jx.DecodeBytes(data).Validate(); err != nil {
		return nil, badRequest("request body is not valid JSON")
	}
	return jx.DecodeBytes(data), nil
}

func money(e *jx.Encoder, d decimal.Decimal) {
	e.Str(d.StringFixed(2))
}

func timestamp(e *jx.Encoder, t time.Time) {
	e.Str(t.UTC().Format(time.RFC3339))
}

func optTimestamp(e *jx.Encoder, t *time.Time) {
	if t == nil {
		e.Null()
		return
	}
	timestamp(e, *t)
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Int64(o.ID) })
		e.Field("user_id", func(e *jx.Encoder) { e.Int64(o.UserID) })
		e.Field("status", func(e *jx.Encoder) { e.Str(string(o.Status)) })
		e.Field("total_price", func(e *jx.Encoder) { money(e, o.Total) })
		e.Field("method_of_receipt", func(e *jx.Encoder) { e.Str(string(o.Method)) })
		e.Field("delivery", func(e *jx.Encoder) { encodeDelivery(e, o.Delivery) })
		e.Field("pickup_point_id", func(e *jx.Encoder) {
			if o.PickupPointID == nil {
				e.Null()
				return
			}
			e.Int64(*o.PickupPointID)
		})
		e.Field("payment_id", func(e *jx.Encoder) {
			if o.PaymentID == nil {
				e.Null()
				return
			}
			e.Str(*o.PaymentID)
		})
		e.Field("expires_at", func(e *jx.Encoder) { timestamp(e, o.ExpiresAt) })
		e.Field("paid_at", func(e *jx.Encoder) { optTimestamp(e, o.PaidAt) })
		e.Field("created_at", func(e *jx.Encoder) { timestamp(e, o.CreatedAt) })
		e.Field("items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, it := range o.Items {
					e.Obj(func(e *jx.Encoder) {
						e.Field("id", func(e *jx.Encoder) { e.Int64(it.ID) })
						e.Field("product_id", func(e *jx.Encoder) { e.Int64(it.ProductID) })
						e.Field("quantity", func(e *jx.Encoder) { e.Int(it.Quantity) })
						e.Field("price", func(e *jx.Encoder) { money(e, it.Price) })
						e.Field("subtotal", func(e *jx.Encoder) { money(e, it.Subtotal()) })
					})
				}
			})
		})
	})
}

func encodeDelivery(e *jx.Encoder, d *order.Delivery) {
	if d == nil {
		e.Null()
		return
	}
	e.Obj(func(e *jx.Encoder) {
		e.Field("address", func(e *jx.Encoder) { e.Str(d.Address) })
		e.Field("recipient_name", func(e *jx.Encoder) { e.Str(d.RecipientName) })
		e.Field("recipient_phone", func(e *jx.Encoder) { e.Str(d.RecipientPhone) })
		e.Field("comment", func(e *jx.Encoder) { e.Str(d.Comment) })
		e.Field("delivery_date", func(e *jx.Encoder) {
			if d.DeliveryDate == nil {
				e.Null()
				return
			}
			e.Str(d.DeliveryDate.Format(dateLayout))
		})
	})
}

func encodeOrderPage(e *jx.Encoder, p *order.PageResult) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for i := range p.Items {
					encodeOrder(e, &p.Items[i])
				}
			})
		})
		e.Field("total", func(e *jx.Encoder) { e.Int(p.Total) })
		e.Field("page", func(e *jx.Encoder) { e.Int(p.Page.Number) })
		e.Field("page_size", func(e *jx.Encoder) { e.Int(p.Page.Size) })
	})
}

func encodeCartItem(e *jx.Encoder, it *cart.Item) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Int64(it.ID) })
		e.Field("product_id", func(e *jx.Encoder) { e.Int64(it.ProductID) })
		e.Field("quantity", func(e *jx.Encoder) { e.Int(it.Quantity) })
		e.Field("price", func(e *jx.Encoder) { money(e, it.Price) })
	})
}

func encodeCart(e *jx.Encoder, c *cart.Cart) {
	total := decimal.Zero
	for _, it := range c.Items {
		total = total.Add(it.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Int64(c.ID) })
		e.Field("user_id", func(e *jx.Encoder) { e.Int64(c.UserID) })
		e.Field("items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for i := range c.Items {
					encodeCartItem(e, &c.Items[i])
				}
			})
		})
		e.Field("total_price", func(e *jx.Encoder) { money(e, total) })
	})
}

// pathID parses a positive int64 path value.
func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, badRequest("invalid " + name)
	}
	return id, nil
}

// queryPage reads ?page=&page_size=. Missing values are left zero for the
// service defaults.
func queryPage(r *http.Request) (order.Page, error) {
	var page order.Page
	q := r.URL.Query()
	for _, f := range []struct {
		name string
		dst  *int
	}{
		{"page", &page.Number},
		{"page_size", &page.Size},
	} {
		v := q.Get(f.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return page, badRequest("invalid " + f.name)
		}
		*f.dst = n
	}
	return page, nil
}
