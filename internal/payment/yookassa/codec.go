package yookassa

import (
	"strconv"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/flowershop/internal/domain/payment"
)

// encodeCreateRequest builds a one-stage payment: it is captured on
// confirmation, so only payment.succeeded and payment.canceled settle orders.
func encodeCreateRequest(req payment.CreateRequest, returnURL string) []byte {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("amount", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field("value", func(e *jx.Encoder) { e.Str(req.Amount.StringFixed(2)) })
				e.Field("currency", func(e *jx.Encoder) { e.Str(currency) })
			})
		})
		e.Field("confirmation", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field("type", func(e *jx.Encoder) { e.Str("redirect") })
				e.Field("return_url", func(e *jx.Encoder) { e.Str(returnURL) })
			})
		})
		e.Field("capture", func(e *jx.Encoder) { e.Bool(true) })
		e.Field("description", func(e *jx.Encoder) { e.Str("Order #" + strconv.FormatInt(req.OrderID, 10)) })
		e.Field("metadata", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field("order_id", func(e *jx.Encoder) { e.Str(strconv.FormatInt(req.OrderID, 10)) })
			})
		})
	})
	return e.Bytes()
}

func decodePayment(data []byte) (*payment.Payment, error) {
	var p payment.Payment
	if err := readPayment(jx.DecodeBytes(data), &p); err != nil {
		return nil, err
	}
	if p.ID == "" {
		return nil, errors.New("payment id is missing")
	}
	return &p, nil
}

func readPayment(d *jx.Decoder, p *payment.Payment) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "id":
			v, err := d.Str()
			p.ID = v
			return err
		case "status":
			v, err := d.Str()
			p.Status = payment.Status(v)
			return err
		case "confirmation":
			if d.Next() == jx.Null {
				return d.Null()
			}
			return d.Obj(func(d *jx.Decoder, key string) error {
				if key != "confirmation_url" {
					return d.Skip()
				}
				v, err := d.Str()
				p.ConfirmationURL = v
				return err
			})
		default:
			return d.Skip()
		}
	})
}

// DecodeNotification parses a webhook body of the form
// {"type":"notification","event":"payment.succeeded","object":{...}}.
func DecodeNotification(data []byte) (payment.Notification, error) {
	var n payment.Notification
	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "event":
			v, err := d.Str()
			n.Event = payment.Event(v)
			return err
		case "object":
			return readPayment(d, &n.Object)
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return n, errors.Wrap(err, "decode notification")
	}
	if n.Event == "" || n.Object.ID == "" {
		return n, errors.New("notification without event or payment id")
	}
	return n, nil
}

func decodeAPIError(status int, data []byte) *APIError {
	apiErr := &APIError{StatusCode: status}
	// Bodies that are not YooKassa error objects leave Code empty.
	_ = jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "code":
			v, err := d.Str()
			apiErr.Code = v
			return err
		case "description":
			v, err := d.Str()
			apiErr.Description = v
			return err
		default:
			return d.Skip()
		}
	})
	return apiErr
}
