package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/flowershop/internal/domain/auth"
	"github.com/xenking/flowershop/internal/domain/cart"
	"github.com/xenking/flowershop/internal/domain/order"
	"github.com/xenking/flowershop/internal/domain/payment"
	"github.com/xenking/flowershop/internal/domain/pickup"
	"github.com/xenking/flowershop/internal/domain/product"
)

// requestError is a malformed request detected by the handler itself.
type requestError struct {
	msg string
}

func (e *requestError) Error() string { return e.msg }

func badRequest(msg string) error {
	return &requestError{msg: msg}
}

// errorStatus maps an error kind to an HTTP status and client message.
func errorStatus(err error) (int, string) {
	var (
		reqErr     *requestError
		notFound   *order.ProductNotFoundError
		paymentErr *order.PaymentCreationError
	)
	switch {
	case errors.As(err, &reqErr):
		return http.StatusBadRequest, reqErr.msg
	case errors.Is(err, auth.ErrUnauthenticated):
		return http.StatusUnauthorized, auth.ErrUnauthenticated.Error()
	case errors.Is(err, auth.ErrInsufficientPermission):
		return http.StatusForbidden, auth.ErrInsufficientPermission.Error()
	case errors.As(err, &paymentErr), errors.Is(err, payment.ErrGateway):
		return http.StatusBadGateway, "payment gateway is unavailable, retry later"
	case errors.As(err, &notFound):
		return http.StatusNotFound, notFound.Error()
	}

	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.status, k.err.Error()
		}
	}
	return http.StatusInternalServerError, "internal error"
}

var errorKinds = []struct {
	err    error
	status int
}{
	{cart.ErrCartNotFound, http.StatusNotFound},
	{cart.ErrItemNotFound, http.StatusNotFound},
	{order.ErrOrderNotFound, http.StatusNotFound},
	{pickup.ErrNotFound, http.StatusNotFound},
	{product.ErrNotFound, http.StatusNotFound},

	{cart.ErrEmptyCart, http.StatusBadRequest},
	{cart.ErrInvalidQuantity, http.StatusBadRequest},
	{cart.ErrProductOutOfStock, http.StatusBadRequest},
	{pickup.ErrNotActive, http.StatusBadRequest},
	{order.ErrInvalidReceipt, http.StatusBadRequest},
	{order.ErrInvalidStatus, http.StatusBadRequest},

	{order.ErrOrderNotUpdated, http.StatusConflict},
	{order.ErrSettledConcurrently, http.StatusConflict},
}

// writeErr logs server-side failures and writes the error body.
func writeErr(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := errorStatus(err)
	lg := zctx.From(r.Context())
	switch {
	case status >= http.StatusInternalServerError:
		lg.Error("Request failed", zap.Int("status", status), zap.Error(err))
	case status != http.StatusUnauthorized:
		lg.Debug("Request rejected", zap.Int("status", status), zap.Error(err))
	}
	writeError(w, status, msg)
}
