package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/flowershop/internal/domain/auth"
	"github.com/xenking/flowershop/internal/domain/cart"
	"github.com/xenking/flowershop/internal/domain/discount"
	"github.com/xenking/flowershop/internal/domain/payment"
	"github.com/xenking/flowershop/internal/domain/pickup"
	"github.com/xenking/flowershop/internal/domain/product"
)

// DefaultExpiration is how long a pending order waits for payment.
const DefaultExpiration = 30 * time.Minute

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

var errIncompletePayment = errors.New("gateway response lacks payment id or confirmation url")

// CreateRequest holds the input for creating an order from the user's cart.
type CreateRequest struct {
	UserID        int64
	Method        MethodOfReceipt
	Delivery      *Delivery
	PickupPointID *int64
}

func (r CreateRequest) validate() error {
	switch r.Method {
	case MethodDelivery:
		if r.Delivery == nil || r.Delivery.Address == "" || r.PickupPointID != nil {
			return ErrInvalidReceipt
		}
	case MethodPickUp:
		if r.PickupPointID == nil || r.Delivery != nil {
			return ErrInvalidReceipt
		}
	default:
		return ErrInvalidReceipt
	}
	return nil
}

// CreateResult holds the order and the payment the customer must complete.
type CreateResult struct {
	Order           *Order
	PaymentID       string
	ConfirmationURL string
	// Reused is true when an existing pending order was returned.
	Reused bool
}

// Service orchestrates checkout, payment settlement and order lifecycle.
type Service struct {
	carts    cart.Store
	products product.Repository
	prices   discount.Resolver
	pickups  pickup.Repository
	orders   Repository
	payments payment.Gateway

	expiration time.Duration
	now        func() time.Time
	tracer     trace.Tracer
	meter      metric.Meter
	metrics    *metrics
}

// Option configures a Service.
type Option func(*Service)

// WithExpiration sets the payment window of new orders.
func WithExpiration(d time.Duration) Option {
	return func(s *Service) { s.expiration = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithTracerProvider sets the tracer provider used for spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) { s.tracer = tp.Tracer("flowershop/order") }
}

// WithMeterProvider sets the meter provider used for counters.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Service) { s.meter = mp.Meter("flowershop/order") }
}

// NewService creates an order Service with the required domain dependencies.
func NewService(
	carts cart.Store,
	products product.Repository,
	prices discount.Resolver,
	pickups pickup.Repository,
	orders Repository,
	payments payment.Gateway,
	opts ...Option,
) *Service {
	s := &Service{
		carts:      carts,
		products:   products,
		prices:     prices,
		pickups:    pickups,
		orders:     orders,
		payments:   payments,
		expiration: DefaultExpiration,
		now:        time.Now,
		tracer:     tracenoop.NewTracerProvider().Tracer(""),
		meter:      metricnoop.NewMeterProvider().Meter(""),
	}
	for _, o := range opts {
		o(s)
	}
	m, err := newMetrics(s.meter)
	if err != nil {
		m, _ = newMetrics(metricnoop.NewMeterProvider().Meter(""))
	}
	s.metrics = m
	return s
}

func (s *Service) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// CreateOrder turns the user's cart into a pending order backed by a gateway
// payment. A still-payable pending order is returned as is; a stale one is
// cancelled first.
func (s *Service) CreateOrder(ctx context.Context, req CreateRequest) (_ *CreateResult, rerr error) {
	ctx, span := s.startSpan(ctx, "order.CreateOrder", attribute.Int64("user.id", req.UserID))
	defer func() { endSpan(span, rerr) }()

	if err := req.validate(); err != nil {
		return nil, err
	}

	c, err := s.carts.GetByUser(ctx, req.UserID)
	if err != nil {
		return nil, errors.Wrap(err, "load cart")
	}
	if c.IsEmpty() {
		return nil, cart.ErrEmptyCart
	}

	if req.PickupPointID != nil {
		if _, err := pickup.Validate(ctx, s.pickups, *req.PickupPointID); err != nil {
			return nil, err
		}
	}

	items, err := s.priceItems(ctx, c.Items)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if res, ok, err := s.reusePending(ctx, req.UserID, now); err != nil || ok {
		return res, err
	}

	// Each creation attempt carries a fresh key.
	o := &Order{
		UserID:         req.UserID,
		Status:         StatusPending,
		Total:          sumItems(items),
		Method:         req.Method,
		Delivery:       req.Delivery,
		PickupPointID:  req.PickupPointID,
		IdempotencyKey: uuid.New(),
		ExpiresAt:      now.Add(s.expiration),
		Items:          items,
	}
	if err := s.orders.Create(ctx, o); err != nil {
		return nil, errors.Wrap(err, "create order")
	}
	s.metrics.created.Add(ctx, 1)

	p, err := s.payments.Create(ctx, payment.CreateRequest{
		Amount:         o.Total,
		OrderID:        o.ID,
		IdempotencyKey: o.IdempotencyKey,
	})
	if err != nil {
		return nil, &PaymentCreationError{OrderID: o.ID, Err: err}
	}
	if p.ID == "" || p.ConfirmationURL == "" {
		return nil, &PaymentCreationError{OrderID: o.ID, Err: errIncompletePayment}
	}

	if err := s.orders.SetPaymentID(ctx, o.ID, p.ID); err != nil {
		return nil, errors.Wrapf(err, "attach payment %s", p.ID)
	}
	o.PaymentID = &p.ID

	zctx.From(ctx).Info("Order created",
		zap.Int64("order_id", o.ID),
		zap.Int64("user_id", o.UserID),
		zap.String("payment_id", p.ID),
		zap.Stringer("total", o.Total),
	)
	return &CreateResult{
		Order:           o,
		PaymentID:       p.ID,
		ConfirmationURL: p.ConfirmationURL,
	}, nil
}

// priceItems snapshots the current discounted price of every cart line.
// Prices captured on the cart lines are not used.
func (s *Service) priceItems(ctx context.Context, lines []cart.Item) ([]Item, error) {
	ids := make([]int64, len(lines))
	for i, l := range lines {
		ids[i] = l.ProductID
	}

	fetched, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}
	byID := make(map[int64]product.Product, len(fetched))
	for _, p := range fetched {
		byID[p.ID] = p
	}

	products := make([]product.Product, 0, len(lines))
	for _, l := range lines {
		p, ok := byID[l.ProductID]
		if !ok {
			return nil, &ProductNotFoundError{ProductID: l.ProductID}
		}
		products = append(products, p)
	}

	resolved, err := s.prices.Resolve(ctx, products)
	if err != nil {
		return nil, errors.Wrap(err, "resolve discounts")
	}

	items := make([]Item, len(lines))
	for i, l := range lines {
		items[i] = Item{
			ProductID: l.ProductID,
			Quantity:  l.Quantity,
			Price:     resolved.UnitPrice(products[i]),
		}
	}
	return items, nil
}

func sumItems(items []Item) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Subtotal())
	}
	return total.Round(2)
}

// reusePending returns the user's current pending order when its payment can
// still be completed. Any other pending order is superseded.
func (s *Service) reusePending(ctx context.Context, userID int64, now time.Time) (*CreateResult, bool, error) {
	existing, err := s.orders.FindPending(ctx, userID)
	if errors.Is(err, ErrOrderNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "find pending order")
	}

	if !existing.Expired(now) && existing.PaymentID != nil {
		p, err := s.payments.Find(ctx, *existing.PaymentID)
		if err != nil {
			return nil, false, errors.Wrapf(err, "find payment %s", *existing.PaymentID)
		}
		if p.Reusable() {
			s.metrics.reused.Add(ctx, 1)
			return &CreateResult{
				Order:           existing,
				PaymentID:       *existing.PaymentID,
				ConfirmationURL: p.ConfirmationURL,
				Reused:          true,
			}, true, nil
		}
	}

	if err := s.supersede(ctx, existing); err != nil {
		return nil, false, err
	}
	return nil, false, nil
}

func (s *Service) supersede(ctx context.Context, o *Order) error {
	prev, err := s.orders.CancelPending(ctx, o.ID)
	if err != nil {
		return errors.Wrapf(err, "cancel stale order %d", o.ID)
	}
	switch prev {
	case StatusPending:
		s.metrics.superseded.Add(ctx, 1)
		zctx.From(ctx).Info("Superseded stale pending order",
			zap.Int64("order_id", o.ID),
			zap.Int64("user_id", o.UserID),
		)
		return nil
	case StatusCancelled:
		// Already cancelled by a concurrent request or the expiry sweep.
		return nil
	default:
		return ErrSettledConcurrently
	}
}

// ProcessWebhook settles the order behind a gateway notification. Unknown
// payments, already settled orders and unrecognized events are no-ops.
func (s *Service) ProcessWebhook(ctx context.Context, n payment.Notification) (rerr error) {
	ctx, span := s.startSpan(ctx, "order.ProcessWebhook",
		attribute.String("payment.event", string(n.Event)),
		attribute.String("payment.id", n.Object.ID),
	)
	defer func() { endSpan(span, rerr) }()

	lg := zctx.From(ctx).With(zap.String("event", string(n.Event)), zap.String("payment_id", n.Object.ID))

	o, err := s.orders.GetByPaymentID(ctx, n.Object.ID)
	if errors.Is(err, ErrOrderNotFound) {
		lg.Info("Webhook for unknown payment ignored")
		s.metrics.webhook(ctx, string(n.Event), "unknown_payment")
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "lookup order by payment")
	}
	if o.Status != StatusPending {
		s.metrics.webhook(ctx, string(n.Event), "already_settled")
		return nil
	}

	switch n.Event {
	case payment.EventSucceeded:
		ok, err := s.orders.MarkPaid(ctx, o.ID, s.now())
		if err != nil {
			return errors.Wrapf(err, "mark order %d paid", o.ID)
		}
		if !ok {
			s.metrics.webhook(ctx, string(n.Event), "already_settled")
			return nil
		}
		lg.Info("Order paid", zap.Int64("order_id", o.ID))
		s.clearCart(ctx, lg, o.UserID)
		s.metrics.webhook(ctx, string(n.Event), "paid")
	case payment.EventCanceled:
		prev, err := s.orders.CancelPending(ctx, o.ID)
		if err != nil {
			return errors.Wrapf(err, "cancel order %d", o.ID)
		}
		if prev != StatusPending {
			s.metrics.webhook(ctx, string(n.Event), "already_settled")
			return nil
		}
		lg.Info("Order cancelled by gateway", zap.Int64("order_id", o.ID))
		s.metrics.webhook(ctx, string(n.Event), "cancelled")
	default:
		s.metrics.webhook(ctx, string(n.Event), "ignored")
	}
	return nil
}

// clearCart empties the user's cart after payment. Failures are logged only:
// the payment is already settled.
func (s *Service) clearCart(ctx context.Context, lg *zap.Logger, userID int64) {
	c, err := s.carts.GetByUser(ctx, userID)
	if errors.Is(err, cart.ErrCartNotFound) {
		return
	}
	if err != nil {
		lg.Warn("Load cart for clearing", zap.Int64("user_id", userID), zap.Error(err))
		return
	}
	if err := s.carts.Clear(ctx, c.ID); err != nil {
		lg.Warn("Clear cart", zap.Int64("cart_id", c.ID), zap.Error(err))
	}
}

// CancelOrder cancels a pending or paid order on behalf of its owner.
func (s *Service) CancelOrder(ctx context.Context, orderID, userID int64) (*Order, error) {
	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	if o.UserID != userID {
		return nil, auth.ErrInsufficientPermission
	}
	if !o.Status.Cancellable() {
		return nil, ErrOrderNotUpdated
	}

	updated, err := s.orders.TransitionStatus(ctx, orderID, cancellableStatuses, StatusCancelled)
	if err != nil {
		return nil, errors.Wrap(err, "cancel order")
	}
	zctx.From(ctx).Info("Order cancelled by user",
		zap.Int64("order_id", orderID),
		zap.String("previous_status", string(o.Status)),
	)
	return updated, nil
}

// UpdateStatus overwrites an order's status. It is meant for administrators
// moving orders through fulfillment.
func (s *Service) UpdateStatus(ctx context.Context, orderID int64, status Status) (*Order, error) {
	if !status.Valid() {
		return nil, ErrInvalidStatus
	}
	o, err := s.orders.UpdateStatus(ctx, orderID, status)
	if err != nil {
		return nil, errors.Wrap(err, "update status")
	}
	return o, nil
}

// GetOrder returns an order visible to p.
func (s *Service) GetOrder(ctx context.Context, p auth.Principal, orderID int64) (*Order, error) {
	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	if !p.CanAccess(o.UserID) {
		return nil, auth.ErrInsufficientPermission
	}
	return o, nil
}

func normalizePage(p Page) Page {
	if p.Number < 1 {
		p.Number = 1
	}
	switch {
	case p.Size <= 0:
		p.Size = defaultPageSize
	case p.Size > maxPageSize:
		p.Size = maxPageSize
	}
	return p
}

// ListUserOrders returns one page of a user's orders, newest first.
func (s *Service) ListUserOrders(ctx context.Context, userID int64, page Page) (*PageResult, error) {
	page = normalizePage(page)
	orders, total, err := s.orders.ListByUser(ctx, userID, page)
	if err != nil {
		return nil, errors.Wrap(err, "list user orders")
	}
	return &PageResult{Items: orders, Total: total, Page: page}, nil
}

// ListOrders returns one page of all orders, optionally filtered by status.
func (s *Service) ListOrders(ctx context.Context, status Status, page Page) (*PageResult, error) {
	if status != "" && !status.Valid() {
		return nil, ErrInvalidStatus
	}
	page = normalizePage(page)
	orders, total, err := s.orders.List(ctx, status, page)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	return &PageResult{Items: orders, Total: total, Page: page}, nil
}

// CancelExpired cancels up to limit pending orders whose payment window has
// passed and returns how many were cancelled.
func (s *Service) CancelExpired(ctx context.Context, limit int) (int, error) {
	expired, err := s.orders.ListExpired(ctx, s.now(), limit)
	if err != nil {
		return 0, errors.Wrap(err, "list expired orders")
	}

	var cancelled int
	for _, o := range expired {
		prev, err := s.orders.CancelPending(ctx, o.ID)
		if err != nil {
			return cancelled, errors.Wrapf(err, "cancel expired order %d", o.ID)
		}
		if prev == StatusPending {
			cancelled++
		}
	}
	return cancelled, nil
}
