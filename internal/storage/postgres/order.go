package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/flowershop/internal/domain/order"
)

const (
	orderSelect = `SELECT o.id, o.user_id, o.status, o.total_price, o.method_of_receipt, o.idempotency_key,
		o.payment_id, o.expires_at, o.paid_at, o.pickup_point_id, o.created_at, o.updated_at,
		d.address, d.recipient_name, d.recipient_phone, d.comment, d.delivery_date
		FROM orders o LEFT JOIN deliveries d ON d.order_id = o.id`

	insertOrderSQL = `INSERT INTO orders
		(user_id, status, total_price, method_of_receipt, idempotency_key, expires_at, pickup_point_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`

	insertDeliverySQL = `INSERT INTO deliveries
		(order_id, address, recipient_name, recipient_phone, comment, delivery_date)
		VALUES ($1, $2, $3, $4, $5, $6)`

	insertOrderItemSQL = `INSERT INTO order_items (order_id, product_id, quantity, price)
		VALUES ($1, $2, $3, $4) RETURNING id`

	listOrderItemsSQL = `SELECT id, order_id, product_id, quantity, price
		FROM order_items WHERE order_id = ANY($1) ORDER BY order_id, id`

	getOrderByIDSQL = orderSelect + ` WHERE o.id = $1`

	getOrderByPaymentIDSQL = orderSelect + ` WHERE o.payment_id = $1`

	findPendingOrderSQL = orderSelect + ` WHERE o.user_id = $1 AND o.status = 'pending'
		ORDER BY o.created_at DESC, o.id DESC LIMIT 1`

	listExpiredOrdersSQL = orderSelect + ` WHERE o.status = 'pending' AND o.expires_at <= $1
		ORDER BY o.expires_at LIMIT $2`

	listUserOrdersSQL = orderSelect + ` WHERE o.user_id = $1
		ORDER BY o.created_at DESC, o.id DESC LIMIT $2 OFFSET $3`

	countUserOrdersSQL = `SELECT count(*) FROM orders WHERE user_id = $1`

	listOrdersSQL = orderSelect + ` WHERE ($1::text = '' OR o.status = $1)
		ORDER BY o.created_at DESC, o.id DESC LIMIT $2 OFFSET $3`

	countOrdersSQL = `SELECT count(*) FROM orders WHERE ($1::text = '' OR status = $1)`

	setPaymentIDSQL = `UPDATE orders SET payment_id = $2, updated_at = now() WHERE id = $1`

	lockOrderStatusSQL = `SELECT status FROM orders WHERE id = $1 FOR UPDATE`

	cancelOrderSQL = `UPDATE orders SET status = 'cancelled', updated_at = now() WHERE id = $1`

	markOrderPaidSQL = `UPDATE orders SET status = 'paid', paid_at = $2, updated_at = now()
		WHERE id = $1 AND status = 'pending'`

	transitionOrderStatusSQL = `UPDATE orders SET status = $2, updated_at = now()
		WHERE id = $1 AND status = ANY($3)`

	updateOrderStatusSQL = `UPDATE orders SET status = $2, updated_at = now() WHERE id = $1`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists the order, its delivery record and its items in one
// transaction.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, insertOrderSQL,
			o.UserID, string(o.Status), o.Total, string(o.Method), o.IdempotencyKey, o.ExpiresAt, o.PickupPointID,
		).Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return fmt.Errorf("inserting order: %w", err)
		}

		if d := o.Delivery; d != nil {
			if _, err := tx.Exec(ctx, insertDeliverySQL,
				o.ID, d.Address, d.RecipientName, d.RecipientPhone, d.Comment, d.DeliveryDate,
			); err != nil {
				return fmt.Errorf("inserting delivery: %w", err)
			}
		}

		batch := &pgx.Batch{}
		for _, it := range o.Items {
			batch.Queue(insertOrderItemSQL, o.ID, it.ProductID, it.Quantity, it.Price)
		}
		br := tx.SendBatch(ctx, batch)
		for i := range o.Items {
			if err := br.QueryRow().Scan(&o.Items[i].ID); err != nil {
				_ = br.Close()
				return fmt.Errorf("inserting item for product %d: %w", o.Items[i].ProductID, err)
			}
			o.Items[i].OrderID = o.ID
		}
		return br.Close()
	})
	if err != nil {
		return fmt.Errorf("creating order for user %d: %w", o.UserID, err)
	}
	return nil
}

// GetByID returns an order with its items.
func (r *OrderRepository) GetByID(ctx context.Context, id int64) (*order.Order, error) {
	return r.getOne(ctx, getOrderByIDSQL, id)
}

// GetByPaymentID returns the order holding the given gateway payment.
func (r *OrderRepository) GetByPaymentID(ctx context.Context, paymentID string) (*order.Order, error) {
	return r.getOne(ctx, getOrderByPaymentIDSQL, paymentID)
}

// FindPending returns the user's most recent pending order.
func (r *OrderRepository) FindPending(ctx context.Context, userID int64) (*order.Order, error) {
	return r.getOne(ctx, findPendingOrderSQL, userID)
}

func (r *OrderRepository) getOne(ctx context.Context, sql string, arg any) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, sql, arg)
	if err != nil {
		return nil, fmt.Errorf("getting order by %v: %w", arg, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrOrderNotFound
		}
		return nil, fmt.Errorf("getting order by %v: %w", arg, err)
	}

	orders := []order.Order{o}
	if err := r.attachItems(ctx, orders); err != nil {
		return nil, err
	}
	return &orders[0], nil
}

// ListExpired returns pending orders whose expiry is at or before now,
// oldest first.
func (r *OrderRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]order.Order, error) {
	return r.list(ctx, listExpiredOrdersSQL, now, limit)
}

// ListByUser returns one page of the user's orders, newest first, and the
// user's total order count.
func (r *OrderRepository) ListByUser(ctx context.Context, userID int64, page order.Page) ([]order.Order, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, countUserOrdersSQL, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting orders of user %d: %w", userID, err)
	}
	orders, err := r.list(ctx, listUserOrdersSQL, userID, page.Size, page.Offset())
	if err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

// List returns one page of orders with the given status (all when empty).
func (r *OrderRepository) List(ctx context.Context, status order.Status, page order.Page) ([]order.Order, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, countOrdersSQL, string(status)).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting orders with status %q: %w", status, err)
	}
	orders, err := r.list(ctx, listOrdersSQL, string(status), page.Size, page.Offset())
	if err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

func (r *OrderRepository) list(ctx context.Context, sql string, args ...any) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	if err := r.attachItems(ctx, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *OrderRepository) attachItems(ctx context.Context, orders []order.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]int64, len(orders))
	index := make(map[int64]int, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
		index[o.ID] = i
	}

	rows, err := r.pool.Query(ctx, listOrderItemsSQL, ids)
	if err != nil {
		return fmt.Errorf("listing order items: %w", err)
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (order.Item, error) {
		var it order.Item
		err := row.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Quantity, &it.Price)
		return it, err
	})
	if err != nil {
		return fmt.Errorf("listing order items: %w", err)
	}
	for _, it := range items {
		o := &orders[index[it.OrderID]]
		o.Items = append(o.Items, it)
	}
	return nil
}

// SetPaymentID stores the gateway payment reference on the order.
func (r *OrderRepository) SetPaymentID(ctx context.Context, id int64, paymentID string) error {
	tag, err := r.pool.Exec(ctx, setPaymentIDSQL, id, paymentID)
	if err != nil {
		return fmt.Errorf("setting payment %q on order %d: %w", paymentID, id, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrOrderNotFound
	}
	return nil
}

// CancelPending locks the order row with SELECT ... FOR UPDATE and cancels
// it only if it is still pending. The returned status is the one observed
// under the lock.
func (r *OrderRepository) CancelPending(ctx context.Context, id int64) (order.Status, error) {
	var prev order.Status
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var status string
		if err := tx.QueryRow(ctx, lockOrderStatusSQL, id).Scan(&status); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return order.ErrOrderNotFound
			}
			return err
		}
		prev = order.Status(status)
		if prev != order.StatusPending {
			return nil
		}
		_, err := tx.Exec(ctx, cancelOrderSQL, id)
		return err
	})
	if err != nil {
		if errors.Is(err, order.ErrOrderNotFound) {
			return "", err
		}
		return "", fmt.Errorf("cancelling pending order %d: %w", id, err)
	}
	return prev, nil
}

// MarkPaid moves a pending order to paid in a single conditional update.
func (r *OrderRepository) MarkPaid(ctx context.Context, id int64, paidAt time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, markOrderPaidSQL, id, paidAt)
	if err != nil {
		return false, fmt.Errorf("marking order %d paid: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// TransitionStatus updates the status only when the current one is in from.
func (r *OrderRepository) TransitionStatus(ctx context.Context, id int64, from []order.Status, to order.Status) (*order.Order, error) {
	allowed := make([]string, len(from))
	for i, s := range from {
		allowed[i] = string(s)
	}
	tag, err := r.pool.Exec(ctx, transitionOrderStatusSQL, id, string(to), allowed)
	if err != nil {
		return nil, fmt.Errorf("moving order %d to %q: %w", id, to, err)
	}
	if tag.RowsAffected() == 0 {
		return nil, order.ErrOrderNotUpdated
	}
	return r.GetByID(ctx, id)
}

// UpdateStatus overwrites the status.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id int64, status order.Status) (*order.Order, error) {
	tag, err := r.pool.Exec(ctx, updateOrderStatusSQL, id, string(status))
	if err != nil {
		return nil, fmt.Errorf("updating order %d status: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return nil, order.ErrOrderNotFound
	}
	return r.GetByID(ctx, id)
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o              order.Order
		status, method string
		address        *string
		recipientName  *string
		recipientPhone *string
		comment        *string
		deliveryDate   *time.Time
	)
	err := row.Scan(
		&o.ID, &o.UserID, &status, &o.Total, &method, &o.IdempotencyKey,
		&o.PaymentID, &o.ExpiresAt, &o.PaidAt, &o.PickupPointID, &o.CreatedAt, &o.UpdatedAt,
		&address, &recipientName, &recipientPhone, &comment, &deliveryDate,
	)
	if err != nil {
		return o, err
	}
	o.Status = order.Status(status)
	o.Method = order.MethodOfReceipt(method)
	if address != nil {
		o.Delivery = &order.Delivery{
			Address:        *address,
			RecipientName:  deref(recipientName),
			RecipientPhone: deref(recipientPhone),
			Comment:        deref(comment),
			DeliveryDate:   deliveryDate,
		}
	}
	return o, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
