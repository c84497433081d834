package order

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/flowershop/internal/domain/cart"
	"github.com/xenking/flowershop/internal/domain/discount"
	"github.com/xenking/flowershop/internal/domain/payment"
	"github.com/xenking/flowershop/internal/domain/pickup"
	"github.com/xenking/flowershop/internal/domain/product"
)

// --- Mock implementations ---

type mockCartStore struct {
	mu       sync.Mutex
	carts    map[int64]*cart.Cart
	clears   int
	clearErr error
}

func newCartStore() *mockCartStore {
	return &mockCartStore{carts: map[int64]*cart.Cart{}}
}

func (m *mockCartStore) put(userID int64, items ...cart.Item) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.carts[userID] = &cart.Cart{ID: userID * 10, UserID: userID, Items: items}
}

func (m *mockCartStore) GetByUser(_ context.Context, userID int64) (*cart.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.carts[userID]
	if !ok {
		return nil, cart.ErrCartNotFound
	}
	out := *c
	out.Items = slices.Clone(c.Items)
	return &out, nil
}

func (m *mockCartStore) Create(context.Context, int64) (*cart.Cart, error) {
	return nil, errors.New("not implemented")
}

func (m *mockCartStore) AddItem(context.Context, int64, int64, int, decimal.Decimal) (*cart.Item, error) {
	return nil, errors.New("not implemented")
}

func (m *mockCartStore) GetItem(context.Context, int64) (*cart.Item, error) {
	return nil, errors.New("not implemented")
}

func (m *mockCartStore) UpdateItemQuantity(context.Context, int64, int) (*cart.Item, error) {
	return nil, errors.New("not implemented")
}

func (m *mockCartStore) RemoveItem(context.Context, int64) error {
	return errors.New("not implemented")
}

func (m *mockCartStore) Clear(_ context.Context, cartID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.clearErr != nil {
		return m.clearErr
	}
	for _, c := range m.carts {
		if c.ID == cartID {
			c.Items = nil
			m.clears++
		}
	}
	return nil
}

type mockProductRepo struct {
	mu   sync.Mutex
	byID map[int64]product.Product
}

func newProductRepo(products ...product.Product) *mockProductRepo {
	m := &mockProductRepo{byID: map[int64]product.Product{}}
	for _, p := range products {
		m.byID[p.ID] = p
	}
	return m
}

func (m *mockProductRepo) setPrice(id int64, price string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.byID[id]
	p.Price = decimal.RequireFromString(price)
	m.byID[id] = p
}

func (m *mockProductRepo) GetByID(_ context.Context, id int64) (*product.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byID[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return &p, nil
}

func (m *mockProductRepo) GetByIDs(_ context.Context, ids []int64) ([]product.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []product.Product
	for _, id := range ids {
		if p, ok := m.byID[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

type mockDiscountRepo struct {
	discounts []discount.Discount
}

func (m *mockDiscountRepo) ActiveByProducts(_ context.Context, ids []int64) ([]discount.Discount, error) {
	var out []discount.Discount
	for _, d := range m.discounts {
		if t, ok := d.Target.(discount.ProductTarget); ok && slices.Contains(ids, t.ProductID) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *mockDiscountRepo) ActiveByCategories(_ context.Context, ids []int64) ([]discount.Discount, error) {
	var out []discount.Discount
	for _, d := range m.discounts {
		if t, ok := d.Target.(discount.CategoryTarget); ok && slices.Contains(ids, t.CategoryID) {
			out = append(out, d)
		}
	}
	return out, nil
}

type mockPickupRepo struct {
	points map[int64]*pickup.Point
}

func (m *mockPickupRepo) GetByID(_ context.Context, id int64) (*pickup.Point, error) {
	p, ok := m.points[id]
	if !ok {
		return nil, pickup.ErrNotFound
	}
	return p, nil
}

// memOrderRepo keeps orders in memory. Every method holds the mutex for its
// whole duration, mirroring the single-statement atomicity of the SQL store.
type memOrderRepo struct {
	mu     sync.Mutex
	orders map[int64]*Order
	nextID int64
	keys   map[uuid.UUID]bool

	beforeCancel func(o *Order)
	// findGate runs before FindPending takes the lock.
	findGate func()
}

func newOrderRepo() *memOrderRepo {
	return &memOrderRepo{orders: map[int64]*Order{}, keys: map[uuid.UUID]bool{}}
}

func cloneOrder(o *Order) *Order {
	out := *o
	out.Items = slices.Clone(o.Items)
	return &out
}

func (m *memOrderRepo) Create(_ context.Context, o *Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys[o.IdempotencyKey] {
		return errors.New("duplicate idempotency key")
	}
	m.keys[o.IdempotencyKey] = true
	m.nextID++
	o.ID = m.nextID
	for i := range o.Items {
		o.Items[i].ID = o.ID*100 + int64(i)
		o.Items[i].OrderID = o.ID
	}
	m.orders[o.ID] = cloneOrder(o)
	return nil
}

func (m *memOrderRepo) GetByID(_ context.Context, id int64) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return cloneOrder(o), nil
}

func (m *memOrderRepo) GetByPaymentID(_ context.Context, paymentID string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.PaymentID != nil && *o.PaymentID == paymentID {
			return cloneOrder(o), nil
		}
	}
	return nil, ErrOrderNotFound
}

func (m *memOrderRepo) FindPending(_ context.Context, userID int64) (*Order, error) {
	if m.findGate != nil {
		m.findGate()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var found *Order
	for _, o := range m.orders {
		if o.UserID == userID && o.Status == StatusPending && (found == nil || o.ID > found.ID) {
			found = o
		}
	}
	if found == nil {
		return nil, ErrOrderNotFound
	}
	return cloneOrder(found), nil
}

func (m *memOrderRepo) ListExpired(_ context.Context, now time.Time, limit int) ([]Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Order
	for _, o := range m.orders {
		if o.Status == StatusPending && o.Expired(now) && len(out) < limit {
			out = append(out, *cloneOrder(o))
		}
	}
	return out, nil
}

func (m *memOrderRepo) ListByUser(_ context.Context, userID int64, page Page) ([]Order, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Order
	for _, o := range m.orders {
		if o.UserID == userID {
			out = append(out, *cloneOrder(o))
		}
	}
	return out, len(out), nil
}

func (m *memOrderRepo) List(_ context.Context, status Status, page Page) ([]Order, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Order
	for _, o := range m.orders {
		if status == "" || o.Status == status {
			out = append(out, *cloneOrder(o))
		}
	}
	return out, len(out), nil
}

func (m *memOrderRepo) SetPaymentID(_ context.Context, id int64, paymentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return ErrOrderNotFound
	}
	o.PaymentID = &paymentID
	return nil
}

func (m *memOrderRepo) CancelPending(_ context.Context, id int64) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return "", ErrOrderNotFound
	}
	if m.beforeCancel != nil {
		m.beforeCancel(o)
	}
	prev := o.Status
	if prev == StatusPending {
		o.Status = StatusCancelled
	}
	return prev, nil
}

func (m *memOrderRepo) MarkPaid(_ context.Context, id int64, paidAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok || o.Status != StatusPending {
		return false, nil
	}
	o.Status = StatusPaid
	o.PaidAt = &paidAt
	return true, nil
}

func (m *memOrderRepo) TransitionStatus(_ context.Context, id int64, from []Status, to Status) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok || !slices.Contains(from, o.Status) {
		return nil, ErrOrderNotUpdated
	}
	o.Status = to
	return cloneOrder(o), nil
}

func (m *memOrderRepo) UpdateStatus(_ context.Context, id int64, status Status) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	o.Status = status
	return cloneOrder(o), nil
}

func (m *memOrderRepo) byUser(userID int64) []*Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Order
	for _, o := range m.orders {
		if o.UserID == userID {
			out = append(out, cloneOrder(o))
		}
	}
	return out
}

type mockGateway struct {
	mu        sync.Mutex
	payments  map[string]*payment.Payment
	creates   []payment.CreateRequest
	createErr error
	noURL     bool
}

func newGateway() *mockGateway {
	return &mockGateway{payments: map[string]*payment.Payment{}}
}

func (m *mockGateway) Create(_ context.Context, req payment.CreateRequest) (*payment.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creates = append(m.creates, req)
	if m.createErr != nil {
		return nil, m.createErr
	}
	p := &payment.Payment{
		ID:              "pay-" + req.IdempotencyKey.String(),
		Status:          payment.StatusPending,
		ConfirmationURL: "https://pay.example/confirm/" + req.IdempotencyKey.String(),
	}
	if m.noURL {
		p.ConfirmationURL = ""
	}
	m.payments[p.ID] = p
	out := *p
	return &out, nil
}

func (m *mockGateway) Find(_ context.Context, id string) (*payment.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return nil, errors.Wrap(payment.ErrGateway, "not found")
	}
	out := *p
	return &out, nil
}

func (m *mockGateway) setStatus(id string, status payment.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payments[id].Status = status
}
