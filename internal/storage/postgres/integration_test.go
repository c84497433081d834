//go:build integration

package postgres

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xenking/flowershop/internal/domain/discount"
	"github.com/xenking/flowershop/internal/domain/order"
	"github.com/xenking/flowershop/internal/domain/pickup"
	"github.com/xenking/flowershop/internal/domain/product"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	os.Exit(testMain(m))
}

func testMain(m *testing.M) int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:17-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "flowershop",
				"POSTGRES_PASSWORD": "flowershop",
				"POSTGRES_DB":       "flowershop",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("start postgres: %v", err)
	}
	defer func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			log.Printf("terminate postgres: %v", err)
		}
	}()

	host, err := container.Host(ctx)
	if err != nil {
		log.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		log.Fatalf("mapped port: %v", err)
	}

	dsn := fmt.Sprintf("postgres://flowershop:flowershop@%s:%s/flowershop?sslmode=disable", host, port.Port())
	testPool, err = NewPool(ctx, dsn)
	if err != nil {
		log.Fatalf("pool: %v", err)
	}
	defer testPool.Close()

	if err := RunMigrations(ctx, testPool); err != nil {
		log.Fatalf("migrations: %v", err)
	}
	// Migrations are idempotent.
	if err := RunMigrations(ctx, testPool); err != nil {
		log.Fatalf("migrations rerun: %v", err)
	}

	return m.Run()
}

type fixture struct {
	rose    int64
	tulip   int64
	bouquet int64
	point   int64
}

// seedFixture resets all tables and loads a small catalog.
func seedFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()

	_, err := testPool.Exec(ctx, `TRUNCATE categories, products, product_categories, discounts,
		pickup_points, carts, cart_items, orders, order_items, deliveries RESTART IDENTITY CASCADE`)
	require.NoError(t, err)

	stats, err := NewCatalogWriter(testPool).Seed(ctx, Catalog{
		Categories: []CatalogCategory{
			{Name: "Roses", Slug: "roses"},
			{Name: "Spring", Slug: "spring"},
		},
		Products: []CatalogProduct{
			{Name: "Red rose", Slug: "red-rose", Price: decimal.RequireFromString("100.00"), InStock: true, Categories: []string{"roses", "spring"}},
			{Name: "Tulip", Slug: "tulip", Price: decimal.RequireFromString("50.00"), InStock: true, Categories: []string{"spring"}},
			{Name: "Bouquet", Slug: "bouquet", Price: decimal.RequireFromString("300.00"), InStock: false},
		},
		Discounts: []CatalogDiscount{
			{Name: "Rose week", Product: "red-rose", Percentage: decimal.NewNullDecimal(decimal.NewFromInt(20)), Active: true},
			{Name: "Spring sale", Category: "spring", Percentage: decimal.NewNullDecimal(decimal.NewFromInt(10)), Active: true},
			{Name: "Old sale", Category: "roses", Percentage: decimal.NewNullDecimal(decimal.NewFromInt(50)), Active: false},
		},
		PickupPoints: []pickup.Point{
			{Name: "Central", Address: "1 Main St", Active: true},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, SeedStats{Categories: 2, Products: 3, Discounts: 3, PickupPoints: 1}, stats)

	return fixture{rose: 1, tulip: 2, bouquet: 3, point: 1}
}

func TestCatalog_Products(t *testing.T) {
	f := seedFixture(t)
	ctx := context.Background()
	repo := NewProductRepository(testPool)

	p, err := repo.GetByID(ctx, f.rose)
	require.NoError(t, err)
	assert.Equal(t, "Red rose", p.Name)
	assert.True(t, p.Price.Equal(decimal.RequireFromString("100.00")))
	assert.Equal(t, []int64{1, 2}, p.CategoryIDs)

	_, err = repo.GetByID(ctx, 999)
	assert.ErrorIs(t, err, product.ErrNotFound)

	products, err := repo.GetByIDs(ctx, []int64{f.tulip, f.bouquet, 999})
	require.NoError(t, err)
	require.Len(t, products, 2)
	assert.False(t, products[1].InStock)

	all, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []int64{f.rose, f.tulip, f.bouquet}, []int64{all[0].ID, all[1].ID, all[2].ID})
}

func TestCatalog_SeedIsRepeatable(t *testing.T) {
	seedFixture(t)
	seedFixture(t)

	var n int
	require.NoError(t, testPool.QueryRow(context.Background(), `SELECT count(*) FROM discounts`).Scan(&n))
	assert.Equal(t, 3, n)
}

func TestDiscounts_Resolve(t *testing.T) {
	f := seedFixture(t)
	ctx := context.Background()

	products, err := NewProductRepository(testPool).GetByIDs(ctx, []int64{f.rose, f.tulip})
	require.NoError(t, err)

	res, err := discount.NewRepoResolver(NewDiscountRepository(testPool)).Resolve(ctx, products)
	require.NoError(t, err)

	// Product discount wins over the category discount.
	assert.True(t, res[f.rose].Price.Equal(decimal.NewFromInt(80)))
	assert.Equal(t, "Rose week", res[f.rose].Discount.Name)
	assert.True(t, res[f.tulip].Price.Equal(decimal.NewFromInt(45)))
}

func TestPickup_GetByID(t *testing.T) {
	f := seedFixture(t)
	repo := NewPickupRepository(testPool)

	pt, err := pickup.Validate(context.Background(), repo, f.point)
	require.NoError(t, err)
	assert.Equal(t, "Central", pt.Name)

	_, err = repo.GetByID(context.Background(), 42)
	assert.ErrorIs(t, err, pickup.ErrNotFound)
}

func TestCartStore_ConcurrentAddsAccumulate(t *testing.T) {
	f := seedFixture(t)
	ctx := context.Background()
	store := NewCartStore(testPool)

	c, err := store.Create(ctx, 7)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for _, qty := range []int{2, 5} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.AddItem(ctx, c.ID, f.rose, qty, decimal.RequireFromString("80.00"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := store.GetByUser(ctx, 7)
	require.NoError(t, err)
	require.Len(t, got.Items, 1)
	assert.Equal(t, 7, got.Items[0].Quantity)

	_, err = store.Create(ctx, 7)
	assert.Error(t, err)

	require.NoError(t, store.Clear(ctx, c.ID))
	got, err = store.GetByUser(ctx, 7)
	require.NoError(t, err)
	assert.True(t, got.IsEmpty())
}

func newTestOrder(userID, productID int64) *order.Order {
	date := time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC)
	return &order.Order{
		UserID:         userID,
		Status:         order.StatusPending,
		Total:          decimal.RequireFromString("160.00"),
		Method:         order.MethodDelivery,
		Delivery:       &order.Delivery{Address: "2 Garden Rd", RecipientName: "Ann", DeliveryDate: &date},
		IdempotencyKey: uuid.New(),
		ExpiresAt:      time.Now().Add(30 * time.Minute),
		Items: []order.Item{
			{ProductID: productID, Quantity: 2, Price: decimal.RequireFromString("80.00")},
		},
	}
}

func TestOrderRepository_CreateAndRead(t *testing.T) {
	f := seedFixture(t)
	ctx := context.Background()
	repo := NewOrderRepository(testPool)

	o := newTestOrder(7, f.rose)
	require.NoError(t, repo.Create(ctx, o))
	require.NotZero(t, o.ID)
	require.NotZero(t, o.Items[0].ID)

	require.NoError(t, repo.SetPaymentID(ctx, o.ID, "pay-1"))

	got, err := repo.GetByPaymentID(ctx, "pay-1")
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)
	assert.Equal(t, o.IdempotencyKey, got.IdempotencyKey)
	require.NotNil(t, got.Delivery)
	assert.Equal(t, "2 Garden Rd", got.Delivery.Address)
	require.Len(t, got.Items, 1)
	assert.True(t, got.Items[0].Price.Equal(decimal.RequireFromString("80.00")))

	pending, err := repo.FindPending(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, o.ID, pending.ID)

	_, err = repo.FindPending(ctx, 8)
	assert.ErrorIs(t, err, order.ErrOrderNotFound)
}

func TestOrderRepository_CreateIsAtomic(t *testing.T) {
	f := seedFixture(t)
	ctx := context.Background()
	repo := NewOrderRepository(testPool)

	o := newTestOrder(7, f.rose)
	o.Items = append(o.Items, order.Item{ProductID: 999, Quantity: 1, Price: decimal.NewFromInt(1)})
	require.Error(t, repo.Create(ctx, o))

	var n int
	require.NoError(t, testPool.QueryRow(ctx, `SELECT count(*) FROM orders`).Scan(&n))
	assert.Zero(t, n)
}

func TestOrderRepository_DuplicateIdempotencyKey(t *testing.T) {
	f := seedFixture(t)
	ctx := context.Background()
	repo := NewOrderRepository(testPool)

	first := newTestOrder(7, f.rose)
	require.NoError(t, repo.Create(ctx, first))

	second := newTestOrder(7, f.rose)
	second.IdempotencyKey = first.IdempotencyKey
	err := repo.Create(ctx, second)
	require.Error(t, err)
	assert.True(t, isUniqueViolation(err, "orders_idempotency_key_key"))
}

// No constraint stops two pending orders for one user: the order service
// guard is best effort. Either may be found and both expire.
func TestOrderRepository_ConcurrentPendingForUser(t *testing.T) {
	f := seedFixture(t)
	ctx := context.Background()
	repo := NewOrderRepository(testPool)

	orders := []*order.Order{newTestOrder(7, f.rose), newTestOrder(7, f.rose)}
	var wg sync.WaitGroup
	for _, o := range orders {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, repo.Create(ctx, o))
		}()
	}
	wg.Wait()

	pending, err := repo.FindPending(ctx, 7)
	require.NoError(t, err)
	assert.Contains(t, []int64{orders[0].ID, orders[1].ID}, pending.ID)

	expired, err := repo.ListExpired(ctx, time.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Len(t, expired, 2)
}

func TestOrderRepository_MarkPaidOnce(t *testing.T) {
	f := seedFixture(t)
	ctx := context.Background()
	repo := NewOrderRepository(testPool)

	o := newTestOrder(7, f.rose)
	require.NoError(t, repo.Create(ctx, o))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		updated int
	)
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.MarkPaid(ctx, o.ID, time.Now())
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				updated++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, updated)

	got, err := repo.GetByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPaid, got.Status)
	assert.NotNil(t, got.PaidAt)
}

func TestOrderRepository_CancelPending(t *testing.T) {
	f := seedFixture(t)
	ctx := context.Background()
	repo := NewOrderRepository(testPool)

	o := newTestOrder(7, f.rose)
	require.NoError(t, repo.Create(ctx, o))

	prev, err := repo.CancelPending(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPending, prev)

	prev, err = repo.CancelPending(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusCancelled, prev)

	paid := newTestOrder(7, f.rose)
	require.NoError(t, repo.Create(ctx, paid))
	ok, err := repo.MarkPaid(ctx, paid.ID, time.Now())
	require.NoError(t, err)
	require.True(t, ok)

	prev, err = repo.CancelPending(ctx, paid.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPaid, prev)

	got, err := repo.GetByID(ctx, paid.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPaid, got.Status)

	_, err = repo.CancelPending(ctx, 999)
	assert.ErrorIs(t, err, order.ErrOrderNotFound)
}

func TestOrderRepository_CancelRacesPayment(t *testing.T) {
	f := seedFixture(t)
	ctx := context.Background()
	repo := NewOrderRepository(testPool)

	o := newTestOrder(7, f.rose)
	require.NoError(t, repo.Create(ctx, o))

	var (
		wg   sync.WaitGroup
		prev order.Status
		paid bool
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		var err error
		prev, err = repo.CancelPending(ctx, o.ID)
		assert.NoError(t, err)
	}()
	go func() {
		defer wg.Done()
		var err error
		paid, err = repo.MarkPaid(ctx, o.ID, time.Now())
		assert.NoError(t, err)
	}()
	wg.Wait()

	got, err := repo.GetByID(ctx, o.ID)
	require.NoError(t, err)
	if paid {
		assert.Equal(t, order.StatusPaid, prev)
		assert.Equal(t, order.StatusPaid, got.Status)
	} else {
		assert.Equal(t, order.StatusPending, prev)
		assert.Equal(t, order.StatusCancelled, got.Status)
	}
}

func TestOrderRepository_Transitions(t *testing.T) {
	f := seedFixture(t)
	ctx := context.Background()
	repo := NewOrderRepository(testPool)

	o := newTestOrder(7, f.rose)
	require.NoError(t, repo.Create(ctx, o))

	got, err := repo.UpdateStatus(ctx, o.ID, order.StatusDelivered)
	require.NoError(t, err)
	assert.Equal(t, order.StatusDelivered, got.Status)

	_, err = repo.TransitionStatus(ctx, o.ID, []order.Status{order.StatusPending, order.StatusPaid}, order.StatusCancelled)
	assert.ErrorIs(t, err, order.ErrOrderNotUpdated)

	_, err = repo.UpdateStatus(ctx, 999, order.StatusPaid)
	assert.ErrorIs(t, err, order.ErrOrderNotFound)
}

func TestOrderRepository_Lists(t *testing.T) {
	f := seedFixture(t)
	ctx := context.Background()
	repo := NewOrderRepository(testPool)

	for i := range 3 {
		o := newTestOrder(7, f.rose)
		if i == 0 {
			o.ExpiresAt = time.Now().Add(-time.Minute)
		}
		require.NoError(t, repo.Create(ctx, o))
	}
	other := newTestOrder(8, f.tulip)
	require.NoError(t, repo.Create(ctx, other))
	_, err := repo.UpdateStatus(ctx, other.ID, order.StatusInProgress)
	require.NoError(t, err)

	mine, total, err := repo.ListByUser(ctx, 7, order.Page{Number: 1, Size: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, mine, 2)

	inProgress, total, err := repo.List(ctx, order.StatusInProgress, order.Page{Number: 1, Size: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, inProgress, 1)
	assert.Equal(t, other.ID, inProgress[0].ID)

	_, total, err = repo.List(ctx, "", order.Page{Number: 1, Size: 10})
	require.NoError(t, err)
	assert.Equal(t, 4, total)

	expired, err := repo.ListExpired(ctx, time.Now(), 10)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, int64(7), expired[0].UserID)
}
