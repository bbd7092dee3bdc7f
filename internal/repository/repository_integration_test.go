//go:build integration

package repository_test

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xenking/harvest-fulfillment/internal/domain/notification"
	"github.com/xenking/harvest-fulfillment/internal/domain/order"
	"github.com/xenking/harvest-fulfillment/internal/domain/product"
	"github.com/xenking/harvest-fulfillment/internal/domain/user"
	"github.com/xenking/harvest-fulfillment/internal/repository"
)

var pool *pgxpool.Pool

func TestMain(m *testing.M) {
	os.Exit(testMain(m))
}

func testMain(m *testing.M) int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pg, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "harvest",
				"POSTGRES_PASSWORD": "harvest",
				"POSTGRES_DB":       "harvest",
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
	defer func() { _ = pg.Terminate(context.Background()) }()

	host, err := pg.Host(ctx)
	if err != nil {
		log.Fatalf("host: %v", err)
	}
	port, err := pg.MappedPort(ctx, "5432/tcp")
	if err != nil {
		log.Fatalf("mapped port: %v", err)
	}

	dsn := fmt.Sprintf("postgres://harvest:harvest@%s:%s/harvest?sslmode=disable", host, port.Port())
	pool, err = repository.NewPool(ctx, dsn)
	if err != nil {
		log.Fatalf("pool: %v", err)
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		log.Fatalf("migrations: %v", err)
	}
	if err := repository.NewUserRepository(pool).Upsert(ctx, []user.User{
		{ID: "buyer-1", Name: "Buyer One", Role: user.RoleBuyer, PhoneNumber: "+2348030000001"},
		{ID: "buyer-2", Name: "Buyer Two", Role: user.RoleBuyer},
		{ID: "vendor-a", Name: "Vendor A", Role: user.RoleVendor},
		{ID: "vendor-b", Name: "Vendor B", Role: user.RoleVendor},
	}); err != nil {
		log.Fatalf("seed users: %v", err)
	}

	return m.Run()
}

var (
	buyer  = order.Actor{ID: "buyer-1", Role: order.RoleBuyer}
	vendor = order.Actor{ID: "vendor-a", Role: order.RoleVendor}
)

// seedProducts inserts products with ids unique to the test.
func seedProducts(t *testing.T, products ...product.Product) map[string]string {
	t.Helper()
	ids := make(map[string]string, len(products))
	for i := range products {
		name := products[i].ID
		products[i].ID = fmt.Sprintf("%s-%s-%d", t.Name(), name, time.Now().UnixNano())
		if products[i].Status == "" {
			products[i].Status = product.StatusActive
		}
		if products[i].MinimumOrderQuantity == 0 {
			products[i].MinimumOrderQuantity = 1
		}
		ids[name] = products[i].ID
	}
	require.NoError(t, repository.NewProductRepository(pool).Upsert(context.Background(), products))
	return ids
}

func stockOf(t *testing.T, id string) int {
	t.Helper()
	p, err := repository.NewProductRepository(pool).GetByID(context.Background(), id)
	require.NoError(t, err)
	return p.QuantityAvailable
}

func newService(t *testing.T, opts ...order.Option) *order.Service {
	t.Helper()
	svc, err := order.NewService(
		repository.NewProductRepository(pool),
		repository.NewOrderRepository(pool),
		opts...,
	)
	require.NoError(t, err)
	return svc
}

func TestOrderRoundTrip(t *testing.T) {
	ctx := context.Background()
	ids := seedProducts(t,
		product.Product{ID: "yam", VendorID: "vendor-a", Name: "Yam", UnitPrice: decimal.NewFromInt(800), QuantityAvailable: 20},
		product.Product{ID: "plantain", VendorID: "vendor-a", Name: "Plantain", UnitPrice: decimal.NewFromInt(450), QuantityAvailable: 10},
	)
	svc := newService(t)

	res, err := svc.PlaceOrder(ctx, order.PlaceOrderRequest{
		Buyer: buyer,
		Items: []order.Line{
			{ProductID: ids["yam"], Quantity: 5},
			{ProductID: ids["plantain"], Quantity: 3},
		},
		DeliveryAddress: "12 Market Road",
		DeliveryFee:     decimal.NewFromInt(1000),
	})
	require.NoError(t, err)
	require.Len(t, res.Orders, 1)

	stored, err := repository.NewOrderRepository(pool).Get(ctx, res.Orders[0].ID)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(5350).Equal(stored.TotalAmount), "total %s", stored.TotalAmount)
	assert.True(t, stored.TotalAmount.Equal(stored.ItemsTotal()))
	assert.True(t, decimal.NewFromInt(1000).Equal(stored.DeliveryFee))
	require.Len(t, stored.Items, 2)
	assert.Equal(t, ids["yam"], stored.Items[0].ProductID)
	assert.Equal(t, ids["plantain"], stored.Items[1].ProductID)
	assert.Equal(t, 15, stockOf(t, ids["yam"]))
	assert.Equal(t, 7, stockOf(t, ids["plantain"]))

	_, err = svc.Cancel(ctx, stored.ID, buyer, "wrong address")
	require.NoError(t, err)
	assert.Equal(t, 20, stockOf(t, ids["yam"]))
	assert.Equal(t, 10, stockOf(t, ids["plantain"]))

	_, err = svc.Cancel(ctx, stored.ID, buyer, "again")
	require.ErrorIs(t, err, order.ErrInvalidState)
	assert.Equal(t, 20, stockOf(t, ids["yam"]))

	cancelled, err := repository.NewOrderRepository(pool).Get(ctx, stored.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusCancelled, cancelled.Status)
	assert.Equal(t, 2, cancelled.Version)
	assert.Equal(t, "wrong address", cancelled.Notes)
}

func TestOrderSplitAcrossVendors(t *testing.T) {
	ctx := context.Background()
	ids := seedProducts(t,
		product.Product{ID: "yam", VendorID: "vendor-a", Name: "Yam", UnitPrice: decimal.NewFromInt(800), QuantityAvailable: 20},
		product.Product{ID: "tomato", VendorID: "vendor-b", Name: "Tomato", UnitPrice: decimal.NewFromInt(6000), QuantityAvailable: 5},
		product.Product{ID: "plantain", VendorID: "vendor-a", Name: "Plantain", UnitPrice: decimal.NewFromInt(450), QuantityAvailable: 10},
	)
	svc := newService(t)

	res, err := svc.PlaceOrder(ctx, order.PlaceOrderRequest{
		Buyer: buyer,
		Items: []order.Line{
			{ProductID: ids["yam"], Quantity: 1},
			{ProductID: ids["tomato"], Quantity: 2},
			{ProductID: ids["plantain"], Quantity: 2},
		},
	})
	require.NoError(t, err)
	require.Len(t, res.Orders, 2)

	repo := repository.NewOrderRepository(pool)
	a, err := repo.Get(ctx, res.Orders[0].ID)
	require.NoError(t, err)
	b, err := repo.Get(ctx, res.Orders[1].ID)
	require.NoError(t, err)

	assert.Equal(t, "vendor-a", a.VendorID)
	assert.Len(t, a.Items, 2)
	assert.True(t, decimal.NewFromInt(1700).Equal(a.TotalAmount))
	assert.Equal(t, "vendor-b", b.VendorID)
	assert.Len(t, b.Items, 1)
	assert.True(t, decimal.NewFromInt(12000).Equal(b.TotalAmount))

	listed, err := svc.List(ctx, order.Actor{ID: "vendor-b", Role: order.RoleVendor}, order.Filter{
		Statuses: []order.Status{order.StatusPending},
	})
	require.NoError(t, err)
	found := false
	for _, o := range listed {
		assert.Equal(t, "vendor-b", o.VendorID)
		found = found || o.ID == b.ID
	}
	assert.True(t, found)
}

func TestConcurrentOrdersNeverOversell(t *testing.T) {
	const stock = 10
	ids := seedProducts(t,
		product.Product{ID: "yam", VendorID: "vendor-a", Name: "Yam", UnitPrice: decimal.NewFromInt(800), QuantityAvailable: stock},
	)
	svc := newService(t)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.PlaceOrder(context.Background(), order.PlaceOrderRequest{
				Buyer: buyer,
				Items: []order.Line{{ProductID: ids["yam"], Quantity: stock/2 + 1}},
			})
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}()
	}
	wg.Wait()

	var ok, insufficient int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, order.ErrInsufficientStock):
			insufficient++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, insufficient)
	assert.Equal(t, stock-(stock/2+1), stockOf(t, ids["yam"]))
}

func TestCreateRollsBackOnShortfall(t *testing.T) {
	ctx := context.Background()
	ids := seedProducts(t,
		product.Product{ID: "yam", VendorID: "vendor-a", Name: "Yam", UnitPrice: decimal.NewFromInt(800), QuantityAvailable: 5},
		product.Product{ID: "tomato", VendorID: "vendor-b", Name: "Tomato", UnitPrice: decimal.NewFromInt(6000), QuantityAvailable: 1},
	)
	repo := repository.NewOrderRepository(pool)

	mk := func(vendorID, productID string, qty int) *order.Order {
		id := fmt.Sprintf("%s-%s-%d", t.Name(), productID, time.Now().UnixNano())
		return &order.Order{
			ID: id, BuyerID: "buyer-1", VendorID: vendorID,
			Status: order.StatusPending, PaymentStatus: order.PaymentPending,
			TotalAmount: decimal.Zero, DeliveryFee: decimal.Zero, Version: 1,
			CreatedAt: time.Now(), UpdatedAt: time.Now(),
			Items: []order.Item{{
				ID: id + "-item", OrderID: id, ProductID: productID,
				Quantity: qty, PriceAtOrder: decimal.Zero,
			}},
		}
	}

	first := mk("vendor-a", ids["yam"], 2)
	second := mk("vendor-b", ids["tomato"], 3)
	err := repo.Create(ctx, first, second)

	var lineErr *order.LineError
	require.ErrorAs(t, err, &lineErr)
	assert.Equal(t, ids["tomato"], lineErr.ProductID)
	require.ErrorIs(t, err, order.ErrInsufficientStock)

	assert.Equal(t, 5, stockOf(t, ids["yam"]))
	assert.Equal(t, 1, stockOf(t, ids["tomato"]))
	_, err = repo.Get(ctx, first.ID)
	require.ErrorIs(t, err, order.ErrOrderNotFound)
}

func TestCreateRejectsInactiveAndMissing(t *testing.T) {
	ctx := context.Background()
	ids := seedProducts(t,
		product.Product{ID: "draft", VendorID: "vendor-a", Name: "Draft", UnitPrice: decimal.NewFromInt(1), QuantityAvailable: 5, Status: product.StatusDraft},
	)
	repo := repository.NewOrderRepository(pool)

	o := &order.Order{
		ID: t.Name(), BuyerID: "buyer-1", VendorID: "vendor-a",
		Status: order.StatusPending, PaymentStatus: order.PaymentPending, Version: 1,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
		Items: []order.Item{{ID: t.Name() + "-1", ProductID: ids["draft"], Quantity: 1}},
	}
	require.ErrorIs(t, repo.Create(ctx, o), order.ErrProductUnavailable)

	o.Items[0].ProductID = "does-not-exist"
	require.ErrorIs(t, repo.Create(ctx, o), order.ErrProductNotFound)
}

func TestRestockAndDirectory(t *testing.T) {
	ctx := context.Background()
	ids := seedProducts(t,
		product.Product{ID: "yam", VendorID: "vendor-a", Name: "Yam", UnitPrice: decimal.NewFromInt(800), QuantityAvailable: 5},
	)
	products := repository.NewProductRepository(pool)

	n, err := products.Restock(ctx, map[string]int{ids["yam"]: 7, "unknown": 3})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Equal(t, 12, stockOf(t, ids["yam"]))

	all, err := products.ListIDs(ctx)
	require.NoError(t, err)
	assert.Contains(t, all, ids["yam"])

	users := repository.NewUserRepository(pool)
	phone, err := users.PhoneNumber(ctx, "buyer-1")
	require.NoError(t, err)
	assert.Equal(t, "+2348030000001", phone)
	phone, err = users.PhoneNumber(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, phone)

	require.NoError(t, repository.NewNotificationRepository(pool).Create(ctx, &notification.Notification{
		ID:              t.Name(),
		UserID:          "vendor-a",
		Type:            string(order.EventOrderCreated),
		Content:         "New order",
		RelatedEntityID: "order-1",
		CreatedAt:       time.Now(),
	}))
}
