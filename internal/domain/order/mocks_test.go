package order

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/xenking/harvest-fulfillment/internal/domain/product"
)

// --- Mock implementations ---

type mockCatalog struct {
	mu     sync.Mutex
	byID   map[string]*product.Product
	getErr error
}

func newCatalog(products ...product.Product) *mockCatalog {
	byID := make(map[string]*product.Product, len(products))
	for i := range products {
		byID[products[i].ID] = &products[i]
	}
	return &mockCatalog{byID: byID}
}

func (m *mockCatalog) GetByID(_ context.Context, id string) (*product.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byID[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *mockCatalog) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []product.Product
	for _, id := range ids {
		if p, ok := m.byID[id]; ok {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *mockCatalog) stock(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byID[id].QuantityAvailable
}

// memRepo mimics the guarded decrement of the SQL repository on top of the
// mock catalog.
type memRepo struct {
	catalog    *mockCatalog
	mu         sync.Mutex
	orders     map[string]*Order
	failVendor map[string]error
	creates    int
}

func newMemRepo(catalog *mockCatalog) *memRepo {
	return &memRepo{
		catalog:    catalog,
		orders:     make(map[string]*Order),
		failVendor: make(map[string]error),
	}
}

func (r *memRepo) Create(_ context.Context, orders ...*Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.creates++

	for _, o := range orders {
		if err := r.failVendor[o.VendorID]; err != nil {
			return err
		}
	}

	r.catalog.mu.Lock()
	defer r.catalog.mu.Unlock()
	need := make(map[string]int)
	for _, o := range orders {
		for _, it := range o.Items {
			need[it.ProductID] += it.Quantity
		}
	}
	for id, qty := range need {
		p, ok := r.catalog.byID[id]
		switch {
		case !ok:
			return &LineError{ProductID: id, Err: ErrProductNotFound}
		case p.Status != product.StatusActive:
			return &LineError{ProductID: id, Err: ErrProductUnavailable}
		case p.QuantityAvailable < qty:
			return &LineError{ProductID: id, Err: ErrInsufficientStock}
		}
	}
	for id, qty := range need {
		r.catalog.byID[id].QuantityAvailable -= qty
	}
	for _, o := range orders {
		cp := *o
		cp.Items = append([]Item(nil), o.Items...)
		r.orders[o.ID] = &cp
	}
	return nil
}

func (r *memRepo) Get(_ context.Context, id string) (*Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (r *memRepo) List(_ context.Context, f Filter) ([]Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Order
	for _, o := range r.orders {
		if f.BuyerID != "" && o.BuyerID != f.BuyerID {
			continue
		}
		if f.VendorID != "" && o.VendorID != f.VendorID {
			continue
		}
		out = append(out, *o)
	}
	return out, nil
}

func (r *memRepo) Update(_ context.Context, id string, fn Mutation) (*Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	cp := *o
	c, err := fn(&cp)
	if err != nil {
		return nil, err
	}
	cp.Apply(c)
	cp.Version++
	if c.Restock {
		r.catalog.mu.Lock()
		for _, it := range cp.Items {
			r.catalog.byID[it.ProductID].QuantityAvailable += it.Quantity
		}
		r.catalog.mu.Unlock()
	}
	r.orders[id] = &cp
	out := cp
	return &out, nil
}

func (r *memRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.orders)
}

type recordingDispatcher struct {
	mu     sync.Mutex
	events []Event
}

func (d *recordingDispatcher) Dispatch(_ context.Context, e Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, e)
}

func (d *recordingDispatcher) last() Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.events[len(d.events)-1]
}

type mockPayments struct {
	calls  []PaymentRequest
	result *PaymentResult
	err    error
}

func (m *mockPayments) Initiate(_ context.Context, req PaymentRequest) (*PaymentResult, error) {
	m.calls = append(m.calls, req)
	return m.result, m.err
}

type mockDirectory map[string]string

func (d mockDirectory) PhoneNumber(_ context.Context, userID string) (string, error) {
	return d[userID], nil
}

// --- Helpers ---

const (
	vendorA = "vendor-a"
	vendorB = "vendor-b"
	buyerID = "buyer-1"
)

var (
	buyer      = Actor{ID: buyerID, Role: RoleBuyer}
	vendorActA = Actor{ID: vendorA, Role: RoleVendor}
)

func newTestProduct(id, vendor, price string, stock, minQty int) product.Product {
	return product.Product{
		ID:                   id,
		VendorID:             vendor,
		Name:                 id,
		UnitPrice:            decimal.RequireFromString(price),
		QuantityAvailable:    stock,
		MinimumOrderQuantity: minQty,
		Status:               product.StatusActive,
	}
}

type fixture struct {
	catalog    *mockCatalog
	repo       *memRepo
	dispatcher *recordingDispatcher
	svc        *Service
}

func newFixture(t *testing.T, products []product.Product, opts ...Option) *fixture {
	t.Helper()

	catalog := newCatalog(products...)
	repo := newMemRepo(catalog)
	d := &recordingDispatcher{}
	svc, err := NewService(catalog, repo, append([]Option{WithDispatcher(d)}, opts...)...)
	require.NoError(t, err)
	return &fixture{catalog: catalog, repo: repo, dispatcher: d, svc: svc}
}
