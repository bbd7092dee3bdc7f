package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/harvest-fulfillment/internal/domain/order"
	"github.com/xenking/harvest-fulfillment/internal/domain/product"
	"github.com/xenking/harvest-fulfillment/internal/payment"
)

// --- Mock implementations ---

type mockOrders struct {
	placeReq  order.PlaceOrderRequest
	placeRes  *order.PlaceOrderResult
	listActor order.Actor
	filter    order.Filter
	list      []order.Order

	lastID     string
	lastActor  order.Actor
	lastStatus order.Status
	lastNote   string
	lastTx     string
	lastPaid   bool

	order   *order.Order
	payment *order.PaymentResult
	err     error
}

func (m *mockOrders) PlaceOrder(_ context.Context, req order.PlaceOrderRequest) (*order.PlaceOrderResult, error) {
	m.placeReq = req
	return m.placeRes, m.err
}

func (m *mockOrders) Get(_ context.Context, id string, actor order.Actor) (*order.Order, error) {
	m.lastID, m.lastActor = id, actor
	return m.order, m.err
}

func (m *mockOrders) List(_ context.Context, actor order.Actor, f order.Filter) ([]order.Order, error) {
	m.listActor, m.filter = actor, f
	return m.list, m.err
}

func (m *mockOrders) Transition(_ context.Context, id string, to order.Status, actor order.Actor, note string) (*order.Order, error) {
	m.lastID, m.lastStatus, m.lastActor, m.lastNote = id, to, actor, note
	return m.order, m.err
}

func (m *mockOrders) Cancel(_ context.Context, id string, actor order.Actor, reason string) (*order.Order, error) {
	m.lastID, m.lastActor, m.lastNote = id, actor, reason
	return m.order, m.err
}

func (m *mockOrders) InitiatePayment(_ context.Context, id string, actor order.Actor) (*order.PaymentResult, error) {
	m.lastID, m.lastActor = id, actor
	return m.payment, m.err
}

func (m *mockOrders) RecordPayment(_ context.Context, id, txID string, paid bool) (*order.Order, error) {
	m.lastID, m.lastTx, m.lastPaid = id, txID, paid
	return m.order, m.err
}

type mockProducts map[string]product.Product

func (m mockProducts) GetByID(_ context.Context, id string) (*product.Product, error) {
	p, ok := m[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return &p, nil
}

func (m mockProducts) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	var out []product.Product
	for _, id := range ids {
		if p, ok := m[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// --- Helpers ---

const secret = "callback-secret"

func newServer(t *testing.T, orders *mockOrders) *httptest.Server {
	t.Helper()
	h := New(Config{CallbackSecret: secret}, orders, mockProducts{
		"yam": {ID: "yam", VendorID: "vendor-a", Name: "Yam tuber", UnitPrice: decimal.NewFromInt(800),
			QuantityAvailable: 40, MinimumOrderQuantity: 1, Status: product.StatusActive},
	})
	mux := http.NewServeMux()
	h.Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

type call struct {
	method, path, body string
	actorID, role      string
	header             map[string]string
}

func (c call) do(t *testing.T, srv *httptest.Server) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(c.method, srv.URL+c.path, strings.NewReader(c.body))
	require.NoError(t, err)
	if c.actorID != "" {
		req.Header.Set("X-Actor-ID", c.actorID)
		req.Header.Set("X-Actor-Role", c.role)
	}
	for k, v := range c.header {
		req.Header.Set(k, v)
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var body map[string]any
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &body), string(raw))
	}
	return resp.StatusCode, body
}

func sampleOrder() *order.Order {
	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return &order.Order{
		ID:            "order-1",
		BuyerID:       "buyer-1",
		VendorID:      "vendor-a",
		Status:        order.StatusPending,
		TotalAmount:   decimal.NewFromInt(5350),
		DeliveryFee:   decimal.NewFromInt(500),
		PaymentStatus: order.PaymentPending,
		Version:       1,
		CreatedAt:     ts,
		UpdatedAt:     ts,
		Items: []order.Item{
			{ID: "i1", ProductID: "yam", Quantity: 5, PriceAtOrder: decimal.NewFromInt(800)},
			{ID: "i2", ProductID: "plantain", Quantity: 3, PriceAtOrder: decimal.NewFromInt(450)},
		},
	}
}

// --- Tests ---

func TestPlaceOrder(t *testing.T) {
	orders := &mockOrders{placeRes: &order.PlaceOrderResult{Orders: []*order.Order{sampleOrder()}}}
	srv := newServer(t, orders)

	code, body := call{
		method: http.MethodPost, path: "/api/orders",
		actorID: "buyer-1", role: "buyer",
		body: `{"items":[{"productId":"yam","quantity":5},{"productId":"plantain","quantity":3}],
			"deliveryAddress":"12 Market Rd","deliveryFee":500,"notes":"ring twice"}`,
	}.do(t, srv)

	require.Equal(t, http.StatusCreated, code, body)
	assert.Equal(t, order.Actor{ID: "buyer-1", Role: order.RoleBuyer}, orders.placeReq.Buyer)
	assert.Equal(t, []order.Line{{ProductID: "yam", Quantity: 5}, {ProductID: "plantain", Quantity: 3}}, orders.placeReq.Items)
	assert.True(t, decimal.NewFromInt(500).Equal(orders.placeReq.DeliveryFee))
	assert.Equal(t, "12 Market Rd", orders.placeReq.DeliveryAddress)
	assert.Equal(t, "ring twice", orders.placeReq.Notes)

	placed := body["orders"].([]any)
	require.Len(t, placed, 1)
	o := placed[0].(map[string]any)
	assert.Equal(t, "5350.00", o["totalAmount"])
	assert.Equal(t, "5850.00", o["amountDue"])
	assert.Equal(t, "2026-03-01T10:00:00Z", o["createdAt"])
	items := o["items"].([]any)
	assert.Equal(t, "4000.00", items[0].(map[string]any)["lineTotal"])
	assert.Empty(t, body["failed"])
}

func TestPlaceOrder_PartialFailure(t *testing.T) {
	orders := &mockOrders{placeRes: &order.PlaceOrderResult{
		Orders: []*order.Order{sampleOrder()},
		Failed: []order.GroupFailure{{
			VendorID:   "vendor-b",
			ProductIDs: []string{"honey"},
			Err:        errors.Wrap(&order.LineError{ProductID: "honey", Err: order.ErrInsufficientStock}, "reserve"),
		}},
	}}
	srv := newServer(t, orders)

	code, body := call{
		method: http.MethodPost, path: "/api/orders", actorID: "buyer-1", role: "BUYER",
		body: `{"items":[{"productId":"yam","quantity":5},{"productId":"honey","quantity":9}],"deliveryFee":"0"}`,
	}.do(t, srv)

	require.Equal(t, http.StatusCreated, code)
	failed := body["failed"].([]any)
	require.Len(t, failed, 1)
	assert.Equal(t, map[string]any{
		"vendorId":   "vendor-b",
		"productIds": []any{"honey"},
		"code":       float64(422),
		"message":    "product honey: insufficient stock",
		"productId":  "honey",
	}, failed[0])
}

func TestPlaceOrder_Errors(t *testing.T) {
	tests := []struct {
		name     string
		role     string
		body     string
		err      error
		wantCode int
		wantMsg  string
	}{
		{"no actor", "", `{}`, nil, http.StatusUnauthorized, "missing or invalid actor headers"},
		{"malformed json", "BUYER", `{"items":[`, nil, http.StatusBadRequest, ""},
		{"bad fee", "BUYER", `{"items":[],"deliveryFee":"abc"}`, nil, http.StatusBadRequest, ""},
		{"empty cart", "BUYER", `{"items":[]}`, errors.Wrap(order.ErrEmptyItems, "validate"), http.StatusUnprocessableEntity, "items required"},
		{"vendor cannot buy", "VENDOR", `{"items":[]}`, order.ErrForbidden, http.StatusForbidden, order.ErrForbidden.Error()},
		{"database down", "BUYER", `{"items":[]}`, errors.New("pool closed"), http.StatusInternalServerError, "internal error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newServer(t, &mockOrders{err: tt.err})
			c := call{method: http.MethodPost, path: "/api/orders", body: tt.body}
			if tt.role != "" {
				c.actorID, c.role = "someone", tt.role
			}
			code, body := c.do(t, srv)
			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, float64(tt.wantCode), body["code"])
			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, body["message"])
			}
		})
	}
}

func TestPlaceOrder_LineErrorCarriesProduct(t *testing.T) {
	srv := newServer(t, &mockOrders{err: errors.Wrap(&order.LineError{ProductID: "yam", Err: order.ErrBelowMinimumOrder}, "validate")})

	code, body := call{method: http.MethodPost, path: "/api/orders", actorID: "b", role: "BUYER", body: `{"items":[{"productId":"yam","quantity":1}]}`}.do(t, srv)

	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "yam", body["productId"])
	assert.Equal(t, "product yam: quantity is below the minimum order quantity", body["message"])
}

func TestGetOrder(t *testing.T) {
	orders := &mockOrders{order: sampleOrder()}
	srv := newServer(t, orders)

	code, body := call{method: http.MethodGet, path: "/api/orders/order-1", actorID: "vendor-a", role: "VENDOR"}.do(t, srv)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "order-1", orders.lastID)
	assert.Equal(t, order.Actor{ID: "vendor-a", Role: order.RoleVendor}, orders.lastActor)
	assert.Equal(t, "PENDING", body["status"])
	assert.NotContains(t, body, "paymentRefId")

	orders.err = order.ErrForbidden
	code, _ = call{method: http.MethodGet, path: "/api/orders/order-1", actorID: "x", role: "BUYER"}.do(t, srv)
	assert.Equal(t, http.StatusForbidden, code)

	orders.err = errors.Wrap(order.ErrOrderNotFound, "get order")
	code, body = call{method: http.MethodGet, path: "/api/orders/nope", actorID: "x", role: "BUYER"}.do(t, srv)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "order not found", body["message"])
}

func TestListOrders(t *testing.T) {
	orders := &mockOrders{list: []order.Order{*sampleOrder()}}
	srv := newServer(t, orders)

	code, body := call{
		method: http.MethodGet, path: "/api/orders?status=pending,CONFIRMED&status=in_progress&paymentStatus=paid&limit=10&offset=20",
		actorID: "buyer-1", role: "BUYER",
	}.do(t, srv)

	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, order.Filter{
		Statuses:      []order.Status{order.StatusPending, order.StatusConfirmed, order.StatusInProgress},
		PaymentStatus: order.PaymentPaid,
		Limit:         10,
		Offset:        20,
	}, orders.filter)
	assert.Len(t, body["orders"], 1)

	for _, q := range []string{"status=LOST", "paymentStatus=maybe", "limit=-1", "offset=x"} {
		code, _ = call{method: http.MethodGet, path: "/api/orders?" + q, actorID: "b", role: "BUYER"}.do(t, srv)
		assert.Equal(t, http.StatusBadRequest, code, q)
	}
}

func TestTransition(t *testing.T) {
	orders := &mockOrders{order: sampleOrder()}
	srv := newServer(t, orders)

	code, _ := call{
		method: http.MethodPost, path: "/api/orders/order-1/status",
		actorID: "vendor-a", role: "VENDOR", body: `{"status":"CONFIRMED","note":"packing today"}`,
	}.do(t, srv)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, order.StatusConfirmed, orders.lastStatus)
	assert.Equal(t, "packing today", orders.lastNote)

	code, _ = call{method: http.MethodPost, path: "/api/orders/order-1/status", actorID: "v", role: "VENDOR", body: `{"status":"LOST"}`}.do(t, srv)
	assert.Equal(t, http.StatusBadRequest, code)

	orders.err = errors.Wrap(&order.TransitionError{From: order.StatusDelivered, To: order.StatusPending}, "transition")
	code, body := call{method: http.MethodPost, path: "/api/orders/order-1/status", actorID: "v", role: "VENDOR", body: `{"status":"PENDING"}`}.do(t, srv)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "DELIVERED", body["from"])
	assert.Equal(t, "PENDING", body["to"])
}

func TestCancel(t *testing.T) {
	orders := &mockOrders{order: sampleOrder()}
	srv := newServer(t, orders)

	code, _ := call{method: http.MethodPost, path: "/api/orders/order-1/cancel", actorID: "buyer-1", role: "BUYER"}.do(t, srv)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, orders.lastNote)

	code, _ = call{method: http.MethodPost, path: "/api/orders/order-1/cancel", actorID: "buyer-1", role: "BUYER", body: `{"reason":"ordered twice"}`}.do(t, srv)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ordered twice", orders.lastNote)

	orders.err = order.ErrInvalidState
	code, _ = call{method: http.MethodPost, path: "/api/orders/order-1/cancel", actorID: "buyer-1", role: "BUYER"}.do(t, srv)
	assert.Equal(t, http.StatusConflict, code)
}

func TestInitiatePayment(t *testing.T) {
	orders := &mockOrders{payment: &order.PaymentResult{PaymentURL: "https://pay/x", TransactionID: "tx-1"}}
	srv := newServer(t, orders)

	code, body := call{method: http.MethodPost, path: "/api/orders/order-1/payment", actorID: "buyer-1", role: "BUYER"}.do(t, srv)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, map[string]any{"paymentUrl": "https://pay/x", "transactionId": "tx-1"}, body)

	for err, want := range map[error]int{
		order.ErrPaymentAlreadyProcessed: http.StatusConflict,
		payment.ErrInProgress:            http.StatusConflict,
		order.ErrPaymentsDisabled:        http.StatusServiceUnavailable,
	} {
		orders.err = errors.Wrap(err, "initiate")
		code, _ = call{method: http.MethodPost, path: "/api/orders/order-1/payment", actorID: "buyer-1", role: "BUYER"}.do(t, srv)
		assert.Equal(t, want, code, err.Error())
	}
}

func TestPaymentCallback(t *testing.T) {
	orders := &mockOrders{order: sampleOrder()}
	srv := newServer(t, orders)
	v := NewCallbackVerifier([]byte(secret))

	body := `{"orderId":"order-1","transactionId":"tx-9","status":"SUCCESS"}`
	code, _ := call{
		method: http.MethodPost, path: "/api/payments/callback", body: body,
		header: map[string]string{"X-Signature": "sha256=" + v.Sign([]byte(body))},
	}.do(t, srv)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "order-1", orders.lastID)
	assert.Equal(t, "tx-9", orders.lastTx)
	assert.True(t, orders.lastPaid)

	code, _ = call{
		method: http.MethodPost, path: "/api/payments/callback", body: body,
		header: map[string]string{"X-Signature": v.Sign([]byte(body + " "))},
	}.do(t, srv)
	assert.Equal(t, http.StatusUnauthorized, code)

	failed := `{"orderId":"order-1","status":"FAILED"}`
	code, _ = call{
		method: http.MethodPost, path: "/api/payments/callback", body: failed,
		header: map[string]string{"X-Signature": v.Sign([]byte(failed))},
	}.do(t, srv)
	require.Equal(t, http.StatusOK, code)
	assert.False(t, orders.lastPaid)

	orders.err = order.ErrPaymentAlreadyProcessed
	code, _ = call{
		method: http.MethodPost, path: "/api/payments/callback", body: body,
		header: map[string]string{"X-Signature": v.Sign([]byte(body))},
	}.do(t, srv)
	assert.Equal(t, http.StatusConflict, code)
}

func TestPaymentCallback_Disabled(t *testing.T) {
	h := New(Config{}, &mockOrders{}, mockProducts{})
	mux := http.NewServeMux()
	h.Register(mux)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/payments/callback", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestGetProduct(t *testing.T) {
	srv := newServer(t, &mockOrders{})

	code, body := call{method: http.MethodGet, path: "/api/products/yam"}.do(t, srv)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "800.00", body["unitPrice"])
	assert.Equal(t, "ACTIVE", body["status"])
	assert.Equal(t, float64(40), body["quantityAvailable"])

	code, _ = call{method: http.MethodGet, path: "/api/products/unknown"}.do(t, srv)
	assert.Equal(t, http.StatusNotFound, code)
}
