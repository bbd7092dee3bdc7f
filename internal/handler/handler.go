// Package handler exposes the order core over HTTP.
package handler

import (
	"context"
	"io"
	"net/http"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/xenking/harvest-fulfillment/internal/domain/order"
	"github.com/xenking/harvest-fulfillment/internal/domain/product"
)

const maxBodyBytes = 1 << 20

// OrderService is the order core as seen by the HTTP layer.
type OrderService interface {
	PlaceOrder(ctx context.Context, req order.PlaceOrderRequest) (*order.PlaceOrderResult, error)
	Get(ctx context.Context, id string, actor order.Actor) (*order.Order, error)
	List(ctx context.Context, actor order.Actor, f order.Filter) ([]order.Order, error)
	Transition(ctx context.Context, id string, to order.Status, actor order.Actor, note string) (*order.Order, error)
	Cancel(ctx context.Context, id string, actor order.Actor, reason string) (*order.Order, error)
	InitiatePayment(ctx context.Context, id string, actor order.Actor) (*order.PaymentResult, error)
	RecordPayment(ctx context.Context, id, transactionID string, paid bool) (*order.Order, error)
}

var _ OrderService = (*order.Service)(nil)

// Config holds non-dependency settings of the Handler.
type Config struct {
	// CallbackSecret signs payment gateway callbacks. Empty disables the
	// callback route.
	CallbackSecret string
}

// Handler serves the /api routes.
type Handler struct {
	orders   OrderService
	products product.Repository
	callback *CallbackVerifier
}

// New creates a Handler.
func New(cfg Config, orders OrderService, products product.Repository) *Handler {
	h := &Handler{orders: orders, products: products}
	if cfg.CallbackSecret != "" {
		h.callback = NewCallbackVerifier([]byte(cfg.CallbackSecret))
	}
	return h
}

// Register adds the API routes to mux. Each route is traced and measured
// under its pattern.
func (h *Handler) Register(mux *http.ServeMux, opts ...otelhttp.Option) {
	routes := []struct {
		pattern string
		fn      http.HandlerFunc
	}{
		{"GET /api/products/{id}", h.getProduct},
		{"POST /api/orders", h.placeOrder},
		{"GET /api/orders", h.listOrders},
		{"GET /api/orders/{id}", h.getOrder},
		{"POST /api/orders/{id}/status", h.transition},
		{"POST /api/orders/{id}/cancel", h.cancel},
		{"POST /api/orders/{id}/payment", h.initiatePayment},
		{"POST /api/payments/callback", h.paymentCallback},
	}
	for _, rt := range routes {
		mux.Handle(rt.pattern, otelhttp.NewHandler(rt.fn, rt.pattern, opts...))
	}
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, &badRequestError{msg: "request body too large or unreadable"}
	}
	return raw, nil
}

// badRequestError is a malformed request, reported as 400.
type badRequestError struct {
	msg string
	err error
}

func (e *badRequestError) Error() string {
	if e.err != nil {
		return e.msg + ": " + e.err.Error()
	}
	return e.msg
}

func (e *badRequestError) Unwrap() error { return e.err }

func badRequest(msg string, err error) error {
	return &badRequestError{msg: msg, err: err}
}

var errUnauthenticated = errors.New("missing or invalid actor headers")
