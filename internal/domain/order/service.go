package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/xenking/harvest-fulfillment/internal/domain/product"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// PlaceOrderRequest is a buyer cart to be turned into vendor orders.
type PlaceOrderRequest struct {
	Buyer           Actor
	Items           []Line
	DeliveryAddress string
	// DeliveryFee is charged once, on the first vendor order of the cart.
	DeliveryFee decimal.Decimal
	Notes       string
}

// GroupFailure reports a vendor group that could not be committed.
type GroupFailure struct {
	VendorID   string
	ProductIDs []string
	Err        error
}

// PlaceOrderResult lists committed orders and, in best-effort mode, the
// vendor groups that failed.
type PlaceOrderResult struct {
	Orders []*Order
	Failed []GroupFailure
}

// Option configures a Service.
type Option func(*Service)

// WithAllOrNothing commits every vendor group of a cart in one transaction,
// so a single failing group fails the whole cart.
func WithAllOrNothing(enabled bool) Option {
	return func(s *Service) { s.allOrNothing = enabled }
}

// WithDispatcher sets the side-effect dispatcher.
func WithDispatcher(d Dispatcher) Option {
	return func(s *Service) { s.dispatcher = d }
}

// WithPayments enables payment initiation through p in the given currency.
// Payer contact details are looked up in dir.
func WithPayments(p PaymentInitiator, dir Directory, currency string) Option {
	return func(s *Service) {
		s.payments = p
		s.directory = dir
		s.currency = currency
	}
}

// WithTracerProvider sets the tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) { s.tracer = tp.Tracer("fulfillment/order") }
}

// WithMeterProvider sets the meter provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Service) { s.meter = mp.Meter("fulfillment/order") }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service implements order placement and the order lifecycle.
type Service struct {
	validator  *Validator
	orders     Repository
	dispatcher Dispatcher
	payments   PaymentInitiator
	directory  Directory
	currency   string

	allOrNothing bool
	now          func() time.Time

	tracer trace.Tracer
	meter  metric.Meter

	placed       metric.Int64Counter
	failedGroups metric.Int64Counter
	transitions  metric.Int64Counter
	cancelled    metric.Int64Counter
}

// NewService creates an order Service.
func NewService(catalog product.Repository, orders Repository, opts ...Option) (*Service, error) {
	s := &Service{
		validator:  NewValidator(catalog),
		orders:     orders,
		dispatcher: nopDispatcher{},
		now:        time.Now,
		tracer:     tracenoop.NewTracerProvider().Tracer("fulfillment/order"),
		meter:      metricnoop.NewMeterProvider().Meter("fulfillment/order"),
	}
	for _, o := range opts {
		o(s)
	}

	var err error
	if s.placed, err = s.meter.Int64Counter("orders.placed",
		metric.WithDescription("Vendor orders committed"),
	); err != nil {
		return nil, errors.Wrap(err, "orders.placed")
	}
	if s.failedGroups, err = s.meter.Int64Counter("orders.failed_groups",
		metric.WithDescription("Vendor groups that failed to commit"),
	); err != nil {
		return nil, errors.Wrap(err, "orders.failed_groups")
	}
	if s.transitions, err = s.meter.Int64Counter("orders.transitions",
		metric.WithDescription("Committed status transitions"),
	); err != nil {
		return nil, errors.Wrap(err, "orders.transitions")
	}
	if s.cancelled, err = s.meter.Int64Counter("orders.cancelled",
		metric.WithDescription("Orders cancelled with restock"),
	); err != nil {
		return nil, errors.Wrap(err, "orders.cancelled")
	}
	return s, nil
}

// PlaceOrder validates the cart, splits it per vendor and commits one order
// per vendor group.
//
// Validation covers the whole cart before anything is written, so any
// validation failure rejects the cart. Stock is then re-checked inside the
// commit. In best-effort mode each group commits on its own and failed groups
// are reported in the result; the call only fails when no group committed.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (_ *PlaceOrderResult, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.PlaceOrder",
		trace.WithAttributes(attribute.String("buyer.id", req.Buyer.ID)),
	)
	defer func() { endSpan(span, rerr) }()

	if req.Buyer.Role != RoleBuyer || req.Buyer.ID == "" {
		return nil, ErrForbidden
	}
	if req.DeliveryFee.IsNegative() || !req.DeliveryFee.Equal(req.DeliveryFee.Round(2)) {
		return nil, ErrInvalidDeliveryFee
	}

	lines, err := s.validator.Validate(ctx, req.Items)
	if err != nil {
		return nil, errors.Wrap(err, "validate")
	}
	groups := Split(lines)
	span.SetAttributes(attribute.Int("order.groups", len(groups)))

	orders := make([]*Order, len(groups))
	for i, g := range groups {
		orders[i] = s.buildOrder(req, g, i == 0)
	}

	result := &PlaceOrderResult{}
	if s.allOrNothing {
		if err := s.orders.Create(ctx, orders...); err != nil {
			s.failedGroups.Add(ctx, int64(len(groups)))
			return nil, errors.Wrap(err, "create orders")
		}
		result.Orders = orders
	} else {
		for i, o := range orders {
			if err := s.orders.Create(ctx, o); err != nil {
				result.Failed = append(result.Failed, GroupFailure{
					VendorID:   groups[i].VendorID,
					ProductIDs: groups[i].ProductIDs(),
					Err:        err,
				})
				continue
			}
			result.Orders = append(result.Orders, o)
		}
		s.failedGroups.Add(ctx, int64(len(result.Failed)))
		if len(result.Orders) == 0 {
			return nil, errors.Wrap(result.Failed[0].Err, "create order")
		}
	}

	s.placed.Add(ctx, int64(len(result.Orders)))
	for _, o := range result.Orders {
		s.emit(ctx, EventOrderCreated, o, "", req.Buyer.ID, req.Notes)
	}
	return result, nil
}

func (s *Service) buildOrder(req PlaceOrderRequest, g Group, chargeDelivery bool) *Order {
	now := s.now()
	o := &Order{
		ID:              uuid.NewString(),
		BuyerID:         req.Buyer.ID,
		VendorID:        g.VendorID,
		Status:          StatusPending,
		TotalAmount:     g.Subtotal,
		DeliveryFee:     decimal.Zero,
		DeliveryAddress: req.DeliveryAddress,
		PaymentStatus:   PaymentPending,
		Notes:           req.Notes,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
		Items:           make([]Item, len(g.Lines)),
	}
	if chargeDelivery {
		o.DeliveryFee = req.DeliveryFee
	}
	for i, l := range g.Lines {
		o.Items[i] = Item{
			ID:           uuid.NewString(),
			OrderID:      o.ID,
			ProductID:    l.ProductID,
			Quantity:     l.Quantity,
			PriceAtOrder: l.PriceAtOrder,
		}
	}
	return o
}

// Transition moves an order to status to on behalf of actor. Entering
// CANCELLED returns the reserved stock to the catalog.
func (s *Service) Transition(ctx context.Context, id string, to Status, actor Actor, note string) (_ *Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.Transition", trace.WithAttributes(
		attribute.String("order.id", id),
		attribute.String("order.status.to", string(to)),
	))
	defer func() { endSpan(span, rerr) }()

	var from Status
	o, err := s.orders.Update(ctx, id, func(o *Order) (Change, error) {
		if err := authorizeTransition(o, to, actor); err != nil {
			return Change{}, err
		}
		if !o.Status.CanTransitionTo(to) {
			return Change{}, &TransitionError{From: o.Status, To: to}
		}
		from = o.Status
		return Change{Status: to, Note: note, Restock: to == StatusCancelled}, nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "transition")
	}

	s.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(to))))
	typ := EventStatusChanged
	if to == StatusCancelled {
		typ = EventOrderCancelled
		s.cancelled.Add(ctx, 1)
	}
	s.emit(ctx, typ, o, from, actor.ID, note)
	return o, nil
}

func authorizeTransition(o *Order, to Status, a Actor) error {
	if vendorRestricted(to) {
		if !a.isVendorOf(o) {
			return ErrForbidden
		}
		return nil
	}
	if !a.isPartyOf(o) {
		return ErrForbidden
	}
	return nil
}

// Cancel cancels a PENDING or CONFIRMED order on behalf of either party and
// restocks exactly the reserved quantities.
func (s *Service) Cancel(ctx context.Context, id string, actor Actor, reason string) (_ *Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.Cancel", trace.WithAttributes(attribute.String("order.id", id)))
	defer func() { endSpan(span, rerr) }()

	var from Status
	o, err := s.orders.Update(ctx, id, func(o *Order) (Change, error) {
		if !actor.isPartyOf(o) {
			return Change{}, ErrForbidden
		}
		if !o.Status.Cancellable() {
			return Change{}, ErrInvalidState
		}
		from = o.Status
		return Change{Status: StatusCancelled, Note: reason, Restock: true}, nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "cancel")
	}

	s.cancelled.Add(ctx, 1)
	s.emit(ctx, EventOrderCancelled, o, from, actor.ID, reason)
	return o, nil
}

// Get returns an order visible to actor.
func (s *Service) Get(ctx context.Context, id string, actor Actor) (*Order, error) {
	o, err := s.orders.Get(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	if !actor.isPartyOf(o) {
		return nil, ErrForbidden
	}
	return o, nil
}

// List returns the actor's orders matching f. The filter is scoped to the
// actor's side of the order regardless of what the caller asked for.
func (s *Service) List(ctx context.Context, actor Actor, f Filter) ([]Order, error) {
	switch actor.Role {
	case RoleBuyer:
		f.BuyerID = actor.ID
	case RoleVendor:
		f.VendorID = actor.ID
	default:
		return nil, ErrForbidden
	}
	if actor.ID == "" {
		return nil, ErrForbidden
	}
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	f.Limit = min(f.Limit, maxListLimit)
	f.Offset = max(f.Offset, 0)

	orders, err := s.orders.List(ctx, f)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	return orders, nil
}

func (s *Service) emit(ctx context.Context, typ EventType, o *Order, prev Status, actorID, note string) {
	s.dispatcher.Dispatch(ctx, Event{
		ID:          uuid.NewString(),
		Type:        typ,
		Order:       *o,
		PrevStatus:  prev,
		ActorID:     actorID,
		RecipientID: o.Counterparty(actorID),
		Note:        note,
		OccurredAt:  s.now(),
	})
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
