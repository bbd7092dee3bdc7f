// Package dispatch delivers the side effects of committed order events:
// an in-app notification, an event on the bus and an SMS to the counterparty.
//
// Delivery is asynchronous and best effort. Failures are logged and counted,
// never reported back to the operation that produced the event; an external
// worker may replay events from the bus.
package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/harvest-fulfillment/internal/domain/notification"
	"github.com/xenking/harvest-fulfillment/internal/domain/order"
)

// Publisher puts events on the message bus.
type Publisher interface {
	Publish(ctx context.Context, e order.Event) error
}

// SMSSender sends order status text messages.
type SMSSender interface {
	SendOrderStatus(ctx context.Context, phone, orderID string, status order.Status) error
}

// Config holds the collaborators of a Dispatcher. Nil collaborators are
// skipped.
type Config struct {
	Notifications notification.Repository
	Publisher     Publisher
	SMS           SMSSender
	Directory     order.Directory
	// Timeout bounds the delivery of one event.
	Timeout       time.Duration
	MeterProvider metric.MeterProvider
}

var _ order.Dispatcher = (*Dispatcher)(nil)

// Dispatcher implements order.Dispatcher.
type Dispatcher struct {
	cfg      Config
	wg       sync.WaitGroup
	failures metric.Int64Counter
}

// New creates a Dispatcher.
func New(cfg Config) (*Dispatcher, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MeterProvider == nil {
		cfg.MeterProvider = metricnoop.NewMeterProvider()
	}
	failures, err := cfg.MeterProvider.Meter("fulfillment/dispatch").Int64Counter("dispatch.failures",
		metric.WithDescription("Side effects that failed to deliver"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "dispatch.failures")
	}
	return &Dispatcher{cfg: cfg, failures: failures}, nil
}

// Dispatch schedules delivery of e and returns immediately. The delivery
// keeps the context values of ctx (logger, trace) but not its cancellation.
func (d *Dispatcher) Dispatch(ctx context.Context, e order.Event) {
	ctx = context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
		defer cancel()
		d.Deliver(ctx, e)
	}()
}

// Wait blocks until every scheduled delivery has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Deliver runs all side effects of e concurrently and waits for them.
func (d *Dispatcher) Deliver(ctx context.Context, e order.Event) {
	lg := zctx.From(ctx).With(
		zap.String("event_id", e.ID),
		zap.String("event", string(e.Type)),
		zap.String("order_id", e.Order.ID),
		zap.String("recipient_id", e.RecipientID),
	)

	var g errgroup.Group
	run := func(effect string, fn func() error) {
		g.Go(func() error {
			if err := fn(); err != nil {
				lg.Warn("Side effect failed", zap.String("effect", effect), zap.Error(err))
				d.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("effect", effect)))
			}
			return nil
		})
	}

	if d.cfg.Notifications != nil {
		run("notification", func() error {
			return d.cfg.Notifications.Create(ctx, &notification.Notification{
				ID:              uuid.NewString(),
				UserID:          e.RecipientID,
				Type:            string(e.Type),
				Content:         Describe(e),
				RelatedEntityID: e.Order.ID,
				CreatedAt:       e.OccurredAt,
			})
		})
	}
	if d.cfg.Publisher != nil {
		run("publish", func() error {
			return d.cfg.Publisher.Publish(ctx, e)
		})
	}
	if d.cfg.SMS != nil && d.cfg.Directory != nil {
		run("sms", func() error {
			phone, err := d.cfg.Directory.PhoneNumber(ctx, e.RecipientID)
			if err != nil {
				return errors.Wrap(err, "lookup phone")
			}
			if phone == "" {
				return nil
			}
			return d.cfg.SMS.SendOrderStatus(ctx, phone, e.Order.ID, e.Order.Status)
		})
	}

	_ = g.Wait()
	lg.Debug("Event delivered")
}
