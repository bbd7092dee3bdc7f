package order

import (
	"context"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ErrPaymentsDisabled is returned when no payment gateway is configured.
var ErrPaymentsDisabled = errors.New("payments are not configured")

// InitiatePayment asks the gateway to collect the amount due for an order.
// Only the buyer may pay, only while the order is PENDING or CONFIRMED, and
// never twice. The returned transaction id is stored as the payment ref.
func (s *Service) InitiatePayment(ctx context.Context, id string, actor Actor) (_ *PaymentResult, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.InitiatePayment", trace.WithAttributes(attribute.String("order.id", id)))
	defer func() { endSpan(span, rerr) }()

	if s.payments == nil {
		return nil, ErrPaymentsDisabled
	}

	o, err := s.orders.Get(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	if err := checkPayable(o, actor); err != nil {
		return nil, err
	}

	var contact string
	if s.directory != nil {
		if contact, err = s.directory.PhoneNumber(ctx, o.BuyerID); err != nil {
			return nil, errors.Wrap(err, "payer contact")
		}
	}

	res, err := s.payments.Initiate(ctx, PaymentRequest{
		OrderID:      o.ID,
		Amount:       o.AmountDue(),
		Currency:     s.currency,
		PayerContact: contact,
	})
	if err != nil {
		return nil, errors.Wrap(err, "initiate payment")
	}

	if res.TransactionID != "" {
		if _, err := s.orders.Update(ctx, id, func(o *Order) (Change, error) {
			if o.PaymentStatus == PaymentPaid {
				return Change{}, ErrPaymentAlreadyProcessed
			}
			return Change{PaymentRefID: res.TransactionID}, nil
		}); err != nil {
			return nil, errors.Wrap(err, "store payment ref")
		}
	}
	return res, nil
}

func checkPayable(o *Order, actor Actor) error {
	if !actor.isBuyerOf(o) {
		return ErrForbidden
	}
	if o.PaymentStatus == PaymentPaid {
		return ErrPaymentAlreadyProcessed
	}
	if o.Status != StatusPending && o.Status != StatusConfirmed {
		return ErrInvalidState
	}
	return nil
}

// RecordPayment applies the gateway's verdict for an order. A verdict for an
// order that is already PAID is rejected.
func (s *Service) RecordPayment(ctx context.Context, id, transactionID string, paid bool) (_ *Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.RecordPayment", trace.WithAttributes(
		attribute.String("order.id", id),
		attribute.Bool("payment.paid", paid),
	))
	defer func() { endSpan(span, rerr) }()

	status := PaymentFailed
	if paid {
		status = PaymentPaid
	}
	o, err := s.orders.Update(ctx, id, func(o *Order) (Change, error) {
		if o.PaymentStatus == PaymentPaid {
			return Change{}, ErrPaymentAlreadyProcessed
		}
		return Change{PaymentStatus: status, PaymentRefID: transactionID}, nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "record payment")
	}

	s.emit(ctx, EventPaymentUpdated, o, o.Status, o.BuyerID, string(status))
	return o, nil
}
