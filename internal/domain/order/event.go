package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// EventType names a lifecycle event emitted after a committed change.
type EventType string

const (
	EventOrderCreated   EventType = "order.created"
	EventStatusChanged  EventType = "order.status_changed"
	EventOrderCancelled EventType = "order.cancelled"
	EventPaymentUpdated EventType = "payment.updated"
)

// Event describes a committed change to an order and who should hear about
// it.
type Event struct {
	ID          string
	Type        EventType
	Order       Order
	PrevStatus  Status
	ActorID     string
	RecipientID string
	Note        string
	OccurredAt  time.Time
}

// Dispatcher delivers side effects for committed events. Delivery is best
// effort and must not block the caller on external systems.
type Dispatcher interface {
	Dispatch(ctx context.Context, e Event)
}

type nopDispatcher struct{}

func (nopDispatcher) Dispatch(context.Context, Event) {}

// PaymentRequest is sent to the payment gateway for one order.
type PaymentRequest struct {
	OrderID      string
	Amount       decimal.Decimal
	Currency     string
	PayerContact string
}

// PaymentResult is the gateway's answer to a successful initiation.
type PaymentResult struct {
	PaymentURL    string
	TransactionID string
}

// PaymentInitiator starts a payment. Implementations must be idempotent per
// order ID.
type PaymentInitiator interface {
	Initiate(ctx context.Context, req PaymentRequest) (*PaymentResult, error)
}

// Directory looks up contact details of users.
type Directory interface {
	// PhoneNumber returns the user's phone number, or "" when none is on file.
	PhoneNumber(ctx context.Context, userID string) (string, error)
}
