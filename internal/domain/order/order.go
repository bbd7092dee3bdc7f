package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Order is a vendor-scoped order produced from one buyer cart.
type Order struct {
	ID              string
	BuyerID         string
	VendorID        string
	Status          Status
	TotalAmount     decimal.Decimal
	DeliveryFee     decimal.Decimal
	DeliveryAddress string
	PaymentStatus   PaymentStatus
	PaymentRefID    string
	Notes           string
	Version         int
	CreatedAt       time.Time
	UpdatedAt       time.Time
	Items           []Item
}

// Item is a single line of an order. PriceAtOrder is the unit price
// snapshotted when the order was created.
type Item struct {
	ID           string
	OrderID      string
	ProductID    string
	Quantity     int
	PriceAtOrder decimal.Decimal
}

// LineTotal returns PriceAtOrder * Quantity.
func (i Item) LineTotal() decimal.Decimal {
	return i.PriceAtOrder.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// ItemsTotal sums the line totals of the order items.
func (o *Order) ItemsTotal() decimal.Decimal {
	total := decimal.Zero
	for _, it := range o.Items {
		total = total.Add(it.LineTotal())
	}
	return total
}

// AmountDue is what the buyer pays: items plus delivery.
func (o *Order) AmountDue() decimal.Decimal {
	return o.TotalAmount.Add(o.DeliveryFee)
}

// Counterparty returns the party on the other side of actorID.
func (o *Order) Counterparty(actorID string) string {
	if actorID == o.VendorID {
		return o.BuyerID
	}
	return o.VendorID
}

// Apply mutates o according to c. Zero-valued fields of c are left alone and
// notes are appended, never replaced.
func (o *Order) Apply(c Change) {
	if c.Status != "" {
		o.Status = c.Status
	}
	if c.PaymentStatus != "" {
		o.PaymentStatus = c.PaymentStatus
	}
	if c.PaymentRefID != "" {
		o.PaymentRefID = c.PaymentRefID
	}
	if c.Note != "" {
		if o.Notes != "" {
			o.Notes += "\n"
		}
		o.Notes += c.Note
	}
}

// Change describes a single mutation of an existing order.
type Change struct {
	Status        Status
	PaymentStatus PaymentStatus
	PaymentRefID  string
	Note          string
	// Restock returns every item quantity to the catalog within the same
	// transaction as the change.
	Restock bool
}

// Mutation inspects the locked current state of an order and decides the
// change to apply. Returning an error aborts the update.
type Mutation func(o *Order) (Change, error)

// Filter selects orders for listing. Empty fields do not constrain.
type Filter struct {
	BuyerID       string
	VendorID      string
	Statuses      []Status
	PaymentStatus PaymentStatus
	Limit         int
	Offset        int
}

// Repository persists orders together with the stock they reserve.
type Repository interface {
	// Create stores all given orders and their items and decrements product
	// stock in one transaction. Stock that cannot be reserved fails the whole
	// call with a *LineError.
	Create(ctx context.Context, orders ...*Order) error
	// Get returns the order with its items, or ErrOrderNotFound.
	Get(ctx context.Context, id string) (*Order, error)
	// List returns orders matching f, newest first, without items.
	List(ctx context.Context, f Filter) ([]Order, error)
	// Update locks the order, calls fn and persists the resulting change.
	Update(ctx context.Context, id string, fn Mutation) (*Order, error)
}

// Role distinguishes the two parties of an order.
type Role string

const (
	RoleBuyer  Role = "BUYER"
	RoleVendor Role = "VENDOR"
)

// Actor is the caller on whose behalf an operation runs.
type Actor struct {
	ID   string
	Role Role
}

func (a Actor) isBuyerOf(o *Order) bool {
	return a.Role == RoleBuyer && a.ID != "" && a.ID == o.BuyerID
}

func (a Actor) isVendorOf(o *Order) bool {
	return a.Role == RoleVendor && a.ID != "" && a.ID == o.VendorID
}

func (a Actor) isPartyOf(o *Order) bool {
	return a.isBuyerOf(o) || a.isVendorOf(o)
}
