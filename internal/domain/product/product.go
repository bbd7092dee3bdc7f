package product

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Status is the catalog lifecycle state of a product.
type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusInactive Status = "INACTIVE"
	StatusSoldOut  Status = "SOLD_OUT"
	StatusDraft    Status = "DRAFT"
)

// Product is a vendor-owned catalog item. Only the fields the order core
// reads are modelled here.
type Product struct {
	ID                   string
	VendorID             string
	Name                 string
	UnitPrice            decimal.Decimal
	QuantityAvailable    int
	MinimumOrderQuantity int
	Status               Status
}

// Orderable reports whether the product can currently be ordered at all.
func (p *Product) Orderable() bool {
	return p.Status == StatusActive
}

// Repository defines read operations for the product catalog.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Product, error)
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
}
