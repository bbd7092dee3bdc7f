package order

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/xenking/harvest-fulfillment/internal/domain/product"
)

// Line is one requested cart entry.
type Line struct {
	ProductID string
	Quantity  int
}

// ValidatedLine is a cart line checked against the catalog and enriched with
// the owning vendor and the price snapshot.
type ValidatedLine struct {
	ProductID    string
	VendorID     string
	Quantity     int
	PriceAtOrder decimal.Decimal
}

// Validator checks cart lines against current catalog state. It never
// writes.
type Validator struct {
	catalog product.Repository
}

// NewValidator returns a Validator reading from catalog.
func NewValidator(catalog product.Repository) *Validator {
	return &Validator{catalog: catalog}
}

// Validate fetches every referenced product in one batch and checks the
// lines in request order. The first failing line is returned as a
// *LineError. Repeated lines for one product are checked against stock with
// their combined quantity.
func (v *Validator) Validate(ctx context.Context, lines []Line) ([]ValidatedLine, error) {
	if len(lines) == 0 {
		return nil, ErrEmptyItems
	}

	ids := make([]string, 0, len(lines))
	seen := make(map[string]struct{}, len(lines))
	for _, l := range lines {
		if l.Quantity <= 0 {
			return nil, &LineError{ProductID: l.ProductID, Err: ErrInvalidQuantity}
		}
		if _, ok := seen[l.ProductID]; !ok {
			seen[l.ProductID] = struct{}{}
			ids = append(ids, l.ProductID)
		}
	}

	fetched, err := v.catalog.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("get products: %w", err)
	}
	byID := make(map[string]product.Product, len(fetched))
	for _, p := range fetched {
		byID[p.ID] = p
	}

	requested := make(map[string]int, len(ids))
	out := make([]ValidatedLine, 0, len(lines))
	for _, l := range lines {
		p, ok := byID[l.ProductID]
		if !ok {
			return nil, &LineError{ProductID: l.ProductID, Err: ErrProductNotFound}
		}
		if !p.Orderable() {
			return nil, &LineError{ProductID: p.ID, Err: ErrProductUnavailable}
		}
		if l.Quantity < p.MinimumOrderQuantity {
			return nil, &LineError{ProductID: p.ID, Err: ErrBelowMinimumOrder}
		}
		requested[p.ID] += l.Quantity
		if requested[p.ID] > p.QuantityAvailable {
			return nil, &LineError{ProductID: p.ID, Err: ErrInsufficientStock}
		}
		out = append(out, ValidatedLine{
			ProductID:    p.ID,
			VendorID:     p.VendorID,
			Quantity:     l.Quantity,
			PriceAtOrder: p.UnitPrice,
		})
	}
	return out, nil
}
