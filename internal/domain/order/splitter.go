package order

import "github.com/shopspring/decimal"

// Group is the part of a cart fulfilled by a single vendor.
type Group struct {
	VendorID string
	Lines    []ValidatedLine
	Subtotal decimal.Decimal
}

// ProductIDs returns the product of every line in the group.
func (g Group) ProductIDs() []string {
	ids := make([]string, len(g.Lines))
	for i, l := range g.Lines {
		ids[i] = l.ProductID
	}
	return ids
}

// Split groups lines by vendor. Groups appear in the order their vendor is
// first seen and keep the relative order of their lines.
func Split(lines []ValidatedLine) []Group {
	var groups []Group
	index := make(map[string]int)
	for _, l := range lines {
		i, ok := index[l.VendorID]
		if !ok {
			i = len(groups)
			index[l.VendorID] = i
			groups = append(groups, Group{VendorID: l.VendorID, Subtotal: decimal.Zero})
		}
		g := &groups[i]
		g.Lines = append(g.Lines, l)
		g.Subtotal = g.Subtotal.Add(l.PriceAtOrder.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	return groups
}
