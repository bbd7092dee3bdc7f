package dispatch

import (
	"fmt"
	"strings"

	"github.com/xenking/harvest-fulfillment/internal/domain/order"
)

// Describe renders the human readable notification text for e.
func Describe(e order.Event) string {
	ref := shortID(e.Order.ID)
	switch e.Type {
	case order.EventOrderCreated:
		return fmt.Sprintf("New order %s: %d item(s), total %s", ref, len(e.Order.Items), e.Order.AmountDue().StringFixed(2))
	case order.EventOrderCancelled:
		if e.Note != "" {
			return fmt.Sprintf("Order %s was cancelled: %s", ref, e.Note)
		}
		return fmt.Sprintf("Order %s was cancelled", ref)
	case order.EventPaymentUpdated:
		return fmt.Sprintf("Payment for order %s is %s", ref, strings.ToLower(string(e.Order.PaymentStatus)))
	default:
		return fmt.Sprintf("Order %s is now %s", ref, humanStatus(e.Order.Status))
	}
}

func humanStatus(s order.Status) string {
	return strings.ToLower(strings.ReplaceAll(string(s), "_", " "))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
