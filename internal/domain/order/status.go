package order

// Status is the delivery lifecycle state of an order.
type Status string

const (
	StatusPending          Status = "PENDING"
	StatusConfirmed        Status = "CONFIRMED"
	StatusInProgress       Status = "IN_PROGRESS"
	StatusReadyForDelivery Status = "READY_FOR_DELIVERY"
	StatusDelivered        Status = "DELIVERED"
	StatusCancelled        Status = "CANCELLED"
	StatusDisputed         Status = "DISPUTED"
)

// transitions lists the allowed targets for every status. DISPUTED is only
// entered by the moderation flow, so it never appears as a target.
var transitions = map[Status][]Status{
	StatusPending:          {StatusConfirmed, StatusCancelled},
	StatusConfirmed:        {StatusInProgress, StatusCancelled},
	StatusInProgress:       {StatusReadyForDelivery, StatusCancelled},
	StatusReadyForDelivery: {StatusDelivered},
	StatusDelivered:        nil,
	StatusCancelled:        nil,
	StatusDisputed:         {StatusConfirmed, StatusCancelled},
}

// Statuses returns every known status in lifecycle order.
func Statuses() []Status {
	return []Status{
		StatusPending,
		StatusConfirmed,
		StatusInProgress,
		StatusReadyForDelivery,
		StatusDelivered,
		StatusCancelled,
		StatusDisputed,
	}
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// CanTransitionTo reports whether the table allows moving from s to next.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return s.Valid() && len(transitions[s]) == 0
}

// Cancellable reports whether a party may cancel an order in status s.
func (s Status) Cancellable() bool {
	return s == StatusPending || s == StatusConfirmed
}

// vendorRestricted reports whether entering s requires the owning vendor.
func vendorRestricted(s Status) bool {
	switch s {
	case StatusConfirmed, StatusInProgress, StatusReadyForDelivery, StatusDelivered:
		return true
	default:
		return false
	}
}

// PaymentStatus tracks settlement of an order.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "PENDING"
	PaymentPaid    PaymentStatus = "PAID"
	PaymentFailed  PaymentStatus = "FAILED"
)
