package notification

import (
	"context"
	"time"
)

// Notification is an in-app alert addressed to a single user.
type Notification struct {
	ID              string
	UserID          string
	Type            string
	Content         string
	RelatedEntityID string
	CreatedAt       time.Time
}

// Repository stores notifications.
type Repository interface {
	Create(ctx context.Context, n *Notification) error
}
