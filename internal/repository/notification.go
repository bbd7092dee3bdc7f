package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/harvest-fulfillment/internal/domain/notification"
)

const createNotificationSQL = `INSERT INTO notifications (id, user_id, type, content, related_entity_id, created_at)
	VALUES ($1, $2, $3, $4, $5, $6)`

var _ notification.Repository = (*NotificationRepository)(nil)

// NotificationRepository implements notification.Repository backed by
// PostgreSQL.
type NotificationRepository struct {
	pool *pgxpool.Pool
}

// NewNotificationRepository returns a NotificationRepository that uses the
// given pool.
func NewNotificationRepository(pool *pgxpool.Pool) *NotificationRepository {
	return &NotificationRepository{pool: pool}
}

// Create stores a notification.
func (r *NotificationRepository) Create(ctx context.Context, n *notification.Notification) error {
	if _, err := r.pool.Exec(ctx, createNotificationSQL,
		n.ID, n.UserID, n.Type, n.Content, n.RelatedEntityID, n.CreatedAt,
	); err != nil {
		return fmt.Errorf("creating notification %q: %w", n.ID, err)
	}
	return nil
}
