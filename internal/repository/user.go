package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/harvest-fulfillment/internal/domain/order"
	"github.com/xenking/harvest-fulfillment/internal/domain/user"
)

const (
	getPhoneNumberSQL = `SELECT phone_number FROM users WHERE id = $1`

	upsertUserSQL = `INSERT INTO users (id, name, role, phone_number)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			role = EXCLUDED.role,
			phone_number = EXCLUDED.phone_number`
)

var _ order.Directory = (*UserRepository)(nil)

// UserRepository reads and writes marketplace users.
type UserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository returns a UserRepository that uses the given pool.
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// PhoneNumber returns the phone number on file for userID. Unknown users and
// users without a number both yield "".
func (r *UserRepository) PhoneNumber(ctx context.Context, userID string) (string, error) {
	var phone string
	err := r.pool.QueryRow(ctx, getPhoneNumberSQL, userID).Scan(&phone)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("getting phone of user %q: %w", userID, err)
	}
	return phone, nil
}

// Upsert inserts or replaces the given users in a single batch.
func (r *UserRepository) Upsert(ctx context.Context, users []user.User) error {
	b := &pgx.Batch{}
	for _, u := range users {
		b.Queue(upsertUserSQL, u.ID, u.Name, string(u.Role), u.PhoneNumber)
	}
	if err := r.pool.SendBatch(ctx, b).Close(); err != nil {
		return fmt.Errorf("upserting users: %w", err)
	}
	return nil
}
