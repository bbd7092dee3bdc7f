package health

import (
	"context"
	"runtime"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
)

// Goroutines fails when the goroutine count exceeds limit.
func Goroutines(limit int) CheckFunc {
	return func(context.Context) error {
		if n := runtime.NumGoroutine(); n > limit {
			return errors.Errorf("goroutine count %d exceeds threshold %d", n, limit)
		}
		return nil
	}
}

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Ping checks a connection pool.
func Ping(p Pinger) CheckFunc {
	return func(ctx context.Context) error {
		return p.Ping(ctx)
	}
}

// RedisPinger is satisfied by *redis.Client.
type RedisPinger interface {
	Ping(ctx context.Context) *redis.StatusCmd
}

// Redis checks a redis connection.
func Redis(c RedisPinger) CheckFunc {
	return func(ctx context.Context) error {
		return c.Ping(ctx).Err()
	}
}

// Kafka dials any of brokers.
func Kafka(brokers []string) CheckFunc {
	return func(ctx context.Context) error {
		lastErr := errors.New("no brokers configured")
		for _, addr := range brokers {
			conn, err := kafka.DialContext(ctx, "tcp", addr)
			if err != nil {
				lastErr = errors.Wrapf(err, "dial %s", addr)
				continue
			}
			return conn.Close()
		}
		return lastErr
	}
}
