package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/harvest-fulfillment/internal/domain/order"
)

// ErrInProgress is returned while another initiation for the same order is
// still running.
var ErrInProgress = errors.New("payment initiation already in progress")

// Store is the subset of redis commands used for idempotency.
type Store interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

var _ Store = (*redis.Client)(nil)

const lockTTL = 30 * time.Second

// Idempotent remembers gateway results per order so repeated initiations
// return the same payment link instead of opening a second payment.
type Idempotent struct {
	next  order.PaymentInitiator
	store Store
	ttl   time.Duration
}

var _ order.PaymentInitiator = (*Idempotent)(nil)

// NewIdempotent wraps next. Results are kept for ttl.
func NewIdempotent(next order.PaymentInitiator, store Store, ttl time.Duration) *Idempotent {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Idempotent{next: next, store: store, ttl: ttl}
}

func resultKey(orderID string) string { return fmt.Sprintf("payment:init:%s", orderID) }
func lockKey(orderID string) string   { return fmt.Sprintf("payment:lock:%s", orderID) }

// Initiate returns the cached result for req.OrderID or calls the gateway
// under a short lock and caches what it returns.
func (p *Idempotent) Initiate(ctx context.Context, req order.PaymentRequest) (*order.PaymentResult, error) {
	if res, ok, err := p.cached(ctx, req.OrderID); err != nil {
		return nil, err
	} else if ok {
		return res, nil
	}

	acquired, err := p.store.SetNX(ctx, lockKey(req.OrderID), "1", lockTTL).Result()
	if err != nil {
		return nil, errors.Wrap(err, "acquire lock")
	}
	if !acquired {
		return nil, ErrInProgress
	}
	defer func() {
		if err := p.store.Del(context.WithoutCancel(ctx), lockKey(req.OrderID)).Err(); err != nil {
			zctx.From(ctx).Warn("Release payment lock", zap.String("order_id", req.OrderID), zap.Error(err))
		}
	}()

	res, err := p.next.Initiate(ctx, req)
	if err != nil {
		return nil, err
	}

	if err := p.store.SetNX(ctx, resultKey(req.OrderID), encodeResult(res), p.ttl).Err(); err != nil {
		// The payment exists at the gateway, so only warn.
		zctx.From(ctx).Warn("Cache payment result", zap.String("order_id", req.OrderID), zap.Error(err))
	}
	return res, nil
}

func (p *Idempotent) cached(ctx context.Context, orderID string) (*order.PaymentResult, bool, error) {
	raw, err := p.store.Get(ctx, resultKey(orderID)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, false, nil
	case err != nil:
		return nil, false, errors.Wrap(err, "read cached result")
	}
	res, err := decodeResult(raw)
	if err != nil {
		return nil, false, errors.Wrap(err, "decode cached result")
	}
	return res, true, nil
}

func encodeResult(r *order.PaymentResult) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("paymentUrl")
	e.Str(r.PaymentURL)
	e.FieldStart("transactionId")
	e.Str(r.TransactionID)
	e.ObjEnd()
	return e.Bytes()
}

func decodeResult(raw []byte) (*order.PaymentResult, error) {
	r := &order.PaymentResult{}
	err := jx.DecodeBytes(raw).ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "paymentUrl":
			r.PaymentURL, err = d.Str()
		case "transactionId":
			r.TransactionID, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}
