// Package kafka publishes order events to Kafka.
package kafka

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/xenking/harvest-fulfillment/internal/domain/order"
)

// messageWriter is the subset of *kafka.Writer used by Producer.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes order events keyed by order id, so all events of one
// order land on the same partition in commit order.
type Producer struct {
	w messageWriter
}

// NewProducer creates an asynchronous producer for topic. Delivery errors are
// reported to lg from the writer's completion callback.
func NewProducer(brokers []string, topic string, lg *zap.Logger) *Producer {
	return &Producer{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        true,
			BatchTimeout: 50 * time.Millisecond,
			Completion: func(messages []kafka.Message, err error) {
				if err == nil {
					return
				}
				for _, m := range messages {
					lg.Warn("Kafka delivery failed",
						zap.ByteString("key", m.Key),
						zap.Error(err),
					)
				}
			},
		},
	}
}

// Publish enqueues e. With an async writer the error only covers encoding and
// a closed writer.
func (p *Producer) Publish(ctx context.Context, e order.Event) error {
	msg := kafka.Message{
		Key:   []byte(e.Order.ID),
		Value: EncodeEvent(e),
		Time:  e.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(e.Type)},
			{Key: "event_id", Value: []byte(e.ID)},
		},
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return errors.Wrap(err, "write message")
	}
	return nil
}

// Close flushes pending messages and closes the writer.
func (p *Producer) Close() error {
	return p.w.Close()
}

// EncodeEvent renders the JSON envelope of e.
func EncodeEvent(e order.Event) []byte {
	enc := &jx.Encoder{}
	enc.ObjStart()
	enc.FieldStart("id")
	enc.Str(e.ID)
	enc.FieldStart("type")
	enc.Str(string(e.Type))
	enc.FieldStart("occurredAt")
	enc.Str(e.OccurredAt.UTC().Format(time.RFC3339Nano))
	enc.FieldStart("actorId")
	enc.Str(e.ActorID)
	enc.FieldStart("recipientId")
	enc.Str(e.RecipientID)
	if e.PrevStatus != "" {
		enc.FieldStart("previousStatus")
		enc.Str(string(e.PrevStatus))
	}
	if e.Note != "" {
		enc.FieldStart("note")
		enc.Str(e.Note)
	}

	o := e.Order
	enc.FieldStart("order")
	enc.ObjStart()
	enc.FieldStart("id")
	enc.Str(o.ID)
	enc.FieldStart("buyerId")
	enc.Str(o.BuyerID)
	enc.FieldStart("vendorId")
	enc.Str(o.VendorID)
	enc.FieldStart("status")
	enc.Str(string(o.Status))
	enc.FieldStart("paymentStatus")
	enc.Str(string(o.PaymentStatus))
	enc.FieldStart("totalAmount")
	enc.Str(o.TotalAmount.StringFixed(2))
	enc.FieldStart("deliveryFee")
	enc.Str(o.DeliveryFee.StringFixed(2))
	enc.FieldStart("version")
	enc.Int(o.Version)
	enc.FieldStart("items")
	enc.ArrStart()
	for _, it := range o.Items {
		enc.ObjStart()
		enc.FieldStart("productId")
		enc.Str(it.ProductID)
		enc.FieldStart("quantity")
		enc.Int(it.Quantity)
		enc.FieldStart("priceAtOrder")
		enc.Str(it.PriceAtOrder.StringFixed(2))
		enc.ObjEnd()
	}
	enc.ArrEnd()
	enc.ObjEnd()

	enc.ObjEnd()
	return enc.Bytes()
}
