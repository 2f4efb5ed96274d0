package payment

import (
	"context"
	"time"

	kafkax "github.com/ariefcatur/go-payment-orders/internal/kafka"
	"github.com/ariefcatur/go-payment-orders/internal/orders"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
)

// Publisher is satisfied by *kafka.Producer.
type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

type emitter struct {
	pub      Publisher
	producer string
	now      func() time.Time
}

func (e emitter) emit(ctx context.Context, eventType, orderNumber string, payload any) {
	if e.pub == nil {
		return
	}
	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    e.now().UTC(),
		Producer:      e.producer,
		TraceID:       middleware.GetReqID(ctx),
		CorrelationID: orderNumber,
		Payload:       kafkax.MustMarshal(payload),
	}
	e.pub.Publish(orders.PartitionKey(orderNumber), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
