package journal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	kafkax "github.com/ariefcatur/go-payment-orders/internal/kafka"
	"github.com/ariefcatur/go-payment-orders/internal/orders"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu   sync.Mutex
	evs  []orders.Envelope
	fail error
}

func (m *memStore) Append(_ context.Context, env orders.Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.evs = append(m.evs, env)
	return nil
}

func message(t *testing.T, id, eventType string, payload any) kafkago.Message {
	t.Helper()
	env := orders.Envelope{
		EventID:       id,
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		Producer:      "pay-api",
		CorrelationID: "o1",
		Payload:       kafkax.MustMarshal(payload),
	}
	return kafkago.Message{Key: orders.PartitionKey("o1"), Value: kafkax.MustMarshal(env)}
}

func newService(t *testing.T, store Store) *Service {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return &Service{Store: store, Redis: rdb}
}

func TestHandleEventDedups(t *testing.T) {
	store := &memStore{}
	s := newService(t, store)
	ctx := context.Background()

	m := message(t, "ev-1", orders.EventOrderCreated, orders.OrderCreatedPayload{OrderNumber: "o1"})
	require.NoError(t, s.HandleEvent(ctx, m))
	require.NoError(t, s.HandleEvent(ctx, m))

	require.Len(t, store.evs, 1)
	assert.Equal(t, "ev-1", store.evs[0].EventID)
	assert.Equal(t, orders.EventOrderCreated, store.evs[0].EventType)
}

func TestHandleEventStoreFailureAllowsRetry(t *testing.T) {
	store := &memStore{fail: errors.New("db down")}
	s := newService(t, store)
	ctx := context.Background()

	m := message(t, "ev-2", orders.EventSettlementFailed, orders.SettlementFailedPayload{OrderNumber: "o1", HTTPStatus: 500})
	require.Error(t, s.HandleEvent(ctx, m))

	store.fail = nil
	require.NoError(t, s.HandleEvent(ctx, m))
	assert.Len(t, store.evs, 1)
}

func TestHandleEventSkipsPoison(t *testing.T) {
	store := &memStore{}
	s := newService(t, store)

	assert.NoError(t, s.HandleEvent(context.Background(), kafkago.Message{Value: []byte("not json")}))
	assert.NoError(t, s.HandleEvent(context.Background(), kafkago.Message{Value: []byte(`{"event_type":"OrderPaid"}`)}))
	assert.Empty(t, store.evs)
}

func TestHandleEventWithoutRedis(t *testing.T) {
	store := &memStore{}
	s := &Service{Store: store}
	m := message(t, "ev-3", orders.EventOrderPaid, orders.OrderPaidPayload{OrderNumber: "o1"})
	require.NoError(t, s.HandleEvent(context.Background(), m))
	assert.Len(t, store.evs, 1)
}
