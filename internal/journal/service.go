// Package journal records lifecycle events published by the api into
// the order_events table.
package journal

import (
	"context"
	"encoding/json"
	"fmt"

	kafkax "github.com/ariefcatur/go-payment-orders/internal/kafka"
	"github.com/ariefcatur/go-payment-orders/internal/logger"
	"github.com/ariefcatur/go-payment-orders/internal/orders"
	"github.com/ariefcatur/go-payment-orders/internal/redisx"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Store is satisfied by *orders.EventRepo.
type Store interface {
	Append(ctx context.Context, env orders.Envelope) error
}

type Service struct {
	Store Store
	Redis *redis.Client // optional; Store ignores replays on its own
	Name  string        // dedup namespace
}

// HandleEvent is installed as the consumer handler. A nil return lets
// the consumer commit the offset.
func (s *Service) HandleEvent(ctx context.Context, m kafkago.Message) error {
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		// poison message: log and skip so the partition keeps moving
		logger.Log.Error("journal: undecodable event", zap.ByteString("key", m.Key), zap.Error(err))
		return nil
	}
	if env.EventID == "" {
		logger.Log.Warn("journal: event without id", zap.String("type", env.EventType))
		return nil
	}

	dkey := fmt.Sprintf(redisx.KeyDedup, s.namespace(), env.EventID)
	if s.Redis != nil {
		first, err := redisx.MarkOnce(ctx, s.Redis, dkey, redisx.TTLDedup)
		if err != nil {
			logger.Log.Warn("journal: dedup unavailable", zap.Error(err))
		} else if !first {
			return nil
		}
	}

	if err := s.Store.Append(ctx, env); err != nil {
		if s.Redis != nil {
			_ = s.Redis.Del(context.WithoutCancel(ctx), dkey).Err()
		}
		return fmt.Errorf("journal %s: %w", env.EventID, err)
	}

	s.observe(env)
	return nil
}

func (s *Service) namespace() string {
	if s.Name != "" {
		return s.Name
	}
	return "journal"
}

// observe surfaces events an operator has to act on.
func (s *Service) observe(env orders.Envelope) {
	switch env.EventType {
	case orders.EventSettlementFailed:
		p, err := kafkax.UnwrapPayload[orders.SettlementFailedPayload](env.Payload)
		if err != nil {
			logger.Log.Warn("journal: bad payload", zap.String("event_id", env.EventID), zap.Error(err))
			return
		}
		logger.Log.Warn("settlement failed for paid order",
			zap.String("order_number", p.OrderNumber),
			zap.String("order_id", p.OrderID),
			zap.Int("status", p.HTTPStatus),
			zap.String("error", p.Error),
			zap.String("trace_id", env.TraceID),
		)
	case orders.EventOrderMarkedPaid:
		logger.Log.Info("order finalized manually", zap.String("order_number", env.CorrelationID))
	}
}
