package orders

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EventRepo is the lifecycle event journal.
type EventRepo struct{ DB *pgxpool.Pool }

// Append stores env; a replayed event_id is ignored.
func (r *EventRepo) Append(ctx context.Context, env Envelope) error {
	_, err := r.DB.Exec(ctx, `
		INSERT INTO order_events (event_id, event_type, event_version, occurred_at, producer, trace_id, correlation_id, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (event_id) DO NOTHING`,
		env.EventID, env.EventType, env.EventVersion, env.OccurredAt, env.Producer, env.TraceID, env.CorrelationID, nullJSON(env.Payload),
	)
	return err
}
