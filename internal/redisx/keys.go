package redisx

import "time"

const (
	// Per-order lock: lock:order:{order_number} -> holder token
	KeyOrderLock = "lock:order:%s"

	// Replay of POST /create: idem:pay:create:{Idempotency-Key} -> response JSON
	KeyIdemCreate = "idem:pay:create:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLDedup       = 48 * time.Hour
)
