package queue

import (
	"context"
	"time"

	"github.com/qflow/qflow/internal/platform/clock"
)

type Repository interface {
	// Get returns the queue state for (clinic, day); an empty QueueDay when
	// nothing has been stored yet.
	Get(ctx context.Context, clinicID string, day clock.ServiceDay) (*QueueDay, error)
	// Mutate loads the queue state, applies fn and persists the result
	// atomically. A concurrent writer surfaces as kv.ErrVersionConflict;
	// callers retry via the auto-repair guard.
	Mutate(ctx context.Context, clinicID string, day clock.ServiceDay, ttl time.Duration, fn func(q *QueueDay) error) (*QueueDay, error)
}
