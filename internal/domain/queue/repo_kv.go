package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/qflow/qflow/internal/platform/clock"
	"github.com/qflow/qflow/internal/platform/kv"
)

type repoKV struct {
	store kv.Store
}

// NewKVRepo stores each clinic's daily queue as one JSON document under
// queue:<clinic>:<day>. The whole day is a single conditional write, which
// is what makes sequence issuance and state transitions race-free.
func NewKVRepo(store kv.Store) Repository {
	return &repoKV{store: store}
}

func queueKey(clinicID string, day clock.ServiceDay) string {
	return "queue:" + clinicID + ":" + string(day)
}

func (r *repoKV) load(ctx context.Context, clinicID string, day clock.ServiceDay) (*QueueDay, error) {
	raw, version, err := r.store.Get(ctx, queueKey(clinicID, day))
	if errors.Is(err, kv.ErrNotFound) {
		return &QueueDay{Clinic: clinicID, Day: day, Version: kv.NoVersion}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load queue %s/%s: %w", clinicID, day, err)
	}
	var q QueueDay
	if err := json.Unmarshal(raw, &q); err != nil {
		return nil, fmt.Errorf("decode queue %s/%s: %w", clinicID, day, err)
	}
	q.Version = version
	return &q, nil
}

func (r *repoKV) Get(ctx context.Context, clinicID string, day clock.ServiceDay) (*QueueDay, error) {
	return r.load(ctx, clinicID, day)
}

func (r *repoKV) Mutate(ctx context.Context, clinicID string, day clock.ServiceDay, ttl time.Duration, fn func(q *QueueDay) error) (*QueueDay, error) {
	q, err := r.load(ctx, clinicID, day)
	if err != nil {
		return nil, err
	}
	if err := fn(q); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(q)
	if err != nil {
		return nil, fmt.Errorf("encode queue %s/%s: %w", clinicID, day, err)
	}
	if err := r.store.Put(ctx, queueKey(clinicID, day), raw, kv.PutOptions{IfVersion: q.Version, TTL: ttl}); err != nil {
		return nil, err
	}
	q.Version++
	return q, nil
}
