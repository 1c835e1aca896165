package pathway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/qflow/qflow/internal/platform/kv"
)

type repoKV struct {
	store kv.Store
}

// NewKVRepo stores one JSON document per route under
// route:<visitor>:<examType>. Routes outlive the day and carry no TTL.
func NewKVRepo(store kv.Store) Repository {
	return &repoKV{store: store}
}

func routeKey(visitorID, examType string) string {
	return "route:" + visitorID + ":" + examType
}

func (r *repoKV) Get(ctx context.Context, visitorID, examType string) (*Route, error) {
	return r.getKey(ctx, routeKey(visitorID, examType))
}

func (r *repoKV) getKey(ctx context.Context, key string) (*Route, error) {
	raw, version, err := r.store.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load route %s: %w", key, err)
	}
	var rt Route
	if err := json.Unmarshal(raw, &rt); err != nil {
		return nil, fmt.Errorf("decode route %s: %w", key, err)
	}
	rt.Version = version
	return &rt, nil
}

func (r *repoKV) GetByVisitor(ctx context.Context, visitorID string) (*Route, error) {
	keys, err := r.store.List(ctx, "route:"+visitorID+":")
	if err != nil {
		return nil, fmt.Errorf("list routes for %s: %w", visitorID, err)
	}
	var latest *Route
	for _, k := range keys {
		rt, err := r.getKey(ctx, k)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if latest == nil || rt.AssignedAt.After(latest.AssignedAt) {
			latest = rt
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return latest, nil
}

func (r *repoKV) Create(ctx context.Context, rt *Route) error {
	raw, err := json.Marshal(rt)
	if err != nil {
		return fmt.Errorf("encode route: %w", err)
	}
	err = r.store.Put(ctx, routeKey(rt.VisitorID, rt.ExamType), raw, kv.PutOptions{IfVersion: kv.NoVersion})
	if errors.Is(err, kv.ErrVersionConflict) {
		return ErrExists
	}
	if err != nil {
		return fmt.Errorf("create route for %s: %w", rt.VisitorID, err)
	}
	rt.Version = 1
	return nil
}

func (r *repoKV) Update(ctx context.Context, rt *Route) error {
	raw, err := json.Marshal(rt)
	if err != nil {
		return fmt.Errorf("encode route: %w", err)
	}
	err = r.store.Put(ctx, routeKey(rt.VisitorID, rt.ExamType), raw, kv.PutOptions{IfVersion: rt.Version})
	if err != nil {
		return fmt.Errorf("update route for %s: %w", rt.VisitorID, err)
	}
	rt.Version++
	return nil
}
