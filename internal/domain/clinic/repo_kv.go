package clinic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/qflow/qflow/internal/platform/kv"
)

const keyPrefix = "clinic:"

type repoKV struct {
	store kv.Store
}

// NewKVRepo binds the registry to a kv.Store, one JSON document per clinic
// under clinic:<id>.
func NewKVRepo(store kv.Store) Repository {
	return &repoKV{store: store}
}

func (r *repoKV) Get(ctx context.Context, id string) (*Clinic, error) {
	raw, _, err := r.store.Get(ctx, keyPrefix+id)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load clinic %s: %w", id, err)
	}
	var c Clinic
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("decode clinic %s: %w", id, err)
	}
	return &c, nil
}

func (r *repoKV) List(ctx context.Context) ([]*Clinic, error) {
	keys, err := r.store.List(ctx, keyPrefix)
	if err != nil {
		return nil, fmt.Errorf("list clinics: %w", err)
	}
	sort.Strings(keys)
	out := make([]*Clinic, 0, len(keys))
	for _, k := range keys {
		c, err := r.Get(ctx, k[len(keyPrefix):])
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (r *repoKV) Save(ctx context.Context, c *Clinic) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode clinic %s: %w", c.ID, err)
	}
	if err := r.store.Put(ctx, keyPrefix+c.ID, raw, kv.PutOptions{IfVersion: kv.AnyVersion}); err != nil {
		return fmt.Errorf("save clinic %s: %w", c.ID, err)
	}
	return nil
}
