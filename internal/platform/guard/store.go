package guard

import (
	"context"

	"github.com/qflow/qflow/internal/platform/kv"
)

// breakerStore wraps a kv.Store so every engine↔store call crosses one
// breaker. A version conflict is an expected CAS outcome, not a store
// fault, so it never counts against the breaker.
type breakerStore struct {
	inner kv.Store
	br    *Breaker
}

// WrapStore applies the breaker to all operations of inner.
func WrapStore(inner kv.Store, br *Breaker) kv.Store {
	return &breakerStore{inner: inner, br: br}
}

func countable(err error) error {
	switch err {
	case nil, kv.ErrNotFound, kv.ErrVersionConflict:
		return nil
	}
	return err
}

func (s *breakerStore) Get(ctx context.Context, key string) ([]byte, int64, error) {
	var value []byte
	var version int64
	var opErr error
	err := s.br.Do(func() error {
		value, version, opErr = s.inner.Get(ctx, key)
		return countable(opErr)
	})
	if err != nil && opErr == nil {
		return nil, 0, err
	}
	return value, version, opErr
}

func (s *breakerStore) Put(ctx context.Context, key string, value []byte, opts kv.PutOptions) error {
	var opErr error
	err := s.br.Do(func() error {
		opErr = s.inner.Put(ctx, key, value, opts)
		return countable(opErr)
	})
	if err != nil && opErr == nil {
		return err
	}
	return opErr
}

func (s *breakerStore) Delete(ctx context.Context, key string) error {
	var opErr error
	err := s.br.Do(func() error {
		opErr = s.inner.Delete(ctx, key)
		return countable(opErr)
	})
	if err != nil && opErr == nil {
		return err
	}
	return opErr
}

func (s *breakerStore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	var opErr error
	err := s.br.Do(func() error {
		keys, opErr = s.inner.List(ctx, prefix)
		return countable(opErr)
	})
	if err != nil && opErr == nil {
		return nil, err
	}
	return keys, opErr
}
