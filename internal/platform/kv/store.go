// Package kv defines the versioned key-value store the queue engine runs
// against, plus the adapters that bind it to real storage. Every mutating
// engine operation is a read-modify-write on a single key, serialized by
// the conditional Put: writers that lose the race get ErrVersionConflict
// and reload.
package kv

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by Get when the key has no live value.
	ErrNotFound = errors.New("kv: key not found")
	// ErrVersionConflict is returned by Put when IfVersion does not match
	// the stored version.
	ErrVersionConflict = errors.New("kv: version conflict")
)

// AnyVersion disables the conditional check on Put.
const AnyVersion int64 = -1

// NoVersion asserts the key must not exist yet.
const NoVersion int64 = 0

// PutOptions controls conditional writes and expiry.
type PutOptions struct {
	// IfVersion makes the write conditional: NoVersion requires the key to
	// be absent, a positive value requires an exact match, AnyVersion
	// writes unconditionally.
	IfVersion int64
	// TTL expires the key after the given duration. Zero means no expiry.
	TTL time.Duration
}

// Store is the minimal contract shared by all storage bindings.
type Store interface {
	// Get returns the value and its current version.
	Get(ctx context.Context, key string) ([]byte, int64, error)
	// Put writes value under key subject to opts.
	Put(ctx context.Context, key string, value []byte, opts PutOptions) error
	// Delete removes the key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	// List returns all live keys with the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}
