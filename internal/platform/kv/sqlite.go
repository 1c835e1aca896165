package kv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLite is the file-backed Store. It keeps the whole engine state in a
// single database file, which is the deployment mode for single-host
// facilities with no external services.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS kv (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	version    INTEGER NOT NULL,
	expires_at INTEGER
)`

// NewSQLite opens (creating if needed) the store at path. Use ":memory:"
// for an ephemeral database.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	// A single writer connection sidesteps SQLITE_BUSY under concurrent
	// read-modify-write loops.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create kv table: %w", err)
	}
	return &SQLite{db: db, now: time.Now}, nil
}

// Close releases the underlying database handle.
func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) Get(ctx context.Context, key string) ([]byte, int64, error) {
	var value []byte
	var version int64
	var expires sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT value, version, expires_at FROM kv WHERE key = ?`, key).
		Scan(&value, &version, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, ErrNotFound
	}
	if err != nil {
		return nil, 0, fmt.Errorf("kv get %s: %w", key, err)
	}
	if expires.Valid && s.now().Unix() >= expires.Int64 {
		return nil, 0, ErrNotFound
	}
	return value, version, nil
}

func (s *SQLite) Put(ctx context.Context, key string, value []byte, opts PutOptions) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("kv put %s: %w", key, err)
	}
	defer tx.Rollback()

	var current sql.NullInt64
	var expires sql.NullInt64
	err = tx.QueryRowContext(ctx,
		`SELECT version, expires_at FROM kv WHERE key = ?`, key).
		Scan(&current, &expires)
	exists := err == nil
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("kv put %s: %w", key, err)
	}
	if exists && expires.Valid && s.now().Unix() >= expires.Int64 {
		exists = false
	}

	switch {
	case opts.IfVersion == AnyVersion:
	case opts.IfVersion == NoVersion && exists:
		return ErrVersionConflict
	case opts.IfVersion > 0 && (!exists || current.Int64 != opts.IfVersion):
		return ErrVersionConflict
	}

	var next int64 = 1
	if exists {
		next = current.Int64 + 1
	}
	var expiresAt interface{}
	if opts.TTL > 0 {
		expiresAt = s.now().Add(opts.TTL).Unix()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO kv (key, value, version, expires_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value,
			version = excluded.version, expires_at = excluded.expires_at`,
		key, value, next, expiresAt)
	if err != nil {
		return fmt.Errorf("kv put %s: %w", key, err)
	}
	return tx.Commit()
}

func (s *SQLite) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("kv delete %s: %w", key, err)
	}
	return nil
}

func (s *SQLite) List(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key FROM kv
		WHERE key >= ? AND key < ? AND (expires_at IS NULL OR expires_at > ?)
		ORDER BY key`,
		prefix, prefix+"\xff", s.now().Unix())
	if err != nil {
		return nil, fmt.Errorf("kv list %s: %w", prefix, err)
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
