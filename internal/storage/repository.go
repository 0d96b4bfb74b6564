package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Queryable is satisfied by *sql.DB and *sql.Tx.
type Queryable interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// StateRepository reads and writes kv_state rows.
type StateRepository struct {
	db  Queryable
	now func() time.Time
}

// NewStateRepository creates a repository over db.
func NewStateRepository(db Queryable) *StateRepository {
	return &StateRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Get returns the value stored under key. ok is false when there is none.
func (r *StateRepository) Get(ctx context.Context, key string) (value []byte, ok bool, err error) {
	err = r.db.QueryRowContext(ctx, "SELECT value FROM kv_state WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading state %q: %w", key, err)
	}
	return value, true, nil
}

// Put stores value under key, replacing any previous value.
func (r *StateRepository) Put(ctx context.Context, key string, value []byte) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO kv_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, r.now())
	if err != nil {
		return fmt.Errorf("writing state %q: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (r *StateRepository) Delete(ctx context.Context, key string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM kv_state WHERE key = ?", key); err != nil {
		return fmt.Errorf("deleting state %q: %w", key, err)
	}
	return nil
}
