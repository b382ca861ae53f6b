package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	apperrors "github.com/kimhsiao/ferrysync/backend/internal/errors"
	"github.com/kimhsiao/ferrysync/backend/internal/storage"
)

// KVStore implements storage.Store on the kv_store table.
type KVStore struct {
	db    *sql.DB
	now   func() time.Time
	retry retrier
}

// KVOption configures a KVStore.
type KVOption func(*KVStore)

// WithRetryPolicy replaces DefaultRetryPolicy for writes.
func WithRetryPolicy(p RetryPolicy) KVOption {
	return func(s *KVStore) {
		s.retry = newRetrier(p)
	}
}

// NewKVStore returns a KVStore over an opened, migrated database.
func NewKVStore(db *sql.DB, opts ...KVOption) *KVStore {
	s := &KVStore{db: db, now: time.Now, retry: newRetrier(DefaultRetryPolicy)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the value stored under key.
func (s *KVStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, "SELECT value FROM kv_store WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apperrors.Wrap(apperrors.ErrStorage, "kv get "+key, err)
	}
	return value, true, nil
}

// Set upserts key.
func (s *KVStore) Set(ctx context.Context, key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	err := s.retry.do(ctx, "set "+key, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO kv_store (key, value, updated_at) VALUES (?, ?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			key, value, s.now().UnixMilli(),
		)
		return err
	})
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "kv set "+key, err)
	}
	return nil
}

// Remove deletes key. Removing a missing key is a no-op.
func (s *KVStore) Remove(ctx context.Context, key string) error {
	err := s.retry.do(ctx, "remove "+key, func() error {
		_, err := s.db.ExecContext(ctx, "DELETE FROM kv_store WHERE key = ?", key)
		return err
	})
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "kv remove "+key, err)
	}
	return nil
}

// Compile-time check that *KVStore implements storage.Store.
var _ storage.Store = (*KVStore)(nil)
