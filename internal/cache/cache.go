// Package cache stores domain entities in the durable store wrapped in
// expiry-stamped envelopes.
//
// Reads fail open: a storage error or a corrupt envelope is logged and
// reported as a miss. Writes propagate errors to the caller.
//
// The cache does no locking of its own. Each key has a single owner that
// serializes its own read-modify-write cycles.
package cache

import (
	"context"
	"time"

	json "github.com/goccy/go-json"

	apperrors "github.com/kimhsiao/ferrysync/backend/internal/errors"
	"github.com/kimhsiao/ferrysync/backend/internal/logging"
	"github.com/kimhsiao/ferrysync/backend/internal/storage"
)

// DefaultTTL is how long a cached envelope stays fresh.
const DefaultTTL = 24 * time.Hour

// Envelope wraps a cached value with its write and expiry times (epoch ms).
// ExpiresAt is always Timestamp + TTL.
type Envelope[T any] struct {
	Data      T     `json:"data"`
	Timestamp int64 `json:"timestamp"`
	ExpiresAt int64 `json:"expiresAt"`
}

// Expired reports whether the envelope is past its expiry at now.
func (e Envelope[T]) Expired(now time.Time) bool {
	return now.UnixMilli() > e.ExpiresAt
}

// Cache is the envelope layer over a storage.Store.
type Cache struct {
	store  storage.Store
	ttl    time.Duration
	now    func() time.Time
	keys   []string
	logger *logging.Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL overrides DefaultTTL. Non-positive values are ignored.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// New creates a Cache over store. The cache owns KeyCachedBookings and
// KeyCachedUser; Clear removes exactly those keys.
func New(store storage.Store, opts ...Option) *Cache {
	c := &Cache{
		store:  store,
		ttl:    DefaultTTL,
		now:    time.Now,
		keys:   []string{storage.KeyCachedBookings, storage.KeyCachedUser},
		logger: logging.Component("cache"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TTL returns the configured time-to-live.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Put wraps v in a fresh envelope and writes it under key, replacing any
// previous envelope.
func Put[T any](ctx context.Context, c *Cache, key string, v T) error {
	now := c.now()
	env := Envelope[T]{
		Data:      v,
		Timestamp: now.UnixMilli(),
		ExpiresAt: now.Add(c.ttl).UnixMilli(),
	}
	data, err := json.Marshal(env)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrSerialization, "encode cache envelope "+key, err)
	}
	if err := c.store.Set(ctx, key, data); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "write cache entry "+key, err)
	}
	return nil
}

// Get returns the value cached under key. ok is false when the key is
// absent, expired (the entry is purged), unreadable or corrupt.
func Get[T any](ctx context.Context, c *Cache, key string) (value T, ok bool) {
	env, found := readEnvelope[T](ctx, c, key)
	if !found {
		return value, false
	}
	if env.Expired(c.now()) {
		c.purge(ctx, key)
		return value, false
	}
	return env.Data, true
}

// IsStale reports whether key has no entry or an expired one.
func (c *Cache) IsStale(ctx context.Context, key string) bool {
	env, found := readEnvelope[json.RawMessage](ctx, c, key)
	if !found {
		return true
	}
	return env.Expired(c.now())
}

// Age returns how long ago key was written. ok is false when unknown.
func (c *Cache) Age(ctx context.Context, key string) (age time.Duration, ok bool) {
	env, found := readEnvelope[json.RawMessage](ctx, c, key)
	if !found {
		return 0, false
	}
	return c.now().Sub(time.UnixMilli(env.Timestamp)), true
}

// Invalidate removes key.
func (c *Cache) Invalidate(ctx context.Context, key string) error {
	if err := c.store.Remove(ctx, key); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "invalidate cache entry "+key, err)
	}
	return nil
}

// Clear removes every cache-owned key.
func (c *Cache) Clear(ctx context.Context) error {
	for _, key := range c.keys {
		if err := c.Invalidate(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

func (c *Cache) purge(ctx context.Context, key string) {
	if err := c.store.Remove(ctx, key); err != nil {
		c.logger.Warn("failed to purge expired cache entry", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
		return
	}
	c.logger.Debug("purged expired cache entry", map[string]interface{}{"key": key})
}

func readEnvelope[T any](ctx context.Context, c *Cache, key string) (Envelope[T], bool) {
	var env Envelope[T]
	data, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Error("cache read failed, treating as miss", err, map[string]interface{}{"key": key})
		return env, false
	}
	if !ok {
		return env, false
	}
	if err := json.Unmarshal(data, &env); err != nil {
		c.logger.Error("corrupt cache envelope, treating as miss", err, map[string]interface{}{"key": key})
		return env, false
	}
	return env, true
}
