package cache

import (
	"context"
)

// Entity is a typed view of a single cached value.
type Entity[T any] struct {
	cache *Cache
	key   string
}

// NewEntity returns a typed view of key.
func NewEntity[T any](c *Cache, key string) *Entity[T] {
	return &Entity[T]{cache: c, key: key}
}

// Key returns the storage key.
func (e *Entity[T]) Key() string { return e.key }

// Put caches v.
func (e *Entity[T]) Put(ctx context.Context, v T) error {
	return Put(ctx, e.cache, e.key, v)
}

// Get returns the cached value, if fresh.
func (e *Entity[T]) Get(ctx context.Context) (T, bool) {
	return Get[T](ctx, e.cache, e.key)
}

// Invalidate removes the cached value.
func (e *Entity[T]) Invalidate(ctx context.Context) error {
	return e.cache.Invalidate(ctx, e.key)
}

// Collection is a typed view of a cached list. Every mutation reads the
// whole list, changes it, and re-caches it with a fresh TTL.
type Collection[T any] struct {
	cache *Cache
	key   string
}

// NewCollection returns a typed list view of key.
func NewCollection[T any](c *Cache, key string) *Collection[T] {
	return &Collection[T]{cache: c, key: key}
}

// Key returns the storage key.
func (l *Collection[T]) Key() string { return l.key }

// Put replaces the cached list.
func (l *Collection[T]) Put(ctx context.Context, items []T) error {
	if items == nil {
		items = []T{}
	}
	return Put(ctx, l.cache, l.key, items)
}

// All returns the cached list, if fresh.
func (l *Collection[T]) All(ctx context.Context) ([]T, bool) {
	return Get[[]T](ctx, l.cache, l.key)
}

// Find returns the first cached item matching pred.
func (l *Collection[T]) Find(ctx context.Context, pred func(T) bool) (item T, ok bool) {
	items, found := l.All(ctx)
	if !found {
		return item, false
	}
	for _, it := range items {
		if pred(it) {
			return it, true
		}
	}
	return item, false
}

// Update applies fn to every item matching pred and re-caches the list.
// It reports whether anything matched; nothing is written otherwise.
func (l *Collection[T]) Update(ctx context.Context, pred func(T) bool, fn func(*T)) (bool, error) {
	items, found := l.All(ctx)
	if !found {
		return false, nil
	}
	matched := false
	for i := range items {
		if pred(items[i]) {
			fn(&items[i])
			matched = true
		}
	}
	if !matched {
		return false, nil
	}
	return true, l.Put(ctx, items)
}

// Remove drops every item matching pred and re-caches the list.
func (l *Collection[T]) Remove(ctx context.Context, pred func(T) bool) (bool, error) {
	items, found := l.All(ctx)
	if !found {
		return false, nil
	}
	kept := items[:0]
	for _, it := range items {
		if !pred(it) {
			kept = append(kept, it)
		}
	}
	if len(kept) == len(items) {
		return false, nil
	}
	return true, l.Put(ctx, kept)
}
