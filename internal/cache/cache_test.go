package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/kimhsiao/ferrysync/backend/internal/errors"
	"github.com/kimhsiao/ferrysync/backend/internal/models"
	"github.com/kimhsiao/ferrysync/backend/internal/storage"
)

// fakeClock is a settable clock.
type fakeClock struct{ t time.Time }

func (f *fakeClock) Now() time.Time          { return f.t }
func (f *fakeClock) Advance(d time.Duration) { f.t = f.t.Add(d) }

// failingStore fails reads and/or writes on demand.
type failingStore struct {
	*storage.MemoryStore
	failGet bool
	failSet bool
}

func (f *failingStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if f.failGet {
		return nil, false, errors.New("disk unavailable")
	}
	return f.MemoryStore.Get(ctx, key)
}

func (f *failingStore) Set(ctx context.Context, key string, value []byte) error {
	if f.failSet {
		return errors.New("disk full")
	}
	return f.MemoryStore.Set(ctx, key, value)
}

func newTestCache(t *testing.T) (*Cache, *storage.MemoryStore, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 7, 1, 8, 0, 0, 0, time.UTC)}
	store := storage.NewMemoryStore()
	return New(store, WithClock(clock.Now)), store, clock
}

// TestPutGet_roundTrip verifies a value reads back immediately after write.
func TestPutGet_roundTrip(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestCache(t)

	user := models.UserProfile{ID: 7, Email: "kim@example.com", FirstName: "Kim"}
	require.NoError(t, Put(ctx, c, storage.KeyCachedUser, user))

	got, ok := Get[models.UserProfile](ctx, c, storage.KeyCachedUser)
	require.True(t, ok)
	assert.Equal(t, user, got)

	_, ok = Get[models.UserProfile](ctx, c, "missing")
	assert.False(t, ok)
}

// TestPut_envelopeStamps verifies expiresAt = timestamp + TTL.
func TestPut_envelopeStamps(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.UnixMilli(1_000)}
	store := storage.NewMemoryStore()
	c := New(store, WithClock(clock.Now), WithTTL(time.Hour))

	require.NoError(t, Put(ctx, c, "k", 42))

	raw, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"data":42,"timestamp":1000,"expiresAt":3601000}`, string(raw))
	assert.Equal(t, time.Hour, c.TTL())
}

// TestGet_expiry verifies an expired envelope is a miss and is purged.
func TestGet_expiry(t *testing.T) {
	ctx := context.Background()
	c, store, clock := newTestCache(t)

	require.NoError(t, Put(ctx, c, storage.KeyCachedUser, models.UserProfile{ID: 1}))

	clock.Advance(DefaultTTL)
	_, ok := Get[models.UserProfile](ctx, c, storage.KeyCachedUser)
	assert.True(t, ok, "exactly at expiresAt the entry is still fresh")

	clock.Advance(time.Millisecond)
	_, ok = Get[models.UserProfile](ctx, c, storage.KeyCachedUser)
	assert.False(t, ok)

	_, present, err := store.Get(ctx, storage.KeyCachedUser)
	require.NoError(t, err)
	assert.False(t, present, "expired entry should be purged")
	assert.True(t, c.IsStale(ctx, storage.KeyCachedUser))
}

// TestIsStaleAndAge verifies staleness and age reporting.
func TestIsStaleAndAge(t *testing.T) {
	ctx := context.Background()
	c, _, clock := newTestCache(t)

	assert.True(t, c.IsStale(ctx, storage.KeyCachedBookings))
	_, known := c.Age(ctx, storage.KeyCachedBookings)
	assert.False(t, known)

	require.NoError(t, Put(ctx, c, storage.KeyCachedBookings, []models.Booking{}))
	clock.Advance(90 * time.Minute)

	assert.False(t, c.IsStale(ctx, storage.KeyCachedBookings))
	age, known := c.Age(ctx, storage.KeyCachedBookings)
	assert.True(t, known)
	assert.Equal(t, 90*time.Minute, age)

	clock.Advance(DefaultTTL)
	assert.True(t, c.IsStale(ctx, storage.KeyCachedBookings))
}

// TestGet_failsOpen verifies read errors and corrupt data are misses.
func TestGet_failsOpen(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{MemoryStore: storage.NewMemoryStore()}
	c := New(store)

	require.NoError(t, store.MemoryStore.Set(ctx, "corrupt", []byte("{not json")))
	_, ok := Get[int](ctx, c, "corrupt")
	assert.False(t, ok)

	require.NoError(t, Put(ctx, c, "k", 1))
	store.failGet = true
	_, ok = Get[int](ctx, c, "k")
	assert.False(t, ok)
	assert.True(t, c.IsStale(ctx, "k"))
}

// TestPut_propagatesErrors verifies write and encode failures reach the caller.
func TestPut_propagatesErrors(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{MemoryStore: storage.NewMemoryStore(), failSet: true}
	c := New(store)

	err := Put(ctx, c, "k", 1)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrStorage))

	store.failSet = false
	err = Put(ctx, c, "k", make(chan int))
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrSerialization))
}

// TestClear verifies only cache-owned keys are removed.
func TestClear(t *testing.T) {
	ctx := context.Background()
	c, store, _ := newTestCache(t)

	require.NoError(t, Put(ctx, c, storage.KeyCachedUser, models.UserProfile{ID: 1}))
	require.NoError(t, Put(ctx, c, storage.KeyCachedBookings, []models.Booking{{ID: 1}}))
	require.NoError(t, store.Set(ctx, storage.KeyPendingOperations, []byte("[]")))

	require.NoError(t, c.Clear(ctx))

	assert.Equal(t, []string{storage.KeyPendingOperations}, store.Keys())
}
