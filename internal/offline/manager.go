// Package offline is the entry point the app uses while the network may be
// unavailable: cached bookings and profile, queued booking changes, and
// replay of those changes once the backend is reachable.
package offline

import (
	"context"
	"time"

	"github.com/kimhsiao/ferrysync/backend/internal/cache"
	apperrors "github.com/kimhsiao/ferrysync/backend/internal/errors"
	"github.com/kimhsiao/ferrysync/backend/internal/logging"
	"github.com/kimhsiao/ferrysync/backend/internal/models"
	"github.com/kimhsiao/ferrysync/backend/internal/storage"
	syncpkg "github.com/kimhsiao/ferrysync/backend/internal/sync"
	"github.com/kimhsiao/ferrysync/backend/internal/sync/queue"
)

// Options configures a Manager.
type Options struct {
	TTL          time.Duration
	MaxRetry     int
	MaxQueueSize int
	Now          func() time.Time
}

// Manager wires the cache, the pending-operation queue and the
// synchronizer over one store.
type Manager struct {
	store    storage.Store
	cache    *cache.Cache
	bookings *cache.Collection[models.Booking]
	user     *cache.Entity[models.UserProfile]
	queue    *queue.Queue
	syncer   *syncpkg.Synchronizer
	logger   *logging.Logger
}

// NewManager creates a Manager over store.
func NewManager(store storage.Store, opts Options) *Manager {
	m := &Manager{store: store, logger: logging.Component("offline")}

	var cacheOpts []cache.Option
	queueOpts := []queue.Option{
		queue.WithMaxRetry(opts.MaxRetry),
		queue.WithMaxSize(opts.MaxQueueSize),
		queue.WithOptimisticHook(models.OperationCancelBooking, m.markPendingCancellation),
		queue.WithOptimisticHook(models.OperationUpdateBooking, m.applyPendingUpdate),
	}
	var syncOpts []syncpkg.Option
	if opts.TTL > 0 {
		cacheOpts = append(cacheOpts, cache.WithTTL(opts.TTL))
	}
	if opts.Now != nil {
		cacheOpts = append(cacheOpts, cache.WithClock(opts.Now))
		queueOpts = append(queueOpts, queue.WithClock(opts.Now))
		syncOpts = append(syncOpts, syncpkg.WithClock(opts.Now))
	}

	m.cache = cache.New(store, cacheOpts...)
	m.bookings = cache.NewCollection[models.Booking](m.cache, storage.KeyCachedBookings)
	m.user = cache.NewEntity[models.UserProfile](m.cache, storage.KeyCachedUser)
	m.queue = queue.New(store, queueOpts...)
	m.syncer = syncpkg.NewSynchronizer(m.queue, store, syncOpts...)
	return m
}

// Queue exposes the pending-operation queue.
func (m *Manager) Queue() *queue.Queue { return m.queue }

// Synchronizer exposes the synchronizer, e.g. for a connectivity monitor.
func (m *Manager) Synchronizer() *syncpkg.Synchronizer { return m.syncer }

// Cache exposes the underlying cache.
func (m *Manager) Cache() *cache.Cache { return m.cache }

// CacheBookings replaces the cached booking list.
func (m *Manager) CacheBookings(ctx context.Context, bookings []models.Booking) error {
	return m.bookings.Put(ctx, bookings)
}

// CachedBookings returns the cached booking list.
func (m *Manager) CachedBookings(ctx context.Context) ([]models.Booking, bool) {
	return m.bookings.All(ctx)
}

// CachedBooking returns one cached booking.
func (m *Manager) CachedBooking(ctx context.Context, id int64) (models.Booking, bool) {
	return m.bookings.Find(ctx, models.BookingByID(id))
}

// UpdateCachedBooking changes one cached booking in place.
func (m *Manager) UpdateCachedBooking(ctx context.Context, id int64, fn func(*models.Booking)) (bool, error) {
	return m.bookings.Update(ctx, models.BookingByID(id), fn)
}

// RemoveCachedBooking drops one booking from the cache.
func (m *Manager) RemoveCachedBooking(ctx context.Context, id int64) (bool, error) {
	return m.bookings.Remove(ctx, models.BookingByID(id))
}

// CacheUser stores the signed-in user's profile.
func (m *Manager) CacheUser(ctx context.Context, user models.UserProfile) error {
	return m.user.Put(ctx, user)
}

// CachedUser returns the cached profile.
func (m *Manager) CachedUser(ctx context.Context) (models.UserProfile, bool) {
	return m.user.Get(ctx)
}

// CancelBookingOffline queues a cancellation and marks the cached booking
// as pending cancellation.
func (m *Manager) CancelBookingOffline(ctx context.Context, bookingID int64) (*models.PendingOperation, error) {
	return m.queue.Enqueue(ctx, models.OperationCancelBooking, bookingID, nil)
}

// UpdateBookingOffline queues a partial update and applies it to the
// cached booking.
func (m *Manager) UpdateBookingOffline(ctx context.Context, bookingID int64, changes map[string]interface{}) (*models.PendingOperation, error) {
	if len(changes) == 0 {
		return nil, apperrors.New(apperrors.ErrInvalid, "update has no changes")
	}
	return m.queue.Enqueue(ctx, models.OperationUpdateBooking, bookingID, changes)
}

// PendingOperations lists queued operations.
func (m *Manager) PendingOperations(ctx context.Context) ([]models.PendingOperation, error) {
	return m.queue.List(ctx)
}

// PendingCount returns the number of queued operations.
func (m *Manager) PendingCount(ctx context.Context) (int, error) {
	return m.queue.Count(ctx)
}

// Sync replays queued operations using effects.
func (m *Manager) Sync(ctx context.Context, effects syncpkg.Effects) *syncpkg.SyncResult {
	return m.syncer.Sync(ctx, effects)
}

// SyncPendingOperations replays queued cancellations through cancel. Other
// operation types have no effect and count as failures.
func (m *Manager) SyncPendingOperations(ctx context.Context, cancel func(ctx context.Context, bookingID int64) (bool, error)) *syncpkg.SyncResult {
	return m.syncer.Sync(ctx, syncpkg.Effects{
		models.OperationCancelBooking: syncpkg.RemoteEffectFunc(cancel),
	})
}

// IsCacheStale reports whether the cached bookings are missing or expired.
func (m *Manager) IsCacheStale(ctx context.Context) bool {
	return m.cache.IsStale(ctx, storage.KeyCachedBookings)
}

// CacheAge returns how old the cached bookings are.
func (m *Manager) CacheAge(ctx context.Context) (time.Duration, bool) {
	return m.cache.Age(ctx, storage.KeyCachedBookings)
}

// LastSyncTime returns when the last sync run finished.
func (m *Manager) LastSyncTime(ctx context.Context) (time.Time, bool) {
	return m.syncer.LastSyncTime(ctx)
}

// ClearAll removes cached data, queued operations and the last sync time.
func (m *Manager) ClearAll(ctx context.Context) error {
	if err := m.cache.Clear(ctx); err != nil {
		return err
	}
	if err := m.queue.Clear(ctx); err != nil {
		return err
	}
	if err := m.store.Remove(ctx, storage.KeyLastSync); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "clear last sync time", err)
	}
	m.logger.Info("offline data cleared")
	return nil
}

func (m *Manager) markPendingCancellation(ctx context.Context, op models.PendingOperation) error {
	found, err := m.bookings.Update(ctx, models.BookingByID(op.SubjectID), func(b *models.Booking) {
		b.Status = models.BookingPendingCancellation
	})
	if err != nil {
		return err
	}
	if !found {
		m.logger.Debug("cancelled booking is not cached", map[string]interface{}{"booking_id": op.SubjectID})
	}
	return nil
}

func (m *Manager) applyPendingUpdate(ctx context.Context, op models.PendingOperation) error {
	_, err := m.bookings.Update(ctx, models.BookingByID(op.SubjectID), func(b *models.Booking) {
		applyChanges(b, op.Payload)
	})
	return err
}

// applyChanges copies the known booking fields from a PATCH payload.
func applyChanges(b *models.Booking, changes map[string]interface{}) {
	for k, v := range changes {
		switch k {
		case "passengers":
			if n, ok := toInt(v); ok {
				b.Passengers = n
			}
		case "vehicles":
			if n, ok := toInt(v); ok {
				b.Vehicles = n
			}
		case "departure_time":
			if s, ok := v.(string); ok {
				b.DepartureTime = s
			}
		case "ferry_id":
			if s, ok := v.(string); ok {
				b.FerryID = s
			}
		}
	}
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
