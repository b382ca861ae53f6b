// Package sync replays queued offline operations against the backend.
package sync

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"

	apperrors "github.com/kimhsiao/ferrysync/backend/internal/errors"
	"github.com/kimhsiao/ferrysync/backend/internal/logging"
	"github.com/kimhsiao/ferrysync/backend/internal/models"
	"github.com/kimhsiao/ferrysync/backend/internal/storage"
)

// ErrSyncInProgressMessage is reported when a run is rejected by the
// single-flight guard.
const ErrSyncInProgressMessage = "Sync already in progress"

// RemoteEffect performs the backend side of a queued operation. It returns
// true when the backend confirmed the effect; false or an error make the
// operation eligible for retry.
type RemoteEffect interface {
	Apply(ctx context.Context, op models.PendingOperation) (bool, error)
}

// RemoteEffectFunc adapts a callback that only needs the subject id.
type RemoteEffectFunc func(ctx context.Context, subjectID int64) (bool, error)

// Apply calls f with the operation's subject id.
func (f RemoteEffectFunc) Apply(ctx context.Context, op models.PendingOperation) (bool, error) {
	return f(ctx, op.SubjectID)
}

// Effects maps each operation type to its remote effect.
type Effects map[models.OperationType]RemoteEffect

// SyncResult summarizes one synchronization run.
type SyncResult struct {
	Success          bool          `json:"success"`
	SyncedOperations int           `json:"syncedOperations"`
	FailedOperations int           `json:"failedOperations"`
	Errors           []string      `json:"errors"`
	StartTime        time.Time     `json:"-"`
	Duration         time.Duration `json:"-"`
}

// Synchronizer drains the pending-operation queue. At most one run is
// active per instance; concurrent callers are rejected, not queued.
type Synchronizer struct {
	queue   OperationQueue
	store   storage.Store
	now     func() time.Time
	logger  *logging.Logger
	running atomic.Bool
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Synchronizer) {
		if now != nil {
			s.now = now
		}
	}
}

// NewSynchronizer creates a Synchronizer over queue, recording the last run
// time in store.
func NewSynchronizer(queue OperationQueue, store storage.Store, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		queue:  queue,
		store:  store,
		now:    time.Now,
		logger: logging.Component("sync"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// InProgress reports whether a run is active.
func (s *Synchronizer) InProgress() bool {
	return s.running.Load()
}

// Sync replays every queued operation in insertion order, one at a time.
//
// Confirmed operations are removed. Failed ones have their retry count
// incremented, and an operation that exhausts its retries is dropped and
// reported once in Errors. The last sync time is recorded whatever the
// outcome. Cancelling ctx stops the run before the next operation.
func (s *Synchronizer) Sync(ctx context.Context, effects Effects) *SyncResult {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Warn("sync rejected, another run is active")
		return &SyncResult{Success: false, Errors: []string{ErrSyncInProgressMessage}}
	}
	defer s.running.Store(false)

	result := &SyncResult{StartTime: s.now(), Errors: []string{}}
	defer func() {
		result.Duration = s.now().Sub(result.StartTime)
	}()

	ops, err := s.queue.List(ctx)
	if err != nil {
		s.logger.ErrorWithCode("sync aborted, queue unreadable", string(apperrors.ErrSyncFailed), err)
		result.Errors = append(result.Errors, fmt.Sprintf("Sync failed: %v", err))
		s.recordLastSync(ctx)
		return result
	}

	s.logger.Info("sync started", map[string]interface{}{"pending": len(ops)})

	interrupted := false
	for i, op := range ops {
		if err := ctx.Err(); err != nil {
			interrupted = true
			s.logger.Warn("sync interrupted", map[string]interface{}{
				"processed": i,
				"remaining": len(ops) - i,
			})
			result.Errors = append(result.Errors, fmt.Sprintf("Sync interrupted: %v", err))
			break
		}
		s.process(ctx, op, effects, result)
	}

	s.recordLastSync(ctx)
	result.Success = result.FailedOperations == 0 && !interrupted

	s.logger.Info("sync finished", map[string]interface{}{
		"success": result.Success,
		"synced":  result.SyncedOperations,
		"failed":  result.FailedOperations,
	})
	return result
}

// process runs a single operation and folds the outcome into result.
func (s *Synchronizer) process(ctx context.Context, op models.PendingOperation, effects Effects, result *SyncResult) {
	ok, err := s.apply(ctx, op, effects)

	// The remote call has already happened; its bookkeeping must land even
	// if ctx was cancelled meanwhile.
	bctx := context.WithoutCancel(ctx)
	if ok {
		if err := s.queue.Remove(bctx, op.ID); err != nil {
			s.logger.Error("confirmed operation could not be dequeued", err, map[string]interface{}{"id": op.ID})
		}
		result.SyncedOperations++
		return
	}

	result.FailedOperations++
	fields := map[string]interface{}{"id": op.ID, "type": string(op.Type)}
	if err != nil {
		s.logger.Warn("remote effect failed: "+err.Error(), fields)
	} else {
		s.logger.Warn("remote effect rejected", fields)
	}

	retry, rerr := s.queue.IncrementRetry(bctx, op.ID)
	if rerr != nil {
		s.logger.Error("could not record retry", rerr, fields)
		result.Errors = append(result.Errors, fmt.Sprintf("Failed to record retry for %s: %v", op.ID, rerr))
		return
	}
	if !retry {
		result.Errors = append(result.Errors, exhaustedMessage(op, s.queue.MaxRetry()))
	}
}

// apply dispatches op to its remote effect. Unknown types and panics are
// reported as failures.
func (s *Synchronizer) apply(ctx context.Context, op models.PendingOperation, effects Effects) (ok bool, err error) {
	effect, found := effects[op.Type]
	if !found || effect == nil {
		return false, apperrors.Newf(apperrors.ErrUnknownOperation, "no remote effect for %q", op.Type)
	}

	defer func() {
		if r := recover(); r != nil {
			ok = false
			err = apperrors.Newf(apperrors.ErrRemoteRejected, "remote effect panicked: %v", r)
		}
	}()

	return effect.Apply(ctx, op)
}

func exhaustedMessage(op models.PendingOperation, maxRetry int) string {
	return fmt.Sprintf("Failed to %s for %d after %d attempts", describe(op.Type), op.SubjectID, maxRetry)
}

func describe(t models.OperationType) string {
	switch t {
	case models.OperationCancelBooking:
		return "cancel booking"
	case models.OperationUpdateBooking:
		return "update booking"
	default:
		return string(t)
	}
}

func (s *Synchronizer) recordLastSync(ctx context.Context) {
	data, err := json.Marshal(s.now().UnixMilli())
	if err != nil {
		return
	}
	// Recorded even for a cancelled run, so use a context that is still live.
	if err := s.store.Set(context.WithoutCancel(ctx), storage.KeyLastSync, data); err != nil {
		s.logger.Error("failed to record last sync time", err)
	}
}

// LastSyncTime returns when the last run finished. A missing or unreadable
// record reports false.
func (s *Synchronizer) LastSyncTime(ctx context.Context) (time.Time, bool) {
	return ReadLastSync(ctx, s.store)
}

// ReadLastSync reads the last sync time recorded in store.
func ReadLastSync(ctx context.Context, store storage.Store) (time.Time, bool) {
	data, ok, err := store.Get(ctx, storage.KeyLastSync)
	if err != nil || !ok {
		return time.Time{}, false
	}
	var ms int64
	if err := json.Unmarshal(data, &ms); err != nil || ms <= 0 {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}
