// Package queue persists not-yet-confirmed write intents (cancellations,
// booking updates) so they survive restarts and can be replayed once the
// backend is reachable.
//
// The whole queue lives under a single store key as a JSON array. It is
// expected to stay small, so every mutation reads the list, changes it and
// writes it back.
package queue

import (
	"context"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	apperrors "github.com/kimhsiao/ferrysync/backend/internal/errors"
	"github.com/kimhsiao/ferrysync/backend/internal/logging"
	"github.com/kimhsiao/ferrysync/backend/internal/models"
	"github.com/kimhsiao/ferrysync/backend/internal/storage"
)

// DefaultMaxRetry is the number of failed attempts after which an operation
// is dropped.
const DefaultMaxRetry = 3

// OptimisticHook applies the local side effect of a freshly queued
// operation, e.g. marking a cached booking as pending cancellation.
type OptimisticHook func(ctx context.Context, op models.PendingOperation) error

// Queue is the durable pending-operation queue.
type Queue struct {
	store    storage.Store
	key      string
	maxRetry int
	maxSize  int
	now      func() time.Time
	hooks    map[models.OperationType]OptimisticHook
	logger   *logging.Logger

	// mu serializes read-modify-write cycles on the store key.
	mu sync.Mutex
}

// Option configures a Queue.
type Option func(*Queue)

// WithMaxRetry overrides DefaultMaxRetry. Values below 1 are ignored.
func WithMaxRetry(n int) Option {
	return func(q *Queue) {
		if n >= 1 {
			q.maxRetry = n
		}
	}
}

// WithMaxSize caps the number of queued operations. Zero means unbounded.
func WithMaxSize(n int) Option {
	return func(q *Queue) {
		if n >= 0 {
			q.maxSize = n
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		if now != nil {
			q.now = now
		}
	}
}

// WithOptimisticHook registers the local side effect run after an operation
// of type t is queued.
func WithOptimisticHook(t models.OperationType, hook OptimisticHook) Option {
	return func(q *Queue) {
		q.hooks[t] = hook
	}
}

// New creates a Queue persisted under storage.KeyPendingOperations.
func New(store storage.Store, opts ...Option) *Queue {
	q := &Queue{
		store:    store,
		key:      storage.KeyPendingOperations,
		maxRetry: DefaultMaxRetry,
		now:      time.Now,
		hooks:    make(map[models.OperationType]OptimisticHook),
		logger:   logging.Component("queue"),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// MaxRetry returns the configured retry limit.
func (q *Queue) MaxRetry() int {
	return q.maxRetry
}

// Enqueue appends a new operation and then runs the optimistic hook for its
// type. A failing hook is logged; the queued record is kept because it is
// the durable source of truth.
func (q *Queue) Enqueue(ctx context.Context, t models.OperationType, subjectID int64, payload map[string]interface{}) (*models.PendingOperation, error) {
	if !t.Valid() {
		return nil, apperrors.Newf(apperrors.ErrUnknownOperation, "cannot queue operation type %q", t)
	}

	q.mu.Lock()
	ops, err := q.load(ctx)
	if err != nil {
		q.mu.Unlock()
		return nil, err
	}
	if q.maxSize > 0 && len(ops) >= q.maxSize {
		q.mu.Unlock()
		return nil, apperrors.Newf(apperrors.ErrQueueFull, "queue is full (max size: %d)", q.maxSize)
	}

	// Ids derive from the enqueue millisecond; step forward until unused.
	now := q.now().UnixMilli()
	for indexOf(ops, models.OperationID(t, subjectID, now)) >= 0 {
		now++
	}
	op := models.PendingOperation{
		ID:         models.OperationID(t, subjectID, now),
		Type:       t,
		SubjectID:  subjectID,
		Payload:    payload,
		EnqueuedAt: now,
	}
	ops = append(ops, op)
	if err := q.save(ctx, ops); err != nil {
		q.mu.Unlock()
		return nil, err
	}
	q.mu.Unlock()

	q.logger.Info("queued pending operation", map[string]interface{}{
		"id":         op.ID,
		"type":       string(op.Type),
		"subject_id": op.SubjectID,
		"queued":     len(ops),
	})

	if hook, ok := q.hooks[t]; ok {
		if err := hook(ctx, op); err != nil {
			q.logger.Error("optimistic update failed", err, map[string]interface{}{"id": op.ID})
		}
	}

	return &op, nil
}

// List returns all queued operations in insertion order.
func (q *Queue) List(ctx context.Context) ([]models.PendingOperation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.load(ctx)
}

// Count returns the number of queued operations.
func (q *Queue) Count(ctx context.Context) (int, error) {
	ops, err := q.List(ctx)
	if err != nil {
		return 0, err
	}
	return len(ops), nil
}

// Get returns the queued operation with the given id.
func (q *Queue) Get(ctx context.Context, id string) (*models.PendingOperation, error) {
	ops, err := q.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range ops {
		if ops[i].ID == id {
			op := ops[i]
			return &op, nil
		}
	}
	return nil, apperrors.Newf(apperrors.ErrOperationNotFound, "operation %s not found", id)
}

// Remove drops the operation with the given id. Removing an unknown id is a no-op.
func (q *Queue) Remove(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	ops, err := q.load(ctx)
	if err != nil {
		return err
	}
	kept := ops[:0]
	for _, op := range ops {
		if op.ID != id {
			kept = append(kept, op)
		}
	}
	if len(kept) == len(ops) {
		return nil
	}
	return q.save(ctx, kept)
}

// IncrementRetry records a failed attempt. It returns false, removing the
// operation, when the id is unknown or the new count would reach the retry
// limit; this is the only path that drops an operation after failures.
func (q *Queue) IncrementRetry(ctx context.Context, id string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	ops, err := q.load(ctx)
	if err != nil {
		return false, err
	}

	idx := indexOf(ops, id)
	if idx < 0 {
		return false, nil
	}

	if ops[idx].RetryCount+1 >= q.maxRetry {
		dropped := ops[idx]
		ops = append(ops[:idx], ops[idx+1:]...)
		if err := q.save(ctx, ops); err != nil {
			return false, err
		}
		q.logger.Warn("pending operation exhausted its retries", map[string]interface{}{
			"id":          dropped.ID,
			"type":        string(dropped.Type),
			"retry_count": dropped.RetryCount + 1,
			"max_retry":   q.maxRetry,
		})
		return false, nil
	}

	ops[idx].RetryCount++
	if err := q.save(ctx, ops); err != nil {
		return false, err
	}
	q.logger.Info("pending operation will be retried", map[string]interface{}{
		"id":          ops[idx].ID,
		"retry_count": ops[idx].RetryCount,
		"max_retry":   q.maxRetry,
	})
	return true, nil
}

// Clear removes the whole queue.
func (q *Queue) Clear(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.store.Remove(ctx, q.key); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "clear pending operations", err)
	}
	q.logger.Info("pending operation queue cleared")
	return nil
}

// Stats returns the number of queued operations per type.
func (q *Queue) Stats(ctx context.Context) (map[models.OperationType]int, error) {
	ops, err := q.List(ctx)
	if err != nil {
		return nil, err
	}
	stats := make(map[models.OperationType]int)
	for _, op := range ops {
		stats[op.Type]++
	}
	return stats, nil
}

// load reads the queue. Storage errors propagate: treating them as an empty
// queue would let the next save overwrite queued intents.
func (q *Queue) load(ctx context.Context) ([]models.PendingOperation, error) {
	data, ok, err := q.store.Get(ctx, q.key)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "read pending operations", err)
	}
	if !ok || len(data) == 0 {
		return []models.PendingOperation{}, nil
	}
	var ops []models.PendingOperation
	if err := json.Unmarshal(data, &ops); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrSerialization, "decode pending operations", err)
	}
	if ops == nil {
		ops = []models.PendingOperation{}
	}
	return ops, nil
}

func (q *Queue) save(ctx context.Context, ops []models.PendingOperation) error {
	data, err := json.Marshal(ops)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrSerialization, "encode pending operations", err)
	}
	if err := q.store.Set(ctx, q.key, data); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "write pending operations", err)
	}
	return nil
}

func indexOf(ops []models.PendingOperation, id string) int {
	for i := range ops {
		if ops[i].ID == id {
			return i
		}
	}
	return -1
}
