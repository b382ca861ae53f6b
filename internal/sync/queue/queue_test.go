// Package queue tests for the persisted pending-operation queue.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/kimhsiao/ferrysync/backend/internal/errors"
	"github.com/kimhsiao/ferrysync/backend/internal/models"
	"github.com/kimhsiao/ferrysync/backend/internal/storage"
)

type stepClock struct{ t time.Time }

// Now advances one millisecond per call so generated ids stay unique.
func (c *stepClock) Now() time.Time {
	c.t = c.t.Add(time.Millisecond)
	return c.t
}

type brokenStore struct {
	*storage.MemoryStore
	failGet bool
}

func (b *brokenStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if b.failGet {
		return nil, false, errors.New("io error")
	}
	return b.MemoryStore.Get(ctx, key)
}

func newTestQueue(t *testing.T, opts ...Option) (*Queue, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	clock := &stepClock{t: time.UnixMilli(1_700_000_000_000)}
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return New(store, opts...), store
}

// TestEnqueue verifies identity, fields and persistence of a new operation.
func TestEnqueue(t *testing.T) {
	ctx := context.Background()
	q, store := newTestQueue(t)

	op, err := q.Enqueue(ctx, models.OperationCancelBooking, 42, nil)
	require.NoError(t, err)
	require.NotNil(t, op)

	assert.Equal(t, "cancel_booking_42_1700000000001", op.ID)
	assert.Equal(t, models.OperationCancelBooking, op.Type)
	assert.EqualValues(t, 42, op.SubjectID)
	assert.EqualValues(t, 1_700_000_000_001, op.EnqueuedAt)
	assert.Zero(t, op.RetryCount)

	raw, ok, err := store.Get(ctx, storage.KeyPendingOperations)
	require.NoError(t, err)
	require.True(t, ok)
	var persisted []models.PendingOperation
	require.NoError(t, json.Unmarshal(raw, &persisted))
	require.Len(t, persisted, 1)
	assert.Equal(t, *op, persisted[0])
}

// TestEnqueue_preservesOrder verifies List returns insertion order.
func TestEnqueue_preservesOrder(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	_, err := q.Enqueue(ctx, models.OperationCancelBooking, 1, nil)
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, models.OperationUpdateBooking, 2, map[string]interface{}{"passengers": 3})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, models.OperationCancelBooking, 3, nil)
	require.NoError(t, err)

	ops, err := q.List(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 3)
	assert.EqualValues(t, []int64{1, 2, 3}, []int64{ops[0].SubjectID, ops[1].SubjectID, ops[2].SubjectID})
	assert.EqualValues(t, 3, ops[1].Payload["passengers"])

	count, err := q.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

// TestEnqueue_unknownType verifies unknown operation types are rejected.
func TestEnqueue_unknownType(t *testing.T) {
	q, _ := newTestQueue(t)

	_, err := q.Enqueue(context.Background(), models.OperationType("refund"), 1, nil)
	assert.True(t, apperrors.Is(err, apperrors.ErrUnknownOperation))
}

// TestEnqueue_sameMillisecond verifies operations queued within one clock
// tick for the same booking still get distinct ids.
func TestEnqueue_sameMillisecond(t *testing.T) {
	ctx := context.Background()
	fixed := time.UnixMilli(1_700_000_000_000)
	q := New(storage.NewMemoryStore(), WithClock(func() time.Time { return fixed }))

	first, err := q.Enqueue(ctx, models.OperationUpdateBooking, 5, map[string]interface{}{"passengers": 2})
	require.NoError(t, err)
	second, err := q.Enqueue(ctx, models.OperationUpdateBooking, 5, map[string]interface{}{"vehicles": 1})
	require.NoError(t, err)
	third, err := q.Enqueue(ctx, models.OperationUpdateBooking, 5, nil)
	require.NoError(t, err)

	assert.Equal(t, "update_booking_5_1700000000000", first.ID)
	assert.Equal(t, "update_booking_5_1700000000001", second.ID)
	assert.Equal(t, "update_booking_5_1700000000002", third.ID)
	assert.EqualValues(t, 1_700_000_000_001, second.EnqueuedAt)

	// Retries land on the record they name.
	retry, err := q.IncrementRetry(ctx, second.ID)
	require.NoError(t, err)
	assert.True(t, retry)

	got, err := q.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Zero(t, got.RetryCount)
	got, err = q.Get(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.RetryCount)

	// A different type for the same subject does not need to step.
	cancel, err := q.Enqueue(ctx, models.OperationCancelBooking, 5, nil)
	require.NoError(t, err)
	assert.Equal(t, "cancel_booking_5_1700000000000", cancel.ID)
}

// TestEnqueue_full verifies the size cap.
func TestEnqueue_full(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t, WithMaxSize(2))

	_, err := q.Enqueue(ctx, models.OperationCancelBooking, 1, nil)
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, models.OperationCancelBooking, 2, nil)
	require.NoError(t, err)

	_, err = q.Enqueue(ctx, models.OperationCancelBooking, 3, nil)
	assert.True(t, apperrors.Is(err, apperrors.ErrQueueFull))

	count, err := q.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

// TestEnqueue_runsOptimisticHook verifies the hook sees the persisted operation.
func TestEnqueue_runsOptimisticHook(t *testing.T) {
	ctx := context.Background()
	var seen []models.PendingOperation
	var q *Queue
	q, _ = newTestQueue(t, WithOptimisticHook(models.OperationCancelBooking, func(ctx context.Context, op models.PendingOperation) error {
		ops, err := q.List(ctx)
		require.NoError(t, err)
		require.Len(t, ops, 1)
		seen = append(seen, op)
		return nil
	}))

	op, err := q.Enqueue(ctx, models.OperationCancelBooking, 9, nil)
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, models.OperationUpdateBooking, 9, nil)
	require.NoError(t, err)

	require.Len(t, seen, 1)
	assert.Equal(t, op.ID, seen[0].ID)
}

// TestEnqueue_hookFailureKeepsOperation verifies a failing hook does not
// undo the queued record.
func TestEnqueue_hookFailureKeepsOperation(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t, WithOptimisticHook(models.OperationCancelBooking, func(context.Context, models.PendingOperation) error {
		return errors.New("booking not cached")
	}))

	op, err := q.Enqueue(ctx, models.OperationCancelBooking, 5, nil)
	require.NoError(t, err)

	got, err := q.Get(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, op.ID, got.ID)
}

// TestRemove verifies removal and that unknown ids are a no-op.
func TestRemove(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	a, err := q.Enqueue(ctx, models.OperationCancelBooking, 1, nil)
	require.NoError(t, err)
	b, err := q.Enqueue(ctx, models.OperationCancelBooking, 2, nil)
	require.NoError(t, err)

	require.NoError(t, q.Remove(ctx, a.ID))
	require.NoError(t, q.Remove(ctx, "missing"))

	ops, err := q.List(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, b.ID, ops[0].ID)

	_, err = q.Get(ctx, a.ID)
	assert.True(t, apperrors.Is(err, apperrors.ErrOperationNotFound))
}

// TestIncrementRetry verifies the retry limit drops the operation on the
// third failure with the default limit.
func TestIncrementRetry(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)
	require.Equal(t, DefaultMaxRetry, q.MaxRetry())

	op, err := q.Enqueue(ctx, models.OperationCancelBooking, 1, nil)
	require.NoError(t, err)

	retry, err := q.IncrementRetry(ctx, op.ID)
	require.NoError(t, err)
	assert.True(t, retry)
	got, err := q.Get(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.RetryCount)

	retry, err = q.IncrementRetry(ctx, op.ID)
	require.NoError(t, err)
	assert.True(t, retry)

	retry, err = q.IncrementRetry(ctx, op.ID)
	require.NoError(t, err)
	assert.False(t, retry)

	count, err := q.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

// TestIncrementRetry_unknownID verifies unknown ids report no retry.
func TestIncrementRetry_unknownID(t *testing.T) {
	q, _ := newTestQueue(t)

	retry, err := q.IncrementRetry(context.Background(), "cancel_booking_1_1")
	require.NoError(t, err)
	assert.False(t, retry)
}

// TestIncrementRetry_customLimit verifies WithMaxRetry.
func TestIncrementRetry_customLimit(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t, WithMaxRetry(1))

	op, err := q.Enqueue(ctx, models.OperationUpdateBooking, 1, nil)
	require.NoError(t, err)

	retry, err := q.IncrementRetry(ctx, op.ID)
	require.NoError(t, err)
	assert.False(t, retry)
}

// TestClear verifies the store key is removed.
func TestClear(t *testing.T) {
	ctx := context.Background()
	q, store := newTestQueue(t)

	_, err := q.Enqueue(ctx, models.OperationCancelBooking, 1, nil)
	require.NoError(t, err)
	require.NoError(t, q.Clear(ctx))

	_, ok, err := store.Get(ctx, storage.KeyPendingOperations)
	require.NoError(t, err)
	assert.False(t, ok)

	ops, err := q.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, ops)
}

// TestStats verifies per-type counts.
func TestStats(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	for i := int64(1); i <= 3; i++ {
		_, err := q.Enqueue(ctx, models.OperationCancelBooking, i, nil)
		require.NoError(t, err)
	}
	_, err := q.Enqueue(ctx, models.OperationUpdateBooking, 4, nil)
	require.NoError(t, err)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats[models.OperationCancelBooking])
	assert.Equal(t, 1, stats[models.OperationUpdateBooking])
}

// TestLoad_errorsPropagate verifies a read failure is not mistaken for an
// empty queue.
func TestLoad_errorsPropagate(t *testing.T) {
	ctx := context.Background()
	store := &brokenStore{MemoryStore: storage.NewMemoryStore()}
	q := New(store)

	_, err := q.Enqueue(ctx, models.OperationCancelBooking, 1, nil)
	require.NoError(t, err)

	store.failGet = true
	_, err = q.Enqueue(ctx, models.OperationCancelBooking, 2, nil)
	assert.True(t, apperrors.Is(err, apperrors.ErrStorage))

	store.failGet = false
	count, err := q.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

// TestLoad_corruptData verifies undecodable data is reported.
func TestLoad_corruptData(t *testing.T) {
	ctx := context.Background()
	q, store := newTestQueue(t)
	require.NoError(t, store.Set(ctx, storage.KeyPendingOperations, []byte("{not json")))

	_, err := q.List(ctx)
	assert.True(t, apperrors.Is(err, apperrors.ErrSerialization))
}
