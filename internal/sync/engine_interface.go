package sync

import (
	"context"
	"time"

	"github.com/kimhsiao/ferrysync/backend/internal/models"
)

// OperationQueue is the subset of the pending-operation queue the
// Synchronizer drives. *queue.Queue implements it.
type OperationQueue interface {
	List(ctx context.Context) ([]models.PendingOperation, error)
	Remove(ctx context.Context, id string) error
	IncrementRetry(ctx context.Context, id string) (bool, error)
	MaxRetry() int
}

// Runner is what callers such as the connectivity monitor need from a
// Synchronizer.
type Runner interface {
	Sync(ctx context.Context, effects Effects) *SyncResult
	InProgress() bool
	LastSyncTime(ctx context.Context) (time.Time, bool)
}

var _ Runner = (*Synchronizer)(nil)
