// Package models provides data model definitions for the ferrysync offline core.
package models

import (
	"fmt"
	"time"
)

// OperationType identifies the kind of mutating intent held in the pending queue.
type OperationType string

const (
	OperationCancelBooking OperationType = "cancel_booking"
	OperationUpdateBooking OperationType = "update_booking"
)

// Valid reports whether t is a known operation type.
func (t OperationType) Valid() bool {
	switch t {
	case OperationCancelBooking, OperationUpdateBooking:
		return true
	}
	return false
}

// PendingOperation is a queued, not yet confirmed write intent.
// RetryCount stays below the queue's max retry while the record is queued.
type PendingOperation struct {
	ID         string                 `json:"id"`
	Type       OperationType          `json:"type"`
	SubjectID  int64                  `json:"subjectId"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
	EnqueuedAt int64                  `json:"enqueuedAt"` // epoch ms
	RetryCount int                    `json:"retryCount"`
}

// OperationID builds the "{type}_{subjectId}_{enqueuedAt}" identifier.
func OperationID(t OperationType, subjectID int64, enqueuedAtMs int64) string {
	return fmt.Sprintf("%s_%d_%d", t, subjectID, enqueuedAtMs)
}

// EnqueuedAtTime returns EnqueuedAt as time.Time.
func (op PendingOperation) EnqueuedAtTime() time.Time {
	return time.UnixMilli(op.EnqueuedAt)
}
