package db

import (
	"context"
	"math/rand"
	"strings"
	"time"

	"github.com/kimhsiao/ferrysync/backend/internal/logging"
)

// RetryPolicy bounds how often a KV write is retried when SQLite reports
// lock contention. MaxRetries counts retries after the first attempt.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultRetryPolicy is used when no policy is configured.
var DefaultRetryPolicy = RetryPolicy{
	MaxRetries: 3,
	BaseDelay:  20 * time.Millisecond,
	MaxDelay:   250 * time.Millisecond,
}

// normalized clamps negative counts and keeps MaxDelay >= BaseDelay.
func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	return p
}

// transientMarkers are the lock/contention fragments modernc.org/sqlite
// puts in its error messages.
var transientMarkers = []string{
	"SQLITE_BUSY",
	"SQLITE_LOCKED",
	"IOERR_SHORT_READ",
	"database is locked",
	"database table is locked",
	"(5)",   // SQLITE_BUSY
	"(6)",   // SQLITE_LOCKED
	"(522)", // SQLITE_IOERR_SHORT_READ
}

func isTransientSQLiteErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// retrier runs KV writes under a RetryPolicy.
type retrier struct {
	policy RetryPolicy
	logger *logging.Logger
}

func newRetrier(policy RetryPolicy) retrier {
	return retrier{policy: policy.normalized(), logger: logging.Component("db")}
}

// do runs fn until it succeeds, fails with a non-transient error, the
// policy is spent or ctx ends. op names the write in logs.
func (r retrier) do(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		if err = fn(); err == nil || !isTransientSQLiteErr(err) {
			return err
		}
		if attempt >= r.policy.MaxRetries {
			r.logger.Warn("store write gave up after lock contention", map[string]interface{}{
				"op":       op,
				"attempts": attempt + 1,
				"error":    err.Error(),
			})
			return err
		}

		delay := r.policy.backoff(attempt)
		r.logger.Debug("store busy, retrying write", map[string]interface{}{
			"op":      op,
			"attempt": attempt + 1,
			"delay":   delay.String(),
		})
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// backoff doubles BaseDelay per attempt up to MaxDelay and adds jitter in
// [0, BaseDelay).
func (p RetryPolicy) backoff(attempt int) time.Duration {
	delay := p.BaseDelay
	for i := 0; i < attempt && delay < p.MaxDelay; i++ {
		delay *= 2
	}
	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	if p.BaseDelay > 0 {
		delay += time.Duration(rand.Int63n(int64(p.BaseDelay)))
	}
	return delay
}
