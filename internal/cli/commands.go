package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/kimhsiao/ferrysync/backend/internal/connectivity"
	apperrors "github.com/kimhsiao/ferrysync/backend/internal/errors"
	"github.com/kimhsiao/ferrysync/backend/internal/models"
	syncpkg "github.com/kimhsiao/ferrysync/backend/internal/sync"
)

// errOffline is returned by sync when there is no usable connection.
var errOffline = errors.New("device is offline; pending changes kept")

// --- Status ---

type statusReport struct {
	Connected         bool       `json:"connected"`
	InternetReachable bool       `json:"internet_reachable"`
	ConnectionType    string     `json:"connection_type"`
	PendingOperations int        `json:"pending_operations"`
	LastSync          *time.Time `json:"last_sync,omitempty"`
	CacheAgeSeconds   *int64     `json:"cache_age_seconds,omitempty"`
	CacheStale        bool       `json:"cache_stale"`
	Indicator         string     `json:"indicator"`
}

// RunStatus prints connectivity, queue and cache state.
func RunStatus(ctx context.Context, a *App, out io.Writer) error {
	m := a.monitor(ctx)
	defer m.Stop()
	state := m.State()

	report := statusReport{
		Connected:         state.IsConnected,
		InternetReachable: state.IsInternetReachable,
		ConnectionType:    string(state.ConnectionType),
		PendingOperations: state.PendingOperationsCount,
		CacheStale:        a.Offline.IsCacheStale(ctx),
	}
	if !state.LastSyncTime.IsZero() {
		last := state.LastSyncTime
		report.LastSync = &last
	}
	age, hasAge := a.Offline.CacheAge(ctx)
	if hasAge {
		secs := int64(age / time.Second)
		report.CacheAgeSeconds = &secs
	}
	report.Indicator = connectivity.Indicator(state)

	if jsonOutput {
		return writeJSON(out, report)
	}

	network := errorStyle.Render("offline")
	switch {
	case state.Online():
		network = okStyle.Render("online")
	case state.IsConnected:
		network = warnStyle.Render("connected, no internet")
	}
	if state.ConnectionType != "" {
		network += mutedStyle.Render(" (" + string(state.ConnectionType) + ")")
	}

	cache := mutedStyle.Render("empty")
	if hasAge {
		cache = "updated " + relative(time.Now().Add(-age), true)
		if report.CacheStale {
			cache += " " + warnStyle.Render("(stale)")
		}
	}

	fmt.Fprintln(out, labelStyle.Render("Network")+network)
	fmt.Fprintln(out, labelStyle.Render("Pending")+strconv.Itoa(state.PendingOperationsCount))
	fmt.Fprintln(out, labelStyle.Render("Last sync")+relative(state.LastSyncTime, true))
	fmt.Fprintln(out, labelStyle.Render("Cache")+cache)
	fmt.Fprintln(out, renderIndicator(state))
	return nil
}

// --- Sync ---

// RunSync replays the queue once when the device is online.
func RunSync(ctx context.Context, a *App, out io.Writer) error {
	m := a.monitor(ctx)
	defer m.Stop()

	if !m.State().Online() {
		return errOffline
	}
	result := m.SyncNow(ctx)
	if result == nil {
		return apperrors.New(apperrors.ErrSyncInProgress, syncpkg.ErrSyncInProgressMessage)
	}

	if jsonOutput {
		if err := writeJSON(out, result); err != nil {
			return err
		}
	} else {
		printSyncResult(out, result)
	}
	if !result.Success {
		return apperrors.Newf(apperrors.ErrSyncFailed, "sync incomplete: %d synced, %d failed",
			result.SyncedOperations, result.FailedOperations)
	}
	return nil
}

func printSyncResult(out io.Writer, r *syncpkg.SyncResult) {
	if r.Success {
		fmt.Fprintf(out, "%s %d synced in %s\n", okStyle.Render("✓"), r.SyncedOperations, r.Duration.Round(time.Millisecond))
	} else {
		fmt.Fprintf(out, "%s %d synced, %d failed\n", errorStyle.Render("✗"), r.SyncedOperations, r.FailedOperations)
	}
	for _, e := range r.Errors {
		fmt.Fprintln(out, "  "+warnStyle.Render(e))
	}
}

// --- Queue ---

// RunQueueList prints pending operations in replay order.
func RunQueueList(ctx context.Context, a *App, out io.Writer) error {
	ops, err := a.Offline.PendingOperations(ctx)
	if err != nil {
		return err
	}
	if jsonOutput {
		return writeJSON(out, ops)
	}
	if len(ops) == 0 {
		fmt.Fprintln(out, mutedStyle.Render("No pending operations"))
		return nil
	}

	t := newTable("ID", "TYPE", "BOOKING", "QUEUED", "RETRIES", "PAYLOAD")
	for _, op := range ops {
		t.Row(
			op.ID,
			string(op.Type),
			strconv.FormatInt(op.SubjectID, 10),
			relative(op.EnqueuedAtTime(), true),
			fmt.Sprintf("%d/%d", op.RetryCount, a.Offline.Queue().MaxRetry()),
			formatPayload(op.Payload),
		)
	}
	fmt.Fprintln(out, t.String())
	return nil
}

// RunQueueCancel queues a cancellation for bookingID.
func RunQueueCancel(ctx context.Context, a *App, out io.Writer, bookingID int64) error {
	op, err := a.Offline.CancelBookingOffline(ctx, bookingID)
	if err != nil {
		return err
	}
	return printQueued(ctx, a, out, op)
}

// RunQueueUpdate queues a partial update for bookingID.
func RunQueueUpdate(ctx context.Context, a *App, out io.Writer, bookingID int64, changes map[string]interface{}) error {
	op, err := a.Offline.UpdateBookingOffline(ctx, bookingID, changes)
	if err != nil {
		return err
	}
	return printQueued(ctx, a, out, op)
}

func printQueued(ctx context.Context, a *App, out io.Writer, op *models.PendingOperation) error {
	if jsonOutput {
		return writeJSON(out, op)
	}
	n, err := a.Offline.PendingCount(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s queued %s for booking %d %s\n",
		okStyle.Render("✓"), op.Type, op.SubjectID, mutedStyle.Render("("+op.ID+")"))
	fmt.Fprintf(out, "  %d pending in total; run 'ferrysync sync' when online\n", n)
	return nil
}

// RunQueueClear drops every pending operation.
func RunQueueClear(ctx context.Context, a *App, out io.Writer) error {
	n, err := a.Offline.PendingCount(ctx)
	if err != nil {
		return err
	}
	if err := a.Offline.Queue().Clear(ctx); err != nil {
		return err
	}
	fmt.Fprintf(out, "Removed %d pending operations\n", n)
	return nil
}

// --- Cache ---

type cacheReport struct {
	Bookings        []models.Booking    `json:"bookings"`
	User            *models.UserProfile `json:"user,omitempty"`
	CacheAgeSeconds *int64              `json:"cache_age_seconds,omitempty"`
	Stale           bool                `json:"stale"`
}

// RunCacheShow prints the cached bookings and profile.
func RunCacheShow(ctx context.Context, a *App, out io.Writer) error {
	bookings, _ := a.Offline.CachedBookings(ctx)
	user, hasUser := a.Offline.CachedUser(ctx)
	age, hasAge := a.Offline.CacheAge(ctx)

	if jsonOutput {
		report := cacheReport{Bookings: bookings, Stale: a.Offline.IsCacheStale(ctx)}
		if report.Bookings == nil {
			report.Bookings = []models.Booking{}
		}
		if hasUser {
			report.User = &user
		}
		if hasAge {
			secs := int64(age / time.Second)
			report.CacheAgeSeconds = &secs
		}
		return writeJSON(out, report)
	}

	if hasUser {
		name := strings.TrimSpace(user.FirstName + " " + user.LastName)
		if name == "" {
			name = user.Email
		}
		fmt.Fprintln(out, labelStyle.Render("User")+name+mutedStyle.Render(" <"+user.Email+">"))
	}
	if hasAge {
		fmt.Fprintln(out, labelStyle.Render("Cached")+relative(time.Now().Add(-age), true))
	}
	if len(bookings) == 0 {
		fmt.Fprintln(out, mutedStyle.Render("No cached bookings"))
		return nil
	}

	t := newTable("ID", "REFERENCE", "STATUS", "ROUTE", "DEPARTURE", "PAX", "VEH")
	for _, b := range bookings {
		t.Row(
			strconv.FormatInt(b.ID, 10),
			b.Reference,
			bookingStatusStyle(b.Status).Render(string(b.Status)),
			b.Route,
			b.DepartureTime,
			strconv.Itoa(b.Passengers),
			strconv.Itoa(b.Vehicles),
		)
	}
	fmt.Fprintln(out, t.String())
	return nil
}

// RunCacheClear removes all offline data.
func RunCacheClear(ctx context.Context, a *App, out io.Writer) error {
	if err := a.Offline.ClearAll(ctx); err != nil {
		return err
	}
	fmt.Fprintln(out, "Offline data cleared")
	return nil
}

// --- Helpers ---

func parseBookingID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperrors.Newf(apperrors.ErrInvalid, "invalid booking id %q", s)
	}
	return id, nil
}

// parseChanges turns "field=value" arguments into an update payload.
// Integer values are sent as numbers, everything else as strings.
func parseChanges(args []string) (map[string]interface{}, error) {
	changes := make(map[string]interface{}, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, apperrors.Newf(apperrors.ErrInvalid, "expected field=value, got %q", arg)
		}
		value = strings.TrimSpace(value)
		if n, err := strconv.Atoi(value); err == nil {
			changes[key] = n
			continue
		}
		changes[key] = value
	}
	return changes, nil
}

func formatPayload(payload map[string]interface{}) string {
	if len(payload) == 0 {
		return ""
	}
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, payload[k]))
	}
	return strings.Join(parts, " ")
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
