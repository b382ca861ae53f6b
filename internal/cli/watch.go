package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/kimhsiao/ferrysync/backend/internal/availability"
	"github.com/kimhsiao/ferrysync/backend/internal/connectivity"
	"github.com/kimhsiao/ferrysync/backend/internal/logging"
	"github.com/kimhsiao/ferrysync/backend/internal/models"
	"github.com/kimhsiao/ferrysync/backend/internal/push"
)

// lockedWriter serializes writes coming from push callbacks.
type lockedWriter struct {
	mu  sync.Mutex
	out io.Writer
}

func (w *lockedWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.out.Write(p)
}

// RunWatch seeds an availability board from a search, then follows push
// updates for route until ctx is cancelled. For the whole session a
// connectivity monitor replays queued changes whenever the network comes
// back, and the status indicator is printed each time it changes.
func RunWatch(ctx context.Context, a *App, out io.Writer, route, date string) error {
	logger := logging.Component("watch")
	w := &lockedWriter{out: out}

	indicator := &indicatorReporter{out: w}
	m := a.watchMonitor(ctx, indicator.report)
	defer m.Stop()

	board := availability.NewBoard()
	results, err := a.API.SearchFerries(ctx, route, date)
	if err != nil {
		logger.Warn("initial search failed, starting with an empty board", map[string]interface{}{
			"route": route,
			"error": err.Error(),
		})
	} else {
		board.Load(results)
		fmt.Fprintf(w, "%s %d outbound, %d return sailings\n",
			headingStyle.Render(route), len(results.Outbound), len(results.Return))
	}

	client := push.NewClient(push.Config{
		URL:                  a.Config.PushURL,
		HeartbeatInterval:    a.Config.HeartbeatInterval,
		ReconnectDelay:       a.Config.ReconnectDelay,
		MaxReconnectAttempts: a.Config.MaxReconnectAttempts,
		OnUpdate: func(u models.AvailabilityUpdate) {
			if err := board.Apply(u); err != nil {
				return
			}
			fmt.Fprintln(w, formatUpdate(u, board.Snapshot(), time.Now()))
		},
		OnStateChange: func(s push.State) {
			fmt.Fprintln(w, mutedStyle.Render("push: "+string(s)))
		},
	})
	if err := client.Subscribe(route); err != nil {
		return err
	}
	// A failed dial is retried by the client on its own schedule.
	if err := client.Connect(ctx); err != nil {
		fmt.Fprintln(w, warnStyle.Render("push: "+err.Error()))
	}
	defer client.Disconnect()

	lifecycle := make(chan struct{})
	go func() {
		defer close(lifecycle)
		followLifecycle(ctx, client, foregroundEvents(ctx), suspend)
	}()

	<-ctx.Done()
	<-lifecycle
	fmt.Fprintf(w, "%d updates applied\n", board.Applied())
	return nil
}

// followLifecycle applies foreground changes from events to the push client
// until ctx ends or events is closed. afterBackground runs once the socket
// has been released.
func followLifecycle(ctx context.Context, client *push.Client, events <-chan bool, afterBackground func()) {
	logger := logging.Component("watch")
	for {
		select {
		case <-ctx.Done():
			return
		case foreground, ok := <-events:
			if !ok {
				return
			}
			logger.Debug("lifecycle change", map[string]interface{}{"foreground": foreground})
			if err := client.SetForeground(ctx, foreground); err != nil {
				logger.Warn("push channel did not resume", map[string]interface{}{"error": err.Error()})
			}
			if !foreground && afterBackground != nil {
				afterBackground()
			}
		}
	}
}

// indicatorReporter prints the status indicator whenever its text changes.
type indicatorReporter struct {
	mu   sync.Mutex
	out  io.Writer
	last string
}

func (r *indicatorReporter) report(s connectivity.State) {
	line := renderIndicator(s)
	if s.SyncError != "" && !s.IsSyncing {
		line += " " + warnStyle.Render(s.SyncError)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if line == r.last {
		return
	}
	r.last = line
	fmt.Fprintln(r.out, line)
}

// formatUpdate renders one applied update with the resulting capacity of
// the sailing it touched.
func formatUpdate(u models.AvailabilityUpdate, results models.SearchResults, now time.Time) string {
	line := fmt.Sprintf("%s %s %s", mutedStyle.Render(now.Format("15:04:05")), accentStyle.Render(u.FerryID), u.Route)
	if u.Source != "" {
		line += mutedStyle.Render(" [" + string(u.Source) + "]")
	}
	sailing, ok := findSailing(results, u.FerryID)
	if !ok {
		return line + " " + mutedStyle.Render("(not on board)")
	}
	return line + fmt.Sprintf(" seats %s vehicles %s cabins %s",
		capacity(sailing.AvailableCapacity),
		capacity(sailing.AvailableVehicleSpace),
		capacity(sailing.AvailableCabins))
}

func findSailing(results models.SearchResults, ferryID string) (models.FerrySchedule, bool) {
	for _, leg := range [][]models.FerrySchedule{results.Outbound, results.Return} {
		for _, f := range leg {
			if f.SailingID != "" && f.SailingID == ferryID {
				return f, true
			}
		}
		for _, f := range leg {
			if f.ID == ferryID {
				return f, true
			}
		}
	}
	return models.FerrySchedule{}, false
}

func capacity(v *int) string {
	if v == nil {
		return "-"
	}
	if *v == 0 {
		return errorStyle.Render("0")
	}
	return strconv.Itoa(*v)
}
