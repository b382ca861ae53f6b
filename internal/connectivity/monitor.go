// Package connectivity tracks network reachability and drains the offline
// queue when the device comes back online.
package connectivity

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/kimhsiao/ferrysync/backend/internal/logging"
	syncpkg "github.com/kimhsiao/ferrysync/backend/internal/sync"
)

// ConnectionType names the active network medium.
type ConnectionType string

const (
	ConnectionNone     ConnectionType = "none"
	ConnectionWiFi     ConnectionType = "wifi"
	ConnectionCellular ConnectionType = "cellular"
	ConnectionEthernet ConnectionType = "ethernet"
	ConnectionOther    ConnectionType = "other"
	ConnectionUnknown  ConnectionType = "unknown"
)

// Status is one observation from a network-status source.
type Status struct {
	Connected         bool
	InternetReachable bool
	Type              ConnectionType
}

// Online reports whether the backend can be reached.
func (s Status) Online() bool {
	return s.Connected && s.InternetReachable
}

// Source reports network status transitions. Subscribe returns a function
// that stops delivery.
type Source interface {
	Subscribe(fn func(Status)) (unsubscribe func())
}

// PendingCounter reports the number of queued operations.
type PendingCounter interface {
	Count(ctx context.Context) (int, error)
}

// State is the monitor's view exposed to the UI.
type State struct {
	IsConnected            bool
	IsInternetReachable    bool
	ConnectionType         ConnectionType
	PendingOperationsCount int
	LastSyncTime           time.Time
	SyncError              string
	IsSyncing              bool
}

// Online reports whether the state allows a sync.
func (s State) Online() bool {
	return s.IsConnected && s.IsInternetReachable
}

// Monitor owns the connectivity state for the process.
type Monitor struct {
	source  Source
	runner  syncpkg.Runner
	effects syncpkg.Effects
	pending PendingCounter
	logger  *logging.Logger

	mu          sync.RWMutex
	state       State
	wasOffline  bool
	listeners   []func(State)
	unsubscribe func()
	cancel      context.CancelFunc
	ctx         context.Context
	running     bool

	wg sync.WaitGroup
}

// NewMonitor creates a Monitor. Effects are passed to every sync run.
func NewMonitor(source Source, runner syncpkg.Runner, pending PendingCounter, effects syncpkg.Effects) *Monitor {
	return &Monitor{
		source:  source,
		runner:  runner,
		effects: effects,
		pending: pending,
		logger:  logging.Component("connectivity"),
		state:   State{ConnectionType: ConnectionUnknown},
	}
}

// OnChange registers a listener called after every state change.
func (m *Monitor) OnChange(fn func(State)) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

// Start subscribes to the source and loads the initial pending count and
// last sync time. Calling Start twice has no effect.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.mu.Unlock()

	if last, ok := m.runner.LastSyncTime(ctx); ok {
		m.mu.Lock()
		m.state.LastSyncTime = last
		m.mu.Unlock()
	}
	m.RefreshPendingCount(ctx)

	unsubscribe := m.source.Subscribe(m.handle)
	m.mu.Lock()
	m.unsubscribe = unsubscribe
	m.mu.Unlock()

	m.logger.Info("connectivity monitor started")
}

// Stop unsubscribes from the source and waits for any automatic sync to
// finish.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	unsubscribe := m.unsubscribe
	m.unsubscribe = nil
	cancel := m.cancel
	m.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	cancel()
	m.wg.Wait()

	m.logger.Info("connectivity monitor stopped")
}

// State returns a snapshot of the current state.
func (m *Monitor) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// handle applies a status transition and starts one sync when the device
// just came back online.
func (m *Monitor) handle(status Status) {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	wasOffline := m.wasOffline
	m.wasOffline = !status.Online()
	m.state.IsConnected = status.Connected
	m.state.IsInternetReachable = status.InternetReachable
	m.state.ConnectionType = status.Type
	ctx := m.ctx
	autoSync := wasOffline && status.Online()
	if autoSync {
		m.wg.Add(1)
	}
	m.mu.Unlock()

	m.logger.Info("network status changed", map[string]interface{}{
		"connected":          status.Connected,
		"internet_reachable": status.InternetReachable,
		"type":               string(status.Type),
	})
	m.notify()

	if autoSync {
		go func() {
			defer m.wg.Done()
			m.logger.Info("back online, syncing pending operations")
			m.SyncNow(ctx)
		}()
	}
}

// SyncNow runs the synchronizer once. It returns nil without doing anything
// while offline or while a run is already active.
func (m *Monitor) SyncNow(ctx context.Context) *syncpkg.SyncResult {
	m.mu.Lock()
	if !m.state.Online() || m.state.IsSyncing || m.runner.InProgress() {
		m.mu.Unlock()
		return nil
	}
	m.state.IsSyncing = true
	m.mu.Unlock()
	m.notify()

	result := m.runner.Sync(ctx, m.effects)

	last, hasLast := m.runner.LastSyncTime(ctx)
	m.mu.Lock()
	m.state.IsSyncing = false
	if rejected(result) {
		result = nil
	} else if result.Success {
		m.state.SyncError = ""
	} else {
		m.state.SyncError = strings.Join(result.Errors, "; ")
		if m.state.SyncError == "" {
			m.state.SyncError = "Some operations failed to sync"
		}
	}
	if hasLast {
		m.state.LastSyncTime = last
	}
	m.mu.Unlock()

	m.RefreshPendingCount(ctx)
	return result
}

// rejected reports a run refused by the synchronizer's single-flight guard.
func rejected(r *syncpkg.SyncResult) bool {
	return r != nil && !r.Success && r.SyncedOperations == 0 && r.FailedOperations == 0 &&
		len(r.Errors) == 1 && r.Errors[0] == syncpkg.ErrSyncInProgressMessage
}

// RefreshPendingCount reloads the queued operation count.
func (m *Monitor) RefreshPendingCount(ctx context.Context) {
	n, err := m.pending.Count(ctx)
	if err != nil {
		m.logger.Error("failed to count pending operations", err)
		return
	}
	m.mu.Lock()
	m.state.PendingOperationsCount = n
	m.mu.Unlock()
	m.notify()
}

func (m *Monitor) notify() {
	m.mu.RLock()
	state := m.state
	listeners := make([]func(State), len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.RUnlock()

	for _, fn := range listeners {
		fn(state)
	}
}
