package connectivity

import "fmt"

// Indicator returns the status line shown to the user: syncing, offline,
// the number of pending changes, or nothing when all is in order.
func Indicator(s State) string {
	switch {
	case s.IsSyncing:
		return "Syncing…"
	case !s.Online():
		return "Offline"
	case s.PendingOperationsCount == 1:
		return "1 pending change"
	case s.PendingOperationsCount > 1:
		return fmt.Sprintf("%d pending changes", s.PendingOperationsCount)
	default:
		return ""
	}
}
