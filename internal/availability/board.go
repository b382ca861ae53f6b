package availability

import (
	"sync"

	"github.com/kimhsiao/ferrysync/backend/internal/logging"
	"github.com/kimhsiao/ferrysync/backend/internal/models"
)

// Board holds the results of the current ferry search and keeps them in
// step with push updates. Readers never observe a half-applied delta.
//
// Duplicate deliveries of the same event are applied twice.
type Board struct {
	mu      sync.RWMutex
	results models.SearchResults
	applied int
	logger  *logging.Logger
}

// NewBoard creates an empty Board.
func NewBoard() *Board {
	return &Board{logger: logging.Component("availability")}
}

// Load replaces the current results, typically after a fresh search.
func (b *Board) Load(results models.SearchResults) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.results = cloneResults(results)
	b.applied = 0
}

// Apply folds an availability update into the current results.
func (b *Board) Apply(update models.AvailabilityUpdate) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	next, err := Apply(b.results, update)
	if err != nil {
		b.logger.Warn("discarded invalid availability update", map[string]interface{}{
			"ferry_id": update.FerryID,
			"route":    update.Route,
			"error":    err.Error(),
		})
		return err
	}
	b.results = next
	b.applied++
	b.logger.Debug("applied availability update", map[string]interface{}{
		"ferry_id": update.FerryID,
		"route":    update.Route,
		"source":   string(update.Source),
	})
	return nil
}

// Snapshot returns a deep copy of the current results.
func (b *Board) Snapshot() models.SearchResults {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return cloneResults(b.results)
}

// Applied returns the number of updates applied since the last Load.
func (b *Board) Applied() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.applied
}

// Reset drops the current results.
func (b *Board) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.results = models.SearchResults{}
	b.applied = 0
}

func cloneResults(r models.SearchResults) models.SearchResults {
	return models.SearchResults{
		Outbound: cloneLeg(r.Outbound),
		Return:   cloneLeg(r.Return),
	}
}

func cloneLeg(leg []models.FerrySchedule) []models.FerrySchedule {
	if leg == nil {
		return nil
	}
	out := make([]models.FerrySchedule, len(leg))
	for i := range leg {
		out[i] = leg[i].Clone()
	}
	return out
}
