// Package availability folds live capacity deltas into ferry search results.
package availability

import (
	"github.com/kimhsiao/ferrysync/backend/internal/logging"
	"github.com/kimhsiao/ferrysync/backend/internal/models"
)

// onRouteMismatch is called when an update names a route other than the
// one recorded on the sailing it matched.
var onRouteMismatch = func(ferryID, route, recordRoute string) {
	logging.Component("availability").Debug("availability update route differs from matched sailing", map[string]interface{}{
		"ferry_id":     ferryID,
		"route":        route,
		"record_route": recordRoute,
	})
}

// ApplyDelta returns a copy of sets with delta applied to the sailing
// identified by ferryID. Each leg is searched independently, by sailing id
// first and record id second, and the first match in each leg is updated.
// Legs without a match are copied unchanged.
//
// Capacity fields only move when the delta carries a key for them. Missing
// record values count as zero and results are clamped at zero. route is not
// used for matching, since ferry ids are unique across routes; a match whose
// recorded route differs is still updated and logged at debug level.
//
// An invalid delta returns the error and sets unchanged.
func ApplyDelta(sets models.SearchResults, ferryID, route string, delta models.AvailabilityDelta) (models.SearchResults, error) {
	if err := delta.Validate(); err != nil {
		return sets, err
	}
	return models.SearchResults{
		Outbound: applyToLeg(sets.Outbound, ferryID, route, delta),
		Return:   applyToLeg(sets.Return, ferryID, route, delta),
	}, nil
}

// Apply applies a push update.
func Apply(sets models.SearchResults, update models.AvailabilityUpdate) (models.SearchResults, error) {
	return ApplyDelta(sets, update.FerryID, update.Route, update.Availability)
}

func applyToLeg(leg []models.FerrySchedule, ferryID, route string, delta models.AvailabilityDelta) []models.FerrySchedule {
	out := cloneLeg(leg)
	idx := match(out, ferryID)
	if idx < 0 {
		return out
	}

	f := &out[idx]
	if route != "" && f.Route != "" && f.Route != route {
		onRouteMismatch(ferryID, route, f.Route)
	}
	if delta.TouchesPassengers() {
		f.AvailableCapacity = adjust(f.AvailableCapacity, delta.PassengersFreed, delta.PassengersBooked)
	}
	if delta.TouchesVehicles() {
		f.AvailableVehicleSpace = adjust(f.AvailableVehicleSpace, delta.VehiclesFreed, delta.VehiclesBooked)
	}
	if delta.TouchesCabins() {
		f.AvailableCabins = adjust(f.AvailableCabins, delta.CabinsFreed, delta.CabinQuantity)
	}
	return out
}

func match(leg []models.FerrySchedule, ferryID string) int {
	for i := range leg {
		if leg[i].SailingID != "" && leg[i].SailingID == ferryID {
			return i
		}
	}
	for i := range leg {
		if leg[i].ID == ferryID {
			return i
		}
	}
	return -1
}

func adjust(current, freed, booked *int) *int {
	v := models.IntValue(current) + models.IntValue(freed) - models.IntValue(booked)
	if v < 0 {
		v = 0
	}
	return models.IntPtr(v)
}
