package models

import (
	"fmt"

	apperrors "github.com/kimhsiao/ferrysync/backend/internal/errors"
)

// AvailabilityDelta is an incremental change to a sailing's capacity counters.
// Every field is optional and an absent field counts as zero:
//   - PassengersBooked / PassengersFreed adjust available_capacity
//   - VehiclesBooked / VehiclesFreed adjust available_vehicle_space
//   - CabinQuantity (booked) / CabinsFreed adjust available_cabins
//
// CabinType is informational only.
type AvailabilityDelta struct {
	PassengersBooked *int   `json:"passengers_booked,omitempty"`
	PassengersFreed  *int   `json:"passengers_freed,omitempty"`
	VehiclesBooked   *int   `json:"vehicles_booked,omitempty"`
	VehiclesFreed    *int   `json:"vehicles_freed,omitempty"`
	CabinQuantity    *int   `json:"cabin_quantity,omitempty"`
	CabinsFreed      *int   `json:"cabins_freed,omitempty"`
	CabinType        string `json:"cabin_type,omitempty"`
}

// TouchesPassengers reports whether the delta carries a passenger key.
func (d AvailabilityDelta) TouchesPassengers() bool {
	return d.PassengersBooked != nil || d.PassengersFreed != nil
}

// TouchesVehicles reports whether the delta carries a vehicle key.
func (d AvailabilityDelta) TouchesVehicles() bool {
	return d.VehiclesBooked != nil || d.VehiclesFreed != nil
}

// TouchesCabins reports whether the delta carries a cabin key.
func (d AvailabilityDelta) TouchesCabins() bool {
	return d.CabinQuantity != nil || d.CabinsFreed != nil
}

// IsEmpty reports whether the delta changes nothing.
func (d AvailabilityDelta) IsEmpty() bool {
	return !d.TouchesPassengers() && !d.TouchesVehicles() && !d.TouchesCabins()
}

// Validate rejects negative counts. Deltas are booked/freed pairs, so a
// negative value would invert the meaning of the key.
func (d AvailabilityDelta) Validate() error {
	fields := []struct {
		name string
		v    *int
	}{
		{"passengers_booked", d.PassengersBooked},
		{"passengers_freed", d.PassengersFreed},
		{"vehicles_booked", d.VehiclesBooked},
		{"vehicles_freed", d.VehiclesFreed},
		{"cabin_quantity", d.CabinQuantity},
		{"cabins_freed", d.CabinsFreed},
	}
	for _, f := range fields {
		if f.v != nil && *f.v < 0 {
			return apperrors.New(apperrors.ErrInvalidDelta, fmt.Sprintf("%s must be >= 0, got %d", f.name, *f.v))
		}
	}
	return nil
}

// UpdateSource tells whether a capacity change came from this platform's own
// bookings or from an external operator feed.
type UpdateSource string

const (
	SourceInternal UpdateSource = "internal"
	SourceExternal UpdateSource = "external"
)

// AvailabilityUpdate is the payload of an availability_update push message.
type AvailabilityUpdate struct {
	FerryID       string            `json:"ferry_id"`
	Route         string            `json:"route"`
	DepartureTime string            `json:"departure_time,omitempty"`
	Availability  AvailabilityDelta `json:"availability"`
	Source        UpdateSource      `json:"source,omitempty"`
	UpdatedAt     string            `json:"updated_at,omitempty"`
}
