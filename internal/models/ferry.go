package models

// FerrySchedule is one sailing in a search result set. Capacity fields are
// optional: nil means the backend did not report a value.
type FerrySchedule struct {
	ID                    string  `json:"id"`
	SailingID             string  `json:"sailing_id,omitempty"`
	Operator              string  `json:"operator,omitempty"`
	Route                 string  `json:"route,omitempty"`
	DepartureTime         string  `json:"departure_time,omitempty"`
	ArrivalTime           string  `json:"arrival_time,omitempty"`
	Price                 float64 `json:"price,omitempty"`
	AvailableCapacity     *int    `json:"available_capacity,omitempty"`
	AvailableVehicleSpace *int    `json:"available_vehicle_space,omitempty"`
	AvailableCabins       *int    `json:"available_cabins,omitempty"`
}

// Identity returns the sailing id when present, the record id otherwise.
func (f FerrySchedule) Identity() string {
	if f.SailingID != "" {
		return f.SailingID
	}
	return f.ID
}

// Clone returns a deep copy so capacity pointers are not shared.
func (f FerrySchedule) Clone() FerrySchedule {
	out := f
	out.AvailableCapacity = cloneInt(f.AvailableCapacity)
	out.AvailableVehicleSpace = cloneInt(f.AvailableVehicleSpace)
	out.AvailableCabins = cloneInt(f.AvailableCabins)
	return out
}

// SearchResults holds the outbound and return legs of a ferry search.
type SearchResults struct {
	Outbound []FerrySchedule `json:"outbound"`
	Return   []FerrySchedule `json:"return"`
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int {
	return &v
}

// IntValue dereferences p, treating nil as zero.
func IntValue(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

func cloneInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
