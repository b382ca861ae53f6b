// Package availability tests for the availability reducer.
package availability

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/kimhsiao/ferrysync/backend/internal/errors"
	"github.com/kimhsiao/ferrysync/backend/internal/models"
)

func sailing(id, sailingID string, capacity, vehicles, cabins *int) models.FerrySchedule {
	return models.FerrySchedule{
		ID:                    id,
		SailingID:             sailingID,
		Route:                 "dover-calais",
		AvailableCapacity:     capacity,
		AvailableVehicleSpace: vehicles,
		AvailableCabins:       cabins,
	}
}

func p(v int) *int { return models.IntPtr(v) }

func results() models.SearchResults {
	return models.SearchResults{
		Outbound: []models.FerrySchedule{
			sailing("1", "S-100", p(100), p(40), p(10)),
			sailing("2", "S-200", p(50), p(20), p(5)),
		},
		Return: []models.FerrySchedule{
			sailing("3", "S-300", p(80), p(30), nil),
		},
	}
}

// TestApplyDelta_overbookingClampsToZero verifies 200 booked against 100
// available yields 0.
func TestApplyDelta_overbookingClampsToZero(t *testing.T) {
	out, err := ApplyDelta(results(), "S-100", "dover-calais", models.AvailabilityDelta{PassengersBooked: p(200)})
	require.NoError(t, err)

	assert.Equal(t, 0, *out.Outbound[0].AvailableCapacity)
}

// TestApplyDelta_cabinRoundTrip verifies booking then freeing five cabins
// restores the original count.
func TestApplyDelta_cabinRoundTrip(t *testing.T) {
	in := results()
	out, err := ApplyDelta(in, "S-100", "", models.AvailabilityDelta{CabinQuantity: p(5), CabinType: "inside"})
	require.NoError(t, err)
	assert.Equal(t, 5, *out.Outbound[0].AvailableCabins)

	out, err = ApplyDelta(out, "S-100", "", models.AvailabilityDelta{CabinsFreed: p(5)})
	require.NoError(t, err)
	assert.Equal(t, 10, *out.Outbound[0].AvailableCabins)
}

// TestApplyDelta_untouchedFieldsUnchanged verifies only keyed fields move.
func TestApplyDelta_untouchedFieldsUnchanged(t *testing.T) {
	out, err := ApplyDelta(results(), "S-200", "", models.AvailabilityDelta{VehiclesBooked: p(3), VehiclesFreed: p(1)})
	require.NoError(t, err)

	f := out.Outbound[1]
	assert.Equal(t, 50, *f.AvailableCapacity)
	assert.Equal(t, 18, *f.AvailableVehicleSpace)
	assert.Equal(t, 5, *f.AvailableCabins)

	// A nil field stays nil when the delta has no key for it.
	out, err = ApplyDelta(results(), "S-300", "", models.AvailabilityDelta{PassengersFreed: p(2)})
	require.NoError(t, err)
	assert.Equal(t, 82, *out.Return[0].AvailableCapacity)
	assert.Nil(t, out.Return[0].AvailableCabins)
}

// TestApplyDelta_missingFieldBaselineZero verifies a nil record value is
// treated as zero before clamping.
func TestApplyDelta_missingFieldBaselineZero(t *testing.T) {
	out, err := ApplyDelta(results(), "S-300", "", models.AvailabilityDelta{CabinsFreed: p(2)})
	require.NoError(t, err)
	assert.Equal(t, 2, *out.Return[0].AvailableCabins)

	out, err = ApplyDelta(results(), "S-300", "", models.AvailabilityDelta{CabinQuantity: p(2)})
	require.NoError(t, err)
	assert.Equal(t, 0, *out.Return[0].AvailableCabins)
}

// TestApplyDelta_inputNotMutated verifies the reducer is pure.
func TestApplyDelta_inputNotMutated(t *testing.T) {
	in := results()
	_, err := ApplyDelta(in, "S-100", "", models.AvailabilityDelta{PassengersBooked: p(10)})
	require.NoError(t, err)

	assert.Equal(t, results(), in)
}

// TestApplyDelta_matching verifies sailing id priority, id fallback and
// per-leg matching.
func TestApplyDelta_matching(t *testing.T) {
	sets := models.SearchResults{
		Outbound: []models.FerrySchedule{
			sailing("S-9", "", p(10), nil, nil),
			sailing("x", "S-9", p(20), nil, nil),
		},
		Return: []models.FerrySchedule{
			sailing("S-9", "", p(30), nil, nil),
		},
	}
	out, err := ApplyDelta(sets, "S-9", "", models.AvailabilityDelta{PassengersBooked: p(1)})
	require.NoError(t, err)

	// Outbound: the sailing id match wins over the earlier id match.
	assert.Equal(t, 10, *out.Outbound[0].AvailableCapacity)
	assert.Equal(t, 19, *out.Outbound[1].AvailableCapacity)
	// Return: falls back to the record id.
	assert.Equal(t, 29, *out.Return[0].AvailableCapacity)
}

// TestApplyDelta_firstMatchOnly verifies duplicates within a leg are not
// all updated.
func TestApplyDelta_firstMatchOnly(t *testing.T) {
	sets := models.SearchResults{Outbound: []models.FerrySchedule{
		sailing("a", "S-1", p(10), nil, nil),
		sailing("b", "S-1", p(10), nil, nil),
	}}
	out, err := ApplyDelta(sets, "S-1", "", models.AvailabilityDelta{PassengersBooked: p(4)})
	require.NoError(t, err)

	assert.Equal(t, 6, *out.Outbound[0].AvailableCapacity)
	assert.Equal(t, 10, *out.Outbound[1].AvailableCapacity)
	assert.Nil(t, out.Return)
}

// TestApplyDelta_noMatch verifies unknown ferries leave results unchanged.
func TestApplyDelta_noMatch(t *testing.T) {
	out, err := ApplyDelta(results(), "S-999", "", models.AvailabilityDelta{PassengersBooked: p(4)})
	require.NoError(t, err)
	assert.Equal(t, results(), out)
}

// TestApplyDelta_invalid verifies negative deltas are rejected.
func TestApplyDelta_invalid(t *testing.T) {
	in := results()
	out, err := ApplyDelta(in, "S-100", "", models.AvailabilityDelta{PassengersBooked: p(-3)})

	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidDelta))
	assert.Contains(t, err.Error(), "passengers_booked")
	assert.Equal(t, in, out)
}

// TestApplyDelta_routeMismatch verifies an update naming another route is
// still applied and the mismatch is reported once per matched leg.
func TestApplyDelta_routeMismatch(t *testing.T) {
	type mismatch struct{ ferryID, route, recordRoute string }
	var got []mismatch
	saved := onRouteMismatch
	onRouteMismatch = func(ferryID, route, recordRoute string) {
		got = append(got, mismatch{ferryID, route, recordRoute})
	}
	t.Cleanup(func() { onRouteMismatch = saved })

	out, err := ApplyDelta(results(), "S-100", "piraeus-naxos", models.AvailabilityDelta{PassengersBooked: p(2)})
	require.NoError(t, err)
	assert.Equal(t, 98, *out.Outbound[0].AvailableCapacity)
	assert.Equal(t, []mismatch{{"S-100", "piraeus-naxos", "dover-calais"}}, got)

	got = nil
	_, err = ApplyDelta(results(), "S-100", "dover-calais", models.AvailabilityDelta{PassengersBooked: p(2)})
	require.NoError(t, err)
	_, err = ApplyDelta(results(), "S-100", "", models.AvailabilityDelta{PassengersBooked: p(2)})
	require.NoError(t, err)
	_, err = ApplyDelta(results(), "S-999", "piraeus-naxos", models.AvailabilityDelta{PassengersBooked: p(2)})
	require.NoError(t, err)
	assert.Empty(t, got)
}

// TestApply_update verifies the push payload convenience wrapper.
func TestApply_update(t *testing.T) {
	out, err := Apply(results(), models.AvailabilityUpdate{
		FerryID:      "S-200",
		Route:        "dover-calais",
		Availability: models.AvailabilityDelta{PassengersFreed: p(5)},
		Source:       models.SourceExternal,
	})
	require.NoError(t, err)
	assert.Equal(t, 55, *out.Outbound[1].AvailableCapacity)
}

// TestApplyDelta_neverNegative verifies clamping over random delta
// sequences.
func TestApplyDelta_neverNegative(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	sets := results()
	ids := []string{"S-100", "S-200", "S-300"}

	for i := 0; i < 2000; i++ {
		var d models.AvailabilityDelta
		switch rng.Intn(6) {
		case 0:
			d.PassengersBooked = p(rng.Intn(150))
		case 1:
			d.PassengersFreed = p(rng.Intn(30))
		case 2:
			d.VehiclesBooked = p(rng.Intn(60))
		case 3:
			d.VehiclesFreed = p(rng.Intn(10))
		case 4:
			d.CabinQuantity = p(rng.Intn(20))
		default:
			d.CabinsFreed = p(rng.Intn(5))
		}
		var err error
		sets, err = ApplyDelta(sets, ids[rng.Intn(len(ids))], "", d)
		require.NoError(t, err)

		for _, leg := range [][]models.FerrySchedule{sets.Outbound, sets.Return} {
			for _, f := range leg {
				for _, v := range []*int{f.AvailableCapacity, f.AvailableVehicleSpace, f.AvailableCabins} {
					if v != nil {
						require.GreaterOrEqual(t, *v, 0)
					}
				}
			}
		}
	}
}

// TestApplyDelta_commutative verifies deltas on different counters commute.
func TestApplyDelta_commutative(t *testing.T) {
	deltas := []models.AvailabilityDelta{
		{PassengersBooked: p(120)},
		{VehiclesBooked: p(7), VehiclesFreed: p(2)},
		{CabinQuantity: p(3)},
		{CabinsFreed: p(1)},
	}

	for i := range deltas {
		for j := range deltas {
			if i == j {
				continue
			}
			ab, err := ApplyDelta(results(), "S-100", "", deltas[i])
			require.NoError(t, err)
			ab, err = ApplyDelta(ab, "S-100", "", deltas[j])
			require.NoError(t, err)

			ba, err := ApplyDelta(results(), "S-100", "", deltas[j])
			require.NoError(t, err)
			ba, err = ApplyDelta(ba, "S-100", "", deltas[i])
			require.NoError(t, err)

			assert.Equal(t, ab, ba, "deltas %d and %d", i, j)
		}
	}
}
