package models

// BookingStatus is the lifecycle status of a booking as seen by the client.
type BookingStatus string

const (
	BookingPending             BookingStatus = "pending"
	BookingConfirmed           BookingStatus = "confirmed"
	BookingCancelled           BookingStatus = "cancelled"
	BookingPendingCancellation BookingStatus = "pending_cancellation"
)

// Booking is the cached copy of a user's ferry booking.
type Booking struct {
	ID            int64         `json:"id"`
	Reference     string        `json:"booking_reference"`
	Status        BookingStatus `json:"status"`
	FerryID       string        `json:"ferry_id,omitempty"`
	Route         string        `json:"route,omitempty"`
	DepartureTime string        `json:"departure_time,omitempty"`
	Passengers    int           `json:"passengers"`
	Vehicles      int           `json:"vehicles"`
	TotalPrice    float64       `json:"total_price"`
	UpdatedAt     string        `json:"updated_at,omitempty"`
}

// BookingByID returns a predicate matching bookings with the given id.
func BookingByID(id int64) func(Booking) bool {
	return func(b Booking) bool { return b.ID == id }
}

// UserProfile is the cached profile of the signed-in user.
type UserProfile struct {
	ID        int64  `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Phone     string `json:"phone,omitempty"`
}
