package trip

import (
	"time"

	"github.com/rideline/ridectl/internal/common/domain"
)

// Trip is a ride as reported by the server.
type Trip struct {
	ID              string     `json:"id"`
	PassengerID     string     `json:"passenger_id,omitempty"`
	DriverID        string     `json:"driver_id,omitempty"`
	From            string     `json:"from,omitempty"`
	To              string     `json:"to,omitempty"`
	Pickup          Location   `json:"pickup"`
	DropOff         Location   `json:"drop_off"`
	DistanceMeters  float64    `json:"distance,omitempty"`
	DurationSeconds float64    `json:"duration,omitempty"`
	Fare            float64    `json:"fare,omitempty"`
	Currency        string     `json:"currency,omitempty"`
	Status          Status     `json:"status"`
	RequestedAt     *time.Time `json:"requested_at,omitempty"`
	AcceptedAt      *time.Time `json:"accepted_at,omitempty"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	CancelledAt     *time.Time `json:"cancelled_at,omitempty"`
	CancelReason    string     `json:"cancel_reason,omitempty"`
	Rating          *int       `json:"rating,omitempty"`
}

// Phase returns the lifecycle phase implied by the trip status.
func (t *Trip) Phase() Phase {
	return PhaseForStatus(t.Status)
}

// IsActive reports whether the trip still needs tracking.
func (t *Trip) IsActive() bool {
	return t.Status.IsValid() && !t.Status.IsTerminal()
}

// Reviewed reports whether a rating was already submitted.
func (t *Trip) Reviewed() bool {
	return t.Rating != nil
}

// RequestRide is the payload for requesting a new trip.
type RequestRide struct {
	Pickup  Location `json:"pickup"`
	DropOff Location `json:"drop_off"`
	From    string   `json:"from,omitempty"`
	To      string   `json:"to,omitempty"`
	Notes   string   `json:"notes,omitempty"`
}

// Validate checks the request before it is sent.
func (r RequestRide) Validate() error {
	if r.Pickup.IsZero() {
		return domain.NewValidationError("pickup location is required")
	}
	if r.DropOff.IsZero() {
		return domain.NewValidationError("drop-off location is required")
	}
	if err := r.Pickup.Validate(); err != nil {
		return domain.NewValidationError("pickup: " + err.Error())
	}
	if err := r.DropOff.Validate(); err != nil {
		return domain.NewValidationError("drop-off: " + err.Error())
	}
	if r.Pickup.DistanceMeters(r.DropOff) < 1 {
		return domain.NewValidationError("pickup and drop-off must differ")
	}
	return nil
}

// EstimateData is a fare and route estimate computed per request.
type EstimateData struct {
	DistanceMeters  float64 `json:"distance"`
	DurationSeconds float64 `json:"duration"`
	Fare            float64 `json:"fare"`
	Currency        string  `json:"currency"`
}

// LiveState is the server snapshot of an ongoing trip.
type LiveState struct {
	TripID                 string     `json:"trip_id"`
	Status                 Status     `json:"status"`
	DriverLocation         *Location  `json:"driver_location,omitempty"`
	PassengerLocation      *Location  `json:"passenger_location,omitempty"`
	DriverConfirmedMeet    bool       `json:"driver_confirmed_meet"`
	PassengerConfirmedMeet bool       `json:"passenger_confirmed_meet"`
	ETASeconds             *float64   `json:"eta,omitempty"`
	UpdatedAt              *time.Time `json:"updated_at,omitempty"`
}

// MeetConfirmed reports whether both driver and passenger confirmed they met.
func (s *LiveState) MeetConfirmed() bool {
	return s.DriverConfirmedMeet && s.PassengerConfirmedMeet
}

// Review is a post-trip rating.
type Review struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment,omitempty"`
}

// Validate checks the rating range.
func (r Review) Validate() error {
	if r.Rating < 1 || r.Rating > 5 {
		return domain.NewValidationError("rating must be between 1 and 5")
	}
	return nil
}
