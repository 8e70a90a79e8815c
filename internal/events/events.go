package events

import (
	"time"

	"github.com/rideline/ridectl/internal/domain/trip"
)

// Event source and types carried on the broker topics.
const (
	Source = "ridectl"

	TransitionEventType = "ride.client.transition"

	SignalStatusChanged = "ride.signal.status_changed"
	SignalDriverNearby  = "ride.signal.driver_nearby"
)

// TransitionEvent is the payload published for every phase change.
type TransitionEvent struct {
	TripID     string    `json:"trip_id"`
	Role       string    `json:"role"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Status     string    `json:"status,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// NewTransitionEvent converts a tracker transition into its wire form.
func NewTransitionEvent(tr trip.Transition) TransitionEvent {
	return TransitionEvent{
		TripID:     tr.TripID,
		Role:       tr.Role.String(),
		From:       tr.From.String(),
		To:         tr.To.String(),
		Status:     tr.Status.String(),
		OccurredAt: tr.At.UTC(),
	}
}

// SignalEvent tells a client that something about a trip changed server-side.
type SignalEvent struct {
	TripID string `json:"trip_id"`
	Reason string `json:"reason,omitempty"`
}
