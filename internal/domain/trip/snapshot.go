package trip

import (
	"context"
	"time"

	"github.com/rideline/ridectl/internal/domain/user"
)

// PhaseFor derives the client phase from a server status and, when known,
// the live snapshot. An accepted trip where either party already confirmed
// the meet is shown as meeting.
func PhaseFor(status Status, live *LiveState) Phase {
	phase := PhaseForStatus(status)
	if phase == PhaseMatched && live != nil && (live.DriverConfirmedMeet || live.PassengerConfirmedMeet) {
		return PhaseMeeting
	}
	return phase
}

// Snapshot is the tracked state of one trip for one role. It is persisted
// after every transition so tracking survives a restart.
type Snapshot struct {
	TripID    string     `json:"trip_id"`
	Role      user.Role  `json:"role"`
	Phase     Phase      `json:"phase"`
	Status    Status     `json:"status"`
	Trip      *Trip      `json:"trip,omitempty"`
	Live      *LiveState `json:"live,omitempty"`
	Version   int64      `json:"version"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Transition records a phase change.
type Transition struct {
	TripID string    `json:"trip_id"`
	Role   user.Role `json:"role"`
	From   Phase     `json:"from"`
	To     Phase     `json:"to"`
	Status Status    `json:"status"`
	At     time.Time `json:"at"`
}

// Record is a finished or settled trip kept in local history.
type Record struct {
	TripID          string    `json:"trip_id"`
	Role            user.Role `json:"role"`
	Phase           Phase     `json:"phase"`
	Status          Status    `json:"status"`
	From            string    `json:"from,omitempty"`
	To              string    `json:"to,omitempty"`
	DistanceMeters  float64   `json:"distance"`
	DurationSeconds float64   `json:"duration"`
	Fare            float64   `json:"fare"`
	Currency        string    `json:"currency,omitempty"`
	Rating          *int      `json:"rating,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// RecordFromSnapshot builds a history record from the tracked state.
func RecordFromSnapshot(s *Snapshot) *Record {
	r := &Record{
		TripID:    s.TripID,
		Role:      s.Role,
		Phase:     s.Phase,
		Status:    s.Status,
		UpdatedAt: s.UpdatedAt,
	}
	if t := s.Trip; t != nil {
		r.From = t.From
		r.To = t.To
		r.DistanceMeters = t.DistanceMeters
		r.DurationSeconds = t.DurationSeconds
		r.Fare = t.Fare
		r.Currency = t.Currency
		r.Rating = t.Rating
	}
	return r
}

// SnapshotRepository persists tracker state and trip history locally.
type SnapshotRepository interface {
	// SaveSnapshot inserts or updates the active snapshot for trip+role.
	// The stored version must be Version-1 for an update to succeed.
	SaveSnapshot(ctx context.Context, s *Snapshot) error

	// FindActive returns the active snapshot for a role, or a not-found error.
	FindActive(ctx context.Context, role user.Role) (*Snapshot, error)

	// FinishSnapshot removes the active snapshot for trip+role.
	FinishSnapshot(ctx context.Context, tripID string, role user.Role) error

	// SaveRecord inserts or replaces the history record for trip+role.
	SaveRecord(ctx context.Context, r *Record) error

	// ListRecords returns history records, newest first.
	ListRecords(ctx context.Context, page, limit int) ([]*Record, int64, error)

	// CountByPhase returns record counts grouped by phase.
	CountByPhase(ctx context.Context) (map[string]int64, error)
}
