package trip

// Phase is the client-side lifecycle stage shown to the rider or driver.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseRequesting Phase = "requesting"
	PhaseSearching  Phase = "searching"
	PhaseMatched    Phase = "matched"
	PhaseMeeting    Phase = "meeting"
	PhaseInProgress Phase = "in_progress"
	PhaseCompleted  Phase = "completed"
	PhaseReviewed   Phase = "reviewed"
	PhaseCancelled  Phase = "cancelled"
)

var phaseOrder = map[Phase]int{
	PhaseIdle:       0,
	PhaseRequesting: 1,
	PhaseSearching:  2,
	PhaseMatched:    3,
	PhaseMeeting:    4,
	PhaseInProgress: 5,
	PhaseCompleted:  6,
	PhaseReviewed:   7,
	PhaseCancelled:  8,
}

// PhaseForStatus maps a server status to the phase it puts the client in.
func PhaseForStatus(s Status) Phase {
	switch s {
	case StatusRequested:
		return PhaseSearching
	case StatusAccepted:
		return PhaseMatched
	case StatusArrived:
		return PhaseMeeting
	case StatusOngoing:
		return PhaseInProgress
	case StatusCompleted:
		return PhaseCompleted
	case StatusCancelled:
		return PhaseCancelled
	default:
		return PhaseIdle
	}
}

// IsValid returns true if the phase is recognized.
func (p Phase) IsValid() bool {
	_, ok := phaseOrder[p]
	return ok
}

// Rank returns the position of the phase in the lifecycle, or -1.
func (p Phase) Rank() int {
	r, ok := phaseOrder[p]
	if !ok {
		return -1
	}
	return r
}

// IsTerminal returns true once nothing else can happen to the trip.
func (p Phase) IsTerminal() bool {
	return p == PhaseReviewed || p == PhaseCancelled
}

// StopsPolling returns true when the server has nothing more to report.
func (p Phase) StopsPolling() bool {
	return p == PhaseCompleted || p.IsTerminal()
}

// CanAdvanceTo reports whether the lifecycle may move from p to target.
// Moves are forward-only; skipping phases is allowed because polls can miss
// short-lived server states. Cancellation is reachable from any non-terminal
// phase except completed, and reviewed only from completed.
func (p Phase) CanAdvanceTo(target Phase) bool {
	if !p.IsValid() || !target.IsValid() || p.IsTerminal() || p == target {
		return false
	}
	switch target {
	case PhaseCancelled:
		return p != PhaseCompleted
	case PhaseReviewed:
		return p == PhaseCompleted
	case PhaseIdle:
		return false
	}
	return target.Rank() > p.Rank()
}

// String returns the string representation of the phase.
func (p Phase) String() string {
	return string(p)
}
