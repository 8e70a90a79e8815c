package trip

import (
	"fmt"
	"strings"
)

// Status is the server-reported state of a trip.
type Status string

const (
	StatusRequested Status = "REQUESTED"
	StatusAccepted  Status = "ACCEPTED"
	StatusArrived   Status = "ARRIVED"
	StatusOngoing   Status = "ONGOING"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

// validTransitions defines the server-side trip state machine as the client understands it.
var validTransitions = map[Status][]Status{
	StatusRequested: {StatusAccepted, StatusCancelled},
	StatusAccepted:  {StatusArrived, StatusCancelled},
	StatusArrived:   {StatusOngoing, StatusCancelled},
	StatusOngoing:   {StatusCompleted, StatusCancelled},
	StatusCompleted: {},
	StatusCancelled: {},
}

// statusAliases covers spellings some endpoints return.
var statusAliases = map[string]Status{
	"IN_PROGRESS": StatusOngoing,
	"STARTED":     StatusOngoing,
	"CANCELED":    StatusCancelled,
	"PENDING":     StatusRequested,
}

// IsValid returns true if the status is a recognized trip status.
func (s Status) IsValid() bool {
	_, exists := validTransitions[s]
	return exists
}

// CanTransitionTo returns true if a transition from this status to the target is allowed.
func (s Status) CanTransitionTo(target Status) bool {
	for _, t := range validTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// IsTerminal returns true if no further transitions are possible from this status.
func (s Status) IsTerminal() bool {
	allowed, exists := validTransitions[s]
	if !exists {
		return true
	}
	return len(allowed) == 0
}

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// ParseStatus converts a string to a Status, case-insensitively.
func ParseStatus(s string) (Status, error) {
	key := strings.ToUpper(strings.TrimSpace(s))
	if alias, ok := statusAliases[key]; ok {
		return alias, nil
	}
	status := Status(key)
	if !status.IsValid() {
		return "", fmt.Errorf("invalid trip status: %s", s)
	}
	return status, nil
}

// UnmarshalText normalizes server spellings while decoding JSON.
func (s *Status) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*s = ""
		return nil
	}
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
