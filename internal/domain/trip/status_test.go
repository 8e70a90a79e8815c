package trip

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusTransitions(t *testing.T) {
	assert.True(t, StatusRequested.CanTransitionTo(StatusAccepted))
	assert.True(t, StatusArrived.CanTransitionTo(StatusOngoing))
	assert.True(t, StatusOngoing.CanTransitionTo(StatusCancelled))
	assert.False(t, StatusRequested.CanTransitionTo(StatusOngoing))
	assert.False(t, StatusCompleted.CanTransitionTo(StatusCancelled))

	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusCancelled.IsTerminal())
	assert.True(t, Status("BOGUS").IsTerminal())
	assert.False(t, StatusAccepted.IsTerminal())
}

func TestParseStatus(t *testing.T) {
	tests := map[string]Status{
		"REQUESTED":   StatusRequested,
		"accepted":    StatusAccepted,
		" Arrived ":   StatusArrived,
		"in_progress": StatusOngoing,
		"canceled":    StatusCancelled,
	}
	for in, want := range tests {
		got, err := ParseStatus(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseStatus("teleported")
	assert.Error(t, err)
}

func TestStatusDecodesFromJSON(t *testing.T) {
	var tr Trip
	require.NoError(t, json.Unmarshal([]byte(`{"id":"t1","status":"in_progress"}`), &tr))
	assert.Equal(t, StatusOngoing, tr.Status)
	assert.Equal(t, PhaseInProgress, tr.Phase())

	assert.Error(t, json.Unmarshal([]byte(`{"id":"t1","status":"warp"}`), &tr))
}
