//go:build integration

package main_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rideline/ridectl/internal/common/kafka"
	"github.com/rideline/ridectl/internal/domain/trip"
	"github.com/rideline/ridectl/internal/domain/user"
	"github.com/rideline/ridectl/internal/events"
	"github.com/rideline/ridectl/internal/lifecycle"
)

var (
	centralStation = trip.Location{Lat: 52.3791, Lng: 4.9003}
	cityMuseum     = trip.Location{Lat: 52.3600, Lng: 4.8852}
)

// TestTrackedTrip_PersistsAndPublishes follows a ride from request to
// completion and verifies the Postgres history and the transition events.
func TestTrackedTrip_PersistsAndPublishes(t *testing.T) {
	infra := setupContainers(t)
	defer infra.Cleanup()
	stack := setupRideStack(t, infra.DB)

	producer := kafka.NewProducer(infra.KafkaBrokers, zap.NewNop())
	defer func() { _ = producer.Close() }()
	publisher := events.NewTransitionPublisher(producer, transitionsTopic, zap.NewNop())

	tracker := lifecycle.NewTracker(user.RolePassenger, stack.Passenger, stack.Repo, lifecycle.TrackerConfig{
		Interval:   20 * time.Millisecond,
		MaxBackoff: 200 * time.Millisecond,
	}, zap.NewNop(), publisher)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	require.NoError(t, tracker.Requesting(ctx))
	requested, err := stack.Passenger.Request(ctx, trip.RequestRide{Pickup: centralStation, DropOff: cityMuseum})
	require.NoError(t, err)
	require.NoError(t, tracker.Begin(ctx, requested, nil))

	done := make(chan error, 1)
	go func() { done <- tracker.Run(ctx) }()

	_, err = stack.Drivers.Accept(ctx, requested.ID)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return tracker.State().Phase == trip.PhaseMatched }, 15*time.Second, 20*time.Millisecond)

	require.NoError(t, stack.Sim.SetStatus(requested.ID, trip.StatusCompleted))
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("tracker did not stop after completion")
	}
	assert.Equal(t, trip.PhaseCompleted, tracker.State().Phase)

	// Assert: history row in Postgres.
	records, total, err := stack.Repo.ListRecords(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, records, 1)
	assert.Equal(t, requested.ID, records[0].TripID)
	assert.Equal(t, trip.PhaseCompleted, records[0].Phase)

	// Assert: the completed transition on the transitions topic.
	consumeEvents(t, infra.KafkaBrokers, transitionsTopic, 15*time.Second, func(ce kafka.CloudEvent) bool {
		if ce.Type != events.TransitionEventType || ce.Subject != requested.ID {
			return false
		}
		var evt events.TransitionEvent
		require.NoError(t, ce.ParseData(&evt))
		return evt.To == trip.PhaseCompleted.String()
	})
}

// TestStatusSignal_NudgesTracker verifies that a broker signal for the tracked
// trip makes the tracker poll without waiting for its interval.
func TestStatusSignal_NudgesTracker(t *testing.T) {
	infra := setupContainers(t)
	defer infra.Cleanup()
	stack := setupRideStack(t, infra.DB)

	// The interval is far longer than the test; only a nudge can observe the change.
	tracker := lifecycle.NewTracker(user.RolePassenger, stack.Passenger, stack.Repo, lifecycle.TrackerConfig{
		Interval:   time.Hour,
		MaxBackoff: time.Hour,
	}, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	requested, err := stack.Passenger.Request(ctx, trip.RequestRide{Pickup: centralStation, DropOff: cityMuseum})
	require.NoError(t, err)
	require.NoError(t, tracker.Begin(ctx, requested, nil))

	groupID := "test-signals-" + uuid.New().String()[:8]
	consumer := events.NewSignalConsumer(infra.KafkaBrokers, groupID, signalsTopic, tracker, zap.NewNop())
	defer func() { _ = consumer.Close() }()
	go func() { _ = consumer.Start(ctx) }()
	go func() { _ = tracker.Run(ctx) }()
	time.Sleep(3 * time.Second) // Wait for consumer group join.

	_, err = stack.Drivers.Accept(ctx, requested.ID)
	require.NoError(t, err)
	publishTestEvent(t, infra.KafkaBrokers, signalsTopic, events.SignalStatusChanged, requested.ID,
		events.SignalEvent{TripID: requested.ID, Reason: "accepted"})

	require.Eventually(t, func() bool {
		return tracker.State().Phase == trip.PhaseMatched
	}, 20*time.Second, 50*time.Millisecond, "tracker was not nudged")

	// Assert: the snapshot in Postgres followed.
	snap, err := stack.Repo.FindActive(ctx, user.RolePassenger)
	require.NoError(t, err)
	assert.Equal(t, requested.ID, snap.TripID)
	assert.Equal(t, trip.PhaseMatched, snap.Phase)
}
