package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rideline/ridectl/internal/common/database"
	"github.com/rideline/ridectl/internal/common/domain"
	"github.com/rideline/ridectl/internal/config"
	"github.com/rideline/ridectl/internal/domain/trip"
	"github.com/rideline/ridectl/internal/domain/user"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRepo(t *testing.T) *GormTripRepository {
	t.Helper()
	db, err := database.Connect(config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:"}, zap.NewNop(), Models()...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })
	return NewGormTripRepository(db)
}

func sampleSnapshot(version int64) *trip.Snapshot {
	return &trip.Snapshot{
		TripID: "ride-1",
		Role:   user.RolePassenger,
		Phase:  trip.PhaseSearching,
		Status: trip.StatusRequested,
		Trip: &trip.Trip{
			ID:     "ride-1",
			From:   "Central",
			To:     "Harbour",
			Fare:   12.5,
			Status: trip.StatusRequested,
		},
		Version:   version,
		UpdatedAt: time.Now().UTC(),
	}
}

func TestSaveSnapshotInsertsThenUpdatesWithVersion(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	snap := sampleSnapshot(1)
	require.NoError(t, repo.SaveSnapshot(ctx, snap))

	snap.Version = 2
	snap.Phase = trip.PhaseMatched
	snap.Status = trip.StatusAccepted
	snap.Live = &trip.LiveState{TripID: "ride-1", Status: trip.StatusAccepted, DriverConfirmedMeet: true}
	require.NoError(t, repo.SaveSnapshot(ctx, snap))

	got, err := repo.FindActive(ctx, user.RolePassenger)
	require.NoError(t, err)
	assert.Equal(t, "ride-1", got.TripID)
	assert.Equal(t, trip.PhaseMatched, got.Phase)
	assert.Equal(t, trip.StatusAccepted, got.Status)
	assert.Equal(t, int64(2), got.Version)
	require.NotNil(t, got.Trip)
	assert.Equal(t, "Harbour", got.Trip.To)
	require.NotNil(t, got.Live)
	assert.True(t, got.Live.DriverConfirmedMeet)
}

func TestSaveSnapshotRejectsStaleVersion(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.SaveSnapshot(ctx, sampleSnapshot(1)))
	require.NoError(t, repo.SaveSnapshot(ctx, sampleSnapshot(2)))

	err := repo.SaveSnapshot(ctx, sampleSnapshot(2))
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestSaveSnapshotAcceptsVersionGaps(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.SaveSnapshot(ctx, sampleSnapshot(1)))

	// Version 2 never reached the database.
	later := sampleSnapshot(3)
	later.Phase = trip.PhaseMeeting
	require.NoError(t, repo.SaveSnapshot(ctx, later))

	got, err := repo.FindActive(ctx, user.RolePassenger)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.Version)
	assert.Equal(t, trip.PhaseMeeting, got.Phase)

	assert.ErrorIs(t, repo.SaveSnapshot(ctx, sampleSnapshot(2)), domain.ErrConflict)
}

func TestFindActiveIsScopedByRole(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.SaveSnapshot(ctx, sampleSnapshot(1)))

	_, err := repo.FindActive(ctx, user.RoleDriver)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, repo.FinishSnapshot(ctx, "ride-1", user.RolePassenger))
	_, err = repo.FindActive(ctx, user.RolePassenger)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSaveRecordUpsertsPerTripAndRole(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	snap := sampleSnapshot(3)
	snap.Phase = trip.PhaseCompleted
	snap.Status = trip.StatusCompleted
	require.NoError(t, repo.SaveRecord(ctx, trip.RecordFromSnapshot(snap)))

	rating := 5
	snap.Phase = trip.PhaseReviewed
	snap.Trip.Rating = &rating
	require.NoError(t, repo.SaveRecord(ctx, trip.RecordFromSnapshot(snap)))

	records, total, err := repo.ListRecords(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, records, 1)
	assert.Equal(t, trip.PhaseReviewed, records[0].Phase)
	assert.Equal(t, "Central", records[0].From)
	require.NotNil(t, records[0].Rating)
	assert.Equal(t, 5, *records[0].Rating)
}

func TestListRecordsPaginatesNewestFirst(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		phase := trip.PhaseCompleted
		if i%2 == 1 {
			phase = trip.PhaseCancelled
		}
		require.NoError(t, repo.SaveRecord(ctx, &trip.Record{
			TripID:    fmt.Sprintf("ride-%d", i),
			Role:      user.RoleDriver,
			Phase:     phase,
			UpdatedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}

	page, total, err := repo.ListRecords(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	require.Len(t, page, 2)
	assert.Equal(t, "ride-4", page[0].TripID)
	assert.Equal(t, "ride-3", page[1].TripID)

	last, _, err := repo.ListRecords(ctx, 3, 2)
	require.NoError(t, err)
	require.Len(t, last, 1)
	assert.Equal(t, "ride-0", last[0].TripID)

	counts, err := repo.CountByPhase(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), counts["completed"])
	assert.Equal(t, int64(2), counts["cancelled"])
}
