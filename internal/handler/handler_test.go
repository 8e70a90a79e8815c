package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rideline/ridectl/internal/common/database"
	"github.com/rideline/ridectl/internal/common/domain"
	"github.com/rideline/ridectl/internal/config"
	"github.com/rideline/ridectl/internal/domain/credential"
	"github.com/rideline/ridectl/internal/domain/trip"
	"github.com/rideline/ridectl/internal/domain/user"
	"github.com/rideline/ridectl/internal/repository"
	"github.com/rideline/ridectl/internal/securestore"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeTracker struct {
	mu        sync.Mutex
	snap      trip.Snapshot
	events    chan trip.Transition
	cancelled string
	review    *trip.Review
	err       error
}

func newFakeTracker(phase trip.Phase) *fakeTracker {
	return &fakeTracker{
		snap:   trip.Snapshot{TripID: "ride-1", Role: user.RolePassenger, Phase: phase, Version: 3},
		events: make(chan trip.Transition, 4),
	}
}

func (f *fakeTracker) State() trip.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeTracker) Subscribe(int) (<-chan trip.Transition, func()) {
	return f.events, func() {}
}

func (f *fakeTracker) Refresh(context.Context) error { return f.err }

func (f *fakeTracker) ConfirmMeet(context.Context) (*trip.LiveState, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &trip.LiveState{TripID: "ride-1", PassengerConfirmedMeet: true}, nil
}

func (f *fakeTracker) Cancel(_ context.Context, reason string) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = reason
	f.snap.Phase = trip.PhaseCancelled
	return nil
}

func (f *fakeTracker) MarkReviewed(_ context.Context, review trip.Review) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.review = &review
	f.snap.Phase = trip.PhaseReviewed
	return nil
}

type envelope struct {
	Success    bool            `json:"success"`
	Data       json.RawMessage `json:"data"`
	Error      string          `json:"error"`
	Pagination *struct {
		Total      int64 `json:"total"`
		TotalPages int64 `json:"total_pages"`
	} `json:"pagination"`
}

func do(t *testing.T, r http.Handler, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var env envelope
	_ = json.Unmarshal(w.Body.Bytes(), &env)
	return w, env
}

func TestTripEndpoints(t *testing.T) {
	tracker := newFakeTracker(trip.PhaseMatched)
	r := NewRouter(zap.NewNop(), NewTripHandler(tracker))

	w, env := do(t, r, http.MethodGet, "/api/v1/trips/current", "")
	require.Equal(t, http.StatusOK, w.Code)
	var snap trip.Snapshot
	require.NoError(t, json.Unmarshal(env.Data, &snap))
	assert.Equal(t, trip.PhaseMatched, snap.Phase)

	w, env = do(t, r, http.MethodPost, "/api/v1/trips/current/confirm-meet", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), `"passenger_confirmed_meet":true`)

	w, _ = do(t, r, http.MethodPost, "/api/v1/trips/current/cancel", `{"reason":"changed plans"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "changed plans", tracker.cancelled)
}

func TestCancelWithoutBody(t *testing.T) {
	tracker := newFakeTracker(trip.PhaseSearching)
	r := NewRouter(zap.NewNop(), NewTripHandler(tracker))

	w, _ := do(t, r, http.MethodPost, "/api/v1/trips/current/cancel", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, tracker.cancelled)
}

func TestReviewValidatesBody(t *testing.T) {
	tracker := newFakeTracker(trip.PhaseCompleted)
	r := NewRouter(zap.NewNop(), NewTripHandler(tracker))

	w, env := do(t, r, http.MethodPost, "/api/v1/trips/current/review", `{"rating":9}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.NotEmpty(t, env.Error)

	w, _ = do(t, r, http.MethodPost, "/api/v1/trips/current/review", `{"rating":4,"comment":"smooth"}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, tracker.review)
	assert.Equal(t, 4, tracker.review.Rating)
}

func TestTripErrorsMapToStatus(t *testing.T) {
	tracker := newFakeTracker(trip.PhaseCompleted)
	r := NewRouter(zap.NewNop(), NewTripHandler(tracker))

	tracker.err = domain.NewInvalidStateError("completed", "cancelled")
	w, env := do(t, r, http.MethodPost, "/api/v1/trips/current/cancel", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, env.Error, "cannot transition")

	tracker.err = domain.NewNotFoundError("Trip", "ride-1")
	w, _ = do(t, r, http.MethodPost, "/api/v1/trips/current/refresh", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	tracker.mu.Lock()
	tracker.snap = trip.Snapshot{Role: user.RolePassenger, Phase: trip.PhaseIdle}
	tracker.mu.Unlock()
	w, env = do(t, r, http.MethodGet, "/api/v1/trips/current", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.False(t, env.Success)
	assert.Contains(t, env.Error, "no trip is being tracked")
}

func TestStreamEventsSendsSnapshotThenTransitions(t *testing.T) {
	tracker := newFakeTracker(trip.PhaseSearching)
	srv := httptest.NewServer(NewRouter(zap.NewNop(), NewTripHandler(tracker)))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/trips/current/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	nextEvent := func() (string, string) {
		var name, data string
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			line = strings.TrimRight(line, "\n")
			switch {
			case strings.HasPrefix(line, "event:"):
				name = strings.TrimPrefix(line, "event:")
			case strings.HasPrefix(line, "data:"):
				data = strings.TrimPrefix(line, "data:")
			case line == "" && name != "":
				return name, data
			}
		}
	}

	name, data := nextEvent()
	assert.Equal(t, "snapshot", name)
	assert.Contains(t, data, `"phase":"searching"`)

	tracker.events <- trip.Transition{TripID: "ride-1", From: trip.PhaseSearching, To: trip.PhaseMatched}
	name, data = nextEvent()
	assert.Equal(t, "transition", name)
	assert.Contains(t, data, `"to":"matched"`)
}

func TestHistoryEndpoints(t *testing.T) {
	db, err := database.Connect(config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:"}, zap.NewNop(), repository.Models()...)
	require.NoError(t, err)
	defer func() { _ = database.Close(db) }()
	repo := repository.NewGormTripRepository(db)

	ctx := context.Background()
	for i, phase := range []trip.Phase{trip.PhaseCompleted, trip.PhaseCancelled, trip.PhaseReviewed} {
		require.NoError(t, repo.SaveRecord(ctx, &trip.Record{
			TripID:    "ride-" + string(rune('a'+i)),
			Role:      user.RolePassenger,
			Phase:     phase,
			UpdatedAt: time.Now().Add(time.Duration(i) * time.Minute),
		}))
	}

	r := NewRouter(zap.NewNop(), NewHistoryHandler(repo))

	w, env := do(t, r, http.MethodGet, "/api/v1/trips/history?page=1&limit=2", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, env.Pagination)
	assert.Equal(t, int64(3), env.Pagination.Total)
	assert.Equal(t, int64(2), env.Pagination.TotalPages)
	var records []trip.Record
	require.NoError(t, json.Unmarshal(env.Data, &records))
	require.Len(t, records, 2)
	assert.Equal(t, "ride-c", records[0].TripID)

	w, env = do(t, r, http.MethodGet, "/api/v1/trips/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	var stats map[string]int64
	require.NoError(t, json.Unmarshal(env.Data, &stats))
	assert.Equal(t, int64(1), stats["cancelled"])
}

func TestSessionEndpoint(t *testing.T) {
	store := securestore.NewMemoryStore()
	r := NewRouter(zap.NewNop(), NewSessionHandler(store))

	w, _ := do(t, r, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = do(t, r, http.MethodGet, "/api/v1/session", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	require.NoError(t, store.Save(context.Background(), &credential.Credentials{
		Token:  "secret-token",
		Role:   user.RoleDriver,
		UserID: "u-9",
	}))
	w, env := do(t, r, http.MethodGet, "/api/v1/session", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "secret-token")
	var view SessionView
	require.NoError(t, json.Unmarshal(env.Data, &view))
	assert.Equal(t, "DRIVER", view.Role)
	assert.Equal(t, "u-9", view.UserID)
	assert.False(t, view.Expired)
}
