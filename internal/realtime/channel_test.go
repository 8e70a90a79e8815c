package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rideline/ridectl/internal/common/domain"
	"github.com/rideline/ridectl/internal/domain/credential"
	"github.com/rideline/ridectl/internal/domain/trip"
	"github.com/rideline/ridectl/internal/domain/user"
	"github.com/rideline/ridectl/internal/securestore"
	"github.com/rideline/ridectl/internal/simulator"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fixture struct {
	sim    *simulator.Server
	wsURL  string
	store  *securestore.MemoryStore
	userID string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	sim := simulator.New(simulator.Options{}, zap.NewNop())
	srv := httptest.NewServer(sim.Handler())
	t.Cleanup(srv.Close)

	u, err := sim.CreateAccount("Rider", "rider@example.com", "password123", user.RolePassenger)
	require.NoError(t, err)
	token, err := sim.IssueToken("rider@example.com")
	require.NoError(t, err)

	store := securestore.NewMemoryStore()
	require.NoError(t, store.Save(context.Background(), credential.FromToken(token, user.RolePassenger)))

	return &fixture{
		sim:    sim,
		wsURL:  "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
		store:  store,
		userID: u.ID,
	}
}

func (f *fixture) channel(t *testing.T) *Channel {
	t.Helper()
	ch := NewChannel(f.wsURL, f.store, Options{InitialBackoff: 5 * time.Millisecond, MaxBackoff: 20 * time.Millisecond}, zap.NewNop())
	t.Cleanup(func() { _ = ch.Close() })
	return ch
}

// requestRide creates a ride through the simulator's HTTP API.
func (f *fixture) requestRide(t *testing.T) string {
	t.Helper()
	creds, err := f.store.Load(context.Background())
	require.NoError(t, err)

	body := `{"pickup":{"lat":52.3791,"lng":4.9003},"drop_off":{"lat":52.36,"lng":4.8852}}`
	req := httptest.NewRequest("POST", "/api/v1/rides", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+creds.Token)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.sim.Handler().ServeHTTP(w, req)
	require.Equal(t, 201, w.Code, w.Body.String())

	var resp struct {
		Data struct {
			Ride trip.Trip `json:"ride"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Data.Ride.ID
}

func TestChannelDeliversStatusFrames(t *testing.T) {
	f := newFixture(t)
	ch := f.channel(t)

	got := make(chan Frame, 4)
	ch.Subscribe("ride_status_update", func(fr Frame) { got <- fr })
	require.NoError(t, ch.Connect(context.Background()))
	require.Eventually(t, func() bool { return f.sim.Connections(f.userID) == 1 }, time.Second, time.Millisecond)

	tripID := f.requestRide(t)
	require.NoError(t, f.sim.SetStatus(tripID, trip.StatusAccepted))

	select {
	case fr := <-got:
		var payload struct {
			TripID string      `json:"trip_id"`
			Status trip.Status `json:"status"`
		}
		require.NoError(t, json.Unmarshal(fr.Data, &payload))
		assert.Equal(t, tripID, payload.TripID)
		assert.Equal(t, trip.StatusAccepted, payload.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("no status frame received")
	}
}

func TestChannelEmitReachesServer(t *testing.T) {
	f := newFixture(t)
	ch := f.channel(t)
	require.NoError(t, ch.Connect(context.Background()))
	tripID := f.requestRide(t)

	err := ch.Emit(context.Background(), "location_update", map[string]any{
		"trip_id": tripID,
		"lat":     52.3790,
		"lng":     4.9001,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, live, _ := f.sim.Ride(tripID)
		return live.PassengerLocation != nil && live.PassengerLocation.Lat == 52.3790
	}, 2*time.Second, 5*time.Millisecond)
}

func TestChannelReconnectsAndKeepsSubscriptions(t *testing.T) {
	f := newFixture(t)
	ch := f.channel(t)

	got := make(chan Frame, 4)
	unsubscribe := ch.Subscribe("ride_status_update", func(fr Frame) { got <- fr })
	defer unsubscribe()
	require.NoError(t, ch.Connect(context.Background()))
	require.Eventually(t, func() bool { return f.sim.Connections(f.userID) == 1 }, time.Second, time.Millisecond)

	f.sim.DropConnections()
	require.Eventually(t, func() bool { return ch.Connects() == 2 && f.sim.Connections(f.userID) == 1 }, 2*time.Second, 5*time.Millisecond)

	tripID := f.requestRide(t)
	require.NoError(t, f.sim.SetStatus(tripID, trip.StatusCancelled))
	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("subscription lost across reconnect")
	}
}

func TestChannelRequiresCredentials(t *testing.T) {
	f := newFixture(t)

	ch := NewChannel(f.wsURL, securestore.NewMemoryStore(), Options{}, zap.NewNop())
	err := ch.Connect(context.Background())
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	bad := securestore.NewMemoryStore()
	require.NoError(t, bad.Save(context.Background(), &credential.Credentials{Token: "forged"}))
	ch = NewChannel(f.wsURL, bad, Options{}, zap.NewNop())
	err = ch.Connect(context.Background())
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestChannelCloseStopsEverything(t *testing.T) {
	f := newFixture(t)
	ch := f.channel(t)
	require.NoError(t, ch.Connect(context.Background()))
	assert.True(t, ch.Connected())

	require.NoError(t, ch.Close())
	assert.False(t, ch.Connected())
	assert.Error(t, ch.Emit(context.Background(), "location_update", map[string]any{}))
	assert.ErrorIs(t, ch.Connect(context.Background()), ErrClosed)
	require.Eventually(t, func() bool { return f.sim.Connections(f.userID) == 0 }, time.Second, time.Millisecond)
}

func TestChannelKeepsDialingWhenServerStartsLate(t *testing.T) {
	sim := simulator.New(simulator.Options{}, zap.NewNop())
	u, err := sim.CreateAccount("Rider", "late@example.com", "password123", user.RolePassenger)
	require.NoError(t, err)
	token, err := sim.IssueToken("late@example.com")
	require.NoError(t, err)
	store := securestore.NewMemoryStore()
	require.NoError(t, store.Save(context.Background(), credential.FromToken(token, user.RolePassenger)))

	var up atomic.Bool
	api := sim.Handler()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !up.Load() {
			http.Error(w, "starting", http.StatusServiceUnavailable)
			return
		}
		api.ServeHTTP(w, r)
	}))
	defer srv.Close()

	ch := NewChannel("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", store,
		Options{InitialBackoff: 5 * time.Millisecond, MaxBackoff: 20 * time.Millisecond}, zap.NewNop())
	defer func() { _ = ch.Close() }()

	err = ch.Connect(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrUnauthorized)
	assert.False(t, ch.Connected())

	up.Store(true)
	require.Eventually(t, func() bool {
		return ch.Connected() && sim.Connections(u.ID) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, ch.Connects())
}
