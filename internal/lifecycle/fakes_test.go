package lifecycle

import (
	"context"
	"errors"
	"sync"

	"github.com/rideline/ridectl/internal/common/domain"
	"github.com/rideline/ridectl/internal/domain/trip"
	"github.com/rideline/ridectl/internal/domain/user"
)

// scriptedRides serves one trip whose live state follows a script: each Live
// call pops the next entry until one remains.
type scriptedRides struct {
	mu       sync.Mutex
	trip     trip.Trip
	script   []trip.LiveState
	liveErrs []error
	current  *trip.Trip

	liveCalls   int
	getCalls    int
	cancelCalls int
	reviews     []trip.Review
}

func newScriptedRides(id string, states ...trip.LiveState) *scriptedRides {
	for i := range states {
		states[i].TripID = id
	}
	return &scriptedRides{trip: trip.Trip{ID: id, Status: states[0].Status}, script: states}
}

func (f *scriptedRides) Current(context.Context) (*trip.Trip, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current, nil
}

func (f *scriptedRides) Get(_ context.Context, id string) (*trip.Trip, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	if id != f.trip.ID {
		return nil, domain.NewNotFoundError("Ride", id)
	}
	t := f.trip
	return &t, nil
}

func (f *scriptedRides) Live(_ context.Context, id string) (*trip.LiveState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.liveCalls++
	if len(f.liveErrs) > 0 {
		err := f.liveErrs[0]
		f.liveErrs = f.liveErrs[1:]
		return nil, err
	}
	state := f.script[0]
	if len(f.script) > 1 {
		f.script = f.script[1:]
	}
	f.trip.Status = state.Status
	return &state, nil
}

func (f *scriptedRides) ConfirmMeet(_ context.Context, id string) (*trip.LiveState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state := trip.LiveState{TripID: id, Status: f.trip.Status, PassengerConfirmedMeet: true}
	return &state, nil
}

func (f *scriptedRides) Cancel(_ context.Context, id, reason string) (*trip.Trip, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelCalls++
	f.trip.Status = trip.StatusCancelled
	f.trip.CancelReason = reason
	f.script = []trip.LiveState{{TripID: id, Status: trip.StatusCancelled}}
	t := f.trip
	return &t, nil
}

func (f *scriptedRides) Review(_ context.Context, _ string, review trip.Review) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reviews = append(f.reviews, review)
	return nil
}

func (f *scriptedRides) calls() (live, get int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.liveCalls, f.getCalls
}

// memoryRepo is an in-memory trip.SnapshotRepository.
type memoryRepo struct {
	mu       sync.Mutex
	active   map[string]trip.Snapshot
	records  map[string]trip.Record
	finished []string

	// failSaves makes SaveSnapshot fail for these versions.
	failSaves map[int64]bool
	conflicts int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{active: make(map[string]trip.Snapshot), records: make(map[string]trip.Record)}
}

func (r *memoryRepo) SaveSnapshot(_ context.Context, s *trip.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failSaves[s.Version] {
		return errors.New("disk I/O error")
	}
	key := s.TripID + "/" + s.Role.String()
	if cur, ok := r.active[key]; ok && cur.Version >= s.Version {
		r.conflicts++
		return domain.NewConflictError("stale snapshot version")
	}
	r.active[key] = *s
	return nil
}

func (r *memoryRepo) FindActive(_ context.Context, role user.Role) (*trip.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.active {
		if s.Role == role {
			cp := s
			return &cp, nil
		}
	}
	return nil, domain.NewNotFoundError("Snapshot", role.String())
}

func (r *memoryRepo) FinishSnapshot(_ context.Context, tripID string, role user.Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, tripID+"/"+role.String())
	r.finished = append(r.finished, tripID)
	return nil
}

func (r *memoryRepo) SaveRecord(_ context.Context, rec *trip.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[rec.TripID] = *rec
	return nil
}

func (r *memoryRepo) ListRecords(context.Context, int, int) ([]*trip.Record, int64, error) {
	return nil, 0, nil
}

func (r *memoryRepo) CountByPhase(context.Context) (map[string]int64, error) {
	return nil, nil
}

func (r *memoryRepo) record(tripID string) (trip.Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[tripID]
	return rec, ok
}

func (r *memoryRepo) stored(tripID string, role user.Role) (trip.Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.active[tripID+"/"+role.String()]
	return s, ok
}

func (r *memoryRepo) conflictCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conflicts
}

func (r *memoryRepo) activeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// recordingSink captures transitions and optionally fails.
type recordingSink struct {
	mu   sync.Mutex
	got  []trip.Transition
	fail error
}

func (s *recordingSink) PublishTransition(_ context.Context, tr trip.Transition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, tr)
	return s.fail
}

func (s *recordingSink) phases() []trip.Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]trip.Phase, 0, len(s.got))
	for _, tr := range s.got {
		out = append(out, tr.To)
	}
	return out
}
