package lifecycle

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rideline/ridectl/internal/common/domain"
	"github.com/rideline/ridectl/internal/domain/trip"
	"github.com/rideline/ridectl/internal/domain/user"
)

// ErrNoTrip is returned when an operation needs a tracked trip and there is none.
var ErrNoTrip error = &domain.Error{Kind: domain.ErrNotFound, Message: "no trip is being tracked"}

// RideAPI is the subset of the ride endpoints the tracker drives.
type RideAPI interface {
	Current(ctx context.Context) (*trip.Trip, error)
	Get(ctx context.Context, tripID string) (*trip.Trip, error)
	Live(ctx context.Context, tripID string) (*trip.LiveState, error)
	ConfirmMeet(ctx context.Context, tripID string) (*trip.LiveState, error)
	Cancel(ctx context.Context, tripID, reason string) (*trip.Trip, error)
	Review(ctx context.Context, tripID string, review trip.Review) error
}

// TransitionSink receives every phase change of a tracked trip.
type TransitionSink interface {
	PublishTransition(ctx context.Context, t trip.Transition) error
}

// TrackerConfig controls polling and side-effect timeouts.
type TrackerConfig struct {
	Interval   time.Duration
	MaxBackoff time.Duration
	// SinkTimeout bounds each sink publish and repository write.
	SinkTimeout time.Duration
}

// Tracker owns the lifecycle of one trip for one role. All phase changes go
// through apply, which only moves forward.
type Tracker struct {
	role   user.Role
	rides  RideAPI
	repo   trip.SnapshotRepository
	sinks  []TransitionSink
	cfg    TrackerConfig
	logger *zap.Logger
	now    func() time.Time

	mu      sync.RWMutex
	snap    trip.Snapshot
	subs    map[int]chan trip.Transition
	nextSub int

	pollMu sync.Mutex
	poller *Poller

	// emitMu orders side effects; saved tracks the newest persisted version.
	emitMu sync.Mutex
	saved  savedVersion
}

type savedVersion struct {
	tripID  string
	version int64
}

// NewTracker creates a new Tracker. repo may be nil.
func NewTracker(role user.Role, rides RideAPI, repo trip.SnapshotRepository, cfg TrackerConfig, logger *zap.Logger, sinks ...TransitionSink) *Tracker {
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = 5 * time.Second
	}
	return &Tracker{
		role:   role,
		rides:  rides,
		repo:   repo,
		sinks:  sinks,
		cfg:    cfg,
		logger: logger.With(zap.String("role", role.String())),
		now:    time.Now,
		snap:   trip.Snapshot{Role: role, Phase: trip.PhaseIdle},
		subs:   make(map[int]chan trip.Transition),
	}
}

// State returns a copy of the tracked snapshot.
func (t *Tracker) State() trip.Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snap
}

// Role returns the role this tracker acts for.
func (t *Tracker) Role() user.Role { return t.role }

// Subscribe returns a channel of transitions and a function that ends the
// subscription. Slow subscribers miss transitions rather than stall the tracker.
func (t *Tracker) Subscribe(buffer int) (<-chan trip.Transition, func()) {
	ch := make(chan trip.Transition, buffer)
	t.mu.Lock()
	id := t.nextSub
	t.nextSub++
	t.subs[id] = ch
	t.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.subs, id)
			t.mu.Unlock()
			close(ch)
		})
	}
}

// Requesting moves an idle tracker into the requesting phase while a ride
// request is in flight.
func (t *Tracker) Requesting(ctx context.Context) error {
	t.mu.Lock()
	if t.snap.TripID != "" && !t.snap.Phase.StopsPolling() {
		t.mu.Unlock()
		return domain.NewConflictError("a trip is already being tracked")
	}
	prev := t.snap
	t.snap = trip.Snapshot{Role: t.role, Phase: trip.PhaseIdle}
	tr, snap := t.advanceLocked(trip.PhaseRequesting)
	t.mu.Unlock()

	t.release(ctx, prev)
	t.emit(ctx, tr, snap)
	return nil
}

// Abandon returns a tracker stuck in requesting to idle after a failed request.
func (t *Tracker) Abandon() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.snap.Phase == trip.PhaseRequesting && t.snap.TripID == "" {
		t.snap = trip.Snapshot{Role: t.role, Phase: trip.PhaseIdle}
	}
}

// Begin starts tracking a trip the server just returned.
func (t *Tracker) Begin(ctx context.Context, tp *trip.Trip, live *trip.LiveState) error {
	if tp == nil || tp.ID == "" {
		return domain.NewValidationError("trip id is required")
	}

	t.mu.Lock()
	if t.snap.TripID != "" && t.snap.TripID != tp.ID && !t.snap.Phase.StopsPolling() {
		t.mu.Unlock()
		return domain.NewConflictError("another trip is already being tracked")
	}
	prev := t.snap
	if t.snap.TripID != tp.ID {
		phase := trip.PhaseIdle
		if t.snap.Phase == trip.PhaseRequesting && t.snap.TripID == "" {
			phase = trip.PhaseRequesting
		}
		t.snap = trip.Snapshot{TripID: tp.ID, Role: t.role, Phase: phase}
	}
	t.mu.Unlock()

	if prev.TripID != tp.ID {
		t.release(ctx, prev)
	}
	t.apply(ctx, tp, live)
	return nil
}

// release drops the stored snapshot of a completed but unreviewed trip that
// a new trip replaces. Terminal trips were already finished by emit.
func (t *Tracker) release(ctx context.Context, prev trip.Snapshot) {
	if prev.TripID == "" {
		return
	}
	t.emitMu.Lock()
	if t.saved.tripID == prev.TripID {
		t.saved = savedVersion{}
	}
	t.emitMu.Unlock()
	if t.repo == nil || prev.Phase.IsTerminal() {
		return
	}
	base, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.cfg.SinkTimeout)
	defer cancel()
	if err := t.repo.FinishSnapshot(base, prev.TripID, t.role); err != nil {
		t.logger.Warn("failed to release replaced trip", zap.String("trip_id", prev.TripID), zap.Error(err))
	}
}

// Drop forgets the tracked trip without a transition and returns to idle.
// It is for trips the server no longer shows to this account.
func (t *Tracker) Drop(ctx context.Context) {
	t.mu.Lock()
	prev := t.snap
	t.snap = trip.Snapshot{Role: t.role, Phase: trip.PhaseIdle}
	t.mu.Unlock()

	if prev.TripID == "" {
		return
	}
	t.logger.Warn("dropping tracked trip",
		zap.String("trip_id", prev.TripID),
		zap.String("phase", prev.Phase.String()),
	)
	t.release(ctx, prev)
}

// Resume restores tracking after a restart: the persisted snapshot first,
// then the server's current trip. It reports whether a trip is tracked.
func (t *Tracker) Resume(ctx context.Context) (bool, error) {
	if t.repo != nil {
		snap, err := t.repo.FindActive(ctx, t.role)
		switch {
		case err == nil:
			t.mu.Lock()
			t.snap = *snap
			t.mu.Unlock()
			t.logger.Info("resumed trip from local state",
				zap.String("trip_id", snap.TripID),
				zap.String("phase", snap.Phase.String()),
			)
			return true, nil
		case !errors.Is(err, domain.ErrNotFound):
			return false, err
		}
	}

	current, err := t.rides.Current(ctx)
	if err != nil {
		return false, err
	}
	if current == nil {
		return false, nil
	}
	if err := t.Begin(ctx, current, nil); err != nil {
		return false, err
	}
	t.logger.Info("resumed trip from server", zap.String("trip_id", current.ID))
	return true, nil
}

// Run polls the tracked trip until its phase stops polling or ctx ends.
func (t *Tracker) Run(ctx context.Context) error {
	snap := t.State()
	if snap.TripID == "" {
		return ErrNoTrip
	}
	if snap.Phase.StopsPolling() {
		return nil
	}

	p := NewPoller("trip:"+snap.TripID, t.cfg.Interval, t.cfg.MaxBackoff, t.poll, t.logger)
	t.pollMu.Lock()
	t.poller = p
	t.pollMu.Unlock()
	defer func() {
		t.pollMu.Lock()
		t.poller = nil
		t.pollMu.Unlock()
	}()

	return p.Run(ctx)
}

// Nudge asks the running poller for an immediate refresh.
func (t *Tracker) Nudge() {
	t.pollMu.Lock()
	defer t.pollMu.Unlock()
	if t.poller != nil {
		t.poller.Nudge()
	}
}

// Refresh polls once outside the loop.
func (t *Tracker) Refresh(ctx context.Context) error {
	_, err := t.poll(ctx)
	return err
}

func (t *Tracker) poll(ctx context.Context) (bool, error) {
	snap := t.State()
	if snap.TripID == "" {
		return true, ErrNoTrip
	}
	if snap.Phase.StopsPolling() {
		return true, nil
	}

	live, err := t.rides.Live(ctx, snap.TripID)
	if err != nil {
		return false, err
	}

	var full *trip.Trip
	if snap.Trip == nil || live.Status == "" || live.Status != snap.Status {
		full, err = t.rides.Get(ctx, snap.TripID)
		if err != nil {
			return false, err
		}
	}

	t.apply(ctx, full, live)
	return t.State().Phase.StopsPolling(), nil
}

// ConfirmMeet tells the server the caller met the other party.
func (t *Tracker) ConfirmMeet(ctx context.Context) (*trip.LiveState, error) {
	snap := t.State()
	if snap.TripID == "" {
		return nil, ErrNoTrip
	}
	if snap.Phase != trip.PhaseMatched && snap.Phase != trip.PhaseMeeting {
		return nil, domain.NewInvalidStateError(snap.Phase.String(), "meet confirmation")
	}
	live, err := t.rides.ConfirmMeet(ctx, snap.TripID)
	if err != nil {
		return nil, err
	}
	t.apply(ctx, nil, live)
	t.Nudge()
	return live, nil
}

// Cancel cancels the tracked trip.
func (t *Tracker) Cancel(ctx context.Context, reason string) error {
	snap := t.State()
	if snap.TripID == "" {
		return ErrNoTrip
	}
	if !snap.Phase.CanAdvanceTo(trip.PhaseCancelled) {
		return domain.NewInvalidStateError(snap.Phase.String(), trip.PhaseCancelled.String())
	}
	cancelled, err := t.rides.Cancel(ctx, snap.TripID, reason)
	if err != nil {
		return err
	}
	if cancelled.ID == "" {
		cancelled.ID = snap.TripID
	}
	if cancelled.Status == "" {
		cancelled.Status = trip.StatusCancelled
	}
	t.apply(ctx, cancelled, nil)
	return nil
}

// MarkReviewed submits the review and closes a completed trip.
func (t *Tracker) MarkReviewed(ctx context.Context, review trip.Review) error {
	if err := review.Validate(); err != nil {
		return err
	}
	snap := t.State()
	if snap.TripID == "" {
		return ErrNoTrip
	}
	if snap.Phase != trip.PhaseCompleted {
		return domain.NewInvalidStateError(snap.Phase.String(), trip.PhaseReviewed.String())
	}
	if err := t.rides.Review(ctx, snap.TripID, review); err != nil {
		return err
	}

	t.mu.Lock()
	if t.snap.Phase != trip.PhaseCompleted {
		t.mu.Unlock()
		return domain.NewInvalidStateError(t.snap.Phase.String(), trip.PhaseReviewed.String())
	}
	if t.snap.Trip != nil {
		rated := *t.snap.Trip
		rating := review.Rating
		rated.Rating = &rating
		t.snap.Trip = &rated
	}
	tr, after := t.advanceLocked(trip.PhaseReviewed)
	t.mu.Unlock()

	t.emit(ctx, tr, after)
	return nil
}

// apply folds server data into the snapshot. Backward moves are stale reads
// and are dropped whole.
func (t *Tracker) apply(ctx context.Context, full *trip.Trip, live *trip.LiveState) {
	t.mu.Lock()
	status := t.snap.Status
	switch {
	case full != nil && full.Status != "":
		status = full.Status
	case live != nil && live.Status != "":
		status = live.Status
	}
	target := trip.PhaseFor(status, live)
	from := t.snap.Phase

	if target != from && !from.CanAdvanceTo(target) {
		tripID := t.snap.TripID
		t.mu.Unlock()
		t.logger.Debug("ignoring stale trip state",
			zap.String("trip_id", tripID),
			zap.String("phase", from.String()),
			zap.String("reported", target.String()),
		)
		return
	}

	t.snap.Status = status
	if full != nil {
		cp := *full
		t.snap.Trip = &cp
	}
	if live != nil {
		cp := *live
		t.snap.Live = &cp
	}
	if target == from {
		t.mu.Unlock()
		return
	}
	tr, snap := t.advanceLocked(target)
	t.mu.Unlock()

	t.emit(ctx, tr, snap)
}

// advanceLocked moves to a new phase and returns the transition plus a copy
// of the resulting snapshot. Callers hold t.mu.
func (t *Tracker) advanceLocked(to trip.Phase) (trip.Transition, trip.Snapshot) {
	now := t.now().UTC()
	tr := trip.Transition{
		TripID: t.snap.TripID,
		Role:   t.role,
		From:   t.snap.Phase,
		To:     to,
		Status: t.snap.Status,
		At:     now,
	}
	t.snap.Phase = to
	t.snap.UpdatedAt = now
	if t.snap.TripID != "" {
		t.snap.Version++
	}

	for id, ch := range t.subs {
		select {
		case ch <- tr:
		default:
			t.logger.Warn("transition subscriber is full, dropping", zap.Int("subscriber", id))
		}
	}
	return tr, t.snap
}

// emit persists the snapshot and fans the transition out to sinks.
func (t *Tracker) emit(ctx context.Context, tr trip.Transition, snap trip.Snapshot) {
	t.logger.Info("trip phase changed",
		zap.String("trip_id", tr.TripID),
		zap.String("from", tr.From.String()),
		zap.String("to", tr.To.String()),
		zap.String("status", tr.Status.String()),
	)
	if tr.TripID == "" {
		return
	}

	t.emitMu.Lock()
	defer t.emitMu.Unlock()

	base := context.WithoutCancel(ctx)
	if t.repo != nil {
		if t.saved.tripID == snap.TripID && snap.Version <= t.saved.version {
			t.logger.Debug("skipping superseded snapshot",
				zap.String("trip_id", snap.TripID),
				zap.Int64("version", snap.Version),
				zap.Int64("saved_version", t.saved.version),
			)
		} else {
			t.persist(base, &snap)
		}
	}
	for _, sink := range t.sinks {
		sctx, cancel := context.WithTimeout(base, t.cfg.SinkTimeout)
		if err := sink.PublishTransition(sctx, tr); err != nil {
			t.logger.Warn("failed to publish transition", zap.String("trip_id", tr.TripID), zap.Error(err))
		}
		cancel()
	}
}

func (t *Tracker) persist(base context.Context, snap *trip.Snapshot) {
	ctx, cancel := context.WithTimeout(base, t.cfg.SinkTimeout)
	defer cancel()

	// A failed save is repaired by the next one: the repository accepts any
	// version newer than the stored row.
	if err := t.repo.SaveSnapshot(ctx, snap); err != nil {
		t.logger.Warn("failed to save trip snapshot", zap.String("trip_id", snap.TripID), zap.Error(err))
	} else {
		t.saved = savedVersion{tripID: snap.TripID, version: snap.Version}
	}
	if snap.Phase == trip.PhaseCompleted || snap.Phase.IsTerminal() {
		if err := t.repo.SaveRecord(ctx, trip.RecordFromSnapshot(snap)); err != nil {
			t.logger.Warn("failed to save trip record", zap.String("trip_id", snap.TripID), zap.Error(err))
		}
	}
	if snap.Phase.IsTerminal() {
		if err := t.repo.FinishSnapshot(ctx, snap.TripID, snap.Role); err != nil {
			t.logger.Warn("failed to finish trip snapshot", zap.String("trip_id", snap.TripID), zap.Error(err))
		}
	}
}
