package lifecycle

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rideline/ridectl/internal/common/domain"
	"github.com/rideline/ridectl/internal/domain/trip"
)

// LocationSource yields the device position.
type LocationSource interface {
	Current(ctx context.Context) (trip.Location, error)
}

// LocationPush sends a position to the server.
type LocationPush func(ctx context.Context, loc trip.Location) error

// ReporterConfig controls the location reporter.
type ReporterConfig struct {
	Interval      time.Duration
	MaxBackoff    time.Duration
	MinMoveMeters float64
	// Heartbeat forces a push after this long even when stationary.
	Heartbeat time.Duration
}

// LocationReporter samples a source every interval and pushes positions that
// moved far enough, or when the heartbeat is due.
type LocationReporter struct {
	source LocationSource
	push   LocationPush
	cfg    ReporterConfig
	logger *zap.Logger
	now    func() time.Time

	mu       sync.Mutex
	last     *trip.Location
	lastSent time.Time
	sent     int
}

// NewLocationReporter creates a new LocationReporter.
func NewLocationReporter(source LocationSource, push LocationPush, cfg ReporterConfig, logger *zap.Logger) *LocationReporter {
	return &LocationReporter{
		source: source,
		push:   push,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Run reports until ctx ends or the server rejects the session.
func (r *LocationReporter) Run(ctx context.Context) error {
	return NewPoller("location", r.cfg.Interval, r.cfg.MaxBackoff, r.tick, r.logger).Run(ctx)
}

// Sent returns how many positions were pushed.
func (r *LocationReporter) Sent() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sent
}

// Last returns the last pushed position.
func (r *LocationReporter) Last() (trip.Location, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return trip.Location{}, false
	}
	return *r.last, true
}

func (r *LocationReporter) tick(ctx context.Context) (bool, error) {
	loc, err := r.source.Current(ctx)
	if err != nil {
		return false, err
	}
	if err := loc.Validate(); err != nil {
		return false, domain.NewValidationError(err.Error())
	}

	now := r.now()
	if !r.due(loc, now) {
		return false, nil
	}
	if err := r.push(ctx, loc); err != nil {
		return false, err
	}

	r.mu.Lock()
	l := loc
	r.last = &l
	r.lastSent = now
	r.sent++
	r.mu.Unlock()
	return false, nil
}

func (r *LocationReporter) due(loc trip.Location, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return true
	}
	if r.last.DistanceMeters(loc) >= r.cfg.MinMoveMeters {
		return true
	}
	return r.cfg.Heartbeat > 0 && now.Sub(r.lastSent) >= r.cfg.Heartbeat
}

// StaticSource always reports the same position.
type StaticSource struct {
	Location trip.Location
}

// Current implements LocationSource.
func (s StaticSource) Current(context.Context) (trip.Location, error) {
	return s.Location, nil
}

// ReplaySource walks a list of points, one per call, and then stays on the
// last one. It drives simulated trips from a decoded route.
type ReplaySource struct {
	mu     sync.Mutex
	points []trip.Location
	next   int
}

// NewReplaySource creates a ReplaySource.
func NewReplaySource(points []trip.Location) (*ReplaySource, error) {
	if len(points) == 0 {
		return nil, domain.NewValidationError("replay route has no points")
	}
	cp := make([]trip.Location, len(points))
	copy(cp, points)
	return &ReplaySource{points: cp}, nil
}

// Current implements LocationSource.
func (s *ReplaySource) Current(context.Context) (trip.Location, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	loc := s.points[s.next]
	if s.next < len(s.points)-1 {
		s.next++
	}
	return loc, nil
}

// Done reports whether the last point was reached.
func (s *ReplaySource) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next == len(s.points)-1
}
