// Package daemon runs the long-lived client: trip tracking, location
// reporting, realtime and broker nudges, and the local status API.
package daemon

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rideline/ridectl/internal/common/domain"
	"github.com/rideline/ridectl/internal/domain/trip"
	"github.com/rideline/ridectl/internal/lifecycle"
	"github.com/rideline/ridectl/internal/realtime"
)

// Frame types that mean the tracked trip may have changed.
var nudgeFrames = []string{"ride_status_update", "ride_request", "ride_update"}

// TripSource finds the caller's current server-side trip.
type TripSource interface {
	Current(ctx context.Context) (*trip.Trip, error)
}

// SignalSource is a blocking consumer of broker signals.
type SignalSource interface {
	Start(ctx context.Context) error
	Close() error
}

// Config bundles the daemon's parts. Only Tracker and Trips are required.
type Config struct {
	Tracker  *lifecycle.Tracker
	Trips    TripSource
	Reporter *lifecycle.LocationReporter
	Channel  *realtime.Channel
	Signals  SignalSource
	Server   *http.Server

	// IdleInterval is how often the daemon looks for a new trip while idle.
	IdleInterval    time.Duration
	ShutdownTimeout time.Duration
}

// Daemon supervises the configured components.
type Daemon struct {
	cfg    Config
	logger *zap.Logger
	wake   chan struct{}
}

// New creates a new Daemon.
func New(cfg Config, logger *zap.Logger) *Daemon {
	if cfg.IdleInterval <= 0 {
		cfg.IdleInterval = 5 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	return &Daemon{cfg: cfg, logger: logger, wake: make(chan struct{}, 1)}
}

// Wake makes an idle daemon look for a trip immediately and nudges a running tracker.
func (d *Daemon) Wake() {
	d.cfg.Tracker.Nudge()
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Run blocks until ctx ends or a component fails for good, such as the
// session being rejected.
func (d *Daemon) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return d.track(ctx) })

	if d.cfg.Reporter != nil {
		g.Go(func() error {
			err := d.cfg.Reporter.Run(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				d.logger.Error("location reporter stopped", zap.Error(err))
				return err
			}
			return nil
		})
	}

	if d.cfg.Channel != nil {
		for _, ft := range nudgeFrames {
			unsubscribe := d.cfg.Channel.Subscribe(ft, func(realtime.Frame) { d.Wake() })
			defer unsubscribe()
		}
		g.Go(func() error {
			if err := d.cfg.Channel.Connect(ctx); err != nil {
				// Polling still works without the socket; the channel
				// keeps redialling unless the session was rejected.
				d.logger.Warn("realtime channel not connected yet", zap.Error(err))
			}
			<-ctx.Done()
			return d.cfg.Channel.Close()
		})
	}

	if d.cfg.Signals != nil {
		g.Go(func() error {
			d.logger.Info("starting signal consumer")
			if err := d.cfg.Signals.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				d.logger.Error("signal consumer error", zap.Error(err))
			}
			return d.cfg.Signals.Close()
		})
	}

	if srv := d.cfg.Server; srv != nil {
		g.Go(func() error {
			d.logger.Info("local API starting", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), d.cfg.ShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				d.logger.Error("local API forced shutdown", zap.Error(err))
			}
			return nil
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// track follows one trip at a time and looks for the next one while idle.
func (d *Daemon) track(ctx context.Context) error {
	tracker := d.cfg.Tracker
	for {
		if err := d.adopt(ctx); err != nil {
			if errors.Is(err, domain.ErrUnauthorized) {
				return err
			}
			if ctx.Err() != nil {
				return nil
			}
			d.logger.Warn("failed to look up current trip", zap.Error(err))
		}

		if snap := tracker.State(); snap.TripID != "" && !snap.Phase.StopsPolling() {
			err := tracker.Run(ctx)
			switch {
			case ctx.Err() != nil:
				return nil
			case errors.Is(err, domain.ErrUnauthorized):
				return err
			case err == nil:
				continue
			case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrForbidden):
				// Purged, or left behind by another account. The next
				// adopt asks the server for the real current trip.
				d.logger.Warn("tracked trip is gone from the server", zap.String("trip_id", snap.TripID), zap.Error(err))
				tracker.Drop(ctx)
			default:
				d.logger.Warn("trip tracking stopped", zap.Error(err))
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-d.wake:
		case <-time.After(d.cfg.IdleInterval):
		}
	}
}

// adopt starts tracking the server's current trip when the tracker is idle
// or holds a finished one.
func (d *Daemon) adopt(ctx context.Context) error {
	tracker := d.cfg.Tracker
	snap := tracker.State()
	if snap.TripID == "" {
		found, err := tracker.Resume(ctx)
		if err != nil || found {
			return err
		}
		return nil
	}
	if !snap.Phase.StopsPolling() {
		return nil
	}

	current, err := d.cfg.Trips.Current(ctx)
	if err != nil || current == nil || current.ID == snap.TripID || !current.IsActive() {
		return err
	}
	d.logger.Info("new trip found", zap.String("trip_id", current.ID))
	return tracker.Begin(ctx, current, nil)
}
