package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rideline/ridectl/internal/daemon"
	"github.com/rideline/ridectl/internal/domain/trip"
	"github.com/rideline/ridectl/internal/domain/user"
	"github.com/rideline/ridectl/internal/events"
	"github.com/rideline/ridectl/internal/handler"
	"github.com/rideline/ridectl/internal/lifecycle"
	"github.com/rideline/ridectl/internal/realtime"
)

type serveOptions struct {
	at         string
	replayFrom string
	replayTo   string
	noAPI      bool
}

func newServeCmd() *cobra.Command {
	var opts serveOptions
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Track trips in the background and expose them on a local API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), appFrom(cmd), opts)
		},
	}
	cmd.Flags().StringVar(&opts.at, "at", "", "report a fixed position lat,lng")
	cmd.Flags().StringVar(&opts.replayFrom, "replay-from", "", "replay a route starting at lat,lng")
	cmd.Flags().StringVar(&opts.replayTo, "replay-to", "", "replay a route ending at lat,lng")
	cmd.Flags().BoolVar(&opts.noAPI, "no-api", false, "do not start the local API")
	return cmd
}

func runServe(ctx context.Context, a *app, opts serveOptions) error {
	tracker, err := a.resumeTracker(ctx)
	if err != nil {
		return err
	}
	repo, err := a.tripRepository()
	if err != nil {
		return err
	}

	cfg := daemon.Config{
		Tracker: tracker,
		Trips:   a.rides,
		Channel: realtime.NewChannel(a.cfg.WSURL, a.store, realtime.Options{
			MaxBackoff: a.cfg.Poll.MaxBackoff,
		}, a.log.Named("realtime")),
		IdleInterval: a.cfg.Poll.Interval,
	}

	source, err := locationSource(ctx, a, opts)
	if err != nil {
		return err
	}
	if source != nil {
		cfg.Reporter = lifecycle.NewLocationReporter(source, locationPush(a, tracker), lifecycle.ReporterConfig{
			Interval:      a.cfg.Location.Interval,
			MaxBackoff:    a.cfg.Poll.MaxBackoff,
			MinMoveMeters: a.cfg.Location.MinMoveMeters,
			Heartbeat:     a.cfg.Location.Heartbeat,
		}, a.log.Named("location"))
	}

	if a.cfg.Kafka.Enabled() {
		cfg.Signals = events.NewSignalConsumer(
			a.cfg.Kafka.Brokers,
			a.cfg.Kafka.GroupPrefix+string(tracker.Role()),
			a.cfg.Kafka.SignalsTopic,
			tracker,
			a.log.Named("signals"),
		)
	}

	if !opts.noAPI {
		gin.SetMode(gin.ReleaseMode)
		router := handler.NewRouter(a.log.Named("http"),
			handler.NewSessionHandler(a.store),
			handler.NewTripHandler(tracker),
			handler.NewHistoryHandler(repo),
		)
		cfg.Server = &http.Server{
			Addr:              a.cfg.ListenAddr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	a.log.Info("ridectl daemon starting",
		zap.String("role", string(tracker.Role())),
		zap.String("trip_id", tracker.State().TripID),
	)
	return daemon.New(cfg, a.log.Named("daemon")).Run(ctx)
}

func locationSource(ctx context.Context, a *app, opts serveOptions) (lifecycle.LocationSource, error) {
	switch {
	case opts.at != "":
		loc, err := parseLocation(opts.at)
		if err != nil {
			return nil, err
		}
		return lifecycle.StaticSource{Location: loc}, nil
	case opts.replayFrom != "" || opts.replayTo != "":
		from, err := parseLocation(opts.replayFrom)
		if err != nil {
			return nil, fmt.Errorf("--replay-from: %w", err)
		}
		to, err := parseLocation(opts.replayTo)
		if err != nil {
			return nil, fmt.Errorf("--replay-to: %w", err)
		}
		rctx, cancel := withTimeout(ctx, a.cfg.HTTPTimeout)
		defer cancel()
		route, err := a.directions.Route(rctx, from, to)
		if err != nil {
			return nil, err
		}
		points, err := route.Points()
		if err != nil {
			return nil, err
		}
		return lifecycle.NewReplaySource(points)
	default:
		return nil, nil
	}
}

// locationPush sends driver positions to the driver endpoint. Passengers only
// share their position while a trip is active.
func locationPush(a *app, tracker *lifecycle.Tracker) lifecycle.LocationPush {
	if tracker.Role() == user.RoleDriver {
		return a.drivers.UpdateLocation
	}
	return func(ctx context.Context, loc trip.Location) error {
		s := tracker.State()
		if s.TripID == "" || s.Phase.Rank() < trip.PhaseMatched.Rank() || s.Phase.StopsPolling() {
			return nil
		}
		return a.rides.ShareLocation(ctx, s.TripID, loc)
	}
}
