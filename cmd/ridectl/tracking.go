package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/rideline/ridectl/internal/common/kafka"
	"github.com/rideline/ridectl/internal/domain/trip"
	"github.com/rideline/ridectl/internal/domain/user"
	"github.com/rideline/ridectl/internal/events"
	"github.com/rideline/ridectl/internal/lifecycle"
)

// newTracker builds a tracker for the signed-in role, persisting to the local
// database and publishing to whichever brokers are configured.
func (a *app) newTracker(ctx context.Context) (*lifecycle.Tracker, error) {
	creds, err := a.auth.Session(ctx)
	if err != nil {
		return nil, err
	}
	repo, err := a.tripRepository()
	if err != nil {
		return nil, err
	}
	sinks, err := a.transitionSinks()
	if err != nil {
		return nil, err
	}
	return lifecycle.NewTracker(creds.Role, a.rides, repo, lifecycle.TrackerConfig{
		Interval:   a.cfg.Poll.Interval,
		MaxBackoff: a.cfg.Poll.MaxBackoff,
	}, a.log.Named("tracker"), sinks...), nil
}

// resumeTracker builds a tracker and restores the trip in progress, synced
// with the server.
func (a *app) resumeTracker(ctx context.Context) (*lifecycle.Tracker, error) {
	tracker, err := a.newTracker(ctx)
	if err != nil {
		return nil, err
	}
	found, err := tracker.Resume(ctx)
	if err != nil {
		return nil, err
	}
	if found {
		if err := tracker.Refresh(ctx); err != nil {
			a.log.Warn("failed to refresh tracked trip", zap.Error(err))
		}
	}
	return tracker, nil
}

func (a *app) transitionSinks() ([]lifecycle.TransitionSink, error) {
	var sinks []lifecycle.TransitionSink
	if a.cfg.Kafka.Enabled() {
		producer := kafka.NewProducer(a.cfg.Kafka.Brokers, a.log.Named("kafka"))
		a.closers = append(a.closers, producer.Close)
		sinks = append(sinks, events.NewTransitionPublisher(producer, a.cfg.Kafka.TransitionsTopic, a.log.Named("events")))
	}
	if a.cfg.AMQP.URL != "" {
		pub, err := events.DialAMQP(a.cfg.AMQP.URL, a.cfg.AMQP.Exchange, a.log.Named("amqp"))
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pub.Close)
		sinks = append(sinks, pub)
	}
	return sinks, nil
}

// follow prints transitions until the trip stops polling or ctx ends.
func follow(ctx context.Context, w io.Writer, tracker *lifecycle.Tracker, log *zap.Logger) error {
	transitions, unsubscribe := tracker.Subscribe(16)
	defer unsubscribe()

	done := make(chan error, 1)
	go func() { done <- tracker.Run(ctx) }()

	printPhase(w, tracker.State())
	for {
		select {
		case tr := <-transitions:
			fmt.Fprintf(w, "%s  %s -> %s (%s)\n", tr.At.Local().Format(time.Kitchen), tr.From, tr.To, tr.Status)
		case err := <-done:
			if ctx.Err() != nil {
				return nil
			}
			if err != nil {
				log.Warn("tracking stopped", zap.Error(err))
				return err
			}
			final := tracker.State()
			if final.Phase == trip.PhaseCompleted && final.Role == user.RolePassenger {
				fmt.Fprintln(w, "Trip completed. Rate it with: ridectl review --rating <1-5>")
			}
			return nil
		}
	}
}

func printPhase(w io.Writer, s trip.Snapshot) {
	if s.TripID == "" {
		fmt.Fprintln(w, "No trip in progress.")
		return
	}
	fmt.Fprintf(w, "Trip %s: %s", s.TripID, s.Phase)
	if s.Trip != nil && s.Trip.Fare > 0 {
		fmt.Fprintf(w, ", fare %.2f %s", s.Trip.Fare, s.Trip.Currency)
	}
	fmt.Fprintln(w)
}
