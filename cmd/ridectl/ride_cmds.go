package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rideline/ridectl/internal/domain/trip"
)

func newEstimateCmd() *cobra.Command {
	var from, to string
	var withRoute bool
	cmd := &cobra.Command{
		Use:   "estimate",
		Short: "Estimate fare, distance and duration between two points",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := appFrom(cmd)
			pickup, err := parseLocation(from)
			if err != nil {
				return err
			}
			dropOff, err := parseLocation(to)
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd.Context(), a.cfg.HTTPTimeout)
			defer cancel()

			est, err := a.rides.Estimate(ctx, pickup, dropOff)
			if err != nil {
				return err
			}
			out := map[string]any{"estimate": est}
			if withRoute {
				route, err := a.directions.Route(ctx, pickup, dropOff)
				if err != nil {
					return err
				}
				points, err := route.Points()
				if err != nil {
					return err
				}
				out["route"] = map[string]any{
					"distance": route.DistanceMeters,
					"duration": route.DurationSeconds,
					"points":   points,
				}
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "pickup lat,lng")
	cmd.Flags().StringVar(&to, "to", "", "drop-off lat,lng")
	cmd.Flags().BoolVar(&withRoute, "route", false, "include the decoded route")
	return cmd
}

func newRequestCmd() *cobra.Command {
	var from, to string
	var req trip.RequestRide
	var followTrip bool
	cmd := &cobra.Command{
		Use:   "request",
		Short: "Request a ride",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := appFrom(cmd)
			var err error
			if req.Pickup, err = parseLocation(from); err != nil {
				return err
			}
			if req.DropOff, err = parseLocation(to); err != nil {
				return err
			}
			ctx := cmd.Context()

			tracker, err := a.resumeTracker(ctx)
			if err != nil {
				return err
			}
			if err := tracker.Requesting(ctx); err != nil {
				return err
			}

			reqCtx, cancel := withTimeout(ctx, a.cfg.HTTPTimeout)
			requested, err := a.rides.Request(reqCtx, req)
			cancel()
			if err != nil {
				tracker.Abandon()
				return err
			}
			if err := tracker.Begin(ctx, requested, nil); err != nil {
				return err
			}

			if !followTrip {
				printPhase(cmd.OutOrStdout(), tracker.State())
				return nil
			}
			return follow(ctx, cmd.OutOrStdout(), tracker, a.log)
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "pickup lat,lng")
	cmd.Flags().StringVar(&to, "to", "", "drop-off lat,lng")
	cmd.Flags().StringVar(&req.From, "from-name", "", "pickup label")
	cmd.Flags().StringVar(&req.To, "to-name", "", "drop-off label")
	cmd.Flags().StringVar(&req.Notes, "notes", "", "note for the driver")
	cmd.Flags().BoolVar(&followTrip, "follow", false, "keep tracking the trip until it completes")
	return cmd
}

func newStatusCmd() *cobra.Command {
	var followTrip bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the current trip",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := appFrom(cmd)
			ctx := cmd.Context()
			tracker, err := a.resumeTracker(ctx)
			if err != nil {
				return err
			}
			if followTrip && tracker.State().TripID != "" {
				return follow(ctx, cmd.OutOrStdout(), tracker, a.log)
			}
			return printJSON(cmd.OutOrStdout(), tracker.State())
		},
	}
	cmd.Flags().BoolVar(&followTrip, "follow", false, "keep tracking the trip until it completes")
	return cmd
}

func newConfirmMeetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "confirm-meet",
		Short: "Confirm you met the other party at pickup",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := appFrom(cmd)
			ctx := cmd.Context()
			tracker, err := a.resumeTracker(ctx)
			if err != nil {
				return err
			}
			live, err := tracker.ConfirmMeet(ctx)
			if err != nil {
				return err
			}
			if live.MeetConfirmed() {
				fmt.Fprintln(cmd.OutOrStdout(), "Both parties confirmed. The trip can start.")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "Confirmed. Waiting for the other party.")
			}
			return nil
		},
	}
}

func newCancelCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "cancel",
		Short: "Cancel the current trip",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := appFrom(cmd)
			ctx := cmd.Context()
			tracker, err := a.resumeTracker(ctx)
			if err != nil {
				return err
			}
			if err := tracker.Cancel(ctx, reason); err != nil {
				return err
			}
			printPhase(cmd.OutOrStdout(), tracker.State())
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "cancellation reason")
	return cmd
}

func newReviewCmd() *cobra.Command {
	var review trip.Review
	var tripID string
	cmd := &cobra.Command{
		Use:   "review",
		Short: "Rate a completed trip",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := appFrom(cmd)
			ctx := cmd.Context()
			if err := review.Validate(); err != nil {
				return err
			}

			tracker, err := a.resumeTracker(ctx)
			if err != nil {
				return err
			}
			snap := tracker.State()
			if tripID == "" || tripID == snap.TripID {
				if err := tracker.MarkReviewed(ctx, review); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Thanks! Trip %s rated %d.\n", snap.TripID, review.Rating)
				return nil
			}

			reqCtx, cancel := withTimeout(ctx, a.cfg.HTTPTimeout)
			defer cancel()
			if err := a.rides.Review(reqCtx, tripID, review); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Thanks! Trip %s rated %d.\n", tripID, review.Rating)
			return nil
		},
	}
	cmd.Flags().IntVar(&review.Rating, "rating", 0, "rating from 1 to 5")
	cmd.Flags().StringVar(&review.Comment, "comment", "", "optional comment")
	cmd.Flags().StringVar(&tripID, "trip", "", "trip id (defaults to the tracked trip)")
	return cmd
}

func newHistoryCmd() *cobra.Command {
	var page, limit int
	var local bool
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List past trips",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := appFrom(cmd)
			ctx, cancel := withTimeout(cmd.Context(), a.cfg.HTTPTimeout)
			defer cancel()

			if local {
				repo, err := a.tripRepository()
				if err != nil {
					return err
				}
				records, total, err := repo.ListRecords(ctx, page, limit)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{"records": records, "total": total})
			}

			result, err := a.rides.History(ctx, page, limit)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}
	cmd.Flags().IntVar(&page, "page", 1, "page number")
	cmd.Flags().IntVar(&limit, "limit", 20, "page size")
	cmd.Flags().BoolVar(&local, "local", false, "list trips recorded on this machine")
	return cmd
}
