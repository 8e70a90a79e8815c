package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rideline/ridectl/internal/application"
	"github.com/rideline/ridectl/internal/domain/trip"
)

func newDriverCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "driver",
		Short: "Driver-only commands",
	}

	var reg application.RegisterDriverRequest
	register := &cobra.Command{
		Use:   "register",
		Short: "Register a vehicle and become a driver",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := appFrom(cmd)
			ctx, cancel := withTimeout(cmd.Context(), a.cfg.HTTPTimeout)
			defer cancel()
			driver, err := a.drivers.Register(ctx, reg)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), driver)
		},
	}
	register.Flags().StringVar(&reg.LicenseNumber, "license", "", "driving licence number")
	register.Flags().StringVar(&reg.Make, "make", "", "vehicle make")
	register.Flags().StringVar(&reg.Model, "model", "", "vehicle model")
	register.Flags().StringVar(&reg.Color, "color", "", "vehicle colour")
	register.Flags().StringVar(&reg.Plate, "plate", "", "licence plate")
	register.Flags().IntVar(&reg.Year, "year", 0, "model year")
	register.Flags().IntVar(&reg.Seats, "seats", 0, "passenger seats")

	online := availabilityCmd("online", true)
	offline := availabilityCmd("offline", false)

	var near string
	rides := &cobra.Command{
		Use:   "rides",
		Short: "List rides waiting for a driver",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := appFrom(cmd)
			nearLoc, err := optionalLocation(near)
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd.Context(), a.cfg.HTTPTimeout)
			defer cancel()
			open, err := a.drivers.AvailableRides(ctx, nearLoc)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), open)
		},
	}
	rides.Flags().StringVar(&near, "near", "", "only rides near lat,lng")

	var at string
	location := &cobra.Command{
		Use:   "location",
		Short: "Report the vehicle position once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := appFrom(cmd)
			loc, err := parseLocation(at)
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd.Context(), a.cfg.HTTPTimeout)
			defer cancel()
			return a.drivers.UpdateLocation(ctx, loc)
		},
	}
	location.Flags().StringVar(&at, "at", "", "position lat,lng")

	cmd.AddCommand(register, online, offline, rides, location,
		rideStepCmd("accept", "Accept a waiting ride", func(a *app) stepFunc { return a.drivers.Accept }),
		rideStepCmd("arrived", "Mark arrival at pickup", func(a *app) stepFunc { return a.drivers.MarkArrived }),
		rideStepCmd("start", "Start the ride once both parties confirmed the meet", func(a *app) stepFunc { return a.drivers.Start }),
		rideStepCmd("complete", "Complete the ride at drop-off", func(a *app) stepFunc { return a.drivers.Complete }),
	)
	return cmd
}

func availabilityCmd(name string, on bool) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: "Go " + name,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := appFrom(cmd)
			ctx, cancel := withTimeout(cmd.Context(), a.cfg.HTTPTimeout)
			defer cancel()
			driver, err := a.drivers.SetOnline(ctx, on)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "You are %s.\n", map[bool]string{true: "online", false: "offline"}[driver.Online])
			return nil
		},
	}
}

type stepFunc func(ctx context.Context, tripID string) (*trip.Trip, error)

func rideStepCmd(name, short string, pick func(*app) stepFunc) *cobra.Command {
	return &cobra.Command{
		Use:   name + " <trip-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFrom(cmd)
			ctx, cancel := withTimeout(cmd.Context(), a.cfg.HTTPTimeout)
			defer cancel()
			t, err := pick(a)(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Trip %s is now %s.\n", t.ID, t.Phase())
			return nil
		},
	}
}
