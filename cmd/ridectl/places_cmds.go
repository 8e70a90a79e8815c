package main

import (
	"strings"

	"github.com/spf13/cobra"
)

func newPlacesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "places",
		Short: "Search places and geocode addresses",
	}

	var near string
	search := &cobra.Command{
		Use:   "search <query>",
		Short: "Autocomplete a place name",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFrom(cmd)
			nearLoc, err := optionalLocation(near)
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd.Context(), a.cfg.HTTPTimeout)
			defer cancel()
			places, err := a.places.Autocomplete(ctx, strings.Join(args, " "), nearLoc)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), places)
		},
	}
	search.Flags().StringVar(&near, "near", "", "bias results to lat,lng")

	details := &cobra.Command{
		Use:   "details <place-id>",
		Short: "Show a place",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFrom(cmd)
			ctx, cancel := withTimeout(cmd.Context(), a.cfg.HTTPTimeout)
			defer cancel()
			place, err := a.places.Details(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), place)
		},
	}

	reverse := &cobra.Command{
		Use:   "reverse <lat,lng>",
		Short: "Find the address at a point",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFrom(cmd)
			loc, err := parseLocation(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd.Context(), a.cfg.HTTPTimeout)
			defer cancel()
			place, err := a.places.Reverse(ctx, loc)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), place)
		},
	}

	cmd.AddCommand(search, details, reverse)
	return cmd
}
