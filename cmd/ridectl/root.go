package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rideline/ridectl/internal/config"
	"github.com/rideline/ridectl/internal/domain/trip"
)

type appKey struct{}

func newRootCmd() *cobra.Command {
	var apiURL string

	root := &cobra.Command{
		Use:           "ridectl",
		Short:         "Ride-hailing client for passengers and drivers",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if apiURL != "" {
				cfg.APIBaseURL = strings.TrimRight(apiURL, "/")
			}
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey{}, a))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if a, ok := cmd.Context().Value(appKey{}).(*app); ok {
				a.Close()
			}
		},
	}
	root.PersistentFlags().StringVar(&apiURL, "api-url", "", "API base URL (overrides RIDECLIENT_API_BASE_URL)")

	root.AddCommand(
		newSignupCmd(), newVerifyCmd(), newResendOTPCmd(), newLoginCmd(), newLogoutCmd(), newWhoamiCmd(),
		newEstimateCmd(), newRequestCmd(), newStatusCmd(), newConfirmMeetCmd(), newCancelCmd(), newReviewCmd(),
		newHistoryCmd(), newPlacesCmd(), newDriverCmd(), newServeCmd(), newSimulateCmd(),
	)
	return root
}

func appFrom(cmd *cobra.Command) *app {
	return cmd.Context().Value(appKey{}).(*app)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseLocation reads "lat,lng".
func parseLocation(s string) (trip.Location, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return trip.Location{}, fmt.Errorf("location %q must be lat,lng", s)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return trip.Location{}, fmt.Errorf("invalid latitude in %q", s)
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return trip.Location{}, fmt.Errorf("invalid longitude in %q", s)
	}
	loc := trip.Location{Lat: lat, Lng: lng}
	if err := loc.Validate(); err != nil {
		return trip.Location{}, err
	}
	return loc, nil
}

func optionalLocation(s string) (*trip.Location, error) {
	if s == "" {
		return nil, nil
	}
	loc, err := parseLocation(s)
	if err != nil {
		return nil, err
	}
	return &loc, nil
}
