package application

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"github.com/rideline/ridectl/internal/apiclient"
	"github.com/rideline/ridectl/internal/common/domain"
	"github.com/rideline/ridectl/internal/domain/trip"
)

// tripKeys are the envelope keys a trip may be nested under.
var tripKeys = []string{"trip", "ride"}

// liveKeys are the envelope keys a live snapshot may be nested under.
var liveKeys = []string{"state", "live", "ride_state"}

// RideService wraps the ride endpoints shared by passengers and drivers.
type RideService struct {
	api    *apiclient.Client
	logger *zap.Logger
}

// NewRideService creates a new RideService.
func NewRideService(api *apiclient.Client, logger *zap.Logger) *RideService {
	return &RideService{api: api, logger: logger}
}

// Estimate returns the fare and route estimate for a pickup/drop-off pair.
func (s *RideService) Estimate(ctx context.Context, pickup, dropOff trip.Location) (*trip.EstimateData, error) {
	req := trip.RequestRide{Pickup: pickup, DropOff: dropOff}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	var est trip.EstimateData
	if err := s.api.Post(ctx, "/api/v1/rides/estimate", req, &est, "estimate"); err != nil {
		return nil, err
	}
	return &est, nil
}

// Request asks the server to find a driver.
func (s *RideService) Request(ctx context.Context, req trip.RequestRide) (*trip.Trip, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	var t trip.Trip
	if err := s.api.Post(ctx, "/api/v1/rides", req, &t, tripKeys...); err != nil {
		return nil, err
	}
	if t.ID == "" {
		return nil, domain.NewRemoteError(200, "server did not return a trip id")
	}
	s.logger.Info("ride requested", zap.String("trip_id", t.ID), zap.String("status", t.Status.String()))
	return &t, nil
}

// Get fetches a trip.
func (s *RideService) Get(ctx context.Context, tripID string) (*trip.Trip, error) {
	var t trip.Trip
	if err := s.api.Get(ctx, ridePath(tripID, ""), &t, tripKeys...); err != nil {
		return nil, err
	}
	return &t, nil
}

// Current returns the caller's active trip, or nil when there is none.
func (s *RideService) Current(ctx context.Context) (*trip.Trip, error) {
	var t trip.Trip
	if err := s.api.Get(ctx, "/api/v1/rides/current", &t, tripKeys...); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if t.ID == "" {
		return nil, nil
	}
	return &t, nil
}

// Live fetches the live snapshot of a trip.
func (s *RideService) Live(ctx context.Context, tripID string) (*trip.LiveState, error) {
	var state trip.LiveState
	if err := s.api.Get(ctx, ridePath(tripID, "live"), &state, liveKeys...); err != nil {
		return nil, err
	}
	if state.TripID == "" {
		state.TripID = tripID
	}
	return &state, nil
}

// Cancel cancels a trip with an optional reason.
func (s *RideService) Cancel(ctx context.Context, tripID, reason string) (*trip.Trip, error) {
	body := map[string]string{"reason": reason}
	var t trip.Trip
	if err := s.api.Post(ctx, ridePath(tripID, "cancel"), body, &t, tripKeys...); err != nil {
		return nil, err
	}
	s.logger.Info("ride cancelled", zap.String("trip_id", tripID), zap.String("reason", reason))
	return &t, nil
}

// ConfirmMeet records that the caller met the other party.
func (s *RideService) ConfirmMeet(ctx context.Context, tripID string) (*trip.LiveState, error) {
	var state trip.LiveState
	if err := s.api.Post(ctx, ridePath(tripID, "confirm-meet"), nil, &state, liveKeys...); err != nil {
		return nil, err
	}
	if state.TripID == "" {
		state.TripID = tripID
	}
	return &state, nil
}

// Review rates a completed trip.
func (s *RideService) Review(ctx context.Context, tripID string, review trip.Review) error {
	if err := review.Validate(); err != nil {
		return err
	}
	return s.api.Post(ctx, ridePath(tripID, "review"), review, nil)
}

// ShareLocation pushes the caller's position for the trip.
func (s *RideService) ShareLocation(ctx context.Context, tripID string, loc trip.Location) error {
	if err := loc.Validate(); err != nil {
		return domain.NewValidationError(err.Error())
	}
	return s.api.Post(ctx, ridePath(tripID, "location"), loc, nil)
}

// History returns past trips, newest first.
func (s *RideService) History(ctx context.Context, page, limit int) (*domain.PaginatedResult[trip.Trip], error) {
	page, limit = clampPage(page, limit)
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))

	var raw json.RawMessage
	if err := s.api.Get(ctx, "/api/v1/rides/history?"+q.Encode(), &raw); err != nil {
		return nil, err
	}
	trips, total, err := decodeTripList(raw)
	if err != nil {
		return nil, err
	}
	result := domain.NewPaginatedResult(trips, total, page, limit)
	return &result, nil
}

// decodeTripList accepts a bare array or an object carrying the list under
// rides, trips or items with an optional total.
func decodeTripList(raw json.RawMessage) ([]trip.Trip, int64, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return []trip.Trip{}, 0, nil
	}
	if trimmed[0] == '[' {
		var trips []trip.Trip
		if err := json.Unmarshal(trimmed, &trips); err != nil {
			return nil, 0, fmt.Errorf("failed to decode trip list: %w", err)
		}
		return trips, int64(len(trips)), nil
	}

	var page struct {
		Rides []trip.Trip `json:"rides"`
		Trips []trip.Trip `json:"trips"`
		Items []trip.Trip `json:"items"`
		Total *int64      `json:"total"`
	}
	if err := json.Unmarshal(trimmed, &page); err != nil {
		return nil, 0, fmt.Errorf("failed to decode trip page: %w", err)
	}
	trips := page.Rides
	if trips == nil {
		trips = page.Trips
	}
	if trips == nil {
		trips = page.Items
	}
	if trips == nil {
		trips = []trip.Trip{}
	}
	total := int64(len(trips))
	if page.Total != nil {
		total = *page.Total
	}
	return trips, total, nil
}

func ridePath(tripID, action string) string {
	p := "/api/v1/rides/" + url.PathEscape(tripID)
	if action != "" {
		p += "/" + action
	}
	return p
}

func clampPage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	return page, limit
}
