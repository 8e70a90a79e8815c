package application

import (
	"context"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rideline/ridectl/internal/apiclient"
	"github.com/rideline/ridectl/internal/cache"
	"github.com/rideline/ridectl/internal/common/domain"
	"github.com/rideline/ridectl/internal/domain/trip"
)

const minPlaceQueryLen = 2

// Place is a search result or geocoded address.
type Place struct {
	ID       string         `json:"place_id"`
	Name     string         `json:"name,omitempty"`
	Address  string         `json:"address,omitempty"`
	Location *trip.Location `json:"location,omitempty"`
}

// PlacesService wraps place search and geocoding.
type PlacesService struct {
	api    *apiclient.Client
	cache  cache.Cache
	ttl    time.Duration
	logger *zap.Logger
}

// NewPlacesService creates a new PlacesService. c may be nil.
func NewPlacesService(api *apiclient.Client, c cache.Cache, ttl time.Duration, logger *zap.Logger) *PlacesService {
	return &PlacesService{api: api, cache: c, ttl: ttl, logger: logger}
}

// Autocomplete suggests places for a partial query. Queries shorter than two
// characters return nothing without a request.
func (s *PlacesService) Autocomplete(ctx context.Context, query string, near *trip.Location) ([]Place, error) {
	query = strings.TrimSpace(query)
	if len([]rune(query)) < minPlaceQueryLen {
		return []Place{}, nil
	}

	key := cache.PlaceSearchKey(query, near)
	var places []Place
	if lookup(ctx, s.cache, key, &places, s.logger) {
		return places, nil
	}

	q := url.Values{}
	q.Set("input", query)
	if near != nil {
		q.Set("lat", formatCoord(near.Lat))
		q.Set("lng", formatCoord(near.Lng))
	}
	if err := s.api.Get(ctx, "/api/v1/places/autocomplete?"+q.Encode(), &places, "predictions", "places"); err != nil {
		return nil, err
	}
	if places == nil {
		places = []Place{}
	}

	store(ctx, s.cache, key, places, s.ttl, s.logger)
	return places, nil
}

// Details resolves a place id to coordinates.
func (s *PlacesService) Details(ctx context.Context, placeID string) (*Place, error) {
	if strings.TrimSpace(placeID) == "" {
		return nil, domain.NewValidationError("place id is required")
	}
	key := "places:id:" + placeID
	var p Place
	if lookup(ctx, s.cache, key, &p, s.logger) {
		return &p, nil
	}
	if err := s.api.Get(ctx, "/api/v1/places/"+url.PathEscape(placeID), &p, "place", "result"); err != nil {
		return nil, err
	}
	if p.ID == "" {
		p.ID = placeID
	}
	store(ctx, s.cache, key, p, s.ttl, s.logger)
	return &p, nil
}

// Reverse finds the address at a location.
func (s *PlacesService) Reverse(ctx context.Context, loc trip.Location) (*Place, error) {
	if err := loc.Validate(); err != nil {
		return nil, domain.NewValidationError(err.Error())
	}
	key := cache.ReverseKey(loc)
	var p Place
	if lookup(ctx, s.cache, key, &p, s.logger) {
		return &p, nil
	}

	q := url.Values{}
	q.Set("lat", formatCoord(loc.Lat))
	q.Set("lng", formatCoord(loc.Lng))
	if err := s.api.Get(ctx, "/api/v1/places/reverse?"+q.Encode(), &p, "place", "result"); err != nil {
		return nil, err
	}
	if p.Location == nil {
		l := loc
		p.Location = &l
	}
	store(ctx, s.cache, key, p, s.ttl, s.logger)
	return &p, nil
}
