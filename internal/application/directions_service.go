package application

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/twpayne/go-polyline"
	"go.uber.org/zap"

	"github.com/rideline/ridectl/internal/apiclient"
	"github.com/rideline/ridectl/internal/cache"
	"github.com/rideline/ridectl/internal/common/domain"
	"github.com/rideline/ridectl/internal/domain/trip"
)

// Route is a driving route between two points.
type Route struct {
	DistanceMeters  float64 `json:"distance"`
	DurationSeconds float64 `json:"duration"`
	Polyline        string  `json:"polyline,omitempty"`
}

// Points decodes the encoded polyline into locations.
func (r *Route) Points() ([]trip.Location, error) {
	if r.Polyline == "" {
		return nil, nil
	}
	coords, _, err := polyline.DecodeCoords([]byte(r.Polyline))
	if err != nil {
		return nil, fmt.Errorf("failed to decode route polyline: %w", err)
	}
	points := make([]trip.Location, 0, len(coords))
	for _, c := range coords {
		points = append(points, trip.Location{Lat: c[0], Lng: c[1]})
	}
	return points, nil
}

// DirectionsService fetches routes through the backend's directions proxy.
type DirectionsService struct {
	api    *apiclient.Client
	cache  cache.Cache
	ttl    time.Duration
	logger *zap.Logger
}

// NewDirectionsService creates a new DirectionsService. c may be nil.
func NewDirectionsService(api *apiclient.Client, c cache.Cache, ttl time.Duration, logger *zap.Logger) *DirectionsService {
	return &DirectionsService{api: api, cache: c, ttl: ttl, logger: logger}
}

// Route returns the route from origin to destination.
func (s *DirectionsService) Route(ctx context.Context, origin, destination trip.Location) (*Route, error) {
	if err := origin.Validate(); err != nil {
		return nil, domain.NewValidationError("origin: " + err.Error())
	}
	if err := destination.Validate(); err != nil {
		return nil, domain.NewValidationError("destination: " + err.Error())
	}

	key := cache.RouteKey(origin, destination)
	var route Route
	if lookup(ctx, s.cache, key, &route, s.logger) {
		return &route, nil
	}

	q := url.Values{}
	q.Set("origin", origin.String())
	q.Set("destination", destination.String())
	if err := s.api.Get(ctx, "/api/v1/directions?"+q.Encode(), &route, "route", "directions"); err != nil {
		return nil, err
	}

	store(ctx, s.cache, key, route, s.ttl, s.logger)
	return &route, nil
}

// lookup reads from c, treating cache failures as misses.
func lookup(ctx context.Context, c cache.Cache, key string, out any, logger *zap.Logger) bool {
	if c == nil {
		return false
	}
	found, err := c.Get(ctx, key, out)
	if err != nil {
		logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return found
}

func store(ctx context.Context, c cache.Cache, key string, value any, ttl time.Duration, logger *zap.Logger) {
	if c == nil || ttl <= 0 {
		return
	}
	if err := c.Set(ctx, key, value, ttl); err != nil {
		logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}
