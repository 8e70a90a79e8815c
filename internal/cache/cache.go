package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mmcloughlin/geohash"

	"github.com/rideline/ridectl/internal/domain/trip"
)

// GeoPrecision is the geohash length used for cache keys (~150m cells).
const GeoPrecision = 7

// Cache stores JSON-encodable lookup results.
type Cache interface {
	// Get decodes the cached value into out and reports whether it was found.
	Get(ctx context.Context, key string, out any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
}

// Cell returns the geohash cell a location falls in.
func Cell(loc trip.Location) string {
	return geohash.EncodeWithPrecision(loc.Lat, loc.Lng, GeoPrecision)
}

// RouteKey builds the cache key for a route between two points. Nearby
// origins and destinations share a key.
func RouteKey(origin, destination trip.Location) string {
	return fmt.Sprintf("route:%s:%s", Cell(origin), Cell(destination))
}

// PlaceSearchKey builds the cache key for an autocomplete query near a point.
func PlaceSearchKey(query string, near *trip.Location) string {
	q := strings.ToLower(strings.Join(strings.Fields(query), " "))
	if near == nil {
		return "places:q:" + q
	}
	// Bias cells are coarser than route cells.
	return fmt.Sprintf("places:q:%s:%s", q, geohash.EncodeWithPrecision(near.Lat, near.Lng, 5))
}

// ReverseKey builds the cache key for a reverse geocode.
func ReverseKey(loc trip.Location) string {
	return "places:rev:" + geohash.EncodeWithPrecision(loc.Lat, loc.Lng, 8)
}

// SameCell reports whether two locations fall in the same geohash cell at the
// given precision.
func SameCell(a, b trip.Location, precision uint) bool {
	return geohash.EncodeWithPrecision(a.Lat, a.Lng, precision) == geohash.EncodeWithPrecision(b.Lat, b.Lng, precision)
}
