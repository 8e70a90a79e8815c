package trip

import (
	"fmt"
	"math"
)

// Location is a point with an optional human-readable address.
type Location struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Address string  `json:"address,omitempty"`
}

// Validate checks that the coordinates are within range.
func (l Location) Validate() error {
	if math.IsNaN(l.Lat) || l.Lat < -90 || l.Lat > 90 {
		return fmt.Errorf("latitude out of range: %v", l.Lat)
	}
	if math.IsNaN(l.Lng) || l.Lng < -180 || l.Lng > 180 {
		return fmt.Errorf("longitude out of range: %v", l.Lng)
	}
	return nil
}

// IsZero reports whether the location was never set.
func (l Location) IsZero() bool {
	return l.Lat == 0 && l.Lng == 0
}

// DistanceMeters returns the haversine distance to other.
func (l Location) DistanceMeters(other Location) float64 {
	const earthRadiusM = 6371000.0

	dLat := degreesToRadians(other.Lat - l.Lat)
	dLng := degreesToRadians(other.Lng - l.Lng)

	lat1Rad := degreesToRadians(l.Lat)
	lat2Rad := degreesToRadians(other.Lat)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Sin(dLng/2)*math.Sin(dLng/2)*math.Cos(lat1Rad)*math.Cos(lat2Rad)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusM * c
}

// String formats the location as "lat,lng", the form query parameters use.
func (l Location) String() string {
	return fmt.Sprintf("%.6f,%.6f", l.Lat, l.Lng)
}

func degreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}
