package simulator

import (
	"fmt"
	"math"

	"github.com/rideline/ridectl/internal/domain/trip"
)

const (
	// roadFactor stretches the great-circle distance to approximate roads.
	roadFactor = 1.3
	// cruiseSpeed is the assumed average speed in m/s (30 km/h).
	cruiseSpeed = 8.33
)

// PricingStrategy calculates the fare for a route.
type PricingStrategy interface {
	Calculate(params PricingParams) (float64, error)
}

// PricingParams holds the inputs for fare calculation.
type PricingParams struct {
	DistanceMeters  float64
	DurationSeconds float64
}

// StandardPricingStrategy implements the default fare.
type StandardPricingStrategy struct {
	BaseFare  float64
	PerKm     float64
	PerMinute float64
	Minimum   float64
}

// NewStandardPricingStrategy creates a new StandardPricingStrategy.
func NewStandardPricingStrategy() *StandardPricingStrategy {
	return &StandardPricingStrategy{BaseFare: 2.50, PerKm: 1.20, PerMinute: 0.25, Minimum: 5.00}
}

// Calculate computes the fare rounded to cents.
//
// Fare = base + distance_km * per_km + duration_min * per_minute, never
// below the minimum.
func (p *StandardPricingStrategy) Calculate(params PricingParams) (float64, error) {
	if params.DistanceMeters < 0 || params.DurationSeconds < 0 {
		return 0, fmt.Errorf("distance and duration cannot be negative")
	}
	fare := p.BaseFare +
		params.DistanceMeters/1000*p.PerKm +
		params.DurationSeconds/60*p.PerMinute
	fare = math.Max(fare, p.Minimum)
	return math.Round(fare*100) / 100, nil
}

// estimateRoute approximates road distance and travel time between points.
func estimateRoute(from, to trip.Location) (distance, duration float64) {
	distance = math.Round(from.DistanceMeters(to) * roadFactor)
	duration = math.Round(distance / cruiseSpeed)
	return distance, duration
}
