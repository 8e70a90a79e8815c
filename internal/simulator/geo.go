package simulator

import (
	"math"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/twpayne/go-polyline"

	"github.com/rideline/ridectl/internal/common/domain"
	"github.com/rideline/ridectl/internal/common/response"
	"github.com/rideline/ridectl/internal/domain/trip"
)

// routeSteps is how many intermediate points a simulated route polyline has.
const routeSteps = 8

type place struct {
	ID       string        `json:"place_id"`
	Name     string        `json:"name"`
	Address  string        `json:"address"`
	Location trip.Location `json:"location"`
}

// gazetteer is the fixed set of places the simulator knows about.
var gazetteer = []place{
	{ID: "pl-central", Name: "Central Station", Address: "1 Station Square", Location: trip.Location{Lat: 52.3791, Lng: 4.9003}},
	{ID: "pl-museum", Name: "City Museum", Address: "Museumplein 6", Location: trip.Location{Lat: 52.3600, Lng: 4.8852}},
	{ID: "pl-airport", Name: "Airport Departures", Address: "Evert van de Beekstraat 202", Location: trip.Location{Lat: 52.3105, Lng: 4.7683}},
	{ID: "pl-market", Name: "Central Market", Address: "Albert Cuypstraat 100", Location: trip.Location{Lat: 52.3559, Lng: 4.8949}},
	{ID: "pl-park", Name: "Vondelpark East Gate", Address: "Stadhouderskade 3", Location: trip.Location{Lat: 52.3613, Lng: 4.8781}},
	{ID: "pl-harbour", Name: "Harbour Terminal", Address: "Piet Heinkade 27", Location: trip.Location{Lat: 52.3766, Lng: 4.9145}},
}

// estimate handles POST /api/v1/rides/estimate.
func (s *Server) estimate(c *gin.Context) {
	var req trip.RequestRide
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		response.Error(c, err)
		return
	}
	est, err := s.quote(req.Pickup, req.DropOff)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"estimate": est})
}

func (s *Server) quote(from, to trip.Location) (trip.EstimateData, error) {
	distance, duration := estimateRoute(from, to)
	fare, err := s.pricing().Calculate(PricingParams{DistanceMeters: distance, DurationSeconds: duration})
	if err != nil {
		return trip.EstimateData{}, domain.NewValidationError(err.Error())
	}
	return trip.EstimateData{DistanceMeters: distance, DurationSeconds: duration, Fare: fare, Currency: "EUR"}, nil
}

func (s *Server) pricing() PricingStrategy {
	if s.opts.Pricing != nil {
		return s.opts.Pricing
	}
	return NewStandardPricingStrategy()
}

// directions handles GET /api/v1/directions.
func (s *Server) directions(c *gin.Context) {
	from, err := parseLatLng(c.Query("origin"))
	if err != nil {
		response.BadRequest(c, "origin: "+err.Error())
		return
	}
	to, err := parseLatLng(c.Query("destination"))
	if err != nil {
		response.BadRequest(c, "destination: "+err.Error())
		return
	}

	coords := make([][]float64, 0, routeSteps+1)
	for i := 0; i <= routeSteps; i++ {
		f := float64(i) / routeSteps
		coords = append(coords, []float64{
			from.Lat + (to.Lat-from.Lat)*f,
			from.Lng + (to.Lng-from.Lng)*f,
		})
	}
	distance, duration := estimateRoute(from, to)
	response.Success(c, gin.H{"route": gin.H{
		"distance": distance,
		"duration": duration,
		"polyline": string(polyline.EncodeCoords(coords)),
	}})
}

// autocomplete handles GET /api/v1/places/autocomplete.
func (s *Server) autocomplete(c *gin.Context) {
	q := strings.ToLower(strings.TrimSpace(c.Query("input")))
	out := []place{}
	for _, p := range gazetteer {
		if q != "" && (strings.Contains(strings.ToLower(p.Name), q) || strings.Contains(strings.ToLower(p.Address), q)) {
			out = append(out, p)
		}
	}
	response.Success(c, gin.H{"predictions": out})
}

// placeDetails handles GET /api/v1/places/:id.
func (s *Server) placeDetails(c *gin.Context) {
	for _, p := range gazetteer {
		if p.ID == c.Param("id") {
			response.Success(c, gin.H{"place": p})
			return
		}
	}
	response.Error(c, domain.NewNotFoundError("Place", c.Param("id")))
}

// reverse handles GET /api/v1/places/reverse and returns the nearest known place.
func (s *Server) reverse(c *gin.Context) {
	lat, errLat := strconv.ParseFloat(c.Query("lat"), 64)
	lng, errLng := strconv.ParseFloat(c.Query("lng"), 64)
	if errLat != nil || errLng != nil {
		response.BadRequest(c, "lat and lng are required")
		return
	}
	at := trip.Location{Lat: lat, Lng: lng}
	best, bestDist := gazetteer[0], math.Inf(1)
	for _, p := range gazetteer {
		if d := at.DistanceMeters(p.Location); d < bestDist {
			best, bestDist = p, d
		}
	}
	response.Success(c, gin.H{"place": best})
}

func parseLatLng(s string) (trip.Location, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return trip.Location{}, domain.NewValidationError("expected lat,lng")
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return trip.Location{}, domain.NewValidationError("invalid latitude")
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return trip.Location{}, domain.NewValidationError("invalid longitude")
	}
	loc := trip.Location{Lat: lat, Lng: lng}
	if err := loc.Validate(); err != nil {
		return trip.Location{}, domain.NewValidationError(err.Error())
	}
	return loc, nil
}
