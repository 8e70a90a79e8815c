package application

import (
	"context"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/rideline/ridectl/internal/apiclient"
	"github.com/rideline/ridectl/internal/common/domain"
	"github.com/rideline/ridectl/internal/domain/trip"
	"github.com/rideline/ridectl/internal/domain/user"
)

// RegisterDriverRequest holds the vehicle details a driver signs up with.
type RegisterDriverRequest struct {
	LicenseNumber string `json:"license_number" validate:"required"`
	Make          string `json:"make" validate:"required"`
	Model         string `json:"model" validate:"required"`
	Color         string `json:"color,omitempty"`
	Plate         string `json:"plate" validate:"required"`
	Year          int    `json:"year,omitempty" validate:"omitempty,min=1980"`
	Seats         int    `json:"seats,omitempty" validate:"omitempty,min=1"`
}

// DriverService wraps the driver-only endpoints.
type DriverService struct {
	api    *apiclient.Client
	rides  *RideService
	logger *zap.Logger
}

// NewDriverService creates a new DriverService.
func NewDriverService(api *apiclient.Client, rides *RideService, logger *zap.Logger) *DriverService {
	return &DriverService{api: api, rides: rides, logger: logger}
}

// Register attaches vehicle details to the signed-in account.
func (s *DriverService) Register(ctx context.Context, req RegisterDriverRequest) (*user.Driver, error) {
	req.Plate = strings.ToUpper(strings.TrimSpace(req.Plate))
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	var d user.Driver
	if err := s.api.Post(ctx, "/api/v1/drivers/register", req, &d, "driver"); err != nil {
		return nil, err
	}
	return &d, nil
}

// Profile fetches the driver profile.
func (s *DriverService) Profile(ctx context.Context) (*user.Driver, error) {
	var d user.Driver
	if err := s.api.Get(ctx, "/api/v1/drivers/me", &d, "driver"); err != nil {
		return nil, err
	}
	return &d, nil
}

// SetOnline toggles whether the driver receives ride offers.
func (s *DriverService) SetOnline(ctx context.Context, online bool) (*user.Driver, error) {
	var d user.Driver
	if err := s.api.Patch(ctx, "/api/v1/drivers/status", map[string]bool{"online": online}, &d, "driver"); err != nil {
		return nil, err
	}
	s.logger.Info("driver availability changed", zap.Bool("online", online))
	return &d, nil
}

// UpdateLocation reports the driver's position.
func (s *DriverService) UpdateLocation(ctx context.Context, loc trip.Location) error {
	if err := loc.Validate(); err != nil {
		return domain.NewValidationError(err.Error())
	}
	return s.api.Post(ctx, "/api/v1/drivers/location", loc, nil)
}

// AvailableRides lists open requests, optionally near a point.
func (s *DriverService) AvailableRides(ctx context.Context, near *trip.Location) ([]trip.Trip, error) {
	path := "/api/v1/drivers/rides/available"
	if near != nil {
		q := url.Values{}
		q.Set("lat", formatCoord(near.Lat))
		q.Set("lng", formatCoord(near.Lng))
		path += "?" + q.Encode()
	}
	var rides []trip.Trip
	if err := s.api.Get(ctx, path, &rides, "rides", "trips"); err != nil {
		return nil, err
	}
	return rides, nil
}

// Accept claims a requested ride.
func (s *DriverService) Accept(ctx context.Context, tripID string) (*trip.Trip, error) {
	return s.act(ctx, tripID, "accept")
}

// MarkArrived tells the passenger the driver is at the pickup.
func (s *DriverService) MarkArrived(ctx context.Context, tripID string) (*trip.Trip, error) {
	return s.act(ctx, tripID, "arrived")
}

// Start begins the trip. Both parties must have confirmed the meet first.
func (s *DriverService) Start(ctx context.Context, tripID string) (*trip.Trip, error) {
	state, err := s.rides.Live(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if !state.MeetConfirmed() {
		return nil, domain.NewInvalidStateError(string(trip.PhaseMeeting), string(trip.PhaseInProgress)+" (meet not confirmed by both parties)")
	}
	return s.act(ctx, tripID, "start")
}

// Complete ends the trip at the drop-off.
func (s *DriverService) Complete(ctx context.Context, tripID string) (*trip.Trip, error) {
	return s.act(ctx, tripID, "complete")
}

func (s *DriverService) act(ctx context.Context, tripID, action string) (*trip.Trip, error) {
	var t trip.Trip
	if err := s.api.Post(ctx, ridePath(tripID, action), nil, &t, tripKeys...); err != nil {
		return nil, err
	}
	if t.ID == "" {
		t.ID = tripID
	}
	s.logger.Info("driver trip action",
		zap.String("trip_id", tripID),
		zap.String("action", action),
		zap.String("status", t.Status.String()),
	)
	return &t, nil
}
