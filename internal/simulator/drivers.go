package simulator

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/rideline/ridectl/internal/common/domain"
	"github.com/rideline/ridectl/internal/common/response"
	"github.com/rideline/ridectl/internal/domain/trip"
	"github.com/rideline/ridectl/internal/domain/user"
)

// registerDriver handles POST /api/v1/drivers/register.
func (s *Server) registerDriver(c *gin.Context) {
	acc, _, ok := s.caller(c)
	if !ok {
		return
	}
	var req struct {
		LicenseNumber string `json:"license_number" binding:"required"`
		Make          string `json:"make" binding:"required"`
		Model         string `json:"model" binding:"required"`
		Color         string `json:"color"`
		Plate         string `json:"plate" binding:"required"`
		Year          int    `json:"year"`
		Seats         int    `json:"seats"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	s.mu.Lock()
	if acc.driver != nil {
		s.mu.Unlock()
		response.Error(c, domain.NewConflictError("driver already registered"))
		return
	}
	acc.driver = &user.Driver{
		User: acc.user,
		Vehicle: user.Vehicle{
			Make:  req.Make,
			Model: req.Model,
			Color: req.Color,
			Plate: strings.ToUpper(req.Plate),
			Year:  req.Year,
			Seats: req.Seats,
		},
	}
	d := *acc.driver
	s.mu.Unlock()

	response.Created(c, gin.H{"driver": d})
}

// driverProfile handles GET /api/v1/drivers/me.
func (s *Server) driverProfile(c *gin.Context) {
	s.withDriver(c, func(*account) error { return nil })
}

// driverStatus handles PATCH /api/v1/drivers/status.
func (s *Server) driverStatus(c *gin.Context) {
	var req struct {
		Online *bool `json:"online" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	s.withDriver(c, func(acc *account) error {
		acc.driver.Online = *req.Online
		return nil
	})
}

// driverLocation handles POST /api/v1/drivers/location.
func (s *Server) driverLocation(c *gin.Context) {
	var loc trip.Location
	if err := c.ShouldBindJSON(&loc); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if err := loc.Validate(); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	s.withDriver(c, func(acc *account) error {
		l := loc
		acc.location = &l
		if rd := s.activeRideLocked(acc.user.ID); rd != nil && rd.trip.DriverID == acc.user.ID {
			s.placeLocked(rd, user.RoleDriver, loc)
		}
		return nil
	})
}

// withDriver runs fn under the lock for a registered driver and answers with
// the profile.
func (s *Server) withDriver(c *gin.Context, fn func(acc *account) error) {
	acc, _, ok := s.caller(c)
	if !ok {
		return
	}
	s.mu.Lock()
	if acc.driver == nil {
		s.mu.Unlock()
		response.Error(c, domain.NewNotFoundError("Driver", acc.user.ID))
		return
	}
	if err := fn(acc); err != nil {
		s.mu.Unlock()
		response.Error(c, err)
		return
	}
	d := *acc.driver
	s.mu.Unlock()
	response.Success(c, gin.H{"driver": d})
}
