// Package simulator is an in-memory ride backend that speaks the same HTTP
// and websocket API as the production server. ridectl simulate serves it for
// local development and the test suites use it as their fake backend.
package simulator

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/rideline/ridectl/internal/common/auth"
	"github.com/rideline/ridectl/internal/common/domain"
	"github.com/rideline/ridectl/internal/common/middleware"
	"github.com/rideline/ridectl/internal/common/response"
	"github.com/rideline/ridectl/internal/domain/trip"
	"github.com/rideline/ridectl/internal/domain/user"
)

// Options configures a Server.
type Options struct {
	Secret   string
	TokenTTL time.Duration
	// OTP is the code every signup receives.
	OTP     string
	Pricing PricingStrategy
}

func (o *Options) setDefaults() {
	if o.Secret == "" {
		o.Secret = "simulator-secret"
	}
	if o.TokenTTL <= 0 {
		o.TokenTTL = 24 * time.Hour
	}
	if o.OTP == "" {
		o.OTP = "123456"
	}
}

type account struct {
	user         user.User
	passwordHash []byte
	driver       *user.Driver
	location     *trip.Location
}

type ride struct {
	trip    trip.Trip
	live    trip.LiveState
	reviews map[user.Role]trip.Review
}

// Server holds all simulated state behind one mutex.
type Server struct {
	opts   Options
	jwt    *auth.JWTManager
	hub    *hub
	logger *zap.Logger
	now    func() time.Time

	mu       sync.Mutex
	accounts map[string]*account // by email
	byID     map[string]*account
	rides    map[string]*ride
	order    []string
	failures map[string]int
	calls    map[string]int
}

// New creates a new Server.
func New(opts Options, logger *zap.Logger) *Server {
	opts.setDefaults()
	return &Server{
		opts:     opts,
		jwt:      auth.NewJWTManager(opts.Secret, opts.TokenTTL),
		hub:      newHub(logger),
		logger:   logger,
		now:      time.Now,
		accounts: make(map[string]*account),
		byID:     make(map[string]*account),
		rides:    make(map[string]*ride),
		failures: make(map[string]int),
		calls:    make(map[string]int),
	}
}

// Handler returns the gin engine serving the API.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(middleware.RecoveryMiddleware(s.logger), middleware.RequestIDMiddleware(), s.faultInjection())
	s.RegisterRoutes(r.Group(""))
	return r
}

// RegisterRoutes registers every simulated endpoint on the group.
func (s *Server) RegisterRoutes(r *gin.RouterGroup) {
	authMW := auth.Middleware(s.jwt)
	passenger := auth.RequireRole(user.RolePassenger)
	driver := auth.RequireRole(user.RoleDriver)

	a := r.Group("/api/v1/auth")
	{
		a.POST("/signup", s.signup)
		a.POST("/verify-otp", s.verifyOTP)
		a.POST("/resend-otp", s.resendOTP)
		a.POST("/login", s.login)
		a.POST("/logout", authMW, s.logout)
		a.GET("/me", authMW, s.me)
	}

	rides := r.Group("/api/v1/rides")
	rides.Use(authMW)
	{
		rides.POST("/estimate", s.estimate)
		rides.POST("", passenger, s.requestRide)
		rides.GET("/current", s.currentRide)
		rides.GET("/history", s.rideHistory)
		rides.GET("/:id", s.getRide)
		rides.GET("/:id/live", s.liveState)
		rides.POST("/:id/cancel", s.cancelRide)
		rides.POST("/:id/confirm-meet", s.confirmMeet)
		rides.POST("/:id/review", s.reviewRide)
		rides.POST("/:id/location", s.shareLocation)
		rides.POST("/:id/accept", driver, s.acceptRide)
		rides.POST("/:id/arrived", driver, s.markArrived)
		rides.POST("/:id/start", driver, s.startRide)
		rides.POST("/:id/complete", driver, s.completeRide)
	}

	drivers := r.Group("/api/v1/drivers")
	drivers.Use(authMW, driver)
	{
		drivers.POST("/register", s.registerDriver)
		drivers.GET("/me", s.driverProfile)
		drivers.PATCH("/status", s.driverStatus)
		drivers.POST("/location", s.driverLocation)
		drivers.GET("/rides/available", s.availableRides)
	}

	geo := r.Group("/api/v1")
	geo.Use(authMW)
	{
		geo.GET("/directions", s.directions)
		geo.GET("/places/autocomplete", s.autocomplete)
		geo.GET("/places/reverse", s.reverse)
		geo.GET("/places/:id", s.placeDetails)
	}

	r.GET("/ws", s.serveWS)

	admin := r.Group("/admin")
	{
		admin.GET("/rides", s.adminListRides)
		admin.POST("/rides/:id/status", s.adminSetStatus)
	}
}

// faultInjection answers 503 for routes armed with FailNext and counts calls.
func (s *Server) faultInjection() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		s.mu.Lock()
		s.calls[route]++
		fail := s.failures[route] > 0
		if fail {
			s.failures[route]--
		}
		s.mu.Unlock()

		if fail {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, response.Body{Error: "simulated outage"})
			return
		}
		c.Next()
	}
}

// FailNext makes the next n requests to route fail with 503. Route is the
// gin pattern, e.g. "/api/v1/rides/:id/live".
func (s *Server) FailNext(route string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[route] = n
}

// Calls returns how many requests hit route.
func (s *Server) Calls(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[route]
}

// Ride returns a copy of the trip and live state.
func (s *Server) Ride(tripID string) (trip.Trip, trip.LiveState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rd, ok := s.rides[tripID]
	if !ok {
		return trip.Trip{}, trip.LiveState{}, false
	}
	return rd.trip, rd.live, true
}

// SetStatus forces a ride into a status, bypassing the state machine.
func (s *Server) SetStatus(tripID string, status trip.Status) error {
	s.mu.Lock()
	rd, ok := s.rides[tripID]
	if !ok {
		s.mu.Unlock()
		return domain.NewNotFoundError("Ride", tripID)
	}
	s.setStatusLocked(rd, status)
	s.mu.Unlock()

	s.notify(rd.trip.ID)
	return nil
}

func (s *Server) setStatusLocked(rd *ride, status trip.Status) {
	now := s.now().UTC()
	rd.trip.Status = status
	rd.live.Status = status
	rd.live.UpdatedAt = &now
	switch status {
	case trip.StatusAccepted:
		rd.trip.AcceptedAt = &now
	case trip.StatusOngoing:
		rd.trip.StartedAt = &now
	case trip.StatusCompleted:
		rd.trip.CompletedAt = &now
	case trip.StatusCancelled:
		rd.trip.CancelledAt = &now
	}
}

// notify pushes a status frame to both parties of a ride.
func (s *Server) notify(tripID string) {
	s.mu.Lock()
	rd, ok := s.rides[tripID]
	if !ok {
		s.mu.Unlock()
		return
	}
	payload := statusFrame{TripID: rd.trip.ID, Status: rd.trip.Status}
	targets := []string{rd.trip.PassengerID, rd.trip.DriverID}
	s.mu.Unlock()

	for _, id := range targets {
		if id != "" {
			s.hub.send(id, "ride_status_update", payload)
		}
	}
}

type statusFrame struct {
	TripID string      `json:"trip_id"`
	Status trip.Status `json:"status"`
}

// adminListRides handles GET /admin/rides.
func (s *Server) adminListRides(c *gin.Context) {
	s.mu.Lock()
	out := make([]trip.Trip, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.rides[id].trip)
	}
	s.mu.Unlock()
	response.Success(c, gin.H{"rides": out})
}

// adminSetStatus handles POST /admin/rides/:id/status.
func (s *Server) adminSetStatus(c *gin.Context) {
	var req struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	status, err := trip.ParseStatus(req.Status)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if err := s.SetStatus(c.Param("id"), status); err != nil {
		response.Error(c, err)
		return
	}
	t, _, _ := s.Ride(c.Param("id"))
	response.Success(c, gin.H{"ride": t})
}
