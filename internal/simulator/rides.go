package simulator

import (
	"sort"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rideline/ridectl/internal/common/domain"
	"github.com/rideline/ridectl/internal/common/response"
	"github.com/rideline/ridectl/internal/domain/trip"
	"github.com/rideline/ridectl/internal/domain/user"
)

// activeRideLocked returns the caller's non-terminal ride.
func (s *Server) activeRideLocked(userID string) *ride {
	for i := len(s.order) - 1; i >= 0; i-- {
		rd := s.rides[s.order[i]]
		if rd.trip.Status.IsTerminal() {
			continue
		}
		if rd.trip.PassengerID == userID || rd.trip.DriverID == userID {
			return rd
		}
	}
	return nil
}

// participantLocked loads a ride the caller may see. Drivers may also see
// rides that are still waiting for a driver.
func (s *Server) participantLocked(tripID, userID string, role user.Role) (*ride, error) {
	rd, ok := s.rides[tripID]
	if !ok {
		return nil, domain.NewNotFoundError("Ride", tripID)
	}
	if rd.trip.PassengerID == userID || rd.trip.DriverID == userID {
		return rd, nil
	}
	if role == user.RoleDriver && rd.trip.Status == trip.StatusRequested {
		return rd, nil
	}
	return nil, domain.NewForbiddenError("not a participant of this ride")
}

// mutate runs fn on a ride under the lock and notifies both parties when the
// status changed.
func (s *Server) mutate(c *gin.Context, fn func(rd *ride, acc *account, role user.Role) error) (*ride, bool) {
	acc, role, ok := s.caller(c)
	if !ok {
		return nil, false
	}

	s.mu.Lock()
	rd, err := s.participantLocked(c.Param("id"), acc.user.ID, role)
	if err != nil {
		s.mu.Unlock()
		response.Error(c, err)
		return nil, false
	}
	before := rd.trip.Status
	if err := fn(rd, acc, role); err != nil {
		s.mu.Unlock()
		response.Error(c, err)
		return nil, false
	}
	changed := rd.trip.Status != before
	snapshot := *rd
	s.mu.Unlock()

	if changed {
		s.logger.Info("simulated ride status changed",
			zap.String("trip_id", snapshot.trip.ID),
			zap.String("from", before.String()),
			zap.String("to", snapshot.trip.Status.String()),
		)
		s.notify(snapshot.trip.ID)
	}
	return &snapshot, true
}

func (s *Server) transitionLocked(rd *ride, to trip.Status) error {
	if !rd.trip.Status.CanTransitionTo(to) {
		return domain.NewInvalidStateError(rd.trip.Status.String(), to.String())
	}
	s.setStatusLocked(rd, to)
	return nil
}

// requestRide handles POST /api/v1/rides.
func (s *Server) requestRide(c *gin.Context) {
	acc, _, ok := s.caller(c)
	if !ok {
		return
	}
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

	s.mu.Lock()
	if s.activeRideLocked(acc.user.ID) != nil {
		s.mu.Unlock()
		response.Error(c, domain.NewConflictError("passenger already has an active ride"))
		return
	}
	now := s.now().UTC()
	rd := &ride{
		trip: trip.Trip{
			ID:              uuid.New().String(),
			PassengerID:     acc.user.ID,
			From:            req.From,
			To:              req.To,
			Pickup:          req.Pickup,
			DropOff:         req.DropOff,
			DistanceMeters:  est.DistanceMeters,
			DurationSeconds: est.DurationSeconds,
			Fare:            est.Fare,
			Currency:        est.Currency,
			Status:          trip.StatusRequested,
			RequestedAt:     &now,
		},
		reviews: make(map[user.Role]trip.Review),
	}
	rd.live = trip.LiveState{TripID: rd.trip.ID, Status: trip.StatusRequested, UpdatedAt: &now}
	s.rides[rd.trip.ID] = rd
	s.order = append(s.order, rd.trip.ID)
	t := rd.trip
	var online []string
	for id, a := range s.byID {
		if a.driver != nil && a.driver.Online {
			online = append(online, id)
		}
	}
	s.mu.Unlock()

	for _, id := range online {
		s.hub.send(id, "ride_request", gin.H{"trip_id": t.ID})
	}
	response.Created(c, gin.H{"ride": t})
}

// currentRide handles GET /api/v1/rides/current.
func (s *Server) currentRide(c *gin.Context) {
	acc, _, ok := s.caller(c)
	if !ok {
		return
	}
	s.mu.Lock()
	rd := s.activeRideLocked(acc.user.ID)
	var t trip.Trip
	if rd != nil {
		t = rd.trip
	}
	s.mu.Unlock()

	if rd == nil {
		response.Error(c, domain.NewNotFoundError("Ride", "current"))
		return
	}
	response.Success(c, gin.H{"ride": t})
}

// rideHistory handles GET /api/v1/rides/history.
func (s *Server) rideHistory(c *gin.Context) {
	acc, _, ok := s.caller(c)
	if !ok {
		return
	}
	page, limit := parsePagination(c)

	s.mu.Lock()
	var mine []trip.Trip
	for i := len(s.order) - 1; i >= 0; i-- {
		t := s.rides[s.order[i]].trip
		if t.PassengerID == acc.user.ID || t.DriverID == acc.user.ID {
			mine = append(mine, t)
		}
	}
	s.mu.Unlock()

	total := len(mine)
	start := (page - 1) * limit
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}
	response.Success(c, gin.H{"rides": mine[start:end], "total": total})
}

// getRide handles GET /api/v1/rides/:id.
func (s *Server) getRide(c *gin.Context) {
	rd, ok := s.mutate(c, func(*ride, *account, user.Role) error { return nil })
	if !ok {
		return
	}
	response.Success(c, gin.H{"ride": rd.trip})
}

// liveState handles GET /api/v1/rides/:id/live.
func (s *Server) liveState(c *gin.Context) {
	rd, ok := s.mutate(c, func(*ride, *account, user.Role) error { return nil })
	if !ok {
		return
	}
	response.Success(c, gin.H{"state": rd.live})
}

// cancelRide handles POST /api/v1/rides/:id/cancel.
func (s *Server) cancelRide(c *gin.Context) {
	var req struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&req)

	rd, ok := s.mutate(c, func(rd *ride, acc *account, _ user.Role) error {
		if rd.trip.PassengerID != acc.user.ID && rd.trip.DriverID != acc.user.ID {
			return domain.NewForbiddenError("not a participant of this ride")
		}
		if err := s.transitionLocked(rd, trip.StatusCancelled); err != nil {
			return err
		}
		rd.trip.CancelReason = req.Reason
		return nil
	})
	if !ok {
		return
	}
	response.Success(c, gin.H{"ride": rd.trip})
}

// confirmMeet handles POST /api/v1/rides/:id/confirm-meet.
func (s *Server) confirmMeet(c *gin.Context) {
	rd, ok := s.mutate(c, func(rd *ride, acc *account, role user.Role) error {
		if rd.trip.Status != trip.StatusAccepted && rd.trip.Status != trip.StatusArrived {
			return domain.NewInvalidStateError(rd.trip.Status.String(), "meet confirmation")
		}
		switch {
		case role == user.RoleDriver && rd.trip.DriverID == acc.user.ID:
			rd.live.DriverConfirmedMeet = true
		case role == user.RolePassenger && rd.trip.PassengerID == acc.user.ID:
			rd.live.PassengerConfirmedMeet = true
		default:
			return domain.NewForbiddenError("not a participant of this ride")
		}
		now := s.now().UTC()
		rd.live.UpdatedAt = &now
		return nil
	})
	if !ok {
		return
	}
	s.notify(rd.trip.ID)
	response.Success(c, gin.H{"state": rd.live})
}

// reviewRide handles POST /api/v1/rides/:id/review.
func (s *Server) reviewRide(c *gin.Context) {
	var review trip.Review
	if err := c.ShouldBindJSON(&review); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if err := review.Validate(); err != nil {
		response.Error(c, err)
		return
	}
	_, ok := s.mutate(c, func(rd *ride, acc *account, role user.Role) error {
		if rd.trip.Status != trip.StatusCompleted {
			return domain.NewInvalidStateError(rd.trip.Status.String(), "review")
		}
		if _, done := rd.reviews[role]; done {
			return domain.NewConflictError("ride already reviewed")
		}
		rd.reviews[role] = review
		if role == user.RolePassenger {
			rating := review.Rating
			rd.trip.Rating = &rating
		}
		return nil
	})
	if !ok {
		return
	}
	response.Success(c, gin.H{"message": "review recorded"})
}

// shareLocation handles POST /api/v1/rides/:id/location.
func (s *Server) shareLocation(c *gin.Context) {
	var loc trip.Location
	if err := c.ShouldBindJSON(&loc); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if err := loc.Validate(); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	_, ok := s.mutate(c, func(rd *ride, _ *account, role user.Role) error {
		s.placeLocked(rd, role, loc)
		return nil
	})
	if !ok {
		return
	}
	response.Success(c, gin.H{"message": "location updated"})
}

// placeLocked records a party's position and refreshes the pickup ETA.
func (s *Server) placeLocked(rd *ride, role user.Role, loc trip.Location) {
	l := loc
	if role == user.RoleDriver {
		rd.live.DriverLocation = &l
		if rd.trip.Status == trip.StatusAccepted {
			eta := l.DistanceMeters(rd.trip.Pickup) * roadFactor / cruiseSpeed
			rd.live.ETASeconds = &eta
		}
	} else {
		rd.live.PassengerLocation = &l
	}
	now := s.now().UTC()
	rd.live.UpdatedAt = &now
}

// acceptRide handles POST /api/v1/rides/:id/accept.
func (s *Server) acceptRide(c *gin.Context) {
	rd, ok := s.mutate(c, func(rd *ride, acc *account, _ user.Role) error {
		if acc.driver == nil {
			return domain.NewForbiddenError("driver profile not registered")
		}
		if active := s.activeRideLocked(acc.user.ID); active != nil && active != rd {
			return domain.NewConflictError("driver already has an active ride")
		}
		if err := s.transitionLocked(rd, trip.StatusAccepted); err != nil {
			return err
		}
		rd.trip.DriverID = acc.user.ID
		if acc.location != nil {
			s.placeLocked(rd, user.RoleDriver, *acc.location)
		}
		return nil
	})
	if !ok {
		return
	}
	response.Success(c, gin.H{"ride": rd.trip})
}

// markArrived handles POST /api/v1/rides/:id/arrived.
func (s *Server) markArrived(c *gin.Context) {
	s.driverStep(c, trip.StatusArrived, nil)
}

// startRide handles POST /api/v1/rides/:id/start.
func (s *Server) startRide(c *gin.Context) {
	s.driverStep(c, trip.StatusOngoing, func(rd *ride) error {
		if !rd.live.MeetConfirmed() {
			return domain.NewConflictError("both parties must confirm the meet first")
		}
		return nil
	})
}

// completeRide handles POST /api/v1/rides/:id/complete.
func (s *Server) completeRide(c *gin.Context) {
	s.driverStep(c, trip.StatusCompleted, nil)
}

func (s *Server) driverStep(c *gin.Context, to trip.Status, guard func(rd *ride) error) {
	rd, ok := s.mutate(c, func(rd *ride, acc *account, _ user.Role) error {
		if rd.trip.DriverID != acc.user.ID {
			return domain.NewForbiddenError("ride is assigned to another driver")
		}
		if guard != nil {
			if err := guard(rd); err != nil {
				return err
			}
		}
		return s.transitionLocked(rd, to)
	})
	if !ok {
		return
	}
	response.Success(c, gin.H{"ride": rd.trip})
}

// availableRides handles GET /api/v1/drivers/rides/available, nearest first
// when the driver passes a position.
func (s *Server) availableRides(c *gin.Context) {
	var near *trip.Location
	if c.Query("lat") != "" && c.Query("lng") != "" {
		lat, errLat := strconv.ParseFloat(c.Query("lat"), 64)
		lng, errLng := strconv.ParseFloat(c.Query("lng"), 64)
		if errLat != nil || errLng != nil {
			response.BadRequest(c, "invalid lat or lng")
			return
		}
		near = &trip.Location{Lat: lat, Lng: lng}
	}

	s.mu.Lock()
	open := []trip.Trip{}
	for _, id := range s.order {
		if t := s.rides[id].trip; t.Status == trip.StatusRequested {
			open = append(open, t)
		}
	}
	s.mu.Unlock()

	if near != nil {
		sort.SliceStable(open, func(i, j int) bool {
			return near.DistanceMeters(open[i].Pickup) < near.DistanceMeters(open[j].Pickup)
		})
	}
	response.Success(c, gin.H{"rides": open})
}

func parsePagination(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return page, limit
}
