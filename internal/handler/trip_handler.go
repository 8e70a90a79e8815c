package handler

import (
	"context"
	"io"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rideline/ridectl/internal/common/response"
	"github.com/rideline/ridectl/internal/domain/trip"
	"github.com/rideline/ridectl/internal/lifecycle"
)

// TripController is the tracker as driven by the local API.
type TripController interface {
	State() trip.Snapshot
	Subscribe(buffer int) (<-chan trip.Transition, func())
	Refresh(ctx context.Context) error
	ConfirmMeet(ctx context.Context) (*trip.LiveState, error)
	Cancel(ctx context.Context, reason string) error
	MarkReviewed(ctx context.Context, review trip.Review) error
}

// TripHandler exposes the tracked trip to local tools.
type TripHandler struct {
	tracker   TripController
	keepAlive time.Duration
}

// NewTripHandler creates a new TripHandler.
func NewTripHandler(tracker TripController) *TripHandler {
	return &TripHandler{tracker: tracker, keepAlive: 15 * time.Second}
}

// CancelRequest is the body of POST /api/v1/trips/current/cancel.
type CancelRequest struct {
	Reason string `json:"reason" binding:"max=500"`
}

// ReviewRequest is the body of POST /api/v1/trips/current/review.
type ReviewRequest struct {
	Rating  int    `json:"rating" binding:"required,min=1,max=5"`
	Comment string `json:"comment" binding:"max=1000"`
}

// RegisterRoutes registers all trip routes on the given router group.
func (h *TripHandler) RegisterRoutes(r *gin.RouterGroup) {
	trips := r.Group("/api/v1/trips/current")
	{
		trips.GET("", h.GetCurrent)
		trips.GET("/events", h.StreamEvents)
		trips.POST("/refresh", h.Refresh)
		trips.POST("/confirm-meet", h.ConfirmMeet)
		trips.POST("/cancel", h.Cancel)
		trips.POST("/review", h.Review)
	}
}

// GetCurrent handles GET /api/v1/trips/current.
func (h *TripHandler) GetCurrent(c *gin.Context) {
	snap := h.tracker.State()
	if snap.TripID == "" {
		response.Error(c, lifecycle.ErrNoTrip)
		return
	}
	response.Success(c, snap)
}

// Refresh handles POST /api/v1/trips/current/refresh.
func (h *TripHandler) Refresh(c *gin.Context) {
	if err := h.tracker.Refresh(c.Request.Context()); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, h.tracker.State())
}

// ConfirmMeet handles POST /api/v1/trips/current/confirm-meet.
func (h *TripHandler) ConfirmMeet(c *gin.Context) {
	live, err := h.tracker.ConfirmMeet(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, live)
}

// Cancel handles POST /api/v1/trips/current/cancel.
func (h *TripHandler) Cancel(c *gin.Context) {
	var req CancelRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
	}

	if err := h.tracker.Cancel(c.Request.Context(), req.Reason); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, h.tracker.State())
}

// Review handles POST /api/v1/trips/current/review.
func (h *TripHandler) Review(c *gin.Context) {
	var req ReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	if err := h.tracker.MarkReviewed(c.Request.Context(), trip.Review{Rating: req.Rating, Comment: req.Comment}); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, h.tracker.State())
}

// StreamEvents handles GET /api/v1/trips/current/events as server-sent events.
// The current snapshot is sent first, then one event per transition.
func (h *TripHandler) StreamEvents(c *gin.Context) {
	transitions, unsubscribe := h.tracker.Subscribe(16)
	defer unsubscribe()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("snapshot", h.tracker.State())
	c.Writer.Flush()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case tr, ok := <-transitions:
			if !ok {
				return false
			}
			c.SSEvent("transition", tr)
			return true
		case <-ticker.C:
			c.SSEvent("ping", gin.H{"at": time.Now().UTC()})
			return true
		}
	})
}
