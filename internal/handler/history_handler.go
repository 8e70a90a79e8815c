package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/rideline/ridectl/internal/common/response"
	"github.com/rideline/ridectl/internal/domain/trip"
)

// HistoryHandler serves the locally recorded trip history.
type HistoryHandler struct {
	repo trip.SnapshotRepository
}

// NewHistoryHandler creates a new HistoryHandler.
func NewHistoryHandler(repo trip.SnapshotRepository) *HistoryHandler {
	return &HistoryHandler{repo: repo}
}

// RegisterRoutes registers history routes.
func (h *HistoryHandler) RegisterRoutes(r *gin.RouterGroup) {
	history := r.Group("/api/v1/trips")
	{
		history.GET("/history", h.ListHistory)
		history.GET("/stats", h.Stats)
	}
}

// ListHistory handles GET /api/v1/trips/history.
func (h *HistoryHandler) ListHistory(c *gin.Context) {
	page, limit := parsePagination(c)

	records, total, err := h.repo.ListRecords(c.Request.Context(), page, limit)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Paginated(c, records, total, page, limit)
}

// Stats handles GET /api/v1/trips/stats.
func (h *HistoryHandler) Stats(c *gin.Context) {
	stats, err := h.repo.CountByPhase(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, stats)
}

func parsePagination(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	return page, limit
}
