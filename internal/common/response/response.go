package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rideline/ridectl/internal/common/domain"
)

// Body is the envelope every JSON response is wrapped in.
type Body struct {
	Success    bool        `json:"success"`
	Data       any         `json:"data,omitempty"`
	Error      string      `json:"error,omitempty"`
	Pagination *Pagination `json:"pagination,omitempty"`
}

// Pagination describes the page returned by a list endpoint.
type Pagination struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int64 `json:"total_pages"`
}

// Success writes a 200 envelope.
func Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Body{Success: true, Data: data})
}

// Created writes a 201 envelope.
func Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, Body{Success: true, Data: data})
}

// Paginated writes a 200 envelope with pagination metadata.
func Paginated(c *gin.Context, data any, total int64, page, limit int) {
	pages := int64(0)
	if limit > 0 {
		pages = (total + int64(limit) - 1) / int64(limit)
	}
	c.JSON(http.StatusOK, Body{
		Success: true,
		Data:    data,
		Pagination: &Pagination{
			Page:       page,
			Limit:      limit,
			Total:      total,
			TotalPages: pages,
		},
	})
}

// BadRequest writes a 400 error envelope.
func BadRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, Body{Error: msg})
}

// Unauthorized writes a 401 error envelope.
func Unauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, Body{Error: msg})
}

// Forbidden writes a 403 error envelope.
func Forbidden(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusForbidden, Body{Error: msg})
}

// Error maps a domain error to its status code.
func Error(c *gin.Context, err error) {
	c.AbortWithStatusJSON(domain.HTTPStatus(err), Body{Error: err.Error()})
}
