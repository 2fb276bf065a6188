package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"catalog-sync-service/internal/middleware"
	"catalog-sync-service/internal/repository"
	"catalog-sync-service/internal/services"
)

// ActivityHandler serves the append-only activity log
type ActivityHandler struct {
	service *services.ActivityService
}

// NewActivityHandler creates a new activity handler
func NewActivityHandler(service *services.ActivityService) *ActivityHandler {
	return &ActivityHandler{service: service}
}

// List handles GET /activity
func (h *ActivityHandler) List(c *gin.Context) {
	opts := repository.ActivityListOptions{
		UserID:    middleware.GetUserID(c),
		Operation: c.Query("operation"),
	}
	if raw := c.Query("connectionId"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid connection id"})
			return
		}
		opts.ConnectionID = &id
	}
	if raw := c.Query("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			opts.Limit = v
		}
	}
	if raw := c.Query("offset"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			opts.Offset = v
		}
	}

	entries, total, err := h.service.List(c.Request.Context(), opts)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"activity": entries, "total": total})
}
