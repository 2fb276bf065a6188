package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"catalog-sync-service/internal/middleware"
	"catalog-sync-service/internal/models"
	"catalog-sync-service/internal/services"
)

// ConnectionHandler handles connection CRUD and the scan/review/confirm
// lifecycle endpoints
type ConnectionHandler struct {
	service *services.ConnectionService
}

// NewConnectionHandler creates a new connection handler
func NewConnectionHandler(service *services.ConnectionService) *ConnectionHandler {
	return &ConnectionHandler{service: service}
}

// Create handles POST /sync/connections
func (h *ConnectionHandler) Create(c *gin.Context) {
	var req services.CreateConnectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conn, err := h.service.Create(c.Request.Context(), middleware.GetUserID(c), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, conn)
}

// List handles GET /sync/connections
func (h *ConnectionHandler) List(c *gin.Context) {
	conns, err := h.service.List(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"connections": conns})
}

// Get handles GET /sync/connections/:id
func (h *ConnectionHandler) Get(c *gin.Context) {
	id, ok := h.connectionID(c)
	if !ok {
		return
	}
	conn, err := h.service.Get(c.Request.Context(), middleware.GetUserID(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, conn)
}

// SetEnabled handles PATCH /sync/connections/:id
func (h *ConnectionHandler) SetEnabled(c *gin.Context) {
	id, ok := h.connectionID(c)
	if !ok {
		return
	}
	var req struct {
		IsEnabled *bool `json:"isEnabled" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.service.SetEnabled(c.Request.Context(), middleware.GetUserID(c), id, *req.IsEnabled); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Delete handles DELETE /sync/connections/:id, which disconnects rather than
// erasing: mappings and credentials go, the canonical catalog stays.
func (h *ConnectionHandler) Delete(c *gin.Context) {
	id, ok := h.connectionID(c)
	if !ok {
		return
	}
	if err := h.service.Disconnect(c.Request.Context(), middleware.GetUserID(c), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// StartScan handles POST /sync/connections/:id/start-scan
func (h *ConnectionHandler) StartScan(c *gin.Context) {
	id, ok := h.connectionID(c)
	if !ok {
		return
	}
	job, err := h.service.StartScan(c.Request.Context(), middleware.GetUserID(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"jobId": job.ID})
}

// ScanSummary handles GET /sync/connections/:id/scan-summary
func (h *ConnectionHandler) ScanSummary(c *gin.Context) {
	id, ok := h.connectionID(c)
	if !ok {
		return
	}
	summary, err := h.service.ScanSummary(c.Request.Context(), middleware.GetUserID(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// MappingSuggestions handles GET /sync/connections/:id/mapping-suggestions
func (h *ConnectionHandler) MappingSuggestions(c *gin.Context) {
	id, ok := h.connectionID(c)
	if !ok {
		return
	}
	suggestions, err := h.service.MappingSuggestions(c.Request.Context(), middleware.GetUserID(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"suggestions": suggestions})
}

// ConfirmMappings handles POST /sync/connections/:id/confirm-mappings
func (h *ConnectionHandler) ConfirmMappings(c *gin.Context) {
	id, ok := h.connectionID(c)
	if !ok {
		return
	}
	var req struct {
		Mappings []models.MappingSuggestion `json:"mappings"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.service.ConfirmMappings(c.Request.Context(), middleware.GetUserID(c), id, req.Mappings); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ActivateSync handles POST /sync/connections/:id/activate-sync
func (h *ConnectionHandler) ActivateSync(c *gin.Context) {
	id, ok := h.connectionID(c)
	if !ok {
		return
	}
	job, err := h.service.ActivateSync(c.Request.Context(), middleware.GetUserID(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"jobId": job.ID})
}

func (h *ConnectionHandler) connectionID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid connection id"})
		return uuid.Nil, false
	}
	return id, true
}
