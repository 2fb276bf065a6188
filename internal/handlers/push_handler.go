package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"catalog-sync-service/internal/middleware"
	"catalog-sync-service/internal/models"
	"catalog-sync-service/internal/services"
)

// PushHandler exposes the outbound propagation triggers. Upstream catalog
// services call these when a canonical product or inventory level changes.
type PushHandler struct {
	service *services.PushService
}

// NewPushHandler creates a new push handler
func NewPushHandler(service *services.PushService) *PushHandler {
	return &PushHandler{service: service}
}

// PushProduct handles POST /sync/push/products/:id. The operation field
// selects create, update, or delete semantics.
func (h *PushHandler) PushProduct(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid product id"})
		return
	}

	var req struct {
		Operation string `json:"operation" binding:"required,oneof=create update delete"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := middleware.GetUserID(c)
	ctx := c.Request.Context()

	var job *models.SyncQueueJob
	switch req.Operation {
	case "create":
		job, err = h.service.QueueProductCreate(ctx, id, userID, nil)
	case "update":
		job, err = h.service.QueueProductUpdate(ctx, id, userID, nil)
	case "delete":
		job, err = h.service.QueueProductDeleteByID(ctx, id, userID, nil)
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"jobId": job.ID})
}

// PushInventory handles POST /sync/push/variants/:id/inventory
func (h *PushHandler) PushInventory(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid variant id"})
		return
	}

	job, err := h.service.QueueInventoryUpdate(c.Request.Context(), id, middleware.GetUserID(c), nil)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"jobId": job.ID})
}
