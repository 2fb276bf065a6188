package handlers

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"catalog-sync-service/internal/models"
	"catalog-sync-service/internal/services"
)

// WebhookHandler handles the public platform webhook endpoints
type WebhookHandler struct {
	service *services.WebhookService
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(service *services.WebhookService) *WebhookHandler {
	return &WebhookHandler{service: service}
}

// Handle receives POST /webhook/:platform. The body is raw bytes; headers
// carry the signature and routing. 200 means accepted (or deliberately
// dropped), 400 malformed or unroutable, 401 signature rejected. Processing
// is asynchronous and never reflected in the response.
func (h *WebhookHandler) Handle(c *gin.Context) {
	platformType, ok := parsePlatform(c.Param("platform"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown platform"})
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}

	status, err := h.service.Ingest(c.Request.Context(), platformType, body, c.Request.Header)
	if err != nil && status != http.StatusOK {
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(status, gin.H{"received": true})
}

func parsePlatform(raw string) (models.PlatformType, bool) {
	switch models.PlatformType(strings.ToUpper(raw)) {
	case models.PlatformShopify:
		return models.PlatformShopify, true
	case models.PlatformSquare:
		return models.PlatformSquare, true
	case models.PlatformClover:
		return models.PlatformClover, true
	default:
		return "", false
	}
}
