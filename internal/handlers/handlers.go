package handlers

import (
	"github.com/gin-gonic/gin"

	"catalog-sync-service/internal/syncerr"
)

// respondError maps an error's kind onto the HTTP status it deserves.
func respondError(c *gin.Context, err error) {
	c.JSON(syncerr.HTTPStatus(err), gin.H{"error": err.Error()})
}
