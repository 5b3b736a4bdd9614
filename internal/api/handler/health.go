package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/user/model-router-go/internal/provider"
	"github.com/user/model-router-go/internal/version"
)

// HealthHandler reports host liveness and registered providers.
type HealthHandler struct {
	registry *provider.Registry
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(registry *provider.Registry) *HealthHandler {
	return &HealthHandler{registry: registry}
}

// Health handles GET /api/health.
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"version":   version.Short(),
		"providers": h.registry.IDs(),
	})
}
