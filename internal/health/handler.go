// Package health provides health check endpoint handler.
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/castingclouds/gerrit-sub002/internal/database/database"
	"github.com/castingclouds/gerrit-sub002/internal/gitstore"
)

// Handler handles health check requests.
type Handler struct {
	db     *gorm.DB
	git    gitstore.Store
	logger *zap.SugaredLogger
}

// New creates a new health handler instance.
func New(db *gorm.DB, git gitstore.Store, logger *zap.SugaredLogger) *Handler {
	return &Handler{
		db:     db,
		git:    git,
		logger: logger,
	}
}

// Response represents health check response.
type Response struct {
	Status string `json:"status"`
}

// Check handles GET /health request. The service is healthy only when both
// the database and the git object store answer.
func (h *Handler) Check(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := database.HealthCheck(ctx, h.db); err != nil {
		h.logger.Warnw("health check failed", "component", "database", "error", err)
		c.JSON(http.StatusServiceUnavailable, Response{
			Status: "unhealthy",
		})
		return
	}

	if err := h.git.Ping(ctx); err != nil {
		h.logger.Warnw("health check failed", "component", "gitstore", "error", err)
		c.JSON(http.StatusServiceUnavailable, Response{
			Status: "unhealthy",
		})
		return
	}

	c.JSON(http.StatusOK, Response{
		Status: "ok",
	})
}
