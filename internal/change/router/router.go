// Package router provides change module route registration.
package router

import (
	"github.com/gin-gonic/gin"

	"github.com/castingclouds/gerrit-sub002/internal/change/handler"
	"github.com/castingclouds/gerrit-sub002/internal/change/service"
)

// RegisterRoutes registers the change review routes.
func RegisterRoutes(r *gin.Engine, svc service.Service) {
	h := handler.New(svc)

	changes := r.Group("/changes")
	changes.POST("/push", h.Push)
	changes.GET("", h.List)
	changes.GET("/:number", h.Get)
	changes.GET("/:number/comments", h.ListComments)
	changes.PUT("/:number/comments/:id/resolve", h.ResolveComment)
	changes.GET("/:number/revisions/:patchset/diffs", h.ListDiffs)
	changes.POST("/:number/revisions/:patchset/review", h.Review)
	changes.POST("/:number/abandon", h.Abandon)
	changes.POST("/:number/restore", h.Restore)
	changes.PUT("/:number/topic", h.SetTopic)
	changes.PUT("/:number/hashtags", h.SetHashtags)
	changes.PUT("/:number/wip", h.SetWorkInProgress)
	changes.PUT("/:number/private", h.SetPrivate)
}
