// Package router provides submit engine route registration.
package router

import (
	"github.com/gin-gonic/gin"

	submitHandler "github.com/castingclouds/gerrit-sub002/internal/submit/handler"
	"github.com/castingclouds/gerrit-sub002/internal/submit/service"
)

// RegisterRoutes registers the branch-mutating submit routes.
func RegisterRoutes(r *gin.Engine, engine service.Service) {
	h := submitHandler.New(engine)

	changes := r.Group("/changes")
	{
		changes.POST("/:number/rebase", h.Rebase)
		changes.POST("/:number/submit", h.Submit)
		changes.POST("/:number/cherrypick", h.CherryPick)
		changes.POST("/:number/revert", h.Revert)
		changes.POST("/:number/move", h.Move)
	}

	topics := r.Group("/topics")
	{
		topics.POST("/:topic/submit", h.SubmitTopic)
	}
}
