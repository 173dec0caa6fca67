// Package handler provides HTTP handlers for change review endpoints.
package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	changeModel "github.com/castingclouds/gerrit-sub002/internal/change/model"
	"github.com/castingclouds/gerrit-sub002/internal/change/repository"
	"github.com/castingclouds/gerrit-sub002/internal/change/service"
)

// Handler handles HTTP requests for change endpoints.
type Handler struct {
	service service.Service
}

// New creates a new change handler instance.
func New(svc service.Service) *Handler {
	return &Handler{service: svc}
}

func changeNumber(c *gin.Context) (int64, bool) {
	number, err := strconv.ParseInt(c.Param("number"), 10, 64)
	if err != nil || number <= 0 {
		errorResponse(c, "INVALID_REQUEST", "change number must be a positive integer", http.StatusBadRequest)
		return 0, false
	}
	return number, true
}

func patchSetNumber(c *gin.Context) (int, bool) {
	ps, err := strconv.Atoi(c.Param("patchset"))
	if err != nil || ps <= 0 {
		errorResponse(c, "INVALID_REQUEST", "patch set number must be a positive integer", http.StatusBadRequest)
		return 0, false
	}
	return ps, true
}

// Push handles POST /changes/push: the review intake for a commit pushed to a
// refs/for target. Responds 201 when a new change was opened, 200 when the
// commit became the next patch set of an existing one.
func (h *Handler) Push(c *gin.Context) {
	var req changeModel.PushRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, "INVALID_REQUEST", "invalid request body", http.StatusBadRequest)
		return
	}

	resp, err := h.service.HandlePush(c.Request.Context(), &req)
	if err != nil {
		serviceError(c, err)
		return
	}

	status := http.StatusOK
	if resp.Created {
		status = http.StatusCreated
	}
	c.JSON(status, resp)
}

// List handles GET /changes with project/branch/status/topic/limit filters.
func (h *Handler) List(c *gin.Context) {
	filter := repository.ListFilter{
		Project: c.Query("project"),
		Branch:  c.Query("branch"),
		Topic:   c.Query("topic"),
	}
	if status := c.Query("status"); status != "" {
		s := changeModel.Status(status)
		if !s.Valid() {
			errorResponse(c, "INVALID_REQUEST", "unknown status "+status, http.StatusBadRequest)
			return
		}
		filter.Status = s
	}
	if limit := c.Query("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			errorResponse(c, "INVALID_REQUEST", "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		filter.Limit = n
	}

	changes, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, map[string]interface{}{"changes": changes})
}

// Get handles GET /changes/:number.
func (h *Handler) Get(c *gin.Context) {
	number, ok := changeNumber(c)
	if !ok {
		return
	}
	detail, err := h.service.Get(c.Request.Context(), number)
	if err != nil {
		serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

// ListDiffs handles GET /changes/:number/revisions/:patchset/diffs.
func (h *Handler) ListDiffs(c *gin.Context) {
	number, ok := changeNumber(c)
	if !ok {
		return
	}
	ps, ok := patchSetNumber(c)
	if !ok {
		return
	}
	diffs, err := h.service.ListDiffs(c.Request.Context(), number, ps)
	if err != nil {
		serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, map[string]interface{}{"diffs": diffs})
}

// Review handles POST /changes/:number/revisions/:patchset/review.
func (h *Handler) Review(c *gin.Context) {
	number, ok := changeNumber(c)
	if !ok {
		return
	}
	ps, ok := patchSetNumber(c)
	if !ok {
		return
	}
	var req changeModel.ReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, "INVALID_REQUEST", "invalid request body", http.StatusBadRequest)
		return
	}

	record, err := h.service.Review(c.Request.Context(), number, ps, &req)
	if err != nil {
		serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, map[string]interface{}{"submit_record": record})
}

// ListComments handles GET /changes/:number/comments.
func (h *Handler) ListComments(c *gin.Context) {
	number, ok := changeNumber(c)
	if !ok {
		return
	}
	comments, err := h.service.ListComments(c.Request.Context(), number)
	if err != nil {
		serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, map[string]interface{}{"comments": comments})
}

// ResolveComment handles PUT /changes/:number/comments/:id/resolve.
func (h *Handler) ResolveComment(c *gin.Context) {
	number, ok := changeNumber(c)
	if !ok {
		return
	}
	var req changeModel.ResolveCommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, "INVALID_REQUEST", "invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.service.ResolveComment(c.Request.Context(), number, c.Param("id"), req.Unresolved); err != nil {
		serviceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Abandon handles POST /changes/:number/abandon.
func (h *Handler) Abandon(c *gin.Context) {
	number, ok := changeNumber(c)
	if !ok {
		return
	}
	var req changeModel.AbandonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, "INVALID_REQUEST", "invalid request body", http.StatusBadRequest)
		return
	}

	resp, err := h.service.Abandon(c.Request.Context(), number, &req)
	if err != nil {
		serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, map[string]interface{}{"change": resp})
}

// Restore handles POST /changes/:number/restore.
func (h *Handler) Restore(c *gin.Context) {
	number, ok := changeNumber(c)
	if !ok {
		return
	}
	var req changeModel.RestoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, "INVALID_REQUEST", "invalid request body", http.StatusBadRequest)
		return
	}

	resp, err := h.service.Restore(c.Request.Context(), number, &req)
	if err != nil {
		serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, map[string]interface{}{"change": resp})
}

// SetTopic handles PUT /changes/:number/topic.
func (h *Handler) SetTopic(c *gin.Context) {
	number, ok := changeNumber(c)
	if !ok {
		return
	}
	var req changeModel.TopicRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, "INVALID_REQUEST", "invalid request body", http.StatusBadRequest)
		return
	}

	resp, err := h.service.SetTopic(c.Request.Context(), number, req.Topic)
	if err != nil {
		serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, map[string]interface{}{"change": resp})
}

// SetHashtags handles PUT /changes/:number/hashtags.
func (h *Handler) SetHashtags(c *gin.Context) {
	number, ok := changeNumber(c)
	if !ok {
		return
	}
	var req changeModel.HashtagsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, "INVALID_REQUEST", "invalid request body", http.StatusBadRequest)
		return
	}

	resp, err := h.service.SetHashtags(c.Request.Context(), number, req.Hashtags)
	if err != nil {
		serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, map[string]interface{}{"change": resp})
}

// SetWorkInProgress handles PUT /changes/:number/wip.
func (h *Handler) SetWorkInProgress(c *gin.Context) {
	number, ok := changeNumber(c)
	if !ok {
		return
	}
	var req changeModel.FlagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, "INVALID_REQUEST", "invalid request body", http.StatusBadRequest)
		return
	}

	resp, err := h.service.SetWorkInProgress(c.Request.Context(), number, req.Value)
	if err != nil {
		serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, map[string]interface{}{"change": resp})
}

// SetPrivate handles PUT /changes/:number/private.
func (h *Handler) SetPrivate(c *gin.Context) {
	number, ok := changeNumber(c)
	if !ok {
		return
	}
	var req changeModel.FlagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, "INVALID_REQUEST", "invalid request body", http.StatusBadRequest)
		return
	}

	resp, err := h.service.SetPrivate(c.Request.Context(), number, req.Value)
	if err != nil {
		serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, map[string]interface{}{"change": resp})
}
