// Package handler provides HTTP handlers for the branch-mutating submit
// engine endpoints.
package handler

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	changeModel "github.com/castingclouds/gerrit-sub002/internal/change/model"
	"github.com/castingclouds/gerrit-sub002/internal/gitstore"
	submitModel "github.com/castingclouds/gerrit-sub002/internal/submit/model"
	"github.com/castingclouds/gerrit-sub002/internal/submit/service"
)

// Handler handles HTTP requests for submit engine endpoints.
type Handler struct {
	engine service.Service
}

// New creates a new submit handler instance.
func New(engine service.Service) *Handler {
	return &Handler{engine: engine}
}

func changeNumber(c *gin.Context) (int64, bool) {
	number, err := strconv.ParseInt(c.Param("number"), 10, 64)
	if err != nil || number <= 0 {
		errorResponse(c, "INVALID_REQUEST", "change number must be a positive integer", http.StatusBadRequest)
		return 0, false
	}
	return number, true
}

// Rebase handles POST /changes/:number/rebase.
func (h *Handler) Rebase(c *gin.Context) {
	number, ok := changeNumber(c)
	if !ok {
		return
	}
	var req submitModel.RebaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, "INVALID_REQUEST", "invalid request body", http.StatusBadRequest)
		return
	}

	resp, err := h.engine.Rebase(c.Request.Context(), number, &req)
	if err != nil {
		serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Submit handles POST /changes/:number/submit.
func (h *Handler) Submit(c *gin.Context) {
	number, ok := changeNumber(c)
	if !ok {
		return
	}
	var req submitModel.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, "INVALID_REQUEST", "invalid request body", http.StatusBadRequest)
		return
	}

	resp, err := h.engine.Submit(c.Request.Context(), number, &req)
	if err != nil {
		serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// SubmitTopic handles POST /topics/:topic/submit.
func (h *Handler) SubmitTopic(c *gin.Context) {
	topic := c.Param("topic")
	var req submitModel.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, "INVALID_REQUEST", "invalid request body", http.StatusBadRequest)
		return
	}

	resp, err := h.engine.SubmitTopic(c.Request.Context(), topic, &req)
	if err != nil {
		serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// CherryPick handles POST /changes/:number/cherrypick.
func (h *Handler) CherryPick(c *gin.Context) {
	number, ok := changeNumber(c)
	if !ok {
		return
	}
	var req submitModel.CherryPickRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, "INVALID_REQUEST", "invalid request body", http.StatusBadRequest)
		return
	}

	resp, err := h.engine.CherryPick(c.Request.Context(), number, &req)
	if err != nil {
		serviceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, map[string]interface{}{"change": resp})
}

// Revert handles POST /changes/:number/revert.
func (h *Handler) Revert(c *gin.Context) {
	number, ok := changeNumber(c)
	if !ok {
		return
	}
	var req submitModel.RevertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, "INVALID_REQUEST", "invalid request body", http.StatusBadRequest)
		return
	}

	resp, err := h.engine.Revert(c.Request.Context(), number, &req)
	if err != nil {
		serviceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, map[string]interface{}{"change": resp})
}

// Move handles POST /changes/:number/move.
func (h *Handler) Move(c *gin.Context) {
	number, ok := changeNumber(c)
	if !ok {
		return
	}
	var req submitModel.MoveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, "INVALID_REQUEST", "invalid request body", http.StatusBadRequest)
		return
	}

	resp, err := h.engine.Move(c.Request.Context(), number, &req)
	if err != nil {
		serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, map[string]interface{}{"change": resp})
}

// ErrorResponse is the error envelope of the REST surface.
type ErrorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func errorResponse(c *gin.Context, code string, message string, statusCode int) {
	resp := ErrorResponse{}
	resp.Error.Code = code
	resp.Error.Message = message
	c.JSON(statusCode, resp)
}

func notFoundResponse(c *gin.Context, message string) {
	errorResponse(c, "NOT_FOUND", message, http.StatusNotFound)
}

// serviceError maps engine sentinels onto HTTP statuses and stable codes.
func serviceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, changeModel.ErrInvalidInput):
		errorResponse(c, "INVALID_REQUEST", err.Error(), http.StatusBadRequest)
	case errors.Is(err, changeModel.ErrChangeNotFound),
		errors.Is(err, changeModel.ErrPatchSetNotFound),
		errors.Is(err, gitstore.ErrObjectNotFound),
		errors.Is(err, gitstore.ErrRefNotFound):
		notFoundResponse(c, err.Error())
	case errors.Is(err, changeModel.ErrChangeClosed):
		errorResponse(c, "CHANGE_CLOSED", err.Error(), http.StatusConflict)
	case errors.Is(err, changeModel.ErrIllegalTransition):
		errorResponse(c, "ILLEGAL_TRANSITION", err.Error(), http.StatusConflict)
	case errors.Is(err, changeModel.ErrNotReady):
		errorResponse(c, "NOT_READY", err.Error(), http.StatusConflict)
	case errors.Is(err, changeModel.ErrAlreadyUpToDate):
		errorResponse(c, "ALREADY_UP_TO_DATE", err.Error(), http.StatusConflict)
	case errors.Is(err, changeModel.ErrNotFastForward):
		errorResponse(c, "NOT_FAST_FORWARD", err.Error(), http.StatusConflict)
	case errors.Is(err, changeModel.ErrBranchAdvanced):
		errorResponse(c, "BRANCH_ADVANCED", err.Error(), http.StatusConflict)
	case errors.Is(err, gitstore.ErrMergeConflict):
		errorResponse(c, "MERGE_CONFLICT", err.Error(), http.StatusConflict)
	case errors.Is(err, changeModel.ErrChangeExists):
		errorResponse(c, "CHANGE_EXISTS", err.Error(), http.StatusConflict)
	case errors.Is(err, changeModel.ErrConcurrentUpdate):
		errorResponse(c, "CONCURRENT_UPDATE", err.Error(), http.StatusConflict)
	case errors.Is(err, changeModel.ErrPatchSetLimit):
		errorResponse(c, "PATCH_SET_LIMIT", err.Error(), http.StatusUnprocessableEntity)
	default:
		log.Printf("internal error: %v", err)
		errorResponse(c, "INTERNAL_ERROR", "internal server error", http.StatusInternalServerError)
	}
}
