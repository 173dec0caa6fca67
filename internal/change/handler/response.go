package handler

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	changeModel "github.com/castingclouds/gerrit-sub002/internal/change/model"
	"github.com/castingclouds/gerrit-sub002/internal/changeid"
	"github.com/castingclouds/gerrit-sub002/internal/gitstore"
	"github.com/castingclouds/gerrit-sub002/internal/refs"
)

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

// serviceError maps the service sentinels onto HTTP statuses and stable error
// codes. Anything unclassified is an internal error.
func serviceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, changeid.ErrMissing):
		errorResponse(c, "MISSING_CHANGE_ID", err.Error(), http.StatusBadRequest)
	case errors.Is(err, changeid.ErrMultiple):
		errorResponse(c, "MULTIPLE_CHANGE_IDS", err.Error(), http.StatusBadRequest)
	case errors.Is(err, changeid.ErrInvalid):
		errorResponse(c, "INVALID_CHANGE_ID", err.Error(), http.StatusBadRequest)
	case errors.Is(err, refs.ErrMalformedTarget), errors.Is(err, refs.ErrMalformedOption):
		errorResponse(c, "INVALID_TARGET_REF", err.Error(), http.StatusBadRequest)
	case errors.Is(err, changeModel.ErrInvalidInput):
		errorResponse(c, "INVALID_REQUEST", err.Error(), http.StatusBadRequest)
	case errors.Is(err, changeModel.ErrChangeNotFound),
		errors.Is(err, changeModel.ErrPatchSetNotFound),
		errors.Is(err, changeModel.ErrCommentNotFound),
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
