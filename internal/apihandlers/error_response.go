package apihandlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"skald/internal/models"
	"skald/internal/store"
)

// APIError defines standard error response
// Example: { "error": { "code": "not_found", "message": "job 42: not found" } }
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error APIError `json:"error"`
}

// JSONError sends a structured error response
func JSONError(ctx *gin.Context, status int, code, msg string) {
	ctx.AbortWithStatusJSON(status, errorResponse{Error: APIError{Code: code, Message: msg}})
}

// Convenience wrappers
func BadRequest(ctx *gin.Context, msg string) {
	JSONError(ctx, http.StatusBadRequest, "bad_request", msg)
}

func NotFound(ctx *gin.Context, msg string) {
	JSONError(ctx, http.StatusNotFound, "not_found", msg)
}

func Internal(ctx *gin.Context, msg string) {
	JSONError(ctx, http.StatusInternalServerError, "internal_error", msg)
}

func Conflict(ctx *gin.Context, msg string) {
	JSONError(ctx, http.StatusConflict, "conflict", msg)
}

func UnsupportedMedia(ctx *gin.Context, msg string) {
	JSONError(ctx, http.StatusUnsupportedMediaType, "unsupported_media_type", msg)
}

func TooLarge(ctx *gin.Context, msg string) {
	JSONError(ctx, http.StatusRequestEntityTooLarge, "too_large", msg)
}

// ServiceError maps a service error onto a response.
func ServiceError(ctx *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, models.ErrNotFound):
		NotFound(ctx, err.Error())
	case errors.Is(err, models.ErrValidation), errors.Is(err, models.ErrInput), errors.Is(err, models.ErrConfig):
		BadRequest(ctx, err.Error())
	case errors.Is(err, store.ErrConflict), errors.Is(err, models.ErrConflict):
		Conflict(ctx, err.Error())
	default:
		log.WithError(err).WithField("op", op).Error("Request failed")
		Internal(ctx, op+": "+err.Error())
	}
}
