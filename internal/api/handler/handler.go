// Package handler exposes the HTTP surface: the WebSocket entry point and a
// small REST facade for clients that cannot hold a socket open.
package handler

import (
	"errors"
	"net/http"

	"carechat/backend/internal/access"
	"carechat/backend/internal/apperr"
	"carechat/backend/internal/attach"
	"carechat/backend/internal/auth"
	"carechat/backend/internal/chathub"
	"carechat/backend/internal/models"
	"carechat/backend/internal/ratelimit"
	"carechat/backend/internal/storage"

	"github.com/gin-gonic/gin"
)

// Rate-limit event names for the REST-only operations; the socket events
// charge their own names.
const (
	EventHistory = "history"
	EventUnread  = "unread"
)

// Handler carries the services the HTTP layer dispatches to.
type Handler struct {
	Hub         *chathub.ManagerService
	Storage     storage.Storage
	Verifier    *auth.Verifier
	Access      *access.Evaluator
	Limiter     *ratelimit.Limiter
	Attachments attach.ObjectStore
}

// NewHandler builds the HTTP handler set.
func NewHandler(hub *chathub.ManagerService, store storage.Storage, verifier *auth.Verifier, eval *access.Evaluator, limiter *ratelimit.Limiter, attachments attach.ObjectStore) *Handler {
	return &Handler{
		Hub:         hub,
		Storage:     store,
		Verifier:    verifier,
		Access:      eval,
		Limiter:     limiter,
		Attachments: attachments,
	}
}

// RegisterRoutes mounts all chat endpoints on the router. Every route runs
// authenticate, then rate-limit, then authorize, in that order; the budget
// is charged before any thread lookup happens.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/ws", h.ServeWebSocket)

	api := r.Group("/api/v1", h.Authenticate())
	{
		api.GET("/questions/unread", h.RateLimit(EventUnread), h.GetUnreadCounts)

		q := api.Group("/questions/:id")
		q.GET("/messages", h.RateLimit(EventHistory), h.Authorize(), h.GetMessageHistory)
		q.POST("/messages/file", h.RateLimit(models.EvSendMessage), h.Authorize(), h.UploadFileMessage)
	}
}

func httpStatus(err error) int {
	switch {
	case errors.Is(err, apperr.ErrAuthenticationRequired):
		return http.StatusUnauthorized
	case errors.Is(err, apperr.ErrAccessDenied):
		return http.StatusForbidden
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// fail writes the taxonomy code for err; internal details stay server-side.
func fail(c *gin.Context, err error) {
	code := apperr.Code(err)
	msg := err.Error()
	if code == "internal_error" {
		msg = apperr.ErrInternal.Error()
	}
	c.AbortWithStatusJSON(httpStatus(err), gin.H{"error": code, "message": msg})
}
