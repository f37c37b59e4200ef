package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/xraph/notifier"
	"github.com/xraph/notifier/id"
)

const (
	msgInvalidID = "Invalid notification ID format"
	msgNoFields  = "No fields to update"
)

// abort writes {"error": msg} with the given status.
func abort(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

// writeError maps service errors to HTTP responses. rawID names the
// notification in not-found messages.
func (a *API) writeError(c *gin.Context, err error, rawID string) {
	var ve *notifier.ValidationError
	switch {
	case errors.Is(err, id.ErrInvalid):
		abort(c, http.StatusBadRequest, msgInvalidID)
	case errors.Is(err, notifier.ErrEmptyPatch):
		abort(c, http.StatusBadRequest, msgNoFields)
	case errors.As(err, &ve):
		abort(c, http.StatusBadRequest, fmt.Sprintf("invalid %s: %s", ve.Field, ve.Reason))
	case errors.Is(err, notifier.ErrNotFound):
		abort(c, http.StatusNotFound, fmt.Sprintf("Notification with ID %s not found", rawID))
	case errors.Is(err, notifier.ErrInvalidTransition),
		errors.Is(err, notifier.ErrNotEditable),
		errors.Is(err, notifier.ErrConflict):
		abort(c, http.StatusConflict, err.Error())
	default:
		a.logger.Error("request failed",
			slog.String("path", c.FullPath()),
			slog.String("error", err.Error()),
		)
		abort(c, http.StatusInternalServerError, "internal server error")
	}
}
