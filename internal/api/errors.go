package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"smartengo-backend/internal/session"
	"smartengo-backend/internal/store"
)

// genericFailure is the client message for errors with no client meaning.
// The error itself, which may carry driver text, is only logged.
const genericFailure = "failed to process request"

// errorStatus maps a service error to an HTTP status and a client message.
// notFound and fallback differ between the webhooks, which answer every
// failure with 400, and the admin API. known is false for errors that fall
// through to fallback.
func errorStatus(err error, notFound, fallback int) (status int, msg string, known bool) {
	var verr *session.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, verr.Message, true
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict, err.Error(), true
	case errors.Is(err, store.ErrNotFound):
		return notFound, "toilet not found", true
	case errors.Is(err, store.ErrReferenceReused):
		return http.StatusBadRequest, err.Error(), true
	case errors.Is(err, session.ErrManualOverrideDisabled):
		return http.StatusUnprocessableEntity, err.Error(), true
	}
	return fallback, genericFailure, false
}

func (h *Handler) writeError(c *gin.Context, err error, notFound, fallback int) {
	status, msg, known := errorStatus(err, notFound, fallback)
	if !known || status >= http.StatusInternalServerError {
		h.logger.Error("Request failed", zap.String("path", c.FullPath()), zap.Int("status", status), zap.Error(err))
	}
	body := gin.H{"error": msg}
	if status == http.StatusConflict {
		body["retryable"] = true
	}
	c.JSON(status, body)
}

// webhookError answers a webhook failure. Everything but a stale write is a 400.
func (h *Handler) webhookError(c *gin.Context, err error) {
	h.writeError(c, err, http.StatusBadRequest, http.StatusBadRequest)
}

// adminError answers an admin API failure.
func (h *Handler) adminError(c *gin.Context, err error) {
	h.writeError(c, err, http.StatusNotFound, http.StatusInternalServerError)
}
