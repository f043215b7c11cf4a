package api

import (
	"github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"

	"smartengo-backend/internal/auth"
	"smartengo-backend/internal/events"
	"smartengo-backend/internal/service"
	"smartengo-backend/internal/store"
	"smartengo-backend/internal/util"
)

// Handler holds shared dependencies for API handlers.
type Handler struct {
	svc          *service.ToiletService
	store        store.Store
	auth         *auth.Manager
	hub          *events.Hub
	webpush      *webpush.Options
	secureCookie bool
	logger       *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(svc *service.ToiletService, s store.Store, authManager *auth.Manager, hub *events.Hub, webpushOptions *webpush.Options) *Handler {
	return &Handler{
		svc:     svc,
		store:   s,
		auth:    authManager,
		hub:     hub,
		webpush: webpushOptions,
		logger:  util.GetLogger().Named("api"),
	}
}
