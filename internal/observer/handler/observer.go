// Package handler exposes the observer and stats services over HTTP.
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jmerrifield20/digaas/internal/auth"
	"github.com/jmerrifield20/digaas/internal/observer/model"
	"github.com/jmerrifield20/digaas/internal/observer/service"
	"go.uber.org/zap"
)

// ObserverHandler handles HTTP requests for observation requests.
type ObserverHandler struct {
	svc    *service.ObserverService
	tokens *auth.Issuer
	logger *zap.Logger
}

// NewObserverHandler creates a new ObserverHandler. A nil tokens issuer
// leaves the routes unauthenticated.
func NewObserverHandler(svc *service.ObserverService, tokens *auth.Issuer, logger *zap.Logger) *ObserverHandler {
	return &ObserverHandler{svc: svc, tokens: tokens, logger: logger}
}

// Register mounts the observer routes on the given router group.
func (h *ObserverHandler) Register(rg *gin.RouterGroup) {
	obs := rg.Group("/observers")
	{
		obs.POST("", auth.RequireScope(h.tokens, auth.ScopeObserve), h.Submit)
		obs.GET("/:id", h.Get)
	}
}

// Submit handles POST /observers.
//
// The observer is persisted as ACCEPTED before the response is written;
// polling continues in the background.
func (h *ObserverHandler) Submit(c *gin.Context) {
	var req observerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		recordRejection("bad_request")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	o, err := req.toModel()
	if err == nil {
		o, err = h.svc.Submit(c.Request.Context(), o)
	}
	if err != nil {
		h.writeSubmitError(c, err)
		return
	}
	observersSubmitted.WithLabelValues(o.Label()).Inc()
	c.JSON(http.StatusCreated, newObserverResponse(o))
}

func (h *ObserverHandler) writeSubmitError(c *gin.Context, err error) {
	var verr *model.ValidationError
	switch {
	case errors.As(err, &verr):
		recordRejection("invalid")
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error(), "field": verr.Field})
	case errors.Is(err, service.ErrShuttingDown):
		recordRejection("shutting_down")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "service is shutting down"})
	case errors.Is(err, service.ErrPersistence):
		recordRejection("persistence")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to persist observer"})
	default:
		h.logger.Error("submit observer", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// Get handles GET /observers/:id.
func (h *ObserverHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid observer ID"})
		return
	}

	o, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrObserverNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "observer not found"})
			return
		}
		h.logger.Error("get observer", zap.String("id", id.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get observer"})
		return
	}
	c.JSON(http.StatusOK, newObserverResponse(o))
}
