package handler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jmerrifield20/digaas/internal/auth"
	"github.com/jmerrifield20/digaas/internal/observer/model"
	"github.com/jmerrifield20/digaas/internal/observer/service"
	"github.com/jmerrifield20/digaas/internal/stats"
	"go.uber.org/zap"
)

const xlsxMimeType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// StatsHandler handles HTTP requests for stats jobs and their results.
type StatsHandler struct {
	svc    *service.StatsService
	tokens *auth.Issuer
	logger *zap.Logger
}

// NewStatsHandler creates a new StatsHandler.
func NewStatsHandler(svc *service.StatsService, tokens *auth.Issuer, logger *zap.Logger) *StatsHandler {
	return &StatsHandler{svc: svc, tokens: tokens, logger: logger}
}

// Register mounts the stats routes on the given router group.
func (h *StatsHandler) Register(rg *gin.RouterGroup) {
	st := rg.Group("/stats")
	{
		st.POST("", auth.RequireScope(h.tokens, auth.ScopeStats), h.Create)
		st.GET("/:id", h.Get)
		st.GET("/:id/summary", h.Summary)
		st.GET("/:id/plots/:type", h.Plot)
		st.GET("/:id/export.xlsx", h.Export)
	}
}

// Create handles POST /stats.
//
// Request body: {"start": <epoch seconds>, "end": <epoch seconds>}
func (h *StatsHandler) Create(c *gin.Context) {
	var req statsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	st, err := h.svc.CreateStats(c.Request.Context(), fromEpoch(req.Start), fromEpoch(req.End))
	if err != nil {
		var verr *model.ValidationError
		switch {
		case errors.As(err, &verr):
			c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error(), "field": verr.Field})
		case errors.Is(err, service.ErrShuttingDown):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "service is shutting down"})
		default:
			h.logger.Error("create stats request", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create stats request"})
		}
		return
	}
	c.JSON(http.StatusCreated, newStatsResponse(st))
}

// Get handles GET /stats/:id.
func (h *StatsHandler) Get(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}
	st, err := h.svc.GetStats(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, id, err)
		return
	}
	c.JSON(http.StatusOK, newStatsResponse(st))
}

// Summary handles GET /stats/:id/summary.
//
// Response: {"queries": {...}, "observers_by_type": {...},
// "observers_by_nameserver": {...}} where each view maps a key to its
// summary.
func (h *StatsHandler) Summary(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}
	sums, err := h.svc.GetSummaries(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, id, err)
		return
	}

	out := make(map[string]map[string]summaryResponse, len(sums))
	for view, byKey := range sums {
		m := make(map[string]summaryResponse, len(byKey))
		for key, s := range byKey {
			m[key] = newSummaryResponse(s)
		}
		out[stats.SheetName(view)] = m
	}
	c.JSON(http.StatusOK, out)
}

// Plot handles GET /stats/:id/plots/:type.
func (h *StatsHandler) Plot(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}
	typ, ok := model.ParsePlotType(c.Param("type"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown plot type"})
		return
	}
	p, err := h.svc.GetPlot(c.Request.Context(), id, typ)
	if err != nil {
		h.writeError(c, id, err)
		return
	}
	c.Data(http.StatusOK, p.MimeType, p.Image)
}

// Export handles GET /stats/:id/export.xlsx.
func (h *StatsHandler) Export(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}
	data, err := h.svc.ExportXLSX(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, id, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="digaas-stats-%s.xlsx"`, id))
	c.Data(http.StatusOK, xlsxMimeType, data)
}

func (h *StatsHandler) parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid stats ID"})
		return uuid.Nil, false
	}
	return id, true
}

func (h *StatsHandler) writeError(c *gin.Context, id uuid.UUID, err error) {
	switch {
	case errors.Is(err, service.ErrStatsNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "stats request not found"})
	case errors.Is(err, service.ErrPlotNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "plot not found"})
	case errors.Is(err, service.ErrStatsNotReady):
		c.JSON(http.StatusConflict, gin.H{"error": "stats request has not completed"})
	default:
		h.logger.Error("read stats request", zap.String("id", id.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read stats request"})
	}
}
