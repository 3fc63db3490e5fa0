// internal/handler/stats_handler.go
package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"go.uber.org/zap"

	"github.com/unclebandit/smsleopard-dispatch/internal/controller"
	appErrors "github.com/unclebandit/smsleopard-dispatch/internal/errors"
	"github.com/unclebandit/smsleopard-dispatch/internal/logger"
	"github.com/unclebandit/smsleopard-dispatch/internal/model"
)

// StatsReader is implemented by *service.StatsService.
type StatsReader interface {
	Daily(ctx context.Context, userID int) ([]model.Bucket, error)
	Weekly(ctx context.Context, userID int) ([]model.Bucket, error)
	Monthly(ctx context.Context, userID int) ([]model.Bucket, error)
	PlatformSplit(ctx context.Context, userID, windowHours int) (model.PlatformSplit, error)
	Summary(ctx context.Context, userID int) (*model.StatsSummary, error)
}

// StatsHandler holds the dependencies for delivery stats endpoints
type StatsHandler struct {
	Stats StatsReader
	Log   *zap.Logger
}

func NewStatsHandler(stats StatsReader, log *zap.Logger) *StatsHandler {
	return &StatsHandler{Stats: stats, Log: logger.OrNop(log)}
}

func (h *StatsHandler) Routes(r chi.Router) {
	r.Get("/stats", h.SummaryHandler)
	r.Get("/stats/{view}", h.ViewHandler)
}

// SummaryHandler returns every view at once
func (h *StatsHandler) SummaryHandler(w http.ResponseWriter, r *http.Request) {
	uid, err := controller.UserID(r)
	if err != nil {
		controller.WriteError(w, r, h.Log, err)
		return
	}
	summary, err := h.Stats.Summary(r.Context(), uid)
	if err != nil {
		controller.WriteError(w, r, h.Log, err)
		return
	}
	render.JSON(w, r, summary)
}

// ViewHandler serves daily, weekly, monthly or platform
func (h *StatsHandler) ViewHandler(w http.ResponseWriter, r *http.Request) {
	uid, err := controller.UserID(r)
	if err != nil {
		controller.WriteError(w, r, h.Log, err)
		return
	}

	ctx := r.Context()
	var data any
	switch view := chi.URLParam(r, "view"); view {
	case "daily":
		data, err = h.Stats.Daily(ctx, uid)
	case "weekly":
		data, err = h.Stats.Weekly(ctx, uid)
	case "monthly":
		data, err = h.Stats.Monthly(ctx, uid)
	case "platform":
		window := 0
		if raw := r.URL.Query().Get("window_hours"); raw != "" {
			if window, err = strconv.Atoi(raw); err != nil || window <= 0 {
				controller.WriteError(w, r, h.Log, appErrors.NewInvalidRequest("invalid window_hours"))
				return
			}
		}
		data, err = h.Stats.PlatformSplit(ctx, uid, window)
	default:
		controller.WriteError(w, r, h.Log, appErrors.NewInvalidRequest("unknown stats view "+strconv.Quote(view)))
		return
	}
	if err != nil {
		controller.WriteError(w, r, h.Log, err)
		return
	}
	render.JSON(w, r, map[string]any{"data": data})
}
