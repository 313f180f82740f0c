package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/sna-ai/sna/internal/models"
	"github.com/sna-ai/sna/internal/scheduler"
)

// ScheduleController is the runtime scheduler control surface.
// *scheduler.ScraperScheduler satisfies it.
type ScheduleController interface {
	Status() scheduler.Status
	UpdateInterval(ctx context.Context, seconds int, updatedBy string) (models.ScheduleConfig, error)
	SetNextRunTime(ctx context.Context, ts time.Time, updatedBy string) (models.ScheduleConfig, error)
	Enable(ctx context.Context, updatedBy string) (models.ScheduleConfig, error)
	Disable(ctx context.Context, updatedBy string) (models.ScheduleConfig, error)
}

type ScheduleHandler struct {
	scheduler ScheduleController
	logger    *slog.Logger
}

func NewScheduleHandler(scheduler ScheduleController, logger *slog.Logger) *ScheduleHandler {
	return &ScheduleHandler{scheduler: scheduler, logger: logger}
}

// Get handles GET /api/admin/scraping/schedule.
func (h *ScheduleHandler) Get(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.scheduler.Status())
}

type intervalRequest struct {
	IntervalSeconds int `json:"interval_seconds"`
}

// UpdateInterval handles PUT /api/admin/scraping/schedule/interval.
func (h *ScheduleHandler) UpdateInterval(w http.ResponseWriter, r *http.Request) {
	var req intervalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	cfg, err := h.scheduler.UpdateInterval(r.Context(), req.IntervalSeconds, actor(r))
	if err != nil {
		h.writeScheduleError(w, err, "failed to update scrape interval")
		return
	}

	h.logger.Info("scrape interval updated", "interval_seconds", cfg.IntervalSeconds, "updated_by", cfg.UpdatedBy)
	writeJSON(w, http.StatusOK, cfg)
}

type nextRunRequest struct {
	NextRunTime time.Time `json:"next_run_time"`
}

// SetNextRun handles PUT /api/admin/scraping/schedule/next-run.
func (h *ScheduleHandler) SetNextRun(w http.ResponseWriter, r *http.Request) {
	var req nextRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.NextRunTime.IsZero() {
		writeError(w, http.StatusBadRequest, "next_run_time is required")
		return
	}

	cfg, err := h.scheduler.SetNextRunTime(r.Context(), req.NextRunTime, actor(r))
	if err != nil {
		h.writeScheduleError(w, err, "failed to set next run time")
		return
	}

	h.logger.Info("one-shot scrape scheduled", "next_run_time", cfg.NextRunTime, "updated_by", cfg.UpdatedBy)
	writeJSON(w, http.StatusOK, cfg)
}

// Enable handles POST /api/admin/scraping/schedule/enable.
func (h *ScheduleHandler) Enable(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.scheduler.Enable(r.Context(), actor(r))
	if err != nil {
		h.writeScheduleError(w, err, "failed to enable scheduler")
		return
	}

	h.logger.Info("scheduler enabled", "interval_seconds", cfg.IntervalSeconds, "updated_by", cfg.UpdatedBy)
	writeJSON(w, http.StatusOK, cfg)
}

// Disable handles POST /api/admin/scraping/schedule/disable.
func (h *ScheduleHandler) Disable(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.scheduler.Disable(r.Context(), actor(r))
	if err != nil {
		h.writeScheduleError(w, err, "failed to disable scheduler")
		return
	}

	h.logger.Info("scheduler disabled", "updated_by", cfg.UpdatedBy)
	writeJSON(w, http.StatusOK, cfg)
}

func (h *ScheduleHandler) writeScheduleError(w http.ResponseWriter, err error, logMsg string) {
	switch {
	case errors.Is(err, scheduler.ErrInvalidSchedule):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, scheduler.ErrNotConfigured):
		writeError(w, http.StatusConflict, "Scheduler has not been configured; enable it first")
	default:
		h.logger.Error(logMsg, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}
