package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sna-ai/sna/internal/models"
	"github.com/sna-ai/sna/internal/scheduler"
)

type fakeScheduleController struct {
	status    scheduler.Status
	cfg       models.ScheduleConfig
	err       error
	lastCall  string
	updatedBy string
}

func (f *fakeScheduleController) Status() scheduler.Status { return f.status }

func (f *fakeScheduleController) UpdateInterval(ctx context.Context, seconds int, updatedBy string) (models.ScheduleConfig, error) {
	f.lastCall = fmt.Sprintf("interval %d", seconds)
	f.updatedBy = updatedBy
	if f.err != nil {
		return models.ScheduleConfig{}, f.err
	}
	f.cfg.IntervalSeconds = seconds
	f.cfg.UpdatedBy = updatedBy
	return f.cfg, nil
}

func (f *fakeScheduleController) SetNextRunTime(ctx context.Context, ts time.Time, updatedBy string) (models.ScheduleConfig, error) {
	f.lastCall = "next-run"
	f.updatedBy = updatedBy
	if f.err != nil {
		return models.ScheduleConfig{}, f.err
	}
	f.cfg.NextRunTime = &ts
	return f.cfg, nil
}

func (f *fakeScheduleController) Enable(ctx context.Context, updatedBy string) (models.ScheduleConfig, error) {
	f.lastCall = "enable"
	f.updatedBy = updatedBy
	if f.err != nil {
		return models.ScheduleConfig{}, f.err
	}
	f.cfg.IsEnabled = true
	return f.cfg, nil
}

func (f *fakeScheduleController) Disable(ctx context.Context, updatedBy string) (models.ScheduleConfig, error) {
	f.lastCall = "disable"
	f.updatedBy = updatedBy
	if f.err != nil {
		return models.ScheduleConfig{}, f.err
	}
	f.cfg.IsEnabled = false
	return f.cfg, nil
}

func TestScheduleGet(t *testing.T) {
	ctrl := &fakeScheduleController{
		status: scheduler.Status{State: scheduler.StateIdle, IsEnabled: true, IntervalSeconds: 900},
	}
	h := NewScheduleHandler(ctrl, testLogger())

	rec := httptest.NewRecorder()
	h.Get(rec, httptest.NewRequest(http.MethodGet, "/api/admin/scraping/schedule", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var status scheduler.Status
	decodeInto(t, rec, &status)
	if status.State != scheduler.StateIdle || !status.IsEnabled || status.IntervalSeconds != 900 {
		t.Errorf("status = %+v", status)
	}
}

func TestScheduleUpdateInterval(t *testing.T) {
	ctrl := &fakeScheduleController{cfg: models.ScheduleConfig{IsEnabled: true}}
	h := NewScheduleHandler(ctrl, testLogger())

	rec := httptest.NewRecorder()
	h.UpdateInterval(rec, adminRequest(http.MethodPut, "/api/admin/scraping/schedule/interval", `{"interval_seconds":1800}`))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}
	var cfg models.ScheduleConfig
	decodeInto(t, rec, &cfg)
	if cfg.IntervalSeconds != 1800 {
		t.Errorf("interval = %d, want 1800", cfg.IntervalSeconds)
	}
	if ctrl.lastCall != "interval 1800" {
		t.Errorf("controller saw %q, want the requested interval", ctrl.lastCall)
	}
	if ctrl.updatedBy != "admin@example.com" {
		t.Errorf("updated_by = %q, want the authenticated principal", ctrl.updatedBy)
	}
}

func TestScheduleUpdateIntervalRejections(t *testing.T) {
	t.Run("malformed body", func(t *testing.T) {
		h := NewScheduleHandler(&fakeScheduleController{}, testLogger())
		rec := httptest.NewRecorder()
		h.UpdateInterval(rec, adminRequest(http.MethodPut, "/api/admin/scraping/schedule/interval", `{"interval_seconds":`))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("interval out of bounds", func(t *testing.T) {
		ctrl := &fakeScheduleController{err: fmt.Errorf("%w: interval must be between 60 and 86400 seconds", scheduler.ErrInvalidSchedule)}
		h := NewScheduleHandler(ctrl, testLogger())
		rec := httptest.NewRecorder()
		h.UpdateInterval(rec, adminRequest(http.MethodPut, "/api/admin/scraping/schedule/interval", `{"interval_seconds":5}`))

		if rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("status = %d, want 422", rec.Code)
		}
		if detail := decodeDetail(t, rec); !strings.Contains(detail, "interval must be between") {
			t.Errorf("detail = %q", detail)
		}
	})

	t.Run("not configured", func(t *testing.T) {
		ctrl := &fakeScheduleController{err: scheduler.ErrNotConfigured}
		h := NewScheduleHandler(ctrl, testLogger())
		rec := httptest.NewRecorder()
		h.UpdateInterval(rec, adminRequest(http.MethodPut, "/api/admin/scraping/schedule/interval", `{"interval_seconds":900}`))

		if rec.Code != http.StatusConflict {
			t.Fatalf("status = %d, want 409", rec.Code)
		}
		if detail := decodeDetail(t, rec); detail != "Scheduler has not been configured; enable it first" {
			t.Errorf("detail = %q", detail)
		}
	})

	t.Run("store failure", func(t *testing.T) {
		ctrl := &fakeScheduleController{err: errors.New("pq: deadlock detected")}
		h := NewScheduleHandler(ctrl, testLogger())
		rec := httptest.NewRecorder()
		h.UpdateInterval(rec, adminRequest(http.MethodPut, "/api/admin/scraping/schedule/interval", `{"interval_seconds":900}`))

		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("status = %d, want 500", rec.Code)
		}
		if detail := decodeDetail(t, rec); detail != "Internal server error" {
			t.Errorf("detail = %q, internals must not leak", detail)
		}
	})
}

func TestScheduleSetNextRun(t *testing.T) {
	ctrl := &fakeScheduleController{cfg: models.ScheduleConfig{IsEnabled: true}}
	h := NewScheduleHandler(ctrl, testLogger())

	rec := httptest.NewRecorder()
	h.SetNextRun(rec, adminRequest(http.MethodPut, "/api/admin/scraping/schedule/next-run", `{"next_run_time":"2026-08-26T09:00:00Z"}`))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}
	var cfg models.ScheduleConfig
	decodeInto(t, rec, &cfg)
	if cfg.NextRunTime == nil || !cfg.NextRunTime.Equal(time.Date(2026, 8, 26, 9, 0, 0, 0, time.UTC)) {
		t.Errorf("next run = %v", cfg.NextRunTime)
	}
}

func TestScheduleSetNextRunRejections(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantDetail string
	}{
		{"malformed body", `{"next_run_time":`, http.StatusBadRequest, "Invalid request body"},
		{"bad timestamp", `{"next_run_time":"tomorrow"}`, http.StatusBadRequest, "Invalid request body"},
		{"missing timestamp", `{}`, http.StatusBadRequest, "next_run_time is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewScheduleHandler(&fakeScheduleController{}, testLogger())
			rec := httptest.NewRecorder()
			h.SetNextRun(rec, adminRequest(http.MethodPut, "/api/admin/scraping/schedule/next-run", tt.body))

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if detail := decodeDetail(t, rec); detail != tt.wantDetail {
				t.Errorf("detail = %q, want %q", detail, tt.wantDetail)
			}
		})
	}

	t.Run("past timestamp", func(t *testing.T) {
		ctrl := &fakeScheduleController{err: fmt.Errorf("%w: next run time is in the past", scheduler.ErrInvalidSchedule)}
		h := NewScheduleHandler(ctrl, testLogger())
		rec := httptest.NewRecorder()
		h.SetNextRun(rec, adminRequest(http.MethodPut, "/api/admin/scraping/schedule/next-run", `{"next_run_time":"2020-01-01T00:00:00Z"}`))

		if rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("status = %d, want 422", rec.Code)
		}
	})
}

func TestScheduleEnableDisable(t *testing.T) {
	ctrl := &fakeScheduleController{}
	h := NewScheduleHandler(ctrl, testLogger())

	rec := httptest.NewRecorder()
	h.Enable(rec, adminRequest(http.MethodPost, "/api/admin/scraping/schedule/enable", ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("enable status = %d, want 200", rec.Code)
	}
	var cfg models.ScheduleConfig
	decodeInto(t, rec, &cfg)
	if !cfg.IsEnabled {
		t.Error("config should be enabled")
	}

	rec = httptest.NewRecorder()
	h.Disable(rec, adminRequest(http.MethodPost, "/api/admin/scraping/schedule/disable", ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("disable status = %d, want 200", rec.Code)
	}
	decodeInto(t, rec, &cfg)
	if cfg.IsEnabled {
		t.Error("config should be disabled")
	}
}

func TestScheduleDisableUnconfigured(t *testing.T) {
	ctrl := &fakeScheduleController{err: scheduler.ErrNotConfigured}
	h := NewScheduleHandler(ctrl, testLogger())

	rec := httptest.NewRecorder()
	h.Disable(rec, adminRequest(http.MethodPost, "/api/admin/scraping/schedule/disable", ""))

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}
