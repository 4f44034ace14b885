/*
jobs.go - Background job endpoints

PURPOSE:
  Lets operators see when the scheduled jobs last ran and trigger a run
  outside the cron schedule (after a bulk import, for example).

ENDPOINTS:
  GET    /api/admin/jobs             Last run of every job
  POST   /api/admin/jobs/{job}/run   Run alert-scan or consolidation now

SEE ALSO:
  - scheduler/scheduler.go: Cron wiring and run bookkeeping
*/
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/warp/gold-engine/scheduler"
)

// JobRunner is the part of *scheduler.Scheduler the API drives.
type JobRunner interface {
	RunAlertScan(ctx context.Context) scheduler.Run
	RunConsolidation(ctx context.Context) scheduler.Run
	LastRun(job string) (scheduler.Run, bool)
}

type JobRunDTO struct {
	Job        string    `json:"job"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Count      int       `json:"count"`
	Error      string    `json:"error,omitempty"`
}

func toJobRunDTO(r scheduler.Run) JobRunDTO {
	dto := JobRunDTO{Job: r.Job, StartedAt: r.StartedAt, FinishedAt: r.FinishedAt, Count: r.Count}
	if r.Err != nil {
		dto.Error = r.Err.Error()
	}
	return dto
}

func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	if h.jobs == nil {
		writeError(w, http.StatusServiceUnavailable, "Scheduler is disabled", nil)
		return
	}
	runs := make([]JobRunDTO, 0, 2)
	for _, job := range []string{scheduler.JobAlertScan, scheduler.JobConsolidation} {
		if run, ok := h.jobs.LastRun(job); ok {
			runs = append(runs, toJobRunDTO(run))
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (h *Handler) RunJob(w http.ResponseWriter, r *http.Request) {
	if h.jobs == nil {
		writeError(w, http.StatusServiceUnavailable, "Scheduler is disabled", nil)
		return
	}
	var run scheduler.Run
	switch chi.URLParam(r, "job") {
	case scheduler.JobAlertScan:
		run = h.jobs.RunAlertScan(r.Context())
	case scheduler.JobConsolidation:
		run = h.jobs.RunConsolidation(r.Context())
	default:
		writeError(w, http.StatusNotFound, "Unknown job", nil)
		return
	}
	status := http.StatusOK
	if run.Err != nil {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, toJobRunDTO(run))
}
