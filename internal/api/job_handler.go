package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/shaiso/Quorum/internal/domain"
	"github.com/shaiso/Quorum/internal/jobs"
)

// ScheduleJob ставит задачу.
// POST /api/v1/jobs
func (h *Handler) ScheduleJob(w http.ResponseWriter, r *http.Request) {
	var req ScheduleJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if req.Kind == "" {
		BadRequest(w, "kind is required")
		return
	}

	runAt, msg := h.resolveRunAt(req.RunAt, req.DelaySec)
	if msg != "" {
		BadRequest(w, msg)
		return
	}

	job, err := h.kinds.Build(req.Kind, req.Payload)
	if err != nil {
		BadRequest(w, err.Error())
		return
	}

	queue := req.Queue
	if queue == "" {
		queue = domain.DefaultQueue
	}

	id, err := h.scheduler.Schedule(r.Context(), job, runAt, jobs.WithQueue(queue))
	if HandleStoreError(w, h.logger, err, "") {
		return
	}

	h.logger.Info("job scheduled via api", "job_id", id, "kind", req.Kind, "queue", queue, "run_at", runAt)

	Created(w, ScheduleJobResponse{
		ID:    id,
		Kind:  req.Kind,
		Queue: queue,
		RunAt: runAt,
	})
}

// GetJob возвращает задачу по ID.
// GET /api/v1/jobs/{id}
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, ok := parseJobID(w, r)
	if !ok {
		return
	}

	job, err := h.jobs.GetByID(r.Context(), id)
	if HandleStoreError(w, h.logger, err, "job not found") {
		return
	}

	resp := JobFromDomain(job)
	if state, ok := h.scheduler.State(id); ok {
		resp.LocalState = state.String()
	}

	Success(w, resp)
}

// CancelJob отменяет задачу на всех узлах.
// DELETE /api/v1/jobs/{id}
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	id, ok := parseJobID(w, r)
	if !ok {
		return
	}

	canceled, err := h.scheduler.Cancel(r.Context(), id, true)
	if HandleStoreError(w, h.logger, err, "job not found") {
		return
	}

	Success(w, CancelJobResponse{ID: id, Canceled: canceled})
}

// RescheduleJob переносит задачу на новое время на всех узлах.
// POST /api/v1/jobs/{id}/reschedule
func (h *Handler) RescheduleJob(w http.ResponseWriter, r *http.Request) {
	id, ok := parseJobID(w, r)
	if !ok {
		return
	}

	var req RescheduleJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}
	if req.RunAt == nil && req.DelaySec == nil {
		BadRequest(w, "run_at or delay_sec is required")
		return
	}

	runAt, msg := h.resolveRunAt(req.RunAt, req.DelaySec)
	if msg != "" {
		BadRequest(w, msg)
		return
	}

	err := h.scheduler.Reschedule(r.Context(), id, runAt, true)
	if HandleStoreError(w, h.logger, err, "job not found") {
		return
	}

	Success(w, RescheduleJobResponse{ID: id, RunAt: runAt})
}

// resolveRunAt вычисляет время запуска. Непустая строка — ошибка валидации.
func (h *Handler) resolveRunAt(runAt *time.Time, delaySec *float64) (time.Time, string) {
	switch {
	case runAt != nil && delaySec != nil:
		return time.Time{}, "run_at and delay_sec are mutually exclusive"
	case runAt != nil:
		return runAt.UTC(), ""
	case delaySec != nil:
		if *delaySec < 0 {
			return time.Time{}, "delay_sec must not be negative"
		}
		return h.now().Add(time.Duration(*delaySec * float64(time.Second))).UTC(), ""
	default:
		return h.now().UTC(), ""
	}
}

func parseJobID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		BadRequest(w, "invalid job id")
		return 0, false
	}
	return id, true
}
