package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/campaignforge/dispatch/internal/domain"
	"github.com/campaignforge/dispatch/internal/engine"
	"github.com/campaignforge/dispatch/internal/store"
	"github.com/go-chi/chi/v5"
)

// QueueHandler is the operator-facing monitoring and control surface.
type QueueHandler struct {
	ctrl *engine.Controller
	jobs store.JobStore
}

func NewQueueHandler(ctrl *engine.Controller, jobs store.JobStore) *QueueHandler {
	return &QueueHandler{ctrl: ctrl, jobs: jobs}
}

type statsResponse struct {
	Stats          domain.QueueStats `json:"stats"`
	ProcessingRate int               `json:"processingRate"`
	Degraded       bool              `json:"degraded,omitempty"`
}

func (h *QueueHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.ctrl.Stats(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get queue stats")
		return
	}

	respondJSON(w, http.StatusOK, statsResponse{
		Stats:          stats,
		ProcessingRate: h.ctrl.ProcessingRate(r.Context()),
		Degraded:       h.ctrl.Degraded(),
	})
}

func (h *QueueHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status != "" && !domain.ValidStatus(status) {
		respondError(w, http.StatusBadRequest, "unknown status "+status)
		return
	}

	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if n, err := strconv.Atoi(limitStr); err == nil && n > 0 {
			limit = n
		}
	}

	jobs, err := h.jobs.ListJobs(r.Context(), status, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"jobs": jobs})
}

func (h *QueueHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	job, err := h.jobs.GetJob(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get job")
		return
	}
	if job == nil {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}

	respondJSON(w, http.StatusOK, job)
}

// configResponse is the fixed wire shape for GET/PUT /queue/config.
type configResponse struct {
	IsPaused           bool `json:"isPaused"`
	RateLimitPerMinute int  `json:"rateLimitPerMinute"`
	MaxRetryAttempts   int  `json:"maxRetryAttempts"`
}

func (h *QueueHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	cfg := h.ctrl.Config()
	respondJSON(w, http.StatusOK, configResponse{
		IsPaused:           cfg.IsPaused,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		MaxRetryAttempts:   cfg.MaxRetryAttempts,
	})
}

func (h *QueueHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var update domain.QueueConfigUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	cfg, err := h.ctrl.UpdateConfig(r.Context(), update)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to update config")
		return
	}

	respondJSON(w, http.StatusOK, configResponse{
		IsPaused:           cfg.IsPaused,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		MaxRetryAttempts:   cfg.MaxRetryAttempts,
	})
}

func (h *QueueHandler) Pause(w http.ResponseWriter, r *http.Request) {
	if err := h.ctrl.Pause(r.Context()); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to pause queue")
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *QueueHandler) Resume(w http.ResponseWriter, r *http.Request) {
	if err := h.ctrl.Resume(r.Context()); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to resume queue")
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *QueueHandler) RetryFailed(w http.ResponseWriter, r *http.Request) {
	if _, err := h.ctrl.RetryFailed(r.Context()); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to retry failed jobs")
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}
