package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/campaignforge/dispatch/internal/engine"
)

// CampaignHandler accepts campaign fan-out requests from the campaign source.
type CampaignHandler struct {
	engine *engine.CampaignEngine
}

func NewCampaignHandler(e *engine.CampaignEngine) *CampaignHandler {
	return &CampaignHandler{engine: e}
}

type enqueueCampaignRequest struct {
	CampaignID string             `json:"campaign_id"`
	TemplateID string             `json:"template_id"`
	Recipients []engine.Recipient `json:"recipients"`
	Variables  map[string]string  `json:"variables,omitempty"`
}

type enqueueCampaignResponse struct {
	CampaignID string `json:"campaign_id"`
	JobsQueued int    `json:"jobs_queued"`
}

func (h *CampaignHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueCampaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.CampaignID == "" {
		respondError(w, http.StatusBadRequest, "campaign_id is required")
		return
	}
	if req.TemplateID == "" {
		respondError(w, http.StatusBadRequest, "template_id is required")
		return
	}
	if len(req.Recipients) == 0 {
		respondError(w, http.StatusBadRequest, "at least one recipient is required")
		return
	}
	for _, rec := range req.Recipients {
		if rec.Email == "" {
			respondError(w, http.StatusBadRequest, "every recipient needs an email")
			return
		}
	}

	queued, err := h.engine.EnqueueCampaign(r.Context(), req.CampaignID, req.TemplateID, req.Recipients, req.Variables)
	if errors.Is(err, engine.ErrTemplateNotFound) {
		respondError(w, http.StatusNotFound, "template "+req.TemplateID+" not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to enqueue campaign")
		return
	}

	respondJSON(w, http.StatusCreated, enqueueCampaignResponse{
		CampaignID: req.CampaignID,
		JobsQueued: queued,
	})
}
