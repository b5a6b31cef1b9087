package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/campaignforge/dispatch/internal/domain"
	"github.com/campaignforge/dispatch/internal/store"
	"github.com/google/uuid"
)

// ErrTemplateNotFound rejects a campaign before any job is admitted to the
// store: a job with a dangling template reference is never enqueued.
var ErrTemplateNotFound = errors.New("template not found")

// Recipient is one row from the campaign source, snapshotted into each job at
// enqueue time.
type Recipient struct {
	Email        string            `json:"email"`
	FirstName    string            `json:"first_name,omitempty"`
	LastName     string            `json:"last_name,omitempty"`
	Phone        string            `json:"phone,omitempty"`
	Company      string            `json:"company,omitempty"`
	CustomFields map[string]string `json:"custom_fields,omitempty"`
}

// CampaignResult aggregates per-recipient outcomes for a bulk dispatch.
// Individual recipient failures never surface as errors.
type CampaignResult struct {
	Successful []string `json:"successful"`
	Failed     []string `json:"failed"`
	Pending    []string `json:"pending,omitempty"`
}

// CampaignEngine fans a campaign out into one delivery job per recipient.
type CampaignEngine struct {
	jobs      store.JobStore
	templates store.TemplateStore
	ctrl      *Controller
	logger    *slog.Logger
}

func NewCampaignEngine(jobs store.JobStore, templates store.TemplateStore, ctrl *Controller, logger *slog.Logger) *CampaignEngine {
	return &CampaignEngine{jobs: jobs, templates: templates, ctrl: ctrl, logger: logger}
}

// EnqueueCampaign creates one queued job per recipient. Each job captures an
// immutable contact snapshot and copies max_attempts from the current config,
// so later config or contact mutations cannot affect it. Returns the number
// of jobs queued.
func (e *CampaignEngine) EnqueueCampaign(ctx context.Context, campaignID, templateID string, recipients []Recipient, variables map[string]string) (int, error) {
	tpl, err := e.templates.GetTemplate(ctx, templateID)
	if err != nil {
		return 0, fmt.Errorf("resolving template %s: %w", templateID, err)
	}
	if tpl == nil {
		return 0, fmt.Errorf("%w: %s", ErrTemplateNotFound, templateID)
	}

	maxAttempts := e.ctrl.Config().MaxRetryAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	now := time.Now()

	queued := 0
	for _, r := range recipients {
		job := &domain.DeliveryJob{
			ID:             uuid.NewString(),
			CampaignID:     campaignID,
			TemplateID:     templateID,
			RecipientEmail: r.Email,
			ContactSnapshot: domain.ContactSnapshot{
				Email:        r.Email,
				FirstName:    r.FirstName,
				LastName:     r.LastName,
				Phone:        r.Phone,
				Company:      r.Company,
				CustomFields: r.CustomFields,
			},
			Variables:   variables,
			Status:      domain.StatusQueued,
			MaxAttempts: maxAttempts,
			CreatedAt:   now,
		}
		if err := e.jobs.CreateJob(ctx, job); err != nil {
			return queued, fmt.Errorf("enqueuing job for %s: %w", r.Email, err)
		}
		queued++
	}

	e.logger.Info("campaign enqueued",
		"campaign_id", campaignID,
		"template_id", templateID,
		"jobs_queued", queued,
	)
	return queued, nil
}

// DispatchCampaign blocks until every job of the campaign has left the
// queued/sending states, then aggregates outcomes: sent jobs are successful,
// failed jobs are failed, jobs still awaiting a retry are pending. Only a
// store-level fault (or context expiry) is an error; recipient failures are
// data, not errors.
func (e *CampaignEngine) DispatchCampaign(ctx context.Context, campaignID string) (CampaignResult, error) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		jobs, err := e.jobs.ListCampaignJobs(ctx, campaignID)
		if err != nil {
			return CampaignResult{}, fmt.Errorf("observing campaign %s: %w", campaignID, err)
		}

		settled := true
		for i := range jobs {
			if jobs[i].Status == domain.StatusQueued || jobs[i].Status == domain.StatusSending {
				settled = false
				break
			}
		}
		if settled {
			return aggregate(jobs), nil
		}

		select {
		case <-ctx.Done():
			return CampaignResult{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func aggregate(jobs []domain.DeliveryJob) CampaignResult {
	result := CampaignResult{Successful: []string{}, Failed: []string{}}
	for i := range jobs {
		switch jobs[i].Status {
		case domain.StatusSent:
			result.Successful = append(result.Successful, jobs[i].ID)
		case domain.StatusFailed:
			result.Failed = append(result.Failed, jobs[i].ID)
		case domain.StatusRetrying:
			result.Pending = append(result.Pending, jobs[i].ID)
		}
	}
	return result
}
