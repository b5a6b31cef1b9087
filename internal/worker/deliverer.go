package worker

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/campaignforge/dispatch/internal/audit"
	"github.com/campaignforge/dispatch/internal/domain"
	"github.com/campaignforge/dispatch/internal/engine"
	"github.com/campaignforge/dispatch/internal/store"
	"github.com/campaignforge/dispatch/internal/template"
	"github.com/campaignforge/dispatch/internal/transport"
)

// Sender dispatches one rendered message. *transport.Manager is the real
// implementation; tests stub it.
type Sender interface {
	Send(ctx context.Context, msg transport.Message) (string, error)
}

// Deliverer processes one claimed job end to end: render, wait for a rate
// token, send, record the outcome. A recipient's failure never escapes the
// job it belongs to.
type Deliverer struct {
	jobs      store.JobStore
	templates store.TemplateStore
	resolver  *template.Resolver
	sender    Sender
	limiter   *engine.RateLimiter
	tracker   *engine.CompletionTracker
	auditSink *audit.Sink
	ctrl      *engine.Controller
	logger    *slog.Logger

	// retryBackoffBase seeds the exponential per-job retry delay. Distinct
	// from the token bucket, which paces all sends uniformly.
	retryBackoffBase time.Duration
	retryBackoffMax  time.Duration
}

// NewDeliverer wires a deliverer. tracker and auditSink may be nil in tests.
func NewDeliverer(jobs store.JobStore, templates store.TemplateStore, resolver *template.Resolver, sender Sender, limiter *engine.RateLimiter, tracker *engine.CompletionTracker, auditSink *audit.Sink, ctrl *engine.Controller, logger *slog.Logger) *Deliverer {
	return &Deliverer{
		jobs:             jobs,
		templates:        templates,
		resolver:         resolver,
		sender:           sender,
		limiter:          limiter,
		tracker:          tracker,
		auditSink:        auditSink,
		ctrl:             ctrl,
		logger:           logger,
		retryBackoffBase: 30 * time.Second,
		retryBackoffMax:  15 * time.Minute,
	}
}

// Deliver runs one attempt for a job already claimed into sending.
func (d *Deliverer) Deliver(ctx context.Context, job domain.DeliveryJob) {
	tpl, err := d.templates.GetTemplate(ctx, job.TemplateID)
	if err != nil {
		d.recordFailure(job, false, "loading template: "+err.Error())
		return
	}
	if tpl == nil {
		// Enqueue validates the template, so this means it was deleted
		// mid-campaign. No retry can fix it.
		d.recordFailure(job, true, "template "+job.TemplateID+" no longer exists")
		return
	}

	rendered := d.resolver.Resolve(tpl, job.Variables, &job.ContactSnapshot)

	// The claim happened before token acquisition on purpose: blocking here
	// keeps the pause flag responsive while still throttling dispatch.
	if err := d.limiter.Wait(ctx); err != nil {
		d.requeue(job, "shutdown before dispatch")
		return
	}

	messageID, err := d.sender.Send(ctx, transport.Message{
		To:      job.RecipientEmail,
		Subject: rendered.Subject,
		Body:    rendered.Body,
	})
	if err != nil {
		d.recordFailure(job, transport.IsPermanent(err), err.Error())
		return
	}

	d.recordSuccess(job, messageID)
}

func (d *Deliverer) recordSuccess(job domain.DeliveryJob, messageID string) {
	now := time.Now()
	if err := d.jobs.MarkSent(context.Background(), job.ID, now); err != nil {
		d.ctrl.ReportStoreFault(err)
		d.logger.Error("failed to mark job sent", "error", err, "job_id", job.ID)
		return
	}
	d.ctrl.ReportStoreOK()

	if d.tracker != nil {
		d.tracker.Record(context.Background(), job.ID)
	}
	if d.auditSink != nil {
		d.auditSink.Append(domain.AuditEntry{
			JobID:  job.ID,
			Action: domain.AuditEmailSent,
			Detail: d.auditDetail(job),
		})
	}

	d.logger.Info("delivery successful",
		"job_id", job.ID,
		"campaign_id", job.CampaignID,
		"recipient", job.RecipientEmail,
		"message_id", messageID,
		"attempt", job.AttemptCount+1,
	)
}

// recordFailure decides between the retry path and the failed terminal state.
// Permanent rejections skip the remaining attempts: retrying a hard bounce
// only burns relay reputation.
func (d *Deliverer) recordFailure(job domain.DeliveryJob, permanent bool, errMsg string) {
	attempts := job.AttemptCount + 1

	if !permanent && attempts < job.MaxAttempts {
		next := time.Now().Add(d.backoff(attempts))
		if err := d.jobs.MarkRetrying(context.Background(), job.ID, attempts, next, errMsg); err != nil {
			d.ctrl.ReportStoreFault(err)
			d.logger.Error("failed to mark job retrying", "error", err, "job_id", job.ID)
			return
		}
		d.ctrl.ReportStoreOK()

		d.logger.Warn("delivery failed, will retry",
			"job_id", job.ID,
			"campaign_id", job.CampaignID,
			"recipient", job.RecipientEmail,
			"attempt", attempts,
			"max_attempts", job.MaxAttempts,
			"next_attempt_at", next,
			"error", errMsg,
		)
		return
	}

	if err := d.jobs.MarkFailed(context.Background(), job.ID, attempts, errMsg); err != nil {
		d.ctrl.ReportStoreFault(err)
		d.logger.Error("failed to mark job failed", "error", err, "job_id", job.ID)
		return
	}
	d.ctrl.ReportStoreOK()

	if d.tracker != nil {
		d.tracker.Record(context.Background(), job.ID)
	}
	if d.auditSink != nil {
		detail := d.auditDetail(job)
		detail.Error = errMsg
		d.auditSink.Append(domain.AuditEntry{
			JobID:  job.ID,
			Action: domain.AuditEmailSendFailed,
			Detail: detail,
		})
	}

	d.logger.Warn("delivery failed permanently",
		"job_id", job.ID,
		"campaign_id", job.CampaignID,
		"recipient", job.RecipientEmail,
		"attempts", attempts,
		"permanent_reject", permanent,
		"error", errMsg,
	)
}

// requeue returns a claimed job to the retry pool without consuming an
// attempt. Used when shutdown interrupts before the message went out.
func (d *Deliverer) requeue(job domain.DeliveryJob, reason string) {
	writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := d.jobs.MarkRetrying(writeCtx, job.ID, job.AttemptCount, time.Now(), reason); err != nil {
		d.ctrl.ReportStoreFault(err)
		d.logger.Error("failed to requeue interrupted job", "error", err, "job_id", job.ID)
		return
	}
	d.ctrl.ReportStoreOK()
	d.logger.Info("job requeued without attempt", "job_id", job.ID, "reason", reason)
}

func (d *Deliverer) backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	delay := d.retryBackoffBase << (attempts - 1)
	if delay > d.retryBackoffMax || delay <= 0 {
		delay = d.retryBackoffMax
	}
	return delay
}

func (d *Deliverer) auditDetail(job domain.DeliveryJob) domain.AuditDetail {
	keys := make([]string, 0, len(job.Variables))
	for k := range job.Variables {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return domain.AuditDetail{
		TemplateID:   job.TemplateID,
		Recipient:    job.RecipientEmail,
		CampaignID:   job.CampaignID,
		VariableKeys: keys,
	}
}
