package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/campaignforge/dispatch/internal/domain"
	"github.com/campaignforge/dispatch/internal/store"
)

func newTestEngine(t *testing.T) (*CampaignEngine, *store.MemoryJobStore, *store.MemoryTemplateStore) {
	t.Helper()
	jobs := store.NewMemoryJobStore()
	templates := store.NewMemoryTemplateStore()
	ctrl := NewController(jobs, NewRateLimiter(600), nil, nil, domain.DefaultQueueConfig(), testLogger())
	eng := NewCampaignEngine(jobs, templates, ctrl, testLogger())
	return eng, jobs, templates
}

func TestEnqueueCampaign_OneJobPerRecipient(t *testing.T) {
	eng, jobs, templates := newTestEngine(t)
	ctx := context.Background()

	templates.Put(&domain.Template{ID: "tpl-1", Subject: "Hi {{first_name}}", Content: "body"})

	recipients := []Recipient{
		{Email: "a@b.test", FirstName: "Ann", Company: "Acme"},
		{Email: "b@b.test", FirstName: "Bob", CustomFields: map[string]string{"plan": "Pro"}},
	}
	n, err := eng.EnqueueCampaign(ctx, "camp-1", "tpl-1", recipients, map[string]string{"offer": "X"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if n != 2 {
		t.Fatalf("queued %d jobs, want 2", n)
	}

	queued, _ := jobs.ListCampaignJobs(ctx, "camp-1")
	if len(queued) != 2 {
		t.Fatalf("store holds %d jobs, want 2", len(queued))
	}
	for _, job := range queued {
		if job.Status != domain.StatusQueued {
			t.Errorf("job %s status = %q, want queued", job.ID, job.Status)
		}
		if job.MaxAttempts != domain.DefaultQueueConfig().MaxRetryAttempts {
			t.Errorf("max attempts = %d, want config value", job.MaxAttempts)
		}
		if job.ContactSnapshot.Email != job.RecipientEmail {
			t.Errorf("snapshot email %q != recipient %q", job.ContactSnapshot.Email, job.RecipientEmail)
		}
		if job.Variables["offer"] != "X" {
			t.Error("campaign variables not copied onto job")
		}
	}
}

func TestEnqueueCampaign_MissingTemplateAdmitsNothing(t *testing.T) {
	eng, jobs, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := eng.EnqueueCampaign(ctx, "camp-1", "no-such-template", []Recipient{{Email: "a@b.test"}}, nil)
	if !errors.Is(err, ErrTemplateNotFound) {
		t.Fatalf("expected ErrTemplateNotFound, got %v", err)
	}

	stats, _ := jobs.CountByStatus(ctx)
	if stats.Total != 0 {
		t.Errorf("no job should be admitted for a missing template, found %d", stats.Total)
	}
}

func TestEnqueueCampaign_SnapshotIsImmune(t *testing.T) {
	eng, jobs, templates := newTestEngine(t)
	ctx := context.Background()

	templates.Put(&domain.Template{ID: "tpl-1", Subject: "s", Content: "c"})

	recipient := Recipient{Email: "a@b.test", FirstName: "Original", CustomFields: map[string]string{"k": "v1"}}
	eng.EnqueueCampaign(ctx, "camp-1", "tpl-1", []Recipient{recipient}, nil)

	// Mutating the caller's recipient after enqueue must not leak into the job.
	recipient.FirstName = "Mutated"
	recipient.CustomFields["k"] = "v2"

	stored, _ := jobs.ListCampaignJobs(ctx, "camp-1")
	if stored[0].ContactSnapshot.FirstName != "Original" {
		t.Errorf("snapshot first name = %q, want Original", stored[0].ContactSnapshot.FirstName)
	}
	if stored[0].ContactSnapshot.CustomFields["k"] != "v1" {
		t.Errorf("snapshot custom field = %q, want v1", stored[0].ContactSnapshot.CustomFields["k"])
	}
}

func TestDispatchCampaign_AggregatesOutcomes(t *testing.T) {
	eng, jobs, templates := newTestEngine(t)
	ctx := context.Background()

	templates.Put(&domain.Template{ID: "tpl-1", Subject: "s", Content: "c"})
	eng.EnqueueCampaign(ctx, "camp-1", "tpl-1", []Recipient{
		{Email: "ok1@b.test"}, {Email: "ok2@b.test"}, {Email: "bad@b.test"},
	}, nil)

	// Simulate the worker pool settling the jobs.
	all, _ := jobs.ListCampaignJobs(ctx, "camp-1")
	for i, job := range all {
		claimed, _ := jobs.ClaimNextEligible(ctx, time.Now())
		if claimed == nil {
			t.Fatal("claim failed while settling jobs")
		}
		if i < 2 {
			jobs.MarkSent(ctx, claimed.ID, time.Now())
		} else {
			jobs.MarkFailed(ctx, claimed.ID, 2, "550 no such user")
		}
		_ = job
	}

	result, err := eng.DispatchCampaign(ctx, "camp-1")
	if err != nil {
		t.Fatalf("dispatch campaign returned error for recipient failures: %v", err)
	}
	if len(result.Successful) != 2 {
		t.Errorf("successful = %d, want 2", len(result.Successful))
	}
	if len(result.Failed) != 1 {
		t.Errorf("failed = %d, want 1", len(result.Failed))
	}
}

func TestDispatchCampaign_WaitsForSettlement(t *testing.T) {
	eng, jobs, templates := newTestEngine(t)
	ctx := context.Background()

	templates.Put(&domain.Template{ID: "tpl-1", Subject: "s", Content: "c"})
	eng.EnqueueCampaign(ctx, "camp-1", "tpl-1", []Recipient{{Email: "a@b.test"}}, nil)

	// Settle the job shortly after dispatch starts observing.
	go func() {
		time.Sleep(300 * time.Millisecond)
		claimed, _ := jobs.ClaimNextEligible(context.Background(), time.Now())
		if claimed != nil {
			jobs.MarkSent(context.Background(), claimed.ID, time.Now())
		}
	}()

	obsCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	result, err := eng.DispatchCampaign(obsCtx, "camp-1")
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(result.Successful) != 1 {
		t.Errorf("successful = %d, want 1", len(result.Successful))
	}
}

func TestDispatchCampaign_RetryingCountsAsPending(t *testing.T) {
	eng, jobs, templates := newTestEngine(t)
	ctx := context.Background()

	templates.Put(&domain.Template{ID: "tpl-1", Subject: "s", Content: "c"})
	eng.EnqueueCampaign(ctx, "camp-1", "tpl-1", []Recipient{{Email: "a@b.test"}}, nil)

	claimed, _ := jobs.ClaimNextEligible(ctx, time.Now())
	jobs.MarkRetrying(ctx, claimed.ID, 1, time.Now().Add(time.Hour), "451 try later")

	result, err := eng.DispatchCampaign(ctx, "camp-1")
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(result.Pending) != 1 {
		t.Errorf("pending = %d, want 1 for job awaiting retry", len(result.Pending))
	}
	if len(result.Successful) != 0 || len(result.Failed) != 0 {
		t.Errorf("retrying job should not appear in terminal lists: %+v", result)
	}
}
