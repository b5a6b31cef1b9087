package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/campaignforge/dispatch/internal/domain"
	"github.com/campaignforge/dispatch/internal/engine"
	"github.com/campaignforge/dispatch/internal/store"
	"github.com/campaignforge/dispatch/internal/transport"
)

type testEnv struct {
	router    http.Handler
	jobs      *store.MemoryJobStore
	templates *store.MemoryTemplateStore
	ctrl      *engine.Controller
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	jobs := store.NewMemoryJobStore()
	templates := store.NewMemoryTemplateStore()

	limiter := engine.NewRateLimiter(600)
	ctrl := engine.NewController(jobs, limiter, nil, nil, domain.DefaultQueueConfig(), logger)
	campaigns := engine.NewCampaignEngine(jobs, templates, ctrl, logger)

	// Unreachable relay; only the health probe touches it.
	mgr := transport.NewManager(nil, transport.Config{Host: "127.0.0.1", Port: 1, FromAddress: "noreply@example.com"}, 1, logger)

	return &testEnv{
		router:    NewRouter(jobs, ctrl, campaigns, mgr),
		jobs:      jobs,
		templates: templates,
		ctrl:      ctrl,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		buf = bytes.NewReader(b)
	}

	req := httptest.NewRequest(method, path, buf)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func seedTemplate(e *testEnv, id string) {
	e.templates.Put(&domain.Template{
		ID:        id,
		Subject:   "Hello {{first_name}}",
		Content:   "<p>Welcome to {{company_name}}</p>",
		CreatedAt: time.Now(),
	})
}

func TestEnqueueCampaign(t *testing.T) {
	env := newTestEnv(t)
	seedTemplate(env, "tpl-welcome")

	rec := env.do(t, http.MethodPost, "/queue/campaigns", map[string]interface{}{
		"campaign_id": "camp-1",
		"template_id": "tpl-welcome",
		"recipients": []map[string]string{
			{"email": "a@example.com", "first_name": "Ada"},
			{"email": "b@example.com", "first_name": "Bob"},
		},
	})

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp enqueueCampaignResponse
	decodeBody(t, rec, &resp)
	if resp.JobsQueued != 2 {
		t.Errorf("expected 2 jobs queued, got %d", resp.JobsQueued)
	}
	if resp.CampaignID != "camp-1" {
		t.Errorf("expected campaign_id camp-1, got %s", resp.CampaignID)
	}

	jobs, _ := env.jobs.ListCampaignJobs(context.Background(), "camp-1")
	if len(jobs) != 2 {
		t.Fatalf("expected 2 stored jobs, got %d", len(jobs))
	}
	for _, j := range jobs {
		if j.Status != domain.StatusQueued {
			t.Errorf("job %s: expected status queued, got %s", j.ID, j.Status)
		}
	}
}

func TestEnqueueCampaignValidation(t *testing.T) {
	env := newTestEnv(t)
	seedTemplate(env, "tpl-1")

	tests := []struct {
		name     string
		body     map[string]interface{}
		wantCode int
	}{
		{
			name: "missing campaign_id",
			body: map[string]interface{}{
				"template_id": "tpl-1",
				"recipients":  []map[string]string{{"email": "a@example.com"}},
			},
			wantCode: http.StatusBadRequest,
		},
		{
			name: "missing template_id",
			body: map[string]interface{}{
				"campaign_id": "camp-1",
				"recipients":  []map[string]string{{"email": "a@example.com"}},
			},
			wantCode: http.StatusBadRequest,
		},
		{
			name: "no recipients",
			body: map[string]interface{}{
				"campaign_id": "camp-1",
				"template_id": "tpl-1",
				"recipients":  []map[string]string{},
			},
			wantCode: http.StatusBadRequest,
		},
		{
			name: "recipient without email",
			body: map[string]interface{}{
				"campaign_id": "camp-1",
				"template_id": "tpl-1",
				"recipients":  []map[string]string{{"first_name": "NoEmail"}},
			},
			wantCode: http.StatusBadRequest,
		},
		{
			name: "unknown template",
			body: map[string]interface{}{
				"campaign_id": "camp-1",
				"template_id": "tpl-missing",
				"recipients":  []map[string]string{{"email": "a@example.com"}},
			},
			wantCode: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/queue/campaigns", tt.body)
			if rec.Code != tt.wantCode {
				t.Errorf("expected %d, got %d: %s", tt.wantCode, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestQueueStats(t *testing.T) {
	env := newTestEnv(t)
	seedTemplate(env, "tpl-1")

	env.do(t, http.MethodPost, "/queue/campaigns", map[string]interface{}{
		"campaign_id": "camp-1",
		"template_id": "tpl-1",
		"recipients": []map[string]string{
			{"email": "a@example.com"},
			{"email": "b@example.com"},
			{"email": "c@example.com"},
		},
	})

	rec := env.do(t, http.MethodGet, "/queue/stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp statsResponse
	decodeBody(t, rec, &resp)
	if resp.Stats.Queued != 3 {
		t.Errorf("expected 3 queued, got %d", resp.Stats.Queued)
	}
	if resp.Stats.Total != 3 {
		t.Errorf("expected total 3, got %d", resp.Stats.Total)
	}
	if resp.Degraded {
		t.Error("queue should not report degraded")
	}
}

func TestListJobs(t *testing.T) {
	env := newTestEnv(t)
	now := time.Now()

	for i := 0; i < 3; i++ {
		job := &domain.DeliveryJob{
			ID:             fmt.Sprintf("job-%d", i),
			CampaignID:     "camp-1",
			TemplateID:     "tpl-1",
			RecipientEmail: fmt.Sprintf("r%d@example.com", i),
			Status:         domain.StatusQueued,
			MaxAttempts:    3,
			CreatedAt:      now.Add(time.Duration(i) * time.Millisecond),
		}
		if i == 2 {
			job.Status = domain.StatusFailed
		}
		if err := env.jobs.CreateJob(context.Background(), job); err != nil {
			t.Fatalf("seed job: %v", err)
		}
	}

	rec := env.do(t, http.MethodGet, "/queue/jobs?status=failed", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Jobs []domain.DeliveryJob `json:"jobs"`
	}
	decodeBody(t, rec, &resp)
	if len(resp.Jobs) != 1 {
		t.Fatalf("expected 1 failed job, got %d", len(resp.Jobs))
	}
	if resp.Jobs[0].ID != "job-2" {
		t.Errorf("expected job-2, got %s", resp.Jobs[0].ID)
	}

	rec = env.do(t, http.MethodGet, "/queue/jobs?status=bogus", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown status, got %d", rec.Code)
	}
}

func TestGetJob(t *testing.T) {
	env := newTestEnv(t)

	job := &domain.DeliveryJob{
		ID:             "job-1",
		CampaignID:     "camp-1",
		TemplateID:     "tpl-1",
		RecipientEmail: "a@example.com",
		Status:         domain.StatusQueued,
		MaxAttempts:    3,
		CreatedAt:      time.Now(),
	}
	if err := env.jobs.CreateJob(context.Background(), job); err != nil {
		t.Fatalf("seed job: %v", err)
	}

	rec := env.do(t, http.MethodGet, "/queue/jobs/job-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got domain.DeliveryJob
	decodeBody(t, rec, &got)
	if got.RecipientEmail != "a@example.com" {
		t.Errorf("expected recipient a@example.com, got %s", got.RecipientEmail)
	}

	rec = env.do(t, http.MethodGet, "/queue/jobs/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown job, got %d", rec.Code)
	}
}

func TestPauseResume(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/queue/pause", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("pause: expected 200, got %d", rec.Code)
	}
	if !env.ctrl.IsPaused() {
		t.Error("queue should be paused")
	}

	rec = env.do(t, http.MethodGet, "/queue/config", nil)
	var cfg configResponse
	decodeBody(t, rec, &cfg)
	if !cfg.IsPaused {
		t.Error("config should show isPaused true")
	}

	rec = env.do(t, http.MethodPost, "/queue/resume", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("resume: expected 200, got %d", rec.Code)
	}
	if env.ctrl.IsPaused() {
		t.Error("queue should be resumed")
	}
}

func TestUpdateConfig(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPut, "/queue/config", map[string]interface{}{
		"rateLimitPerMinute": 120,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var cfg configResponse
	decodeBody(t, rec, &cfg)
	if cfg.RateLimitPerMinute != 120 {
		t.Errorf("expected rateLimitPerMinute 120, got %d", cfg.RateLimitPerMinute)
	}
	// Untouched field keeps its prior value.
	if cfg.MaxRetryAttempts != domain.DefaultQueueConfig().MaxRetryAttempts {
		t.Errorf("maxRetryAttempts changed unexpectedly: %d", cfg.MaxRetryAttempts)
	}

	// Out-of-range values are ignored, not applied.
	rec = env.do(t, http.MethodPut, "/queue/config", map[string]interface{}{
		"rateLimitPerMinute": -5,
	})
	decodeBody(t, rec, &cfg)
	if cfg.RateLimitPerMinute != 120 {
		t.Errorf("negative rate should be ignored, got %d", cfg.RateLimitPerMinute)
	}
}

func TestRetryFailed(t *testing.T) {
	env := newTestEnv(t)

	job := &domain.DeliveryJob{
		ID:             "job-1",
		CampaignID:     "camp-1",
		TemplateID:     "tpl-1",
		RecipientEmail: "a@example.com",
		Status:         domain.StatusFailed,
		AttemptCount:   3,
		MaxAttempts:    3,
		CreatedAt:      time.Now(),
	}
	if err := env.jobs.CreateJob(context.Background(), job); err != nil {
		t.Fatalf("seed job: %v", err)
	}

	rec := env.do(t, http.MethodPost, "/queue/retry-failed", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	got, _ := env.jobs.GetJob(context.Background(), "job-1")
	if got.Status != domain.StatusQueued {
		t.Errorf("expected status queued after retry-failed, got %s", got.Status)
	}
	if got.AttemptCount != 0 {
		t.Errorf("expected attempt count reset to 0, got %d", got.AttemptCount)
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp HealthResponse
	decodeBody(t, rec, &resp)
	if resp.Status != "healthy" {
		t.Errorf("expected healthy, got %s", resp.Status)
	}
	// The test relay is unreachable; the probe must degrade gracefully.
	if resp.Transport != "unreachable" {
		t.Errorf("expected transport unreachable, got %s", resp.Transport)
	}
}
