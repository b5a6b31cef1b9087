package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/campaignforge/dispatch/internal/domain"
)

// MemoryJobStore is an in-process JobStore guarded by a mutex. It backs tests
// and the standalone mode where no DATABASE_URL is configured. Claim and the
// Mark* transitions hold the lock for the whole read-check-write, giving the
// same compare-and-swap guarantee as the SQL variant.
type MemoryJobStore struct {
	mu   sync.Mutex
	jobs map[string]*domain.DeliveryJob
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{jobs: make(map[string]*domain.DeliveryJob)}
}

func (s *MemoryJobStore) CreateJob(_ context.Context, job *domain.DeliveryJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := cloneJob(job)
	s.jobs[job.ID] = clone
	return nil
}

func (s *MemoryJobStore) GetJob(_ context.Context, id string) (*domain.DeliveryJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, nil
	}
	return cloneJob(job), nil
}

func (s *MemoryJobStore) ClaimNextEligible(_ context.Context, now time.Time) (*domain.DeliveryJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var oldest *domain.DeliveryJob
	for _, job := range s.jobs {
		eligible := job.Status == domain.StatusQueued ||
			(job.Status == domain.StatusRetrying && job.NextAttemptAt != nil && !job.NextAttemptAt.After(now))
		if !eligible {
			continue
		}
		if oldest == nil || job.CreatedAt.Before(oldest.CreatedAt) {
			oldest = job
		}
	}
	if oldest == nil {
		return nil, nil
	}

	oldest.Status = domain.StatusSending
	at := now
	oldest.LastAttemptAt = &at
	return cloneJob(oldest), nil
}

func (s *MemoryJobStore) MarkSent(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || job.Status != domain.StatusSending {
		return ErrStatusConflict
	}
	job.Status = domain.StatusSent
	sentAt := at
	job.SentAt = &sentAt
	job.ErrorMessage = nil
	job.NextAttemptAt = nil
	return nil
}

func (s *MemoryJobStore) MarkRetrying(_ context.Context, id string, attemptCount int, nextAttemptAt time.Time, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || job.Status != domain.StatusSending {
		return ErrStatusConflict
	}
	job.Status = domain.StatusRetrying
	job.AttemptCount = attemptCount
	next := nextAttemptAt
	job.NextAttemptAt = &next
	msg := errMsg
	job.ErrorMessage = &msg
	return nil
}

func (s *MemoryJobStore) MarkFailed(_ context.Context, id string, attemptCount int, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || job.Status != domain.StatusSending {
		return ErrStatusConflict
	}
	job.Status = domain.StatusFailed
	job.AttemptCount = attemptCount
	job.NextAttemptAt = nil
	msg := errMsg
	job.ErrorMessage = &msg
	return nil
}

func (s *MemoryJobStore) ListJobs(_ context.Context, status string, limit int) ([]domain.DeliveryJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := []domain.DeliveryJob{}
	for _, job := range s.jobs {
		if status != "" && job.Status != status {
			continue
		}
		jobs = append(jobs, *cloneJob(job))
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.After(jobs[j].CreatedAt) })
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func (s *MemoryJobStore) ListCampaignJobs(_ context.Context, campaignID string) ([]domain.DeliveryJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := []domain.DeliveryJob{}
	for _, job := range s.jobs {
		if job.CampaignID == campaignID {
			jobs = append(jobs, *cloneJob(job))
		}
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.Before(jobs[j].CreatedAt) })
	return jobs, nil
}

func (s *MemoryJobStore) CountByStatus(_ context.Context) (domain.QueueStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stats domain.QueueStats
	for _, job := range s.jobs {
		switch job.Status {
		case domain.StatusQueued:
			stats.Queued++
		case domain.StatusSending:
			stats.Sending++
		case domain.StatusSent:
			stats.Sent++
		case domain.StatusFailed:
			stats.Failed++
		case domain.StatusRetrying:
			stats.Retrying++
		}
		stats.Total++
	}
	return stats, nil
}

func (s *MemoryJobStore) RequeueFailed(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, job := range s.jobs {
		if job.Status != domain.StatusFailed {
			continue
		}
		job.Status = domain.StatusQueued
		job.AttemptCount = 0
		job.ErrorMessage = nil
		job.NextAttemptAt = nil
		n++
	}
	return n, nil
}

func (s *MemoryJobStore) CancelQueued(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || job.Status != domain.StatusQueued {
		return ErrStatusConflict
	}
	delete(s.jobs, id)
	return nil
}

func cloneJob(job *domain.DeliveryJob) *domain.DeliveryJob {
	clone := *job
	if job.Variables != nil {
		clone.Variables = make(map[string]string, len(job.Variables))
		for k, v := range job.Variables {
			clone.Variables[k] = v
		}
	}
	if job.ContactSnapshot.CustomFields != nil {
		fields := make(map[string]string, len(job.ContactSnapshot.CustomFields))
		for k, v := range job.ContactSnapshot.CustomFields {
			fields[k] = v
		}
		clone.ContactSnapshot.CustomFields = fields
	}
	copyTime := func(t *time.Time) *time.Time {
		if t == nil {
			return nil
		}
		v := *t
		return &v
	}
	clone.LastAttemptAt = copyTime(job.LastAttemptAt)
	clone.NextAttemptAt = copyTime(job.NextAttemptAt)
	clone.SentAt = copyTime(job.SentAt)
	if job.ErrorMessage != nil {
		msg := *job.ErrorMessage
		clone.ErrorMessage = &msg
	}
	return &clone
}
