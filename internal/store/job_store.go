package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/campaignforge/dispatch/internal/domain"
	"github.com/jackc/pgx/v5"
)

// ErrStatusConflict is returned when a compare-and-swap transition finds the
// job in a different status than expected (another worker got there first).
var ErrStatusConflict = errors.New("job status changed concurrently")

// JobStore holds delivery jobs and their lifecycle state. It is the single
// point of shared mutable state; every transition is a compare-and-swap keyed
// on job id plus expected prior status.
type JobStore interface {
	CreateJob(ctx context.Context, job *domain.DeliveryJob) error
	GetJob(ctx context.Context, id string) (*domain.DeliveryJob, error)

	// ClaimNextEligible atomically claims the oldest job that is queued, or
	// retrying with next_attempt_at <= now, moving it to sending and setting
	// last_attempt_at. Returns nil when no job is eligible.
	ClaimNextEligible(ctx context.Context, now time.Time) (*domain.DeliveryJob, error)

	// MarkSent, MarkRetrying and MarkFailed complete an attempt. All three
	// require the job to still be in sending and return ErrStatusConflict
	// otherwise.
	MarkSent(ctx context.Context, id string, at time.Time) error
	MarkRetrying(ctx context.Context, id string, attemptCount int, nextAttemptAt time.Time, errMsg string) error
	MarkFailed(ctx context.Context, id string, attemptCount int, errMsg string) error

	ListJobs(ctx context.Context, status string, limit int) ([]domain.DeliveryJob, error)
	ListCampaignJobs(ctx context.Context, campaignID string) ([]domain.DeliveryJob, error)
	CountByStatus(ctx context.Context) (domain.QueueStats, error)

	// RequeueFailed is the operator override of the failed terminal state:
	// every failed job goes back to queued with attempt_count reset to zero.
	RequeueFailed(ctx context.Context) (int, error)

	// CancelQueued removes a job that has not been claimed yet. Jobs in any
	// other status cannot be cancelled.
	CancelQueued(ctx context.Context, id string) error
}

const jobColumns = `id, campaign_id, template_id, recipient_email, contact_snapshot, variables,
	status, attempt_count, max_attempts, last_attempt_at, next_attempt_at, error_message, sent_at, created_at`

// CreateJob inserts a new job in queued status.
func (s *PostgresStore) CreateJob(ctx context.Context, job *domain.DeliveryJob) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO delivery_jobs (id, campaign_id, template_id, recipient_email, contact_snapshot, variables, status, attempt_count, max_attempts, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, job.ID, job.CampaignID, job.TemplateID, job.RecipientEmail, job.ContactSnapshot, job.Variables,
		job.Status, job.AttemptCount, job.MaxAttempts, job.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting delivery job: %w", err)
	}
	return nil
}

// GetJob returns a single job by ID, or nil if it does not exist.
func (s *PostgresStore) GetJob(ctx context.Context, id string) (*domain.DeliveryJob, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM delivery_jobs WHERE id = $1`, id)

	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting job: %w", err)
	}
	return job, nil
}

// ClaimNextEligible picks the oldest eligible job and flips it to sending in
// one statement. FOR UPDATE SKIP LOCKED keeps concurrent claimers off the same
// row; the status predicate on the outer UPDATE is the compare-and-swap.
func (s *PostgresStore) ClaimNextEligible(ctx context.Context, now time.Time) (*domain.DeliveryJob, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE delivery_jobs SET status = 'sending', last_attempt_at = $1
		WHERE id = (
			SELECT id FROM delivery_jobs
			WHERE status = 'queued' OR (status = 'retrying' AND next_attempt_at <= $1)
			ORDER BY created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		AND status IN ('queued', 'retrying')
		RETURNING `+jobColumns, now)

	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claiming job: %w", err)
	}
	return job, nil
}

// MarkSent moves a sending job to the sent terminal state.
func (s *PostgresStore) MarkSent(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE delivery_jobs SET status = 'sent', sent_at = $2, error_message = NULL, next_attempt_at = NULL
		WHERE id = $1 AND status = 'sending'
	`, id, at)
	if err != nil {
		return fmt.Errorf("marking job sent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStatusConflict
	}
	return nil
}

// MarkRetrying records a failed attempt that still has retries left.
func (s *PostgresStore) MarkRetrying(ctx context.Context, id string, attemptCount int, nextAttemptAt time.Time, errMsg string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE delivery_jobs SET status = 'retrying', attempt_count = $2, next_attempt_at = $3, error_message = $4
		WHERE id = $1 AND status = 'sending'
	`, id, attemptCount, nextAttemptAt, errMsg)
	if err != nil {
		return fmt.Errorf("marking job retrying: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStatusConflict
	}
	return nil
}

// MarkFailed moves a sending job to the failed terminal state.
func (s *PostgresStore) MarkFailed(ctx context.Context, id string, attemptCount int, errMsg string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE delivery_jobs SET status = 'failed', attempt_count = $2, next_attempt_at = NULL, error_message = $3
		WHERE id = $1 AND status = 'sending'
	`, id, attemptCount, errMsg)
	if err != nil {
		return fmt.Errorf("marking job failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStatusConflict
	}
	return nil
}

// ListJobs returns jobs, optionally filtered by status, newest first.
func (s *PostgresStore) ListJobs(ctx context.Context, status string, limit int) ([]domain.DeliveryJob, error) {
	query := `SELECT ` + jobColumns + ` FROM delivery_jobs`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, len(args)+1)
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// ListCampaignJobs returns every job for one campaign, oldest first.
func (s *PostgresStore) ListCampaignJobs(ctx context.Context, campaignID string) ([]domain.DeliveryJob, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM delivery_jobs WHERE campaign_id = $1 ORDER BY created_at`,
		campaignID)
	if err != nil {
		return nil, fmt.Errorf("querying campaign jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// CountByStatus groups current job counts for the stats endpoint.
func (s *PostgresStore) CountByStatus(ctx context.Context) (domain.QueueStats, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM delivery_jobs GROUP BY status`)
	if err != nil {
		return domain.QueueStats{}, fmt.Errorf("counting jobs: %w", err)
	}
	defer rows.Close()

	var stats domain.QueueStats
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return domain.QueueStats{}, fmt.Errorf("scanning job counts: %w", err)
		}
		switch status {
		case domain.StatusQueued:
			stats.Queued = count
		case domain.StatusSending:
			stats.Sending = count
		case domain.StatusSent:
			stats.Sent = count
		case domain.StatusFailed:
			stats.Failed = count
		case domain.StatusRetrying:
			stats.Retrying = count
		}
		stats.Total += count
	}
	return stats, rows.Err()
}

// RequeueFailed resets every failed job to queued with a fresh attempt budget.
func (s *PostgresStore) RequeueFailed(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE delivery_jobs
		SET status = 'queued', attempt_count = 0, error_message = NULL, next_attempt_at = NULL
		WHERE status = 'failed'
	`)
	if err != nil {
		return 0, fmt.Errorf("requeuing failed jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// CancelQueued deletes a job that no worker has claimed yet.
func (s *PostgresStore) CancelQueued(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM delivery_jobs WHERE id = $1 AND status = 'queued'`, id)
	if err != nil {
		return fmt.Errorf("cancelling job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStatusConflict
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.DeliveryJob, error) {
	var job domain.DeliveryJob
	err := row.Scan(
		&job.ID, &job.CampaignID, &job.TemplateID, &job.RecipientEmail,
		&job.ContactSnapshot, &job.Variables,
		&job.Status, &job.AttemptCount, &job.MaxAttempts,
		&job.LastAttemptAt, &job.NextAttemptAt, &job.ErrorMessage, &job.SentAt, &job.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func collectJobs(rows pgx.Rows) ([]domain.DeliveryJob, error) {
	jobs := []domain.DeliveryJob{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}
