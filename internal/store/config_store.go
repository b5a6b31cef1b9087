package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/campaignforge/dispatch/internal/domain"
	"github.com/jackc/pgx/v5"
)

// LoadQueueConfig reads the persisted singleton queue config. found is false
// when nothing has been saved yet.
func (s *PostgresStore) LoadQueueConfig(ctx context.Context) (cfg domain.QueueConfig, found bool, err error) {
	err = s.pool.QueryRow(ctx, `
		SELECT is_paused, rate_limit_per_minute, max_retry_attempts, worker_pool_size
		FROM queue_config WHERE id = 1
	`).Scan(&cfg.IsPaused, &cfg.RateLimitPerMinute, &cfg.MaxRetryAttempts, &cfg.WorkerPoolSize)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.QueueConfig{}, false, nil
	}
	if err != nil {
		return domain.QueueConfig{}, false, fmt.Errorf("loading queue config: %w", err)
	}
	return cfg, true, nil
}

// SaveQueueConfig upserts the singleton queue config row so pacing settings
// survive restarts.
func (s *PostgresStore) SaveQueueConfig(ctx context.Context, cfg domain.QueueConfig) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO queue_config (id, is_paused, rate_limit_per_minute, max_retry_attempts, worker_pool_size, updated_at)
		VALUES (1, $1, $2, $3, $4, NOW())
		ON CONFLICT (id) DO UPDATE SET
			is_paused = $1, rate_limit_per_minute = $2, max_retry_attempts = $3, worker_pool_size = $4, updated_at = NOW()
	`, cfg.IsPaused, cfg.RateLimitPerMinute, cfg.MaxRetryAttempts, cfg.WorkerPoolSize)
	if err != nil {
		return fmt.Errorf("saving queue config: %w", err)
	}
	return nil
}
