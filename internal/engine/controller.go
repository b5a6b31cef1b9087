package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/campaignforge/dispatch/internal/domain"
	"github.com/campaignforge/dispatch/internal/store"
)

// degradedThreshold is how many consecutive job-store faults flip the queue
// into the degraded condition surfaced on the operator endpoints.
const degradedThreshold = 3

// ConfigPersister saves the singleton queue config across restarts. Nil is
// allowed; the controller then keeps config in memory only.
type ConfigPersister interface {
	LoadQueueConfig(ctx context.Context) (domain.QueueConfig, bool, error)
	SaveQueueConfig(ctx context.Context, cfg domain.QueueConfig) error
}

// Controller is the operator-facing queue surface: pause/resume, live config
// mutation, aggregate stats and the failed-job override.
type Controller struct {
	jobs      store.JobStore
	limiter   *RateLimiter
	tracker   *CompletionTracker
	persister ConfigPersister
	logger    *slog.Logger

	mu  sync.RWMutex
	cfg domain.QueueConfig

	storeFaults atomic.Int32
}

func NewController(jobs store.JobStore, limiter *RateLimiter, tracker *CompletionTracker, persister ConfigPersister, initial domain.QueueConfig, logger *slog.Logger) *Controller {
	c := &Controller{
		jobs:      jobs,
		limiter:   limiter,
		tracker:   tracker,
		persister: persister,
		cfg:       initial,
		logger:    logger,
	}
	c.limiter.SetRate(initial.RateLimitPerMinute)
	return c
}

// LoadPersisted replaces the in-memory config with the persisted one, if any.
// Called once at startup.
func (c *Controller) LoadPersisted(ctx context.Context) error {
	if c.persister == nil {
		return nil
	}
	cfg, found, err := c.persister.LoadQueueConfig(ctx)
	if err != nil {
		return fmt.Errorf("loading persisted queue config: %w", err)
	}
	if !found {
		return nil
	}

	c.mu.Lock()
	c.cfg = cfg
	c.mu.Unlock()
	c.limiter.SetRate(cfg.RateLimitPerMinute)
	c.logger.Info("queue config restored",
		"paused", cfg.IsPaused,
		"rate_limit_per_minute", cfg.RateLimitPerMinute,
		"max_retry_attempts", cfg.MaxRetryAttempts,
	)
	return nil
}

// Config returns a snapshot of the current queue config.
func (c *Controller) Config() domain.QueueConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

// IsPaused reports whether new claims are currently suspended.
func (c *Controller) IsPaused() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg.IsPaused
}

// Pause stops new claims. In-flight sends run to completion.
func (c *Controller) Pause(ctx context.Context) error {
	return c.setPaused(ctx, true)
}

// Resume re-enables claims.
func (c *Controller) Resume(ctx context.Context) error {
	return c.setPaused(ctx, false)
}

func (c *Controller) setPaused(ctx context.Context, paused bool) error {
	c.mu.Lock()
	c.cfg.IsPaused = paused
	cfg := c.cfg
	c.mu.Unlock()

	c.logger.Info("queue pause flag changed", "paused", paused)
	return c.persist(ctx, cfg)
}

// UpdateConfig applies a partial mutation. The new values affect jobs not yet
// claimed; anything already in flight finishes under the old values.
func (c *Controller) UpdateConfig(ctx context.Context, update domain.QueueConfigUpdate) (domain.QueueConfig, error) {
	c.mu.Lock()
	if update.IsPaused != nil {
		c.cfg.IsPaused = *update.IsPaused
	}
	if update.RateLimitPerMinute != nil && *update.RateLimitPerMinute > 0 {
		c.cfg.RateLimitPerMinute = *update.RateLimitPerMinute
	}
	if update.MaxRetryAttempts != nil && *update.MaxRetryAttempts >= 0 {
		c.cfg.MaxRetryAttempts = *update.MaxRetryAttempts
	}
	if update.WorkerPoolSize != nil && *update.WorkerPoolSize > 0 {
		c.cfg.WorkerPoolSize = *update.WorkerPoolSize
	}
	cfg := c.cfg
	c.mu.Unlock()

	c.limiter.SetRate(cfg.RateLimitPerMinute)
	c.logger.Info("queue config updated",
		"rate_limit_per_minute", cfg.RateLimitPerMinute,
		"max_retry_attempts", cfg.MaxRetryAttempts,
		"worker_pool_size", cfg.WorkerPoolSize,
	)

	if err := c.persist(ctx, cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Controller) persist(ctx context.Context, cfg domain.QueueConfig) error {
	if c.persister == nil {
		return nil
	}
	if err := c.persister.SaveQueueConfig(ctx, cfg); err != nil {
		return fmt.Errorf("persisting queue config: %w", err)
	}
	return nil
}

// Stats groups current job counts by status.
func (c *Controller) Stats(ctx context.Context) (domain.QueueStats, error) {
	return c.jobs.CountByStatus(ctx)
}

// ProcessingRate returns jobs completed in the trailing 60 seconds.
func (c *Controller) ProcessingRate(ctx context.Context) int {
	if c.tracker == nil {
		return 0
	}
	return c.tracker.Rate(ctx)
}

// RetryFailed is the explicit operator override of the failed terminal state:
// failed jobs return to queued with attempt_count reset to zero.
func (c *Controller) RetryFailed(ctx context.Context) (int, error) {
	n, err := c.jobs.RequeueFailed(ctx)
	if err != nil {
		return 0, err
	}
	c.logger.Info("failed jobs requeued", "count", n)
	return n, nil
}

// ReportStoreFault records a job-store failure from the worker loop. Repeated
// faults mark the queue degraded.
func (c *Controller) ReportStoreFault(err error) {
	faults := c.storeFaults.Add(1)
	if faults == degradedThreshold {
		c.logger.Error("queue degraded: job store persistence failing", "error", err, "consecutive_faults", faults)
	}
}

// ReportStoreOK clears the fault streak after a successful store round trip.
func (c *Controller) ReportStoreOK() {
	c.storeFaults.Store(0)
}

// Degraded reports whether the job store is currently failing persistently.
func (c *Controller) Degraded() bool {
	return c.storeFaults.Load() >= degradedThreshold
}
