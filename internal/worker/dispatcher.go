package worker

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/campaignforge/dispatch/internal/engine"
	"github.com/campaignforge/dispatch/internal/store"
)

// Dispatcher continuously claims eligible jobs from the store and hands them
// to the worker pool. It is the only component that moves jobs into sending,
// so the pause flag and the worker-pool-size bound both live here: a paused
// or saturated dispatcher simply stops claiming.
type Dispatcher struct {
	jobs         store.JobStore
	ctrl         *engine.Controller
	pool         *Pool
	logger       *slog.Logger
	pollInterval time.Duration

	inFlight atomic.Int32
}

// NewDispatcher creates a dispatcher polling the job store for eligible work.
func NewDispatcher(jobs store.JobStore, ctrl *engine.Controller, pool *Pool, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		jobs:         jobs,
		ctrl:         ctrl,
		pool:         pool,
		logger:       logger,
		pollInterval: 100 * time.Millisecond,
	}
}

// Start begins the claim loop. It runs until the context is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	d.logger.Info("dispatcher started")

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher stopping")
			return
		case <-ticker.C:
			d.poll(ctx)
		}
	}
}

// poll claims as many eligible jobs as the current worker-pool-size bound
// allows and submits them. Claiming is independent of rate-limiter tokens;
// the deliverer blocks on the token, keeping pause/resume responsive.
func (d *Dispatcher) poll(ctx context.Context) {
	for {
		if d.ctrl.IsPaused() {
			return
		}
		if int(d.inFlight.Load()) >= d.ctrl.Config().WorkerPoolSize {
			return
		}

		job, err := d.jobs.ClaimNextEligible(ctx, time.Now())
		if err != nil {
			d.ctrl.ReportStoreFault(err)
			d.logger.Error("failed to claim job", "error", err)
			return
		}
		d.ctrl.ReportStoreOK()
		if job == nil {
			return
		}

		d.inFlight.Add(1)
		d.pool.Submit(*job, func() { d.inFlight.Add(-1) })
	}
}

// InFlight reports how many claimed jobs have not finished their attempt yet.
func (d *Dispatcher) InFlight() int {
	return int(d.inFlight.Load())
}
