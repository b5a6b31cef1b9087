package worker

import (
	"context"
	"log/slog"
	"sync"

	"github.com/campaignforge/dispatch/internal/domain"
)

// workItem carries one claimed job to a worker. done releases the
// dispatcher's in-flight slot once the attempt finishes.
type workItem struct {
	job  domain.DeliveryJob
	done func()
}

// Pool manages a fixed number of worker goroutines that process claimed jobs.
type Pool struct {
	numWorkers int
	items      chan workItem
	deliverer  *Deliverer
	logger     *slog.Logger
	wg         sync.WaitGroup
}

// NewPool creates a worker pool with the given number of workers.
func NewPool(numWorkers int, deliverer *Deliverer, logger *slog.Logger) *Pool {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	return &Pool{
		numWorkers: numWorkers,
		items:      make(chan workItem, numWorkers*2),
		deliverer:  deliverer,
		logger:     logger,
	}
}

// Start launches all worker goroutines. They read from the items channel
// until it is closed.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	p.logger.Info("worker pool started", "num_workers", p.numWorkers)
}

// Submit hands a claimed job to the pool. done may be nil.
func (p *Pool) Submit(job domain.DeliveryJob, done func()) {
	p.items <- workItem{job: job, done: done}
}

// Stop closes the items channel and waits for in-flight attempts to finish.
// A job already in sending always runs to completion.
func (p *Pool) Stop() {
	close(p.items)
	p.wg.Wait()
	p.logger.Info("worker pool stopped")
}

func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()

	for item := range p.items {
		p.deliverer.Deliver(ctx, item.job)
		if item.done != nil {
			item.done()
		}
	}
}
