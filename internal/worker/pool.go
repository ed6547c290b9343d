package worker

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ridewatch/transit-alerts/internal/notify"
)

// Pool manages a fixed number of worker goroutines that send queued
// notifications.
type Pool struct {
	numWorkers int
	jobs       chan notify.NotificationJob
	sender     *Sender
	logger     *slog.Logger
	wg         sync.WaitGroup
}

func NewPool(numWorkers int, sender *Sender, logger *slog.Logger) *Pool {
	return &Pool{
		numWorkers: numWorkers,
		jobs:       make(chan notify.NotificationJob, numWorkers*2),
		sender:     sender,
		logger:     logger,
	}
}

// Start launches all worker goroutines. They read from the jobs channel
// until it is closed or the context is cancelled.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	p.logger.Info("worker pool started", "num_workers", p.numWorkers)
}

// Submit sends a job to the worker pool via the jobs channel.
func (p *Pool) Submit(job notify.NotificationJob) {
	p.jobs <- job
}

// Stop closes the jobs channel and waits for all workers to finish.
func (p *Pool) Stop() {
	close(p.jobs)
	p.wg.Wait()
	p.logger.Info("worker pool stopped")
}

func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()

	for job := range p.jobs {
		select {
		case <-ctx.Done():
			return
		default:
			p.sender.Send(ctx, job)
		}
	}
}
