// Package dispatcher manages worker fan-out over the job queue.
package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/reverse-image-archiver/internal/capture"
	"github.com/JakeFAU/reverse-image-archiver/internal/worker"
)

// Dispatcher fans out queue work to a pool of workers.
type Dispatcher struct {
	queue   capture.Queue
	jobs    capture.JobStore
	workers []*worker.Worker
}

// New creates a Dispatcher.
func New(queue capture.Queue, jobs capture.JobStore, workers []*worker.Worker) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		jobs:    jobs,
		workers: workers,
	}
}

// Run starts all workers and blocks until the context finishes.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, item capture.QueueItem) error {
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}

// Submit registers a queued job for image and enqueues it. A job that cannot
// be enqueued is marked failed.
func (d *Dispatcher) Submit(ctx context.Context, jobID string, image []byte) (capture.Job, error) {
	job := capture.Job{
		ID:      jobID,
		Status:  capture.JobStatusQueued,
		Created: time.Now().UTC(),
	}
	if err := d.jobs.CreateJob(ctx, job); err != nil {
		return capture.Job{}, fmt.Errorf("create job: %w", err)
	}
	if err := d.Enqueue(ctx, capture.QueueItem{JobID: jobID, Image: image}); err != nil {
		if updErr := d.jobs.UpdateJobStatus(context.WithoutCancel(ctx), jobID, capture.JobStatusFailed, err.Error()); updErr != nil {
			return capture.Job{}, fmt.Errorf("%w (mark failed: %v)", err, updErr)
		}
		return capture.Job{}, err
	}
	return job, nil
}
