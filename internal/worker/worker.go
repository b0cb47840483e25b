// Package worker executes queued archive jobs.
package worker

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/JakeFAU/reverse-image-archiver/internal/capture"
	"github.com/JakeFAU/reverse-image-archiver/internal/queue/memory"
)

// Processor runs the full pipeline for one image under a given run ID.
type Processor interface {
	ProcessRun(ctx context.Context, runID string, image []byte) (capture.Report, error)
}

// Worker consumes queue items and executes the archive pipeline.
type Worker struct {
	queue     capture.Queue
	jobStore  capture.JobStore
	processor Processor
	logger    *zap.Logger
}

// New constructs a Worker.
func New(
	queue capture.Queue,
	jobStore capture.JobStore,
	processor Processor,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:     queue,
		jobStore:  jobStore,
		processor: processor,
		logger:    logger,
	}
}

// Run blocks, consuming queue items until the context finishes or the queue
// is closed.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, memory.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", item.JobID))
		w.processJob(ctx, item)
	}
}

func (w *Worker) processJob(ctx context.Context, item capture.QueueItem) {
	logger := w.logger.With(zap.String("job_id", item.JobID))
	if w.processor == nil {
		logger.Error("no processor configured")
		w.setStatus(ctx, logger, item.JobID, capture.JobStatusFailed, "no processor configured")
		return
	}
	if err := w.jobStore.UpdateJobStatus(ctx, item.JobID, capture.JobStatusRunning, ""); err != nil {
		logger.Error("update job status failed", zap.Error(err))
		return
	}

	report, runErr := w.processor.ProcessRun(ctx, item.JobID, item.Image)
	if err := w.jobStore.SaveReport(ctx, item.JobID, report); err != nil {
		logger.Error("save job report failed", zap.Error(err))
	}

	status, errText := capture.JobStatusSucceeded, ""
	if runErr != nil {
		status, errText = capture.JobStatusFailed, runErr.Error()
		logger.Error("job failed", zap.Error(runErr), zap.Int("results", len(report.Results)))
	} else {
		logger.Info("job succeeded", zap.Int("results", len(report.Results)))
	}
	w.setStatus(ctx, logger, item.JobID, status, errText)
}

func (w *Worker) setStatus(ctx context.Context, logger *zap.Logger, jobID string, status capture.JobStatus, errText string) {
	if err := w.jobStore.UpdateJobStatus(ctx, jobID, status, errText); err != nil {
		logger.Error("final job status update failed", zap.Error(err))
	}
}
