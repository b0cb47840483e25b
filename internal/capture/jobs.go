package capture

import (
	"context"
	"time"
)

// JobStatus is the lifecycle state of an asynchronous archive job.
type JobStatus string

// Job status values.
const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether no further transitions are expected.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed
}

// Job is an uploaded image queued for asynchronous processing.
type Job struct {
	ID        string     `json:"job_id"`
	Status    JobStatus  `json:"status"`
	ErrorText string     `json:"error,omitempty"`
	Created   time.Time  `json:"created_at"`
	Started   *time.Time `json:"started_at,omitempty"`
	Finished  *time.Time `json:"finished_at,omitempty"`
	Report    *Report    `json:"-"`
}

// QueueItem carries a job and its image to a worker.
type QueueItem struct {
	JobID string
	Image []byte
}

// Queue is the work queue between the API and workers.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// JobStore persists job state and results.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errText string) error
	SaveReport(ctx context.Context, jobID string, report Report) error
	GetJob(ctx context.Context, jobID string) (Job, error)
}
