package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/reverse-image-archiver/internal/capture"
	queuememory "github.com/JakeFAU/reverse-image-archiver/internal/queue/memory"
	"github.com/JakeFAU/reverse-image-archiver/internal/storage/memory"
)

func TestWorker_ProcessJob_SuccessFlow(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queue := queuememory.NewQueue(1)
	jobs := memory.NewJobStore()
	require.NoError(t, jobs.CreateJob(ctx, capture.Job{ID: "job-1"}))
	proc := &fakeProcessor{report: capture.Report{
		Message: "Processing complete.",
		RunID:   "job-1",
		Results: []capture.ReportRow{{URL: "https://a.test", Status: capture.StatusArchived}},
	}}

	w := New(queue, jobs, proc, zap.NewNop())
	go w.Run(ctx)

	require.NoError(t, queue.Enqueue(ctx, capture.QueueItem{JobID: "job-1", Image: []byte("img")}))

	require.Eventually(t, func() bool {
		job, err := jobs.GetJob(ctx, "job-1")
		return err == nil && job.Status == capture.JobStatusSucceeded
	}, time.Second, 10*time.Millisecond)

	job, err := jobs.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.NotNil(t, job.Report)
	require.Len(t, job.Report.Results, 1)
	require.NotNil(t, job.Started)
	require.Equal(t, []string{"job-1"}, proc.runIDs())
}

func TestWorker_ProcessJob_FailureKeepsPartialReport(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queue := queuememory.NewQueue(1)
	jobs := memory.NewJobStore()
	require.NoError(t, jobs.CreateJob(ctx, capture.Job{ID: "job-2"}))
	proc := &fakeProcessor{
		report: capture.Report{Results: []capture.ReportRow{{URL: "https://a.test"}}},
		err:    &capture.SessionError{Err: errors.New("browser crashed")},
	}

	go New(queue, jobs, proc, nil).Run(ctx)
	require.NoError(t, queue.Enqueue(ctx, capture.QueueItem{JobID: "job-2"}))

	require.Eventually(t, func() bool {
		job, err := jobs.GetJob(ctx, "job-2")
		return err == nil && job.Status == capture.JobStatusFailed
	}, time.Second, 10*time.Millisecond)

	job, _ := jobs.GetJob(ctx, "job-2")
	require.Contains(t, job.ErrorText, "browser crashed")
	require.NotNil(t, job.Report)
	require.NotNil(t, job.Finished)
}

func TestWorker_NoProcessorFailsJob(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	jobs := memory.NewJobStore()
	require.NoError(t, jobs.CreateJob(ctx, capture.Job{ID: "job-3"}))

	New(nil, jobs, nil, nil).processJob(ctx, capture.QueueItem{JobID: "job-3"})

	job, err := jobs.GetJob(ctx, "job-3")
	require.NoError(t, err)
	require.Equal(t, capture.JobStatusFailed, job.Status)
	require.Equal(t, "no processor configured", job.ErrorText)
}

func TestWorker_RunStopsWhenQueueCloses(t *testing.T) {
	t.Parallel()

	queue := queuememory.NewQueue(1)
	done := make(chan struct{})
	go func() {
		New(queue, memory.NewJobStore(), &fakeProcessor{}, nil).Run(context.Background())
		close(done)
	}()
	queue.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after queue close")
	}
}

type fakeProcessor struct {
	mu     sync.Mutex
	report capture.Report
	err    error
	ids    []string
}

func (f *fakeProcessor) ProcessRun(_ context.Context, runID string, _ []byte) (capture.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, runID)
	return f.report, f.err
}

func (f *fakeProcessor) runIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ids...)
}
