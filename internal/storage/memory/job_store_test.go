package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/reverse-image-archiver/internal/capture"
)

func TestJobStoreLifecycle(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()
	job := capture.Job{ID: "job-1"}

	require.NoError(t, store.CreateJob(ctx, job))
	require.Error(t, store.CreateJob(ctx, job), "expected duplicate job error")

	got, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, capture.JobStatusQueued, got.Status)
	require.False(t, got.Created.IsZero())

	require.NoError(t, store.UpdateJobStatus(ctx, job.ID, capture.JobStatusRunning, ""))
	got, _ = store.GetJob(ctx, job.ID)
	require.NotNil(t, got.Started)
	require.Nil(t, got.Finished)

	report := capture.Report{
		Message: "Processing complete.",
		Results: []capture.ReportRow{{URL: "https://example.com", Status: capture.StatusArchived}},
	}
	require.NoError(t, store.SaveReport(ctx, job.ID, report))
	report.Results[0].URL = "modified"

	require.NoError(t, store.UpdateJobStatus(ctx, job.ID, capture.JobStatusSucceeded, ""))
	final, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, capture.JobStatusSucceeded, final.Status)
	require.NotNil(t, final.Finished)
	require.NotNil(t, final.Report)
	require.Equal(t, "https://example.com", final.Report.Results[0].URL, "expected SaveReport to copy rows")
}

func TestJobStoreUnknownJob(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()
	_, err := store.GetJob(ctx, "missing")
	require.ErrorIs(t, err, ErrJobNotFound)
	require.ErrorIs(t, store.UpdateJobStatus(ctx, "missing", capture.JobStatusFailed, "x"), ErrJobNotFound)
	require.ErrorIs(t, store.SaveReport(ctx, "missing", capture.Report{}), ErrJobNotFound)
}
