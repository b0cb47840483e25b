package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/reverse-image-archiver/internal/capture"
)

func TestRecordCaptureInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewCaptureStore(mock, "")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	artifact := "artifacts/run-1/screenshot_20231114_221320_001.pdf"
	uri := "gs://bucket/" + artifact
	hash := "abc123"
	res := capture.CaptureResult{
		RunID:       "run-1",
		Index:       1,
		Timestamp:   now,
		URL:         "https://example.com",
		Artifact:    artifact,
		ArtifactURI: uri,
		ContentHash: hash,
		PageCount:   3,
	}

	mock.ExpectExec("INSERT INTO captures").
		WithArgs("run-1", 1, now, "https://example.com", &artifact, &uri, (*string)(nil), &hash, 3).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Observe(context.Background(), res))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordCaptureFailureRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewCaptureStore(mock, "archive_captures")
	require.NoError(t, err)

	errText := "print to pdf: crashed"
	mock.ExpectExec("INSERT INTO archive_captures").
		WithArgs("run-1", 2, pgxmock.AnyArg(), "https://b.test", (*string)(nil), (*string)(nil), &errText, (*string)(nil), 0).
		WillReturnError(errors.New("connection reset"))

	err = store.RecordCapture(context.Background(), capture.CaptureResult{RunID: "run-1", Index: 2, URL: "https://b.test", Error: errText})
	require.ErrorContains(t, err, "connection reset")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCaptureStoreValidation(t *testing.T) {
	t.Parallel()

	_, err := NewCaptureStore(nil, "")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewCaptureStore(mock, "captures; DROP TABLE x")
	require.ErrorContains(t, err, "invalid table name")

	store, err := NewCaptureStore(mock, "")
	require.NoError(t, err)
	require.ErrorContains(t, store.RecordCapture(context.Background(), capture.CaptureResult{}), "run id is required")

	var nilStore *CaptureStore
	require.Error(t, nilStore.RecordCapture(context.Background(), capture.CaptureResult{RunID: "r"}))
}

func TestConnectRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := Connect(context.Background(), Config{})
	require.ErrorContains(t, err, "db.dsn")
}

func TestRunStoreLifecycle(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRunStore(mock, "")
	require.NoError(t, err)

	start := time.Unix(1700000000, 0).UTC()
	end := start.Add(time.Minute)
	manifestURI := "gs://bucket/results.csv"

	mock.ExpectExec("INSERT INTO capture_runs").
		WithArgs("run-1", start, RunRunning, 4).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE capture_runs").
		WithArgs(end, "completed", (*string)(nil), &manifestURI, "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.StartRun(context.Background(), "run-1", start, 4))
	require.NoError(t, store.CompleteRun(context.Background(), "run-1", end, "completed", "", manifestURI))
	require.NoError(t, mock.ExpectationsWereMet())
}
