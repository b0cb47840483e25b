package postgres

import (
	"context"
	"fmt"
	"time"
)

// RunRunning is the status of a run that has started but not completed.
const RunRunning = "running"

// RunStore tracks the lifecycle of capture runs.
type RunStore struct {
	pool  execCloser
	table string
}

// NewRunStore creates a RunStore on an existing pool.
func NewRunStore(pool execCloser, table string) (*RunStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := tableOrDefault(table, defaultRunTable)
	if err != nil {
		return nil, err
	}
	return &RunStore{pool: pool, table: table}, nil
}

// StartRun records a run as running.
func (s *RunStore) StartRun(ctx context.Context, runID string, startedAt time.Time, urlCount int) error {
	query := fmt.Sprintf(`
INSERT INTO %s (run_id, started_at, status, url_count)
VALUES ($1, $2, $3, $4)
ON CONFLICT (run_id) DO UPDATE
SET status = EXCLUDED.status, started_at = EXCLUDED.started_at, url_count = EXCLUDED.url_count`, s.table)
	if _, err := s.pool.Exec(ctx, query, runID, startedAt, RunRunning, urlCount); err != nil {
		return fmt.Errorf("upsert run start: %w", err)
	}
	return nil
}

// CompleteRun records a run's final status. errMsg is empty on success.
func (s *RunStore) CompleteRun(
	ctx context.Context,
	runID string,
	finishedAt time.Time,
	status string,
	errMsg string,
	manifestURI string,
) error {
	query := fmt.Sprintf(`
UPDATE %s
SET finished_at = $1, status = $2, error_message = $3, manifest_uri = $4
WHERE run_id = $5`, s.table)
	if _, err := s.pool.Exec(ctx, query, finishedAt, status, nullable(errMsg), nullable(manifestURI), runID); err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	return nil
}
