// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/reverse-image-archiver/internal/capture"
)

const (
	defaultCaptureTable = "captures"
	defaultRunTable     = "capture_runs"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	Table           string
	RunTable        string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// Connect opens a pool for cfg.
func Connect(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return pool, nil
}

func tableOrDefault(table, fallback string) (string, error) {
	if table == "" {
		table = fallback
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// CaptureStore writes one row per capture result.
type CaptureStore struct {
	pool  execCloser
	table string
}

// NewCaptureStore creates a store on an existing pool.
func NewCaptureStore(pool execCloser, table string) (*CaptureStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := tableOrDefault(table, defaultCaptureTable)
	if err != nil {
		return nil, err
	}
	return &CaptureStore{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *CaptureStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// RecordCapture inserts a capture row. A repeated (run_id, idx) overwrites
// the earlier row.
func (s *CaptureStore) RecordCapture(ctx context.Context, result capture.CaptureResult) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("capture store is not configured")
	}
	if result.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	run_id,
	idx,
	captured_at,
	url,
	artifact,
	artifact_uri,
	error_text,
	content_hash,
	page_count
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9
)
ON CONFLICT (run_id, idx) DO UPDATE SET
	captured_at = EXCLUDED.captured_at,
	url = EXCLUDED.url,
	artifact = EXCLUDED.artifact,
	artifact_uri = EXCLUDED.artifact_uri,
	error_text = EXCLUDED.error_text,
	content_hash = EXCLUDED.content_hash,
	page_count = EXCLUDED.page_count`, s.table)

	args := []any{
		result.RunID,
		result.Index,
		result.Timestamp,
		result.URL,
		nullable(result.Artifact),
		nullable(result.ArtifactURI),
		nullable(result.Error),
		nullable(result.ContentHash),
		result.PageCount,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert capture: %w", err)
	}
	return nil
}

// Observe implements capture.Observer.
func (s *CaptureStore) Observe(ctx context.Context, result capture.CaptureResult) error {
	return s.RecordCapture(ctx, result)
}

func nullable(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
