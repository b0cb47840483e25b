// Package manifest serializes capture results as the run's CSV record.
package manifest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/reverse-image-archiver/internal/capture"
)

// ContentType of the manifest object.
const ContentType = "text/csv; charset=utf-8"

// DefaultName is the manifest object name when none is configured.
const DefaultName = "results.csv"

// Header is the fixed column set of every manifest.
var Header = []string{"timestamp", "url", "artifact_name_or_error"}

var errStreamClosed = errors.New("manifest stream closed")

// Config controls where manifests are written.
type Config struct {
	// Name is the object name. It is overwritten by each run unless PerRun is set,
	// and only one stream holds it at a time.
	Name string
	// PerRun nests the manifest under the run ID.
	PerRun bool
	// Prefix is prepended to every manifest path.
	Prefix string
}

// Writer creates manifest streams in a BlobStore.
type Writer struct {
	store  capture.BlobStore
	cfg    Config
	logger *zap.Logger
	// shared is held by the open stream while every run writes the same object.
	shared chan struct{}
}

// New constructs a Writer.
func New(store capture.BlobStore, cfg Config, logger *zap.Logger) *Writer {
	if strings.TrimSpace(cfg.Name) == "" {
		cfg.Name = DefaultName
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &Writer{store: store, cfg: cfg, logger: logger}
	if !cfg.PerRun {
		w.shared = make(chan struct{}, 1)
	}
	return w
}

// Path returns the object path of runID's manifest.
func (w *Writer) Path(runID string) string {
	parts := []string{strings.Trim(w.cfg.Prefix, "/")}
	if w.cfg.PerRun && runID != "" {
		parts = append(parts, runID)
	}
	parts = append(parts, w.cfg.Name)
	return strings.TrimPrefix(path.Join(parts...), "/")
}

// Open creates the manifest object for runID and writes the header row.
// Without PerRun, Open waits until the previous stream is closed so that
// overlapping runs never write the shared object at the same time.
func (w *Writer) Open(ctx context.Context, runID string) (*Stream, error) {
	objPath := w.Path(runID)
	logger := w.logger.With(zap.String("run_id", runID), zap.String("manifest", objPath))
	release, err := w.acquire(ctx, logger)
	if err != nil {
		return nil, fmt.Errorf("wait for manifest %s: %w", objPath, err)
	}
	obj, err := w.store.Create(ctx, objPath, ContentType)
	if err != nil {
		release()
		return nil, fmt.Errorf("create manifest %s: %w", objPath, err)
	}
	s := &Stream{
		obj:     obj,
		csv:     csv.NewWriter(obj),
		path:    objPath,
		release: release,
		logger:  logger,
	}
	if err := s.writeRow(Header); err != nil {
		if closeErr := obj.Close(); closeErr != nil {
			s.logger.Warn("failed to close manifest after header failure", zap.Error(closeErr))
		}
		release()
		return nil, fmt.Errorf("write manifest header: %w", err)
	}
	return s, nil
}

func (w *Writer) acquire(ctx context.Context, logger *zap.Logger) (func(), error) {
	if w.shared == nil {
		return func() {}, nil
	}
	select {
	case w.shared <- struct{}{}:
	default:
		logger.Info("waiting for shared manifest")
		select {
		case w.shared <- struct{}{}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return func() { <-w.shared }, nil
}

// Persist writes a complete manifest in one pass and returns its URI.
func (w *Writer) Persist(ctx context.Context, runID string, m *capture.Manifest) (string, error) {
	s, err := w.Open(ctx, runID)
	if err != nil {
		return "", err
	}
	for _, result := range m.Results() {
		if err := s.Record(ctx, result); err != nil {
			if _, closeErr := s.Close(); closeErr != nil {
				s.logger.Warn("failed to close manifest after row failure", zap.Error(closeErr))
			}
			return "", err
		}
	}
	return s.Close()
}

// Stream appends rows to one open manifest. It implements capture.ResultSink.
// Callers must Close every stream; a shared-name stream blocks the next Open until then.
//
// Each row is flushed to the object writer as it is recorded. On the local
// store that makes rows durable as they arrive. Object stores such as GCS only
// publish the object when Close commits the upload, so a crash mid-run leaves
// the previous manifest in place there rather than a partial one.
type Stream struct {
	mu      sync.Mutex
	obj     capture.ObjectWriter
	csv     *csv.Writer
	path    string
	rows    int
	closed  bool
	release func()
	logger  *zap.Logger
}

type syncer interface {
	Sync() error
}

// Record appends one result row and flushes it to the underlying object.
func (s *Stream) Record(_ context.Context, result capture.CaptureResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errStreamClosed
	}
	if err := s.writeRow(Row(result)); err != nil {
		return fmt.Errorf("append manifest row: %w", err)
	}
	s.rows++
	return nil
}

// Rows returns the number of result rows written, header excluded.
func (s *Stream) Rows() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows
}

// Path returns the manifest object path.
func (s *Stream) Path() string {
	return s.path
}

// Close finalizes the manifest and returns its URI.
func (s *Stream) Close() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return s.obj.URI(), nil
	}
	s.closed = true
	defer s.release()
	s.csv.Flush()
	flushErr := s.csv.Error()
	if err := s.obj.Close(); err != nil {
		return "", fmt.Errorf("close manifest: %w", err)
	}
	if flushErr != nil {
		return "", fmt.Errorf("flush manifest: %w", flushErr)
	}
	s.logger.Info("manifest written", zap.Int("rows", s.rows), zap.String("uri", s.obj.URI()))
	return s.obj.URI(), nil
}

func (s *Stream) writeRow(row []string) error {
	if err := s.csv.Write(row); err != nil {
		return fmt.Errorf("write row: %w", err)
	}
	s.csv.Flush()
	if err := s.csv.Error(); err != nil {
		return fmt.Errorf("flush row: %w", err)
	}
	if sy, ok := s.obj.(syncer); ok {
		if err := sy.Sync(); err != nil {
			return err
		}
	}
	return nil
}

// Row renders result as a manifest row.
func Row(result capture.CaptureResult) []string {
	return []string{result.DisplayTime(), result.URL, result.ArtifactOrError()}
}
