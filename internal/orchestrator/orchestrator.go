// Package orchestrator drives one capture run: a single rendering session
// walks every candidate URL in order and each outcome is recorded as it lands.
package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/reverse-image-archiver/internal/capture"
	"github.com/JakeFAU/reverse-image-archiver/internal/metrics"
)

// PDFContentType is the content type of stored artifacts.
const PDFContentType = "application/pdf"

// Run outcome labels.
const (
	outcomeCompleted     = "completed"
	outcomeSessionFailed = "session_failed"
	outcomeCanceled      = "canceled"
	outcomeManifestError = "manifest_failed"
)

var tracer = otel.Tracer("github.com/JakeFAU/reverse-image-archiver/internal/orchestrator")

// Archiver exports one URL through an open session.
type Archiver interface {
	Archive(ctx context.Context, session capture.Session, url string) ([]byte, error)
}

// Config controls artifact naming.
type Config struct {
	// ArtifactPrefix is the leading path segment of every artifact name.
	ArtifactPrefix string
}

// Orchestrator owns the per-run capture loop.
type Orchestrator struct {
	sessions  capture.SessionFactory
	archiver  Archiver
	blobStore capture.BlobStore
	hasher    capture.Hasher
	pages     capture.PageCounter
	clock     capture.Clock
	observers []capture.Observer
	cfg       Config
	logger    *zap.Logger
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithHasher records a content digest for every stored artifact.
func WithHasher(h capture.Hasher) Option {
	return func(o *Orchestrator) { o.hasher = h }
}

// WithPageCounter records the page count of every stored artifact.
func WithPageCounter(p capture.PageCounter) Option {
	return func(o *Orchestrator) { o.pages = p }
}

// WithObservers registers observers notified after each result.
func WithObservers(observers ...capture.Observer) Option {
	return func(o *Orchestrator) {
		for _, obs := range observers {
			if obs != nil {
				o.observers = append(o.observers, obs)
			}
		}
	}
}

// New constructs an Orchestrator.
func New(
	sessions capture.SessionFactory,
	archiver Archiver,
	blobStore capture.BlobStore,
	clock capture.Clock,
	cfg Config,
	logger *zap.Logger,
	opts ...Option,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		sessions:  sessions,
		archiver:  archiver,
		blobStore: blobStore,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ArtifactName returns the deterministic artifact path for the index-th
// (1-based) URL of runID captured at ts. The index keeps names distinct when
// several captures share a second.
func (o *Orchestrator) ArtifactName(runID string, index int, ts time.Time) string {
	name := fmt.Sprintf("screenshot_%s_%03d.pdf", ts.Format(capture.NameLayout), index)
	parts := make([]string, 0, 3)
	if prefix := strings.Trim(o.cfg.ArtifactPrefix, "/"); prefix != "" {
		parts = append(parts, prefix)
	}
	if runID != "" {
		parts = append(parts, runID)
	}
	parts = append(parts, name)
	return strings.Join(parts, "/")
}

// Run captures every URL in req using one session. Results are appended to
// sink (which may be nil) as soon as they are produced. The returned Run
// always carries every result produced so far, even alongside an error.
//
// A session failure stops the loop and surfaces as *capture.SessionError.
// A sink failure does not stop the loop; it is returned as
// *capture.ManifestError once every URL has been processed.
func (o *Orchestrator) Run(ctx context.Context, req capture.RunRequest, sink capture.ResultSink) (capture.Run, error) {
	manifest := &capture.Manifest{}
	run := capture.Run{
		RunID:         req.RunID,
		ExtractedText: req.Text,
		Manifest:      manifest,
		StartedAt:     o.now(),
	}
	logger := o.logger.With(zap.String("run_id", req.RunID))

	if len(req.URLs) == 0 {
		manifest.Finalize()
		run.FinishedAt = run.StartedAt
		return run, capture.ErrNoCandidates
	}

	session, err := o.sessions.Open(ctx)
	if err != nil {
		manifest.Finalize()
		run.FinishedAt = o.now()
		metrics.ObserveRun(outcomeSessionFailed)
		logger.Error("failed to open rendering session", zap.Error(err))
		return run, &capture.SessionError{Err: err}
	}
	metrics.IncActiveSessions()
	defer func() {
		metrics.DecActiveSessions()
		if closeErr := session.Close(); closeErr != nil {
			logger.Warn("failed to close rendering session", zap.Error(closeErr))
		}
	}()

	logger.Info("capture run started", zap.Int("urls", len(req.URLs)))

	var (
		runErr  error
		sinkErr error
	)
	for i, url := range req.URLs {
		if err := ctx.Err(); err != nil {
			runErr = fmt.Errorf("run canceled after %d of %d urls: %w", i, len(req.URLs), err)
			logger.Warn("capture run canceled", zap.Int("processed", i))
			break
		}
		if err := session.Healthy(); err != nil {
			runErr = &capture.SessionError{Err: err}
			logger.Error("rendering session unusable; stopping run", zap.Int("processed", i), zap.Error(err))
			break
		}

		urlCtx, span := tracer.Start(ctx, "orchestrator.capture", trace.WithAttributes(
			attribute.String("run.id", req.RunID),
			attribute.Int("capture.index", i+1),
			attribute.String("url.full", url),
		))
		result := o.captureOne(urlCtx, session, req.RunID, i+1, url)
		manifest.Append(result)

		if sink != nil && sinkErr == nil {
			if err := sink.Record(urlCtx, result); err != nil {
				sinkErr = err
				logger.Error("manifest append failed; later rows will not be written",
					zap.Int("index", result.Index), zap.Error(err))
			}
		}
		o.notify(urlCtx, logger, result)
		if result.Error != "" {
			span.SetStatus(codes.Error, result.Error)
		} else {
			span.SetAttributes(attribute.String("capture.artifact", result.Artifact))
		}
		span.End()
	}

	manifest.Finalize()
	run.FinishedAt = o.now()

	switch {
	case errors.Is(runErr, context.Canceled), errors.Is(runErr, context.DeadlineExceeded):
		metrics.ObserveRun(outcomeCanceled)
	case runErr != nil:
		metrics.ObserveRun(outcomeSessionFailed)
	case sinkErr != nil:
		metrics.ObserveRun(outcomeManifestError)
	default:
		metrics.ObserveRun(outcomeCompleted)
	}
	logger.Info("capture run finished",
		zap.Int("results", manifest.Len()),
		zap.Duration("elapsed", run.FinishedAt.Sub(run.StartedAt)),
	)

	if sinkErr != nil {
		sinkErr = &capture.ManifestError{Err: sinkErr}
	}
	return run, errors.Join(runErr, sinkErr)
}

func (o *Orchestrator) captureOne(
	ctx context.Context,
	session capture.Session,
	runID string,
	index int,
	url string,
) capture.CaptureResult {
	started := time.Now()
	ts := o.now()
	result := capture.CaptureResult{
		RunID:     runID,
		Index:     index,
		Timestamp: ts,
		URL:       url,
	}
	logger := o.logger.With(zap.String("run_id", runID), zap.Int("index", index), zap.String("url", url))
	site := metrics.SanitizeSite(url)

	pdf, err := o.archiver.Archive(ctx, session, url)
	if err != nil {
		result.Error = err.Error()
		logger.Error("capture failed", zap.Error(err))
		metrics.ObserveCapture(site, string(capture.StatusFailed), 0, time.Since(started))
		return result
	}

	name := o.ArtifactName(runID, index, ts)
	uri, err := o.blobStore.PutObject(ctx, name, PDFContentType, bytes.NewReader(pdf))
	if err != nil {
		result.Error = fmt.Sprintf("store artifact %s: %v", name, err)
		logger.Error("failed to store artifact", zap.String("artifact", name), zap.Error(err))
		metrics.ObserveCapture(site, string(capture.StatusFailed), 0, time.Since(started))
		return result
	}
	result.Artifact = name
	result.ArtifactURI = uri

	if o.hasher != nil {
		digest, err := o.hasher.Hash(pdf)
		if err != nil {
			logger.Warn("failed to hash artifact", zap.String("artifact", name), zap.Error(err))
		} else {
			result.ContentHash = digest
		}
	}
	if o.pages != nil {
		count, err := o.pages.PageCount(pdf)
		if err != nil {
			logger.Warn("failed to count artifact pages", zap.String("artifact", name), zap.Error(err))
		} else {
			result.PageCount = count
		}
	}

	metrics.ObserveCapture(site, string(capture.StatusArchived), len(pdf), time.Since(started))
	logger.Info("page archived",
		zap.String("artifact", name),
		zap.Int("bytes", len(pdf)),
		zap.Int("pages", result.PageCount),
	)
	return result
}

func (o *Orchestrator) notify(ctx context.Context, logger *zap.Logger, result capture.CaptureResult) {
	for _, obs := range o.observers {
		if err := obs.Observe(ctx, result); err != nil {
			logger.Warn("capture observer failed", zap.Int("index", result.Index), zap.Error(err))
		}
	}
}

func (o *Orchestrator) now() time.Time {
	if o.clock == nil {
		return time.Now().UTC()
	}
	return o.clock.Now().UTC()
}
