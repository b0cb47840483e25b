// Package pipeline connects image analysis to the capture run and its manifest.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/reverse-image-archiver/internal/capture"
	"github.com/JakeFAU/reverse-image-archiver/internal/manifest"
)

// Report messages.
const (
	MessageNoMatches = "No matching URLs found."
	MessageComplete  = "Processing complete."
)

// Run statuses passed to a RunRecorder.
const (
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

var tracer = otel.Tracer("github.com/JakeFAU/reverse-image-archiver/internal/pipeline")

// RunRecorder tracks run lifecycle outside the manifest.
type RunRecorder interface {
	StartRun(ctx context.Context, runID string, startedAt time.Time, urlCount int) error
	CompleteRun(ctx context.Context, runID string, finishedAt time.Time, status, errMsg, manifestURI string) error
}

// Runner executes one capture run.
type Runner interface {
	Run(ctx context.Context, req capture.RunRequest, sink capture.ResultSink) (capture.Run, error)
}

// ManifestOpener opens a streaming manifest for a run.
type ManifestOpener interface {
	Open(ctx context.Context, runID string) (*manifest.Stream, error)
}

// Pipeline runs analyze, capture, and manifest for one uploaded image.
type Pipeline struct {
	analyzer  capture.Analyzer
	runner    Runner
	manifests ManifestOpener
	ids       capture.IDGenerator
	recorder  RunRecorder
	logger    *zap.Logger
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithRunRecorder records each run's start and completion. Recorder failures
// are logged and never fail the run.
func WithRunRecorder(r RunRecorder) Option {
	return func(p *Pipeline) { p.recorder = r }
}

// New constructs a Pipeline.
func New(
	analyzer capture.Analyzer,
	runner Runner,
	manifests ManifestOpener,
	ids capture.IDGenerator,
	logger *zap.Logger,
	opts ...Option,
) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pipeline{
		analyzer:  analyzer,
		runner:    runner,
		manifests: manifests,
		ids:       ids,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process analyzes image and archives every matching page. An analyzer
// failure is returned as *capture.AnalysisError with no results. With zero
// matches no session is opened and no manifest is created. Session and
// manifest failures are returned together with the partial Report.
func (p *Pipeline) Process(ctx context.Context, image []byte) (capture.Report, error) {
	runID, err := p.ids.NewID()
	if err != nil {
		return capture.Report{}, fmt.Errorf("generate run id: %w", err)
	}
	return p.ProcessRun(ctx, runID, image)
}

// ProcessRun is Process with a caller-chosen run ID.
func (p *Pipeline) ProcessRun(ctx context.Context, runID string, image []byte) (capture.Report, error) {
	ctx, span := tracer.Start(ctx, "pipeline.process", trace.WithAttributes(
		attribute.String("run.id", runID),
		attribute.Int("image.bytes", len(image)),
	))
	defer span.End()

	report, err := p.processRun(ctx, runID, image)
	span.SetAttributes(attribute.Int("capture.results", len(report.Results)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return report, err
}

func (p *Pipeline) processRun(ctx context.Context, runID string, image []byte) (capture.Report, error) {
	logger := p.logger.With(zap.String("run_id", runID))
	if sc := trace.SpanContextFromContext(ctx); sc.IsSampled() {
		logger = logger.With(zap.String("trace_id", sc.TraceID().String()))
	}

	analysis, err := p.analyzer.Analyze(ctx, image)
	if err != nil {
		var analysisErr *capture.AnalysisError
		if !errors.As(err, &analysisErr) {
			err = &capture.AnalysisError{Err: err}
		}
		logger.Error("image analysis failed", zap.Error(err))
		return capture.Report{Results: []capture.ReportRow{}}, err
	}

	if len(analysis.URLs) == 0 {
		logger.Info("no matching urls found")
		return capture.Report{
			Message:       MessageNoMatches,
			ExtractedText: analysis.Text,
			Results:       []capture.ReportRow{},
		}, nil
	}
	logger.Info("image analyzed", zap.Int("urls", len(analysis.URLs)), zap.Int("text_len", len(analysis.Text)))

	p.recordStart(ctx, logger, runID, len(analysis.URLs))

	stream, err := p.manifests.Open(ctx, runID)
	if err != nil {
		logger.Error("failed to open manifest", zap.Error(err))
		err = &capture.ManifestError{Err: err}
		p.recordCompletion(ctx, logger, runID, "", err)
		return capture.Report{
			RunID:         runID,
			ExtractedText: analysis.Text,
			Results:       []capture.ReportRow{},
		}, err
	}

	run, runErr := p.runner.Run(ctx, capture.RunRequest{
		RunID: runID,
		URLs:  analysis.URLs,
		Text:  analysis.Text,
	}, stream)

	uri, closeErr := stream.Close()
	if closeErr != nil {
		logger.Error("failed to finalize manifest", zap.Error(closeErr))
		closeErr = &capture.ManifestError{Err: closeErr}
	}

	results := run.Results()
	resp := capture.Report{
		Message:         MessageComplete,
		RunID:           runID,
		ExtractedText:   run.ExtractedText,
		Results:         make([]capture.ReportRow, 0, len(results)),
		ManifestURI:     uri,
		ManifestCreated: true,
	}
	for _, r := range results {
		resp.Results = append(resp.Results, capture.NewReportRow(r))
	}
	err = errors.Join(runErr, closeErr)
	p.recordCompletion(ctx, logger, runID, uri, err)
	return resp, err
}

func (p *Pipeline) recordStart(ctx context.Context, logger *zap.Logger, runID string, urls int) {
	if p.recorder == nil {
		return
	}
	if err := p.recorder.StartRun(ctx, runID, time.Now().UTC(), urls); err != nil {
		logger.Warn("failed to record run start", zap.Error(err))
	}
}

func (p *Pipeline) recordCompletion(ctx context.Context, logger *zap.Logger, runID, manifestURI string, runErr error) {
	if p.recorder == nil {
		return
	}
	status, errMsg := RunStatusCompleted, ""
	if runErr != nil {
		status, errMsg = RunStatusFailed, runErr.Error()
	}
	if err := p.recorder.CompleteRun(ctx, runID, time.Now().UTC(), status, errMsg, manifestURI); err != nil {
		logger.Warn("failed to record run completion", zap.Error(err))
	}
}
