package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/reverse-image-archiver/internal/capture"
	"github.com/JakeFAU/reverse-image-archiver/internal/config"
	"github.com/JakeFAU/reverse-image-archiver/internal/metrics"
	idgen "github.com/JakeFAU/reverse-image-archiver/internal/id/uuid"
)

const (
	uploadField         = "file"
	multipartMemory     = 8 << 20
	defaultMaxUpload    = 20 << 20
	jobRequestTimeout   = 30 * time.Second
	readinessTimeout    = 3 * time.Second
	analysisErrorPrefix = "Error in reverse image search: "
)

var errNoFile = errors.New("no file uploaded")

// Processor runs the synchronous upload pipeline.
type Processor interface {
	Process(ctx context.Context, image []byte) (capture.Report, error)
}

// Submitter queues images for asynchronous processing.
type Submitter interface {
	Submit(ctx context.Context, jobID string, image []byte) (capture.Job, error)
}

// ReadinessCheck reports whether a downstream dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

// Server wires HTTP handlers to the pipeline, dispatcher, and stores.
type Server struct {
	router    chi.Router
	processor Processor
	submitter Submitter
	jobStore  capture.JobStore
	idGen     capture.IDGenerator
	cfg       config.Config
	logger    *zap.Logger
	checks    map[string]ReadinessCheck
}

// Option customizes a Server.
type Option func(*Server)

// WithReadinessCheck adds a named dependency check to /readyz.
func WithReadinessCheck(name string, check ReadinessCheck) Option {
	return func(s *Server) {
		if check != nil {
			s.checks[name] = check
		}
	}
}

// NewServer constructs a Server with middleware and routes. A nil submitter
// disables the /v1/jobs routes.
func NewServer(
	processor Processor,
	submitter Submitter,
	jobStore capture.JobStore,
	idGen capture.IDGenerator,
	cfg config.Config,
	logger *zap.Logger,
	opts ...Option,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		processor: processor,
		submitter: submitter,
		jobStore:  jobStore,
		idGen:     idGen,
		cfg:       cfg,
		logger:    logger,
		checks:    make(map[string]ReadinessCheck),
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		// Captures take at least settle delay per URL, so /upload carries no
		// request timeout.
		r.Post("/upload", s.upload)

		if submitter != nil {
			r.Route("/v1/jobs", func(r chi.Router) {
				r.Use(timeoutMiddleware(jobRequestTimeout))
				r.Post("/", s.submitJob)
				r.Route("/{job_id}", func(r chi.Router) {
					r.Get("/status", s.getJobStatus)
					r.Get("/result", s.getJobResult)
				})
			})
		}
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()
	failed := make(map[string]string)
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		s.logger.Warn("readiness check failed", zap.Any("checks", failed))
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "checks": failed})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) upload(w http.ResponseWriter, r *http.Request) {
	image, status, err := s.readImage(w, r)
	if err != nil {
		s.writeDetail(w, status, err.Error())
		return
	}

	// A client disconnect must not abandon a half-written manifest.
	report, err := s.processor.Process(context.WithoutCancel(r.Context()), image)
	if err != nil {
		var analysisErr *capture.AnalysisError
		if errors.As(err, &analysisErr) {
			s.writeDetail(w, http.StatusInternalServerError, analysisErrorPrefix+analysisErr.Err.Error())
			return
		}
		s.logger.Error("upload processing failed",
			zap.String("run_id", report.RunID),
			zap.Int("results", len(report.Results)),
			zap.Error(err),
		)
		s.writeJSON(w, http.StatusInternalServerError, processingFailure{
			Detail:  err.Error(),
			Partial: report,
		})
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	image, status, err := s.readImage(w, r)
	if err != nil {
		s.writeDetail(w, status, err.Error())
		return
	}
	jobID, err := s.idGen.NewID()
	if err != nil {
		s.writeDetail(w, http.StatusInternalServerError, fmt.Sprintf("generate job id: %v", err))
		return
	}
	job, err := s.submitter.Submit(r.Context(), jobID, image)
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) {
			code = http.StatusRequestTimeout
		}
		s.logger.Error("job submission failed", zap.String("job_id", jobID), zap.Error(err))
		s.writeDetail(w, code, err.Error())
		return
	}
	s.logger.Info("job queued", zap.String("job_id", job.ID), zap.Int("image_bytes", len(image)))
	s.writeJSON(w, http.StatusAccepted, map[string]string{"job_id": job.ID})
}

func (s *Server) getJobStatus(w http.ResponseWriter, r *http.Request) {
	job, ok := s.lookupJob(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) getJobResult(w http.ResponseWriter, r *http.Request) {
	job, ok := s.lookupJob(w, r)
	if !ok {
		return
	}
	if !job.Status.Terminal() {
		s.writeJSON(w, http.StatusConflict, map[string]any{"job": job, "detail": "job not finished"})
		return
	}
	s.writeJSON(w, http.StatusOK, jobResult{Job: job, Report: job.Report})
}

func (s *Server) lookupJob(w http.ResponseWriter, r *http.Request) (capture.Job, bool) {
	jobID := chi.URLParam(r, "job_id")
	if !idgen.Valid(jobID) {
		s.writeDetail(w, http.StatusBadRequest, "invalid job id")
		return capture.Job{}, false
	}
	job, err := s.jobStore.GetJob(r.Context(), jobID)
	if err != nil {
		s.writeDetail(w, http.StatusNotFound, "job not found")
		return capture.Job{}, false
	}
	return job, true
}

// readImage extracts the uploaded file bytes and the status to use on failure.
func (s *Server) readImage(w http.ResponseWriter, r *http.Request) ([]byte, int, error) {
	limit := s.cfg.Capture.MaxUploadBytes
	if limit <= 0 {
		limit = defaultMaxUpload
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, http.StatusRequestEntityTooLarge, fmt.Errorf("upload exceeds %d bytes", limit)
		}
		if !errors.Is(err, http.ErrNotMultipart) && !errors.Is(err, http.ErrMissingBoundary) {
			return nil, http.StatusBadRequest, fmt.Errorf("parse upload: %w", err)
		}
	}
	file, _, err := r.FormFile(uploadField)
	if err != nil {
		return nil, http.StatusBadRequest, errNoFile
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			s.logger.Warn("failed to close upload", zap.Error(closeErr))
		}
	}()
	image, err := io.ReadAll(file)
	if err != nil {
		return nil, http.StatusInternalServerError, fmt.Errorf("read upload: %w", err)
	}
	if len(image) == 0 {
		return nil, http.StatusBadRequest, errNoFile
	}
	return image, http.StatusOK, nil
}

type processingFailure struct {
	Detail  string         `json:"detail"`
	Partial capture.Report `json:"partial"`
}

type jobResult struct {
	Job    capture.Job     `json:"job"`
	Report *capture.Report `json:"report,omitempty"`
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("request_id", requestID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						zap.String("request_id", requestID(r.Context())),
						zap.Any("error", rec),
						zap.Stack("stack"),
					)
					writeJSON(logger, w, http.StatusInternalServerError, map[string]string{"detail": "internal server error"})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeJSON(zap.NewNop(), w, http.StatusForbidden, map[string]string{"detail": "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	writeJSON(s.logger, w, status, payload)
}

func (s *Server) writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(s.logger, w, status, map[string]string{"detail": detail})
}

func writeJSON(logger *zap.Logger, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("write JSON failed", zap.Error(err))
	}
}
