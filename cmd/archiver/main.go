package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/reverse-image-archiver/internal/api"
	"github.com/JakeFAU/reverse-image-archiver/internal/config"
	"github.com/JakeFAU/reverse-image-archiver/internal/dispatcher"
	idgen "github.com/JakeFAU/reverse-image-archiver/internal/id/uuid"
	"github.com/JakeFAU/reverse-image-archiver/internal/logging"
	"github.com/JakeFAU/reverse-image-archiver/internal/metrics"
	queueMemory "github.com/JakeFAU/reverse-image-archiver/internal/queue/memory"
	storeMemory "github.com/JakeFAU/reverse-image-archiver/internal/storage/memory"
	"github.com/JakeFAU/reverse-image-archiver/internal/telemetry"
	"github.com/JakeFAU/reverse-image-archiver/internal/worker"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	imagePath := flag.String("image", "", "Process a single image file and exit")
	flag.Parse()

	if err := run(*cfgPath, *imagePath); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func run(cfgPath, imagePath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config failed: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("logger init failed: %w", err)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Init()
	if cfg.Tracing.Enabled {
		tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
			ServiceName: logging.Service,
			SampleRatio: cfg.Tracing.SampleRatio,
		})
		if err != nil {
			logger.Error("tracing init failed", zap.Error(err))
		} else {
			defer func() {
				if err := tp.Shutdown(context.Background()); err != nil {
					logger.Warn("tracer shutdown failed", zap.Error(err))
				}
			}()
		}
	}

	svc, err := build(ctx, cfg, logger)
	if err != nil {
		logger.Error("service init failed", zap.Error(err))
		return err
	}
	defer svc.Close(logger)

	if imagePath != "" {
		return runOnce(ctx, svc, imagePath)
	}
	return serve(ctx, stop, cfg, svc, logger)
}

// runOnce processes a single image and prints the report as JSON.
func runOnce(ctx context.Context, svc *services, path string) error {
	image, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read image: %w", err)
	}
	report, runErr := svc.pipeline.Process(ctx, image)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return runErr
}

func serve(ctx context.Context, stop context.CancelFunc, cfg config.Config, svc *services, logger *zap.Logger) error {
	jobStore := storeMemory.NewJobStore()
	queue := queueMemory.NewQueue(cfg.Worker.QueueDepth)
	ids := idgen.New()

	workers := make([]*worker.Worker, 0, cfg.Worker.Concurrency)
	for i := 0; i < cfg.Worker.Concurrency; i++ {
		workers = append(workers, worker.New(
			queue,
			jobStore,
			svc.pipeline,
			logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	dispatch := dispatcher.New(queue, jobStore, workers)

	apiServer := api.NewServer(svc.pipeline, dispatch, jobStore, ids, cfg, logger.Named("api"), svc.readiness...)

	port := cfg.Server.Port
	if envPort := os.Getenv("PORT"); envPort != "" {
		if _, err := fmt.Sscanf(envPort, "%d", &port); err != nil {
			logger.Warn("ignoring invalid PORT", zap.String("port", envPort))
			port = cfg.Server.Port
		}
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		logger.Info("dispatcher started", zap.Int("workers", len(workers)))
		dispatch.Run(ctx)
	}()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	queue.Close()
	<-dispatchDone
	logger.Info("shutdown complete")

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}
