package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/reverse-image-archiver/internal/analyzer/vision"
	"github.com/JakeFAU/reverse-image-archiver/internal/api"
	"github.com/JakeFAU/reverse-image-archiver/internal/archiver"
	"github.com/JakeFAU/reverse-image-archiver/internal/browser"
	"github.com/JakeFAU/reverse-image-archiver/internal/capture"
	"github.com/JakeFAU/reverse-image-archiver/internal/clock/system"
	"github.com/JakeFAU/reverse-image-archiver/internal/config"
	"github.com/JakeFAU/reverse-image-archiver/internal/hash/sha256"
	idgen "github.com/JakeFAU/reverse-image-archiver/internal/id/uuid"
	"github.com/JakeFAU/reverse-image-archiver/internal/manifest"
	"github.com/JakeFAU/reverse-image-archiver/internal/orchestrator"
	"github.com/JakeFAU/reverse-image-archiver/internal/pdfinfo"
	"github.com/JakeFAU/reverse-image-archiver/internal/pipeline"
	"github.com/JakeFAU/reverse-image-archiver/internal/publisher"
	pubsubpublisher "github.com/JakeFAU/reverse-image-archiver/internal/publisher/pubsub"
	gcsstore "github.com/JakeFAU/reverse-image-archiver/internal/storage/gcs"
	localstore "github.com/JakeFAU/reverse-image-archiver/internal/storage/local"
	memorystore "github.com/JakeFAU/reverse-image-archiver/internal/storage/memory"
	"github.com/JakeFAU/reverse-image-archiver/internal/storage/postgres"
)

// services holds everything main needs plus the resources to release.
type services struct {
	pipeline  *pipeline.Pipeline
	readiness []api.Option
	closers   []func() error
}

func (s *services) Close(logger *zap.Logger) {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			logger.Warn("shutdown cleanup failed", zap.Error(err))
		}
	}
}

func build(ctx context.Context, cfg config.Config, logger *zap.Logger) (svc *services, err error) {
	svc = &services{}
	defer func() {
		if err != nil {
			svc.Close(logger)
			svc = nil
		}
	}()

	blobStore, err := buildBlobStore(ctx, cfg, svc)
	if err != nil {
		return nil, err
	}

	analyzer, err := vision.New(ctx, vision.Config{
		CredentialsFile: cfg.Vision.CredentialsFile,
		Endpoint:        cfg.Vision.Endpoint,
		MaxResults:      cfg.Vision.MaxResults,
	}, logger.Named("vision"))
	if err != nil {
		return nil, fmt.Errorf("init analyzer: %w", err)
	}

	sessions, err := browser.NewFactory(browser.Config{
		Engine:     cfg.Browser.Engine,
		Headless:   cfg.Browser.Headless,
		NoSandbox:  cfg.Browser.NoSandbox,
		DisableGPU: cfg.Browser.DisableGPU,
		UserAgent:  cfg.Browser.UserAgent,
		RemoteURL:  cfg.Browser.RemoteURL,
		ExecPath:   cfg.Browser.ExecPath,
		Stealth:    cfg.Browser.Stealth,
	}, logger.Named("browser"))
	if err != nil {
		return nil, fmt.Errorf("init browser: %w", err)
	}

	arch := archiver.New(archiver.Config{
		NavigationTimeout: cfg.NavigationTimeout(),
		SettleDelay:       settleDelay(cfg),
		ExportTimeout:     cfg.ExportTimeout(),
		DomainQPS:         cfg.Capture.DomainQPS,
	}, logger.Named("archiver"))

	var (
		observers    []capture.Observer
		pipelineOpts []pipeline.Option
	)

	if cfg.PubSub.ProjectID != "" {
		pub, err := pubsubpublisher.Connect(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("init pubsub: %w", err)
		}
		svc.closers = append(svc.closers, pub.Close)
		observers = append(observers, publisher.NewNotifier(pub, cfg.PubSub.TopicName))
		logger.Info("pubsub notifications enabled", zap.String("topic", cfg.PubSub.TopicName))
	}

	if cfg.DB.DSN != "" {
		pool, err := postgres.Connect(ctx, postgres.Config{DSN: cfg.DB.DSN, MaxConns: cfg.DB.MaxConns})
		if err != nil {
			return nil, fmt.Errorf("init postgres: %w", err)
		}
		svc.closers = append(svc.closers, func() error { pool.Close(); return nil })
		captures, err := postgres.NewCaptureStore(pool, cfg.DB.Table)
		if err != nil {
			return nil, fmt.Errorf("init capture store: %w", err)
		}
		runs, err := postgres.NewRunStore(pool, cfg.DB.RunTable)
		if err != nil {
			return nil, fmt.Errorf("init run store: %w", err)
		}
		observers = append(observers, captures)
		pipelineOpts = append(pipelineOpts, pipeline.WithRunRecorder(runs))
		svc.readiness = append(svc.readiness, api.WithReadinessCheck("postgres", pingCheck(pool)))
		logger.Info("postgres persistence enabled", zap.String("table", cfg.DB.Table), zap.String("run_table", cfg.DB.RunTable))
	}

	orch := orchestrator.New(
		sessions,
		arch,
		blobStore,
		system.New(),
		orchestrator.Config{ArtifactPrefix: cfg.Capture.ArtifactPrefix},
		logger.Named("orchestrator"),
		orchestrator.WithHasher(sha256.New()),
		orchestrator.WithPageCounter(pdfinfo.New()),
		orchestrator.WithObservers(observers...),
	)

	manifests := manifest.New(blobStore, manifest.Config{
		Name:   cfg.Manifest.Name,
		PerRun: cfg.Manifest.PerRun,
	}, logger.Named("manifest"))

	svc.pipeline = pipeline.New(analyzer, orch, manifests, idgen.New(), logger.Named("pipeline"), pipelineOpts...)
	return svc, nil
}

func buildBlobStore(ctx context.Context, cfg config.Config, svc *services) (capture.BlobStore, error) {
	switch cfg.Storage.Backend {
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		svc.closers = append(svc.closers, client.Close)
		store, err := gcsstore.New(client, gcsstore.Config{Bucket: cfg.Storage.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("init gcs store: %w", err)
		}
		return store, nil
	case "memory":
		return memorystore.NewBlobStore(), nil
	case "local", "":
		store, err := localstore.New(localstore.Config{BaseDir: cfg.Storage.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("init local store: %w", err)
		}
		return store, nil
	default:
		return nil, errors.New("unknown storage backend " + cfg.Storage.Backend)
	}
}

// settleDelay maps a configured zero to the archiver's "disabled" value.
func settleDelay(cfg config.Config) time.Duration {
	if d := cfg.SettleDelay(); d > 0 {
		return d
	}
	return -1
}

func pingCheck(pool *pgxpool.Pool) api.ReadinessCheck {
	return func(ctx context.Context) error {
		if err := pool.Ping(ctx); err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}
		return nil
	}
}
