package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/reverse-image-archiver/internal/config"
	localstore "github.com/JakeFAU/reverse-image-archiver/internal/storage/local"
	memorystore "github.com/JakeFAU/reverse-image-archiver/internal/storage/memory"
)

func TestBuildBlobStore(t *testing.T) {
	t.Parallel()

	svc := &services{}
	cfg := config.Config{Storage: config.StorageConfig{Backend: "memory"}}
	store, err := buildBlobStore(context.Background(), cfg, svc)
	require.NoError(t, err)
	require.IsType(t, &memorystore.BlobStore{}, store)

	cfg.Storage = config.StorageConfig{Backend: "local", BaseDir: t.TempDir()}
	store, err = buildBlobStore(context.Background(), cfg, svc)
	require.NoError(t, err)
	require.IsType(t, &localstore.BlobStore{}, store)

	cfg.Storage = config.StorageConfig{Backend: "s3"}
	_, err = buildBlobStore(context.Background(), cfg, svc)
	require.Error(t, err)
	require.Empty(t, svc.closers)
}

func TestSettleDelay(t *testing.T) {
	t.Parallel()

	cfg := config.Config{Capture: config.CaptureConfig{SettleDelaySeconds: 5}}
	require.Equal(t, 5*time.Second, settleDelay(cfg))

	cfg.Capture.SettleDelaySeconds = 0
	require.Negative(t, settleDelay(cfg))
}
