// Package browser starts rendering sessions on a headless Chromium, driven
// either by chromedp or by go-rod.
package browser

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/reverse-image-archiver/internal/capture"
)

// Supported engines.
const (
	EngineChromedp = "chromedp"
	EngineRod      = "rod"
)

// Config controls how the browser process is started.
type Config struct {
	Engine     string
	Headless   bool
	NoSandbox  bool
	DisableGPU bool
	UserAgent  string
	// RemoteURL attaches to an already running browser instead of launching one.
	RemoteURL string
	// ExecPath overrides the Chromium binary.
	ExecPath string
	// Stealth applies go-rod/stealth evasions. Only honored by the rod engine.
	Stealth bool
}

// NewFactory returns the SessionFactory for cfg.Engine.
func NewFactory(cfg Config, logger *zap.Logger) (capture.SessionFactory, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Engine)) {
	case "", EngineChromedp:
		return NewChromedpFactory(cfg, logger.Named("chromedp")), nil
	case EngineRod:
		return NewRodFactory(cfg, logger.Named("rod")), nil
	default:
		return nil, fmt.Errorf("unsupported browser engine %q", cfg.Engine)
	}
}

// forwardCancel cancels when parent finishes, until the returned stop func runs.
func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil || parent.Done() == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
