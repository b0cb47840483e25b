// Package archiver turns a URL into PDF bytes through a rendering session.
package archiver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/reverse-image-archiver/internal/capture"
	"github.com/JakeFAU/reverse-image-archiver/internal/metrics"
	"github.com/JakeFAU/reverse-image-archiver/internal/policy/ratelimit"
)

const (
	defaultNavigationTimeout = 60 * time.Second
	defaultSettleDelay       = 5 * time.Second
)

var errEmptyPDF = errors.New("engine returned an empty pdf")

// Config controls archiver timing.
type Config struct {
	// NavigationTimeout is a soft deadline: exceeding it stops the page load
	// and the capture continues with the partial document.
	NavigationTimeout time.Duration
	// SettleDelay is waited after navigation so deferred content can render.
	SettleDelay time.Duration
	// ExportTimeout bounds the PDF export. Zero means no bound.
	ExportTimeout time.Duration
	// DomainQPS caps navigations per host. Zero disables the limit.
	DomainQPS float64
}

// Archiver navigates a session to a URL and exports the document as PDF.
type Archiver struct {
	cfg     Config
	logger  *zap.Logger
	sleep   func(ctx context.Context, d time.Duration) error
	limiter *ratelimit.Limiter
}

// New constructs an Archiver. Zero durations fall back to the defaults; a
// negative SettleDelay disables the settle wait.
func New(cfg Config, logger *zap.Logger) *Archiver {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavigationTimeout
	}
	if cfg.SettleDelay == 0 {
		cfg.SettleDelay = defaultSettleDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Archiver{
		cfg:    cfg,
		logger: logger,
		sleep:  sleepContext,
	}
	if cfg.DomainQPS > 0 {
		a.limiter = ratelimit.New(ratelimit.Config{RPS: cfg.DomainQPS})
	}
	return a
}

// Archive loads url in session and returns the exported PDF. Navigation
// problems are recovered locally; only an export failure yields an error,
// always as a *capture.ArchiveError.
func (a *Archiver) Archive(ctx context.Context, session capture.Session, url string) ([]byte, error) {
	if err := a.waitDomainBudget(ctx, url); err != nil {
		return nil, &capture.ArchiveError{URL: url, Err: err}
	}
	a.navigate(ctx, session, url)

	if a.cfg.SettleDelay > 0 {
		if err := a.sleep(ctx, a.cfg.SettleDelay); err != nil {
			return nil, &capture.ArchiveError{URL: url, Err: fmt.Errorf("settle wait: %w", err)}
		}
	}

	a.logger.Debug("generating pdf", zap.String("url", url))
	exportCtx := ctx
	if a.cfg.ExportTimeout > 0 {
		var cancel context.CancelFunc
		exportCtx, cancel = context.WithTimeout(ctx, a.cfg.ExportTimeout)
		defer cancel()
	}
	pdf, err := session.PrintToPDF(exportCtx)
	if err != nil {
		return nil, &capture.ArchiveError{URL: url, Err: fmt.Errorf("print to pdf: %w", err)}
	}
	if len(pdf) == 0 {
		return nil, &capture.ArchiveError{URL: url, Err: errEmptyPDF}
	}
	return pdf, nil
}

func (a *Archiver) navigate(ctx context.Context, session capture.Session, url string) {
	a.logger.Info("navigating", zap.String("url", url))
	navCtx, cancel := context.WithTimeout(ctx, a.cfg.NavigationTimeout)
	defer cancel()

	err := session.Navigate(navCtx, url)
	if err == nil {
		return
	}
	if isTimeout(err) && ctx.Err() == nil {
		metrics.ObserveNavigationTimeout()
		a.logger.Warn("page load timeout; stopping page load",
			zap.String("url", url),
			zap.Duration("budget", a.cfg.NavigationTimeout),
		)
	} else {
		a.logger.Error("navigation failed; stopping page load", zap.String("url", url), zap.Error(err))
	}

	// The navigation context may already be expired, so stop on the parent.
	if stopErr := session.StopLoading(ctx); stopErr != nil {
		a.logger.Error("unable to stop page load", zap.String("url", url), zap.Error(stopErr))
	}
}

func (a *Archiver) waitDomainBudget(ctx context.Context, url string) error {
	if a.limiter == nil {
		return nil
	}
	if err := a.limiter.Wait(ctx, url); err != nil {
		return fmt.Errorf("wait domain budget: %w", err)
	}
	return nil
}

func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, capture.ErrNavigationTimeout)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("sleep canceled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
