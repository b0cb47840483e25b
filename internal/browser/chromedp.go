package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/reverse-image-archiver/internal/capture"
)

// ChromedpFactory opens sessions driven by chromedp.
type ChromedpFactory struct {
	cfg    Config
	logger *zap.Logger
}

// NewChromedpFactory constructs a ChromedpFactory.
func NewChromedpFactory(cfg Config, logger *zap.Logger) *ChromedpFactory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChromedpFactory{cfg: cfg, logger: logger}
}

func (f *ChromedpFactory) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", f.cfg.Headless),
		chromedp.Flag("disable-gpu", f.cfg.DisableGPU),
		chromedp.Flag("hide-scrollbars", true),
	)
	if f.cfg.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	if f.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(f.cfg.UserAgent))
	}
	if f.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(f.cfg.ExecPath))
	}
	return opts
}

// Open starts a browser (or attaches to RemoteURL) and opens one tab. The
// session outlives ctx; ctx only bounds startup.
func (f *ChromedpFactory) Open(ctx context.Context) (capture.Session, error) {
	var (
		allocCtx    context.Context
		allocCancel context.CancelFunc
	)
	if f.cfg.RemoteURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(context.Background(), f.cfg.RemoteURL)
	} else {
		allocCtx, allocCancel = chromedp.NewExecAllocator(context.Background(), f.allocatorOptions()...)
	}
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	warmupCtx, warmupCancel := context.WithCancel(tabCtx)
	stop := forwardCancel(ctx, warmupCancel)
	err := chromedp.Run(warmupCtx, f.setupAction())
	stop()
	warmupCancel()
	if err != nil {
		tabCancel()
		allocCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}
	f.logger.Info("rendering session opened", zap.Bool("remote", f.cfg.RemoteURL != ""))

	return &chromedpSession{
		tabCtx:      tabCtx,
		tabCancel:   tabCancel,
		allocCancel: allocCancel,
		logger:      f.logger,
	}, nil
}

func (f *ChromedpFactory) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if f.cfg.RemoteURL == "" || f.cfg.UserAgent == "" {
			return nil
		}
		if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
			return fmt.Errorf("set user-agent: %w", err)
		}
		return nil
	})
}

type chromedpSession struct {
	tabCtx      context.Context
	tabCancel   context.CancelFunc
	allocCancel context.CancelFunc
	logger      *zap.Logger

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
	closeErr  error
}

// within runs actions on the tab, bounded by ctx's deadline and cancellation.
func (s *chromedpSession) within(ctx context.Context, actions ...chromedp.Action) error {
	if err := s.Healthy(); err != nil {
		return err
	}
	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if deadline, ok := ctx.Deadline(); ok {
		runCtx, cancel = context.WithDeadline(s.tabCtx, deadline)
	} else {
		runCtx, cancel = context.WithCancel(s.tabCtx)
	}
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
	}
	return err
}

func (s *chromedpSession) Navigate(ctx context.Context, url string) error {
	if err := s.within(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate %s: %w", url, timeoutCause(ctx, err))
	}
	return nil
}

func (s *chromedpSession) StopLoading(ctx context.Context) error {
	if err := s.within(ctx, page.StopLoading()); err != nil {
		return fmt.Errorf("stop loading: %w", err)
	}
	return nil
}

func (s *chromedpSession) PrintToPDF(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := s.within(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		data, _, err := page.PrintToPDF().WithPrintBackground(true).Do(ctx)
		if err != nil {
			return err
		}
		buf = data
		return nil
	}))
	if err != nil {
		return nil, err
	}
	return buf, nil
}

func (s *chromedpSession) Healthy() error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return capture.ErrSessionClosed
	}
	if err := s.tabCtx.Err(); err != nil {
		return fmt.Errorf("browser context ended: %w", err)
	}
	return nil
}

func (s *chromedpSession) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		if err := chromedp.Cancel(s.tabCtx); err != nil && !errors.Is(err, context.Canceled) {
			s.closeErr = fmt.Errorf("close browser: %w", err)
		}
		s.tabCancel()
		s.allocCancel()
		s.logger.Info("rendering session closed")
	})
	return s.closeErr
}
