package browser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"go.uber.org/zap"

	"github.com/JakeFAU/reverse-image-archiver/internal/capture"
)

const rodHealthTimeout = 5 * time.Second

// RodFactory opens sessions driven by go-rod.
type RodFactory struct {
	cfg    Config
	logger *zap.Logger
}

// NewRodFactory constructs a RodFactory.
func NewRodFactory(cfg Config, logger *zap.Logger) *RodFactory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RodFactory{cfg: cfg, logger: logger}
}

func (f *RodFactory) launcher() *launcher.Launcher {
	l := launcher.New().Headless(f.cfg.Headless).NoSandbox(f.cfg.NoSandbox)
	if f.cfg.DisableGPU {
		l = l.Set("disable-gpu")
	}
	if f.cfg.ExecPath != "" {
		l = l.Bin(f.cfg.ExecPath)
	}
	return l
}

// Open launches Chromium (or attaches to RemoteURL) and creates one page.
func (f *RodFactory) Open(ctx context.Context) (capture.Session, error) {
	var (
		controlURL = f.cfg.RemoteURL
		lnch       *launcher.Launcher
	)
	if controlURL == "" {
		lnch = f.launcher()
		u, err := lnch.Context(ctx).Launch()
		if err != nil {
			return nil, fmt.Errorf("rod launch: %w", err)
		}
		controlURL = u
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		cleanupLauncher(lnch)
		return nil, fmt.Errorf("rod connect: %w", err)
	}

	p, err := f.newPage(b)
	if err != nil {
		_ = b.Close()
		cleanupLauncher(lnch)
		return nil, err
	}
	f.logger.Info("rendering session opened", zap.Bool("remote", f.cfg.RemoteURL != ""), zap.Bool("stealth", f.cfg.Stealth))
	return &rodSession{browser: b, page: p, launcher: lnch, logger: f.logger}, nil
}

func (f *RodFactory) newPage(b *rod.Browser) (*rod.Page, error) {
	var (
		p   *rod.Page
		err error
	)
	if f.cfg.Stealth {
		p, err = stealth.Page(b)
	} else {
		p, err = b.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return nil, fmt.Errorf("rod create page: %w", err)
	}
	if f.cfg.UserAgent != "" {
		if err := p.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: f.cfg.UserAgent}); err != nil {
			return nil, fmt.Errorf("rod set user-agent: %w", err)
		}
	}
	return p, nil
}

func cleanupLauncher(l *launcher.Launcher) {
	if l == nil {
		return
	}
	l.Kill()
	l.Cleanup()
}

type rodSession struct {
	browser  *rod.Browser
	page     *rod.Page
	launcher *launcher.Launcher
	logger   *zap.Logger

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
	closeErr  error
}

func (s *rodSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *rodSession) Navigate(ctx context.Context, url string) error {
	if s.isClosed() {
		return capture.ErrSessionClosed
	}
	p := s.page.Context(ctx)
	if err := p.Navigate(url); err != nil {
		return fmt.Errorf("navigate %s: %w", url, timeoutCause(ctx, err))
	}
	if err := p.WaitLoad(); err != nil {
		return fmt.Errorf("wait load %s: %w", url, timeoutCause(ctx, err))
	}
	return nil
}

func (s *rodSession) StopLoading(ctx context.Context) error {
	if s.isClosed() {
		return capture.ErrSessionClosed
	}
	if err := s.page.Context(ctx).StopLoading(); err != nil {
		return fmt.Errorf("stop loading: %w", err)
	}
	return nil
}

func (s *rodSession) PrintToPDF(ctx context.Context) ([]byte, error) {
	if s.isClosed() {
		return nil, capture.ErrSessionClosed
	}
	r, err := s.page.Context(ctx).PDF(&proto.PagePrintToPDF{PrintBackground: true})
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read pdf stream: %w", err)
	}
	return data, nil
}

func (s *rodSession) Healthy() error {
	if s.isClosed() {
		return capture.ErrSessionClosed
	}
	if _, err := (proto.BrowserGetVersion{}).Call(s.browser.Timeout(rodHealthTimeout)); err != nil {
		return fmt.Errorf("browser unreachable: %w", err)
	}
	return nil
}

func (s *rodSession) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		if err := s.browser.Close(); err != nil {
			s.closeErr = fmt.Errorf("close browser: %w", err)
		}
		cleanupLauncher(s.launcher)
		s.logger.Info("rendering session closed")
	})
	return s.closeErr
}

// timeoutCause labels err as a navigation timeout once ctx's deadline has passed.
// Only navigation calls use it.
func timeoutCause(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", capture.ErrNavigationTimeout, context.DeadlineExceeded)
	}
	return err
}
