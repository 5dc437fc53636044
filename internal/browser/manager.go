// internal/browser/manager.go
package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/widgetprobe/internal/browser/cdp"
	"github.com/xkilldash9x/widgetprobe/internal/config"
)

const shutdownGracePeriod = 15 * time.Second

// Manager owns the Chrome process and hands out tabs. The browser is launched
// lazily by the first NewPage call.
type Manager struct {
	logger *zap.Logger
	cfg    config.BrowserConfig

	mu            sync.Mutex
	allocCtx      context.Context
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	pages         map[*cdp.Page]struct{}
	closed        bool
}

// NewManager creates a manager. Nothing is started until the first page is requested.
func NewManager(cfg config.BrowserConfig, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		logger: logger.Named("browser_manager"),
		cfg:    cfg,
		pages:  make(map[*cdp.Page]struct{}),
	}
}

// DefaultAllocatorOptions maps the browser configuration to exec allocator flags.
func DefaultAllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("enable-automation", true),
		chromedp.Flag("headless", cfg.Headless),
	}
	if cfg.Headless {
		opts = append(opts, chromedp.Flag("hide-scrollbars", true), chromedp.Flag("mute-audio", true))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	if cfg.IgnoreTLSErrors {
		opts = append(opts,
			chromedp.Flag("ignore-certificate-errors", true),
			chromedp.Flag("allow-insecure-localhost", true),
		)
	}
	if w, h := cfg.Viewport["width"], cfg.Viewport["height"]; w > 0 && h > 0 {
		opts = append(opts, chromedp.WindowSize(w, h))
	}
	// "--key=value" sets a valued flag, "--key" a boolean one.
	for _, arg := range cfg.Args {
		key, value, found := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if key == "" {
			continue
		}
		if found {
			opts = append(opts, chromedp.Flag(key, value))
		} else {
			opts = append(opts, chromedp.Flag(key, true))
		}
	}
	return opts
}

// start launches the browser once. Caller holds mu.
func (m *Manager) start() error {
	if m.browserCtx != nil {
		return nil
	}
	m.logger.Info("Launching browser.", zap.Bool("headless", m.cfg.Headless))
	m.allocCtx, m.allocCancel = chromedp.NewExecAllocator(context.Background(), DefaultAllocatorOptions(m.cfg)...)
	m.browserCtx, m.browserCancel = chromedp.NewContext(m.allocCtx,
		chromedp.WithLogf(m.logger.Sugar().Debugf),
		chromedp.WithErrorf(m.logger.Sugar().Debugf),
	)
	// An empty Run starts the browser process.
	if err := chromedp.Run(m.browserCtx); err != nil {
		m.browserCancel()
		m.allocCancel()
		m.browserCtx, m.allocCtx = nil, nil
		return fmt.Errorf("failed to launch browser: %w", err)
	}
	return nil
}

// NewPage opens a new tab. Close the page, or shut the manager down, to release it.
func (m *Manager) NewPage(ctx context.Context) (*cdp.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, fmt.Errorf("browser manager is shut down")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := m.start(); err != nil {
		return nil, err
	}
	page, err := cdp.New(m.browserCtx, m.logger, cdp.WithNavigationTimeout(m.cfg.NavigationTimeout))
	if err != nil {
		return nil, fmt.Errorf("failed to open tab: %w", err)
	}
	m.pages[page] = struct{}{}
	m.logger.Debug("New tab opened.", zap.Int("open_tabs", len(m.pages)))
	return page, nil
}

// Release closes a tab opened by NewPage. The browser keeps running.
func (m *Manager) Release(page *cdp.Page) error {
	m.mu.Lock()
	_, owned := m.pages[page]
	delete(m.pages, page)
	m.mu.Unlock()
	if !owned {
		return nil
	}
	return page.Close()
}

// Shutdown closes every open tab and the browser process. It is safe to call
// more than once.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	pages := make([]*cdp.Page, 0, len(m.pages))
	for p := range m.pages {
		pages = append(pages, p)
	}
	m.pages = nil
	browserCtx, browserCancel, allocCancel := m.browserCtx, m.browserCancel, m.allocCancel
	m.mu.Unlock()

	if browserCtx == nil {
		m.logger.Debug("Browser never launched, nothing to shut down.")
		return nil
	}
	m.logger.Info("Shutting down browser.", zap.Int("open_tabs", len(pages)))
	for _, p := range pages {
		if err := p.Close(); err != nil {
			m.logger.Warn("Error closing tab during shutdown.", zap.Error(err))
		}
	}

	done := make(chan error, 1)
	go func() { done <- chromedp.Cancel(browserCtx) }()

	var shutdownErr error
	select {
	case err := <-done:
		if err != nil {
			shutdownErr = fmt.Errorf("failed to close browser: %w", err)
		}
	case <-ctx.Done():
		m.logger.Warn("Timed out closing the browser gracefully; killing it.", zap.Error(ctx.Err()))
	case <-time.After(shutdownGracePeriod):
		m.logger.Warn("Browser did not close within the grace period; killing it.")
	}
	browserCancel()
	allocCancel()
	return shutdownErr
}
