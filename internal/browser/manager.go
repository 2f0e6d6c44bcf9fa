// File: internal/browser/manager.go
package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/webpilot/internal/config"
)

const (
	browserStartTimeout = 60 * time.Second
	shutdownGracePeriod = 15 * time.Second
)

// Manager owns the Chrome process and hands out isolated sessions. The
// process is launched lazily on the first session request so that commands
// which never touch a page (version, logs) stay browser-free.
type Manager struct {
	logger *zap.Logger
	cfg    *config.Config

	allocCtx      context.Context
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	controllerCtx context.Context

	sessions map[string]*Session
	mu       sync.RWMutex
	wg       sync.WaitGroup

	// Serializes target/browser-context creation; chromedp misroutes
	// attach events when targets are created concurrently.
	createMu sync.Mutex

	initOnce sync.Once
	initErr  error
}

// NewManager creates a new browser manager. Chrome is not started until the
// first session is requested.
func NewManager(cfg *config.Config, logger *zap.Logger) *Manager {
	m := &Manager{
		logger:   logger.Named("browser_manager"),
		cfg:      cfg,
		sessions: make(map[string]*Session),
	}
	m.logger.Debug("Browser manager created (launch deferred).")
	return m
}

// DefaultAllocatorOptions builds the chromedp exec allocator options for the
// given browser configuration.
func DefaultAllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.Flag("disable-dev-shm-usage", true),
	}

	if cfg.Headless {
		opts = append(opts, chromedp.Headless)
	}
	if cfg.WindowWidth > 0 && cfg.WindowHeight > 0 {
		opts = append(opts, chromedp.WindowSize(cfg.WindowWidth, cfg.WindowHeight))
	}
	if cfg.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(cfg.UserDataDir))
	}
	if cfg.IgnoreTLSErrors {
		opts = append(opts,
			chromedp.Flag("ignore-certificate-errors", true),
			chromedp.Flag("allow-insecure-localhost", true),
		)
	}

	// Extra flags from the config file's 'args' slice. key=value arguments
	// are split; bare arguments become boolean flags.
	for _, arg := range cfg.Args {
		arg = strings.TrimLeft(arg, "-")
		key, value, found := strings.Cut(arg, "=")
		if found {
			opts = append(opts, chromedp.Flag(key, value))
		} else {
			opts = append(opts, chromedp.Flag(key, true))
		}
	}
	return opts
}

// initialize launches the Chrome process and attaches the browser-level CDP
// connection used for target management.
func (m *Manager) initialize(ctx context.Context) error {
	m.initOnce.Do(func() {
		m.logger.Info("Launching browser...",
			zap.Bool("headless", m.cfg.Browser.Headless),
			zap.Int("window_width", m.cfg.Browser.WindowWidth),
			zap.Int("window_height", m.cfg.Browser.WindowHeight))

		m.allocCtx, m.allocCancel = chromedp.NewExecAllocator(context.Background(), DefaultAllocatorOptions(m.cfg.Browser)...)
		m.browserCtx, m.browserCancel = chromedp.NewContext(m.allocCtx)

		// Force the process to start now so launch failures surface here
		// instead of inside the first page operation.
		startCtx, cancel := context.WithTimeout(ctx, browserStartTimeout)
		defer cancel()
		runCtx, runCancel := CombineContext(m.browserCtx, startCtx)
		defer runCancel()

		if err := chromedp.Run(runCtx); err != nil {
			m.browserCancel()
			m.allocCancel()
			m.initErr = fmt.Errorf("failed to launch browser: %w", err)
			return
		}

		// Target management commands (create/dispose contexts and tabs) go
		// over the browser-level connection, not a page session.
		c := chromedp.FromContext(m.browserCtx)
		m.controllerCtx = cdp.WithExecutor(m.browserCtx, c.Browser)

		m.logger.Info("Browser launched.")
	})
	return m.initErr
}

// NewSession creates an isolated session backed by its own browser context
// (separate cookie jar and storage) with a single blank tab.
func (m *Manager) NewSession(ctx context.Context) (*Session, error) {
	if err := m.initialize(ctx); err != nil {
		return nil, err
	}

	s := newSession(m.browserCtx, m.controllerCtx, m.cfg, m.logger, &m.createMu)

	m.wg.Add(1)
	s.onClose = func() {
		m.mu.Lock()
		delete(m.sessions, s.ID())
		m.mu.Unlock()
		m.wg.Done()
		m.logger.Debug("Session removed from manager.", zap.String("session_id", s.ID()))
	}

	if err := s.open(ctx); err != nil {
		// open failed before any tab existed; release bookkeeping directly.
		s.onClose()
		return nil, fmt.Errorf("failed to open session: %w", err)
	}

	m.mu.Lock()
	m.sessions[s.ID()] = s
	m.mu.Unlock()

	m.logger.Info("New session created.", zap.String("session_id", s.ID()))
	return s, nil
}

// Shutdown closes all sessions and tears down the browser process.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("Shutting down browser manager.")

	if m.browserCtx == nil {
		m.logger.Debug("Browser never launched, nothing to shut down.")
		return nil
	}

	m.mu.RLock()
	open := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		open = append(open, s)
	}
	m.mu.RUnlock()

	var g errgroup.Group
	for _, s := range open {
		g.Go(func() error {
			if err := s.Close(ctx); err != nil {
				m.logger.Warn("Error closing session during shutdown.",
					zap.String("session_id", s.ID()), zap.Error(err))
				return err
			}
			return nil
		})
	}
	closeErr := g.Wait()

	// Wait for onClose bookkeeping, bounded by the caller's deadline.
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		m.logger.Debug("All sessions closed.")
	case <-ctx.Done():
		m.logger.Warn("Timeout waiting for sessions to close, forcing browser shutdown.", zap.Error(ctx.Err()))
	}

	// Ask Chrome to close gracefully before the allocator kills the
	// process. Cancel waits for the browser to exit, so bound it.
	graceDone := make(chan struct{})
	go func() {
		if err := chromedp.Cancel(m.browserCtx); err != nil {
			m.logger.Debug("Graceful browser cancel reported an error.", zap.Error(err))
		}
		close(graceDone)
	}()
	select {
	case <-graceDone:
	case <-time.After(shutdownGracePeriod):
		m.logger.Warn("Timeout waiting for browser to exit gracefully.")
	}
	m.browserCancel()
	m.allocCancel()

	m.logger.Info("Browser manager shutdown complete.")
	return closeErr
}
