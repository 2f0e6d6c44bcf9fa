// File: internal/browser/session.go
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/config"
)

const stabilizeTimeout = 30 * time.Second

// tab is one live page target owned by a session.
type tab struct {
	targetID target.ID
	ctx      context.Context
	cancel   context.CancelFunc
}

// Session drives one isolated browser context (separate cookie jar and
// storage) holding an ordered set of tabs, one of which is active. It
// implements schemas.BrowserSession.
type Session struct {
	id     string
	logger *zap.Logger
	cfg    *config.Config

	// Browser-level contexts owned by the Manager. browserCtx parents new
	// tab contexts; controllerCtx carries the executor for Target commands.
	browserCtx    context.Context
	controllerCtx context.Context
	createMu      *sync.Mutex

	browserContextID cdp.BrowserContextID

	mu       sync.Mutex
	tabs     []*tab
	active   int
	isClosed bool

	onClose func()
}

var _ schemas.BrowserSession = (*Session)(nil)

func newSession(browserCtx, controllerCtx context.Context, cfg *config.Config, logger *zap.Logger, createMu *sync.Mutex) *Session {
	id := uuid.New().String()
	return &Session{
		id:            id,
		logger:        logger.With(zap.String("session_id", id)),
		cfg:           cfg,
		browserCtx:    browserCtx,
		controllerCtx: controllerCtx,
		createMu:      createMu,
		active:        -1,
	}
}

// open creates the isolated browser context and its first blank tab.
func (s *Session) open(ctx context.Context) error {
	s.createMu.Lock()
	defer s.createMu.Unlock()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled before creating browser context: %w", err)
	}

	bctxID, err := target.CreateBrowserContext().Do(s.controllerCtx)
	if err != nil {
		return fmt.Errorf("failed to create browser context: %w", err)
	}
	s.browserContextID = bctxID

	if err := s.addTabLocked(ctx, "about:blank"); err != nil {
		s.disposeBrowserContext()
		return err
	}
	return nil
}

// addTabLocked creates a page target in the session's browser context,
// attaches a chromedp context to it and makes it the active tab. Callers must
// hold createMu.
func (s *Session) addTabLocked(ctx context.Context, url string) error {
	targetID, err := target.CreateTarget(url).
		WithBrowserContextID(s.browserContextID).
		Do(s.controllerCtx)
	if err != nil {
		return fmt.Errorf("failed to create target: %w", err)
	}

	tabCtx, tabCancel := chromedp.NewContext(s.browserCtx, chromedp.WithTargetID(targetID))

	// Attach now so later actions find a live CDP session.
	attachCtx, cancel := CombineContext(tabCtx, ctx)
	defer cancel()
	if err := chromedp.Run(attachCtx); err != nil {
		tabCancel()
		return fmt.Errorf("failed to attach to target: %w", err)
	}

	s.mu.Lock()
	s.tabs = append(s.tabs, &tab{targetID: targetID, ctx: tabCtx, cancel: tabCancel})
	s.active = len(s.tabs) - 1
	s.mu.Unlock()
	return nil
}

// ID returns the unique identifier for the session.
func (s *Session) ID() string {
	return s.id
}

func (s *Session) activeTab() (*tab, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isClosed {
		return nil, fmt.Errorf("session %s is closed", s.id)
	}
	if s.active < 0 || s.active >= len(s.tabs) {
		return nil, fmt.Errorf("session %s has no active tab", s.id)
	}
	return s.tabs[s.active], nil
}

// runActions executes chromedp actions against the active tab, honoring both
// the session lifetime and the caller's deadline.
func (s *Session) runActions(ctx context.Context, actions ...chromedp.Action) error {
	t, err := s.activeTab()
	if err != nil {
		return err
	}
	runCtx, cancel := CombineContext(t.ctx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

// Navigate loads the given URL in the active tab and waits for it to settle.
func (s *Session) Navigate(ctx context.Context, rawURL string) error {
	navCtx, cancel := context.WithTimeout(ctx, s.cfg.Browser.NavigationTimeout)
	defer cancel()

	s.logger.Debug("Navigating.", zap.String("url", rawURL))
	if err := s.runActions(navCtx, chromedp.Navigate(rawURL)); err != nil {
		return fmt.Errorf("navigation to %s failed: %w", rawURL, err)
	}
	return s.stabilize(navCtx)
}

// WaitForLoad blocks until the active document is ready and briefly quiet.
func (s *Session) WaitForLoad(ctx context.Context) error {
	loadCtx, cancel := context.WithTimeout(ctx, s.cfg.Browser.NavigationTimeout)
	defer cancel()
	return s.stabilize(loadCtx)
}

// stabilize waits for the DOM to be ready, then holds for a quiet period so
// late scripts and client-side redirects have a chance to land.
func (s *Session) stabilize(ctx context.Context) error {
	stabCtx, cancel := context.WithTimeout(ctx, stabilizeTimeout)
	defer cancel()

	if err := s.runActions(stabCtx, chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Debug("WaitReady failed during stabilization.", zap.Error(err))
	}

	select {
	case <-time.After(s.cfg.Browser.QuietPeriod):
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// NewTab opens a tab, optionally navigating it, and makes it active.
func (s *Session) NewTab(ctx context.Context, rawURL string) error {
	s.mu.Lock()
	if s.isClosed {
		s.mu.Unlock()
		return fmt.Errorf("session %s is closed", s.id)
	}
	s.mu.Unlock()

	if rawURL == "" {
		rawURL = "about:blank"
	}

	s.createMu.Lock()
	err := s.addTabLocked(ctx, rawURL)
	s.createMu.Unlock()
	if err != nil {
		return err
	}

	if rawURL != "about:blank" {
		navCtx, cancel := context.WithTimeout(ctx, s.cfg.Browser.NavigationTimeout)
		defer cancel()
		return s.stabilize(navCtx)
	}
	return nil
}

// SwitchTab activates the tab at the given inventory index.
func (s *Session) SwitchTab(ctx context.Context, index int) error {
	s.mu.Lock()
	if s.isClosed {
		s.mu.Unlock()
		return fmt.Errorf("session %s is closed", s.id)
	}
	if index < 0 || index >= len(s.tabs) {
		n := len(s.tabs)
		s.mu.Unlock()
		return fmt.Errorf("tab index %d out of range (have %d tabs)", index, n)
	}
	s.active = index
	t := s.tabs[index]
	s.mu.Unlock()

	// Raising the window is cosmetic in headless mode but keeps focus
	// semantics correct for input events.
	actCtx, cancel := CombineContext(s.controllerCtx, ctx)
	defer cancel()
	if err := target.ActivateTarget(t.targetID).Do(actCtx); err != nil {
		s.logger.Debug("ActivateTarget failed.", zap.Error(err))
	}
	return nil
}

// ListTabs returns the read-only tab inventory plus the active index. URL and
// title come from the live target info, so background tabs report their
// current state, not the state they had when last active.
func (s *Session) ListTabs(ctx context.Context) ([]schemas.TabInfo, int, error) {
	s.mu.Lock()
	if s.isClosed {
		s.mu.Unlock()
		return nil, 0, fmt.Errorf("session %s is closed", s.id)
	}
	ids := make([]target.ID, len(s.tabs))
	for i, t := range s.tabs {
		ids[i] = t.targetID
	}
	active := s.active
	s.mu.Unlock()

	runCtx, cancel := CombineContext(s.controllerCtx, ctx)
	defer cancel()
	infos, err := target.GetTargets().Do(runCtx)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list targets: %w", err)
	}

	byID := make(map[target.ID]*target.Info, len(infos))
	for _, info := range infos {
		byID[info.TargetID] = info
	}

	tabs := make([]schemas.TabInfo, len(ids))
	for i, id := range ids {
		tabs[i] = schemas.TabInfo{Index: i}
		if info, ok := byID[id]; ok {
			tabs[i].URL = info.URL
			tabs[i].Title = info.Title
		}
	}
	return tabs, active, nil
}

// ExecuteScript runs a snippet of JavaScript in the active document and
// optionally unmarshals the result into out.
func (s *Session) ExecuteScript(ctx context.Context, script string, out any) error {
	return s.runActions(ctx, chromedp.Evaluate(script, out))
}

// Close terminates the session and disposes its browser context.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.isClosed {
		s.mu.Unlock()
		return nil
	}
	s.isClosed = true
	tabs := s.tabs
	s.tabs = nil
	s.active = -1
	s.mu.Unlock()

	s.logger.Debug("Closing browser session.")

	for _, t := range tabs {
		t.cancel()
	}
	s.disposeBrowserContext()

	if s.onClose != nil {
		s.onClose()
	}
	return nil
}

// disposeBrowserContext tears down the isolated browser context, which also
// closes any targets still open in it. Detached from caller cancellation so
// cleanup still reaches the browser when an operation deadline already fired.
func (s *Session) disposeBrowserContext() {
	if s.browserContextID == "" || s.controllerCtx.Err() != nil {
		return
	}
	cleanupCtx, cancel := context.WithTimeout(valueOnlyContext{s.controllerCtx}, 10*time.Second)
	defer cancel()
	if err := target.DisposeBrowserContext(s.browserContextID).Do(cleanupCtx); err != nil {
		s.logger.Warn("Failed to dispose browser context. It may be orphaned.",
			zap.String("browser_context_id", string(s.browserContextID)), zap.Error(err))
	}
}
