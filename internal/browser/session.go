// Package browser manages long-lived headless Chrome sessions with a
// rotating stealth fingerprint.
package browser

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// ErrSessionFailure marks errors from the engine itself rather than from
// the site being visited. Callers rotate the session when they see it.
var ErrSessionFailure = errors.New("browser session failure")

// userAgents is the fingerprint pool. Each session picks one at random and
// keeps it until rotation.
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/118.0.0.0 Safari/537.36",
}

// Config controls session behavior.
type Config struct {
	Headless          bool
	NavigationTimeout time.Duration
	LeadsPerSession   int
}

// Fingerprint is the identity a session presents to the sites it visits.
type Fingerprint struct {
	UserAgent string
	Width     int
	Height    int
}

func randomFingerprint() Fingerprint {
	return Fingerprint{
		UserAgent: userAgents[rand.Intn(len(userAgents))],
		Width:     1366 + rand.Intn(200),
		Height:    768 + rand.Intn(100),
	}
}

// Manager owns one browser process at a time and hands out pages bound to
// it. After LeadsPerSession served leads, or after a crash, the caller
// rotates to a fresh process with a fresh fingerprint.
type Manager struct {
	cfg    Config
	logger *zap.Logger

	mu          sync.Mutex
	fingerprint Fingerprint
	allocator   context.Context
	allocCancel context.CancelFunc
	served      int
	rotations   int
}

// NewManager starts the first browser session.
func NewManager(cfg Config, logger *zap.Logger) (*Manager, error) {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if cfg.LeadsPerSession <= 0 {
		cfg.LeadsPerSession = 50
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{cfg: cfg, logger: logger}
	m.startSession()
	return m, nil
}

// startSession allocates a new browser with a fresh fingerprint. Callers
// other than NewManager must hold mu.
func (m *Manager) startSession() {
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	fp := randomFingerprint()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", m.cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-infobars", true),
		chromedp.UserAgent(fp.UserAgent),
		chromedp.WindowSize(fp.Width, fp.Height),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	m.fingerprint = fp
	m.allocator = allocCtx
	m.allocCancel = allocCancel
	m.served = 0
	m.logger.Info("browser session started",
		zap.String("user_agent", fp.UserAgent),
		zap.Int("viewport_w", fp.Width),
		zap.Int("viewport_h", fp.Height),
	)
}

// Page is a single tab bound to the current session.
type Page struct {
	ctx        context.Context
	cancel     context.CancelFunc
	navTimeout time.Duration
}

// NewPage opens a tab in the current session.
func (m *Manager) NewPage() (*Page, error) {
	m.mu.Lock()
	allocator := m.allocator
	fp := m.fingerprint
	m.mu.Unlock()

	if allocator == nil {
		return nil, fmt.Errorf("browser: session is closed: %w", ErrSessionFailure)
	}

	tabCtx, tabCancel := chromedp.NewContext(allocator)
	if err := chromedp.Run(tabCtx,
		emulation.SetUserAgentOverride(fp.UserAgent),
		emulation.SetDeviceMetricsOverride(int64(fp.Width), int64(fp.Height), 1, false),
	); err != nil {
		tabCancel()
		return nil, fmt.Errorf("browser: open page: %w: %w", ErrSessionFailure, err)
	}
	return &Page{ctx: tabCtx, cancel: tabCancel, navTimeout: m.cfg.NavigationTimeout}, nil
}

// Navigate loads the URL and waits for the body to be ready.
func (p *Page) Navigate(ctx context.Context, url string) error {
	ctx, cancel := p.bound(ctx)
	defer cancel()
	if err := chromedp.Run(ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("browser: navigate %s: %w", url, err)
	}
	return nil
}

// WaitVisible blocks until the selector matches a visible node.
func (p *Page) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	runCtx, release := p.run(ctx)
	defer release()
	ctx, cancel := context.WithTimeout(runCtx, timeout)
	defer cancel()
	if err := chromedp.Run(ctx, chromedp.WaitVisible(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("browser: wait for %q: %w", selector, err)
	}
	return nil
}

// Evaluate runs the expression in page context and unmarshals the result
// into res. Pass nil to discard the result.
func (p *Page) Evaluate(ctx context.Context, expression string, res any) error {
	runCtx, release := p.run(ctx)
	defer release()
	if err := chromedp.Run(runCtx, chromedp.Evaluate(expression, res)); err != nil {
		return fmt.Errorf("browser: evaluate: %w", err)
	}
	return nil
}

// Content returns the rendered document markup.
func (p *Page) Content(ctx context.Context) (string, error) {
	runCtx, release := p.run(ctx)
	defer release()
	var html string
	if err := chromedp.Run(runCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("browser: read content: %w", err)
	}
	return html, nil
}

// Sleep pauses inside the page's context.
func (p *Page) Sleep(ctx context.Context, d time.Duration) error {
	runCtx, release := p.run(ctx)
	defer release()
	return chromedp.Run(runCtx, chromedp.Sleep(d))
}

// Close discards the tab.
func (p *Page) Close() {
	p.cancel()
}

func (p *Page) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	merged, release := p.run(ctx)
	timed, cancel := context.WithTimeout(merged, p.navTimeout)
	return timed, func() {
		cancel()
		release()
	}
}

// run keeps the chromedp target while honoring the caller's cancellation.
// The returned release must be called once the operation finishes so the
// merged context does not outlive it.
func (p *Page) run(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return p.ctx, func() {}
	}
	merged, cancel := context.WithCancel(p.ctx)
	stop := context.AfterFunc(ctx, cancel)
	return merged, func() {
		stop()
		cancel()
	}
}

// RecordLead counts one served lead against the session budget.
func (m *Manager) RecordLead() {
	m.mu.Lock()
	m.served++
	m.mu.Unlock()
}

// ShouldRotate reports whether the session has served its lead budget.
func (m *Manager) ShouldRotate() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.served >= m.cfg.LeadsPerSession
}

// Rotate tears down the current browser and starts a fresh one with a new
// fingerprint. Open pages from the old session become unusable.
func (m *Manager) Rotate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.allocCancel != nil {
		m.allocCancel()
	}
	m.rotations++
	m.startSession()
	m.logger.Info("browser session rotated", zap.Int("rotations", m.rotations))
}

// Rotations returns how many times the session has been replaced.
func (m *Manager) Rotations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rotations
}

// Served returns the number of leads served by the current session.
func (m *Manager) Served() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.served
}

// Close shuts the browser down.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.allocCancel != nil {
		m.allocCancel()
		m.allocCancel = nil
		m.allocator = nil
	}
}

// SimulateHuman nudges the pointer, scrolls partway down the page, and
// idles for one to three seconds. Input failures are ignored; the pause
// always happens.
func (p *Page) SimulateHuman(ctx context.Context) {
	if ctx == nil {
		ctx = p.ctx
	}
	x := float64(80 + rand.Intn(600))
	y := float64(80 + rand.Intn(400))
	scroll := 150 + rand.Intn(450)
	runCtx, release := p.run(ctx)
	_ = chromedp.Run(runCtx,
		chromedp.MouseEvent(input.MouseMoved, x, y),
		chromedp.Evaluate(fmt.Sprintf("window.scrollBy(0, %d)", scroll), nil),
	)
	release()

	d := time.Second + time.Duration(rand.Int63n(int64(2*time.Second)))
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}
