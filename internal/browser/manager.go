// File: internal/browser/manager.go

// Package browser runs the headless Chrome process and exposes each tab as
// a schemas.BrowserSession. Everything above this package speaks selectors
// and snapshots; everything below is the Chrome DevTools Protocol.
package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/formcourier/formcourier/api/schemas"
	"github.com/formcourier/formcourier/internal/browser/stealth"
	"github.com/formcourier/formcourier/internal/config"
)

// Manager owns a single browser process through a chromedp exec allocator
// and hands out one isolated tab per session. The orchestrator runs targets
// strictly one at a time, so the manager never needs a tab pool. A crashed
// tab costs only its own attempt; the next OpenSession spawns a fresh
// target in the same process.
type Manager struct {
	logger *zap.Logger
	cfg    config.BrowserConfig

	mu          sync.Mutex
	allocCtx    context.Context
	allocCancel context.CancelFunc
	closed      bool
}

var _ schemas.SessionManager = (*Manager)(nil)

// NewManager prepares the exec allocator. The browser process itself is
// spawned lazily by the first session.
func NewManager(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) *Manager {
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, execOptions(cfg)...)
	return &Manager{
		logger:      logger.Named("browser"),
		cfg:         cfg,
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
	}
}

// execOptions translates the browser config into chromedp allocator options.
func execOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.Flag("disable-dev-shm-usage", true),
		// Keep renderer-side automation tells off before stealth scripts run.
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)

	if cfg.Headless {
		opts = append(opts, chromedp.Headless, chromedp.DisableGPU)
	}
	if cfg.IgnoreTLSErrors {
		opts = append(opts, chromedp.Flag("ignore-certificate-errors", true))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}

	// Extra args from config, either "--flag" or "--key=value".
	for _, arg := range cfg.Args {
		arg = strings.TrimPrefix(strings.TrimSpace(arg), "--")
		if arg == "" {
			continue
		}
		if key, value, found := strings.Cut(arg, "="); found {
			opts = append(opts, chromedp.Flag(key, value))
		} else {
			opts = append(opts, chromedp.Flag(arg, true))
		}
	}
	return opts
}

// OpenSession creates a fresh tab and applies the stealth persona before
// any navigation. Running the persona tasks also forces the tab (and on
// first call, the browser process) to actually start, so a broken Chrome
// install fails here instead of mid-attempt.
func (m *Manager) OpenSession(ctx context.Context) (schemas.BrowserSession, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, fmt.Errorf("browser manager is shut down")
	}
	allocCtx := m.allocCtx
	m.mu.Unlock()

	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	// The tab context descends from the allocator, not from ctx, so layer
	// the caller's cancellation on for the startup run only. A session
	// that opened successfully outlives the opening call's context.
	stop := context.AfterFunc(ctx, tabCancel)
	defer stop()

	persona := stealth.DefaultPersona.WithUserAgent(m.cfg.UserAgent)
	if err := chromedp.Run(tabCtx, stealth.Apply(persona)); err != nil {
		tabCancel()
		if ctx.Err() != nil {
			return nil, fmt.Errorf("failed to open browser tab: %w", ctx.Err())
		}
		return nil, fmt.Errorf("failed to open browser tab: %w", err)
	}

	sess := newSession(tabCtx, tabCancel, m.cfg, m.logger)
	m.logger.Debug("Opened browser session", zap.String("session_id", sess.ID()))
	return sess, nil
}

// Shutdown tears down the allocator, killing the browser process and every
// tab still attached to it. A browser that will not exit within
// ProcessCloseTimeout is abandoned to the OS rather than stalling exit.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	cancel := m.allocCancel
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		cancel()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("Browser process shut down")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-waitOrNever(m.cfg.ProcessCloseTimeout):
		m.logger.Warn("Browser process did not exit in time, abandoning",
			zap.Duration("timeout", m.cfg.ProcessCloseTimeout))
		return fmt.Errorf("browser process shutdown timed out after %s", m.cfg.ProcessCloseTimeout)
	}
}
