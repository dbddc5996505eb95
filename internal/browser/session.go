// File: internal/browser/session.go
package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/formcourier/formcourier/api/schemas"
	"github.com/formcourier/formcourier/internal/config"
)

// Session wraps one chromedp tab context. All lookups evaluate immediately
// in page script rather than using chromedp's waiting queries; the callers
// (detector poll loop, submission verifier) implement their own timing and
// must never be blocked by an implicit wait on a selector that is absent by
// design.
type Session struct {
	id     string
	logger *zap.Logger
	cfg    config.BrowserConfig

	tabCtx    context.Context
	tabCancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

var _ schemas.BrowserSession = (*Session)(nil)

func newSession(tabCtx context.Context, tabCancel context.CancelFunc, cfg config.BrowserConfig, logger *zap.Logger) *Session {
	id := uuid.NewString()
	return &Session{
		id:        id,
		logger:    logger.With(zap.String("session_id", id)),
		cfg:       cfg,
		tabCtx:    tabCtx,
		tabCancel: tabCancel,
	}
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// run executes actions on the tab, bounded by both the caller's context and
// an optional timeout. chromedp actions must run on the tab context; the
// caller context is layered on through cancellation.
func (s *Session) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx := s.tabCtx
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(runCtx, timeout)
	} else {
		runCtx, cancel = context.WithCancel(runCtx)
	}
	defer cancel()

	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

// Navigate loads the URL and waits for the load event, bounded by timeout.
func (s *Session) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	s.logger.Debug("Navigating", zap.String("url", url), zap.Duration("timeout", timeout))
	if err := s.run(ctx, timeout, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	return nil
}

// CurrentURL returns the tab's current document URL.
func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	var url string
	if err := s.run(ctx, 0, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("failed to read current url: %w", err)
	}
	return url, nil
}

// DOM returns an outer-HTML snapshot of the live document, including any
// markup added by page scripts since load.
func (s *Session) DOM(ctx context.Context) (string, error) {
	var html string
	if err := s.run(ctx, 0, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("failed to capture dom snapshot: %w", err)
	}
	return html, nil
}

// isXPath reports whether a selector is XPath rather than CSS. The analyzer
// emits XPath only for buttons that carry neither id nor name.
func isXPath(selector string) bool {
	return strings.HasPrefix(selector, "//") || strings.HasPrefix(selector, "(")
}

// queryOption picks the chromedp query mode for a selector.
func queryOption(selector string) chromedp.QueryOption {
	if isXPath(selector) {
		return chromedp.BySearch
	}
	return chromedp.ByQuery
}

// findExpr returns a page-script expression that resolves the selector to
// an element or null.
func findExpr(selector string) string {
	if isXPath(selector) {
		return fmt.Sprintf(
			`document.evaluate(%q, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue`,
			selector)
	}
	return fmt.Sprintf(`document.querySelector(%q)`, selector)
}

// Exists reports whether the selector matches any element right now.
func (s *Session) Exists(ctx context.Context, selector string) (bool, error) {
	expr := fmt.Sprintf(`%s !== null`, findExpr(selector))
	var found bool
	if err := s.run(ctx, 0, chromedp.Evaluate(expr, &found)); err != nil {
		return false, fmt.Errorf("existence check for %q failed: %w", selector, err)
	}
	return found, nil
}

// Visible reports whether the selector matches an element that is rendered:
// attached, not display:none or visibility:hidden, and with a non-empty box.
func (s *Session) Visible(ctx context.Context, selector string) (bool, error) {
	expr := fmt.Sprintf(`(() => {
		const el = %s;
		if (!el) return false;
		const style = window.getComputedStyle(el);
		if (style.display === 'none' || style.visibility === 'hidden' || style.opacity === '0') return false;
		const rect = el.getBoundingClientRect();
		return rect.width > 0 && rect.height > 0;
	})()`, findExpr(selector))

	var visible bool
	if err := s.run(ctx, 0, chromedp.Evaluate(expr, &visible)); err != nil {
		return false, fmt.Errorf("visibility check for %q failed: %w", selector, err)
	}
	return visible, nil
}

// Text returns the rendered text of the first matching element, or the
// empty string when nothing matches.
func (s *Session) Text(ctx context.Context, selector string) (string, error) {
	expr := fmt.Sprintf(`(() => {
		const el = %s;
		return el ? (el.innerText || el.textContent || '') : '';
	})()`, findExpr(selector))

	var text string
	if err := s.run(ctx, 0, chromedp.Evaluate(expr, &text)); err != nil {
		return "", fmt.Errorf("text read for %q failed: %w", selector, err)
	}
	return strings.TrimSpace(text), nil
}

// Type focuses the field, clears any prefilled value and sends keystrokes.
func (s *Session) Type(ctx context.Context, selector, value string) error {
	opt := queryOption(selector)
	err := s.run(ctx, 0,
		chromedp.ScrollIntoView(selector, opt),
		chromedp.Clear(selector, opt),
		chromedp.SendKeys(selector, value, opt),
	)
	if err != nil {
		return fmt.Errorf("failed to type into %q: %w", selector, err)
	}
	return nil
}

// SetChecked flips a checkbox or radio and fires the change event that form
// scripts listen on.
func (s *Session) SetChecked(ctx context.Context, selector string, checked bool) error {
	expr := fmt.Sprintf(`(() => {
		const el = %s;
		if (!el) return false;
		el.checked = %t;
		el.dispatchEvent(new Event('change', { bubbles: true }));
		return true;
	})()`, findExpr(selector), checked)

	var ok bool
	if err := s.run(ctx, 0, chromedp.Evaluate(expr, &ok)); err != nil {
		return fmt.Errorf("failed to set checked state on %q: %w", selector, err)
	}
	if !ok {
		return fmt.Errorf("no element matches %q", selector)
	}
	return nil
}

// Click dispatches a click using the named strategy. Strategies degrade
// from trusted input events down to synthetic DOM events; the executor
// walks them in order and treats each failure as recoverable.
func (s *Session) Click(ctx context.Context, selector string, strategy schemas.ClickStrategy) error {
	var err error
	switch strategy {
	case schemas.ClickStandard:
		err = s.run(ctx, 0, chromedp.Click(selector, queryOption(selector)))
	case schemas.ClickForced:
		err = s.clickForced(ctx, selector)
	case schemas.ClickScript:
		err = s.clickScript(ctx, selector, fmt.Sprintf(`(() => {
			const el = %s;
			if (!el) return false;
			el.click();
			return true;
		})()`, findExpr(selector)))
	case schemas.ClickSynthetic:
		err = s.clickScript(ctx, selector, fmt.Sprintf(`(() => {
			const el = %s;
			if (!el) return false;
			el.dispatchEvent(new MouseEvent('click', { bubbles: true, cancelable: true, view: window }));
			return true;
		})()`, findExpr(selector)))
	default:
		return fmt.Errorf("unknown click strategy %q", strategy)
	}

	if err != nil {
		return fmt.Errorf("%s click on %q failed: %w", strategy, selector, err)
	}
	return nil
}

// clickForced dispatches trusted mouse events at the element's center
// coordinates without hit-testing, so an overlay sitting on top of the
// button does not intercept the press.
func (s *Session) clickForced(ctx context.Context, selector string) error {
	expr := fmt.Sprintf(`(() => {
		const el = %s;
		if (!el) return null;
		el.scrollIntoView({ block: 'center' });
		const rect = el.getBoundingClientRect();
		return { x: rect.left + rect.width / 2, y: rect.top + rect.height / 2 };
	})()`, findExpr(selector))

	var center *struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	}
	if err := s.run(ctx, 0, chromedp.Evaluate(expr, &center)); err != nil {
		return err
	}
	if center == nil {
		return fmt.Errorf("no element matches %q", selector)
	}

	return s.run(ctx, 0, chromedp.ActionFunc(func(ctx context.Context) error {
		press := input.DispatchMouseEvent(input.MousePressed, center.X, center.Y).
			WithButton(input.Left).
			WithClickCount(1)
		if err := press.Do(ctx); err != nil {
			return err
		}
		release := input.DispatchMouseEvent(input.MouseReleased, center.X, center.Y).
			WithButton(input.Left).
			WithClickCount(1)
		return release.Do(ctx)
	}))
}

// clickScript evaluates a click expression that reports whether the target
// element was found.
func (s *Session) clickScript(ctx context.Context, selector, expr string) error {
	var ok bool
	if err := s.run(ctx, 0, chromedp.Evaluate(expr, &ok)); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no element matches %q", selector)
	}
	return nil
}

// Screenshot captures the current viewport as PNG.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := s.run(ctx, 0, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("screenshot capture failed: %w", err)
	}
	return buf, nil
}

// Close releases the tab in stages. Each stage gets its own bounded wait
// and a timeout is logged and skipped, never retried; the final context
// cancel is what actually guarantees the tab's goroutines unwind. Safe to
// call more than once.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	// Stage 1: ask the page to close itself so unload handlers run.
	if err := s.run(ctx, s.cfg.PageCloseTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		return page.Close().Do(ctx)
	})); err != nil {
		s.logger.Warn("Page close did not complete, dropping tab context", zap.Error(err))
	}

	// Stage 2: cancel the tab context, bounded separately.
	done := make(chan struct{})
	go func() {
		s.tabCancel()
		close(done)
	}()
	select {
	case <-done:
	case <-waitOrNever(s.cfg.ContextCloseTimeout):
		s.logger.Warn("Tab context cancel did not complete in time",
			zap.Duration("timeout", s.cfg.ContextCloseTimeout))
		return fmt.Errorf("tab close timed out after %s", s.cfg.ContextCloseTimeout)
	}

	s.logger.Debug("Browser session closed")
	return nil
}

// waitOrNever returns a channel that fires after d, or never when d is not
// positive, so an unset timeout means an unbounded wait.
func waitOrNever(d time.Duration) <-chan time.Time {
	if d <= 0 {
		return nil
	}
	return time.After(d)
}
