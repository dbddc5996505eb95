// File: internal/challenge/detector.go
// Description: Early anti-automation detection. Runs immediately after page
// load and again before submission; a detected challenge is terminal for the
// attempt, the engine never tries to solve one.
package challenge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/formcourier/formcourier/api/schemas"
	"github.com/formcourier/formcourier/internal/config"
	"github.com/formcourier/formcourier/internal/heuristics"
)

// widgetMarkers are vendor-specific DOM selectors, checked in priority
// order. The first match ends the scan.
var widgetMarkers = []struct {
	selector string
	typ      schemas.ChallengeType
}{
	{".g-recaptcha", schemas.ChallengeRecaptcha},
	{`iframe[src*="recaptcha"]`, schemas.ChallengeRecaptcha},
	{".grecaptcha-badge", schemas.ChallengeRecaptcha},
	{".h-captcha", schemas.ChallengeHCaptcha},
	{`iframe[src*="hcaptcha"]`, schemas.ChallengeHCaptcha},
	{"#challenge-form", schemas.ChallengeManaged},
	{"#challenge-running", schemas.ChallengeManaged},
	{"#cf-challenge-running", schemas.ChallengeManaged},
	{`[class*="cf-chl"]`, schemas.ChallengeManaged},
}

// frameMarkers classify embedded challenge frames by src substring.
var frameMarkers = []struct {
	substr string
	typ    schemas.ChallengeType
}{
	{"recaptcha", schemas.ChallengeRecaptcha},
	{"hcaptcha", schemas.ChallengeHCaptcha},
	{"challenges.cloudflare.com", schemas.ChallengeManaged},
	{"cdn-cgi/challenge", schemas.ChallengeManaged},
}

// blockSignatures are interstitial phrasings. They only count on short
// pages; an article quoting "access denied" is not a block page.
var blockSignatures = []struct {
	phrase string
	typ    schemas.ChallengeType
}{
	{"checking your browser", schemas.ChallengeManaged},
	{"just a moment", schemas.ChallengeManaged},
	{"attention required", schemas.ChallengeManaged},
	{"verify you are human", schemas.ChallengeUnknown},
	{"pardon our interruption", schemas.ChallengeUnknown},
	{"access denied", schemas.ChallengeUnknown},
}

// maxBlockPageBody is the body-text length above which block-page phrasing
// is ignored. Real interstitials carry almost no content.
const maxBlockPageBody = 1200

// Detector polls a live session for challenge widgets. Widgets often render
// asynchronously after load, so a single immediate check is not enough.
type Detector struct {
	logger  *zap.Logger
	clock   clockwork.Clock
	maxWait time.Duration
	poll    time.Duration
}

// New creates a detector. The polling window comes pre-clamped from config
// validation.
func New(logger *zap.Logger, clock clockwork.Clock, cfg config.ChallengeConfig) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Detector{
		logger:  logger.Named("challenge"),
		clock:   clock,
		maxWait: cfg.MaxWait,
		poll:    cfg.PollInterval,
	}
}

// Detect scans the session until a challenge appears or the window closes.
// A none-typed result with nil error means the page looks clean.
func (d *Detector) Detect(ctx context.Context, sess schemas.BrowserSession) (schemas.ChallengeResult, error) {
	deadline := d.clock.Now().Add(d.maxWait)
	for {
		res, err := d.ScanOnce(ctx, sess)
		if err != nil {
			return schemas.ChallengeResult{}, err
		}
		if res.Detected() {
			d.logger.Info("challenge detected",
				zap.String("type", string(res.Type)),
				zap.String("selector", res.Selector),
				zap.Bool("visible", res.Visible),
			)
			return res, nil
		}
		if !d.clock.Now().Add(d.poll).Before(deadline) {
			return schemas.ChallengeResult{Type: schemas.ChallengeNone}, nil
		}
		select {
		case <-ctx.Done():
			return schemas.ChallengeResult{}, ctx.Err()
		case <-d.clock.After(d.poll):
		}
	}
}

// ScanOnce runs one detection pass: vendor selectors first, then the parsed
// snapshot for frames and block-page phrasing. The executor reuses it as a
// pre-submit guard, where waiting out the full window would be wasted time.
func (d *Detector) ScanOnce(ctx context.Context, sess schemas.BrowserSession) (schemas.ChallengeResult, error) {
	for _, m := range widgetMarkers {
		found, err := sess.Exists(ctx, m.selector)
		if err != nil {
			return schemas.ChallengeResult{}, fmt.Errorf("challenge marker probe %q: %w", m.selector, err)
		}
		if !found {
			continue
		}
		visible, err := sess.Visible(ctx, m.selector)
		if err != nil {
			return schemas.ChallengeResult{}, fmt.Errorf("challenge marker visibility %q: %w", m.selector, err)
		}
		return schemas.ChallengeResult{Type: m.typ, Selector: m.selector, Visible: visible}, nil
	}

	raw, err := sess.DOM(ctx)
	if err != nil {
		return schemas.ChallengeResult{}, fmt.Errorf("challenge snapshot: %w", err)
	}
	page, err := heuristics.Parse(raw, "")
	if err != nil {
		return schemas.ChallengeResult{}, err
	}
	return InspectSnapshot(page), nil
}

// InspectSnapshot applies the frame and block-page heuristics to an already
// parsed snapshot. Pure; shared with the pre-submit re-check.
func InspectSnapshot(page *heuristics.PageSnapshot) schemas.ChallengeResult {
	for _, src := range page.FrameSrcs {
		lower := strings.ToLower(src)
		for _, m := range frameMarkers {
			if strings.Contains(lower, m.substr) {
				return schemas.ChallengeResult{Type: m.typ, Selector: fmt.Sprintf(`iframe[src*=%q]`, m.substr), Visible: true}
			}
		}
	}

	body := strings.ToLower(page.BodyText)
	title := strings.ToLower(page.Title)
	if len(body) <= maxBlockPageBody {
		for _, sig := range blockSignatures {
			if strings.Contains(body, sig.phrase) || strings.Contains(title, sig.phrase) {
				return schemas.ChallengeResult{Type: sig.typ, Visible: true}
			}
		}
	}
	return schemas.ChallengeResult{Type: schemas.ChallengeNone}
}
