// File: internal/resolver/resolver.go
// Description: Finds the contact page for a site. Cached URL first, then
// scored link enumeration on the root page, then conventional path probing.
// Every attempt reports back to the resolution cache.
package resolver

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/formcourier/formcourier/api/schemas"
	"github.com/formcourier/formcourier/internal/cache"
	"github.com/formcourier/formcourier/internal/config"
	"github.com/formcourier/formcourier/internal/heuristics"
)

// ResolutionCache is the slice of the cache the resolver needs.
type ResolutionCache interface {
	Lookup(ctx context.Context, site string) (*cache.Entry, error)
	Usable(e *cache.Entry) bool
	OnCooldown(e *cache.Entry) bool
	Record(ctx context.Context, site, contactURL string, confidence float64, failure cache.Failure) error
}

// linkScoreScale converts a link score into a [0,1] confidence. A
// landmark-boosted "contact us" match lands near the top of the range.
const linkScoreScale = 20.0

// fallbackConfidence is assigned to pages found by path probing; a page
// that merely loads is weaker evidence than a scored link.
const fallbackConfidence = 0.5

// Resolver locates contact pages through a live browser session.
type Resolver struct {
	logger        *zap.Logger
	cache         ResolutionCache
	navTimeout    time.Duration
	minLinkScore  int
	fallbackPaths []string
}

// New creates a resolver.
func New(logger *zap.Logger, rc ResolutionCache, rcfg config.ResolverConfig, ncfg config.NetworkConfig) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		logger:        logger.Named("resolver"),
		cache:         rc,
		navTimeout:    ncfg.NavigationTimeout,
		minLinkScore:  rcfg.MinLinkScore,
		fallbackPaths: rcfg.FallbackPaths,
	}
}

// Resolve finds the contact page for site and leaves the session parked on
// it. Returns ErrUnreachable when the site itself cannot be loaded and
// ErrNoContactPage when every strategy comes up empty.
func (r *Resolver) Resolve(ctx context.Context, sess schemas.BrowserSession, site string) (schemas.ResolvedPage, error) {
	entry, err := r.cache.Lookup(ctx, site)
	if err != nil {
		r.logger.Warn("cache lookup failed", zap.String("site", site), zap.Error(err))
		entry = nil
	}
	if r.cache.Usable(entry) {
		if page, ok := r.fromCache(ctx, sess, entry); ok {
			return page, nil
		}
	} else if r.cache.OnCooldown(entry) {
		// Invalidated by repeated form misses and still cooling down from
		// the last successful resolution. Re-resolving now would just
		// rediscover the same dead URL, so the attempt ends here.
		r.logger.Info("invalidated contact URL on re-resolution cooldown",
			zap.String("site", site),
			zap.Time("last_resolved", entry.LastResolved),
		)
		return schemas.ResolvedPage{}, fmt.Errorf("site %s: contact URL invalidated, re-resolution on cooldown: %w", site, schemas.ErrNoContactPage)
	}

	rootURL, err := siteRoot(site)
	if err != nil {
		return schemas.ResolvedPage{}, err
	}
	if err := sess.Navigate(ctx, rootURL, r.navTimeout); err != nil {
		if recErr := r.cache.Record(ctx, site, "", 0, cache.FailureUnreachable); recErr != nil {
			r.logger.Warn("failed to record unreachable site", zap.String("site", site), zap.Error(recErr))
		}
		return schemas.ResolvedPage{}, fmt.Errorf("root page %s: %v: %w", rootURL, err, schemas.ErrUnreachable)
	}

	if page, ok := r.fromLinks(ctx, sess, site, rootURL); ok {
		return page, nil
	}
	if page, ok := r.fromFallbackPaths(ctx, sess, site); ok {
		return page, nil
	}

	// The root loaded but nothing led to a contact page. That counts
	// toward the no-form streak like an analyzer miss would.
	if recErr := r.cache.Record(ctx, site, "", 0, cache.FailureNoForm); recErr != nil {
		r.logger.Warn("failed to record resolution miss", zap.String("site", site), zap.Error(recErr))
	}
	return schemas.ResolvedPage{}, fmt.Errorf("site %s: %w", site, schemas.ErrNoContactPage)
}

// ReportNoForm feeds an analyzer-stage miss back into the cache so the
// 3-strike invalidation sees resolution and analysis misses alike.
func (r *Resolver) ReportNoForm(ctx context.Context, site string) error {
	return r.cache.Record(ctx, site, "", 0, cache.FailureNoForm)
}

// fromCache tries the cached contact URL. A navigation failure falls
// through to fresh resolution instead of failing the attempt; the cached
// URL may be stale while the site is fine.
func (r *Resolver) fromCache(ctx context.Context, sess schemas.BrowserSession, entry *cache.Entry) (schemas.ResolvedPage, bool) {
	target := *entry.ContactURL
	if err := sess.Navigate(ctx, target, r.navTimeout); err != nil {
		r.logger.Info("cached contact URL failed to load, re-resolving",
			zap.String("origin", entry.Origin),
			zap.String("cached_url", target),
			zap.Error(err),
		)
		return schemas.ResolvedPage{}, false
	}

	resolved := currentOr(ctx, sess, target)
	r.logger.Debug("resolved from cache", zap.String("url", resolved))
	return schemas.ResolvedPage{URL: resolved, Confidence: entry.Confidence, FromCache: true}, true
}

// fromLinks enumerates links on the loaded root page, scores them by
// contact keywords and follows the best candidate.
func (r *Resolver) fromLinks(ctx context.Context, sess schemas.BrowserSession, site, rootURL string) (schemas.ResolvedPage, bool) {
	raw, err := sess.DOM(ctx)
	if err != nil {
		r.logger.Warn("failed to snapshot root page", zap.String("site", site), zap.Error(err))
		return schemas.ResolvedPage{}, false
	}
	base := currentOr(ctx, sess, rootURL)
	page, err := heuristics.Parse(raw, base)
	if err != nil {
		r.logger.Warn("failed to parse root page", zap.String("site", site), zap.Error(err))
		return schemas.ResolvedPage{}, false
	}

	bestScore := 0
	bestHref := ""
	for _, link := range page.Links {
		if !followableHref(link.Href) {
			continue
		}
		if score := heuristics.ScoreLink(link); score > bestScore {
			bestScore = score
			bestHref = link.Href
		}
	}
	if bestScore < r.minLinkScore || bestHref == "" {
		return schemas.ResolvedPage{}, false
	}

	target, err := absoluteURL(base, bestHref)
	if err != nil {
		r.logger.Warn("unusable contact link", zap.String("href", bestHref), zap.Error(err))
		return schemas.ResolvedPage{}, false
	}
	if err := sess.Navigate(ctx, target, r.navTimeout); err != nil {
		r.logger.Info("contact link failed to load",
			zap.String("url", target), zap.Error(err))
		return schemas.ResolvedPage{}, false
	}

	confidence := math.Min(1, float64(bestScore)/linkScoreScale)
	resolved := currentOr(ctx, sess, target)
	r.record(ctx, site, resolved, confidence)
	r.logger.Debug("resolved via link scoring",
		zap.String("url", resolved),
		zap.Int("score", bestScore),
	)
	return schemas.ResolvedPage{URL: resolved, Confidence: confidence}, true
}

// fromFallbackPaths probes the conventional contact paths in order; the
// first one that loads wins.
func (r *Resolver) fromFallbackPaths(ctx context.Context, sess schemas.BrowserSession, site string) (schemas.ResolvedPage, bool) {
	origin, err := cache.NormalizeOrigin(site)
	if err != nil {
		return schemas.ResolvedPage{}, false
	}
	for _, path := range r.fallbackPaths {
		if ctx.Err() != nil {
			return schemas.ResolvedPage{}, false
		}
		target := origin + path
		if err := sess.Navigate(ctx, target, r.navTimeout); err != nil {
			continue
		}
		resolved := currentOr(ctx, sess, target)
		r.record(ctx, site, resolved, fallbackConfidence)
		r.logger.Debug("resolved via fallback path", zap.String("url", resolved))
		return schemas.ResolvedPage{URL: resolved, Confidence: fallbackConfidence}, true
	}
	return schemas.ResolvedPage{}, false
}

func (r *Resolver) record(ctx context.Context, site, contactURL string, confidence float64) {
	if err := r.cache.Record(ctx, site, contactURL, confidence, cache.FailureNone); err != nil {
		r.logger.Warn("failed to record resolution",
			zap.String("site", site), zap.Error(err))
	}
}

// currentOr asks the session where it actually landed; redirects make the
// requested URL a guess.
func currentOr(ctx context.Context, sess schemas.BrowserSession, fallback string) string {
	if u, err := sess.CurrentURL(ctx); err == nil && u != "" {
		return u
	}
	return fallback
}

func siteRoot(site string) (string, error) {
	origin, err := cache.NormalizeOrigin(site)
	if err != nil {
		return "", err
	}
	return origin + "/", nil
}

func followableHref(href string) bool {
	h := strings.TrimSpace(strings.ToLower(href))
	if h == "" || strings.HasPrefix(h, "#") {
		return false
	}
	for _, scheme := range []string{"javascript:", "mailto:", "tel:", "data:"} {
		if strings.HasPrefix(h, scheme) {
			return false
		}
	}
	return true
}

func absoluteURL(base, href string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	h, err := url.Parse(href)
	if err != nil {
		return "", err
	}
	abs := b.ResolveReference(h)
	if !abs.IsAbs() {
		return "", fmt.Errorf("href %q does not resolve to an absolute URL", href)
	}
	return abs.String(), nil
}
