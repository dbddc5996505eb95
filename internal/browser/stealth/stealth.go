// File: internal/browser/stealth/stealth.go

// Package stealth makes the headless browser present itself as an ordinary
// user-operated one. Contact pages sit behind the exact scripts this module
// exists to notice early, so the tab must not advertise automation before
// the detector even gets a look at the page.
package stealth

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

//go:embed evasions.js
var evasionsScript string

// Persona is the browser identity presented to every visited site.
type Persona struct {
	UserAgent string
	Platform  string
	Languages []string
	Timezone  string
	Locale    string
}

// DefaultPersona matches a stock Chrome install on Windows.
var DefaultPersona = Persona{
	UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	Platform:  "Win32",
	Languages: []string{"en-US", "en"},
	Timezone:  "America/Los_Angeles",
	Locale:    "en-US",
}

// WithUserAgent returns a copy of p carrying the given user agent, falling
// back to p's own when the override is empty.
func (p Persona) WithUserAgent(ua string) Persona {
	if ua != "" {
		p.UserAgent = ua
	}
	return p
}

// Apply builds the CDP task sequence that installs the persona on a tab.
// It must run once per tab before the first navigation; the injected script
// re-executes on every subsequent document.
func Apply(p Persona) chromedp.Tasks {
	tasks := chromedp.Tasks{
		emulation.SetUserAgentOverride(p.UserAgent),

		// AddScriptToEvaluateOnNewDocument returns (identifier, error), so it
		// cannot be used as a chromedp.Action directly.
		chromedp.ActionFunc(func(ctx context.Context) error {
			if _, err := page.AddScriptToEvaluateOnNewDocument(evasionsScript).Do(ctx); err != nil {
				return fmt.Errorf("failed to inject evasions script: %w", err)
			}
			return nil
		}),

		emulation.SetTimezoneOverride(p.Timezone),
		emulation.SetLocaleOverride().WithLocale(p.Locale),
	}

	if len(p.Languages) > 0 {
		accept := p.Languages[0]
		if len(p.Languages) > 1 {
			accept = fmt.Sprintf("%s,%s;q=0.9", p.Languages[0], p.Languages[1])
		}
		tasks = append(tasks, network.SetExtraHTTPHeaders(network.Headers{
			"Accept-Language": accept,
		}))
	}
	return tasks
}
