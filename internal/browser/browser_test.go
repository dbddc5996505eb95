// File: internal/browser/browser_test.go
package browser

import (
	"testing"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"

	"github.com/formcourier/formcourier/internal/config"
)

func TestExecOptionsBaseline(t *testing.T) {
	opts := execOptions(config.BrowserConfig{})
	// Defaults plus sandbox, shm and blink flags at minimum.
	assert.Greater(t, len(opts), len(chromedp.DefaultExecAllocatorOptions))
}

func TestExecOptionsGrowWithConfig(t *testing.T) {
	base := execOptions(config.BrowserConfig{})
	full := execOptions(config.BrowserConfig{
		Headless:        true,
		IgnoreTLSErrors: true,
		UserAgent:       "TestAgent/1.0",
		Args:            []string{"--window-size=1280,1024", "disable-notifications", "  ", "--mute-audio"},
	})
	// headless+gpu, tls, ua, and three parsed args; the blank one is skipped.
	assert.Equal(t, len(base)+7, len(full))
}

func TestIsXPath(t *testing.T) {
	cases := map[string]bool{
		"#gform_submit_button_1":                      false,
		`#contact input[name="email"]`:                false,
		`form[action="/contact/"] input[type="submit"]`: false,
		`//form//button[normalize-space()="Send"]`:    true,
		`(//form)[1]//button[normalize-space()="Go"]`: true,
		`(//form)[2]//*[@role="button"]`:              true,
	}
	for sel, want := range cases {
		assert.Equal(t, want, isXPath(sel), "selector %q", sel)
	}
}

func TestFindExprCSS(t *testing.T) {
	expr := findExpr(`#contact input[name="input_3:1"]`)
	assert.Contains(t, expr, "document.querySelector")
	assert.Contains(t, expr, `input_3:1`)
}

func TestFindExprXPath(t *testing.T) {
	expr := findExpr(`(//form)[1]//button[normalize-space()="Send Message"]`)
	assert.Contains(t, expr, "document.evaluate")
	assert.Contains(t, expr, "FIRST_ORDERED_NODE_TYPE")
}

func TestWaitOrNever(t *testing.T) {
	assert.Nil(t, waitOrNever(0))
	assert.Nil(t, waitOrNever(-time.Second))

	ch := waitOrNever(time.Millisecond)
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected bounded wait to fire")
	}
}
