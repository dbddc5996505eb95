// File: internal/browser/stealth/stealth_test.go
package stealth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvasionsScriptEmbedded(t *testing.T) {
	require.NotEmpty(t, evasionsScript)
	assert.Contains(t, evasionsScript, "webdriver")
	assert.Contains(t, evasionsScript, "window.chrome")
	// The script must be an IIFE so it leaks nothing into page scope.
	assert.Contains(t, evasionsScript, "(() => {")
}

func TestWithUserAgent(t *testing.T) {
	p := DefaultPersona.WithUserAgent("TestAgent/1.0")
	assert.Equal(t, "TestAgent/1.0", p.UserAgent)
	// Everything else carries over.
	assert.Equal(t, DefaultPersona.Platform, p.Platform)
	assert.Equal(t, DefaultPersona.Timezone, p.Timezone)
}

func TestWithUserAgentEmptyKeepsDefault(t *testing.T) {
	p := DefaultPersona.WithUserAgent("")
	assert.Equal(t, DefaultPersona.UserAgent, p.UserAgent)
}

func TestApplyTaskCount(t *testing.T) {
	tasks := Apply(DefaultPersona)
	// UA override, script injection, timezone, locale, headers.
	assert.Len(t, tasks, 5)
}

func TestApplySingleLanguage(t *testing.T) {
	p := DefaultPersona
	p.Languages = []string{"de-DE"}
	tasks := Apply(p)
	assert.Len(t, tasks, 5)
}

func TestApplyNoLanguagesSkipsHeaders(t *testing.T) {
	p := DefaultPersona
	p.Languages = nil
	tasks := Apply(p)
	assert.Len(t, tasks, 4)
}
