// -- api/schemas/challenge.go --
package schemas

// ChallengeType classifies an anti-automation mechanism found on a page.
type ChallengeType string

const (
	ChallengeNone     ChallengeType = "none"
	ChallengeRecaptcha ChallengeType = "recaptcha"
	ChallengeHCaptcha  ChallengeType = "hcaptcha"
	// ChallengeManaged covers CDN-level browser checks (Cloudflare managed
	// challenge interstitials and similar).
	ChallengeManaged ChallengeType = "managed_challenge"
	// ChallengeUnknown is a generic block-page signature with no recognized
	// vendor marker.
	ChallengeUnknown ChallengeType = "unknown"
)

// ChallengeResult is computed once per attempt immediately after page load.
// A non-none result is terminal for the attempt: we never try to solve.
type ChallengeResult struct {
	Type     ChallengeType `json:"type"`
	Selector string        `json:"selector,omitempty"`
	Visible  bool          `json:"visible"`
}

// Detected reports whether any challenge was found.
func (c ChallengeResult) Detected() bool {
	return c.Type != "" && c.Type != ChallengeNone
}
