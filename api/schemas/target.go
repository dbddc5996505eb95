// -- api/schemas/target.go --
package schemas

import (
	"strings"
	"time"
)

// Payload holds the values supplied for one submission attempt.
// Fields with empty values are skipped during form filling rather than
// treated as errors; third-party forms rarely ask for everything.
type Payload struct {
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Email      string `json:"email"`
	Phone      string `json:"phone"`
	PostalCode string `json:"postal_code"`
	Message    string `json:"message"`
	Consent    bool   `json:"consent"`
}

// FullName joins the first and last name for forms that expose a single
// combined name input.
func (p Payload) FullName() string {
	return strings.TrimSpace(strings.TrimSpace(p.FirstName) + " " + strings.TrimSpace(p.LastName))
}

// Target is one business to contact. It is immutable for the duration of a
// single attempt; re-runs construct a fresh Target from the record store.
type Target struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	SiteURL    string    `json:"site_url"`
	Payload    Payload   `json:"payload"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// ResolvedPage is the result of a successful contact-page resolution.
type ResolvedPage struct {
	URL string `json:"url"`
	// Confidence reflects how the URL was found: a high value for a scored
	// navigation link, lower for a conventional-path probe.
	Confidence float64 `json:"confidence"`
	// FromCache is true when the URL came straight out of the resolution
	// cache instead of a fresh crawl of the site root.
	FromCache bool `json:"from_cache"`
}
