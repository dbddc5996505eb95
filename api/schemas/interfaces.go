// -- api/schemas/interfaces.go --
package schemas

import (
	"context"
	"time"
)

// ClickStrategy names one way of dispatching a click on an element. The
// executor walks these in order until one succeeds.
type ClickStrategy string

const (
	// ClickStandard is a plain trusted click on the element's center.
	ClickStandard ClickStrategy = "standard"
	// ClickForced clicks at the element's coordinates without checking for
	// overlay interception.
	ClickForced ClickStrategy = "forced"
	// ClickScript invokes the element's click() method in page script.
	ClickScript ClickStrategy = "script"
	// ClickSynthetic dispatches a synthetic MouseEvent at the element.
	ClickSynthetic ClickStrategy = "synthetic"
)

// BrowserSession is one live, isolated browser tab. Implementations must
// treat navigation and interaction timeouts as ordinary errors; the session
// layer classifies them as unreachable rather than crashing. Close is safe
// to call more than once and must bound its own wait.
type BrowserSession interface {
	ID() string
	Navigate(ctx context.Context, url string, timeout time.Duration) error
	CurrentURL(ctx context.Context) (string, error)
	// DOM returns an outer-HTML snapshot of the document, the input for the
	// pure analyzer and detector heuristics.
	DOM(ctx context.Context) (string, error)
	Exists(ctx context.Context, selector string) (bool, error)
	Visible(ctx context.Context, selector string) (bool, error)
	Text(ctx context.Context, selector string) (string, error)
	Type(ctx context.Context, selector, value string) error
	SetChecked(ctx context.Context, selector string, checked bool) error
	Click(ctx context.Context, selector string, strategy ClickStrategy) error
	Screenshot(ctx context.Context) ([]byte, error)
	Close(ctx context.Context) error
}

// SessionManager owns the browser process and hands out isolated sessions.
type SessionManager interface {
	OpenSession(ctx context.Context) (BrowserSession, error)
	Shutdown(ctx context.Context) error
}

// AttemptMetadata accompanies a terminal outcome to the record store.
type AttemptMetadata struct {
	AttemptID     string        `json:"attempt_id"`
	ResolvedURL   string        `json:"resolved_url,omitempty"`
	Duration      time.Duration `json:"duration"`
	ScreenshotRef string        `json:"screenshot_ref,omitempty"`
	CompletedAt   time.Time     `json:"completed_at"`
}

// RecordStore supplies targets and accepts terminal outcomes.
type RecordStore interface {
	NextTargets(ctx context.Context, limit int) ([]Target, error)
	RecordOutcome(ctx context.Context, targetID string, outcome SubmissionOutcome, meta AttemptMetadata) error
}

// EventSink consumes the ordered event stream. Publish must not block the
// caller for long; slow consumers are the sink's problem.
type EventSink interface {
	Publish(ev Event)
}

// ScreenshotSink stores a captured screenshot and returns a reference that
// is stable enough to hand to the record store and event stream. Encoding
// and storage run off the session's critical path.
type ScreenshotSink interface {
	Store(ctx context.Context, targetID string, png []byte) (string, error)
}
