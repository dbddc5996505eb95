// -- api/schemas/events.go --
package schemas

import "time"

// EventKind is the kind tag on a stream event.
type EventKind string

const (
	EventQueued            EventKind = "queued"
	EventResolving         EventKind = "resolving"
	EventChallengeDetected EventKind = "challenge-detected"
	EventFormNotFound      EventKind = "form-not-found"
	EventFilling           EventKind = "filling"
	EventSubmitted         EventKind = "submitted"
	EventSucceeded         EventKind = "succeeded"
	EventFailed            EventKind = "failed"
	EventTimedOut          EventKind = "timed-out"
	EventCancelled         EventKind = "cancelled"
)

// Event is one entry in the ordered stream consumed by the presentation
// layer. Seq is assigned by the bus and increases monotonically across the
// whole run, so consumers can re-order after a lossy transport.
type Event struct {
	TargetID  string    `json:"target_id"`
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Kind      EventKind `json:"kind"`

	// Optional payload. Challenge and terminal events carry the resolved URL
	// and a screenshot reference so a human can pick the target up directly.
	State         SessionState  `json:"state,omitempty"`
	ResolvedURL   string        `json:"resolved_url,omitempty"`
	ChallengeType ChallengeType `json:"challenge_type,omitempty"`
	ScreenshotRef string        `json:"screenshot_ref,omitempty"`
	Detail        string        `json:"detail,omitempty"`
}

// StatusPriority is a small lattice used when merging status updates:
// pending < in-progress < terminal, with success and failure ranked equal.
// A later event with lower-or-equal priority than a recorded terminal
// status is discarded, so out-of-order delivery can never regress a
// target's displayed status.
type StatusPriority int

const (
	PriorityNone       StatusPriority = 0
	PriorityPending    StatusPriority = 1
	PriorityInProgress StatusPriority = 2
	PriorityTerminal   StatusPriority = 3
)

// Priority places the event kind on the status lattice.
func (k EventKind) Priority() StatusPriority {
	switch k {
	case EventQueued:
		return PriorityPending
	case EventResolving, EventFilling, EventSubmitted:
		return PriorityInProgress
	case EventChallengeDetected, EventFormNotFound, EventSucceeded,
		EventFailed, EventTimedOut, EventCancelled:
		return PriorityTerminal
	}
	return PriorityNone
}

// Terminal reports whether the kind ends a target's lifecycle.
func (k EventKind) Terminal() bool {
	return k.Priority() == PriorityTerminal
}
