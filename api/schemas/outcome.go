// -- api/schemas/outcome.go --
package schemas

import "fmt"

// OutcomeKind is the top-level tag of a SubmissionOutcome.
type OutcomeKind string

const (
	OutcomeSuccess OutcomeKind = "success"
	OutcomeBlocked OutcomeKind = "blocked"
	OutcomeFailed  OutcomeKind = "failed"
	// OutcomeTimedOut is produced by the session deadline, not the executor,
	// but reported through the same channel as every other terminal result.
	OutcomeTimedOut OutcomeKind = "timed_out"
)

// BlockReason explains a Blocked outcome.
type BlockReason string

const (
	BlockChallenge   BlockReason = "challenge"
	BlockNoForm      BlockReason = "no_form"
	BlockUnreachable BlockReason = "unreachable"
)

// FailureBlocker explains a Failed outcome.
type FailureBlocker string

const (
	FailSubmitControlMissing     FailureBlocker = "submit_control_missing"
	FailClickStrategiesExhausted FailureBlocker = "click_strategies_exhausted"
	FailValidationError          FailureBlocker = "validation_error_visible"
	FailAmbiguousNoSignal        FailureBlocker = "ambiguous_no_signal"
)

// VerificationSignal names which post-click check confirmed a success.
type VerificationSignal string

const (
	VerifyURLChange      VerificationSignal = "url_change"
	VerifySuccessMessage VerificationSignal = "success_message"
	VerifyFormGone       VerificationSignal = "form_gone"
	VerifyThankYouText   VerificationSignal = "thank_you_text"
)

// SubmissionOutcome is the single terminal result of one attempt. Exactly
// one outcome is produced per target per run; it is what the record store
// receives and what the event stream reports.
type SubmissionOutcome struct {
	Kind OutcomeKind `json:"kind"`

	// Success fields.
	Method       string             `json:"method,omitempty"`
	Verification VerificationSignal `json:"verification,omitempty"`

	// Blocked fields.
	Reason        BlockReason   `json:"reason,omitempty"`
	ChallengeType ChallengeType `json:"challenge_type,omitempty"`

	// Failed fields.
	Blocker FailureBlocker `json:"blocker,omitempty"`

	// ClickDispatched means the submit click chain actually fired. It
	// separates post-click results (verified success, ambiguous silence)
	// from pre-submit stops like a missing control or a late challenge,
	// where the form never went out.
	ClickDispatched bool `json:"click_dispatched,omitempty"`

	Detail string `json:"detail,omitempty"`
}

// SuccessOutcome records a verified submission.
func SuccessOutcome(method string, signal VerificationSignal) SubmissionOutcome {
	return SubmissionOutcome{Kind: OutcomeSuccess, Method: method, Verification: signal, ClickDispatched: true}
}

// BlockedOutcome records an attempt stopped by external site state.
func BlockedOutcome(reason BlockReason, detail string) SubmissionOutcome {
	return SubmissionOutcome{Kind: OutcomeBlocked, Reason: reason, Detail: detail}
}

// ChallengeOutcome records a challenge block with its detected type so the
// event stream can surface it for human review.
func ChallengeOutcome(ct ChallengeType, detail string) SubmissionOutcome {
	return SubmissionOutcome{Kind: OutcomeBlocked, Reason: BlockChallenge, ChallengeType: ct, Detail: detail}
}

// FailedOutcome records a structural failure of the page's submit mechanism.
func FailedOutcome(blocker FailureBlocker, detail string) SubmissionOutcome {
	return SubmissionOutcome{Kind: OutcomeFailed, Blocker: blocker, Detail: detail}
}

// TimedOutOutcome records a session that hit its overall deadline.
func TimedOutOutcome(state SessionState) SubmissionOutcome {
	return SubmissionOutcome{Kind: OutcomeTimedOut, Detail: fmt.Sprintf("deadline exceeded in state %s", state)}
}

// Succeeded reports whether the outcome is a verified success.
func (o SubmissionOutcome) Succeeded() bool { return o.Kind == OutcomeSuccess }

// HumanReason renders a short operator-facing explanation. Every target ends
// with one of these in its terminal event; nothing is left silently
// unresolved.
func (o SubmissionOutcome) HumanReason() string {
	switch o.Kind {
	case OutcomeSuccess:
		return fmt.Sprintf("submitted (verified via %s)", o.Verification)
	case OutcomeBlocked:
		if o.Reason == BlockChallenge && o.ChallengeType != "" {
			return fmt.Sprintf("blocked by %s challenge, needs human follow-up", o.ChallengeType)
		}
		return fmt.Sprintf("blocked: %s", o.Reason)
	case OutcomeFailed:
		if o.Detail != "" {
			return fmt.Sprintf("failed: %s (%s)", o.Blocker, o.Detail)
		}
		return fmt.Sprintf("failed: %s", o.Blocker)
	case OutcomeTimedOut:
		return "timed out before reaching a terminal state"
	}
	return string(o.Kind)
}

// EventKind maps the outcome to its terminal event kind.
func (o SubmissionOutcome) EventKind() EventKind {
	switch o.Kind {
	case OutcomeSuccess:
		return EventSucceeded
	case OutcomeTimedOut:
		return EventTimedOut
	case OutcomeBlocked:
		if o.Reason == BlockChallenge {
			return EventChallengeDetected
		}
		if o.Reason == BlockNoForm {
			return EventFormNotFound
		}
		return EventFailed
	default:
		return EventFailed
	}
}
