// -- api/schemas/session.go --
package schemas

// SessionState is one step of the per-target attempt lifecycle.
type SessionState string

const (
	StateQueued         SessionState = "queued"
	StateResolving      SessionState = "resolving"
	StateChallengeCheck SessionState = "challenge_check"
	StateAnalyzing      SessionState = "analyzing"
	StateFilling        SessionState = "filling"
	StateSubmitting     SessionState = "submitting"
	StateVerifying      SessionState = "verifying"
	StateCompleted      SessionState = "completed"
	StateTimedOut       SessionState = "timed_out"
)

// stateRank orders the forward progression. TimedOut and Completed are
// terminal; TimedOut is reachable from any non-terminal state.
var stateRank = map[SessionState]int{
	StateQueued:         0,
	StateResolving:      1,
	StateChallengeCheck: 2,
	StateAnalyzing:      3,
	StateFilling:        4,
	StateSubmitting:     5,
	StateVerifying:      6,
	StateCompleted:      7,
	StateTimedOut:       7,
}

// Terminal reports whether no further transitions can occur.
func (s SessionState) Terminal() bool {
	return s == StateCompleted || s == StateTimedOut
}

// CanTransition reports whether moving from s to next is legal: strictly
// forward, never out of a terminal state. Completion is allowed from any
// non-terminal state because blocked/failed attempts short-circuit the
// pipeline (a challenge check ends the attempt without ever filling).
func (s SessionState) CanTransition(next SessionState) bool {
	if s.Terminal() {
		return false
	}
	if next == StateTimedOut || next == StateCompleted {
		return true
	}
	return stateRank[next] == stateRank[s]+1
}
