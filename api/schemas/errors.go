// -- api/schemas/errors.go --
package schemas

import "errors"

// Sentinel errors shared across the pipeline. Components return these
// (wrapped with context); the target session translates them into the
// matching SubmissionOutcome variant at its boundary. Anything that is not
// one of these is treated as an invariant violation and allowed to escape.
var (
	// ErrUnreachable wraps navigation and network failures. Transient: no
	// cache penalty, eligible for retry on a later run.
	ErrUnreachable = errors.New("site unreachable")

	// ErrNoFormFound means the site loaded but no qualifying contact form
	// was located. Cache-penalized via the consecutive-failure counter.
	ErrNoFormFound = errors.New("no contact form found")

	// ErrNoContactPage means resolution found neither a scored link nor a
	// conventional path that loads.
	ErrNoContactPage = errors.New("no contact page resolved")
)
