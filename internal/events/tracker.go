// File: internal/events/tracker.go
package events

import (
	"sync"

	"github.com/formcourier/formcourier/api/schemas"
)

// Tracker maintains the last known status per target, merged through the
// priority lattice. Transports may reorder delivery; applying events here
// guarantees a terminal status never regresses to in-progress.
type Tracker struct {
	mu     sync.RWMutex
	latest map[string]schemas.Event
}

// NewTracker creates an empty status tracker.
func NewTracker() *Tracker {
	return &Tracker{latest: map[string]schemas.Event{}}
}

// Apply merges one event. It is accepted when its kind outranks the
// recorded status, or ties it at non-terminal rank with a newer sequence
// number. Returns true when the recorded status changed.
func (t *Tracker) Apply(ev schemas.Event) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur, ok := t.latest[ev.TargetID]
	if !ok {
		t.latest[ev.TargetID] = ev
		return true
	}

	curPrio, newPrio := cur.Kind.Priority(), ev.Kind.Priority()
	switch {
	case newPrio > curPrio:
		t.latest[ev.TargetID] = ev
		return true
	case newPrio == curPrio && !cur.Kind.Terminal() && ev.Seq > cur.Seq:
		// Same rank, fresher event: in-progress stages advance among
		// themselves. Terminal states are final, first writer wins.
		t.latest[ev.TargetID] = ev
		return true
	}
	return false
}

// Status returns the recorded event for a target.
func (t *Tracker) Status(targetID string) (schemas.Event, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ev, ok := t.latest[targetID]
	return ev, ok
}

// Snapshot returns a copy of every target's recorded status.
func (t *Tracker) Snapshot() map[string]schemas.Event {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]schemas.Event, len(t.latest))
	for k, v := range t.latest {
		out[k] = v
	}
	return out
}
