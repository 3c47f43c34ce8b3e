package syncer

import (
	"time"

	"github.com/petal-labs/toolgarden/catalog"
)

// EventKind identifies a sync pipeline event.
type EventKind string

const (
	EventRunStarted     EventKind = "run_started"
	EventRunFinished    EventKind = "run_finished"
	EventChangeApplied  EventKind = "change_applied"
	EventChangeSkipped  EventKind = "change_skipped"
	EventChangeErrored  EventKind = "change_errored"
	EventOrphansDeleted EventKind = "orphans_deleted"
	EventHealthQueued   EventKind = "health_queued"
)

// Event is one observation from a sync run. Handlers receive events
// synchronously and must not block.
type Event struct {
	Kind    EventKind
	Source  string
	Package string
	Outcome catalog.SyncOutcome
	Count   int
	Elapsed time.Duration
	Err     string
}

// EventHandler consumes sync events, e.g. to record metrics.
type EventHandler func(Event)

func (o *Orchestrator) emit(e Event) {
	if o.onEvent != nil {
		o.onEvent(e)
	}
}
