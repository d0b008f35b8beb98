// Package runlog provides an append-only event log for execution runs: the
// Results Index's audit trail. The execution service appends run and wave
// events (start, completion, pause, resume); callers list them using opaque
// forward cursors.
//
// The shipped Store implementations are in-memory only; see package inmem.
// Durable persistence is out of scope for the execution core (§6.4).
package runlog

import (
	"context"
	"encoding/json"
	"time"
)

// EventType names the kind of execution event recorded in the log.
type EventType string

const (
	// EventExecutionStarted is appended once when a run transitions to running.
	EventExecutionStarted EventType = "execution.started"
	// EventWaveStarted is appended when a wave begins scheduling its atoms.
	EventWaveStarted EventType = "wave.started"
	// EventAtomAttempt names the event for one retry attempt of an atom. The
	// execution service does not append it.
	EventAtomAttempt EventType = "atom.attempt"
	// EventAtomCompleted names the event for an atom whose retry loop has
	// concluded. The execution service does not append it.
	EventAtomCompleted EventType = "atom.completed"
	// EventWaveCompleted is appended when a wave's atoms have all concluded.
	EventWaveCompleted EventType = "wave.completed"
	// EventExecutionPaused is appended when a run pauses at a wave boundary.
	EventExecutionPaused EventType = "execution.paused"
	// EventExecutionResumed is appended when a paused run resumes.
	EventExecutionResumed EventType = "execution.resumed"
	// EventExecutionCompleted is appended once a run reaches a terminal state.
	EventExecutionCompleted EventType = "execution.completed"
)

type (
	// Event is a single immutable execution event appended to the run log.
	//
	// Store implementations assign ID when persisting the event. IDs are
	// opaque, monotonically ordered within a run, and suitable for
	// cursor-based pagination.
	Event struct {
		// ID is the store-assigned opaque identifier for this event.
		ID string
		// RunID is the identifier of the execution run this event belongs to.
		RunID string
		// Type is the kind of event.
		Type EventType
		// Payload is the canonical JSON-encoded payload for the event, typed
		// per Type (e.g. an atom.AttemptResult for EventAtomAttempt).
		Payload json.RawMessage
		// Timestamp is the event time.
		Timestamp time.Time
	}

	// Page is a forward page of run events.
	Page struct {
		// Events are ordered oldest-first.
		Events []*Event
		// NextCursor is the cursor to use to fetch the next page. Empty when
		// there are no further events.
		NextCursor string
	}

	// Store is an append-only event store backing the Results Index.
	//
	// Implementations must provide stable ordering within a run. Cursor
	// values are store-owned and opaque to callers.
	Store interface {
		// Append stores the event in the run log, assigning its ID.
		Append(ctx context.Context, e *Event) error

		// List returns the next forward page of events for runID. cursor is
		// an opaque value returned by a previous call to List, or empty to
		// start from the beginning. limit must be greater than zero.
		List(ctx context.Context, runID string, cursor string, limit int) (Page, error)
	}
)
