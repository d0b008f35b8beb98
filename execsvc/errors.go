package execsvc

import "fmt"

// NotFoundError is returned when a run, wave, or atom identifier cannot be
// located. Maps to HTTP 404 at the Control API.
type NotFoundError struct {
	Kind string // "run", "wave", or "atom"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("execsvc: %s %q not found", e.Kind, e.ID)
}

// InvalidStateError is returned when pause/resume is requested from a state
// that does not permit it. Maps to HTTP 400 at the Control API.
type InvalidStateError struct {
	RunID   string
	Current string
	Wanted  string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("execsvc: run %q is %s, cannot transition to %s", e.RunID, e.Current, e.Wanted)
}
