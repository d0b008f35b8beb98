// Package atom defines the data model shared by the execution core: the
// atomic code-generation unit, the wave/plan structures that schedule it,
// and the result types the retry orchestrator, wave executor, and
// execution service produce as they drive atoms to completion.
//
// Types in this package are produced by collaborators upstream of the core
// (atomization, dependency-graph construction, wave assignment) and are
// treated as immutable inputs here, except for the Result types which the
// core itself produces.
package atom

import "time"

type (
	// Ident identifies an Atom. Atom identifiers are opaque strings assigned
	// by the atomization collaborator; the core never generates them.
	Ident string

	// Severity classifies a validator issue.
	Severity string

	// Status is the lifecycle state of an Execution (a run).
	Status string

	// Atom is the smallest self-contained unit the LLM is asked to produce:
	// roughly one function, class, or small module. Atom is immutable to the
	// core; the core only ever reads its fields.
	Atom struct {
		// ID uniquely identifies this atom within a masterplan.
		ID Ident
		// Spec is the natural-language description of what to generate.
		Spec string
		// Language is the target programming language tag (e.g. "python", "go").
		Language string
		// DependsOn lists, in declared order, the identifiers of atoms this
		// atom depends on. Order matters: only the first MaxDependencyContext
		// of these are rendered into the prompt (see retry.Orchestrator).
		DependsOn []Ident
		// Code holds the atom's source: code supplied with the atom, or, in
		// the execution service's own copy of the atom table, the
		// validator-passing output once the atom succeeds. Later waves render
		// it as dependency context.
		Code string
	}

	// Wave is an ordered collection of atoms whose dependencies are fully
	// satisfied by atoms in strictly earlier waves.
	Wave struct {
		// Index is the wave's position in the plan, starting at 0.
		Index int
		// Atoms are the atom identifiers scheduled in this wave. Order within
		// a wave carries no execution-order guarantee.
		Atoms []Ident
	}

	// Plan is a sequence of waves covering every atom exactly once. Planning
	// collaborators guarantee that every atom's dependencies resolve to a
	// strictly earlier wave or to an identifier absent from the plan's atom
	// set (an externally- or previously-satisfied atom).
	Plan struct {
		// MasterplanID labels the parent artefact this plan belongs to. The
		// core treats it only as a label for metrics and logging.
		MasterplanID string
		// Waves are the plan's waves in execution order.
		Waves []Wave
	}

	// Issue is a single validator finding attached to an attempt.
	Issue struct {
		Severity Severity
		Message  string
	}

	// AttemptResult captures the outcome of one LLM call plus one validator
	// call for a single atom.
	AttemptResult struct {
		// Attempt is the 1-indexed attempt number.
		Attempt int
		// Temperature is the sampling temperature used for this attempt.
		Temperature float64
		// Code is the code extracted from the LLM output, possibly empty.
		Code string
		// Passed reports the validator's verdict for Code.
		Passed bool
		// Issues lists every issue the validator reported, regardless of
		// severity (RetryResult.Errors only accumulates critical/error ones).
		Issues []Issue
		// PortError holds the LLM or validator port failure message when the
		// attempt failed because of a port-level error rather than a failing
		// validation, empty otherwise.
		PortError string
	}

	// TokenUsage reports LLM port token consumption. Duplicated from
	// ports.Usage (rather than referencing it) because the ports package
	// depends on atom, and atom must not depend back on ports.
	TokenUsage struct {
		InputTokens  int
		OutputTokens int
	}

	// RetryResult is the outcome of driving a single atom through the retry
	// orchestrator across all of its attempts.
	RetryResult struct {
		// Success reports whether some attempt produced validator-passing code.
		Success bool
		// Code is the final code: the passing attempt's code on success, or
		// the last attempt's (failing) code on exhaustion.
		Code string
		// Attempts is the number of attempts actually used, 1..maxAttempts.
		Attempts int
		// History holds every attempt made, in order, for introspection.
		History []AttemptResult
		// Errors accumulates the critical/error-severity issue messages fed
		// back into subsequent attempts' prompts, across all attempts.
		Errors []string
		// Elapsed is the total wall-clock time spent across all attempts.
		Elapsed time.Duration
		// FatalError is the failing attempt's terminal error message,
		// populated only when Success is false.
		FatalError string
		// TotalUsage sums LLM token usage across every attempt made,
		// including failing ones, for execution-level cost aggregation.
		TotalUsage TokenUsage
	}

	// ExecutionResult wraps a RetryResult with the wave and atom context the
	// wave executor adds.
	ExecutionResult struct {
		WaveIndex int
		AtomID    Ident
		Retry     RetryResult
		Elapsed   time.Duration
	}

	// WaveResult aggregates the execution results of every atom in one wave.
	WaveResult struct {
		WaveIndex     int
		Results       []ExecutionResult
		Succeeded     int
		Failed        int
		Elapsed       time.Duration
		AverageAttempts float64
	}
)

const (
	// SeverityCritical marks an issue that must block validation and is fed
	// back into the next attempt's prompt.
	SeverityCritical Severity = "critical"
	// SeverityError marks an issue that blocks validation and is fed back
	// into the next attempt's prompt.
	SeverityError Severity = "error"
	// SeverityWarning marks a non-blocking issue; never fed back.
	SeverityWarning Severity = "warning"
	// SeverityInfo marks an informational note; never fed back.
	SeverityInfo Severity = "info"
)

const (
	// StatusPending is the transient state a run is constructed in before
	// being flipped to StatusRunning.
	StatusPending Status = "pending"
	// StatusRunning is set for the duration of the background drive loop.
	StatusRunning Status = "running"
	// StatusPaused is set at the next wave boundary after a pause request.
	StatusPaused Status = "paused"
	// StatusCompleted is terminal: every atom succeeded.
	StatusCompleted Status = "completed"
	// StatusFailed is terminal: at least one atom failed, or the drive loop
	// encountered an uncaught error.
	StatusFailed Status = "failed"
)

// IsBlocking reports whether the severity is fed back into the next retry
// attempt's prompt (critical or error), as opposed to warning/info which are
// recorded on the AttemptResult but never echoed back to the model.
func (s Severity) IsBlocking() bool {
	return s == SeverityCritical || s == SeverityError
}

// Terminal reports whether the status is one of the two terminal states from
// which no further transition is permitted.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// String returns the identifier's string form.
func (id Ident) String() string {
	return string(id)
}

// String returns the status's wire form, e.g. "running".
func (s Status) String() string {
	return string(s)
}

// AtomCount returns the total number of atoms covered by the plan.
func (p Plan) AtomCount() int {
	n := 0
	for _, w := range p.Waves {
		n += len(w.Atoms)
	}
	return n
}
