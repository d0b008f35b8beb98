package execsvc

import (
	"time"

	"goa.design/atomexec/atom"
)

type (
	// ExecutionState is the full snapshot returned by getState, defensively
	// copied out of the service's internal run record.
	ExecutionState struct {
		RunID            string
		MasterplanID     string
		Status           atom.Status
		CurrentWave      int
		TotalWaves       int
		AtomsTotal       int
		AtomsCompleted   int
		AtomsSucceeded   int
		AtomsFailed      int
		StartedAt        time.Time
		CompletedAt      time.Time
		TotalTimeSeconds float64
		// Error holds the uncaught drive-loop fault message, set only when
		// Status is StatusFailed because of an internal fault rather than a
		// clean atom failure.
		Error string
	}

	// ExecutionProgress is the derived view returned by getProgress.
	ExecutionProgress struct {
		RunID             string
		CompletionPercent float64
		PrecisionPercent  float64
		CurrentWave       int
		TotalWaves        int
		AtomsTotal        int
		AtomsCompleted    int
		AtomsSucceeded    int
		AtomsFailed       int
	}

	// ExecutionMetrics is the aggregated counters and derived precision
	// returned by getMetrics.
	ExecutionMetrics struct {
		RunID            string
		AtomsTotal       int
		AtomsSucceeded   int
		AtomsFailed      int
		PrecisionPercent float64
		TotalTimeSeconds float64
		TotalUsage       atom.TokenUsage
		EstimatedCostUSD float64
	}
)
