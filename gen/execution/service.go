// Package execution is the hand-authored equivalent of a goa-generated
// service package for the "execution" service defined in design.design: the
// Service interface, its payload/result types, and the Endpoints wrapper
// that exposes each method as a goa.Endpoint so transport and middleware
// layers can be composed uniformly regardless of which protocol carries
// them.
package execution

import (
	"context"
	"time"

	goa "goa.design/goa/v3/pkg"
)

// Service is the execution control API surface: starting runs and observing
// or steering them to completion.
type Service interface {
	// Start begins driving a plan to completion in the background and
	// returns immediately with the freshly minted run id.
	Start(context.Context, *StartPayload) (*StartResult, error)
	// Health reports liveness and the count of non-terminal runs.
	Health(context.Context) (*HealthResult, error)
	// GetState returns the full Execution State snapshot for a run.
	GetState(context.Context, *RunIDPayload) (*ExecutionStateResult, error)
	// GetProgress returns the derived completion/precision view for a run.
	GetProgress(context.Context, *RunIDPayload) (*ProgressResult, error)
	// GetWaveResult returns the aggregate result of one wave of a run.
	GetWaveResult(context.Context, *WaveQueryPayload) (*WaveResultType, error)
	// GetAtomResult returns the result of one atom of a run.
	GetAtomResult(context.Context, *AtomQueryPayload) (*ExecutionResultType, error)
	// Pause requests a cooperative pause at the next wave boundary.
	Pause(context.Context, *RunIDPayload) (*AcknowledgementResult, error)
	// Resume clears a pending pause and lets the drive loop continue.
	Resume(context.Context, *RunIDPayload) (*AcknowledgementResult, error)
	// GetMetrics returns aggregated counters and derived precision for a run.
	GetMetrics(context.Context, *RunIDPayload) (*MetricsResult, error)
}

// ServiceName is the name registered with the goa endpoint and HTTP layers.
const ServiceName = "execution"

// MethodNames lists the methods in the order they're declared in the design,
// mirroring the slice goa's codegen emits for introspection and logging.
var MethodNames = [9]string{"start", "health", "get_state", "get_progress", "get_wave_result", "get_atom_result", "pause", "resume", "get_metrics"}

type (
	AtomType struct {
		ID        string
		Spec      string
		Language  string
		DependsOn []string
		Code      string
	}

	WaveType struct {
		Index int
		Atoms []string
	}

	PlanType struct {
		MasterplanID string
		Waves        []WaveType
	}

	StartPayload struct {
		MasterplanID string
		Plan         PlanType
		AtomsByID    map[string]AtomType
	}

	StartResult struct {
		ExecutionID string
		Status      string
	}

	RunIDPayload struct {
		RunID string
	}

	WaveQueryPayload struct {
		RunID     string
		WaveIndex int
	}

	AtomQueryPayload struct {
		RunID  string
		AtomID string
	}

	HealthResult struct {
		Status     string
		ActiveRuns int
	}

	ExecutionStateResult struct {
		RunID            string
		MasterplanID     string
		Status           string
		CurrentWave      int
		TotalWaves       int
		AtomsTotal       int
		AtomsCompleted   int
		AtomsSucceeded   int
		AtomsFailed      int
		StartedAt        time.Time
		CompletedAt      time.Time
		TotalTimeSeconds float64
		Error            string
	}

	ProgressResult struct {
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

	ExecutionResultType struct {
		WaveIndex      int
		AtomID         string
		Success        bool
		Attempts       int
		Code           string
		Errors         []string
		FatalError     string
		ElapsedSeconds float64
	}

	WaveResultType struct {
		WaveIndex       int
		Results         []ExecutionResultType
		Succeeded       int
		Failed          int
		ElapsedSeconds  float64
		AverageAttempts float64
	}

	MetricsResult struct {
		RunID             string
		AtomsTotal        int
		AtomsSucceeded    int
		AtomsFailed       int
		PrecisionPercent  float64
		TotalTimeSeconds  float64
		TotalInputTokens  int
		TotalOutputTokens int
		EstimatedCostUSD  float64
	}

	AcknowledgementResult struct {
		RunID  string
		Status string
	}
)

// Endpoints wraps each Service method as a goa.Endpoint, letting transport
// layers and cross-cutting middleware (logging, recovery, tracing) compose
// uniformly without depending on the concrete Service type.
type Endpoints struct {
	Start         goa.Endpoint
	Health        goa.Endpoint
	GetState      goa.Endpoint
	GetProgress   goa.Endpoint
	GetWaveResult goa.Endpoint
	GetAtomResult goa.Endpoint
	Pause         goa.Endpoint
	Resume        goa.Endpoint
	GetMetrics    goa.Endpoint
}

// NewEndpoints wraps the methods of svc into goa endpoints.
func NewEndpoints(svc Service) *Endpoints {
	return &Endpoints{
		Start: func(ctx context.Context, req any) (any, error) {
			return svc.Start(ctx, req.(*StartPayload))
		},
		Health: func(ctx context.Context, _ any) (any, error) {
			return svc.Health(ctx)
		},
		GetState: func(ctx context.Context, req any) (any, error) {
			return svc.GetState(ctx, req.(*RunIDPayload))
		},
		GetProgress: func(ctx context.Context, req any) (any, error) {
			return svc.GetProgress(ctx, req.(*RunIDPayload))
		},
		GetWaveResult: func(ctx context.Context, req any) (any, error) {
			return svc.GetWaveResult(ctx, req.(*WaveQueryPayload))
		},
		GetAtomResult: func(ctx context.Context, req any) (any, error) {
			return svc.GetAtomResult(ctx, req.(*AtomQueryPayload))
		},
		Pause: func(ctx context.Context, req any) (any, error) {
			return svc.Pause(ctx, req.(*RunIDPayload))
		},
		Resume: func(ctx context.Context, req any) (any, error) {
			return svc.Resume(ctx, req.(*RunIDPayload))
		},
		GetMetrics: func(ctx context.Context, req any) (any, error) {
			return svc.GetMetrics(ctx, req.(*RunIDPayload))
		},
	}
}

// Use applies m to every endpoint, matching the teacher's pattern for
// wiring global middleware (logging, recovery) across a generated service.
func (e *Endpoints) Use(m func(goa.Endpoint) goa.Endpoint) {
	e.Start = m(e.Start)
	e.Health = m(e.Health)
	e.GetState = m(e.GetState)
	e.GetProgress = m(e.GetProgress)
	e.GetWaveResult = m(e.GetWaveResult)
	e.GetAtomResult = m(e.GetAtomResult)
	e.Pause = m(e.Pause)
	e.Resume = m(e.Resume)
	e.GetMetrics = m(e.GetMetrics)
}
