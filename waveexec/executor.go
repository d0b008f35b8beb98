// Package waveexec implements the wave executor (C2): bounded-parallelism
// execution of one wave's atoms, then a whole plan wave by wave.
package waveexec

import (
	"context"
	"fmt"
	"sync"
	"time"

	"goa.design/atomexec/atom"
	"goa.design/atomexec/retry"
	"goa.design/atomexec/runtime/telemetry"
)

// DefaultMaxConcurrency is the per-wave concurrency cap used when
// Options.MaxConcurrency is unset.
const DefaultMaxConcurrency = 100

// Options configures an Executor.
type Options struct {
	// MaxConcurrency is the per-wave counting-semaphore capacity. Must be at
	// least 1; defaults to DefaultMaxConcurrency.
	MaxConcurrency int
	// AbortPlanOnWaveFailure stops ExecutePlan from scheduling further waves
	// once a wave reports atoms_failed > 0. Defaults to false, matching the
	// reference design's behavior of never short-circuiting (§4.2.6).
	AbortPlanOnWaveFailure bool

	Orchestrator *retry.Orchestrator
	Metrics      telemetry.Metrics
	Logger       telemetry.Logger
}

// Executor runs waves of atoms under a bounded concurrency.
type Executor struct {
	maxConcurrency int
	abortOnFailure bool

	orchestrator *retry.Orchestrator
	metrics      telemetry.Metrics
	logger       telemetry.Logger
}

// New builds an Executor from opts, applying defaults for zero values.
func New(opts Options) (*Executor, error) {
	if opts.Orchestrator == nil {
		return nil, fmt.Errorf("waveexec: orchestrator is required")
	}
	concurrency := opts.MaxConcurrency
	if concurrency <= 0 {
		concurrency = DefaultMaxConcurrency
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Executor{
		maxConcurrency: concurrency,
		abortOnFailure: opts.AbortPlanOnWaveFailure,
		orchestrator:   opts.Orchestrator,
		metrics:        metrics,
		logger:         logger,
	}, nil
}

type atomOutcome struct {
	index  int
	result atom.ExecutionResult
}

// ExecuteWave runs every atom in waveAtoms under the configured concurrency
// cap, resolving each atom's dependencies from allAtomsByID (missing
// identifiers are silently skipped, representing externally satisfied or
// trimmed dependencies). A failure in one atom never cancels or prevents
// others in the same wave.
func (e *Executor) ExecuteWave(ctx context.Context, waveIndex int, waveAtoms []atom.Atom, allAtomsByID map[atom.Ident]atom.Atom, masterplanID string) atom.WaveResult {
	start := time.Now()
	if len(waveAtoms) == 0 {
		return atom.WaveResult{WaveIndex: waveIndex}
	}

	concurrency := e.maxConcurrency
	if concurrency > len(waveAtoms) {
		concurrency = len(waveAtoms)
	}
	if concurrency < 1 {
		concurrency = 1
	}

	sem := make(chan struct{}, concurrency)
	outcomes := make(chan atomOutcome, len(waveAtoms))
	var wg sync.WaitGroup

	for i, a := range waveAtoms {
		a := a
		i := i
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			outcomes <- atomOutcome{index: i, result: e.executeAtom(ctx, waveIndex, a, allAtomsByID, masterplanID)}
		}()
	}

	go func() {
		wg.Wait()
		close(outcomes)
	}()

	results := make([]atom.ExecutionResult, len(waveAtoms))
	for o := range outcomes {
		results[o.index] = o.result
	}

	var succeeded, failed, totalAttempts int
	for _, r := range results {
		if r.Retry.Success {
			succeeded++
		} else {
			failed++
		}
		totalAttempts += r.Retry.Attempts
	}
	avgAttempts := 0.0
	if len(results) > 0 {
		avgAttempts = float64(totalAttempts) / float64(len(results))
	}

	elapsed := time.Since(start)
	e.metrics.RecordTimer(telemetry.MetricWaveDuration, elapsed, "wave_id", fmt.Sprint(waveIndex))
	e.metrics.RecordGauge(telemetry.MetricWaveAtomsFailed, float64(failed), "wave_id", fmt.Sprint(waveIndex))
	if len(results) > 0 {
		e.metrics.RecordTimer("wave_atom_throughput", elapsed/time.Duration(len(results)), "wave_id", fmt.Sprint(waveIndex))
	}

	return atom.WaveResult{
		WaveIndex:       waveIndex,
		Results:         results,
		Succeeded:       succeeded,
		Failed:          failed,
		Elapsed:         elapsed,
		AverageAttempts: avgAttempts,
	}
}

// executeAtom resolves a's dependencies, invokes the retry orchestrator, and
// recovers any panic from the orchestrator into a failed Execution Result so
// a single atom's fault can never affect its wave siblings.
func (e *Executor) executeAtom(ctx context.Context, waveIndex int, a atom.Atom, allAtomsByID map[atom.Ident]atom.Atom, masterplanID string) (res atom.ExecutionResult) {
	start := time.Now()
	res = atom.ExecutionResult{WaveIndex: waveIndex, AtomID: a.ID}

	defer func() {
		if r := recover(); r != nil {
			res.Retry = atom.RetryResult{
				Success:    false,
				FatalError: fmt.Sprintf("panic: %v", r),
			}
			res.Elapsed = time.Since(start)
		}
	}()

	deps := make([]atom.Atom, 0, len(a.DependsOn))
	for _, depID := range a.DependsOn {
		if d, ok := allAtomsByID[depID]; ok {
			deps = append(deps, d)
		}
	}

	result := e.orchestrator.ExecuteWithRetry(ctx, a, deps, masterplanID)
	outcome := "failed"
	if result.Success {
		outcome = "succeeded"
	}
	e.metrics.IncCounter(fmt.Sprintf("atoms_%s_total", outcome), 1, "wave_id", fmt.Sprint(waveIndex), "masterplan_id", masterplanID)
	e.metrics.RecordTimer("atom_execution_time_seconds", time.Since(start), "atom_id", a.ID.String())

	res.Retry = result
	res.Elapsed = time.Since(start)
	return res
}

// ExecutePlan runs every wave of plan strictly in order against
// allAtomsByID, returning the ordered Wave Results. By default it does not
// short-circuit on wave failure (matches §4.2.6); set
// Options.AbortPlanOnWaveFailure to stop scheduling further waves once a
// wave reports a failed atom.
func (e *Executor) ExecutePlan(ctx context.Context, plan atom.Plan, allAtomsByID map[atom.Ident]atom.Atom, masterplanID string) []atom.WaveResult {
	results := make([]atom.WaveResult, 0, len(plan.Waves))
	for _, wave := range plan.Waves {
		waveAtoms := make([]atom.Atom, 0, len(wave.Atoms))
		for _, id := range wave.Atoms {
			if a, ok := allAtomsByID[id]; ok {
				waveAtoms = append(waveAtoms, a)
			}
		}
		result := e.ExecuteWave(ctx, wave.Index, waveAtoms, allAtomsByID, masterplanID)
		results = append(results, result)
		if e.abortOnFailure && result.Failed > 0 {
			break
		}
	}
	return results
}
