// Package execsvc implements the execution service (C3): it owns the run
// lifecycle state machine, exposes the query and control operations the
// Control API surfaces over HTTP, and drives a masterplan's plan to
// completion in the background via the configured engine.Engine.
package execsvc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"goa.design/atomexec/atom"
	"goa.design/atomexec/runtime/engine"
	"goa.design/atomexec/runtime/runlog"
	"goa.design/atomexec/runtime/telemetry"
	"goa.design/atomexec/waveexec"
)

// DefaultCostPerThousandTokensUSD prices estimated run cost when
// Options.CostPerThousandTokensUSD is unset. It is a rough blended estimate,
// not tied to any specific provider's pricing.
const DefaultCostPerThousandTokensUSD = 0.01

// Options configures a Service.
type Options struct {
	WaveExecutor *waveexec.Executor
	Engine       engine.Engine
	RunLog       runlog.Store // optional; nil disables event-log writes
	// Notifier, when set, is pushed a progress snapshot after every wave
	// completes, letting external dashboards subscribe instead of polling
	// getProgress. Additive to the poll surface; never required.
	Notifier ProgressNotifier
	Metrics  telemetry.Metrics
	Logger   telemetry.Logger
	// CostPerThousandTokensUSD derives ExecutionMetrics.EstimatedCostUSD from
	// TotalUsage; the cost-guard port itself only admits/records budget, it
	// does not expose a dollar figure.
	CostPerThousandTokensUSD float64
}

// ProgressNotifier publishes a run's progress snapshot to an external pub/sub
// channel. Implementations must not block the drive loop for long; a slow
// or unreachable notifier must not stall wave scheduling.
type ProgressNotifier interface {
	Publish(ctx context.Context, runID string, progress ExecutionProgress) error
}

// Service implements the execution service.
type Service struct {
	waveExecutor *waveexec.Executor
	engine       engine.Engine
	runlogStore  runlog.Store
	notifier     ProgressNotifier
	metrics      telemetry.Metrics
	logger       telemetry.Logger
	costPerK     float64

	mu   sync.RWMutex
	runs map[string]*runRecord
}

// runRecord is the service's internal, mutable record for one run. Every
// field is guarded by mu; readers must copy out data they need under lock.
type runRecord struct {
	mu sync.Mutex

	id           string
	masterplanID string
	status       atom.Status

	atomsByID map[atom.Ident]atom.Atom
	// remainingWaves holds the waves not yet executed, in order. Mutating
	// this as each wave completes is what lets a paused run resume from
	// where it left off (§4.3's resume-fidelity gap, resolved here: this
	// slice, not goroutine-local state, is the record of what's left).
	remainingWaves []atom.Wave
	totalWaves     int

	results     []atom.WaveResult
	atomResults map[atom.Ident]atom.ExecutionResult

	currentWave    int
	atomsTotal     int
	atomsCompleted int
	atomsSucceeded int
	atomsFailed    int
	totalUsage     atom.TokenUsage
	totalElapsed   time.Duration

	startedAt   time.Time
	completedAt time.Time
	errMsg      string

	handle engine.Handle
}

// New builds a Service from opts, applying defaults for zero values.
func New(opts Options) (*Service, error) {
	if opts.WaveExecutor == nil {
		return nil, fmt.Errorf("execsvc: wave executor is required")
	}
	if opts.Engine == nil {
		return nil, fmt.Errorf("execsvc: engine is required")
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	costPerK := opts.CostPerThousandTokensUSD
	if costPerK <= 0 {
		costPerK = DefaultCostPerThousandTokensUSD
	}
	return &Service{
		waveExecutor: opts.WaveExecutor,
		engine:       opts.Engine,
		runlogStore:  opts.RunLog,
		notifier:     opts.Notifier,
		metrics:      metrics,
		logger:       logger,
		costPerK:     costPerK,
		runs:         make(map[string]*runRecord),
	}, nil
}

// StartExecution allocates a new run in StatusPending, inserts it into the
// run index, starts its background drive loop, and returns the new run's
// identifier. It never blocks on the drive loop itself.
func (s *Service) StartExecution(ctx context.Context, masterplanID string, plan atom.Plan, atomsByID map[atom.Ident]atom.Atom) (string, error) {
	runID := uuid.NewString()
	rec := &runRecord{
		id:             runID,
		masterplanID:   masterplanID,
		status:         atom.StatusPending,
		atomsByID:      atomsByID,
		remainingWaves: append([]atom.Wave(nil), plan.Waves...),
		totalWaves:     len(plan.Waves),
		atomResults:    make(map[atom.Ident]atom.ExecutionResult),
		atomsTotal:     plan.AtomCount(),
	}

	s.mu.Lock()
	s.runs[runID] = rec
	s.mu.Unlock()

	h, err := s.engine.StartRun(ctx, engine.RunRequest{
		RunID:   runID,
		Handler: s.driveLoop(rec),
	})
	if err != nil {
		s.mu.Lock()
		delete(s.runs, runID)
		s.mu.Unlock()
		return "", fmt.Errorf("execsvc: start run: %w", err)
	}
	rec.mu.Lock()
	rec.handle = h
	rec.mu.Unlock()

	return runID, nil
}

// GetState returns a snapshot of a run's full state.
func (s *Service) GetState(runID string) (ExecutionState, error) {
	rec, err := s.lookup(runID)
	if err != nil {
		return ExecutionState{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return snapshotState(rec), nil
}

// ListExecutions returns a snapshot of every run, optionally filtered by
// status.
func (s *Service) ListExecutions(statusFilter atom.Status) []ExecutionState {
	s.mu.RLock()
	recs := make([]*runRecord, 0, len(s.runs))
	for _, rec := range s.runs {
		recs = append(recs, rec)
	}
	s.mu.RUnlock()

	out := make([]ExecutionState, 0, len(recs))
	for _, rec := range recs {
		rec.mu.Lock()
		st := snapshotState(rec)
		rec.mu.Unlock()
		if statusFilter != "" && st.Status != statusFilter {
			continue
		}
		out = append(out, st)
	}
	return out
}

// GetProgress returns the derived completion/precision view for a run.
func (s *Service) GetProgress(runID string) (ExecutionProgress, error) {
	rec, err := s.lookup(runID)
	if err != nil {
		return ExecutionProgress{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return ExecutionProgress{
		RunID:             rec.id,
		CompletionPercent: percent(rec.atomsCompleted, rec.atomsTotal),
		PrecisionPercent:  percent(rec.atomsSucceeded, rec.atomsTotal),
		CurrentWave:       rec.currentWave,
		TotalWaves:        rec.totalWaves,
		AtomsTotal:        rec.atomsTotal,
		AtomsCompleted:    rec.atomsCompleted,
		AtomsSucceeded:    rec.atomsSucceeded,
		AtomsFailed:       rec.atomsFailed,
	}, nil
}

// GetWaveResult returns the Wave Result for a completed wave.
func (s *Service) GetWaveResult(runID string, waveIndex int) (atom.WaveResult, error) {
	rec, err := s.lookup(runID)
	if err != nil {
		return atom.WaveResult{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	for _, r := range rec.results {
		if r.WaveIndex == waveIndex {
			return r, nil
		}
	}
	return atom.WaveResult{}, &NotFoundError{Kind: "wave", ID: fmt.Sprint(waveIndex)}
}

// GetAtomResult returns the Execution Result for one atom.
func (s *Service) GetAtomResult(runID string, atomID atom.Ident) (atom.ExecutionResult, error) {
	rec, err := s.lookup(runID)
	if err != nil {
		return atom.ExecutionResult{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	r, ok := rec.atomResults[atomID]
	if !ok {
		return atom.ExecutionResult{}, &NotFoundError{Kind: "atom", ID: string(atomID)}
	}
	return r, nil
}

// GetMetrics returns the aggregated counters and derived precision for a
// run.
func (s *Service) GetMetrics(runID string) (ExecutionMetrics, error) {
	rec, err := s.lookup(runID)
	if err != nil {
		return ExecutionMetrics{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	tokens := rec.totalUsage.InputTokens + rec.totalUsage.OutputTokens
	return ExecutionMetrics{
		RunID:            rec.id,
		AtomsTotal:       rec.atomsTotal,
		AtomsSucceeded:   rec.atomsSucceeded,
		AtomsFailed:      rec.atomsFailed,
		PrecisionPercent: percent(rec.atomsSucceeded, rec.atomsTotal),
		TotalTimeSeconds: rec.totalElapsed.Seconds(),
		TotalUsage:       rec.totalUsage,
		EstimatedCostUSD: float64(tokens) / 1000 * s.costPerK,
	}, nil
}

// Pause requests a pause at the next wave boundary. It fails with
// InvalidStateError if the run is not currently running.
func (s *Service) Pause(ctx context.Context, runID string) (atom.Status, error) {
	rec, err := s.lookup(runID)
	if err != nil {
		return "", err
	}
	rec.mu.Lock()
	if rec.status != atom.StatusRunning {
		current := rec.status
		rec.mu.Unlock()
		return "", &InvalidStateError{RunID: runID, Current: string(current), Wanted: string(atom.StatusPaused)}
	}
	h := rec.handle
	rec.mu.Unlock()

	if err := h.Signal(ctx, "pause"); err != nil {
		return "", fmt.Errorf("execsvc: signal pause: %w", err)
	}
	return atom.StatusPaused, nil
}

// Resume requests a resume of a paused run. It fails with InvalidStateError
// if the run is not currently paused.
func (s *Service) Resume(ctx context.Context, runID string) (atom.Status, error) {
	rec, err := s.lookup(runID)
	if err != nil {
		return "", err
	}
	rec.mu.Lock()
	if rec.status != atom.StatusPaused {
		current := rec.status
		rec.mu.Unlock()
		return "", &InvalidStateError{RunID: runID, Current: string(current), Wanted: string(atom.StatusRunning)}
	}
	h := rec.handle
	rec.mu.Unlock()

	if err := h.Signal(ctx, "resume"); err != nil {
		return "", fmt.Errorf("execsvc: signal resume: %w", err)
	}
	return atom.StatusRunning, nil
}

func (s *Service) lookup(runID string) (*runRecord, error) {
	s.mu.RLock()
	rec, ok := s.runs[runID]
	s.mu.RUnlock()
	if !ok {
		return nil, &NotFoundError{Kind: "run", ID: runID}
	}
	return rec, nil
}

func snapshotState(rec *runRecord) ExecutionState {
	return ExecutionState{
		RunID:            rec.id,
		MasterplanID:     rec.masterplanID,
		Status:           rec.status,
		CurrentWave:      rec.currentWave,
		TotalWaves:       rec.totalWaves,
		AtomsTotal:       rec.atomsTotal,
		AtomsCompleted:   rec.atomsCompleted,
		AtomsSucceeded:   rec.atomsSucceeded,
		AtomsFailed:      rec.atomsFailed,
		StartedAt:        rec.startedAt,
		CompletedAt:      rec.completedAt,
		TotalTimeSeconds: rec.totalElapsed.Seconds(),
		Error:            rec.errMsg,
	}
}

func percent(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}

// driveLoop builds the background run.Handler for rec. It flips the run to
// running, iterates its remaining waves (pausing cooperatively between them),
// and finalizes to completed or failed. An uncaught panic anywhere in the
// loop is recovered into a failed state with the panic message recorded,
// per §7's InternalError recovery policy.
func (s *Service) driveLoop(rec *runRecord) engine.RunFunc {
	return func(rc engine.RunContext) (err error) {
		ctx := rc.Context()

		defer func() {
			if r := recover(); r != nil {
				rec.mu.Lock()
				rec.status = atom.StatusFailed
				rec.errMsg = fmt.Sprintf("panic: %v", r)
				rec.completedAt = time.Now()
				rec.mu.Unlock()
				s.appendEvent(ctx, rec.id, runlog.EventExecutionCompleted, rec.errMsg)
			}
		}()

		rec.mu.Lock()
		rec.status = atom.StatusRunning
		rec.startedAt = time.Now()
		rec.mu.Unlock()
		s.appendEvent(ctx, rec.id, runlog.EventExecutionStarted, rec.masterplanID)
		s.metrics.IncCounter(telemetry.MetricExecutionsActive, 1, "masterplan_id", rec.masterplanID)
		defer s.metrics.IncCounter(telemetry.MetricExecutionsActive, -1, "masterplan_id", rec.masterplanID)

		for {
			rec.mu.Lock()
			done := len(rec.remainingWaves) == 0
			rec.mu.Unlock()
			if done {
				break
			}

			if rc.Signals("pause").ReceiveAsync() {
				rec.mu.Lock()
				rec.status = atom.StatusPaused
				rec.mu.Unlock()
				s.appendEvent(ctx, rec.id, runlog.EventExecutionPaused, "")

				if err := rc.Signals("resume").Receive(ctx); err != nil {
					return err
				}

				rec.mu.Lock()
				rec.status = atom.StatusRunning
				rec.mu.Unlock()
				s.appendEvent(ctx, rec.id, runlog.EventExecutionResumed, "")
				continue
			}

			rec.mu.Lock()
			wave := rec.remainingWaves[0]
			rec.remainingWaves = rec.remainingWaves[1:]
			atomsByID := rec.atomsByID
			masterplanID := rec.masterplanID
			rec.mu.Unlock()

			s.appendEvent(ctx, rec.id, runlog.EventWaveStarted, wave.Index)

			waveAtoms := make([]atom.Atom, 0, len(wave.Atoms))
			for _, id := range wave.Atoms {
				if a, ok := atomsByID[id]; ok {
					waveAtoms = append(waveAtoms, a)
				}
			}
			result := s.waveExecutor.ExecuteWave(ctx, wave.Index, waveAtoms, atomsByID, masterplanID)

			rec.mu.Lock()
			rec.results = append(rec.results, result)
			updated := make(map[atom.Ident]atom.Atom, len(rec.atomsByID))
			for id, a := range rec.atomsByID {
				updated[id] = a
			}
			for _, r := range result.Results {
				rec.atomResults[r.AtomID] = r
				rec.totalUsage.InputTokens += r.Retry.TotalUsage.InputTokens
				rec.totalUsage.OutputTokens += r.Retry.TotalUsage.OutputTokens
				if a, ok := updated[r.AtomID]; ok && r.Retry.Success {
					a.Code = r.Retry.Code
					updated[r.AtomID] = a
				}
			}
			rec.atomsByID = updated
			rec.atomsCompleted += len(result.Results)
			rec.atomsSucceeded += result.Succeeded
			rec.atomsFailed += result.Failed
			rec.currentWave = wave.Index
			rec.totalElapsed += result.Elapsed
			progress := ExecutionProgress{
				RunID:             rec.id,
				CompletionPercent: percent(rec.atomsCompleted, rec.atomsTotal),
				PrecisionPercent:  percent(rec.atomsSucceeded, rec.atomsTotal),
				CurrentWave:       rec.currentWave,
				TotalWaves:        rec.totalWaves,
				AtomsTotal:        rec.atomsTotal,
				AtomsCompleted:    rec.atomsCompleted,
				AtomsSucceeded:    rec.atomsSucceeded,
				AtomsFailed:       rec.atomsFailed,
			}
			rec.mu.Unlock()

			s.appendEvent(ctx, rec.id, runlog.EventWaveCompleted, wave.Index)
			s.publishProgress(ctx, rec.id, progress)
		}

		rec.mu.Lock()
		if rec.atomsFailed == 0 {
			rec.status = atom.StatusCompleted
		} else {
			rec.status = atom.StatusFailed
		}
		rec.completedAt = time.Now()
		precision := percent(rec.atomsSucceeded, rec.atomsTotal)
		finalStatus := rec.status
		rec.mu.Unlock()

		s.metrics.RecordGauge(telemetry.MetricExecutionResult, precision, "masterplan_id", rec.masterplanID, "status", string(finalStatus))
		s.appendEvent(ctx, rec.id, runlog.EventExecutionCompleted, string(finalStatus))
		return nil
	}
}

// publishProgress pushes progress to the configured Notifier, if any. It
// never blocks the drive loop on a slow subscriber: publication runs in its
// own goroutine and its error, if any, is only logged.
func (s *Service) publishProgress(ctx context.Context, runID string, progress ExecutionProgress) {
	if s.notifier == nil {
		return
	}
	go func() {
		if err := s.notifier.Publish(ctx, runID, progress); err != nil {
			s.logger.Error(ctx, "publish progress", "run_id", runID, "error", err)
		}
	}()
}

func (s *Service) appendEvent(ctx context.Context, runID string, typ runlog.EventType, payload any) {
	if s.runlogStore == nil {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return
	}
	_ = s.runlogStore.Append(ctx, &runlog.Event{
		RunID:     runID,
		Type:      typ,
		Payload:   raw,
		Timestamp: time.Now(),
	})
}
