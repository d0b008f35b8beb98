// Package control implements the gen/execution.Service interface on top of
// the execution service (C3), translating between its atom/atom.Plan
// domain types and the wire-shaped types the HTTP transport encodes,
// mirroring how the teacher's root packages (e.g. registry.Registry)
// implement a generated Service interface around an internal engine.
package control

import (
	"context"
	"fmt"

	"goa.design/atomexec/atom"
	"goa.design/atomexec/execsvc"
	execution "goa.design/atomexec/gen/execution"
)

// Control implements execution.Service around an *execsvc.Service.
type Control struct {
	exec *execsvc.Service
}

// New builds a Control bound to exec.
func New(exec *execsvc.Service) *Control {
	return &Control{exec: exec}
}

var _ execution.Service = (*Control)(nil)

func (c *Control) Start(ctx context.Context, p *execution.StartPayload) (*execution.StartResult, error) {
	plan := atom.Plan{MasterplanID: p.MasterplanID}
	for _, w := range p.Plan.Waves {
		ids := make([]atom.Ident, len(w.Atoms))
		for i, a := range w.Atoms {
			ids[i] = atom.Ident(a)
		}
		plan.Waves = append(plan.Waves, atom.Wave{Index: w.Index, Atoms: ids})
	}
	atomsByID := make(map[atom.Ident]atom.Atom, len(p.AtomsByID))
	for id, a := range p.AtomsByID {
		depends := make([]atom.Ident, len(a.DependsOn))
		for i, d := range a.DependsOn {
			depends[i] = atom.Ident(d)
		}
		atomsByID[atom.Ident(id)] = atom.Atom{
			ID:        atom.Ident(a.ID),
			Spec:      a.Spec,
			Language:  a.Language,
			DependsOn: depends,
			Code:      a.Code,
		}
	}

	runID, err := c.exec.StartExecution(ctx, p.MasterplanID, plan, atomsByID)
	if err != nil {
		return nil, err
	}
	st, err := c.exec.GetState(runID)
	if err != nil {
		return nil, err
	}
	return &execution.StartResult{ExecutionID: runID, Status: st.Status.String()}, nil
}

func (c *Control) Health(context.Context) (*execution.HealthResult, error) {
	all := c.exec.ListExecutions("")
	active := 0
	for _, st := range all {
		if !st.Status.Terminal() {
			active++
		}
	}
	return &execution.HealthResult{Status: "ok", ActiveRuns: active}, nil
}

func (c *Control) GetState(_ context.Context, p *execution.RunIDPayload) (*execution.ExecutionStateResult, error) {
	st, err := c.exec.GetState(p.RunID)
	if err != nil {
		return nil, err
	}
	return &execution.ExecutionStateResult{
		RunID:            st.RunID,
		MasterplanID:     st.MasterplanID,
		Status:           st.Status.String(),
		CurrentWave:      st.CurrentWave,
		TotalWaves:       st.TotalWaves,
		AtomsTotal:       st.AtomsTotal,
		AtomsCompleted:   st.AtomsCompleted,
		AtomsSucceeded:   st.AtomsSucceeded,
		AtomsFailed:      st.AtomsFailed,
		StartedAt:        st.StartedAt,
		CompletedAt:      st.CompletedAt,
		TotalTimeSeconds: st.TotalTimeSeconds,
		Error:            st.Error,
	}, nil
}

func (c *Control) GetProgress(_ context.Context, p *execution.RunIDPayload) (*execution.ProgressResult, error) {
	pr, err := c.exec.GetProgress(p.RunID)
	if err != nil {
		return nil, err
	}
	return &execution.ProgressResult{
		RunID:             pr.RunID,
		CompletionPercent: pr.CompletionPercent,
		PrecisionPercent:  pr.PrecisionPercent,
		CurrentWave:       pr.CurrentWave,
		TotalWaves:        pr.TotalWaves,
		AtomsTotal:        pr.AtomsTotal,
		AtomsCompleted:    pr.AtomsCompleted,
		AtomsSucceeded:    pr.AtomsSucceeded,
		AtomsFailed:       pr.AtomsFailed,
	}, nil
}

func (c *Control) GetWaveResult(_ context.Context, p *execution.WaveQueryPayload) (*execution.WaveResultType, error) {
	wr, err := c.exec.GetWaveResult(p.RunID, p.WaveIndex)
	if err != nil {
		return nil, err
	}
	results := make([]execution.ExecutionResultType, len(wr.Results))
	for i, r := range wr.Results {
		results[i] = toExecutionResultType(r)
	}
	return &execution.WaveResultType{
		WaveIndex:       wr.WaveIndex,
		Results:         results,
		Succeeded:       wr.Succeeded,
		Failed:          wr.Failed,
		ElapsedSeconds:  wr.Elapsed.Seconds(),
		AverageAttempts: wr.AverageAttempts,
	}, nil
}

func (c *Control) GetAtomResult(_ context.Context, p *execution.AtomQueryPayload) (*execution.ExecutionResultType, error) {
	ar, err := c.exec.GetAtomResult(p.RunID, atom.Ident(p.AtomID))
	if err != nil {
		return nil, err
	}
	res := toExecutionResultType(ar)
	return &res, nil
}

func (c *Control) Pause(ctx context.Context, p *execution.RunIDPayload) (*execution.AcknowledgementResult, error) {
	status, err := c.exec.Pause(ctx, p.RunID)
	if err != nil {
		return nil, err
	}
	return &execution.AcknowledgementResult{RunID: p.RunID, Status: status.String()}, nil
}

func (c *Control) Resume(ctx context.Context, p *execution.RunIDPayload) (*execution.AcknowledgementResult, error) {
	status, err := c.exec.Resume(ctx, p.RunID)
	if err != nil {
		return nil, err
	}
	return &execution.AcknowledgementResult{RunID: p.RunID, Status: status.String()}, nil
}

func (c *Control) GetMetrics(_ context.Context, p *execution.RunIDPayload) (*execution.MetricsResult, error) {
	m, err := c.exec.GetMetrics(p.RunID)
	if err != nil {
		return nil, err
	}
	return &execution.MetricsResult{
		RunID:             m.RunID,
		AtomsTotal:        m.AtomsTotal,
		AtomsSucceeded:    m.AtomsSucceeded,
		AtomsFailed:       m.AtomsFailed,
		PrecisionPercent:  m.PrecisionPercent,
		TotalTimeSeconds:  m.TotalTimeSeconds,
		TotalInputTokens:  m.TotalUsage.InputTokens,
		TotalOutputTokens: m.TotalUsage.OutputTokens,
		EstimatedCostUSD:  m.EstimatedCostUSD,
	}, nil
}

func toExecutionResultType(r atom.ExecutionResult) execution.ExecutionResultType {
	errs := make([]string, len(r.Retry.Errors))
	copy(errs, r.Retry.Errors)
	return execution.ExecutionResultType{
		WaveIndex:      r.WaveIndex,
		AtomID:         fmt.Sprint(r.AtomID),
		Success:        r.Retry.Success,
		Attempts:       r.Retry.Attempts,
		Code:           r.Retry.Code,
		Errors:         errs,
		FatalError:     r.Retry.FatalError,
		ElapsedSeconds: r.Elapsed.Seconds(),
	}
}
