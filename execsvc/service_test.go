package execsvc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"goa.design/atomexec/atom"
	"goa.design/atomexec/ports"
	"goa.design/atomexec/retry"
	"goa.design/atomexec/runtime/engine/inmem"
	"goa.design/atomexec/waveexec"
)

type instantPassLLM struct{}

func (instantPassLLM) Generate(_ context.Context, _ string, _ float64, _ int) (string, ports.Usage, error) {
	return "```go\nfunc F() {}\n```", ports.Usage{InputTokens: 10, OutputTokens: 10}, nil
}

type alwaysPassValidator struct{}

func (alwaysPassValidator) Validate(_ context.Context, _ atom.Atom, _ string) (bool, []atom.Issue, error) {
	return true, nil, nil
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	o, err := retry.New(retry.Options{LLM: instantPassLLM{}, Validator: alwaysPassValidator{}})
	require.NoError(t, err)
	we, err := waveexec.New(waveexec.Options{Orchestrator: o, MaxConcurrency: 10})
	require.NoError(t, err)
	svc, err := New(Options{WaveExecutor: we, Engine: inmem.New()})
	require.NoError(t, err)
	return svc
}

func twoWavePlan() (atom.Plan, map[atom.Ident]atom.Atom) {
	atoms := map[atom.Ident]atom.Atom{
		"a1": {ID: "a1", Language: "go"},
		"a2": {ID: "a2", Language: "go"},
	}
	plan := atom.Plan{
		MasterplanID: "mp-1",
		Waves: []atom.Wave{
			{Index: 0, Atoms: []atom.Ident{"a1"}},
			{Index: 1, Atoms: []atom.Ident{"a2"}},
		},
	}
	return plan, atoms
}

func waitForStatus(t *testing.T, svc *Service, runID string, want atom.Status, timeout time.Duration) ExecutionState {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		st, err := svc.GetState(runID)
		require.NoError(t, err)
		if st.Status == want {
			return st
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for status %s", want)
	return ExecutionState{}
}

func TestStartExecution_RunsToCompletion(t *testing.T) {
	svc := newTestService(t)
	plan, atoms := twoWavePlan()

	runID, err := svc.StartExecution(context.Background(), "mp-1", plan, atoms)
	require.NoError(t, err)

	st := waitForStatus(t, svc, runID, atom.StatusCompleted, time.Second)
	require.Equal(t, 2, st.AtomsSucceeded)
	require.Equal(t, 0, st.AtomsFailed)

	progress, err := svc.GetProgress(runID)
	require.NoError(t, err)
	require.Equal(t, 100.0, progress.CompletionPercent)
	require.Equal(t, 100.0, progress.PrecisionPercent)

	metrics, err := svc.GetMetrics(runID)
	require.NoError(t, err)
	require.Equal(t, 40, metrics.TotalUsage.InputTokens+metrics.TotalUsage.OutputTokens)
}

func TestGetState_UnknownRunNotFound(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.GetState("nope")
	require.Error(t, err)
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
}

// gatedLLM blocks every Generate call until release is closed, so a test can
// hold a run inside its first wave.
type gatedLLM struct{ release chan struct{} }

func (g gatedLLM) Generate(ctx context.Context, p string, temp float64, max int) (string, ports.Usage, error) {
	<-g.release
	return instantPassLLM{}.Generate(ctx, p, temp, max)
}

// Scenario E: pause at a wave boundary.
func TestPauseResume_HaltsAtWaveBoundaryThenCompletes(t *testing.T) {
	gate := gatedLLM{release: make(chan struct{})}
	o, err := retry.New(retry.Options{LLM: gate, Validator: alwaysPassValidator{}})
	require.NoError(t, err)
	we, err := waveexec.New(waveexec.Options{Orchestrator: o, MaxConcurrency: 10})
	require.NoError(t, err)
	svc, err := New(Options{WaveExecutor: we, Engine: inmem.New()})
	require.NoError(t, err)
	plan, atoms := twoWavePlan()

	runID, err := svc.StartExecution(context.Background(), "mp-1", plan, atoms)
	require.NoError(t, err)
	waitForStatus(t, svc, runID, atom.StatusRunning, time.Second)

	_, err = svc.Pause(context.Background(), runID)
	require.NoError(t, err)
	close(gate.release)

	st := waitForStatus(t, svc, runID, atom.StatusPaused, time.Second)
	require.LessOrEqual(t, st.AtomsCompleted, 2)

	_, err = svc.Resume(context.Background(), runID)
	require.NoError(t, err)

	final := waitForStatus(t, svc, runID, atom.StatusCompleted, time.Second)
	require.Equal(t, 2, final.AtomsSucceeded)
}

func TestPause_RejectsWhenNotRunning(t *testing.T) {
	svc := newTestService(t)
	plan, atoms := twoWavePlan()

	runID, err := svc.StartExecution(context.Background(), "mp-1", plan, atoms)
	require.NoError(t, err)
	waitForStatus(t, svc, runID, atom.StatusCompleted, time.Second)

	_, err = svc.Pause(context.Background(), runID)
	require.Error(t, err)
	var invalid *InvalidStateError
	require.ErrorAs(t, err, &invalid)
}

func TestResume_RejectsWhenNotPaused(t *testing.T) {
	svc := newTestService(t)
	plan, atoms := twoWavePlan()

	runID, err := svc.StartExecution(context.Background(), "mp-1", plan, atoms)
	require.NoError(t, err)
	waitForStatus(t, svc, runID, atom.StatusCompleted, time.Second)

	_, err = svc.Resume(context.Background(), runID)
	require.Error(t, err)
	var invalid *InvalidStateError
	require.ErrorAs(t, err, &invalid)
}

func TestListExecutions_FiltersByStatus(t *testing.T) {
	svc := newTestService(t)
	plan, atoms := twoWavePlan()

	runID, err := svc.StartExecution(context.Background(), "mp-1", plan, atoms)
	require.NoError(t, err)
	waitForStatus(t, svc, runID, atom.StatusCompleted, time.Second)

	completed := svc.ListExecutions(atom.StatusCompleted)
	require.Len(t, completed, 1)

	running := svc.ListExecutions(atom.StatusRunning)
	require.Empty(t, running)

	all := svc.ListExecutions("")
	require.Len(t, all, 1)
}

func TestGetWaveResultAndAtomResult(t *testing.T) {
	svc := newTestService(t)
	plan, atoms := twoWavePlan()

	runID, err := svc.StartExecution(context.Background(), "mp-1", plan, atoms)
	require.NoError(t, err)
	waitForStatus(t, svc, runID, atom.StatusCompleted, time.Second)

	wr, err := svc.GetWaveResult(runID, 0)
	require.NoError(t, err)
	require.Equal(t, 1, wr.Succeeded)

	_, err = svc.GetWaveResult(runID, 99)
	require.Error(t, err)

	ar, err := svc.GetAtomResult(runID, "a1")
	require.NoError(t, err)
	require.True(t, ar.Retry.Success)

	_, err = svc.GetAtomResult(runID, "missing")
	require.Error(t, err)
}

func TestRunWithFailingAtom_EndsFailed(t *testing.T) {
	o, err := retry.New(retry.Options{LLM: instantPassLLM{}, Validator: failingValidatorFor("bad")})
	require.NoError(t, err)
	we, err := waveexec.New(waveexec.Options{Orchestrator: o, MaxConcurrency: 10})
	require.NoError(t, err)
	svc, err := New(Options{WaveExecutor: we, Engine: inmem.New()})
	require.NoError(t, err)

	plan := atom.Plan{Waves: []atom.Wave{{Index: 0, Atoms: []atom.Ident{"bad"}}}}
	atoms := map[atom.Ident]atom.Atom{"bad": {ID: "bad", Language: "go"}}

	runID, err := svc.StartExecution(context.Background(), "mp-fail", plan, atoms)
	require.NoError(t, err)

	st := waitForStatus(t, svc, runID, atom.StatusFailed, time.Second)
	require.Equal(t, 1, st.AtomsFailed)
}

type idRejectValidator struct{ reject atom.Ident }

func (v idRejectValidator) Validate(_ context.Context, a atom.Atom, _ string) (bool, []atom.Issue, error) {
	if a.ID == v.reject {
		return false, []atom.Issue{{Severity: atom.SeverityError, Message: "rejected"}}, nil
	}
	return true, nil, nil
}

func failingValidatorFor(id atom.Ident) idRejectValidator {
	return idRejectValidator{reject: id}
}
