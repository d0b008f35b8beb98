package waveexec

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"goa.design/atomexec/atom"
	"goa.design/atomexec/ports"
	"goa.design/atomexec/retry"
)

// alwaysFailLLM raises an error on every call, simulating an atom whose
// generation never succeeds.
type alwaysFailLLM struct{}

func (alwaysFailLLM) Generate(_ context.Context, _ string, _ float64, _ int) (string, ports.Usage, error) {
	return "", ports.Usage{}, errFailingAtom
}

var errFailingAtom = fakeErr("generation unavailable")

type fakeErr string

func (e fakeErr) Error() string { return string(e) }

// firstAttemptSucceedsLLM always returns validator-passing code immediately.
type firstAttemptSucceedsLLM struct{}

func (firstAttemptSucceedsLLM) Generate(_ context.Context, _ string, _ float64, _ int) (string, ports.Usage, error) {
	return "```go\nfunc OK() {}\n```", ports.Usage{InputTokens: 5, OutputTokens: 5}, nil
}

type alwaysPassValidator struct{}

func (alwaysPassValidator) Validate(_ context.Context, _ atom.Atom, _ string) (bool, []atom.Issue, error) {
	return true, nil, nil
}

type alwaysFailValidator struct{}

func (alwaysFailValidator) Validate(_ context.Context, _ atom.Atom, _ string) (bool, []atom.Issue, error) {
	return false, []atom.Issue{{Severity: atom.SeverityError, Message: "never passes"}}, nil
}

// routingLLM dispatches to one of two underlying LLMs keyed on the atom
// language tag embedded in the prompt, so a single orchestrator can drive
// distinct outcomes for distinct atoms in the same wave.
type routingLLM struct {
	byLanguage map[string]ports.LLM
}

func (r routingLLM) Generate(ctx context.Context, prompt string, temperature float64, maxTokens int) (string, ports.Usage, error) {
	for lang, llm := range r.byLanguage {
		if contains(prompt, "Language: "+lang) {
			return llm.Generate(ctx, prompt, temperature, maxTokens)
		}
	}
	return "", ports.Usage{}, fakeErr("no route")
}

type routingValidator struct {
	byLanguage map[string]ports.Validator
}

func (r routingValidator) Validate(ctx context.Context, a atom.Atom, code string) (bool, []atom.Issue, error) {
	if v, ok := r.byLanguage[a.Language]; ok {
		return v.Validate(ctx, a, code)
	}
	return true, nil, nil
}

func contains(haystack, needle string) bool {
	return len(haystack) >= len(needle) && indexOf(haystack, needle) >= 0
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}

func newExecutor(t *testing.T, o *retry.Orchestrator, maxConcurrency int) *Executor {
	t.Helper()
	e, err := New(Options{Orchestrator: o, MaxConcurrency: maxConcurrency})
	require.NoError(t, err)
	return e
}

// Scenario D: wave isolation. One atom always fails, a second succeeds on
// its first attempt; the wave completes with one success and one failure,
// neither atom affecting the other.
func TestExecuteWave_Isolation(t *testing.T) {
	llm := routingLLM{byLanguage: map[string]ports.LLM{
		"fails": alwaysFailLLM{},
		"ok":    firstAttemptSucceedsLLM{},
	}}
	validator := routingValidator{byLanguage: map[string]ports.Validator{
		"fails": alwaysFailValidator{},
		"ok":    alwaysPassValidator{},
	}}
	o, err := retry.New(retry.Options{LLM: llm, Validator: validator})
	require.NoError(t, err)
	exec := newExecutor(t, o, 10)

	atoms := []atom.Atom{
		{ID: "fail-atom", Language: "fails"},
		{ID: "ok-atom", Language: "ok"},
	}
	byID := map[atom.Ident]atom.Atom{"fail-atom": atoms[0], "ok-atom": atoms[1]}

	result := exec.ExecuteWave(context.Background(), 0, atoms, byID, "mp-d")

	require.Equal(t, 1, result.Succeeded)
	require.Equal(t, 1, result.Failed)
	require.Len(t, result.Results, 2)

	var okResult, failResult atom.ExecutionResult
	for _, r := range result.Results {
		if r.AtomID == "ok-atom" {
			okResult = r
		} else {
			failResult = r
		}
	}
	require.True(t, okResult.Retry.Success)
	require.False(t, failResult.Retry.Success)
}

// concurrencyTrackingLLM counts the peak number of concurrently in-flight
// Generate calls.
type concurrencyTrackingLLM struct {
	current int64
	peak    int64
}

func (c *concurrencyTrackingLLM) Generate(_ context.Context, _ string, _ float64, _ int) (string, ports.Usage, error) {
	n := atomic.AddInt64(&c.current, 1)
	for {
		p := atomic.LoadInt64(&c.peak)
		if n <= p || atomic.CompareAndSwapInt64(&c.peak, p, n) {
			break
		}
	}
	time.Sleep(2 * time.Millisecond)
	atomic.AddInt64(&c.current, -1)
	return "```go\nfunc F() {}\n```", ports.Usage{InputTokens: 1, OutputTokens: 1}, nil
}

// Scenario F: concurrency cap honored across 250 atoms with maxConcurrency=10.
func TestExecuteWave_ConcurrencyCapped(t *testing.T) {
	llm := &concurrencyTrackingLLM{}
	o, err := retry.New(retry.Options{LLM: llm, Validator: alwaysPassValidator{}})
	require.NoError(t, err)
	exec := newExecutor(t, o, 10)

	const n = 250
	atoms := make([]atom.Atom, n)
	byID := make(map[atom.Ident]atom.Atom, n)
	for i := 0; i < n; i++ {
		a := atom.Atom{ID: atom.Ident(generateID(i)), Language: "go"}
		atoms[i] = a
		byID[a.ID] = a
	}

	result := exec.ExecuteWave(context.Background(), 0, atoms, byID, "mp-f")

	require.Len(t, result.Results, n)
	require.Equal(t, n, result.Succeeded)
	require.LessOrEqual(t, atomic.LoadInt64(&llm.peak), int64(10))
}

func generateID(i int) string {
	return "atom-" + itoa(i)
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var digits []byte
	for i > 0 {
		digits = append([]byte{byte('0' + i%10)}, digits...)
		i /= 10
	}
	return string(digits)
}

func TestExecuteWave_Empty(t *testing.T) {
	o, err := retry.New(retry.Options{LLM: firstAttemptSucceedsLLM{}, Validator: alwaysPassValidator{}})
	require.NoError(t, err)
	exec := newExecutor(t, o, 10)

	result := exec.ExecuteWave(context.Background(), 2, nil, nil, "mp-empty")

	require.Equal(t, 2, result.WaveIndex)
	require.Equal(t, 0, result.Succeeded)
	require.Equal(t, 0, result.Failed)
	require.Empty(t, result.Results)
	require.Equal(t, time.Duration(0), result.Elapsed)
}

func TestExecuteWave_MissingDependencyIDsAreSkipped(t *testing.T) {
	o, err := retry.New(retry.Options{LLM: firstAttemptSucceedsLLM{}, Validator: alwaysPassValidator{}})
	require.NoError(t, err)
	exec := newExecutor(t, o, 10)

	a := atom.Atom{ID: "child", Language: "go", DependsOn: []atom.Ident{"missing-parent"}}
	byID := map[atom.Ident]atom.Atom{"child": a}

	result := exec.ExecuteWave(context.Background(), 0, []atom.Atom{a}, byID, "mp-missing")

	require.Len(t, result.Results, 1)
	require.True(t, result.Results[0].Retry.Success)
}

func TestExecutePlan_RunsAllWavesWithoutShortCircuit(t *testing.T) {
	o, err := retry.New(retry.Options{LLM: alwaysFailLLM{}, Validator: alwaysFailValidator{}})
	require.NoError(t, err)
	exec := newExecutor(t, o, 10)

	plan := atom.Plan{
		MasterplanID: "mp-plan",
		Waves: []atom.Wave{
			{Index: 0, Atoms: []atom.Ident{"a1"}},
			{Index: 1, Atoms: []atom.Ident{"a2"}},
		},
	}
	byID := map[atom.Ident]atom.Atom{
		"a1": {ID: "a1", Language: "go"},
		"a2": {ID: "a2", Language: "go"},
	}

	results := exec.ExecutePlan(context.Background(), plan, byID, "mp-plan")

	require.Len(t, results, 2)
	require.Equal(t, 1, results[0].Failed)
	require.Equal(t, 1, results[1].Failed)
}

func TestExecutePlan_AbortsOnWaveFailureWhenConfigured(t *testing.T) {
	o, err := retry.New(retry.Options{LLM: alwaysFailLLM{}, Validator: alwaysFailValidator{}})
	require.NoError(t, err)
	exec, err := New(Options{Orchestrator: o, MaxConcurrency: 10, AbortPlanOnWaveFailure: true})
	require.NoError(t, err)

	plan := atom.Plan{
		Waves: []atom.Wave{
			{Index: 0, Atoms: []atom.Ident{"a1"}},
			{Index: 1, Atoms: []atom.Ident{"a2"}},
		},
	}
	byID := map[atom.Ident]atom.Atom{
		"a1": {ID: "a1", Language: "go"},
		"a2": {ID: "a2", Language: "go"},
	}

	results := exec.ExecutePlan(context.Background(), plan, byID, "mp-plan")

	require.Len(t, results, 1)
}
