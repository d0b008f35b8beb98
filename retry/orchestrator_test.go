package retry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"goa.design/atomexec/atom"
	"goa.design/atomexec/ports"
)

type scriptedLLM struct {
	calls     int
	responses []string
	errs      []error
}

func (s *scriptedLLM) Generate(_ context.Context, _ string, _ float64, _ int) (string, ports.Usage, error) {
	i := s.calls
	s.calls++
	var text string
	var err error
	if i < len(s.responses) {
		text = s.responses[i]
	}
	if i < len(s.errs) {
		err = s.errs[i]
	}
	return text, ports.Usage{InputTokens: 10, OutputTokens: 20}, err
}

type scriptedValidator struct {
	calls   int
	verdict []bool
	issues  [][]atom.Issue
}

func (s *scriptedValidator) Validate(_ context.Context, _ atom.Atom, _ string) (bool, []atom.Issue, error) {
	i := s.calls
	s.calls++
	passed := false
	if i < len(s.verdict) {
		passed = s.verdict[i]
	}
	var issues []atom.Issue
	if i < len(s.issues) {
		issues = s.issues[i]
	}
	return passed, issues, nil
}

func newTestOrchestrator(t *testing.T, llm ports.LLM, validator ports.Validator) *Orchestrator {
	t.Helper()
	o, err := New(Options{LLM: llm, Validator: validator})
	require.NoError(t, err)
	return o
}

// Scenario A: happy path, one attempt.
func TestExecuteWithRetry_HappyPath(t *testing.T) {
	a := atom.Atom{ID: "A1", Language: "python", Spec: "return the string hi"}
	llm := &scriptedLLM{responses: []string{"```python\ndef f():\n    return \"hi\"\n```"}}
	validator := &scriptedValidator{verdict: []bool{true}}

	o := newTestOrchestrator(t, llm, validator)
	result := o.ExecuteWithRetry(context.Background(), a, nil, "mp-1")

	require.True(t, result.Success)
	require.Equal(t, 1, result.Attempts)
	require.Equal(t, "def f():\n    return \"hi\"", result.Code)
}

// Scenario B: retry then succeed on attempt 3.
func TestExecuteWithRetry_RetryThenSucceed(t *testing.T) {
	a := atom.Atom{ID: "A2", Language: "go"}
	llm := &scriptedLLM{responses: []string{"```go\nbad\n```", "```go\nbad2\n```", "```go\nfunc F() {}\n```"}}
	validator := &scriptedValidator{
		verdict: []bool{false, false, true},
		issues: [][]atom.Issue{
			{{Severity: atom.SeverityCritical, Message: "bad1"}},
			{{Severity: atom.SeverityError, Message: "bad2"}},
			nil,
		},
	}

	o := newTestOrchestrator(t, llm, validator)
	result := o.ExecuteWithRetry(context.Background(), a, nil, "mp-1")

	require.True(t, result.Success)
	require.Equal(t, 3, result.Attempts)
	require.Equal(t, []float64{0.7, 0.5, 0.3}, []float64{
		result.History[0].Temperature, result.History[1].Temperature, result.History[2].Temperature,
	})
	require.Equal(t, []string{"bad1", "bad2"}, result.Errors)
}

// Scenario C: exhaustion after 4 attempts.
func TestExecuteWithRetry_Exhaustion(t *testing.T) {
	a := atom.Atom{ID: "A3", Language: "go"}
	llm := &scriptedLLM{responses: []string{"```go\nx\n```", "```go\nx\n```", "```go\nx\n```", "```go\nx\n```"}}
	validator := &scriptedValidator{
		verdict: []bool{false, false, false, false},
		issues: [][]atom.Issue{
			{{Severity: atom.SeverityError, Message: "e1"}},
			{{Severity: atom.SeverityError, Message: "e2"}},
			{{Severity: atom.SeverityError, Message: "e3"}},
			{{Severity: atom.SeverityError, Message: "e4"}},
		},
	}

	o := newTestOrchestrator(t, llm, validator)
	result := o.ExecuteWithRetry(context.Background(), a, nil, "mp-1")

	require.False(t, result.Success)
	require.Equal(t, 4, result.Attempts)
	require.Len(t, result.History, 4)
	require.Len(t, result.Errors, 4)
}

func TestExecuteWithRetry_LLMErrorCountsAsAttempt(t *testing.T) {
	a := atom.Atom{ID: "A4", Language: "go"}
	llm := &scriptedLLM{errs: []error{errors.New("boom"), errors.New("boom2"), nil, nil}, responses: []string{"", "", "```go\nok\n```", ""}}
	validator := &scriptedValidator{verdict: []bool{true}}

	o := newTestOrchestrator(t, llm, validator)
	result := o.ExecuteWithRetry(context.Background(), a, nil, "mp-1")

	require.True(t, result.Success)
	require.Equal(t, 3, result.Attempts)
	require.Equal(t, "boom", result.History[0].PortError)
}

func TestExecuteWithRetry_EmptyGenerationIsFailedAttempt(t *testing.T) {
	a := atom.Atom{ID: "A5", Language: "go"}
	llm := &scriptedLLM{responses: []string{"   ", "```go\nok\n```"}}
	validator := &scriptedValidator{verdict: []bool{true}}

	o := newTestOrchestrator(t, llm, validator)
	result := o.ExecuteWithRetry(context.Background(), a, nil, "mp-1")

	require.Equal(t, "empty generation", result.History[0].PortError)
	require.True(t, result.Success)
	require.Equal(t, 2, result.Attempts)
}

func TestExecuteWithRetry_MoreThanThreeDependenciesTruncated(t *testing.T) {
	a := atom.Atom{
		ID:       "A6",
		Language: "go",
		DependsOn: []atom.Ident{"d1", "d2", "d3", "d4"},
	}
	deps := []atom.Atom{
		{ID: "d1", Language: "go", Code: "c1"},
		{ID: "d2", Language: "go", Code: "c2"},
		{ID: "d3", Language: "go", Code: "c3"},
		{ID: "d4", Language: "go", Code: "c4"},
	}
	prompt := buildPrompt(a, deps, DefaultMaxDependencyContext, nil)

	require.Contains(t, prompt, "d1")
	require.Contains(t, prompt, "d2")
	require.Contains(t, prompt, "d3")
	require.NotContains(t, prompt, "d4")
}

func TestExtractCode(t *testing.T) {
	t.Run("matches language fence", func(t *testing.T) {
		code := extractCode("noise\n```python\nprint(1)\n```\nmore", "python")
		require.Equal(t, "print(1)", code)
	})
	t.Run("falls back to first fence", func(t *testing.T) {
		code := extractCode("```text\nhello\n```", "python")
		require.Equal(t, "hello", code)
	})
	t.Run("falls back to raw text", func(t *testing.T) {
		code := extractCode("  raw text  ", "python")
		require.Equal(t, "raw text", code)
	})
}
