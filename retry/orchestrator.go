// Package retry implements the retry orchestrator (C1): driving a single
// atom to either validator-passing generated code, or exhaustion of a fixed
// attempt budget, using a fixed cooling temperature schedule and
// error-feedback prompting.
package retry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"goa.design/atomexec/atom"
	"goa.design/atomexec/ports"
	"goa.design/atomexec/runtime/telemetry"
)

// DefaultTemperatureSchedule is the contractual per-attempt sampling
// temperature: higher first for exploration, then three cooling steps for
// determinism. Changing it is a breaking change for consumers calibrating
// precision targets against it.
var DefaultTemperatureSchedule = []float64{0.7, 0.5, 0.3, 0.3}

// DefaultMaxDependencyContext caps the number of dependency code excerpts
// rendered into the prompt, by declared dependency order.
const DefaultMaxDependencyContext = 3

// DefaultMaxTokens is the generous output token budget requested per
// attempt when Options.MaxTokens is unset.
const DefaultMaxTokens = 4096

// Options configures an Orchestrator.
type Options struct {
	// TemperatureSchedule overrides DefaultTemperatureSchedule. Its length
	// determines the number of attempts (maxAttempts = len(schedule)).
	TemperatureSchedule []float64
	// MaxDependencyContext overrides DefaultMaxDependencyContext.
	MaxDependencyContext int
	// MaxTokens overrides DefaultMaxTokens.
	MaxTokens int
	// CostGuardEnabled consults CostGuard before each attempt and denies the
	// attempt (ending the atom's retry loop) on a negative admission
	// decision, per §6.1's optional enforcing mode.
	CostGuardEnabled bool

	LLM       ports.LLM
	Validator ports.Validator
	CostGuard ports.CostGuard // may be nil unless CostGuardEnabled
	Metrics   telemetry.Metrics
	Logger    telemetry.Logger
}

// Orchestrator drives executeWithRetry. It is stateless across calls: every
// invocation is self-contained and safe to call concurrently for different
// atoms.
type Orchestrator struct {
	schedule             []float64
	maxDependencyContext int
	maxTokens            int
	costGuardEnabled     bool

	llm       ports.LLM
	validator ports.Validator
	costGuard ports.CostGuard
	metrics   telemetry.Metrics
	logger    telemetry.Logger
}

// New builds an Orchestrator from opts, applying defaults for zero values.
func New(opts Options) (*Orchestrator, error) {
	if opts.LLM == nil {
		return nil, fmt.Errorf("retry: llm port is required")
	}
	if opts.Validator == nil {
		return nil, fmt.Errorf("retry: validator port is required")
	}
	if opts.CostGuardEnabled && opts.CostGuard == nil {
		return nil, fmt.Errorf("retry: cost guard port is required when cost_guard_enabled is true")
	}
	schedule := opts.TemperatureSchedule
	if len(schedule) == 0 {
		schedule = DefaultTemperatureSchedule
	}
	maxDep := opts.MaxDependencyContext
	if maxDep <= 0 {
		maxDep = DefaultMaxDependencyContext
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Orchestrator{
		schedule:             schedule,
		maxDependencyContext: maxDep,
		maxTokens:            maxTokens,
		costGuardEnabled:     opts.CostGuardEnabled,
		llm:                  opts.LLM,
		validator:            opts.Validator,
		costGuard:            opts.CostGuard,
		metrics:              metrics,
		logger:               logger,
	}, nil
}

// MaxAttempts is the number of attempts this orchestrator will make per
// atom, equal to the length of its temperature schedule.
func (o *Orchestrator) MaxAttempts() int {
	return len(o.schedule)
}

// ExecuteWithRetry drives a to either validator-passing generated code or
// exhaustion of the attempt budget. dependencyAtoms are already-generated
// atoms this atom depends on, in declared order; only the first
// MaxDependencyContext are rendered into the prompt. masterplanID labels
// emitted metrics.
func (o *Orchestrator) ExecuteWithRetry(ctx context.Context, a atom.Atom, dependencyAtoms []atom.Atom, masterplanID string) atom.RetryResult {
	start := time.Now()
	var (
		history    []atom.AttemptResult
		errAccum   []string
		lastCode   string
		fatal      string
		totalUsage atom.TokenUsage
	)

	for i := 0; i < len(o.schedule); i++ {
		attempt := i + 1
		temperature := o.schedule[i]

		if o.costGuardEnabled {
			allowed, err := o.costGuard.Allow(ctx, masterplanID, o.maxTokens)
			if err == nil && !allowed {
				ar := atom.AttemptResult{
					Attempt:     attempt,
					Temperature: temperature,
					PortError:   "cost budget exhausted",
				}
				history = append(history, ar)
				errAccum = append(errAccum, ar.PortError)
				fatal = ar.PortError
				o.emitAttempt(a, attempt, false)
				break
			}
		}

		prompt := buildPrompt(a, dependencyAtoms, o.maxDependencyContext, errAccum)

		text, usage, err := o.llm.Generate(ctx, prompt, temperature, o.maxTokens)
		totalUsage.InputTokens += usage.InputTokens
		totalUsage.OutputTokens += usage.OutputTokens
		if o.costGuardEnabled {
			_ = o.costGuard.Record(ctx, masterplanID, usage)
		}
		if err != nil {
			ar := atom.AttemptResult{
				Attempt:     attempt,
				Temperature: temperature,
				PortError:   err.Error(),
			}
			history = append(history, ar)
			errAccum = append(errAccum, ar.PortError)
			fatal = ar.PortError
			o.emitAttempt(a, attempt, false)
			continue
		}

		code := extractCode(text, a.Language)
		if code == "" {
			ar := atom.AttemptResult{
				Attempt:     attempt,
				Temperature: temperature,
				PortError:   "empty generation",
			}
			history = append(history, ar)
			errAccum = append(errAccum, ar.PortError)
			fatal = ar.PortError
			o.emitAttempt(a, attempt, false)
			continue
		}
		lastCode = code

		passed, issues, verr := o.validator.Validate(ctx, a, code)
		if verr != nil {
			ar := atom.AttemptResult{
				Attempt:     attempt,
				Temperature: temperature,
				Code:        code,
				PortError:   verr.Error(),
			}
			history = append(history, ar)
			errAccum = append(errAccum, ar.PortError)
			fatal = ar.PortError
			o.emitAttempt(a, attempt, false)
			continue
		}

		ar := atom.AttemptResult{
			Attempt:     attempt,
			Temperature: temperature,
			Code:        code,
			Passed:      passed,
			Issues:      issues,
		}
		history = append(history, ar)
		o.emitAttempt(a, attempt, passed)

		if passed {
			o.metrics.RecordGauge(telemetry.MetricAttemptDuration, 1, "outcome", "success")
			return atom.RetryResult{
				Success:    true,
				Code:       code,
				Attempts:   attempt,
				History:    history,
				Errors:     errAccum,
				Elapsed:    time.Since(start),
				TotalUsage: totalUsage,
			}
		}

		for _, is := range issues {
			if is.Severity.IsBlocking() {
				errAccum = append(errAccum, is.Message)
			}
		}
		fatal = ""
	}

	o.metrics.IncCounter(telemetry.MetricRetriesExhausted, 1, "atom_id", a.ID.String())
	return atom.RetryResult{
		Success:    false,
		Code:       lastCode,
		Attempts:   len(history),
		History:    history,
		Errors:     errAccum,
		Elapsed:    time.Since(start),
		FatalError: fatal,
		TotalUsage: totalUsage,
	}
}

func (o *Orchestrator) emitAttempt(a atom.Atom, attempt int, passed bool) {
	outcome := "fail"
	if passed {
		outcome = "pass"
	}
	o.metrics.IncCounter(telemetry.MetricAttemptsTotal, 1, "atom_id", a.ID.String(), "attempt", fmt.Sprint(attempt), "outcome", outcome)
	if attempt > 1 {
		o.metrics.IncCounter("retry_temperature_changes", 1)
	}
}

// buildPrompt renders the atom spec, language tag, dependency context (at
// most maxDep excerpts, in declared order), and the accumulated blocking
// error history from previous attempts.
func buildPrompt(a atom.Atom, dependencyAtoms []atom.Atom, maxDep int, errAccum []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Language: %s\n\n", a.Language)
	fmt.Fprintf(&b, "Specification:\n%s\n\n", a.Spec)

	byID := make(map[atom.Ident]atom.Atom, len(dependencyAtoms))
	for _, d := range dependencyAtoms {
		byID[d.ID] = d
	}

	rendered := 0
	for _, depID := range a.DependsOn {
		if rendered >= maxDep {
			break
		}
		dep, ok := byID[depID]
		if !ok || dep.Code == "" {
			continue
		}
		fmt.Fprintf(&b, "Dependency %s:\n```%s\n%s\n```\n\n", dep.ID, dep.Language, dep.Code)
		rendered++
	}

	if len(errAccum) > 0 {
		b.WriteString("Previous attempt errors to fix:\n")
		for _, e := range errAccum {
			fmt.Fprintf(&b, "- %s\n", e)
		}
		b.WriteString("\n")
	}

	b.WriteString("Produce only the generated code, fenced in a code block tagged with the language above.\n")
	return b.String()
}

// extractCode implements the extraction policy: first a fenced block tagged
// with language, else the first fenced block, else the raw text, trimmed.
func extractCode(text, language string) string {
	if block, ok := fencedBlock(text, language); ok {
		return strings.TrimSpace(block)
	}
	if block, ok := fencedBlock(text, ""); ok {
		return strings.TrimSpace(block)
	}
	return strings.TrimSpace(text)
}

// fencedBlock finds the first ``` fenced block. When language is non-empty
// it requires the fence's info string to match (case-insensitively);
// otherwise it matches the first fence found regardless of info string.
func fencedBlock(text, language string) (string, bool) {
	const fence = "```"
	idx := 0
	for {
		start := strings.Index(text[idx:], fence)
		if start == -1 {
			return "", false
		}
		start += idx
		afterFence := start + len(fence)
		lineEnd := strings.IndexByte(text[afterFence:], '\n')
		if lineEnd == -1 {
			return "", false
		}
		info := strings.TrimSpace(text[afterFence : afterFence+lineEnd])
		bodyStart := afterFence + lineEnd + 1
		end := strings.Index(text[bodyStart:], fence)
		if end == -1 {
			return "", false
		}
		body := text[bodyStart : bodyStart+end]
		if language == "" || strings.EqualFold(info, language) {
			return body, true
		}
		idx = bodyStart + end + len(fence)
	}
}
