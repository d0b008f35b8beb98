// Package ports declares the four collaborator boundaries the execution
// core depends on: the LLM, the code validator, the cost guard, and the
// metrics sink. Concrete implementations live in ports/llm, ports/validator,
// and ports/costguard; the metrics sink is runtime/telemetry.Metrics.
package ports

import (
	"context"

	"goa.design/atomexec/atom"
)

type (
	// LLM is the generation port the retry orchestrator drives. A single
	// call produces one attempt's candidate code text; the orchestrator owns
	// retry policy, not the port.
	LLM interface {
		// Generate produces a completion for prompt at the given sampling
		// temperature, bounded to maxTokens output tokens. It returns the raw
		// model output text; the caller extracts code from it.
		Generate(ctx context.Context, prompt string, temperature float64, maxTokens int) (text string, usage Usage, err error)
	}

	// Usage reports token consumption for a single LLM call, so callers can
	// attribute cost without the port needing to know about budgets.
	Usage struct {
		InputTokens  int
		OutputTokens int
	}

	// Validator is the code-validation port. It inspects a candidate's code
	// for a given atom and reports issues; Passed is true only when no
	// blocking (critical or error severity) issue is present.
	Validator interface {
		Validate(ctx context.Context, a atom.Atom, code string) (passed bool, issues []atom.Issue, err error)
	}

	// CostGuard is the optional budget-enforcement port (§6.1, enabled via
	// the costGuardEnabled flag). Implementations decide whether a unit of
	// work may proceed given its estimated cost.
	CostGuard interface {
		// Allow reports whether a call costing estimatedTokens tokens may
		// proceed right now. A false result with a nil error means the
		// budget is exhausted, not that something failed.
		Allow(ctx context.Context, runID string, estimatedTokens int) (bool, error)

		// Record attributes actual usage to runID after a call completes,
		// regardless of whether Allow was consulted beforehand.
		Record(ctx context.Context, runID string, usage Usage) error
	}
)
