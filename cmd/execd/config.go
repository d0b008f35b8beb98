package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the execd entrypoint's immutable configuration, constructed once
// at wiring time from a YAML file laid over built-in defaults, per the
// "no ambient/global defaults" redesign flag. A .env file, when main loads
// one, only sets process environment variables; it does not change Config. Every field maps to a
// key in the execution core's configuration surface or to a piece of
// transport/provider wiring the core itself doesn't own.
type Config struct {
	// HTTPAddr is the address the control API listens on.
	HTTPAddr string `yaml:"httpAddr"`

	// MaxConcurrency is the per-wave concurrency cap.
	MaxConcurrency int `yaml:"maxConcurrency"`
	// TemperatureSchedule is the per-attempt sampling temperature; its
	// length determines maxAttempts.
	TemperatureSchedule []float64 `yaml:"temperatureSchedule"`
	// MaxDependencyContext caps dependency excerpts rendered into prompts.
	MaxDependencyContext int `yaml:"maxDependencyContext"`
	// MetricsEnabled toggles whether a real metrics sink is wired, as
	// opposed to the no-op sink.
	MetricsEnabled bool `yaml:"metricsEnabled"`
	// CostGuardEnabled toggles whether the cost-guard port is consulted
	// before each attempt.
	CostGuardEnabled bool `yaml:"costGuardEnabled"`
	// AbortPlanOnWaveFailure makes executePlan stop scheduling further
	// waves once a wave reports any failed atom.
	AbortPlanOnWaveFailure bool `yaml:"abortPlanOnWaveFailure"`

	// CostPerThousandTokensUSD derives estimated run cost from token usage.
	CostPerThousandTokensUSD float64 `yaml:"costPerThousandTokensUSD"`
	// CostGuardBudgetTokens is the token budget enforced by the basic cost
	// guard, when CostGuardEnabled is true. The retry orchestrator keys the
	// budget by masterplan ID, so all runs of one masterplan share it.
	CostGuardBudgetTokens int `yaml:"costGuardBudgetTokens"`

	// LLMProvider selects which ports.LLM adapter backs the orchestrator:
	// "openai", "anthropic", or "bedrock".
	LLMProvider string `yaml:"llmProvider"`
	// LLMModel is the provider-specific model identifier.
	LLMModel string `yaml:"llmModel"`
	// LLMAPIKey is the provider API key; empty defers to the provider
	// SDK's own environment variable (e.g. OPENAI_API_KEY).
	LLMAPIKey string `yaml:"llmAPIKey"`
	// LLMMaxTPM and LLMInitialTPM configure the adaptive rate limiter
	// wrapping the LLM port. Zero disables rate limiting.
	LLMInitialTPM float64 `yaml:"llmInitialTPM"`
	LLMMaxTPM     float64 `yaml:"llmMaxTPM"`

	// ValidatorLanguages restricts syntax checking to these language tags;
	// empty means only atoms tagged "go" are checked and the others pass.
	ValidatorLanguages []string `yaml:"validatorLanguages"`

	// EngineBackend selects the durable-engine binding: "inmem" or
	// "temporal".
	EngineBackend string `yaml:"engineBackend"`
	// TemporalHostPort and TemporalTaskQueue configure the Temporal engine
	// backend, when EngineBackend is "temporal".
	TemporalHostPort  string `yaml:"temporalHostPort"`
	TemporalTaskQueue string `yaml:"temporalTaskQueue"`

	// MetricsBackend selects the Metrics Sink implementation: "noop",
	// "clue", or "prometheus".
	MetricsBackend string `yaml:"metricsBackend"`

	// RunLogEnabled toggles the in-memory append-only audit trail.
	RunLogEnabled bool `yaml:"runLogEnabled"`

	// RedisAddr, when set, backs the cost guard's distributed budget
	// mirror and the Pulse replicated map used for progress notification
	// and the Temporal-engine pause/resume relay.
	RedisAddr string `yaml:"redisAddr"`
}

// Default returns the configuration surface's documented defaults (§6.3),
// plus reasonable defaults for the wiring-only fields it doesn't cover.
func Default() Config {
	return Config{
		HTTPAddr:                 ":8080",
		MaxConcurrency:           100,
		TemperatureSchedule:      []float64{0.7, 0.5, 0.3, 0.3},
		MaxDependencyContext:     3,
		MetricsEnabled:           true,
		CostGuardEnabled:         false,
		AbortPlanOnWaveFailure:   false,
		CostPerThousandTokensUSD: 0.01,
		CostGuardBudgetTokens:    1_000_000,
		LLMProvider:              "openai",
		EngineBackend:            "inmem",
		TemporalTaskQueue:        "atomexec",
		MetricsBackend:           "noop",
		RunLogEnabled:            true,
	}
}

// LoadConfig reads YAML configuration from path and overlays it onto the
// documented defaults. An empty path returns the defaults unchanged.
func LoadConfig(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("execd: read config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("execd: parse config %q: %w", path, err)
	}
	return cfg, nil
}
