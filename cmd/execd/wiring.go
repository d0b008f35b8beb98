package main

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"goa.design/pulse/rmap"

	"goa.design/atomexec/execsvc"
	"goa.design/atomexec/execsvc/notify"
	"goa.design/atomexec/ports"
	"goa.design/atomexec/ports/costguard/basic"
	"goa.design/atomexec/ports/llm/anthropic"
	"goa.design/atomexec/ports/llm/bedrock"
	"goa.design/atomexec/ports/llm/middleware"
	"goa.design/atomexec/ports/llm/openai"
	validatorbasic "goa.design/atomexec/ports/validator/basic"
	"goa.design/atomexec/retry"
	"goa.design/atomexec/runtime/engine"
	engineinmem "goa.design/atomexec/runtime/engine/inmem"
	enginetemporal "goa.design/atomexec/runtime/engine/temporal"
	"goa.design/atomexec/runtime/runlog"
	runloginmem "goa.design/atomexec/runtime/runlog/inmem"
	"goa.design/atomexec/runtime/telemetry"
	"goa.design/atomexec/waveexec"
)

// dependencies holds every collaborator wireDependencies constructs, so main
// can assemble the execution service and shut things down in reverse order.
type dependencies struct {
	WaveExecutor *waveexec.Executor
	Engine       engine.Engine
	RunLog       runlog.Store
	Notifier     execsvc.ProgressNotifier
	ProgressMap  *rmap.Map
	Metrics      telemetry.Metrics
	Logger       telemetry.Logger

	Worker worker.Worker

	redisClient    *redis.Client
	temporalClient client.Client
}

// Close releases every closeable resource wireDependencies opened. Safe to
// call on a zero-value or partially populated dependencies.
func (d *dependencies) Close() {
	if d.temporalClient != nil {
		d.temporalClient.Close()
	}
	if d.redisClient != nil {
		_ = d.redisClient.Close()
	}
}

// wireDependencies builds every collaborator the execution service needs
// from cfg: the LLM port (optionally rate-limited), validator, cost guard,
// retry orchestrator, wave executor, metrics/logging backends, durable
// engine binding, and optional run log and progress-notification wiring.
func wireDependencies(ctx context.Context, cfg Config) (*dependencies, error) {
	deps := &dependencies{}

	metrics, err := buildMetrics(cfg)
	if err != nil {
		return nil, err
	}
	deps.Metrics = metrics

	logger := telemetry.NewClueLogger()
	deps.Logger = logger

	if cfg.RedisAddr != "" {
		deps.redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	}

	llm, err := buildLLM(ctx, cfg, deps.redisClient)
	if err != nil {
		return nil, err
	}

	validator, err := validatorbasic.New(validatorbasic.Options{Languages: cfg.ValidatorLanguages})
	if err != nil {
		return nil, fmt.Errorf("execd: build validator: %w", err)
	}

	var costGuard ports.CostGuard
	if cfg.CostGuardEnabled {
		costGuard, err = basic.New(basic.Options{
			BudgetTokens: cfg.CostGuardBudgetTokens,
			Redis:        deps.redisClient,
		})
		if err != nil {
			return nil, fmt.Errorf("execd: build cost guard: %w", err)
		}
	}

	orchestrator, err := retry.New(retry.Options{
		TemperatureSchedule:  cfg.TemperatureSchedule,
		MaxDependencyContext: cfg.MaxDependencyContext,
		CostGuardEnabled:     cfg.CostGuardEnabled,
		LLM:                  llm,
		Validator:            validator,
		CostGuard:            costGuard,
		Metrics:              metrics,
		Logger:               logger,
	})
	if err != nil {
		return nil, fmt.Errorf("execd: build retry orchestrator: %w", err)
	}

	exec, err := waveexec.New(waveexec.Options{
		MaxConcurrency:         cfg.MaxConcurrency,
		AbortPlanOnWaveFailure: cfg.AbortPlanOnWaveFailure,
		Orchestrator:           orchestrator,
		Metrics:                metrics,
		Logger:                 logger,
	})
	if err != nil {
		return nil, fmt.Errorf("execd: build wave executor: %w", err)
	}
	deps.WaveExecutor = exec

	if cfg.RunLogEnabled {
		deps.RunLog = runloginmem.New()
	}

	eng, err := buildEngine(ctx, cfg, deps)
	if err != nil {
		return nil, err
	}
	deps.Engine = eng

	if deps.redisClient != nil {
		progressMap, err := rmap.Join(ctx, "atomexec:progress", deps.redisClient)
		if err != nil {
			return nil, fmt.Errorf("execd: join progress replicated map: %w", err)
		}
		deps.Notifier = notify.NewPublisher(progressMap)
		deps.ProgressMap = progressMap
	}

	return deps, nil
}

// buildMetrics selects the configured Metrics Sink implementation.
func buildMetrics(cfg Config) (telemetry.Metrics, error) {
	if !cfg.MetricsEnabled {
		return telemetry.NewNoopMetrics(), nil
	}
	switch cfg.MetricsBackend {
	case "", "noop":
		return telemetry.NewNoopMetrics(), nil
	case "clue":
		return telemetry.NewClueMetrics(), nil
	case "prometheus":
		return telemetry.NewPrometheusMetrics(prometheus.DefaultRegisterer), nil
	default:
		return nil, fmt.Errorf("execd: unknown metrics backend %q", cfg.MetricsBackend)
	}
}

// buildLLM constructs the configured provider's ports.LLM and, when a rate
// budget is configured, wraps it with the adaptive rate limiter, sharing its
// budget across processes via the replicated map when Redis is configured.
func buildLLM(ctx context.Context, cfg Config, redisClient *redis.Client) (ports.LLM, error) {
	var (
		llm ports.LLM
		err error
	)
	switch cfg.LLMProvider {
	case "", "openai":
		llm, err = openai.NewFromAPIKey(cfg.LLMAPIKey, cfg.LLMModel)
	case "anthropic":
		llm, err = anthropic.NewFromAPIKey(cfg.LLMAPIKey, cfg.LLMModel)
	case "bedrock":
		awsCfg, cfgErr := awsconfig.LoadDefaultConfig(ctx)
		if cfgErr != nil {
			return nil, fmt.Errorf("execd: load AWS config for bedrock: %w", cfgErr)
		}
		runtime := bedrockruntime.NewFromConfig(awsCfg)
		llm, err = bedrock.New(runtime, bedrock.Options{Model: cfg.LLMModel})
	default:
		return nil, fmt.Errorf("execd: unknown llm provider %q", cfg.LLMProvider)
	}
	if err != nil {
		return nil, fmt.Errorf("execd: build llm port: %w", err)
	}

	if cfg.LLMInitialTPM <= 0 && cfg.LLMMaxTPM <= 0 {
		return llm, nil
	}

	var rmapMap *rmap.Map
	if redisClient != nil {
		var joinErr error
		rmapMap, joinErr = rmap.Join(ctx, "atomexec:ratelimit", redisClient)
		if joinErr != nil {
			return nil, fmt.Errorf("execd: join rate limit replicated map: %w", joinErr)
		}
	}
	limiter := middleware.NewAdaptiveRateLimiter(ctx, rmapMap, cfg.LLMProvider, cfg.LLMInitialTPM, cfg.LLMMaxTPM)
	return limiter.Middleware()(llm), nil
}

// buildEngine selects the durable-engine binding and, for the Temporal
// backend, constructs the lazy client, the signals replicated map relaying
// pause/resume, and the worker the caller must Start.
func buildEngine(ctx context.Context, cfg Config, deps *dependencies) (engine.Engine, error) {
	switch cfg.EngineBackend {
	case "", "inmem":
		return engineinmem.New(), nil
	case "temporal":
		if deps.redisClient == nil {
			return nil, fmt.Errorf("execd: temporal engine backend requires redisAddr for the signals map")
		}
		cli, err := client.NewLazyClient(client.Options{HostPort: cfg.TemporalHostPort})
		if err != nil {
			return nil, fmt.Errorf("execd: build temporal client: %w", err)
		}
		deps.temporalClient = cli

		signals, err := rmap.Join(ctx, "atomexec:signals", deps.redisClient)
		if err != nil {
			return nil, fmt.Errorf("execd: join signals replicated map: %w", err)
		}

		eng, err := enginetemporal.New(enginetemporal.Options{
			Client:    cli,
			TaskQueue: cfg.TemporalTaskQueue,
			Signals:   signals,
		})
		if err != nil {
			return nil, fmt.Errorf("execd: build temporal engine: %w", err)
		}
		deps.Worker = eng.Worker()
		return eng, nil
	default:
		return nil, fmt.Errorf("execd: unknown engine backend %q", cfg.EngineBackend)
	}
}
