// Package basic provides a reference ports.CostGuard implementation: a
// per-run token budget enforced with a token-bucket limiter, optionally
// mirrored to Redis so the budget is shared across process instances of the
// execution service.
package basic

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"goa.design/atomexec/ports"
)

// Options configures the basic cost guard.
type Options struct {
	// BudgetTokens is the total token budget granted to a run across its
	// lifetime. Required, must be positive.
	BudgetTokens int
	// Redis, when set, mirrors each run's remaining budget to a Redis key so
	// multiple execution-service instances enforce a single shared budget.
	// When nil, the guard is process-local.
	Redis *redis.Client
	// KeyPrefix namespaces the Redis keys used for shared budgets.
	// Defaults to "atomexec:costguard:".
	KeyPrefix string
}

// Engine implements ports.CostGuard with a fixed per-run token budget.
type Engine struct {
	budget    int
	redis     *redis.Client
	keyPrefix string

	mu    sync.Mutex
	local map[string]*runBudget
}

type runBudget struct {
	limiter   *rate.Limiter
	remaining int
}

// New builds a new Engine using the supplied options.
func New(opts Options) (*Engine, error) {
	if opts.BudgetTokens <= 0 {
		return nil, fmt.Errorf("costguard: budget_tokens must be positive")
	}
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = "atomexec:costguard:"
	}
	return &Engine{
		budget:    opts.BudgetTokens,
		redis:     opts.Redis,
		keyPrefix: prefix,
		local:     make(map[string]*runBudget),
	}, nil
}

// Allow implements ports.CostGuard. It denies the call (returns false, nil)
// once the run's budget has been exhausted by prior Record calls; it never
// blocks, unlike the LLM-side rate limiter, since the budget check is a
// simple remaining-tokens comparison.
func (e *Engine) Allow(ctx context.Context, runID string, estimatedTokens int) (bool, error) {
	if e.redis != nil {
		return e.allowShared(ctx, runID, estimatedTokens)
	}
	return e.allowLocal(runID, estimatedTokens), nil
}

// Record implements ports.CostGuard, deducting usage from the run's
// remaining budget.
func (e *Engine) Record(ctx context.Context, runID string, usage ports.Usage) error {
	spent := usage.InputTokens + usage.OutputTokens
	if e.redis != nil {
		return e.recordShared(ctx, runID, spent)
	}
	e.recordLocal(runID, spent)
	return nil
}

func (e *Engine) allowLocal(runID string, estimatedTokens int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	rb := e.runBudget(runID)
	if rb.remaining < estimatedTokens {
		return false
	}
	// Pace bursts of calls against the same run's budget so a thundering
	// herd of concurrent waves can't all pass the remaining-tokens check in
	// the same instant and collectively overshoot it.
	return rb.limiter.AllowN(time.Now(), estimatedTokens)
}

// runBudget returns the run's local budget tracker, creating it (seeded
// with a limiter burst equal to the full budget) on first use. Caller must
// hold e.mu.
func (e *Engine) runBudget(runID string) *runBudget {
	rb, ok := e.local[runID]
	if !ok {
		rb = &runBudget{
			remaining: e.budget,
			limiter:   rate.NewLimiter(rate.Limit(e.budget), e.budget),
		}
		e.local[runID] = rb
	}
	return rb
}

func (e *Engine) recordLocal(runID string, spent int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rb := e.runBudget(runID)
	rb.remaining -= spent
	if rb.remaining < 0 {
		rb.remaining = 0
	}
}

func (e *Engine) allowShared(ctx context.Context, runID string, estimatedTokens int) (bool, error) {
	key := e.keyPrefix + runID
	cur, err := e.redis.Get(ctx, key).Result()
	if err == redis.Nil {
		if err := e.redis.Set(ctx, key, strconv.Itoa(e.budget), 24*time.Hour).Err(); err != nil {
			return false, fmt.Errorf("costguard: seed shared budget: %w", err)
		}
		cur = strconv.Itoa(e.budget)
	} else if err != nil {
		return false, fmt.Errorf("costguard: read shared budget: %w", err)
	}
	remaining, err := strconv.Atoi(cur)
	if err != nil {
		return false, fmt.Errorf("costguard: parse shared budget %q: %w", cur, err)
	}
	return remaining >= estimatedTokens, nil
}

func (e *Engine) recordShared(ctx context.Context, runID string, spent int) error {
	key := e.keyPrefix + runID
	if err := e.redis.DecrBy(ctx, key, int64(spent)).Err(); err != nil {
		return fmt.Errorf("costguard: record shared budget: %w", err)
	}
	return nil
}
