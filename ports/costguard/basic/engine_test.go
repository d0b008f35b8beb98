package basic

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"goa.design/atomexec/ports"
)

func TestEngineLocalBudget(t *testing.T) {
	t.Parallel()

	e, err := New(Options{BudgetTokens: 1000})
	require.NoError(t, err)

	ctx := context.Background()

	allowed, err := e.Allow(ctx, "run-1", 400)
	require.NoError(t, err)
	require.True(t, allowed)

	require.NoError(t, e.Record(ctx, "run-1", ports.Usage{InputTokens: 300, OutputTokens: 100}))

	allowed, err = e.Allow(ctx, "run-1", 700)
	require.NoError(t, err)
	require.False(t, allowed, "700 exceeds remaining 600")

	allowed, err = e.Allow(ctx, "run-1", 600)
	require.NoError(t, err)
	require.True(t, allowed)
}

func TestEngineRejectsNonPositiveBudget(t *testing.T) {
	t.Parallel()

	_, err := New(Options{BudgetTokens: 0})
	require.Error(t, err)
}

func TestEngineIsolatesRuns(t *testing.T) {
	t.Parallel()

	e, err := New(Options{BudgetTokens: 100})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, e.Record(ctx, "run-a", ports.Usage{InputTokens: 100}))

	allowedA, err := e.Allow(ctx, "run-a", 1)
	require.NoError(t, err)
	require.False(t, allowedA)

	allowedB, err := e.Allow(ctx, "run-b", 1)
	require.NoError(t, err)
	require.True(t, allowedB)
}
