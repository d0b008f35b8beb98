package middleware

import (
	"context"
	"errors"
	"testing"

	"goa.design/atomexec/ports"
)

type fakeClient struct {
	generateErr   error
	generateCalls int
}

func (f *fakeClient) Generate(_ context.Context, _ string, _ float64, _ int) (string, ports.Usage, error) {
	f.generateCalls++
	return "", ports.Usage{}, f.generateErr
}

func TestAdaptiveRateLimiter_BackoffOnRateLimited(t *testing.T) {
	limiter := newAdaptiveRateLimiter(60000, 60000)
	initialTPM := limiter.currentTPM

	client := &fakeClient{generateErr: ErrRateLimited}
	wrapped := limiter.Middleware()(client)

	_, _, err := wrapped.Generate(context.Background(), "hello", 0.5, 100)
	if err == nil || !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}

	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	if limiter.currentTPM >= initialTPM {
		t.Fatalf("expected TPM to decrease, got %f (initial %f)", limiter.currentTPM, initialTPM)
	}
}

func TestAdaptiveRateLimiter_ProbeOnSuccess(t *testing.T) {
	limiter := newAdaptiveRateLimiter(60000, 120000)

	limiter.mu.Lock()
	initialTPM := limiter.currentTPM
	limiter.recoveryRate = 1000
	limiter.mu.Unlock()

	client := &fakeClient{}
	wrapped := limiter.Middleware()(client)

	_, _, err := wrapped.Generate(context.Background(), "hello", 0.5, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	if limiter.currentTPM <= initialTPM {
		t.Fatalf("expected TPM to increase, got %f (initial %f)", limiter.currentTPM, initialTPM)
	}
}

func TestAdaptiveRateLimiter_MiddlewareNilClient(t *testing.T) {
	limiter := newAdaptiveRateLimiter(1000, 1000)
	if wrapped := limiter.Middleware()(nil); wrapped != nil {
		t.Fatalf("expected nil wrapped client")
	}
}
