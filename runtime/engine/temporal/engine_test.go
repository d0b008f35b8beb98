package temporal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSignalsMap is an in-memory signalsMap double, analogous to the
// teacher's fakeClusterMap in ports/llm/middleware's cluster rate limiter
// tests: it reproduces rmap.Map's compare-and-swap semantics (TestAndSet
// returns the pre-swap value) without a live Redis-backed Pulse map.
type fakeSignalsMap struct {
	values map[string]string
}

func newFakeSignalsMap() *fakeSignalsMap {
	return &fakeSignalsMap{values: make(map[string]string)}
}

func (m *fakeSignalsMap) Get(key string) (string, bool) {
	v, ok := m.values[key]
	return v, ok
}

func (m *fakeSignalsMap) SetIfNotExists(_ context.Context, key, value string) (bool, error) {
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = value
	return true, nil
}

func (m *fakeSignalsMap) TestAndSet(_ context.Context, key, test, value string) (string, error) {
	cur, ok := m.values[key]
	if !ok || cur != test {
		return cur, nil
	}
	m.values[key] = value
	return cur, nil
}

func TestPollingSignal_ReceiveAsyncObservesASignal(t *testing.T) {
	m := newFakeSignalsMap()
	h := &handle{runID: "run-1", signals: m}
	rc := &runContext{ctx: context.Background(), runID: "run-1", signals: m}

	ps := rc.Signals("pause")

	// No signal sent yet: nothing to observe.
	assert.False(t, ps.ReceiveAsync())

	require.NoError(t, h.Signal(context.Background(), "pause"))

	assert.True(t, ps.ReceiveAsync(), "a pending signal must be observed")
	assert.False(t, ps.ReceiveAsync(), "the same signal must not be observed twice")
}

func TestPollingSignal_ReceiveBlocksUntilSignaled(t *testing.T) {
	m := newFakeSignalsMap()
	h := &handle{runID: "run-1", signals: m}
	rc := &runContext{ctx: context.Background(), runID: "run-1", signals: m}

	ps := rc.Signals("resume")

	done := make(chan error, 1)
	go func() {
		done <- ps.Receive(context.Background())
	}()

	select {
	case <-done:
		t.Fatal("Receive returned before any signal was sent")
	case <-time.After(2 * pollInterval):
	}

	require.NoError(t, h.Signal(context.Background(), "resume"))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Receive did not observe the signal in time")
	}
}

func TestPollingSignal_ReceiveHonorsContextCancellation(t *testing.T) {
	m := newFakeSignalsMap()
	rc := &runContext{ctx: context.Background(), runID: "run-1", signals: m}
	ps := rc.Signals("pause")

	ctx, cancel := context.WithTimeout(context.Background(), 2*pollInterval)
	defer cancel()

	err := ps.Receive(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHandleSignal_RepeatedSignalsEachRequireAFreshReceive(t *testing.T) {
	m := newFakeSignalsMap()
	h := &handle{runID: "run-1", signals: m}
	rc := &runContext{ctx: context.Background(), runID: "run-1", signals: m}
	ps := rc.Signals("pause")

	require.NoError(t, h.Signal(context.Background(), "pause"))
	assert.True(t, ps.ReceiveAsync())

	// Once cleared, a second Signal must be observable again.
	require.NoError(t, h.Signal(context.Background(), "pause"))
	assert.True(t, ps.ReceiveAsync())
	assert.False(t, ps.ReceiveAsync())
}
