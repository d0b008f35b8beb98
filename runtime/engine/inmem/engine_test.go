package inmem

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"goa.design/atomexec/runtime/engine"
)

func TestEngineStartRunAndWait(t *testing.T) {
	e := New()
	ctx := context.Background()

	h, err := e.StartRun(ctx, engine.RunRequest{
		RunID: "run-1",
		Handler: func(rc engine.RunContext) error {
			require.Equal(t, "run-1", rc.RunID())
			return nil
		},
	})
	require.NoError(t, err)
	require.NoError(t, h.Wait(ctx))
}

func TestEngineDuplicateRunIDRejected(t *testing.T) {
	e := New()
	ctx := context.Background()
	block := make(chan struct{})

	_, err := e.StartRun(ctx, engine.RunRequest{
		RunID: "dup",
		Handler: func(rc engine.RunContext) error {
			<-block
			return nil
		},
	})
	require.NoError(t, err)

	_, err = e.StartRun(ctx, engine.RunRequest{
		RunID:   "dup",
		Handler: func(rc engine.RunContext) error { return nil },
	})
	require.Error(t, err)
	close(block)
}

func TestEngineSignalDeliveredToHandler(t *testing.T) {
	e := New()
	ctx := context.Background()
	received := make(chan struct{}, 1)

	h, err := e.StartRun(ctx, engine.RunRequest{
		RunID: "signaled",
		Handler: func(rc engine.RunContext) error {
			if err := rc.Signals("pause").Receive(rc.Context()); err != nil {
				return err
			}
			received <- struct{}{}
			return nil
		},
	})
	require.NoError(t, err)

	require.NoError(t, h.Signal(ctx, "pause"))

	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("signal not delivered")
	}
	require.NoError(t, h.Wait(ctx))
}

func TestEngineReceiveAsyncNonBlocking(t *testing.T) {
	e := New()
	ctx := context.Background()
	result := make(chan bool, 1)

	h, err := e.StartRun(ctx, engine.RunRequest{
		RunID: "async",
		Handler: func(rc engine.RunContext) error {
			result <- rc.Signals("resume").ReceiveAsync()
			return nil
		},
	})
	require.NoError(t, err)
	require.NoError(t, h.Wait(ctx))
	require.False(t, <-result)
}
