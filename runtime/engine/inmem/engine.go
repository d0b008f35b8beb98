// Package inmem provides an in-process goroutine-backed engine.Engine, used
// by default and in tests. Runs do not survive a process restart.
package inmem

import (
	"context"
	"fmt"
	"sync"
	"time"

	"goa.design/atomexec/runtime/engine"
)

type (
	// Engine is an in-memory engine.Engine.
	Engine struct {
		mu   sync.Mutex
		runs map[string]*handle
	}

	runContext struct {
		ctx   context.Context
		runID string

		sigMu sync.Mutex
		sigs  map[string]*signalChan
	}

	signalChan struct {
		ch chan struct{}
	}

	handle struct {
		done chan struct{}
		err  error
		rc   *runContext
	}
)

// New returns a ready-to-use in-memory Engine.
func New() *Engine {
	return &Engine{runs: make(map[string]*handle)}
}

// StartRun implements engine.Engine.
func (e *Engine) StartRun(ctx context.Context, req engine.RunRequest) (engine.Handle, error) {
	if req.RunID == "" {
		return nil, fmt.Errorf("inmem: run id is required")
	}
	if req.Handler == nil {
		return nil, fmt.Errorf("inmem: handler is required")
	}

	e.mu.Lock()
	if _, dup := e.runs[req.RunID]; dup {
		e.mu.Unlock()
		return nil, fmt.Errorf("inmem: run %q already started", req.RunID)
	}
	rc := &runContext{ctx: context.WithoutCancel(ctx), runID: req.RunID, sigs: make(map[string]*signalChan)}
	h := &handle{done: make(chan struct{}), rc: rc}
	e.runs[req.RunID] = h
	e.mu.Unlock()

	go func() {
		defer close(h.done)
		h.err = req.Handler(rc)
	}()

	return h, nil
}

func (rc *runContext) Context() context.Context { return rc.ctx }
func (rc *runContext) RunID() string            { return rc.runID }
func (rc *runContext) Now() time.Time           { return time.Now() }

func (rc *runContext) Signals(name string) engine.SignalChannel {
	rc.sigMu.Lock()
	defer rc.sigMu.Unlock()
	ch, ok := rc.sigs[name]
	if !ok {
		ch = &signalChan{ch: make(chan struct{}, 1)}
		rc.sigs[name] = ch
	}
	return ch
}

func (s *signalChan) Receive(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ch:
		return nil
	}
}

func (s *signalChan) ReceiveAsync() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}

func (h *handle) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		return h.err
	}
}

func (h *handle) Signal(ctx context.Context, name string) error {
	ch := h.rc.Signals(name).(*signalChan)
	select {
	case ch.ch <- struct{}{}:
		return nil
	default:
		// Channel already has a buffered, undelivered signal of this name;
		// coalescing repeated pause/resume requests is the desired
		// behavior, so this is not an error.
		return nil
	}
}
