// Package temporal backs engine.Engine with Temporal: each run is a
// workflow execution whose single activity runs the drive loop. The run's
// handler (and with it the drive loop's state, such as the waves not yet
// executed) is held only in the memory of the process that called
// StartRun; an activity that runs in a process with no handler registered
// for the run fails, so a run does not survive a restart of that process.
//
// A run's Handler does real I/O (LLM calls), which workflow code must never
// do directly, so StartRun executes the handler body inside a single long
// Temporal Activity rather than inside the workflow function itself; the
// workflow is a thin, deterministic shell that starts that activity and
// waits for it. Because Temporal workflow signals are only deliverable to
// workflow code, not to the activity actually running the handler,
// pause/resume signals are instead relayed through a goa.design/pulse/rmap
// replicated map keyed by run ID: Signal writes a key the activity polls,
// so the mechanism works the same whether the activity and the signaling
// caller are in the same process or not.
package temporal

import (
	"context"
	"fmt"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"goa.design/pulse/rmap"

	"goa.design/atomexec/runtime/engine"
)

const runWorkflowName = "AtomExecRun"
const runActivityName = "AtomExecDrive"

// signalsMap is the subset of *rmap.Map the pause/resume relay uses,
// narrowed the same way ports/llm/middleware's clusterMap narrows it, so
// tests can substitute an in-memory fake without a live Redis-backed Pulse
// map.
type signalsMap interface {
	Get(key string) (string, bool)
	SetIfNotExists(ctx context.Context, key, value string) (bool, error)
	TestAndSet(ctx context.Context, key, test, value string) (string, error)
}

// Options configures the Temporal-backed Engine.
type Options struct {
	// Client is a pre-configured Temporal client. Required.
	Client client.Client
	// TaskQueue is the queue workers poll. Required.
	TaskQueue string
	// Signals is the replicated map used to relay pause/resume signals to
	// the activity running a handler. Required.
	Signals *rmap.Map
}

// Engine implements engine.Engine on top of a Temporal worker and client.
type Engine struct {
	client    client.Client
	taskQueue string
	signals   signalsMap
	worker    worker.Worker

	handlers map[string]engine.RunFunc
}

// New constructs a Temporal-backed Engine and registers its workflow and
// activity definitions with a worker on opts.TaskQueue. Call Worker().Run
// or Worker().Start to begin polling; StartRun does not start the worker
// itself.
func New(opts Options) (*Engine, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("temporal: client is required")
	}
	if opts.TaskQueue == "" {
		return nil, fmt.Errorf("temporal: task queue is required")
	}
	if opts.Signals == nil {
		return nil, fmt.Errorf("temporal: signals map is required")
	}
	e := &Engine{
		client:    opts.Client,
		taskQueue: opts.TaskQueue,
		signals:   opts.Signals,
		handlers:  make(map[string]engine.RunFunc),
	}
	w := worker.New(opts.Client, opts.TaskQueue, worker.Options{})
	w.RegisterWorkflowWithOptions(e.runWorkflow, workflow.RegisterOptions{Name: runWorkflowName})
	w.RegisterActivityWithOptions(e.runActivity, activity.RegisterOptions{Name: runActivityName})
	e.worker = w
	return e, nil
}

// Worker exposes the underlying Temporal worker so callers control its
// lifecycle (Run/Start/Stop) alongside the rest of the process.
func (e *Engine) Worker() worker.Worker {
	return e.worker
}

// StartRun implements engine.Engine, starting a workflow execution whose ID
// is req.RunID.
func (e *Engine) StartRun(ctx context.Context, req engine.RunRequest) (engine.Handle, error) {
	if req.RunID == "" {
		return nil, fmt.Errorf("temporal: run id is required")
	}
	if req.Handler == nil {
		return nil, fmt.Errorf("temporal: handler is required")
	}
	if _, dup := e.handlers[req.RunID]; dup {
		return nil, fmt.Errorf("temporal: run %q already started", req.RunID)
	}
	e.handlers[req.RunID] = req.Handler

	run, err := e.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        req.RunID,
		TaskQueue: e.taskQueue,
	}, runWorkflowName, req.RunID)
	if err != nil {
		return nil, fmt.Errorf("temporal: start workflow: %w", err)
	}
	return &handle{run: run, runID: req.RunID, signals: e.signals}, nil
}

// runWorkflow is the deterministic shell: it starts the drive activity and
// waits for it, doing no I/O itself.
func (e *Engine) runWorkflow(ctx workflow.Context, runID string) error {
	ao := workflow.ActivityOptions{StartToCloseTimeout: 0}
	actCtx := workflow.WithActivityOptions(ctx, ao)
	return workflow.ExecuteActivity(actCtx, runActivityName, runID).Get(ctx, nil)
}

// runActivity executes the previously registered handler for runID, using
// the rmap-backed signal relay for pause/resume.
func (e *Engine) runActivity(ctx context.Context, runID string) error {
	handler, ok := e.handlers[runID]
	if !ok {
		return fmt.Errorf("temporal: no handler registered for run %q", runID)
	}
	rc := &runContext{ctx: ctx, runID: runID, signals: e.signals}
	return handler(rc)
}

type runContext struct {
	ctx     context.Context
	runID   string
	signals signalsMap
}

func (r *runContext) Context() context.Context { return r.ctx }
func (r *runContext) RunID() string            { return r.runID }
func (r *runContext) Now() time.Time           { return time.Now() }

func (r *runContext) Signals(name string) engine.SignalChannel {
	return &pollingSignal{signals: r.signals, key: r.runID + ":" + name}
}

// pollingSignal polls the rmap replicated map for a key set by Handle.Signal.
// It clears the key on a successful receive so repeated signals of the same
// name each require a fresh Signal call.
type pollingSignal struct {
	signals signalsMap
	key     string
}

const pollInterval = 200 * time.Millisecond

func (p *pollingSignal) Receive(ctx context.Context) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		if p.ReceiveAsync() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// pendingValue/clearedValue model the key's two states without requiring a
// deletion primitive: Signal sets pendingValue; a successful receive swaps
// it to clearedValue so only one Receive observes each Signal call.
const pendingValue = "1"
const clearedValue = "0"

func (p *pollingSignal) ReceiveAsync() bool {
	cur, ok := p.signals.Get(p.key)
	if !ok || cur != pendingValue {
		return false
	}
	// TestAndSet returns the pre-swap value on success, so a successful swap
	// from pendingValue to clearedValue returns pendingValue, not clearedValue.
	prev, err := p.signals.TestAndSet(context.Background(), p.key, pendingValue, clearedValue)
	return err == nil && prev == pendingValue
}

type handle struct {
	run     client.WorkflowRun
	runID   string
	signals signalsMap
}

func (h *handle) Wait(ctx context.Context) error {
	return h.run.Get(ctx, nil)
}

// Signal writes the rmap key the running activity's pollingSignal watches.
func (h *handle) Signal(ctx context.Context, name string) error {
	key := h.runID + ":" + name
	if _, err := h.signals.SetIfNotExists(ctx, key, pendingValue); err != nil {
		return fmt.Errorf("temporal: signal %q: %w", name, err)
	}
	// SetIfNotExists is a no-op when the key already holds clearedValue from
	// a prior receive; force it back to pendingValue so this Signal is seen.
	if _, err := h.signals.TestAndSet(ctx, key, clearedValue, pendingValue); err != nil {
		return fmt.Errorf("temporal: signal %q: %w", name, err)
	}
	return nil
}
