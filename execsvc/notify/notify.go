// Package notify publishes execution progress to a Pulse replicated map so
// external dashboards can subscribe to wave/atom completion instead of
// polling getProgress, additive to the poll surface the control API already
// exposes. It mirrors the cluster-coordination pattern in
// ports/llm/middleware's adaptive rate limiter: state lives in an
// rmap.Map, and readers wake on the map's Subscribe channel rather than on a
// dedicated stream type.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"goa.design/atomexec/execsvc"
	"goa.design/pulse/rmap"
)

// Publisher implements execsvc.ProgressNotifier by writing each run's latest
// progress snapshot, JSON-encoded, into a shared replicated map.
type Publisher struct {
	m *rmap.Map
}

// NewPublisher builds a Publisher backed by m.
func NewPublisher(m *rmap.Map) *Publisher {
	return &Publisher{m: m}
}

var _ execsvc.ProgressNotifier = (*Publisher)(nil)

// maxCASAttempts bounds the compare-and-swap retry loop for overwriting an
// existing entry, matching the retry budget the adaptive rate limiter's
// cluster mode uses for its own TestAndSet loops.
const maxCASAttempts = 3

// Publish overwrites the run's progress entry, triggering an event on every
// node subscribed to the map.
func (p *Publisher) Publish(ctx context.Context, runID string, progress execsvc.ExecutionProgress) error {
	raw, err := json.Marshal(progress)
	if err != nil {
		return fmt.Errorf("notify: marshal progress: %w", err)
	}
	created, err := p.m.SetIfNotExists(ctx, runID, string(raw))
	if err != nil {
		return fmt.Errorf("notify: publish progress: %w", err)
	}
	if created {
		return nil
	}
	for i := 0; i < maxCASAttempts; i++ {
		cur, ok := p.m.Get(runID)
		if !ok {
			_, err := p.m.SetIfNotExists(ctx, runID, string(raw))
			return err
		}
		prev, err := p.m.TestAndSet(ctx, runID, cur, string(raw))
		if err != nil {
			return fmt.Errorf("notify: publish progress: %w", err)
		}
		if prev == cur {
			return nil
		}
	}
	return fmt.Errorf("notify: publish progress: exhausted %d compare-and-swap attempts for run %q", maxCASAttempts, runID)
}

// Subscriber watches the replicated map for progress updates and invokes a
// callback with the decoded snapshot for every known run id. The event the
// map's Subscribe channel delivers does not identify which key changed, so
// the Subscriber re-reads every id knownRunIDs returns, the same
// resynchronize-on-signal pattern the adaptive rate limiter's cluster mode
// uses after a TestAndSet race.
type Subscriber struct {
	m           *rmap.Map
	knownRunIDs func() []string
	onUpdate    func(runID string, progress execsvc.ExecutionProgress)
}

// NewSubscriber builds a Subscriber backed by m. knownRunIDs supplies the set
// of run ids to re-check on every map event (typically the execution
// service's own run index). onUpdate is called from the Subscriber's own
// goroutine after Start; it must not block for long.
func NewSubscriber(m *rmap.Map, knownRunIDs func() []string, onUpdate func(runID string, progress execsvc.ExecutionProgress)) *Subscriber {
	return &Subscriber{m: m, knownRunIDs: knownRunIDs, onUpdate: onUpdate}
}

// Start begins watching for map events until ctx is canceled. It runs in the
// caller's goroutine; callers typically invoke it via `go sub.Start(ctx)`.
func (s *Subscriber) Start(ctx context.Context) {
	ch := s.m.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-ch:
			if !ok {
				return
			}
			s.drain()
		}
	}
}

func (s *Subscriber) drain() {
	for _, runID := range s.knownRunIDs() {
		raw, ok := s.m.Get(runID)
		if !ok || raw == "" {
			continue
		}
		var progress execsvc.ExecutionProgress
		if err := json.Unmarshal([]byte(raw), &progress); err != nil {
			continue
		}
		s.onUpdate(runID, progress)
	}
}
