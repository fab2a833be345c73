// Package pool owns the worker pool: one goroutine-backed isolate per
// live deployment, created on first request and evicted after an idle
// period or on its own resource-limit breach.
package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lagonhq/lagon-node/internal/isolate"
	"github.com/lagonhq/lagon-node/internal/metrics"

	"github.com/sirupsen/logrus"
)

// worker wraps one running Isolate and its inbound event channel.
type worker struct {
	events chan isolate.Event

	deploymentID string
	functionName string

	mu           sync.Mutex
	lastActivity time.Time

	done chan struct{}
}

func (w *worker) touch() {
	w.mu.Lock()
	w.lastActivity = time.Now()
	w.mu.Unlock()
}

func (w *worker) idleSince() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastActivity
}

// Spawner builds isolate.Options for a deployment ID so the pool can
// construct a fresh Isolate without depending on the registry directly.
type Spawner interface {
	Spawn(ctx context.Context, deploymentID string) (isolate.Options, error)
}

// Pool get-or-creates one worker per deployment ID and evicts idle ones.
type Pool struct {
	factory isolate.Factory
	spawner Spawner
	log     *logrus.Entry

	idleTTL time.Duration

	mu      sync.RWMutex
	workers map[string]*worker
}

// New creates a Pool. idleTTL of zero disables idle eviction.
func New(factory isolate.Factory, spawner Spawner, idleTTL time.Duration, log *logrus.Entry) *Pool {
	return &Pool{
		factory: factory,
		spawner: spawner,
		idleTTL: idleTTL,
		log:     log,
		workers: make(map[string]*worker),
	}
}

// Send delivers ev to the deployment's worker, creating it first if
// necessary. It blocks until the event has been handed to the worker's
// channel or ctx is done.
func (p *Pool) Send(ctx context.Context, deploymentID string, ev isolate.Event) error {
	w, err := p.getOrCreate(ctx, deploymentID)
	if err != nil {
		return err
	}
	w.touch()
	select {
	case w.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-w.done:
		return fmt.Errorf("deployment %s: worker terminated before event delivery", deploymentID)
	}
}

// Terminate asks the deployment's worker to stop, if one is running. It is
// a no-op if no worker exists.
func (p *Pool) Terminate(deploymentID, reason string) {
	p.mu.RLock()
	w, ok := p.workers[deploymentID]
	p.mu.RUnlock()
	if !ok {
		return
	}
	select {
	case w.events <- isolate.TerminateEvent{Reason: reason}:
	case <-w.done:
	}
}

func (p *Pool) getOrCreate(ctx context.Context, deploymentID string) (*worker, error) {
	p.mu.RLock()
	w, ok := p.workers[deploymentID]
	p.mu.RUnlock()
	if ok {
		return w, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if w, ok := p.workers[deploymentID]; ok {
		return w, nil
	}

	opts, err := p.spawner.Spawn(ctx, deploymentID)
	if err != nil {
		return nil, fmt.Errorf("spawn options for %s: %w", deploymentID, err)
	}
	iso := p.factory(opts)

	w = &worker{
		events:       make(chan isolate.Event, 8),
		deploymentID: deploymentID,
		functionName: opts.FunctionName,
		lastActivity: time.Now(),
		done:         make(chan struct{}),
	}
	p.workers[deploymentID] = w

	metrics.Isolates.WithLabelValues(deploymentID, opts.FunctionName).Inc()
	go p.run(deploymentID, iso, w)
	return w, nil
}

func (p *Pool) run(deploymentID string, iso isolate.Isolate, w *worker) {
	defer close(w.done)
	defer p.remove(deploymentID, w)
	defer metrics.Isolates.WithLabelValues(w.deploymentID, w.functionName).Dec()

	ctx := context.Background()
	if err := iso.Evaluate(ctx); err != nil {
		p.log.WithError(err).WithField("deployment_id", deploymentID).Warn("isolate evaluate failed")
		return
	}

	if err := iso.RunEventLoop(ctx, w.events); err != nil {
		p.log.WithError(err).WithField("deployment_id", deploymentID).Info("isolate event loop ended")
	}
}

// remove deletes w from the pool if it is still the current worker for
// deploymentID. A newer worker created concurrently is left untouched.
func (p *Pool) remove(deploymentID string, w *worker) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cur, ok := p.workers[deploymentID]; ok && cur == w {
		delete(p.workers, deploymentID)
	}
}

// EvictIdle terminates every worker that has been idle for at least
// idleTTL. Intended to be driven by a periodic caller (cmd/lagond wires a
// ticker). A zero idleTTL disables eviction.
func (p *Pool) EvictIdle() {
	if p.idleTTL <= 0 {
		return
	}
	cutoff := time.Now().Add(-p.idleTTL)

	p.mu.RLock()
	stale := make([]string, 0)
	for id, w := range p.workers {
		if w.idleSince().Before(cutoff) {
			stale = append(stale, id)
		}
	}
	p.mu.RUnlock()

	for _, id := range stale {
		p.Terminate(id, "idle")
	}
}

// Len reports the number of live workers.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.workers)
}

// Has reports whether a worker currently exists for deploymentID.
func (p *Pool) Has(deploymentID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.workers[deploymentID]
	return ok
}
