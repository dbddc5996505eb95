// File: internal/orchestrator/orchestrator.go

// Package orchestrator feeds targets through the attempt runner one at a
// time. Strict serialization is the point: a single browser process, a
// single tab, a single site being contacted at any moment, with pacing
// between session starts out of courtesy to the sites on the list.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/formcourier/formcourier/api/schemas"
	"github.com/formcourier/formcourier/internal/config"
)

// recordTimeout bounds the outcome write so a slow database cannot hold up
// the next target.
const recordTimeout = 10 * time.Second

// AttemptRunner executes one target attempt to its terminal outcome.
type AttemptRunner interface {
	Run(ctx context.Context, target schemas.Target) (schemas.SubmissionOutcome, schemas.AttemptMetadata)
}

// OutcomeRecorder persists terminal outcomes. A recording failure is logged
// and the queue moves on; losing one row beats stalling the whole run.
type OutcomeRecorder interface {
	RecordOutcome(ctx context.Context, targetID string, outcome schemas.SubmissionOutcome, meta schemas.AttemptMetadata) error
}

// Orchestrator owns the target queue and the run loop.
type Orchestrator struct {
	logger  *zap.Logger
	clock   clockwork.Clock
	runner  AttemptRunner
	store   OutcomeRecorder
	sink    schemas.EventSink
	limiter *rate.Limiter

	queue chan schemas.Target

	mu            sync.Mutex
	started       bool
	stopping      bool
	dropRemaining bool
	currentID     string
	cancelCurrent context.CancelFunc
	cancelled     map[string]bool

	done chan struct{}
}

// New builds an orchestrator. TargetsPerMinute zero disables pacing.
func New(logger *zap.Logger, clock clockwork.Clock, runner AttemptRunner, store OutcomeRecorder, sink schemas.EventSink, cfg config.EngineConfig) *Orchestrator {
	var limiter *rate.Limiter
	if cfg.TargetsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.TargetsPerMinute/60.0), 1)
	}
	return &Orchestrator{
		logger:    logger.Named("orchestrator"),
		clock:     clock,
		runner:    runner,
		store:     store,
		sink:      sink,
		limiter:   limiter,
		queue:     make(chan schemas.Target, cfg.QueueSize),
		cancelled: make(map[string]bool),
		done:      make(chan struct{}),
	}
}

// Enqueue adds a target to the back of the queue and announces it on the
// event stream. Fails when the queue is full or the run is stopping.
func (o *Orchestrator) Enqueue(target schemas.Target) error {
	// The lock spans the send so intake can never race the queue close in
	// Stop. The send itself never blocks; the queue channel is buffered.
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stopping {
		return fmt.Errorf("orchestrator is stopping, target %s rejected", target.ID)
	}

	if target.EnqueuedAt.IsZero() {
		target.EnqueuedAt = o.clock.Now().UTC()
	}

	select {
	case o.queue <- target:
		o.sink.Publish(schemas.Event{
			TargetID: target.ID,
			Kind:     schemas.EventQueued,
			State:    schemas.StateQueued,
		})
		return nil
	default:
		return fmt.Errorf("queue full, target %s rejected", target.ID)
	}
}

// Start launches the run loop. It returns immediately; the loop runs until
// Stop is called or ctx is cancelled.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.started {
		return fmt.Errorf("orchestrator already started")
	}
	o.started = true

	go o.loop(ctx)
	return nil
}

// Drain closes intake and waits for every queued target to be attempted,
// bounded by ctx. This is how a run ends normally.
func (o *Orchestrator) Drain(ctx context.Context) error {
	return o.shutdown(ctx, false)
}

// Stop ends the run early but gracefully: intake closes, the attempt in
// flight runs to its terminal outcome, and every target still queued is
// dropped with a cancelled event. Pair it with CancelCurrent to also
// abort the attempt in flight.
func (o *Orchestrator) Stop(ctx context.Context) error {
	return o.shutdown(ctx, true)
}

func (o *Orchestrator) shutdown(ctx context.Context, dropRest bool) error {
	o.mu.Lock()
	if o.stopping {
		if dropRest {
			o.dropRemaining = true
		}
		o.mu.Unlock()
		select {
		case <-o.done:
			return nil
		case <-ctx.Done():
			return fmt.Errorf("orchestrator stop timed out: %w", ctx.Err())
		}
	}
	o.stopping = true
	o.dropRemaining = dropRest
	started := o.started
	close(o.queue)
	o.mu.Unlock()

	if !started {
		close(o.done)
		return nil
	}

	select {
	case <-o.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("orchestrator stop timed out: %w", ctx.Err())
	}
}

// CancelCurrent aborts the attempt in flight, if any. The attempt ends
// through the runner's normal terminal path.
func (o *Orchestrator) CancelCurrent() {
	o.mu.Lock()
	cancel := o.cancelCurrent
	id := o.currentID
	o.mu.Unlock()
	if cancel != nil {
		o.logger.Info("Cancelling current attempt", zap.String("target_id", id))
		cancel()
	}
}

// Cancel removes a target wherever it is: the in-flight attempt is
// aborted, a queued target is marked and skipped with a cancelled event
// when it reaches the head of the queue.
func (o *Orchestrator) Cancel(targetID string) {
	o.mu.Lock()
	if o.currentID == targetID && o.cancelCurrent != nil {
		cancel := o.cancelCurrent
		o.mu.Unlock()
		cancel()
		return
	}
	o.cancelled[targetID] = true
	o.mu.Unlock()
}

// loop is the single consumer of the queue.
func (o *Orchestrator) loop(ctx context.Context) {
	defer close(o.done)

	for {
		select {
		case <-ctx.Done():
			o.logger.Info("Run loop stopped by context")
			return
		case target, ok := <-o.queue:
			if !ok {
				o.logger.Info("Queue drained, run loop done")
				return
			}
			o.dispatch(ctx, target)
		}
	}
}

// dispatch runs one target, skipping it when cancelled while queued and
// pacing session starts through the limiter.
func (o *Orchestrator) dispatch(ctx context.Context, target schemas.Target) {
	o.mu.Lock()
	if o.dropRemaining || o.cancelled[target.ID] {
		detail := "cancelled while queued"
		if o.dropRemaining {
			detail = "dropped by early stop"
		}
		delete(o.cancelled, target.ID)
		o.mu.Unlock()
		o.sink.Publish(schemas.Event{
			TargetID: target.ID,
			Kind:     schemas.EventCancelled,
			Detail:   detail,
		})
		return
	}
	o.mu.Unlock()
	if o.limiter != nil {
		if err := o.limiter.Wait(ctx); err != nil {
			// Shutdown during the pacing wait; the target stays unattempted.
			return
		}
	}

	attemptCtx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.currentID = target.ID
	o.cancelCurrent = cancel
	o.mu.Unlock()

	outcome, meta := o.runner.Run(attemptCtx, target)

	o.mu.Lock()
	o.currentID = ""
	o.cancelCurrent = nil
	o.mu.Unlock()
	cancel()

	o.record(target.ID, outcome, meta)
}

func (o *Orchestrator) record(targetID string, outcome schemas.SubmissionOutcome, meta schemas.AttemptMetadata) {
	recordCtx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := o.store.RecordOutcome(recordCtx, targetID, outcome, meta); err != nil {
		o.logger.Error("Failed to record outcome",
			zap.String("target_id", targetID),
			zap.String("outcome", string(outcome.Kind)),
			zap.Error(err),
		)
	}
}
