package loreline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"
)

// SyncEngineConfig configures queue draining.
type SyncEngineConfig struct {
	// MaxConcurrentEntities bounds how many entities are synced in
	// parallel. Operations for one entity are always serial. Default: 4.
	MaxConcurrentEntities int

	// AttemptTimeout bounds each remote submission. Default: 15s.
	AttemptTimeout time.Duration

	// DrainInterval is the fallback ticker that drains the queue even if
	// a network transition event was missed. Default: 30s.
	DrainInterval time.Duration

	// MaxAttempts is the retry budget per operation before it is
	// dead-lettered. Default: 8.
	MaxAttempts int

	// InitialBackoff is the requeue delay after the first transient
	// failure. Default: 1s.
	InitialBackoff time.Duration

	// MaxBackoff caps the requeue delay. Default: 5m.
	MaxBackoff time.Duration

	// BackoffMultiplier grows the delay per attempt. Default: 2.0.
	BackoffMultiplier float64

	// Jitter randomizes requeue delays by ±fraction. Default: 0.2.
	Jitter float64

	// StorageFailureThreshold is how many consecutive queue-storage
	// failures put the engine in degraded mode. Default: 3.
	StorageFailureThreshold int

	// BreakerFailures and BreakerResetTimeout configure the circuit
	// breaker in front of the remote. Defaults: 5 failures, 30s.
	BreakerFailures     int
	BreakerResetTimeout time.Duration
}

// DefaultSyncEngineConfig returns default sync engine configuration.
func DefaultSyncEngineConfig() SyncEngineConfig {
	return SyncEngineConfig{
		MaxConcurrentEntities:   4,
		AttemptTimeout:          15 * time.Second,
		DrainInterval:           30 * time.Second,
		MaxAttempts:             8,
		InitialBackoff:          time.Second,
		MaxBackoff:              5 * time.Minute,
		BackoffMultiplier:       2.0,
		Jitter:                  0.2,
		StorageFailureThreshold: 3,
		BreakerFailures:         5,
		BreakerResetTimeout:     30 * time.Second,
	}
}

// SyncStats is a snapshot of engine counters.
type SyncStats struct {
	Drains       uint64
	Confirmed    uint64
	Retried      uint64
	DeadLettered uint64
	Conflicts    uint64
	Pending      int
	Degraded     bool
}

// SyncEngine drains the mutation queue to the remote service. It wakes on
// Offline->Online transitions and on a fallback ticker, replays pending
// operations grouped by entity, and enforces:
//
//   - strict per-entity order: an entity's operations are submitted one
//     at a time, in enqueue order, and a failure stops that entity's run
//     until the next drain
//   - bounded concurrency across entities
//   - exponential backoff with jitter for transient failures
//   - dead-lettering for permanent and conflict failures
//
// Repeated queue-storage failures switch the engine to degraded mode,
// which halts draining until ClearDegraded is called.
type SyncEngine struct {
	config  SyncEngineConfig
	queue   *MutationQueue
	remote  RemoteClient
	monitor *NetworkMonitor
	hub     *NotificationHub
	metrics *SyncMetrics
	breaker *CircuitBreaker

	mu              sync.Mutex
	draining        bool
	degraded        bool
	storageFailures int

	drains       atomic.Uint64
	confirmed    atomic.Uint64
	retried      atomic.Uint64
	deadLettered atomic.Uint64
	conflicts    atomic.Uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	nowFn  func() time.Time
}

// NewSyncEngine creates a sync engine. The hub and metrics may be nil.
func NewSyncEngine(config SyncEngineConfig, queue *MutationQueue, remote RemoteClient,
	monitor *NetworkMonitor, hub *NotificationHub, metrics *SyncMetrics) *SyncEngine {

	def := DefaultSyncEngineConfig()
	if config.MaxConcurrentEntities <= 0 {
		config.MaxConcurrentEntities = def.MaxConcurrentEntities
	}
	if config.AttemptTimeout <= 0 {
		config.AttemptTimeout = def.AttemptTimeout
	}
	if config.DrainInterval <= 0 {
		config.DrainInterval = def.DrainInterval
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = def.MaxAttempts
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = def.InitialBackoff
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = def.MaxBackoff
	}
	if config.BackoffMultiplier <= 0 {
		config.BackoffMultiplier = def.BackoffMultiplier
	}
	if config.Jitter < 0 || config.Jitter > 1 {
		config.Jitter = def.Jitter
	}
	if config.StorageFailureThreshold <= 0 {
		config.StorageFailureThreshold = def.StorageFailureThreshold
	}
	if config.BreakerFailures <= 0 {
		config.BreakerFailures = def.BreakerFailures
	}
	if config.BreakerResetTimeout <= 0 {
		config.BreakerResetTimeout = def.BreakerResetTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &SyncEngine{
		config:  config,
		queue:   queue,
		remote:  remote,
		monitor: monitor,
		hub:     hub,
		metrics: metrics,
		breaker: NewCircuitBreaker(config.BreakerFailures, config.BreakerResetTimeout),
		ctx:     ctx,
		cancel:  cancel,
		nowFn:   func() time.Time { return time.Now().UTC() },
	}
}

// Start launches the drain loop. The monitor subscription is taken here
// so transitions fired right after Start are never missed.
func (e *SyncEngine) Start() {
	transitions, unsubscribe := e.monitor.Subscribe()
	e.wg.Add(1)
	go e.run(transitions, unsubscribe)
}

// Stop halts the drain loop and waits for in-flight work to finish.
func (e *SyncEngine) Stop() {
	e.cancel()
	e.wg.Wait()
}

// Degraded reports whether the engine has halted draining after repeated
// storage failures.
func (e *SyncEngine) Degraded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.degraded
}

// ClearDegraded resets degraded mode, for example after the operator has
// fixed the underlying storage problem.
func (e *SyncEngine) ClearDegraded() {
	e.mu.Lock()
	wasDegraded := e.degraded
	e.degraded = false
	e.storageFailures = 0
	e.mu.Unlock()

	if wasDegraded {
		slog.Info("sync engine left degraded mode")
		e.publish(Event{Type: EventRecovered})
		e.metrics.setDegraded(false)
	}
}

// Stats returns a snapshot of engine counters.
func (e *SyncEngine) Stats() SyncStats {
	return SyncStats{
		Drains:       e.drains.Load(),
		Confirmed:    e.confirmed.Load(),
		Retried:      e.retried.Load(),
		DeadLettered: e.deadLettered.Load(),
		Conflicts:    e.conflicts.Load(),
		Pending:      e.queue.PendingCount(),
		Degraded:     e.Degraded(),
	}
}

// SyncNow drains the queue immediately, regardless of connectivity
// events. Returns ErrDegraded if the engine has halted.
func (e *SyncEngine) SyncNow(ctx context.Context) error {
	return e.drain(ctx)
}

func (e *SyncEngine) run(transitions <-chan NetworkState, unsubscribe func()) {
	defer e.wg.Done()
	defer unsubscribe()

	ticker := time.NewTicker(e.config.DrainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case state, ok := <-transitions:
			if !ok {
				return
			}
			if state == NetworkOnline {
				slog.Info("network restored, draining mutation queue")
				if err := e.drain(e.ctx); err != nil {
					slog.Warn("drain after reconnect failed", "err", err)
				}
			}
		case <-ticker.C:
			// Fallback for missed transition events.
			if e.monitor.IsOnline() {
				if err := e.drain(e.ctx); err != nil {
					slog.Warn("periodic drain failed", "err", err)
				}
			}
		}
	}
}

// drain replays pending operations. Only one drain runs at a time;
// overlapping triggers are coalesced.
func (e *SyncEngine) drain(ctx context.Context) error {
	e.mu.Lock()
	if e.degraded {
		e.mu.Unlock()
		return ErrDegraded
	}
	if e.draining {
		e.mu.Unlock()
		return nil
	}
	e.draining = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.draining = false
		e.mu.Unlock()
	}()

	ops := e.queue.Drain()
	if len(ops) == 0 {
		return nil
	}
	e.drains.Add(1)
	slog.Debug("draining mutation queue", "pending", len(ops))

	// Group by entity, preserving sequence order within each group.
	groups := make(map[string][]Operation)
	var order []string
	for _, op := range ops {
		if _, seen := groups[op.EntityID]; !seen {
			order = append(order, op.EntityID)
		}
		groups[op.EntityID] = append(groups[op.EntityID], op)
	}

	sem := make(chan struct{}, e.config.MaxConcurrentEntities)
	var wg sync.WaitGroup
	for _, entityID := range order {
		group := groups[entityID]
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			e.syncEntity(ctx, group)
		}()
	}
	wg.Wait()

	e.metrics.setQueueDepth(e.queue.PendingCount())
	return nil
}

// syncEntity submits one entity's operations in order. Any failure ends
// the run; remaining operations stay pending for the next drain so the
// relative order is never violated.
func (e *SyncEngine) syncEntity(ctx context.Context, group []Operation) {
	for _, op := range group {
		if ctx.Err() != nil || e.Degraded() {
			return
		}
		if !e.submitOne(ctx, op) {
			return
		}
	}
}

// submitOne replays a single operation and applies the outcome to the
// queue. Returns true if the entity's run may continue.
func (e *SyncEngine) submitOne(ctx context.Context, op Operation) bool {
	if err := e.queue.MarkInFlight(ctx, op.ID); err != nil {
		e.recordStorageFailure("mark in-flight", op.ID, err)
		return false
	}

	start := e.nowFn()
	attemptCtx, cancel := context.WithTimeout(ctx, e.config.AttemptTimeout)
	err := e.breaker.Execute(func() error {
		return e.remote.Submit(attemptCtx, op)
	})
	cancel()
	e.metrics.observeAttempt(e.nowFn().Sub(start))

	if err == nil {
		if ackErr := e.queue.Acknowledge(ctx, op.ID); ackErr != nil {
			// The remote applied the operation; replaying it later is
			// harmless because submission is idempotent on id. Return it
			// to pending so a later drain can clear it.
			_ = e.queue.Requeue(ctx, op.ID, 0)
			e.recordStorageFailure("acknowledge", op.ID, ackErr)
			return false
		}
		e.confirmed.Add(1)
		e.metrics.recordOutcome("confirmed")
		e.resetStorageFailures()
		return true
	}

	switch ClassifyError(err) {
	case FailureConflict:
		e.conflicts.Add(1)
		e.deadLetter(ctx, op, err, EventConflict)
		return false

	case FailurePermanent:
		e.deadLetter(ctx, op, err, EventDeadLetter)
		return false

	case FailureStorage:
		e.recordStorageFailure("submit", op.ID, err)
		return false

	default:
		// Transient, including timeouts and an open circuit breaker.
		if op.Attempts+1 >= e.config.MaxAttempts {
			e.deadLetter(ctx, op,
				fmt.Errorf("retry budget exhausted after %d attempts: %w", op.Attempts+1, err),
				EventDeadLetter)
			return false
		}
		delay := e.requeueDelay(op.Attempts + 1)
		if reqErr := e.queue.Requeue(ctx, op.ID, delay); reqErr != nil {
			e.recordStorageFailure("requeue", op.ID, reqErr)
			return false
		}
		e.retried.Add(1)
		e.metrics.recordOutcome("retried")
		slog.Debug("operation requeued", "op", op.ID, "entity", op.EntityID,
			"attempts", op.Attempts+1, "delay", delay)
		return false
	}
}

func (e *SyncEngine) deadLetter(ctx context.Context, op Operation, cause error, eventType EventType) {
	reason := cause.Error()
	if err := e.queue.DeadLetter(ctx, op.ID, reason); err != nil {
		e.recordStorageFailure("dead-letter", op.ID, err)
		return
	}
	e.deadLettered.Add(1)
	e.metrics.recordOutcome("dead_lettered")
	slog.Warn("operation dead-lettered", "op", op.ID, "entity", op.EntityID, "reason", reason)

	ev := Event{Type: eventType, Operation: op, Reason: reason}
	var se *SyncError
	if errors.As(cause, &se) {
		ev.RemoteUpdatedAt = se.RemoteUpdatedAt
	}
	e.publish(ev)
}

func (e *SyncEngine) requeueDelay(attempt int) time.Duration {
	delay := computeBackoff(attempt, e.config.InitialBackoff, e.config.MaxBackoff, e.config.BackoffMultiplier)
	if e.config.Jitter > 0 {
		jitterRange := float64(delay) * e.config.Jitter
		delay += time.Duration((rand.Float64()*2 - 1) * jitterRange)
	}
	if delay < 0 {
		delay = 0
	}
	return delay
}

func (e *SyncEngine) resetStorageFailures() {
	e.mu.Lock()
	e.storageFailures = 0
	e.mu.Unlock()
}

// recordStorageFailure counts consecutive failures to persist queue state.
// Once the threshold is crossed the engine halts draining: continuing
// without durable queue records risks losing or duplicating operations.
func (e *SyncEngine) recordStorageFailure(stage, opID string, err error) {
	slog.Error("queue storage failure", "stage", stage, "op", opID, "err", err)

	e.mu.Lock()
	e.storageFailures++
	trip := !e.degraded && e.storageFailures >= e.config.StorageFailureThreshold
	if trip {
		e.degraded = true
	}
	e.mu.Unlock()

	if trip {
		slog.Error("sync engine entering degraded mode",
			"consecutive_failures", e.config.StorageFailureThreshold)
		e.publish(Event{
			Type:   EventDegraded,
			Reason: fmt.Sprintf("queue storage failed %d times: %v", e.config.StorageFailureThreshold, err),
		})
		e.metrics.setDegraded(true)
	}
}

func (e *SyncEngine) publish(ev Event) {
	if e.hub != nil {
		e.hub.Publish(ev)
	}
}
