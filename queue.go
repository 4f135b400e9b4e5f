package loreline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Queue storage key layout. Every operation lives under its own key so a
// state transition is a single-key write; the backend promises nothing
// beyond single-key atomicity.
const (
	queueOpPrefix     = "queue/op/"
	queueDeadPrefix   = "queue/dead/"
	queueQuarantine   = "queue/quarantine/"
	storageRetryCount = 3
)

// OperationState is the queue-side state of a pending operation.
type OperationState string

const (
	// StatePending means the operation awaits (re)submission.
	StatePending OperationState = "pending"
	// StateInFlight means a remote call is outstanding.
	StateInFlight OperationState = "in_flight"
	// StateDeadLettered means the operation failed terminally and was
	// moved to the dead-letter list for inspection.
	StateDeadLettered OperationState = "dead_lettered"
)

// Operation is one queued remote mutation. ID is the idempotency key the
// remote service deduplicates on; Seq is the local enqueue order.
// Operations sharing an EntityID are never reordered relative to each
// other.
type Operation struct {
	ID          string          `json:"id"`
	Seq         uint64          `json:"seq"`
	Kind        EntityKind      `json:"kind"`
	EntityID    string          `json:"entity_id"`
	Verb        Verb            `json:"verb"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	UpdatedAt   time.Time       `json:"updated_at"`
	EnqueuedAt  time.Time       `json:"enqueued_at"`
	State       OperationState  `json:"state"`
	Attempts    int             `json:"attempts"`
	NextAttempt time.Time       `json:"next_attempt"`
	Reason      string          `json:"reason,omitempty"`
}

// MutationQueue is the durable, ordered log of operations not yet
// confirmed by the remote service. It survives process restarts: the
// constructor rehydrates every persisted operation before the store
// accepts new mutations.
type MutationQueue struct {
	mu      sync.Mutex
	backend StorageBackend
	codec   *recordCodec
	ops     map[string]*Operation // opID -> operation
	nextSeq uint64
	nowFn   func() time.Time
}

// NewMutationQueue opens the queue over the given backend and recovers
// any operations persisted by a prior process lifetime. Operations left
// InFlight by a crash return to Pending; replay is safe because the
// remote deduplicates on operation id.
func NewMutationQueue(backend StorageBackend, codec *recordCodec) (*MutationQueue, error) {
	q := &MutationQueue{
		backend: backend,
		codec:   codec,
		ops:     make(map[string]*Operation),
		nextSeq: 1,
		nowFn:   func() time.Time { return time.Now().UTC() },
	}
	if err := q.recover(context.Background()); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *MutationQueue) recover(ctx context.Context) error {
	keys, err := q.backend.List(ctx, queueOpPrefix)
	if err != nil {
		return newStorageError(StorageErrorTypeRead, "list queue records", queueOpPrefix, err)
	}
	sort.Strings(keys)

	for _, key := range keys {
		data, err := q.backend.Read(ctx, key)
		if err != nil {
			return newStorageError(StorageErrorTypeRead, "read queue record", key, err)
		}
		var op Operation
		if err := q.codec.decode(data, &op); err != nil {
			// Quarantine the undecodable record rather than dropping
			// it or refusing to start.
			slog.Error("queue record corrupted, quarantining", "key", key, "err", err)
			_ = q.backend.Write(ctx, queueQuarantine+key[len(queueOpPrefix):], data)
			_ = q.backend.Delete(ctx, key)
			continue
		}
		if op.State == StateInFlight {
			op.State = StatePending
		}
		q.ops[op.ID] = &op
		if op.Seq >= q.nextSeq {
			q.nextSeq = op.Seq + 1
		}
	}
	return nil
}

func opKey(seq uint64) string {
	return fmt.Sprintf("%s%020d", queueOpPrefix, seq)
}

func deadKey(seq uint64) string {
	return fmt.Sprintf("%s%020d", queueDeadPrefix, seq)
}

// persist writes one operation record, retrying storage failures before
// giving up. Storage failures are never swallowed; the caller decides
// what the failed transition means.
func (q *MutationQueue) persist(ctx context.Context, op *Operation) error {
	data, err := q.codec.encode(op)
	if err != nil {
		return err
	}
	var lastErr error
	for attempt := 0; attempt < storageRetryCount; attempt++ {
		if lastErr = q.backend.Write(ctx, opKey(op.Seq), data); lastErr == nil {
			return nil
		}
	}
	return newStorageError(StorageErrorTypeWrite, "persist queue record", opKey(op.Seq), lastErr)
}

// Enqueue appends an operation to the durable log. The sequence number is
// assigned here, and the record is persisted before Enqueue returns: a
// crash after return cannot lose the operation.
func (q *MutationQueue) Enqueue(ctx context.Context, op Operation) (Operation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if op.ID == "" {
		op.ID = newID()
	}
	if _, exists := q.ops[op.ID]; exists {
		return Operation{}, ErrDuplicateID
	}
	op.Seq = q.nextSeq
	op.State = StatePending
	op.EnqueuedAt = q.nowFn()
	if op.UpdatedAt.IsZero() {
		op.UpdatedAt = op.EnqueuedAt
	}

	if err := q.persist(ctx, &op); err != nil {
		return Operation{}, err
	}
	q.nextSeq++
	q.ops[op.ID] = &op
	return op, nil
}

// Drain returns the Pending operations eligible for submission, in
// ascending global sequence order. An entity's operations are released
// strictly in sequence: a head waiting out its backoff holds back every
// successor for that entity, otherwise a later drain could submit them
// out of order. The caller must still process operations for a given
// entity id strictly in this relative order.
func (q *MutationQueue) Drain() []Operation {
	q.mu.Lock()
	defer q.mu.Unlock()

	byEntity := make(map[string][]*Operation)
	for _, op := range q.ops {
		if op.State == StatePending {
			byEntity[op.EntityID] = append(byEntity[op.EntityID], op)
		}
	}

	now := q.nowFn()
	var out []Operation
	for _, ops := range byEntity {
		sort.Slice(ops, func(i, j int) bool { return ops[i].Seq < ops[j].Seq })
		for _, op := range ops {
			if op.NextAttempt.After(now) {
				break
			}
			out = append(out, *op)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// MarkInFlight transitions a Pending operation to InFlight.
func (q *MutationQueue) MarkInFlight(ctx context.Context, opID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	op, ok := q.ops[opID]
	if !ok {
		return fmt.Errorf("queue: unknown operation %q", opID)
	}
	if op.State != StatePending {
		return fmt.Errorf("queue: operation %q is %s, not pending", opID, op.State)
	}
	op.State = StateInFlight
	if err := q.persist(ctx, op); err != nil {
		op.State = StatePending
		return err
	}
	return nil
}

// Acknowledge removes a confirmed operation from durable storage.
func (q *MutationQueue) Acknowledge(ctx context.Context, opID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	op, ok := q.ops[opID]
	if !ok {
		return fmt.Errorf("queue: unknown operation %q", opID)
	}
	if err := q.backend.Delete(ctx, opKey(op.Seq)); err != nil {
		return newStorageError(StorageErrorTypeWrite, "delete acknowledged record", opKey(op.Seq), err)
	}
	delete(q.ops, opID)
	return nil
}

// Requeue returns an InFlight operation to Pending with a scheduled
// retry time.
func (q *MutationQueue) Requeue(ctx context.Context, opID string, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	op, ok := q.ops[opID]
	if !ok {
		return fmt.Errorf("queue: unknown operation %q", opID)
	}
	op.State = StatePending
	op.Attempts++
	op.NextAttempt = q.nowFn().Add(delay)
	return q.persist(ctx, op)
}

// DeadLetter moves an operation to the durable dead-letter list. Dead
// letters are never silently dropped; they wait for user or operator
// attention.
func (q *MutationQueue) DeadLetter(ctx context.Context, opID, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	op, ok := q.ops[opID]
	if !ok {
		return fmt.Errorf("queue: unknown operation %q", opID)
	}
	op.State = StateDeadLettered
	op.Reason = reason

	data, err := q.codec.encode(op)
	if err != nil {
		return err
	}
	if err := q.backend.Write(ctx, deadKey(op.Seq), data); err != nil {
		return newStorageError(StorageErrorTypeWrite, "persist dead letter", deadKey(op.Seq), err)
	}
	if err := q.backend.Delete(ctx, opKey(op.Seq)); err != nil {
		return newStorageError(StorageErrorTypeWrite, "delete dead-lettered record", opKey(op.Seq), err)
	}
	delete(q.ops, opID)
	return nil
}

// DeadLetters returns the durable dead-letter list in sequence order.
func (q *MutationQueue) DeadLetters(ctx context.Context) ([]Operation, error) {
	keys, err := q.backend.List(ctx, queueDeadPrefix)
	if err != nil {
		return nil, newStorageError(StorageErrorTypeRead, "list dead letters", queueDeadPrefix, err)
	}
	sort.Strings(keys)

	var out []Operation
	for _, key := range keys {
		data, err := q.backend.Read(ctx, key)
		if err != nil {
			return nil, newStorageError(StorageErrorTypeRead, "read dead letter", key, err)
		}
		var op Operation
		if err := q.codec.decode(data, &op); err != nil {
			return nil, err
		}
		out = append(out, op)
	}
	return out, nil
}

// PendingCount returns the number of operations awaiting submission
// (Pending or InFlight).
func (q *MutationQueue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops)
}
