package loreline

import (
	"errors"
	"fmt"
	"time"
)

// Common sentinel errors for the loreline package.
var (
	// ErrClosed is returned when operations are attempted on a closed DB.
	ErrClosed = errors.New("database is closed")

	// ErrDegraded is returned when the sync engine has halted draining
	// after repeated durable-storage failures.
	ErrDegraded = errors.New("sync engine degraded: durable storage failing")

	// ErrTransient marks failures worth retrying with backoff.
	ErrTransient = errors.New("transient remote failure")

	// ErrPermanent marks failures the remote will never accept.
	ErrPermanent = errors.New("permanent remote rejection")

	// ErrConflict marks operations rejected because the remote holds a
	// newer version of the entity.
	ErrConflict = errors.New("remote version is newer")

	// ErrStorageIO marks durable queue storage failures.
	ErrStorageIO = errors.New("queue storage I/O failure")

	// ErrQueueCorruption is returned when a persisted operation cannot
	// be decoded.
	ErrQueueCorruption = errors.New("queue record corrupted")

	// ErrOperationTimeout is returned when a remote submission attempt
	// exceeds its deadline. Treated as transient.
	ErrOperationTimeout = errors.New("remote submission timed out")
)

// FailureClass categorizes sync failures. Every failure the queue or the
// sync engine observes is classified before the operation's next state is
// decided; nothing is swallowed without a state transition.
type FailureClass int

const (
	// FailureUnknown is an unclassified failure, handled as transient.
	FailureUnknown FailureClass = iota
	// FailureTransient indicates a retryable failure (timeout, 5xx,
	// connection reset).
	FailureTransient
	// FailurePermanent indicates a non-retryable rejection (validation,
	// refused conflict resolution).
	FailurePermanent
	// FailureConflict indicates the remote holds a newer UpdatedAt for
	// the entity; the operation is stale under last-write-wins.
	FailureConflict
	// FailureStorage indicates the durable queue storage itself failed.
	FailureStorage
)

func (c FailureClass) String() string {
	switch c {
	case FailureTransient:
		return "transient"
	case FailurePermanent:
		return "permanent"
	case FailureConflict:
		return "conflict"
	case FailureStorage:
		return "storage"
	default:
		return "unknown"
	}
}

// SyncError wraps a failure observed while replaying an operation against
// the remote service.
type SyncError struct {
	Class       FailureClass
	OperationID string
	Message     string
	Cause       error

	// RemoteUpdatedAt is set for conflict failures: the remote's current
	// modification time for the entity.
	RemoteUpdatedAt time.Time
}

func (e *SyncError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("sync %s [op %s]: %s: %v", e.Class, e.OperationID, e.Message, e.Cause)
	}
	return fmt.Sprintf("sync %s [op %s]: %s", e.Class, e.OperationID, e.Message)
}

func (e *SyncError) Unwrap() error {
	return e.Cause
}

// Is implements error matching against the sentinel taxonomy.
func (e *SyncError) Is(target error) bool {
	switch e.Class {
	case FailureTransient:
		return target == ErrTransient
	case FailurePermanent:
		return target == ErrPermanent
	case FailureConflict:
		return target == ErrConflict
	case FailureStorage:
		return target == ErrStorageIO
	}
	return false
}

func newSyncError(class FailureClass, opID, message string, cause error) *SyncError {
	return &SyncError{
		Class:       class,
		OperationID: opID,
		Message:     message,
		Cause:       cause,
	}
}

// ClassifyError maps an arbitrary error to a FailureClass. Typed errors
// carry their own class; everything else (including plain network errors
// and context deadlines from a bounded submission attempt) is transient.
func ClassifyError(err error) FailureClass {
	if err == nil {
		return FailureUnknown
	}
	var se *SyncError
	if errors.As(err, &se) {
		return se.Class
	}
	var ste *StorageError
	if errors.As(err, &ste) {
		return FailureStorage
	}
	switch {
	case errors.Is(err, ErrPermanent):
		return FailurePermanent
	case errors.Is(err, ErrConflict):
		return FailureConflict
	case errors.Is(err, ErrStorageIO):
		return FailureStorage
	}
	return FailureTransient
}

// StorageErrorType categorizes durable storage errors.
type StorageErrorType int

const (
	// StorageErrorTypeUnknown is an unclassified storage error.
	StorageErrorTypeUnknown StorageErrorType = iota
	// StorageErrorTypeRead indicates a read failure.
	StorageErrorTypeRead
	// StorageErrorTypeWrite indicates a write failure.
	StorageErrorTypeWrite
	// StorageErrorTypeCorruption indicates an undecodable record.
	StorageErrorTypeCorruption
)

// StorageError provides detailed information about durable storage
// failures on the mutation queue.
type StorageError struct {
	Type    StorageErrorType
	Message string
	Key     string
	Cause   error
}

func (e *StorageError) Error() string {
	if e.Key != "" {
		if e.Cause != nil {
			return fmt.Sprintf("%s [%s]: %v", e.Message, e.Key, e.Cause)
		}
		return fmt.Sprintf("%s [%s]", e.Message, e.Key)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *StorageError) Unwrap() error {
	return e.Cause
}

// Is implements error matching for StorageError.
func (e *StorageError) Is(target error) bool {
	if target == ErrStorageIO {
		return true
	}
	return e.Type == StorageErrorTypeCorruption && target == ErrQueueCorruption
}

func newStorageError(errType StorageErrorType, message, key string, cause error) *StorageError {
	return &StorageError{
		Type:    errType,
		Message: message,
		Key:     key,
		Cause:   cause,
	}
}
