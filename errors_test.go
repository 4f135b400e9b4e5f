package loreline

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestClassifyError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want FailureClass
	}{
		{"nil", nil, FailureUnknown},
		{"typed transient", newSyncError(FailureTransient, "op1", "down", nil), FailureTransient},
		{"typed permanent", newSyncError(FailurePermanent, "op1", "rejected", nil), FailurePermanent},
		{"typed conflict", newSyncError(FailureConflict, "op1", "stale", nil), FailureConflict},
		{"storage error", newStorageError(StorageErrorTypeWrite, "boom", "k", nil), FailureStorage},
		{"wrapped sync error", fmt.Errorf("ctx: %w", newSyncError(FailurePermanent, "op1", "no", nil)), FailurePermanent},
		{"sentinel permanent", fmt.Errorf("x: %w", ErrPermanent), FailurePermanent},
		{"sentinel conflict", fmt.Errorf("x: %w", ErrConflict), FailureConflict},
		{"sentinel storage", fmt.Errorf("x: %w", ErrStorageIO), FailureStorage},
		{"plain error", errors.New("connection reset"), FailureTransient},
		{"deadline", context.DeadlineExceeded, FailureTransient},
		{"circuit open", ErrCircuitOpen, FailureTransient},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyError(tc.err); got != tc.want {
				t.Errorf("ClassifyError(%v) = %s, want %s", tc.err, got, tc.want)
			}
		})
	}
}

func TestSyncErrorSentinelMatching(t *testing.T) {
	conflict := newSyncError(FailureConflict, "op1", "stale", nil)
	if !errors.Is(conflict, ErrConflict) {
		t.Error("conflict SyncError does not match ErrConflict")
	}
	if errors.Is(conflict, ErrPermanent) {
		t.Error("conflict SyncError matches ErrPermanent")
	}

	cause := errors.New("tcp reset")
	transient := newSyncError(FailureTransient, "op2", "submit", cause)
	if !errors.Is(transient, ErrTransient) {
		t.Error("transient SyncError does not match ErrTransient")
	}
	if !errors.Is(transient, cause) {
		t.Error("SyncError does not unwrap to its cause")
	}
}

func TestStorageErrorSentinelMatching(t *testing.T) {
	write := newStorageError(StorageErrorTypeWrite, "persist", "queue/op/1", errors.New("enospc"))
	if !errors.Is(write, ErrStorageIO) {
		t.Error("StorageError does not match ErrStorageIO")
	}
	if errors.Is(write, ErrQueueCorruption) {
		t.Error("write error matches ErrQueueCorruption")
	}

	corrupt := newStorageError(StorageErrorTypeCorruption, "bad header", "queue/op/2", nil)
	if !errors.Is(corrupt, ErrQueueCorruption) {
		t.Error("corruption error does not match ErrQueueCorruption")
	}

	var serr *StorageError
	wrapped := fmt.Errorf("recover: %w", corrupt)
	if !errors.As(wrapped, &serr) || serr.Type != StorageErrorTypeCorruption {
		t.Errorf("errors.As through wrap failed: %v", wrapped)
	}
}

func TestFailureClassString(t *testing.T) {
	for class, want := range map[FailureClass]string{
		FailureUnknown:   "unknown",
		FailureTransient: "transient",
		FailurePermanent: "permanent",
		FailureConflict:  "conflict",
		FailureStorage:   "storage",
	} {
		if got := class.String(); got != want {
			t.Errorf("String() = %q, want %q", got, want)
		}
	}
}
