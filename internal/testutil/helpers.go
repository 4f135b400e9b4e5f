// Package testutil provides shared test helpers.
package testutil

import (
	"path/filepath"
	"testing"
	"time"
)

// TempDataDir returns a temporary data directory and a database file path
// inside it. The directory is cleaned up when the test completes.
func TempDataDir(t *testing.T) (dir, dbPath string) {
	t.Helper()
	dir = t.TempDir()
	dbPath = filepath.Join(dir, "loreline.db")
	return dir, dbPath
}

// Eventually polls cond until it returns true or the timeout elapses.
func Eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v: %s", timeout, msg)
}
