package lock

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestAcquireAndRelease(t *testing.T) {
	sessionDir := t.TempDir()

	l, err := Acquire(sessionDir)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	// The lock file records the owning pigeond's PID for diagnostics.
	data, err := os.ReadFile(filepath.Join(sessionDir, "LOCK"))
	if err != nil {
		t.Fatalf("read lock file: %v", err)
	}
	if len(data) == 0 {
		t.Error("lock file is empty")
	}

	if err := l.Release(); err != nil {
		t.Errorf("Release() error = %v", err)
	}
}

func TestSecondDaemonIsRejected(t *testing.T) {
	sessionDir := t.TempDir()

	l1, err := Acquire(sessionDir)
	if err != nil {
		t.Fatalf("first Acquire() error = %v", err)
	}
	defer func() { _ = l1.Release() }()

	_, err = Acquire(sessionDir)
	if err == nil {
		t.Fatal("second Acquire() should fail while the session is held")
	}

	var lockErr *LockHeldError
	if !errors.As(err, &lockErr) {
		t.Errorf("expected LockHeldError, got %T: %v", err, err)
	}
	if lockErr.PID != os.Getpid() {
		t.Errorf("reported PID = %d, want %d", lockErr.PID, os.Getpid())
	}
}

func TestReleaseNil(t *testing.T) {
	var l *Lock
	if err := l.Release(); err != nil {
		t.Errorf("nil Release() error = %v", err)
	}
}

func TestReleaseIdempotent(t *testing.T) {
	sessionDir := t.TempDir()

	l, err := Acquire(sessionDir)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	if err := l.Release(); err != nil {
		t.Errorf("first Release() error = %v", err)
	}
	if err := l.Release(); err != nil {
		t.Errorf("second Release() error = %v", err)
	}
}
