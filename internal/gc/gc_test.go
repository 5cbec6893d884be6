package gc

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSweepOnceRemovesStaleEntriesOnly(t *testing.T) {
	root := t.TempDir()

	stale := filepath.Join(root, "stale-key")
	fresh := filepath.Join(root, "fresh-key")
	for _, dir := range []string{stale, fresh} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("setup: %v", err)
		}
		if err := os.WriteFile(filepath.Join(dir, "lib.so"), []byte("x"), 0o644); err != nil {
			t.Fatalf("setup: %v", err)
		}
	}

	old := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(filepath.Join(stale, "lib.so"), old, old); err != nil {
		t.Fatalf("setup: %v", err)
	}

	s := NewSweeper(root, 24*time.Hour)
	removed, err := s.SweepOnce()
	if err != nil {
		t.Fatalf("SweepOnce() error = %v", err)
	}
	if removed != 1 {
		t.Errorf("SweepOnce() removed = %d, want 1", removed)
	}

	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("stale cache entry was not removed")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Errorf("fresh cache entry was unexpectedly removed: %v", err)
	}
}

func TestSweepOnceSkipsLocksDirectory(t *testing.T) {
	root := t.TempDir()
	locks := filepath.Join(root, ".locks")
	if err := os.MkdirAll(locks, 0o755); err != nil {
		t.Fatalf("setup: %v", err)
	}
	lockFile := filepath.Join(locks, "somekey.lock")
	if err := os.WriteFile(lockFile, []byte("x"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}
	old := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(lockFile, old, old); err != nil {
		t.Fatalf("setup: %v", err)
	}

	s := NewSweeper(root, time.Hour)
	removed, err := s.SweepOnce()
	if err != nil {
		t.Fatalf("SweepOnce() error = %v", err)
	}
	if removed != 0 {
		t.Errorf("SweepOnce() removed = %d, want 0 (.locks must never be swept)", removed)
	}
	if _, err := os.Stat(locks); err != nil {
		t.Errorf(".locks directory was removed: %v", err)
	}
}

func TestSweepOnceOnMissingRootIsNoOp(t *testing.T) {
	s := NewSweeper(filepath.Join(t.TempDir(), "does-not-exist"), time.Hour)
	removed, err := s.SweepOnce()
	if err != nil {
		t.Fatalf("SweepOnce() on a missing root returned error = %v, want nil", err)
	}
	if removed != 0 {
		t.Errorf("SweepOnce() removed = %d, want 0", removed)
	}
}
