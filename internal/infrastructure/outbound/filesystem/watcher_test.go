package filesystem_test

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sophialabs/traceharness/internal/infrastructure/outbound/filesystem"
	"github.com/sophialabs/traceharness/internal/testutil"
)

func startWatcher(t *testing.T, dir string, debounce time.Duration) *atomic.Int32 {
	t.Helper()
	var changes atomic.Int32
	w, err := filesystem.NewWatcher(dir, debounce, &testutil.NoopLogger{}, func() {
		changes.Add(1)
	})
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	t.Cleanup(w.Stop)
	w.Start()
	return &changes
}

func TestWatcher_DetectsFileCreate(t *testing.T) {
	dir := t.TempDir()
	changes := startWatcher(t, dir, 100*time.Millisecond)

	if err := os.WriteFile(filepath.Join(dir, "case.yaml"), []byte("id: a"), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(500 * time.Millisecond)

	if changes.Load() < 1 {
		t.Error("expected at least one change notification")
	}
}

func TestWatcher_DetectsNewSubdirectory(t *testing.T) {
	dir := t.TempDir()
	changes := startWatcher(t, dir, 100*time.Millisecond)

	sub := filepath.Join(dir, "more")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	time.Sleep(200 * time.Millisecond)
	if err := os.WriteFile(filepath.Join(sub, "case.yml"), []byte("id: b"), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(500 * time.Millisecond)

	if changes.Load() < 1 {
		t.Error("expected a change notification for a file in a new directory")
	}
}

func TestWatcher_IgnoresNonYAML(t *testing.T) {
	dir := t.TempDir()
	changes := startWatcher(t, dir, 100*time.Millisecond)

	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(500 * time.Millisecond)

	if changes.Load() != 0 {
		t.Error("expected no notification for a non-YAML file")
	}
}

func TestWatcher_Debounce(t *testing.T) {
	dir := t.TempDir()
	changes := startWatcher(t, dir, 200*time.Millisecond)

	for i := range 5 {
		_ = os.WriteFile(filepath.Join(dir, "case.yaml"), []byte("id: "+string(rune('a'+i))), 0o644)
		time.Sleep(50 * time.Millisecond)
	}
	time.Sleep(500 * time.Millisecond)

	if n := changes.Load(); n < 1 || n > 2 {
		t.Errorf("expected 1-2 debounced notifications, got %d", n)
	}
}

func TestWatcher_StopTwice(t *testing.T) {
	w, err := filesystem.NewWatcher(t.TempDir(), time.Millisecond, &testutil.NoopLogger{}, func() {})
	if err != nil {
		t.Fatal(err)
	}
	w.Start()
	w.Stop()
	w.Stop()
}
