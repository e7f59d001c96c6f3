package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/chronolog/chronolog/internal/ignore"
)

func newTestWatcher(t *testing.T, root string) *Watcher {
	t.Helper()
	filter, err := ignore.NewFilter("")
	if err != nil {
		t.Fatalf("ignore.NewFilter: %v", err)
	}
	w, err := New(root, filter, WithDebounce(20*time.Millisecond))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return w
}

func TestWatcherEmitsPathAfterDebounce(t *testing.T) {
	root := t.TempDir()
	w := newTestWatcher(t, root)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	target := filepath.Join(root, "file.txt")
	if err := os.WriteFile(target, []byte("hello"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	select {
	case path := <-w.Events():
		if path != "file.txt" {
			t.Errorf("event path = %q, want file.txt", path)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for watcher event")
	}
}

func TestWatcherCoalescesRapidWrites(t *testing.T) {
	root := t.TempDir()
	w := newTestWatcher(t, root)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	target := filepath.Join(root, "file.txt")
	for i := 0; i < 5; i++ {
		if err := os.WriteFile(target, []byte("edit"), 0o644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	select {
	case path := <-w.Events():
		if path != "file.txt" {
			t.Errorf("event path = %q, want file.txt", path)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for watcher event")
	}

	select {
	case path := <-w.Events():
		t.Fatalf("expected only one coalesced event, got a second: %q", path)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWatcherEmitsDeleteWithoutWaitingForDebounce(t *testing.T) {
	root := t.TempDir()
	// A long debounce window: if delete went through the normal debounce
	// path, this test would time out waiting for it.
	filter, err := ignore.NewFilter("")
	if err != nil {
		t.Fatalf("ignore.NewFilter: %v", err)
	}
	w, err := New(root, filter, WithDebounce(5*time.Second))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	target := filepath.Join(root, "file.txt")
	if err := os.WriteFile(target, []byte("hello"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	if err := os.Remove(target); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	select {
	case path := <-w.Events():
		if path != "file.txt" {
			t.Errorf("event path = %q, want file.txt", path)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("delete event did not fire promptly; it should bypass debounce entirely")
	}
}

func TestStopFlushesPendingTimersAndClosesQueue(t *testing.T) {
	root := t.TempDir()
	filter, err := ignore.NewFilter("")
	if err != nil {
		t.Fatalf("ignore.NewFilter: %v", err)
	}
	// A debounce far longer than the test: the only way the event below can
	// surface is through Stop's flush.
	w, err := New(root, filter, WithDebounce(time.Minute))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := os.WriteFile(filepath.Join(root, "file.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	// Give the fsnotify loop a moment to observe the write and arm the timer.
	deadline := time.Now().Add(2 * time.Second)
	for {
		w.mu.Lock()
		armed := len(w.pending) > 0
		w.mu.Unlock()
		if armed {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for the debounce timer to arm")
		}
		time.Sleep(10 * time.Millisecond)
	}

	w.Stop()
	w.Stop() // idempotent

	var drained []string
	for path := range w.Events() {
		drained = append(drained, path)
	}
	if len(drained) != 1 || drained[0] != "file.txt" {
		t.Fatalf("expected the pending path flushed on stop, got %v", drained)
	}
}

func TestWatcherSkipsIgnoredPaths(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, ".chronologignore"), []byte("*.log\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	filter, err := ignore.NewFilter(filepath.Join(root, ".chronologignore"))
	if err != nil {
		t.Fatalf("ignore.NewFilter: %v", err)
	}
	w, err := New(root, filter, WithDebounce(20*time.Millisecond))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(filepath.Join(root, "debug.log"), []byte("noise"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	select {
	case path := <-w.Events():
		t.Fatalf("expected ignored file not to be enqueued, got %q", path)
	case <-time.After(200 * time.Millisecond):
	}
}
