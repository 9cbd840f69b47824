package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"mathbridge/internal/logging"
)

func newTestWatcher(t *testing.T, path string) *Watcher {
	t.Helper()
	watcher, err := WatchFile(path, Options{Logger: logging.Discard(), Debounce: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	t.Cleanup(func() { _ = watcher.Close() })
	return watcher
}

func waitForEvent(watcher *Watcher) (Event, bool) {
	select {
	case event := <-watcher.Events():
		return event, true
	case <-time.After(2 * time.Second):
		return Event{}, false
	}
}

func TestWatcherReportsWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "page.html")
	if err := os.WriteFile(path, []byte("<p>a</p>"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	watcher := newTestWatcher(t, path)

	if err := os.WriteFile(path, []byte("<p>b</p>"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	event, ok := waitForEvent(watcher)
	if !ok {
		t.Fatal("timed out waiting for write event")
	}
	want, _ := filepath.Abs(path)
	if event.Path != want {
		t.Fatalf("expected path %q, got %q", want, event.Path)
	}
}

func TestWatcherFollowsRenameReplace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "page.html")
	if err := os.WriteFile(path, []byte("<p>a</p>"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	watcher := newTestWatcher(t, path)

	staged := filepath.Join(dir, ".page.html.swp")
	if err := os.WriteFile(staged, []byte("<p>b</p>"), 0o600); err != nil {
		t.Fatalf("write staged: %v", err)
	}
	if err := os.Rename(staged, path); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if _, ok := waitForEvent(watcher); !ok {
		t.Fatal("timed out waiting for replace event")
	}
}

func TestWatcherIgnoresSiblings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "page.html")
	if err := os.WriteFile(path, []byte("<p>a</p>"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	watcher := newTestWatcher(t, path)

	if err := os.WriteFile(filepath.Join(dir, "other.html"), []byte("x"), 0o600); err != nil {
		t.Fatalf("write sibling: %v", err)
	}
	select {
	case event := <-watcher.Events():
		t.Fatalf("unexpected event %+v", event)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestWatcherCoalescesBursts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "page.html")
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	watcher, err := WatchFile(path, Options{Logger: logging.Discard(), Debounce: 100 * time.Millisecond})
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer watcher.Close()

	for i := 0; i < 5; i++ {
		if err := os.WriteFile(path, []byte{byte('a' + i)}, 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if _, ok := waitForEvent(watcher); !ok {
		t.Fatal("timed out waiting for event")
	}
	select {
	case event := <-watcher.Events():
		t.Fatalf("expected a single coalesced event, got another %+v", event)
	case <-time.After(250 * time.Millisecond):
	}
	if watcher.Dropped() == 0 {
		t.Fatal("expected coalesced writes to be counted")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "page.html")
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	watcher, err := WatchFile(path, Options{})
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	if err := watcher.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := watcher.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	var nilWatcher *Watcher
	if err := nilWatcher.Close(); err != nil {
		t.Fatalf("nil close: %v", err)
	}
}
