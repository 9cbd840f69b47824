package watcher

import (
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

type debounceEntry struct {
	timer *time.Timer
	event Event
}

type debouncer struct {
	duration time.Duration
	entries  map[string]debounceEntry
}

func newDebouncer(duration time.Duration) *debouncer {
	return &debouncer{
		duration: duration,
		entries:  make(map[string]debounceEntry),
	}
}

// schedule records event for path and restarts its timer. It reports whether
// a pending event was replaced.
func (debouncer *debouncer) schedule(path string, event Event, flush func(string)) bool {
	if debouncer == nil {
		return false
	}
	entry := debouncer.entries[path]
	replaced := entry.timer != nil
	entry.event = event
	if entry.timer == nil {
		entry.timer = time.AfterFunc(debouncer.duration, func() {
			flush(path)
		})
	} else {
		entry.timer.Reset(debouncer.duration)
	}
	debouncer.entries[path] = entry
	return replaced
}

func (debouncer *debouncer) pop(path string) (Event, bool) {
	if debouncer == nil {
		return Event{}, false
	}
	entry, ok := debouncer.entries[path]
	if !ok {
		return Event{}, false
	}
	delete(debouncer.entries, path)
	return entry.event, true
}

func (debouncer *debouncer) stop() {
	if debouncer == nil {
		return
	}
	for _, entry := range debouncer.entries {
		if entry.timer != nil {
			entry.timer.Stop()
		}
	}
	debouncer.entries = nil
}

func (watcher *Watcher) handleEvent(event fsnotify.Event) {
	if !watcher.matches(event.Name) {
		return
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		watcher.logger.Debug("document moved or removed", map[string]string{
			"path": event.Name,
			"op":   event.Op.String(),
		})
		return
	}

	watcher.mutex.Lock()
	defer watcher.mutex.Unlock()
	if watcher.closed {
		return
	}
	entry := Event{
		Path:      watcher.target,
		Op:        event.Op,
		Timestamp: time.Now().UTC(),
	}
	if watcher.debouncer.schedule(watcher.target, entry, watcher.flush) {
		atomic.AddUint64(&watcher.dropped, 1)
	}
}

func (watcher *Watcher) flush(path string) {
	watcher.mutex.Lock()
	if watcher.closed {
		watcher.mutex.Unlock()
		return
	}
	event, ok := watcher.debouncer.pop(path)
	watcher.mutex.Unlock()
	if !ok {
		return
	}

	select {
	case watcher.events <- event:
	case <-watcher.done:
	default:
		// A change is already pending delivery; it covers this one.
		atomic.AddUint64(&watcher.dropped, 1)
	}
}
