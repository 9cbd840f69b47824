package watcher

import (
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 100 * time.Millisecond

// WatchFile starts watching path. Settled changes arrive on Events until
// Close is called.
func WatchFile(path string, options Options) (*Watcher, error) {
	target, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	source, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := source.Add(filepath.Dir(target)); err != nil {
		_ = source.Close()
		return nil, err
	}

	debounce := options.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}

	instance := &Watcher{
		watcher:   source,
		target:    target,
		debouncer: newDebouncer(debounce),
		events:    make(chan Event, 1),
		done:      make(chan struct{}),
		logger:    options.Logger.With(map[string]string{"component": "watcher"}),
	}
	go instance.run()
	return instance, nil
}

func (watcher *Watcher) Events() <-chan Event {
	return watcher.events
}

// Dropped counts changes folded into an earlier pending event.
func (watcher *Watcher) Dropped() uint64 {
	if watcher == nil {
		return 0
	}
	return atomic.LoadUint64(&watcher.dropped)
}

// Close shuts down the watcher and stops event processing.
func (watcher *Watcher) Close() error {
	if watcher == nil {
		return nil
	}

	watcher.mutex.Lock()
	if watcher.closed {
		watcher.mutex.Unlock()
		return nil
	}
	watcher.closed = true
	watcher.debouncer.stop()
	watcher.mutex.Unlock()

	close(watcher.done)
	return watcher.watcher.Close()
}

func (watcher *Watcher) run() {
	for {
		select {
		case event, ok := <-watcher.watcher.Events:
			if !ok {
				return
			}
			watcher.handleEvent(event)
		case err, ok := <-watcher.watcher.Errors:
			if !ok {
				return
			}
			watcher.logger.Warn("watch error", map[string]string{
				"path":  watcher.target,
				"error": err.Error(),
			})
		case <-watcher.done:
			return
		}
	}
}

func (watcher *Watcher) matches(name string) bool {
	absolute, err := filepath.Abs(name)
	if err != nil {
		return false
	}
	return absolute == watcher.target
}
