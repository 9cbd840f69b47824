package watcher

import (
	"sync"
	"time"

	"mathbridge/internal/logging"

	"github.com/fsnotify/fsnotify"
)

// Event represents a settled change to the watched file.
type Event struct {
	Path      string
	Op        fsnotify.Op
	Timestamp time.Time
}

// Options controls watcher behavior.
type Options struct {
	Logger   *logging.Logger
	Debounce time.Duration
}

// Watcher follows one file through its parent directory, so editors that
// replace the file by rename are still observed.
type Watcher struct {
	watcher   *fsnotify.Watcher
	target    string
	mutex     sync.Mutex
	debouncer *debouncer
	events    chan Event
	done      chan struct{}
	closed    bool
	logger    *logging.Logger
	dropped   uint64
}
