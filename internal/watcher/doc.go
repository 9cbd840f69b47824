// Package watcher reports changes to a single document file.
//
// Events are best-effort and coalesced: a burst of writes produces one event
// after the debounce window, and callers should re-read the file rather than
// rely on the exact operation.
package watcher
