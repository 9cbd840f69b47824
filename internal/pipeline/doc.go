// Package pipeline drives a bridge session: the catalog is walked in index
// order with one translate request in flight at a time, each reply replaces
// its expression with a proxy element, and clicking a proxy sends the
// recorded original back through the same channel.
//
// All session state is owned by the goroutine running Session.Run. Channel
// events and clicks are serialized through that loop, so the sequencer and
// the controllers need no locking.
package pipeline
