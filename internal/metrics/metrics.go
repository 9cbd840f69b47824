package metrics

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Registry counts bridge traffic. All methods are safe on a nil receiver.
type Registry struct {
	sessionsStarted atomic.Int64
	sessionsDrained atomic.Int64
	sessionsStalled atomic.Int64
	replyMismatches atomic.Int64
	actions         sync.Map
}

type actionStats struct {
	count         atomic.Int64
	failures      atomic.Int64
	durationNanos atomic.Int64
}

var Default = &Registry{}

func (r *Registry) IncSessionStarted() {
	if r == nil {
		return
	}
	r.sessionsStarted.Add(1)
}

func (r *Registry) IncSessionDrained() {
	if r == nil {
		return
	}
	r.sessionsDrained.Add(1)
}

func (r *Registry) IncSessionStalled() {
	if r == nil {
		return
	}
	r.sessionsStalled.Add(1)
}

func (r *Registry) IncReplyMismatch() {
	if r == nil {
		return
	}
	r.replyMismatches.Add(1)
}

// RecordAction counts one request of the given action. duration is zero for
// requests whose completion is not observed.
func (r *Registry) RecordAction(action string, duration time.Duration, err error) {
	if r == nil {
		return
	}
	if strings.TrimSpace(action) == "" {
		action = "unknown"
	}
	stats := r.actionStats(action)
	stats.count.Add(1)
	stats.durationNanos.Add(duration.Nanoseconds())
	if err != nil {
		stats.failures.Add(1)
	}
}

// ActionCount reports how many requests of action were recorded.
func (r *Registry) ActionCount(action string) int64 {
	if r == nil {
		return 0
	}
	value, ok := r.actions.Load(action)
	if !ok {
		return 0
	}
	return value.(*actionStats).count.Load()
}

// ActionFailures reports how many requests of action failed.
func (r *Registry) ActionFailures(action string) int64 {
	if r == nil {
		return 0
	}
	value, ok := r.actions.Load(action)
	if !ok {
		return 0
	}
	return value.(*actionStats).failures.Load()
}

// Snapshot is a point-in-time copy of the session counters.
type Snapshot struct {
	SessionsStarted int64
	SessionsDrained int64
	SessionsStalled int64
	ReplyMismatches int64
}

func (r *Registry) Snapshot() Snapshot {
	if r == nil {
		return Snapshot{}
	}
	return Snapshot{
		SessionsStarted: r.sessionsStarted.Load(),
		SessionsDrained: r.sessionsDrained.Load(),
		SessionsStalled: r.sessionsStalled.Load(),
		ReplyMismatches: r.replyMismatches.Load(),
	}
}

func (r *Registry) WritePrometheus(writer io.Writer) error {
	if r == nil {
		return nil
	}

	writeCounter(writer, "mathbridge_sessions_started_total", "Sessions that opened a channel", r.sessionsStarted.Load())
	writeCounter(writer, "mathbridge_sessions_drained_total", "Sessions that translated every expression", r.sessionsDrained.Load())
	writeCounter(writer, "mathbridge_sessions_stalled_total", "Sessions whose channel closed mid-flight", r.sessionsStalled.Load())
	writeCounter(writer, "mathbridge_reply_mismatches_total", "Replies whose id did not match the pending request", r.replyMismatches.Load())

	names := r.actionNames()
	sort.Strings(names)

	writeHelp(writer, "mathbridge_action_duration_seconds", "Request handling duration in seconds")
	fmt.Fprintln(writer, "# TYPE mathbridge_action_duration_seconds summary")
	writeHelp(writer, "mathbridge_action_failures_total", "Failed requests")
	fmt.Fprintln(writer, "# TYPE mathbridge_action_failures_total counter")

	for _, name := range names {
		stats := r.actionStats(name)
		label := formatLabel(name)
		seconds := float64(stats.durationNanos.Load()) / float64(time.Second)
		fmt.Fprintf(writer, "mathbridge_action_duration_seconds_sum{action=%s} %.6f\n", label, seconds)
		fmt.Fprintf(writer, "mathbridge_action_duration_seconds_count{action=%s} %d\n", label, stats.count.Load())
		fmt.Fprintf(writer, "mathbridge_action_failures_total{action=%s} %d\n", label, stats.failures.Load())
	}
	return nil
}

func (r *Registry) actionStats(name string) *actionStats {
	value, _ := r.actions.LoadOrStore(name, &actionStats{})
	return value.(*actionStats)
}

func (r *Registry) actionNames() []string {
	var names []string
	r.actions.Range(func(key, _ any) bool {
		if name, ok := key.(string); ok {
			names = append(names, name)
		}
		return true
	})
	return names
}

func writeHelp(writer io.Writer, metric, help string) {
	fmt.Fprintf(writer, "# HELP %s %s\n", metric, help)
}

func writeCounter(writer io.Writer, metric, help string, value int64) {
	writeHelp(writer, metric, help)
	fmt.Fprintf(writer, "# TYPE %s counter\n", metric)
	fmt.Fprintf(writer, "%s %d\n", metric, value)
}

func formatLabel(value string) string {
	escaped := strings.ReplaceAll(value, "\\", "\\\\")
	escaped = strings.ReplaceAll(escaped, "\"", "\\\"")
	return fmt.Sprintf("\"%s\"", escaped)
}
