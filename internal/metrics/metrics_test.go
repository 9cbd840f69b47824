package metrics

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestWritePrometheusIncludesActions(t *testing.T) {
	registry := &Registry{}
	registry.IncSessionStarted()
	registry.RecordAction("translate", 1500*time.Millisecond, nil)
	registry.RecordAction("translate", 0, errors.New("boom"))
	registry.RecordAction("show", 0, nil)

	var out strings.Builder
	if err := registry.WritePrometheus(&out); err != nil {
		t.Fatalf("WritePrometheus: %v", err)
	}
	text := out.String()
	for _, want := range []string{
		"mathbridge_sessions_started_total 1",
		`mathbridge_action_duration_seconds_count{action="translate"} 2`,
		`mathbridge_action_failures_total{action="translate"} 1`,
		`mathbridge_action_duration_seconds_sum{action="translate"} 1.500000`,
		`mathbridge_action_duration_seconds_count{action="show"} 1`,
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected %q in output:\n%s", want, text)
		}
	}
	if registry.ActionCount("translate") != 2 {
		t.Fatalf("expected 2 translate actions, got %d", registry.ActionCount("translate"))
	}
}

func TestNilRegistryIsSafe(t *testing.T) {
	var registry *Registry
	registry.IncSessionDrained()
	registry.RecordAction("show", 0, nil)
	if registry.ActionCount("show") != 0 {
		t.Fatal("expected zero count on nil registry")
	}
}

func TestSnapshotAndFailures(t *testing.T) {
	registry := &Registry{}
	registry.IncSessionStarted()
	registry.IncSessionStarted()
	registry.IncSessionDrained()
	registry.IncSessionStalled()
	registry.IncReplyMismatch()
	registry.RecordAction("translate", 0, nil)
	registry.RecordAction("translate", 0, errors.New("closed"))

	want := Snapshot{SessionsStarted: 2, SessionsDrained: 1, SessionsStalled: 1, ReplyMismatches: 1}
	if got := registry.Snapshot(); got != want {
		t.Fatalf("Snapshot = %+v, want %+v", got, want)
	}
	if got := registry.ActionFailures("translate"); got != 1 {
		t.Fatalf("expected 1 translate failure, got %d", got)
	}
	if got := registry.ActionFailures("show"); got != 0 {
		t.Fatalf("expected no show failures, got %d", got)
	}

	var nilRegistry *Registry
	if nilRegistry.Snapshot() != (Snapshot{}) || nilRegistry.ActionFailures("translate") != 0 {
		t.Fatal("nil registry should report zeros")
	}
}
