package pipeline

import (
	"errors"
	"testing"

	"mathbridge/internal/catalog"
	"mathbridge/internal/dom"
	"mathbridge/internal/metrics"
	"mathbridge/internal/protocol"
)

type recordingSender struct {
	sent []protocol.Request
	err  error
}

func (r *recordingSender) Send(req protocol.Request) error {
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, req)
	return nil
}

type recordingReplacer struct {
	calls []string
}

func (r *recordingReplacer) Replace(index int, text string) error {
	r.calls = append(r.calls, ProxyID(index)+"="+text)
	return nil
}

func newTestSequencer(t *testing.T, page string) (*Sequencer, *recordingSender, *recordingReplacer, *dom.HTMLDocument, *metrics.Registry) {
	t.Helper()
	doc := parsePage(t, page)
	cat := catalog.Scan(doc)
	sender := &recordingSender{}
	replacer := &recordingReplacer{}
	registry := &metrics.Registry{}
	seq := NewSequencer(doc, cat, sender, replacer, sequentialIDs(), nil, registry)
	return seq, sender, replacer, doc, registry
}

func TestSequencerSendsEveryExpressionInOrder(t *testing.T) {
	page := `<p><math><mn>1</mn></math><math><mn>2</mn></math><math><mn>3</mn></math></p>`
	seq, sender, replacer, _, registry := newTestSequencer(t, page)

	if !seq.Start() {
		t.Fatal("expected Start to open the channel")
	}
	if seq.State() != StateConnecting {
		t.Fatalf("expected connecting, got %s", seq.State())
	}
	if err := seq.HandleReady(); err != nil {
		t.Fatalf("HandleReady: %v", err)
	}
	for i, reply := range []string{"one", "two", "three"} {
		if len(sender.sent) != i+1 {
			t.Fatalf("expected %d requests before reply %d, got %d", i+1, i, len(sender.sent))
		}
		if seq.Current() != i || seq.State() != StateAwaiting {
			t.Fatalf("expected awaiting %d, got %s %d", i, seq.State(), seq.Current())
		}
		if err := seq.HandleMessage([]byte(reply)); err != nil {
			t.Fatalf("HandleMessage %d: %v", i, err)
		}
	}
	if seq.State() != StateDrained {
		t.Fatalf("expected drained, got %s", seq.State())
	}
	if len(sender.sent) != 3 {
		t.Fatalf("expected exactly 3 requests, got %d", len(sender.sent))
	}
	wantContent := []string{"<math><mn>1</mn></math>", "<math><mn>2</mn></math>", "<math><mn>3</mn></math>"}
	for i, req := range sender.sent {
		if req.Content != wantContent[i] || req.Action != protocol.ActionTranslate {
			t.Fatalf("request %d: unexpected %+v", i, req)
		}
	}
	wantCalls := []string{"mathExpression0=one", "mathExpression1=two", "mathExpression2=three"}
	for i, call := range replacer.calls {
		if call != wantCalls[i] {
			t.Fatalf("replace %d: expected %q, got %q", i, wantCalls[i], call)
		}
	}
	if registry.ActionCount("translate") != 3 {
		t.Fatalf("expected 3 recorded translations, got %d", registry.ActionCount("translate"))
	}

	if err := seq.HandleMessage([]byte("late")); err != nil {
		t.Fatalf("frames after drain should be ignored, got %v", err)
	}
	if len(replacer.calls) != 3 {
		t.Fatal("frame after drain was applied")
	}
}

func TestSequencerEmptyCatalogDoesNotStart(t *testing.T) {
	seq, _, _, _, _ := newTestSequencer(t, `<p>nothing</p>`)
	if seq.Start() {
		t.Fatal("expected Start to refuse an empty catalog")
	}
	if seq.State() != StateIdle {
		t.Fatalf("expected idle, got %s", seq.State())
	}
}

func TestSequencerSerializesAtRequestTime(t *testing.T) {
	page := `<p><math><mi>a</mi></math><math><mi>b</mi><mi>c</mi></math></p>`
	seq, sender, _, doc, _ := newTestSequencer(t, page)

	seq.Start()
	if err := seq.HandleReady(); err != nil {
		t.Fatalf("HandleReady: %v", err)
	}

	// Mutate the second expression after scan but before its request.
	inner := doc.FindAll("mi")
	if _, err := doc.ReplaceWithProxy(inner[2], "edited", "c"); err != nil {
		t.Fatalf("mutate: %v", err)
	}

	if err := seq.HandleMessage([]byte("a")); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	want := `<math><mi>b</mi><span id="edited">c</span></math>`
	if got := sender.sent[1].Content; got != want {
		t.Fatalf("expected request-time markup %q, got %q", want, got)
	}
}

func TestSequencerRejectsEventsOutOfState(t *testing.T) {
	seq, _, _, _, _ := newTestSequencer(t, `<math><mi>a</mi></math>`)
	if err := seq.HandleReady(); !errors.Is(err, ErrUnexpectedEvent) {
		t.Fatalf("expected ErrUnexpectedEvent for ready while idle, got %v", err)
	}
	if err := seq.HandleMessage([]byte("x")); !errors.Is(err, ErrUnexpectedEvent) {
		t.Fatalf("expected ErrUnexpectedEvent for message while idle, got %v", err)
	}
}

func TestSequencerSendFailureStalls(t *testing.T) {
	seq, sender, _, _, _ := newTestSequencer(t, `<math><mi>a</mi></math>`)
	sender.err = errors.New("closed")
	seq.Start()
	if err := seq.HandleReady(); err == nil {
		t.Fatal("expected send error")
	}
	if seq.State() != StateStalled {
		t.Fatalf("expected stalled, got %s", seq.State())
	}
}

func TestSequencerClosedAfterDrainIsClean(t *testing.T) {
	seq, _, _, _, _ := newTestSequencer(t, `<math><mi>a</mi></math>`)
	seq.Start()
	_ = seq.HandleReady()
	_ = seq.HandleMessage([]byte("a"))
	if err := seq.HandleClosed(nil); err != nil {
		t.Fatalf("expected nil after drain, got %v", err)
	}
	if seq.State() != StateDrained {
		t.Fatalf("expected drained to persist, got %s", seq.State())
	}
}
