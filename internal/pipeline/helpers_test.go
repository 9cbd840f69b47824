package pipeline

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"mathbridge/internal/channel"
	"mathbridge/internal/dom"
	"mathbridge/internal/metrics"
	"mathbridge/internal/protocol"
)

const twoExpressionPage = `<html><body><p>Let <math><mi>A</mi></math> and <math><mi>B</mi></math>.</p></body></html>`

const markupA = "<math><mi>A</mi></math>"
const markupB = "<math><mi>B</mi></math>"

type fakeTransport struct {
	mu     sync.Mutex
	opened int
	closed bool
	sent   []protocol.Request
	events chan channel.Event
	sentCh chan protocol.Request
	ready  bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		events: make(chan channel.Event, 16),
		sentCh: make(chan protocol.Request, 16),
	}
}

func (f *fakeTransport) Open(context.Context) (<-chan channel.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened++
	return f.events, nil
}

func (f *fakeTransport) Send(req protocol.Request) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return channel.ErrClosed
	}
	if !f.ready {
		return channel.ErrNotReady
	}
	f.sent = append(f.sent, req)
	f.sentCh <- req
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) push(event channel.Event) {
	if event.Kind == channel.EventReady {
		f.mu.Lock()
		f.ready = true
		f.mu.Unlock()
	}
	f.events <- event
}

func (f *fakeTransport) sentRequests() []protocol.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.Request(nil), f.sent...)
}

func (f *fakeTransport) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened
}

func (f *fakeTransport) nextSent(t *testing.T) protocol.Request {
	t.Helper()
	select {
	case req := <-f.sentCh:
		return req
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a request")
	}
	return protocol.Request{}
}

func (f *fakeTransport) expectNoSend(t *testing.T) {
	t.Helper()
	select {
	case req := <-f.sentCh:
		t.Fatalf("unexpected request %+v", req)
	case <-time.After(50 * time.Millisecond):
	}
}

func sequentialIDs() func() string {
	next := 0
	return func() string {
		next++
		return "req-" + strconv.Itoa(next)
	}
}

func parsePage(t *testing.T, page string) *dom.HTMLDocument {
	t.Helper()
	doc, err := dom.ParseHTML(strings.NewReader(page))
	if err != nil {
		t.Fatalf("ParseHTML: %v", err)
	}
	return doc
}

func newTestSession(t *testing.T, page string) (*Session, *fakeTransport, *dom.HTMLDocument) {
	t.Helper()
	doc := parsePage(t, page)
	transport := newFakeTransport()
	session := Activate(doc, Options{
		Transport: transport,
		Metrics:   &metrics.Registry{},
		NewID:     sequentialIDs(),
	})
	return session, transport, doc
}

func startSession(t *testing.T, session *Session) <-chan error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() {
		result <- session.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-session.Done()
	})
	return result
}

func waitResult(t *testing.T, result <-chan error) error {
	t.Helper()
	select {
	case err := <-result:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Run to return")
	}
	return nil
}

func renderDoc(t *testing.T, doc dom.Document) string {
	t.Helper()
	var out strings.Builder
	if err := doc.Render(&out); err != nil {
		t.Fatalf("Render: %v", err)
	}
	return out.String()
}
