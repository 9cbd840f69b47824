package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"mathbridge/internal/channel"
	"mathbridge/internal/protocol"
)

func TestSessionTwoExpressionScenario(t *testing.T) {
	session, transport, doc := newTestSession(t, twoExpressionPage)
	result := startSession(t, session)

	transport.push(channel.Event{Kind: channel.EventReady})
	first := transport.nextSent(t)
	if first.Action != protocol.ActionTranslate || first.Content != markupA {
		t.Fatalf("unexpected first request %+v", first)
	}
	transport.expectNoSend(t)

	transport.push(channel.Event{Kind: channel.EventMessage, Payload: []byte("a equals one")})
	second := transport.nextSent(t)
	if second.Action != protocol.ActionTranslate || second.Content != markupB {
		t.Fatalf("unexpected second request %+v", second)
	}
	if !strings.Contains(renderDoc(t, doc), `<span id="mathExpression0">a equals one</span>`) {
		t.Fatal("expression 0 not replaced before the next request")
	}

	transport.push(channel.Event{Kind: channel.EventMessage, Payload: []byte("b equals two")})
	select {
	case <-session.Drained():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not drain")
	}
	transport.expectNoSend(t)
	if session.State() != StateDrained {
		t.Fatalf("expected drained, got %s", session.State())
	}

	rendered := renderDoc(t, doc)
	want := `<p>Let <span id="mathExpression0">a equals one</span> and <span id="mathExpression1">b equals two</span>.</p>`
	if !strings.Contains(rendered, want) {
		t.Fatalf("unexpected document:\n%s", rendered)
	}

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := session.Click(ctx, 0); err != nil {
			t.Fatalf("Click: %v", err)
		}
		show := transport.nextSent(t)
		if show.Action != protocol.ActionShow || show.Content != markupA {
			t.Fatalf("unexpected show request %+v", show)
		}
	}
	if renderDoc(t, doc) != rendered {
		t.Fatal("click changed the document")
	}
	if len(transport.sentRequests()) != 4 {
		t.Fatalf("expected 4 requests, got %d", len(transport.sentRequests()))
	}

	transport.push(channel.Event{Kind: channel.EventClosed})
	if err := waitResult(t, result); err != nil {
		t.Fatalf("expected clean exit after drain, got %v", err)
	}
	if err := session.Click(ctx, 1); !errors.Is(err, ErrSessionEnded) {
		t.Fatalf("expected ErrSessionEnded, got %v", err)
	}
}

func TestSessionEmptyDocumentNeverConnects(t *testing.T) {
	session, transport, _ := newTestSession(t, `<p>plain text</p>`)
	if err := session.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if transport.openCount() != 0 {
		t.Fatalf("expected no connection, got %d opens", transport.openCount())
	}
	select {
	case <-session.Drained():
	default:
		t.Fatal("empty session should report drained")
	}
	if session.State() != StateIdle {
		t.Fatalf("expected idle, got %s", session.State())
	}
}

func TestSessionStallsWhenClosedMidFlight(t *testing.T) {
	session, transport, doc := newTestSession(t, twoExpressionPage)
	result := startSession(t, session)

	transport.push(channel.Event{Kind: channel.EventReady})
	transport.nextSent(t)
	transport.push(channel.Event{Kind: channel.EventClosed, Err: errors.New("connection reset")})

	err := waitResult(t, result)
	if !errors.Is(err, ErrStalled) {
		t.Fatalf("expected ErrStalled, got %v", err)
	}
	transport.expectNoSend(t)
	if len(transport.sentRequests()) != 1 {
		t.Fatalf("expected a single request, got %d", len(transport.sentRequests()))
	}
	if session.State() != StateStalled {
		t.Fatalf("expected stalled, got %s", session.State())
	}
	if strings.Contains(renderDoc(t, doc), "mathExpression") {
		t.Fatal("no expression should have been replaced")
	}
}

func TestSessionDialFailure(t *testing.T) {
	session, transport, _ := newTestSession(t, twoExpressionPage)
	result := startSession(t, session)

	transport.push(channel.Event{Kind: channel.EventClosed, Err: errors.New("connection refused")})
	if err := waitResult(t, result); !errors.Is(err, ErrChannelUnavailable) {
		t.Fatalf("expected ErrChannelUnavailable, got %v", err)
	}
	if len(transport.sentRequests()) != 0 {
		t.Fatal("no request may be sent without a ready channel")
	}
}

func TestSessionFailsOnMismatchedReplyID(t *testing.T) {
	session, transport, doc := newTestSession(t, twoExpressionPage)
	result := startSession(t, session)

	transport.push(channel.Event{Kind: channel.EventReady})
	req := transport.nextSent(t)
	if req.ID != "req-1" {
		t.Fatalf("expected request id req-1, got %q", req.ID)
	}
	transport.push(channel.Event{Kind: channel.EventMessage, Payload: []byte(`{"id":"req-9","text":"stale"}`)})

	if err := waitResult(t, result); !errors.Is(err, ErrOutOfOrderReply) {
		t.Fatalf("expected ErrOutOfOrderReply, got %v", err)
	}
	if strings.Contains(renderDoc(t, doc), "stale") {
		t.Fatal("mismatched reply must not be applied")
	}
	transport.expectNoSend(t)
}

func TestSessionAcceptsCorrelatedReplies(t *testing.T) {
	session, transport, doc := newTestSession(t, twoExpressionPage)
	startSession(t, session)

	transport.push(channel.Event{Kind: channel.EventReady})
	first := transport.nextSent(t)
	transport.push(channel.Event{Kind: channel.EventMessage, Payload: []byte(`{"id":"` + first.ID + `","text":"a"}`)})
	second := transport.nextSent(t)
	transport.push(channel.Event{Kind: channel.EventMessage, Payload: []byte(`{"id":"` + second.ID + `","text":"b"}`)})

	select {
	case <-session.Drained():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not drain")
	}
	if !strings.Contains(renderDoc(t, doc), `<span id="mathExpression1">b</span>`) {
		t.Fatal("correlated reply not applied")
	}
}

func TestSessionClickBeforeTranslation(t *testing.T) {
	session, transport, _ := newTestSession(t, twoExpressionPage)
	startSession(t, session)

	transport.push(channel.Event{Kind: channel.EventReady})
	transport.nextSent(t)

	if err := session.Click(context.Background(), 0); !errors.Is(err, ErrNotTranslated) {
		t.Fatalf("expected ErrNotTranslated, got %v", err)
	}
	if err := session.ClickElement(context.Background(), "unrelated"); !errors.Is(err, ErrNotTranslated) {
		t.Fatalf("expected ErrNotTranslated, got %v", err)
	}
	transport.expectNoSend(t)
}

func TestSessionRunOnce(t *testing.T) {
	session, _, _ := newTestSession(t, `<p></p>`)
	if err := session.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := session.Run(context.Background()); err == nil {
		t.Fatal("expected second Run to fail")
	}
}
