package pipeline

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"

	"mathbridge/internal/catalog"
	"mathbridge/internal/channel"
	"mathbridge/internal/dom"
	"mathbridge/internal/logging"
	"mathbridge/internal/metrics"
	"mathbridge/internal/protocol"

	"github.com/google/uuid"
)

var ErrSessionEnded = errors.New("session is no longer running")

// Transport is the bridge channel as seen by a session.
type Transport interface {
	Open(ctx context.Context) (<-chan channel.Event, error)
	Send(req protocol.Request) error
	Close() error
}

type Options struct {
	// Transport defaults to a channel dialing Endpoint.
	Transport Transport
	// Endpoint defaults to channel.DefaultEndpoint.
	Endpoint string
	Logger   *logging.Logger
	Metrics  *metrics.Registry
	// NewID generates request ids. Defaults to random UUIDs.
	NewID func() string
}

type click struct {
	elementID string
	result    chan error
}

// Session is one activation over one document. It owns the catalog, the
// channel and the controllers; nothing is shared between sessions.
type Session struct {
	id         string
	doc        dom.Document
	catalog    *catalog.Catalog
	transport  Transport
	sequencer  *Sequencer
	disclosure *Disclosure
	logger     *logging.Logger
	metrics    *metrics.Registry

	state     atomic.Int32
	running   atomic.Bool
	clicks    chan click
	drained   chan struct{}
	drainOnce sync.Once
	done      chan struct{}
}

// Activate scans doc and prepares a session. No connection is made until
// Run, and none at all when the document holds no math markup.
func Activate(doc dom.Document, options Options) *Session {
	id := uuid.NewString()
	logger := options.Logger.With(map[string]string{"session": id})
	registry := options.Metrics
	if registry == nil {
		registry = metrics.Default
	}
	newID := options.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	transport := options.Transport
	if transport == nil {
		transport = channel.New(options.Endpoint, channel.Options{Logger: logger})
	}

	cat := catalog.Scan(doc)
	disclosure := NewDisclosure(cat, transport, newID, logger, registry)
	replacement := NewReplacement(doc, cat, disclosure, logger)

	return &Session{
		id:         id,
		doc:        doc,
		catalog:    cat,
		transport:  transport,
		sequencer:  NewSequencer(doc, cat, transport, replacement, newID, logger, registry),
		disclosure: disclosure,
		logger:     logger,
		metrics:    registry,
		clicks:     make(chan click),
		drained:    make(chan struct{}),
		done:       make(chan struct{}),
	}
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Document() dom.Document {
	return s.doc
}

// Catalog exposes the session's expressions. Read it only once Drained is
// closed or Run has returned.
func (s *Session) Catalog() *catalog.Catalog {
	return s.catalog
}

// State is safe to call from any goroutine.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Drained is closed once every expression has been translated, or right
// away when there was nothing to translate.
func (s *Session) Drained() <-chan struct{} {
	return s.drained
}

// Done is closed when Run returns.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Run dispatches channel events and clicks until ctx is done, the channel
// closes, or the reply sequence breaks. It may be called once.
func (s *Session) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("session already running")
	}
	defer close(s.done)

	if !s.sequencer.Start() {
		s.logger.Info("no math markup found", nil)
		s.markDrained()
		return nil
	}
	s.syncState()
	s.metrics.IncSessionStarted()
	s.logger.Info("session started", map[string]string{"expressions": strconv.Itoa(s.catalog.Len())})

	events, err := s.transport.Open(ctx)
	if err != nil {
		return err
	}
	defer s.transport.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				err := s.sequencer.HandleClosed(nil)
				s.syncState()
				return err
			}
			if done, err := s.dispatch(event); done || err != nil {
				return err
			}
		case req := <-s.clicks:
			req.result <- s.disclosure.Click(req.elementID)
		}
	}
}

func (s *Session) dispatch(event channel.Event) (bool, error) {
	var err error
	switch event.Kind {
	case channel.EventReady:
		err = s.sequencer.HandleReady()
	case channel.EventMessage:
		err = s.sequencer.HandleMessage(event.Payload)
	case channel.EventClosed:
		err = s.sequencer.HandleClosed(event.Err)
		s.syncState()
		return true, err
	}
	s.syncState()
	if s.sequencer.State() == StateDrained {
		s.markDrained()
	}
	return false, err
}

// Click activates the proxy of expression index.
func (s *Session) Click(ctx context.Context, index int) error {
	return s.ClickElement(ctx, ProxyID(index))
}

// ClickElement activates the element with the given id. The show request
// is sent from the session loop.
func (s *Session) ClickElement(ctx context.Context, elementID string) error {
	req := click{elementID: elementID, result: make(chan error, 1)}
	select {
	case s.clicks <- req:
	case <-s.done:
		return ErrSessionEnded
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) syncState() {
	s.state.Store(int32(s.sequencer.State()))
}

func (s *Session) markDrained() {
	s.drainOnce.Do(func() {
		close(s.drained)
	})
}
