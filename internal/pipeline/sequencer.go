package pipeline

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"mathbridge/internal/catalog"
	"mathbridge/internal/dom"
	"mathbridge/internal/logging"
	"mathbridge/internal/metrics"
	"mathbridge/internal/protocol"
)

var (
	ErrOutOfOrderReply    = errors.New("reply does not match the pending request")
	ErrStalled            = errors.New("channel closed while a translation was outstanding")
	ErrChannelUnavailable = errors.New("translation service unavailable")
	ErrUnexpectedEvent    = errors.New("unexpected channel event")
)

type State int

const (
	StateIdle State = iota
	StateConnecting
	StateAwaiting
	StateDrained
	StateStalled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateAwaiting:
		return "awaiting"
	case StateDrained:
		return "drained"
	case StateStalled:
		return "stalled"
	case StateFailed:
		return "failed"
	default:
		return "state(" + strconv.Itoa(int(s)) + ")"
	}
}

// Sender writes one request to the bridge channel.
type Sender interface {
	Send(req protocol.Request) error
}

// Replacer applies a translation to the document.
type Replacer interface {
	Replace(index int, text string) error
}

// Sequencer issues translate requests strictly in catalog order and never
// has more than one outstanding.
type Sequencer struct {
	doc      dom.Document
	catalog  *catalog.Catalog
	sender   Sender
	replacer Replacer
	newID    func() string
	now      func() time.Time
	logger   *logging.Logger
	metrics  *metrics.Registry

	state     State
	current   int
	pendingID string
	sentAt    time.Time
}

func NewSequencer(doc dom.Document, cat *catalog.Catalog, sender Sender, replacer Replacer, newID func() string, logger *logging.Logger, registry *metrics.Registry) *Sequencer {
	return &Sequencer{
		doc:      doc,
		catalog:  cat,
		sender:   sender,
		replacer: replacer,
		newID:    newID,
		now:      time.Now,
		logger:   logger,
		metrics:  registry,
		current:  -1,
	}
}

func (s *Sequencer) State() State {
	return s.state
}

// Current is the index of the outstanding or last processed request, -1
// before the first request.
func (s *Sequencer) Current() int {
	return s.current
}

// Start moves Idle to Connecting. It reports false, and stays Idle, when
// the catalog is empty: no channel may be opened then.
func (s *Sequencer) Start() bool {
	if s.state != StateIdle || s.catalog.Empty() {
		return false
	}
	s.state = StateConnecting
	return true
}

func (s *Sequencer) HandleReady() error {
	if s.state != StateConnecting {
		return fmt.Errorf("%w: ready in state %s", ErrUnexpectedEvent, s.state)
	}
	return s.request(0)
}

// HandleMessage attributes payload to the outstanding request. Frames that
// arrive once the catalog is drained are not consumed.
func (s *Sequencer) HandleMessage(payload []byte) error {
	switch s.state {
	case StateAwaiting:
	case StateDrained:
		s.logger.Debug("ignoring frame after drain", map[string]string{"bytes": strconv.Itoa(len(payload))})
		return nil
	default:
		return fmt.Errorf("%w: message in state %s", ErrUnexpectedEvent, s.state)
	}

	reply := protocol.DecodeReply(payload)
	if reply.Correlated() && reply.ID != s.pendingID {
		s.state = StateFailed
		s.metrics.IncReplyMismatch()
		s.metrics.RecordAction(string(protocol.ActionTranslate), s.now().Sub(s.sentAt), ErrOutOfOrderReply)
		return fmt.Errorf("%w: expression %d expects id %s, got %s", ErrOutOfOrderReply, s.current, s.pendingID, reply.ID)
	}

	index := s.current
	if err := s.replacer.Replace(index, reply.Text); err != nil {
		s.state = StateFailed
		return fmt.Errorf("replace expression %d: %w", index, err)
	}
	s.metrics.RecordAction(string(protocol.ActionTranslate), s.now().Sub(s.sentAt), nil)
	s.pendingID = ""
	s.logger.Debug("expression translated", map[string]string{"index": strconv.Itoa(index)})

	if next := index + 1; next < s.catalog.Len() {
		return s.request(next)
	}
	s.state = StateDrained
	s.metrics.IncSessionDrained()
	s.logger.Info("catalog drained", map[string]string{"expressions": strconv.Itoa(s.catalog.Len())})
	return nil
}

// HandleClosed ends the walk. Nothing is retried or skipped.
func (s *Sequencer) HandleClosed(cause error) error {
	switch s.state {
	case StateAwaiting:
		s.state = StateStalled
		s.metrics.IncSessionStalled()
		s.metrics.RecordAction(string(protocol.ActionTranslate), s.now().Sub(s.sentAt), ErrStalled)
		s.logger.Warn("channel closed with translation outstanding", map[string]string{"index": strconv.Itoa(s.current)})
		if cause != nil {
			return fmt.Errorf("%w: expression %d: %w", ErrStalled, s.current, cause)
		}
		return fmt.Errorf("%w: expression %d", ErrStalled, s.current)
	case StateConnecting:
		s.state = StateStalled
		if cause != nil {
			return fmt.Errorf("%w: %w", ErrChannelUnavailable, cause)
		}
		return ErrChannelUnavailable
	default:
		return nil
	}
}

// request serializes expression index as it is now, records it and sends it.
func (s *Sequencer) request(index int) error {
	anchor, err := s.catalog.Anchor(index)
	if err != nil {
		s.state = StateFailed
		return err
	}
	markup, err := s.doc.Serialize(anchor)
	if err != nil {
		s.state = StateFailed
		return fmt.Errorf("serialize expression %d: %w", index, err)
	}
	if err := s.catalog.RecordOriginal(index, markup); err != nil {
		s.state = StateFailed
		return err
	}

	id := s.newID()
	s.state = StateAwaiting
	s.current = index
	s.pendingID = id
	s.sentAt = s.now()
	if err := s.sender.Send(protocol.Request{Action: protocol.ActionTranslate, Content: markup, ID: id}); err != nil {
		s.state = StateStalled
		s.metrics.RecordAction(string(protocol.ActionTranslate), 0, err)
		return fmt.Errorf("send expression %d: %w", index, err)
	}
	s.logger.Debug("translate sent", map[string]string{
		"index": strconv.Itoa(index),
		"id":    id,
	})
	return nil
}
