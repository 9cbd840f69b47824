// Package protocol defines the frames exchanged with the translation service.
//
// Requests are JSON objects, one per text frame. Replies to translate
// requests are either the bare translated text or, when the service echoes
// request ids, a {"id","text"} envelope.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Action names the operation a request asks the service to perform.
type Action string

const (
	// ActionTranslate asks for a spoken/text rendering of the content.
	ActionTranslate Action = "translate"
	// ActionShow asks the service to surface the original content. No reply is expected.
	ActionShow Action = "show"
)

// Valid reports whether the action is one of the known tags.
func (a Action) Valid() bool {
	return a == ActionTranslate || a == ActionShow
}

// Request is the outgoing envelope.
type Request struct {
	Action  Action `json:"action"`
	Content string `json:"content"`
	ID      string `json:"id,omitempty"`
}

// Reply is a decoded translate response. ID is empty for bare text replies.
type Reply struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Correlated reports whether the reply carried a request id.
func (r Reply) Correlated() bool {
	return r.ID != ""
}

// EncodeRequest validates and encodes a request as JSON.
func EncodeRequest(req Request) ([]byte, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}
	return marshalFrame(req)
}

// DecodeRequest strictly decodes and validates a request frame.
func DecodeRequest(payload []byte) (Request, error) {
	var req Request
	if err := decodeStrict(payload, &req); err != nil {
		return Request{}, err
	}
	return req, ValidateRequest(req)
}

func ValidateRequest(req Request) error {
	if req.Action == "" {
		return errors.New("request missing action")
	}
	if !req.Action.Valid() {
		return fmt.Errorf("unknown request action %q", req.Action)
	}
	return nil
}

// EncodeReply renders a reply frame. Uncorrelated replies are sent as bare text.
func EncodeReply(reply Reply) ([]byte, error) {
	if !reply.Correlated() {
		return []byte(reply.Text), nil
	}
	return marshalFrame(reply)
}

// DecodeReply interprets an incoming frame. A frame that strictly decodes as
// an envelope with a non-empty id is correlated; any other frame is taken
// verbatim as the translated text.
func DecodeReply(payload []byte) Reply {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var reply Reply
		if err := decodeStrict(trimmed, &reply); err == nil && strings.TrimSpace(reply.ID) != "" {
			return reply
		}
	}
	return Reply{Text: string(payload)}
}

// marshalFrame encodes value without escaping markup characters, so content
// travels exactly as it was serialized from the document.
func marshalFrame(value any) ([]byte, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(value); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func decodeStrict(payload []byte, target any) error {
	decoder := json.NewDecoder(bytes.NewReader(payload))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		return err
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return errors.New("frame has trailing data")
		}
		return err
	}
	return nil
}
