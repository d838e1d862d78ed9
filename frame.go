package wsession

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"
)

// Reserved frame types. Everything else is an application event name.
const (
	FrameConnected = "connected"
	FramePing      = "ping"
	FramePong      = "pong"

	// Wildcard subscribes to every dispatched frame regardless of its type.
	Wildcard = "*"
)

var emptyPayload = json.RawMessage("{}")

// Frame is the JSON envelope exchanged with the server: {"type": "...", "payload": {...}}.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type connectedPayload struct {
	ConnectionID string `json:"connectionId"`
}

// NewFrame marshals payload into a frame of the given type. A nil payload is encoded as {}.
func NewFrame(eventType string, payload any) (Frame, error) {
	if eventType == "" {
		return Frame{}, errors.New("frame type cannot be empty")
	}

	var raw json.RawMessage
	switch p := payload.(type) {
	case nil:
		raw = emptyPayload
	case json.RawMessage:
		raw = p
	default:
		bts, err := json.Marshal(payload)
		if err != nil {
			return Frame{}, errors.Wrapf(err, "cannot marshal %q payload", eventType)
		}
		raw = bts
	}

	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		raw = emptyPayload
	}

	return Frame{Type: eventType, Payload: raw}, nil
}

// Encode returns the wire representation of the frame.
func (f Frame) Encode() ([]byte, error) {
	if len(f.Payload) == 0 {
		f.Payload = emptyPayload
	}
	return json.Marshal(f)
}

// DecodeFrame parses a raw data message into a Frame. Frames without a type are rejected.
func DecodeFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, errors.Wrap(ErrDecodeFrame, err.Error())
	}
	if f.Type == "" {
		return Frame{}, errors.Wrap(ErrDecodeFrame, "missing type")
	}
	if len(f.Payload) == 0 {
		f.Payload = emptyPayload
	}
	return f, nil
}

// Decode unmarshals the payload into v.
func (f Frame) Decode(v any) error {
	return json.Unmarshal(f.Payload, v)
}
