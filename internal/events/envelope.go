// Package events defines the change-notification envelope exchanged between
// services and the publisher that emits it after a local commit.
package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// EventType names the kind of change an envelope describes.
type EventType string

const (
	EventCreate EventType = "create"
	EventUpdate EventType = "update"
	EventDelete EventType = "delete"
)

// Valid reports whether t is one of the known event types.
func (t EventType) Valid() bool {
	switch t {
	case EventCreate, EventUpdate, EventDelete:
		return true
	default:
		return false
	}
}

// ErrInvalidEnvelope is returned when an envelope cannot be built or read.
var ErrInvalidEnvelope = errors.New("events: invalid envelope")

// Envelope is the wire form of one change notification.
type Envelope struct {
	EventType EventType      `json:"event_type"`
	Model     string         `json:"model"`
	Payload   map[string]any `json:"payload"`
}

// ChannelName returns the channel carrying events for model.
func ChannelName(model string) string {
	return strings.ToLower(model) + "-events"
}

// Encode serializes the envelope. Payload keys are emitted in sorted order.
func Encode(envelope Envelope) ([]byte, error) {
	if envelope.Model == "" {
		return nil, fmt.Errorf("%w: model is required", ErrInvalidEnvelope)
	}
	if envelope.Payload == nil {
		envelope.Payload = map[string]any{}
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	return data, nil
}

// Decode parses raw into an envelope. Numbers in the payload are kept as
// json.Number. The event type is not checked here.
func Decode(raw []byte) (Envelope, error) {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()

	var envelope Envelope
	if err := decoder.Decode(&envelope); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if envelope.Model == "" {
		return Envelope{}, fmt.Errorf("%w: model is required", ErrInvalidEnvelope)
	}
	if envelope.Payload == nil {
		return Envelope{}, fmt.Errorf("%w: payload must be an object", ErrInvalidEnvelope)
	}
	return envelope, nil
}
