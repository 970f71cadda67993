package server

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Wire events exchanged over the realtime channel. Mutation events travel
// both directions: a client emits them after applying a change locally and
// the server re-broadcasts them to the rest of the room.
const (
	EventHello               = "hello"
	EventWelcome             = "welcome"
	EventAddContent          = "addContent"
	EventDeleteContent       = "deleteContent"
	EventUpdatedContent      = "updatedContent"
	EventUpdatedContentOrder = "updatedContentOrder"
	EventRoomInsight         = "roomInsight"
)

// ErrUnknownEvent indicates an envelope carried an unrecognized event name.
var ErrUnknownEvent = errors.New("server: unknown event")

// Envelope frames every message on the realtime channel.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// WelcomePayload answers a client's hello with its assigned connection id.
type WelcomePayload struct {
	ConnectionID string `json:"connectionId"`
}

func encodeEvent(event string, payload any) ([]byte, error) {
	envelope := Envelope{Event: event}
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", event, err)
		}
		envelope.Payload = encoded
	}
	return json.Marshal(envelope)
}

func decodeEnvelope(raw []byte) (Envelope, error) {
	var envelope Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return Envelope{}, err
	}
	switch envelope.Event {
	case EventHello, EventWelcome, EventAddContent, EventDeleteContent,
		EventUpdatedContent, EventUpdatedContentOrder, EventRoomInsight:
		return envelope, nil
	default:
		return Envelope{}, fmt.Errorf("%w: %q", ErrUnknownEvent, envelope.Event)
	}
}
