package pubsub

import (
	"context"
	"encoding/json"
	"time"
)

// Event is the envelope carried on a relay channel. Payload is an already
// encoded outbound frame and is passed through untouched.
type Event struct {
	Type    string          `json:"type"`
	Room    string          `json:"room"`
	Origin  string          `json:"origin,omitempty"`
	Payload json.RawMessage `json:"payload"`
	SentAt  time.Time       `json:"sent_at"`
}

func NewEvent(eventType, room, origin string, payload []byte) *Event {
	return &Event{
		Type:    eventType,
		Room:    room,
		Origin:  origin,
		Payload: json.RawMessage(payload),
		SentAt:  time.Now().UTC(),
	}
}

// Decode unmarshals the payload into v.
func (e *Event) Decode(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

// PubSub is the transport the relay runs on. SubscribePattern delivers
// every event published to a channel matching pattern until ctx is done or
// Close is called.
type PubSub interface {
	Publish(ctx context.Context, channel string, event *Event) error
	SubscribePattern(ctx context.Context, pattern string) (<-chan *Event, error)
	Close() error
}

func encodeEvent(event *Event) ([]byte, error) {
	return json.Marshal(event)
}

func decodeEvent(data []byte) (*Event, error) {
	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, err
	}
	return &event, nil
}
