// Package bus provides the publish/subscribe channel between the ingress API
// and the workers. Publish is fire-and-forget: it returns once the event is
// handed to the bus, not once subscribers finish. Delivery is at-least-once,
// FIFO per publisher.
package bus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Envelope wraps every published payload on the wire.
type Envelope struct {
	EventID    string          `json:"event_id"`
	Topic      string          `json:"topic"`
	OccurredAt time.Time       `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

// Handler consumes one delivered envelope. A handler that returns an error
// leaves retry policy to the bus; other subscribers are unaffected.
type Handler func(ctx context.Context, env *Envelope) error

// Publisher is the write side of the bus, as seen by the ingress handler.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) error
}

func newEnvelope(topic string, payload any) (*Envelope, []byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, err
	}
	env := &Envelope{
		EventID:    uuid.NewString(),
		Topic:      topic,
		OccurredAt: time.Now().UTC(),
		Data:       data,
	}
	body, err := json.Marshal(env)
	if err != nil {
		return nil, nil, err
	}
	return env, body, nil
}

// DecodeEnvelope parses a wire body produced by any bus implementation.
func DecodeEnvelope(body []byte) (*Envelope, error) {
	env := &Envelope{}
	if err := json.Unmarshal(body, env); err != nil {
		return nil, err
	}
	return env, nil
}
