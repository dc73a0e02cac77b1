// Package broker provides the RabbitMQ adapter: one durable task queue,
// persistent JSON envelopes, prefetch=1 consumption with manual acks.
package broker

import (
	"encoding/json"
	"errors"
	"fmt"
)

// TaskType tags an envelope with the kind of work it names.
type TaskType string

const (
	// TaskTypeEncode names an encode task.
	TaskTypeEncode TaskType = "encode"
	// TaskTypeMetrics names a metric task.
	TaskTypeMetrics TaskType = "metrics"
)

// ErrUnknownTaskType marks an envelope whose type tag is not recognised.
// Consumers ack and log these instead of letting them cycle forever.
var ErrUnknownTaskType = errors.New("unknown task type")

// Envelope is the wire message handed to workers. The shape is contractual:
// exactly type, id, and url, nothing else.
type Envelope struct {
	Type TaskType `json:"type"`
	ID   uint     `json:"id"`
	URL  string   `json:"url"`
}

// Validate checks the envelope for a known type and required fields.
func (e Envelope) Validate() error {
	switch e.Type {
	case TaskTypeEncode, TaskTypeMetrics:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownTaskType, string(e.Type))
	}
	if e.ID == 0 {
		return errors.New("envelope id is required")
	}
	if e.URL == "" {
		return errors.New("envelope url is required")
	}
	return nil
}

// Marshal serialises the envelope to its JSON wire form.
func (e Envelope) Marshal() ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(e)
}

// ParseEnvelope deserialises and validates a wire message.
func ParseEnvelope(body []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(body, &e); err != nil {
		return Envelope{}, fmt.Errorf("decoding envelope: %w", err)
	}
	if err := e.Validate(); err != nil {
		return Envelope{}, err
	}
	return e, nil
}
