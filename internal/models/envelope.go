package models

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/order-choreography/internal/apperr"
)

// Envelope wraps every event with routing and tracing metadata.
// EventID is the idempotency key on the consuming side.
// CorrelationID follows the order across every service it touches.
type Envelope struct {
	EventID       string          `json:"eventId"`
	EventType     string          `json:"eventType"`
	Timestamp     time.Time       `json:"timestamp"`
	Source        string          `json:"source"`
	CorrelationID string          `json:"correlationId"`
	Payload       json.RawMessage `json:"payload"`
}

type EncodeOption func(*Envelope)

// WithEventID pins the event id, used for events derived deterministically
// from an aggregate so that republishing yields the same id.
func WithEventID(id string) EncodeOption {
	return func(e *Envelope) { e.EventID = id }
}

func WithCorrelationID(id string) EncodeOption {
	return func(e *Envelope) { e.CorrelationID = id }
}

func WithTimestamp(t time.Time) EncodeOption {
	return func(e *Envelope) { e.Timestamp = t }
}

// Encode builds and serializes an envelope around payload.
func Encode(eventType, source string, payload Payload, opts ...EncodeOption) (Envelope, []byte, error) {
	if _, ok := payloadTypes[eventType]; !ok {
		return Envelope{}, nil, apperr.Validation("encode", "unknown event type %q", eventType)
	}
	if strings.TrimSpace(source) == "" {
		return Envelope{}, nil, apperr.Validation("encode", "source is required")
	}
	if err := payload.Validate(); err != nil {
		return Envelope{}, nil, apperr.Wrap(apperr.KindValidation, "encode", err)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, nil, apperr.Wrap(apperr.KindValidation, "encode", err)
	}
	env := Envelope{EventType: eventType, Source: source, Payload: raw}
	for _, o := range opts {
		o(&env)
	}
	if env.EventID == "" {
		env.EventID = uuid.NewString()
	}
	if env.CorrelationID == "" {
		env.CorrelationID = uuid.NewString()
	}
	if env.Timestamp.IsZero() {
		env.Timestamp = time.Now()
	}
	env.Timestamp = env.Timestamp.UTC()
	b, err := json.Marshal(env)
	if err != nil {
		return Envelope{}, nil, apperr.Wrap(apperr.KindInternal, "encode", err)
	}
	return env, b, nil
}

// Decode parses and validates an envelope. Every failure is KindMalformed.
func Decode(b []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return env, apperr.Malformed("decode", "invalid envelope json: %v", err)
	}
	switch {
	case strings.TrimSpace(env.EventID) == "":
		return env, apperr.Malformed("decode", "eventId is required")
	case strings.TrimSpace(env.EventType) == "":
		return env, apperr.Malformed("decode", "eventType is required")
	case strings.TrimSpace(env.Source) == "":
		return env, apperr.Malformed("decode", "source is required")
	case env.Timestamp.IsZero():
		return env, apperr.Malformed("decode", "timestamp is required")
	case len(env.Payload) == 0 || string(env.Payload) == "null":
		return env, apperr.Malformed("decode", "payload is required")
	}
	newPayload, ok := payloadTypes[env.EventType]
	if !ok {
		return env, apperr.Malformed("decode", "unknown eventType %q", env.EventType)
	}
	if err := env.Into(newPayload()); err != nil {
		return env, err
	}
	if env.CorrelationID == "" {
		env.CorrelationID = env.EventID
	}
	return env, nil
}

// Into unmarshals the payload into v and validates its shape.
func (e Envelope) Into(v Payload) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return apperr.Malformed(e.EventType, "payload: %v", err)
	}
	if err := v.Validate(); err != nil {
		if apperr.KindOf(err) == apperr.KindMalformed {
			return err
		}
		return apperr.Wrap(apperr.KindMalformed, e.EventType, err)
	}
	return nil
}
