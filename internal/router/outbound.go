package router

import (
	"context"
	"encoding/json"

	"github.com/example/order-choreography/internal/apperr"
	"github.com/example/order-choreography/internal/broker"
	"github.com/example/order-choreography/internal/models"
)

const HeaderEventType = "eventType"

// NewEvent encodes payload as an enveloped event on the topic named after
// eventType. The correlation id is taken from ctx when present; key is the
// partition key (always the order id).
func NewEvent(ctx context.Context, source, eventType, key string, payload models.Payload, opts ...models.EncodeOption) (broker.Message, error) {
	if id := models.CorrelationIDFrom(ctx); id != "" {
		opts = append([]models.EncodeOption{models.WithCorrelationID(id)}, opts...)
	}
	env, body, err := models.Encode(eventType, source, payload, opts...)
	if err != nil {
		return broker.Message{}, err
	}
	return broker.Message{
		Destination:   eventType,
		Key:           key,
		ID:            env.EventID,
		CorrelationID: env.CorrelationID,
		Headers:       map[string]string{HeaderEventType: eventType, "source": source},
		Body:          body,
	}, nil
}

// NewQueueMessage builds a bare JSON message for a queue destination.
func NewQueueMessage(ctx context.Context, destination, key, id string, body any) (broker.Message, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return broker.Message{}, apperr.Wrap(apperr.KindInternal, "queue message", err)
	}
	corr := models.CorrelationIDFrom(ctx)
	if corr == "" {
		corr = id
	}
	return broker.Message{
		Destination:   destination,
		Key:           key,
		ID:            id,
		CorrelationID: corr,
		Body:          b,
	}, nil
}
