// Package broker is the transport seam between the choreography and the
// concrete brokers. Routers only see Message, Publisher and Subscriber.
package broker

import (
	"context"
	"hash/fnv"
)

// Message is one unit on a destination (a Kafka topic or an AMQP queue).
// Key pins ordering: messages sharing a key are delivered in publish order.
type Message struct {
	Destination   string
	Key           string
	ID            string
	CorrelationID string
	Headers       map[string]string
	Body          []byte
}

// Handler processes one delivery. A nil error acknowledges the message;
// any error leaves it with the transport for redelivery.
type Handler func(ctx context.Context, msg Message) error

type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

type Subscriber interface {
	// Subscribe consumes destination as a member of group and blocks until
	// ctx is done. In-flight handlers finish before it returns.
	Subscribe(ctx context.Context, destination, group string, h Handler) error
}

// Transport is a full broker binding.
type Transport interface {
	Publisher
	Subscriber
	// DeadLetter names the dead-letter destination for destination.
	DeadLetter(destination string) string
	Close() error
}

// DeadLetterSuffix is appended to log-broker topics to name their DLQ.
const DeadLetterSuffix = ".dlq"

// Partition maps a key onto one of n partitions.
func Partition(key string, n int) int {
	if n <= 1 || key == "" {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}

// Clone copies msg so callers may mutate headers freely.
func (m Message) Clone() Message {
	c := m
	if m.Headers != nil {
		c.Headers = make(map[string]string, len(m.Headers))
		for k, v := range m.Headers {
			c.Headers[k] = v
		}
	}
	c.Body = append([]byte(nil), m.Body...)
	return c
}
