// Package rabbit binds the broker transport to RabbitMQ via amqp091-go.
package rabbit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/example/order-choreography/internal/broker"
)

// Channel is the subset of *amqp.Channel the transport uses.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Close() error
}

const headerKey = "x-key"

type Config struct {
	URL      string
	Workers  int
	Topology Topology
}

type Transport struct {
	topo    Topology
	workers int
	open    func() (Channel, error)
	closer  func() error

	mu  sync.Mutex
	pub Channel
}

// Dial connects, declares the topology and returns a ready transport.
func Dial(cfg Config) (*Transport, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	t, err := NewTransport(cfg, func() (Channel, error) { return conn.Channel() })
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	t.closer = conn.Close
	return t, nil
}

// NewTransport opens the publish channel through open and declares the
// topology on it.
func NewTransport(cfg Config, open func() (Channel, error)) (*Transport, error) {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Topology.Exchange == "" {
		cfg.Topology = DefaultTopology()
	}
	pub, err := open()
	if err != nil {
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := cfg.Topology.Declare(pub); err != nil {
		_ = pub.Close()
		return nil, err
	}
	return &Transport{topo: cfg.Topology, workers: cfg.Workers, open: open, pub: pub}, nil
}

// Publish sends a persistent message. Dead-letter destinations go through
// the dead-letter exchange.
func (t *Transport) Publish(ctx context.Context, msg broker.Message) error {
	headers := amqp.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}
	if msg.Key != "" {
		headers[headerKey] = msg.Key
	}
	p := amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     msg.ID,
		CorrelationId: msg.CorrelationID,
		Timestamp:     time.Now().UTC(),
		Headers:       headers,
		Body:          msg.Body,
	}
	exchange := t.topo.exchangeFor(msg.Destination)
	t.mu.Lock()
	err := t.pub.PublishWithContext(ctx, exchange, msg.Destination, false, false, p)
	t.mu.Unlock()
	if err != nil {
		return fmt.Errorf("amqp publish %s/%s: %w", exchange, msg.Destination, err)
	}
	return nil
}

// Subscribe runs the configured number of competing workers on one
// channel with matching prefetch. Successful deliveries are acked; failed
// ones are nacked with requeue.
func (t *Transport) Subscribe(ctx context.Context, queue, group string, h broker.Handler) error {
	ch, err := t.open()
	if err != nil {
		return fmt.Errorf("amqp channel: %w", err)
	}
	defer ch.Close()
	if err := ch.Qos(t.workers, 0, false); err != nil {
		return fmt.Errorf("amqp qos: %w", err)
	}
	deliveries, err := ch.Consume(queue, group, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("amqp consume %s: %w", queue, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < t.workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case d, ok := <-deliveries:
					if !ok {
						if ctx.Err() != nil {
							return nil
						}
						return errors.New("amqp delivery channel closed")
					}
					t.deliver(ctx, queue, i, d, h)
				}
			}
		})
	}
	return g.Wait()
}

func (t *Transport) deliver(ctx context.Context, queue string, worker int, d amqp.Delivery, h broker.Handler) {
	if err := h(context.WithoutCancel(ctx), FromDelivery(queue, d)); err != nil {
		log.Warn().Err(err).Str("queue", queue).Int("worker", worker).Str("messageId", d.MessageId).Msg("handler failed, requeueing")
		if nerr := d.Nack(false, true); nerr != nil {
			log.Error().Err(nerr).Str("queue", queue).Msg("nack failed")
		}
		return
	}
	if aerr := d.Ack(false); aerr != nil {
		log.Error().Err(aerr).Str("queue", queue).Msg("ack failed")
	}
}

func (t *Transport) DeadLetter(queue string) string { return DeadLetterQueue(queue) }

func (t *Transport) Close() error {
	t.mu.Lock()
	err := t.pub.Close()
	t.mu.Unlock()
	if t.closer != nil {
		err = errors.Join(err, t.closer())
	}
	return err
}

// FromDelivery converts an AMQP delivery into a broker.Message.
func FromDelivery(queue string, d amqp.Delivery) broker.Message {
	msg := broker.Message{
		Destination:   queue,
		ID:            d.MessageId,
		CorrelationID: d.CorrelationId,
		Body:          d.Body,
	}
	for k, v := range d.Headers {
		s, ok := v.(string)
		if !ok {
			continue
		}
		if k == headerKey {
			msg.Key = s
			continue
		}
		if msg.Headers == nil {
			msg.Headers = map[string]string{}
		}
		msg.Headers[k] = s
	}
	return msg
}
